package sbd

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// mtBufferSize is the largest MT message a 9602/9603-class modem delivers.
const mtBufferSize = 340

// QueueManager owns the transmission queue and the single in-flight
// request, and drives the modem one decision cycle at a time. All queue and
// active-slot state is touched only from the Run goroutine; Submit hands
// requests over through a channel.
type QueueManager struct {
	modem  Modem
	status StatusSink
	inbox  MessageSink

	// localAddr is this system's address, stamped on inbound messages.
	localAddr uint16

	queue  TxQueue
	active *TxRequest

	mboxCheckPeriod time.Duration
	mboxDeadline    time.Time

	submitCh chan *TxRequest
	tick     time.Duration

	snapMu sync.Mutex
	snap   QueueSnapshot
}

// QueueEntry summarizes one request for status surfaces.
type QueueEntry struct {
	RequestID   uint16 `json:"req_id"`
	TTL         uint16 `json:"ttl"`
	Destination uint16 `json:"destination"`
	Size        int    `json:"size"`
}

// QueueSnapshot is a point-in-time view of the queue and active slot, safe
// to read from any goroutine.
type QueueSnapshot struct {
	Depth   int          `json:"depth"`
	Entries []QueueEntry `json:"entries"`
	Active  *QueueEntry  `json:"active,omitempty"`
	// ActiveMSN is the sequence number of the in-flight request; only
	// meaningful when Active is set and ActiveMSNValid is true.
	ActiveMSN      uint32 `json:"active_msn,omitempty"`
	ActiveMSNValid bool   `json:"active_msn_valid,omitempty"`
}

// NewQueueManager wires a manager to its modem and report sinks.
// mboxCheckPeriod is how long the gateway idles without MT activity before
// forcing a mailbox check.
func NewQueueManager(modem Modem, status StatusSink, inbox MessageSink, localAddr uint16, mboxCheckPeriod time.Duration) *QueueManager {
	return &QueueManager{
		modem:           modem,
		status:          status,
		inbox:           inbox,
		localAddr:       localAddr,
		mboxCheckPeriod: mboxCheckPeriod,
		submitCh:        make(chan *TxRequest, 16),
		tick:            time.Second,
	}
}

// Submit hands a new transmission request to the manager. Safe to call from
// any goroutine; blocks only if the manager is not running.
func (m *QueueManager) Submit(req *TxRequest) {
	m.submitCh <- req
}

// Snapshot returns the latest published queue view.
func (m *QueueManager) Snapshot() QueueSnapshot {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snap
}

// Run executes the decision loop until ctx is canceled: wait up to one tick
// for a submission, then run a cycle regardless, so driver and timer state
// are polled with bounded latency even with no traffic. On cancellation the
// active request and every queued request are reported as errors and
// dropped, leaving nothing pending.
func (m *QueueManager) Run(ctx context.Context) {
	m.resetMailboxTimer()
	wait := time.NewTimer(m.tick)
	defer wait.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case req := <-m.submitCh:
			m.accept(req)
			if !wait.Stop() {
				select {
				case <-wait.C:
				default:
				}
			}
		case <-wait.C:
		}
		wait.Reset(m.tick)
		m.processCycle()
		m.publishSnapshot()
	}
}

// accept queues a request and reports it as such.
func (m *QueueManager) accept(req *TxRequest) {
	log.Printf("sbd: queueing message %d (ttl %d)", req.ID, req.TTL)
	m.queue.Push(req)
	m.report(req, StatusQueued, "")
}

// processCycle is the per-tick decision sequence. Order is load-bearing: a
// finished session is reconciled before anything else, the service and
// cooldown gates stop only new activity, and mailbox polling runs only when
// there is nothing to send.
func (m *QueueManager) processCycle() {
	if m.modem.IsBusy() {
		return
	}

	if m.modem.HasSessionResult() {
		m.handleSessionResult(m.modem.SessionResult())
	}

	if m.modem.RSSI() == 0 {
		return
	}

	if m.modem.IsCooling() {
		return
	}

	if m.queue.Len() == 0 {
		if m.modem.HasRingAlert() {
			m.modem.CheckMailboxAlert()
		} else if m.modem.QueuedMT() > 0 || m.mailboxTimerOverflow() {
			m.modem.CheckMailbox()
		}
		return
	}

	if m.active != nil {
		// A send is still awaiting its session result.
		return
	}

	req := m.queue.Pop()
	req.SetMSN(m.modem.NextMOMSN())
	m.active = req
	m.modem.SendSBD(req.Payload)
}

// handleSessionResult reconciles a completed session against the active
// request, then picks up any MT message the session carried.
func (m *QueueManager) handleSessionResult(res SessionResult) {
	if res.MOSuccess {
		// A delivered session proves the link; push the next forced
		// mailbox check out.
		m.resetMailboxTimer()
		m.confirm(res.MOMSN)
	} else {
		m.invalidate(res.MOMSN, res.MOStatus)
	}

	if res.MTStatus == 1 {
		m.handleInbound()
	}
}

// confirm resolves the active request as delivered. No-op unless msn
// matches the active request's live sequence number, so duplicate or stale
// results cannot resolve a request twice.
func (m *QueueManager) confirm(msn uint32) {
	if m.active == nil {
		return
	}
	if !m.active.HasValidMSN() || m.active.MSN() != msn {
		return
	}

	log.Printf("sbd: dequeueing message %d (msn %d)", m.active.ID, msn)
	m.modem.ClearMOBuffer()
	m.report(m.active, StatusOK, "")
	m.active = nil
}

// invalidate resolves the active request as failed: its sequence number is
// voided, the origin is told the modem status code, and the request goes
// back into the queue under its original TTL. Same guard as confirm.
func (m *QueueManager) invalidate(msn uint32, errCode int) {
	if m.active == nil {
		return
	}
	if !m.active.HasValidMSN() || m.active.MSN() != msn {
		return
	}

	log.Printf("sbd: invalidating msn %d", msn)
	m.active.InvalidateMSN()
	m.report(m.active, StatusError, fmt.Sprintf("failed with error %d", errCode))
	m.queue.Push(m.active)
	m.active = nil
}

// handleInbound drains the MT buffer and delivers the decoded message. The
// first two bytes, big-endian, are the source address; anything not longer
// than that is malformed and dropped.
func (m *QueueManager) handleInbound() {
	data, err := m.modem.ReadMTBuffer(mtBufferSize)
	if err != nil {
		log.Printf("sbd: MT buffer read failed: %v", err)
		return
	}
	if len(data) <= 2 {
		log.Printf("sbd: invalid SBD message of size %d", len(data))
		return
	}

	m.inbox.DeliverMessage(Message{
		Source:           uint16(data[0])<<8 | uint16(data[1]),
		Destination:      m.localAddr,
		Payload:          data[2:],
		KeepSourceEntity: true,
	})
}

// shutdown reports every remaining request as failed and empties all state.
func (m *QueueManager) shutdown() {
	if m.active != nil {
		m.report(m.active, StatusError, "task is shutting down")
		m.active = nil
	}
	for _, req := range m.queue.Drain() {
		m.report(req, StatusError, "task is shutting down")
	}
	m.publishSnapshot()
}

func (m *QueueManager) report(req *TxRequest, code StatusCode, text string) {
	m.status.ReportTxStatus(TxStatus{
		Destination:       req.Source,
		DestinationEntity: req.SourceEntity,
		RequestID:         req.ID,
		Status:            code,
		Text:              text,
	})
}

func (m *QueueManager) resetMailboxTimer() {
	m.mboxDeadline = time.Now().Add(m.mboxCheckPeriod)
}

func (m *QueueManager) mailboxTimerOverflow() bool {
	return time.Now().After(m.mboxDeadline)
}

// publishSnapshot refreshes the cross-goroutine queue view.
func (m *QueueManager) publishSnapshot() {
	snap := QueueSnapshot{Depth: m.queue.Len()}
	for _, req := range m.queue.items {
		snap.Entries = append(snap.Entries, queueEntry(req))
	}
	if m.active != nil {
		entry := queueEntry(m.active)
		snap.Active = &entry
		snap.ActiveMSN = m.active.MSN()
		snap.ActiveMSNValid = m.active.HasValidMSN()
	}

	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()
}

func queueEntry(req *TxRequest) QueueEntry {
	return QueueEntry{
		RequestID:   req.ID,
		TTL:         req.TTL,
		Destination: req.Destination,
		Size:        len(req.Payload),
	}
}
