package sbd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModem is a scriptable Modem implementation.
type fakeModem struct {
	busy      bool
	hasResult bool
	result    SessionResult
	rssi      int
	cooling   bool
	ring      bool
	queuedMT  int
	nextMSN   uint32

	alertChecks   int
	mailboxChecks int
	sent          [][]byte
	moCleared     int
	mtBuffer      []byte
	mtErr         error
	rateMax       int
}

func (f *fakeModem) IsBusy() bool           { return f.busy }
func (f *fakeModem) HasSessionResult() bool { return f.hasResult }
func (f *fakeModem) SessionResult() SessionResult {
	f.hasResult = false
	return f.result
}
func (f *fakeModem) RSSI() int          { return f.rssi }
func (f *fakeModem) IsCooling() bool    { return f.cooling }
func (f *fakeModem) HasRingAlert() bool { return f.ring }
func (f *fakeModem) QueuedMT() int      { return f.queuedMT }
func (f *fakeModem) CheckMailboxAlert() { f.alertChecks++; f.ring = false }
func (f *fakeModem) CheckMailbox()      { f.mailboxChecks++ }
func (f *fakeModem) NextMOMSN() uint32 {
	msn := f.nextMSN
	f.nextMSN++
	return msn
}
func (f *fakeModem) SendSBD(payload []byte) { f.sent = append(f.sent, payload) }
func (f *fakeModem) ReadMTBuffer(max int) ([]byte, error) {
	if f.mtErr != nil {
		return nil, f.mtErr
	}
	return f.mtBuffer, nil
}
func (f *fakeModem) ClearMOBuffer()           { f.moCleared++ }
func (f *fakeModem) SetTxRateMax(seconds int) { f.rateMax = seconds }

// statusRecorder captures lifecycle reports; safe for concurrent use so the
// Run loop tests can poll it.
type statusRecorder struct {
	mu      sync.Mutex
	reports []TxStatus
}

func (r *statusRecorder) ReportTxStatus(s TxStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, s)
}

func (r *statusRecorder) all() []TxStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TxStatus(nil), r.reports...)
}

func (r *statusRecorder) withStatus(code StatusCode) []TxStatus {
	var out []TxStatus
	for _, s := range r.all() {
		if s.Status == code {
			out = append(out, s)
		}
	}
	return out
}

type messageRecorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *messageRecorder) DeliverMessage(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *messageRecorder) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

func newTestManager(modem *fakeModem) (*QueueManager, *statusRecorder, *messageRecorder) {
	status := &statusRecorder{}
	inbox := &messageRecorder{}
	m := NewQueueManager(modem, status, inbox, 7, time.Hour)
	m.resetMailboxTimer()
	return m, status, inbox
}

func TestRingAlertTriggersMailboxAlertCheck(t *testing.T) {
	modem := &fakeModem{rssi: 3, ring: true, queuedMT: 5}
	m, _, _ := newTestManager(modem)

	m.processCycle()

	assert.Equal(t, 1, modem.alertChecks)
	assert.Equal(t, 0, modem.mailboxChecks)
	assert.Empty(t, modem.sent)
}

func TestQueuedMTTriggersMailboxCheck(t *testing.T) {
	modem := &fakeModem{rssi: 3, queuedMT: 2}
	m, _, _ := newTestManager(modem)

	m.processCycle()

	assert.Equal(t, 0, modem.alertChecks)
	assert.Equal(t, 1, modem.mailboxChecks)
}

func TestMailboxTimerOverflowTriggersCheck(t *testing.T) {
	modem := &fakeModem{rssi: 3}
	m, _, _ := newTestManager(modem)
	m.mboxDeadline = time.Now().Add(-time.Second)

	m.processCycle()

	assert.Equal(t, 1, modem.mailboxChecks)
}

func TestIdleCycleDoesNothing(t *testing.T) {
	modem := &fakeModem{rssi: 3}
	m, status, _ := newTestManager(modem)

	m.processCycle()

	assert.Equal(t, 0, modem.alertChecks)
	assert.Equal(t, 0, modem.mailboxChecks)
	assert.Empty(t, modem.sent)
	assert.Empty(t, status.all())
}

func TestSendAssignsSequenceNumber(t *testing.T) {
	modem := &fakeModem{rssi: 3, nextMSN: 42}
	m, status, _ := newTestManager(modem)

	req := &TxRequest{ID: 5, TTL: 30, Source: 31, SourceEntity: 2, Payload: []byte{0xDE, 0xAD}}
	m.accept(req)
	m.processCycle()

	require.Len(t, modem.sent, 1)
	assert.Equal(t, []byte{0xDE, 0xAD}, modem.sent[0])
	require.Same(t, req, m.active)
	assert.True(t, req.HasValidMSN())
	assert.Equal(t, uint32(42), req.MSN())
	assert.Equal(t, 0, m.queue.Len())

	reports := status.all()
	require.Len(t, reports, 1)
	assert.Equal(t, StatusQueued, reports[0].Status)
	assert.Equal(t, uint16(5), reports[0].RequestID)
	assert.Equal(t, uint16(31), reports[0].Destination)
	assert.Equal(t, uint8(2), reports[0].DestinationEntity)
}

func TestBusyModemBlocksWholeCycle(t *testing.T) {
	modem := &fakeModem{busy: true, rssi: 3, hasResult: true}
	m, _, _ := newTestManager(modem)
	m.accept(&TxRequest{ID: 1, TTL: 1, Payload: []byte{1}})

	m.processCycle()

	assert.Empty(t, modem.sent)
	assert.True(t, modem.hasResult, "result must not be consumed while busy")
}

func TestZeroRSSIStillResolvesResult(t *testing.T) {
	modem := &fakeModem{rssi: 3, nextMSN: 10}
	m, status, _ := newTestManager(modem)
	m.accept(&TxRequest{ID: 1, TTL: 1, Source: 3, Payload: []byte{1}})
	m.processCycle()
	require.Len(t, modem.sent, 1)

	// Service drops, but the completed session must still be reconciled.
	modem.rssi = 0
	modem.hasResult = true
	modem.result = SessionResult{MOSuccess: false, MOMSN: 10, MOStatus: 13}
	m.processCycle()

	require.Len(t, status.withStatus(StatusError), 1)
	assert.Nil(t, m.active)
	assert.Equal(t, 1, m.queue.Len())
	assert.Len(t, modem.sent, 1, "no new send without service")
}

func TestCoolingSuppressesSendOnly(t *testing.T) {
	modem := &fakeModem{rssi: 3, cooling: true}
	m, _, _ := newTestManager(modem)
	m.accept(&TxRequest{ID: 1, TTL: 1, Payload: []byte{1}})

	m.processCycle()

	assert.Empty(t, modem.sent)
}

func TestAtMostOneActiveSend(t *testing.T) {
	modem := &fakeModem{rssi: 3}
	m, _, _ := newTestManager(modem)
	m.accept(&TxRequest{ID: 1, TTL: 1, Payload: []byte{1}})
	m.accept(&TxRequest{ID: 2, TTL: 2, Payload: []byte{2}})

	m.processCycle()
	// Session ended without a result yet being available; a second send
	// must wait for the first to resolve.
	m.processCycle()

	assert.Len(t, modem.sent, 1)
	assert.Equal(t, 1, m.queue.Len())
}

func TestMOSuccessConfirmsActive(t *testing.T) {
	modem := &fakeModem{rssi: 3, nextMSN: 7}
	m, status, _ := newTestManager(modem)
	m.accept(&TxRequest{ID: 4, TTL: 5, Source: 9, Payload: []byte{1}})
	m.processCycle()

	m.mboxDeadline = time.Now().Add(-time.Minute)
	modem.hasResult = true
	modem.result = SessionResult{MOSuccess: true, MOMSN: 7}
	m.processCycle()

	oks := status.withStatus(StatusOK)
	require.Len(t, oks, 1)
	assert.Equal(t, uint16(4), oks[0].RequestID)
	assert.Nil(t, m.active)
	assert.Equal(t, 1, modem.moCleared)
	assert.False(t, m.mailboxTimerOverflow(), "success resets the mailbox timer")
}

func TestMOFailureRequeuesWithErrorCode(t *testing.T) {
	modem := &fakeModem{rssi: 3, nextMSN: 42}
	m, status, _ := newTestManager(modem)
	req := &TxRequest{ID: 8, TTL: 20, Source: 3, Payload: []byte{1}}
	m.accept(req)
	m.processCycle()

	modem.hasResult = true
	modem.result = SessionResult{MOSuccess: false, MOMSN: 42, MOStatus: 7}
	modem.rssi = 0 // keep the requeued request from being resent this cycle
	m.processCycle()

	errs := status.withStatus(StatusError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Text, "failed with error 7")
	assert.Nil(t, m.active)
	require.Equal(t, 1, m.queue.Len())
	requeued := m.queue.Pop()
	assert.Same(t, req, requeued)
	assert.False(t, requeued.HasValidMSN())
	assert.Equal(t, uint16(20), requeued.TTL, "TTL is not reset on retry")
}

func TestFailedRequestCanBeOvertaken(t *testing.T) {
	modem := &fakeModem{rssi: 3}
	m, _, _ := newTestManager(modem)
	slow := &TxRequest{ID: 1, TTL: 50, Payload: []byte{0x01}}
	m.accept(slow)
	m.processCycle()

	modem.hasResult = true
	modem.result = SessionResult{MOSuccess: false, MOMSN: slow.MSN(), MOStatus: 2}
	modem.cooling = true // resolve only, no send
	m.processCycle()

	// A fresh, more urgent arrival outranks the requeued one.
	m.accept(&TxRequest{ID: 2, TTL: 1, Payload: []byte{0x02}})
	modem.cooling = false
	m.processCycle()

	require.Len(t, modem.sent, 2)
	assert.Equal(t, []byte{0x02}, modem.sent[1])
}

func TestStaleResultIgnored(t *testing.T) {
	modem := &fakeModem{rssi: 3, nextMSN: 42, cooling: true}
	m, status, _ := newTestManager(modem)
	req := &TxRequest{ID: 3, TTL: 10, Payload: []byte{1}}
	m.queue.Push(req)
	modem.cooling = false
	m.processCycle()

	modem.hasResult = true
	modem.result = SessionResult{MOSuccess: true, MOMSN: 41}
	m.processCycle()

	assert.Same(t, req, m.active)
	assert.True(t, req.HasValidMSN())
	assert.Empty(t, status.all())
	assert.Equal(t, 0, modem.moCleared)
}

func TestResultWithoutActiveIgnored(t *testing.T) {
	modem := &fakeModem{rssi: 3, hasResult: true,
		result: SessionResult{MOSuccess: false, MOMSN: 5, MOStatus: 18}}
	m, status, _ := newTestManager(modem)

	m.processCycle()

	assert.Empty(t, status.all())
	assert.Nil(t, m.active)
}

func TestInboundMessageDelivered(t *testing.T) {
	modem := &fakeModem{rssi: 3, hasResult: true,
		result:   SessionResult{MOSuccess: false, MOMSN: 0, MOStatus: 13, MTStatus: 1},
		mtBuffer: []byte{0x00, 0x01, 0xAA, 0xBB, 0xCC}}
	m, _, inbox := newTestManager(modem)

	m.processCycle()

	msgs := inbox.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint16(1), msgs[0].Source)
	assert.Equal(t, uint16(7), msgs[0].Destination)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, msgs[0].Payload)
	assert.True(t, msgs[0].KeepSourceEntity)
}

func TestShortInboundDropped(t *testing.T) {
	modem := &fakeModem{rssi: 3, hasResult: true,
		result:   SessionResult{MTStatus: 1},
		mtBuffer: []byte{0x00, 0x01}}
	m, _, inbox := newTestManager(modem)

	m.processCycle()

	assert.Empty(t, inbox.all())
}

func TestInboundAfterMOSuccess(t *testing.T) {
	modem := &fakeModem{rssi: 3, nextMSN: 3}
	m, status, inbox := newTestManager(modem)
	m.accept(&TxRequest{ID: 1, TTL: 1, Payload: []byte{1}})
	m.processCycle()

	modem.hasResult = true
	modem.result = SessionResult{MOSuccess: true, MOMSN: 3, MTStatus: 1}
	modem.mtBuffer = []byte{0x00, 0x10, 0x7F}
	m.processCycle()

	assert.Len(t, status.withStatus(StatusOK), 1)
	require.Len(t, inbox.all(), 1)
	assert.Equal(t, uint16(16), inbox.all()[0].Source)
}

func TestShutdownDrainsEverything(t *testing.T) {
	modem := &fakeModem{rssi: 3}
	m, status, _ := newTestManager(modem)
	m.accept(&TxRequest{ID: 1, TTL: 1, Payload: []byte{1}})
	m.processCycle() // ID 1 becomes active
	m.accept(&TxRequest{ID: 2, TTL: 2, Payload: []byte{2}})
	m.accept(&TxRequest{ID: 3, TTL: 3, Payload: []byte{3}})

	m.shutdown()

	errs := status.withStatus(StatusError)
	require.Len(t, errs, 3)
	for _, s := range errs {
		assert.Equal(t, "task is shutting down", s.Text)
	}
	assert.Nil(t, m.active)
	assert.Equal(t, 0, m.queue.Len())
}

func TestRunLoopSubmitAndShutdown(t *testing.T) {
	modem := &fakeModem{rssi: 3}
	m, status, _ := newTestManager(modem)
	m.tick = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	m.Submit(&TxRequest{ID: 11, TTL: 9, Payload: []byte{0x42}})

	require.Eventually(t, func() bool {
		return len(status.withStatus(StatusQueued)) == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return m.Snapshot().Active != nil
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}

	errs := status.withStatus(StatusError)
	require.Len(t, errs, 1)
	assert.Equal(t, "task is shutting down", errs[0].Text)
	assert.Equal(t, 0, m.Snapshot().Depth)
	assert.Nil(t, m.Snapshot().Active)
}
