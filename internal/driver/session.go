package driver

import (
	"fmt"
	"log"
	"strings"
	"time"

	"sbd-gateway/internal/sbd"
)

type jobKind int

const (
	jobSendMO jobKind = iota
	jobMailbox
	jobMailboxAlert
)

type sessionJob struct {
	kind    jobKind
	payload []byte
	// msn is the sequence number handed out for this send via NextMOMSN.
	// The session result reports it back so the queue manager's match
	// cannot be broken by a drifted modem-side counter.
	msn uint32
}

// startSession marks the driver busy and hands the job to the worker. A
// second session while one is running is silently refused; the queue
// manager never asks for one.
func (d *Driver) startSession(job sessionJob) {
	d.stateMu.Lock()
	if d.busy || !d.connected {
		d.stateMu.Unlock()
		return
	}
	d.busy = true
	d.stateMu.Unlock()

	select {
	case d.sessionCh <- job:
	case <-d.done:
	}
}

// sessionWorker executes SBD sessions one at a time and latches their
// outcome for consume-once pickup by the queue manager.
func (d *Driver) sessionWorker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case job := <-d.sessionCh:
			res, err := d.runSession(job)
			d.finishSession(job, res, err)
		}
	}
}

// runSession performs the serial exchange for one session.
func (d *Driver) runSession(job sessionJob) (sbdixResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch job.kind {
	case jobSendMO:
		if err := d.writeMOLocked(job.payload); err != nil {
			return sbdixResult{}, err
		}
		return d.sbdixLocked("AT+SBDIX")
	case jobMailboxAlert:
		// Clear the MO buffer so the session carries nothing outbound.
		if resp, err := d.sendATLocked("AT+SBDD0", atTimeout); err != nil || strings.Contains(resp, "ERROR") {
			return sbdixResult{}, fmt.Errorf("failed to clear MO buffer")
		}
		return d.sbdixLocked("AT+SBDIXA")
	default:
		if resp, err := d.sendATLocked("AT+SBDD0", atTimeout); err != nil || strings.Contains(resp, "ERROR") {
			return sbdixResult{}, fmt.Errorf("failed to clear MO buffer")
		}
		return d.sbdixLocked("AT+SBDIX")
	}
}

// finishSession publishes the session outcome and starts the cooldown.
func (d *Driver) finishSession(job sessionJob, res sbdixResult, err error) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	d.busy = false
	if job.kind == jobSendMO && d.txRateMax > 0 {
		d.coolUntil = time.Now().Add(time.Duration(d.txRateMax) * time.Second)
	}

	if err != nil {
		log.Printf("iridium: session failed: %v", err)
		if job.kind == jobSendMO {
			// Surface as an MO failure so the queue manager retries.
			d.result = sbd.SessionResult{
				MOSuccess: false,
				MOMSN:     job.msn,
				MOStatus:  moStatusLocalFailure,
			}
			d.hasResult = true
		}
		return
	}

	d.queuedMT = res.MTQueued
	// The modem consumed this session's MOMSN; the next allocation
	// follows it.
	d.momsn = uint32(res.MOMSN) + 1

	sr := sbd.SessionResult{
		MOSuccess: res.MOSuccess(),
		MOMSN:     uint32(res.MOMSN),
		MOStatus:  res.MOStatus,
		MTStatus:  res.MTStatus,
	}
	if job.kind == jobSendMO {
		sr.MOMSN = job.msn
	}
	d.result = sr
	d.hasResult = true
}

// writeMOLocked loads payload into the MO buffer via AT+SBDWB. Caller must
// hold d.mu.
func (d *Driver) writeMOLocked(payload []byte) error {
	if resp, err := d.sendATLocked("AT+SBDD0", atTimeout); err != nil || strings.Contains(resp, "ERROR") {
		return fmt.Errorf("failed to clear MO buffer")
	}

	resp, err := d.sendATLocked(fmt.Sprintf("AT+SBDWB=%d", len(payload)), atTimeout)
	if err != nil {
		return fmt.Errorf("AT+SBDWB failed: %w", err)
	}
	if !strings.Contains(resp, "READY") {
		return fmt.Errorf("modem did not respond READY for binary write")
	}

	checksum := sbdChecksum(payload)
	frame := append(append([]byte{}, payload...), byte(checksum>>8), byte(checksum))
	if _, err := d.port.Write(frame); err != nil {
		return fmt.Errorf("binary write failed: %w", err)
	}

	// Write result: 0 = success, 1 = timeout, 2 = bad checksum, 3 = wrong size.
	resp, err = d.readResponseLocked(5 * time.Second)
	if err != nil {
		return fmt.Errorf("binary write response failed: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(resp), "\n") {
		switch strings.TrimSpace(line) {
		case "0":
			return nil
		case "1":
			return fmt.Errorf("binary write timeout on modem")
		case "2":
			return fmt.Errorf("binary write checksum mismatch")
		case "3":
			return fmt.Errorf("binary write wrong size")
		}
	}
	return nil
}

// sbdixLocked runs one SBDIX(A) exchange. Caller must hold d.mu.
func (d *Driver) sbdixLocked(command string) (sbdixResult, error) {
	resp, err := d.sendATLocked(command, sbdixTimeout)
	if err != nil {
		return sbdixResult{}, fmt.Errorf("%s failed: %w", command, err)
	}
	return parseSBDIX(resp)
}

// monitor polls signal strength and SBD status between sessions, feeding
// the RSSI, ring alert and waiting-MT readings the queue manager gates on.
func (d *Driver) monitor() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.monitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
		}

		if d.IsBusy() {
			continue
		}

		d.mu.Lock()
		csq, csqErr := d.sendATLocked("AT+CSQ", 10*time.Second)
		sx, sxErr := d.sendATLocked("AT+SBDSX", atTimeout)
		d.mu.Unlock()

		d.stateMu.Lock()
		if csqErr == nil {
			d.rssi = parseCSQ(csq)
		} else {
			d.rssi = 0
		}
		if sxErr == nil {
			if st, err := parseSBDSX(sx); err == nil {
				if st.RAFlag {
					d.ring = true
				}
				d.queuedMT = st.MTWaiting
			}
		}
		d.stateMu.Unlock()
	}
}
