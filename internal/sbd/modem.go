package sbd

// SessionResult is the outcome of one completed SBD session as reported by
// the modem.
type SessionResult struct {
	// MOSuccess is true when the mobile-originated half of the session
	// delivered the MO buffer to the gateway station.
	MOSuccess bool
	// MOMSN is the sequence number of the MO message the session carried.
	MOMSN uint32
	// MOStatus is the raw MO status code from the modem.
	MOStatus int
	// MTStatus is the mobile-terminated status: 1 means a message was
	// received into the MT buffer during the session.
	MTStatus int
}

// Modem is the capability the queue manager needs from the modem driver.
// The driver runs its own I/O goroutines; every method here must return
// without blocking on modem traffic, except ReadMTBuffer and ClearMOBuffer
// which are short local serial exchanges.
type Modem interface {
	// IsBusy reports whether a session is currently executing.
	IsBusy() bool
	// HasSessionResult reports whether a completed session's outcome is
	// waiting to be consumed.
	HasSessionResult() bool
	// SessionResult returns the pending outcome and clears it. Valid only
	// after HasSessionResult returned true.
	SessionResult() SessionResult
	// RSSI is the last observed signal strength, 0 meaning no service.
	RSSI() int
	// IsCooling reports whether the transmission rate limiter is holding
	// off new sends.
	IsCooling() bool
	// HasRingAlert reports whether the network has invited a mailbox
	// check.
	HasRingAlert() bool
	// QueuedMT is the number of MT messages waiting at the gateway
	// station, per the last session.
	QueuedMT() int

	// CheckMailboxAlert answers a ring alert with a mailbox session.
	// Fire and forget; the outcome arrives as a session result.
	CheckMailboxAlert()
	// CheckMailbox starts an unsolicited mailbox session. Fire and
	// forget.
	CheckMailbox()
	// NextMOMSN allocates the sequence number the next SendSBD will use.
	NextMOMSN() uint32
	// SendSBD starts a session carrying payload as the MO message. Fire
	// and forget; the outcome arrives as a session result.
	SendSBD(payload []byte)

	// ReadMTBuffer reads at most max bytes from the MT buffer and clears
	// it, whether or not the content was usable.
	ReadMTBuffer(max int) ([]byte, error)
	// ClearMOBuffer discards the MO buffer after a confirmed delivery.
	ClearMOBuffer()
	// SetTxRateMax sets the minimum interval in seconds between MO
	// sessions; 0 disables rate limiting.
	SetTxRateMax(seconds int)
}
