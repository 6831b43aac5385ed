package sbd

// TxRequest is one outbound SBD message, from acceptance until it is either
// confirmed sent or dropped at shutdown. While queued it carries no modem
// state; once selected for transmission it is assigned the MO message
// sequence number (MOMSN) the modem will use, and that number ties a later
// session result back to this request.
type TxRequest struct {
	// ID is the caller-supplied request identifier echoed in status
	// reports. Uniqueness is not checked here; callers that reuse an ID
	// get correlated reports for both requests.
	ID uint16
	// Source and SourceEntity identify the system/entity that submitted
	// the request and therefore where status reports go.
	Source       uint16
	SourceEntity uint8
	// Destination is the target system address, already resolved by the
	// caller.
	Destination uint16
	// TTL orders the queue: smaller means more urgent.
	TTL uint16
	// Payload is opaque to the gateway.
	Payload []byte

	msn      uint32
	msnValid bool
}

// SetMSN records the sequence number assigned for a transmission attempt.
func (r *TxRequest) SetMSN(msn uint32) {
	r.msn = msn
	r.msnValid = true
}

// MSN returns the assigned sequence number. Only meaningful while
// HasValidMSN reports true.
func (r *TxRequest) MSN() uint32 {
	return r.msn
}

// HasValidMSN reports whether the request holds a live sequence number,
// i.e. a send attempt is in flight and has not been invalidated.
func (r *TxRequest) HasValidMSN() bool {
	return r.msnValid
}

// InvalidateMSN voids the assigned sequence number after a failed
// transmission so a stale session result cannot resolve this request again.
func (r *TxRequest) InvalidateMSN() {
	r.msnValid = false
}
