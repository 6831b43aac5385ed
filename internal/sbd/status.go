package sbd

// StatusCode classifies a request lifecycle transition.
type StatusCode int

const (
	// StatusQueued is reported once when a request is accepted.
	StatusQueued StatusCode = iota
	// StatusOK is reported once when delivery is confirmed.
	StatusOK
	// StatusError is reported on each failed transmission attempt and on
	// shutdown discard.
	StatusError
)

// String returns the wire name of the status code.
func (c StatusCode) String() string {
	switch c {
	case StatusQueued:
		return "QUEUED"
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// TxStatus is one lifecycle report for a transmission request, addressed
// back to the request's origin.
type TxStatus struct {
	Destination       uint16     `json:"destination"`
	DestinationEntity uint8      `json:"destination_entity"`
	RequestID         uint16     `json:"req_id"`
	Status            StatusCode `json:"-"`
	Text              string     `json:"text,omitempty"`
}

// Message is an inbound mobile-terminated message decoded from the MT
// buffer.
type Message struct {
	Source      uint16 `json:"source"`
	Destination uint16 `json:"destination"`
	Payload     []byte `json:"payload"`
	// KeepSourceEntity asks relays to preserve the originating entity
	// identity instead of stamping their own.
	KeepSourceEntity bool `json:"keep_source_entity"`
}

// StatusSink receives request lifecycle reports.
type StatusSink interface {
	ReportTxStatus(TxStatus)
}

// MessageSink receives inbound messages.
type MessageSink interface {
	DeliverMessage(Message)
}

// StatusFanout forwards each report to every sink.
type StatusFanout []StatusSink

func (f StatusFanout) ReportTxStatus(s TxStatus) {
	for _, sink := range f {
		sink.ReportTxStatus(s)
	}
}

// MessageFanout forwards each message to every sink.
type MessageFanout []MessageSink

func (f MessageFanout) DeliverMessage(m Message) {
	for _, sink := range f {
		sink.DeliverMessage(m)
	}
}
