package handlers

import (
	"fmt"
	"regexp"

	"sbd-gateway/internal/sbd"
)

// maxSBDPayload is the MO message capacity of a 9602/9603-class modem. The
// core queue deliberately does not enforce an MTU; this boundary check is
// the configurable validation hook in front of it.
const maxSBDPayload = 340

var reSerialPort = regexp.MustCompile(`^/dev/(tty[a-zA-Z0-9]+|serial[a-zA-Z0-9/]+)$`)

// ValidateSerialPort checks that a serial device path is safe to hand to
// the driver.
func ValidateSerialPort(port string) error {
	if port == "" {
		return fmt.Errorf("serial port is required")
	}
	if !reSerialPort.MatchString(port) {
		return fmt.Errorf("invalid serial port path")
	}
	return nil
}

// validateTxSubmission checks the request fields at the HTTP boundary.
func validateTxSubmission(req TxSubmission, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("data is required")
	}
	if len(payload) > maxSBDPayload {
		return fmt.Errorf("payload too large (%d bytes, max %d)", len(payload), maxSBDPayload)
	}
	return nil
}

// toRequest converts a submission into the core's request entity.
func (s TxSubmission) toRequest(payload []byte) *sbd.TxRequest {
	return &sbd.TxRequest{
		ID:           s.ReqID,
		Source:       s.Source,
		SourceEntity: s.SourceEntity,
		Destination:  s.Destination,
		TTL:          s.TTL,
		Payload:      payload,
	}
}
