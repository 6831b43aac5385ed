// Package announce publishes request lifecycle reports and inbound SBD
// messages as D-Bus signals on the system bus, so other on-vehicle software
// can follow the satellite link without holding an HTTP connection open.
package announce

import (
	"fmt"
	"log"

	"github.com/godbus/dbus/v5"

	"sbd-gateway/internal/sbd"
)

const (
	busName   = "io.sbdgateway.Gateway1"
	iface     = "io.sbdgateway.Gateway1"
	objPath   = dbus.ObjectPath("/io/sbdgateway/Gateway1")
	sigStatus = iface + ".TxStatus"
	sigRx     = iface + ".MessageReceived"
)

// Announcer emits gateway signals on the system bus. It implements the
// core's StatusSink and MessageSink.
type Announcer struct {
	conn *dbus.Conn
}

// New connects to the system bus and claims the gateway name.
func New() (*Announcer, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus connect failed: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus name request failed: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", busName)
	}

	return &Announcer{conn: conn}, nil
}

// Close releases the bus connection.
func (a *Announcer) Close() {
	a.conn.Close()
}

// ReportTxStatus implements sbd.StatusSink.
func (a *Announcer) ReportTxStatus(s sbd.TxStatus) {
	err := a.conn.Emit(objPath, sigStatus,
		s.Destination, s.DestinationEntity, s.RequestID, s.Status.String(), s.Text)
	if err != nil {
		log.Printf("announce: TxStatus signal failed: %v", err)
	}
}

// DeliverMessage implements sbd.MessageSink.
func (a *Announcer) DeliverMessage(m sbd.Message) {
	err := a.conn.Emit(objPath, sigRx,
		m.Source, m.Destination, m.Payload, m.KeepSourceEntity)
	if err != nil {
		log.Printf("announce: MessageReceived signal failed: %v", err)
	}
}
