package driver

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"sbd-gateway/internal/sbd"
)

const (
	// DefaultBaud is the 9602/9603 factory baud rate.
	DefaultBaud = 19200

	atTimeout    = 3 * time.Second
	sbdixTimeout = 90 * time.Second
	readChunk    = 200 * time.Millisecond
)

// moStatusLocalFailure is reported as the MO status when a session could
// not be carried out at all (serial failure, modem not answering). Real
// modem MO status codes stop at 37.
const moStatusLocalFailure = 99

// Driver owns a 9602/9603-class Iridium SBD modem on a serial port and
// implements the sbd.Modem capability. AT traffic is serialized via mutex;
// SBD sessions run on an internal worker goroutine so the queue manager's
// calls never wait on the satellite link. A second goroutine polls signal
// strength and SBD status (ring alert flag, waiting MT count) between
// sessions.
type Driver struct {
	mu   sync.Mutex // serializes AT command traffic
	port serial.Port

	baud          int
	monitorPeriod time.Duration

	stateMu      sync.Mutex
	portName     string
	connected    bool
	imei         string
	model        string
	manufacturer string
	busy         bool
	hasResult    bool
	result       sbd.SessionResult
	rssi         int
	ring         bool
	queuedMT     int
	momsn        uint32
	txRateMax    int
	coolUntil    time.Time

	sessionCh chan sessionJob
	done      chan struct{}
	wg        sync.WaitGroup
}

// Status is a snapshot of the modem for status surfaces.
type Status struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
	IMEI      string `json:"imei,omitempty"`
	Model     string `json:"model,omitempty"`
	Signal    int    `json:"signal"`
	Busy      bool   `json:"busy"`
	Cooling   bool   `json:"cooling"`
	RingAlert bool   `json:"ring_alert"`
	QueuedMT  int    `json:"queued_mt"`
}

// New creates a disconnected driver.
func New(baud int) *Driver {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &Driver{
		baud:          baud,
		monitorPeriod: 15 * time.Second,
		sessionCh:     make(chan sessionJob, 1),
		done:          make(chan struct{}),
	}
}

// Connect opens the serial port and initializes the modem. An empty
// portName triggers auto-detection across the host's serial ports.
func (d *Driver) Connect(portName string) error {
	if portName == "" {
		var err error
		portName, err = d.autoDetect()
		if err != nil {
			return fmt.Errorf("auto-detect failed: %w", err)
		}
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: d.baud})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", portName, err)
	}

	d.mu.Lock()
	d.port = port
	d.drainLocked()

	// Disable flow control first: the modem is wired 3-wire serial.
	resp, err := d.sendATLocked("AT&K0", atTimeout)
	if err != nil || !strings.Contains(resp, "OK") {
		d.closeLocked()
		d.mu.Unlock()
		return fmt.Errorf("AT&K0 failed (is this an Iridium modem?): %w", err)
	}

	if resp, err = d.sendATLocked("AT", atTimeout); err != nil || !strings.Contains(resp, "OK") {
		d.closeLocked()
		d.mu.Unlock()
		return fmt.Errorf("modem not responding to AT")
	}

	var imei, model, manufacturer string
	if resp, err = d.sendATLocked("AT+CGSN", atTimeout); err == nil {
		imei = parseIMEI(resp)
	}
	if resp, err = d.sendATLocked("AT+CGMM", atTimeout); err == nil {
		model = parseIdentLine(resp)
	}
	if resp, err = d.sendATLocked("AT+CGMI", atTimeout); err == nil {
		manufacturer = parseIdentLine(resp)
	}

	// Ring alerts on, and the current SBD state to seed the MO sequence
	// counter.
	if resp, err = d.sendATLocked("AT+SBDMTA=1", atTimeout); err != nil || !strings.Contains(resp, "OK") {
		log.Printf("iridium: failed to enable ring alerts")
	}
	var momsn uint32
	var ring bool
	var waiting int
	if resp, err = d.sendATLocked("AT+SBDSX", atTimeout); err == nil {
		if st, perr := parseSBDSX(resp); perr == nil {
			momsn = uint32(st.MOMSN) + 1
			ring = st.RAFlag
			waiting = st.MTWaiting
		}
	}
	d.mu.Unlock()

	d.stateMu.Lock()
	d.portName = portName
	d.connected = true
	d.imei = imei
	d.model = model
	d.manufacturer = manufacturer
	d.momsn = momsn
	d.ring = ring
	d.queuedMT = waiting
	d.stateMu.Unlock()

	log.Printf("iridium: connected to %s (manufacturer: %s, model: %s, IMEI: %s)",
		portName, manufacturer, model, imei)

	d.wg.Add(2)
	go d.sessionWorker()
	go d.monitor()

	return nil
}

// Close stops the worker goroutines and releases the serial port.
func (d *Driver) Close() {
	close(d.done)
	d.wg.Wait()

	d.mu.Lock()
	d.closeLocked()
	d.mu.Unlock()

	d.stateMu.Lock()
	d.connected = false
	d.stateMu.Unlock()
}

// Manufacturer returns the modem's manufacturer string.
func (d *Driver) Manufacturer() string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.manufacturer
}

// Model returns the modem's model string.
func (d *Driver) Model() string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.model
}

// IMEI returns the modem's IMEI.
func (d *Driver) IMEI() string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.imei
}

// Status returns a snapshot for status surfaces.
func (d *Driver) Status() Status {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return Status{
		Connected: d.connected,
		Port:      d.portName,
		IMEI:      d.imei,
		Model:     d.model,
		Signal:    d.rssi,
		Busy:      d.busy,
		Cooling:   time.Now().Before(d.coolUntil),
		RingAlert: d.ring,
		QueuedMT:  d.queuedMT,
	}
}

// ============================================================================
// sbd.Modem capability
// ============================================================================

// IsBusy reports whether an SBD session is executing.
func (d *Driver) IsBusy() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.busy
}

// HasSessionResult reports whether a session outcome is waiting.
func (d *Driver) HasSessionResult() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.hasResult
}

// SessionResult returns the pending session outcome and clears it.
func (d *Driver) SessionResult() sbd.SessionResult {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.hasResult = false
	return d.result
}

// RSSI returns the last observed signal strength (0-5).
func (d *Driver) RSSI() int {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.rssi
}

// IsCooling reports whether the rate limiter is holding off sends.
func (d *Driver) IsCooling() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return time.Now().Before(d.coolUntil)
}

// HasRingAlert reports whether the network signalled waiting MT traffic.
func (d *Driver) HasRingAlert() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.ring
}

// QueuedMT returns the MT count waiting at the gateway station.
func (d *Driver) QueuedMT() int {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.queuedMT
}

// NextMOMSN allocates the sequence number the next MO session will carry.
func (d *Driver) NextMOMSN() uint32 {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.momsn
}

// SendSBD starts a session carrying payload as the MO message. The session
// is correlated with the sequence number most recently handed out by
// NextMOMSN.
func (d *Driver) SendSBD(payload []byte) {
	data := make([]byte, len(payload))
	copy(data, payload)

	d.stateMu.Lock()
	msn := d.momsn
	d.stateMu.Unlock()

	d.startSession(sessionJob{kind: jobSendMO, payload: data, msn: msn})
}

// CheckMailbox starts a mailbox-only session.
func (d *Driver) CheckMailbox() {
	d.startSession(sessionJob{kind: jobMailbox})
}

// CheckMailboxAlert answers a pending ring alert with a mailbox session.
func (d *Driver) CheckMailboxAlert() {
	d.stateMu.Lock()
	d.ring = false
	d.stateMu.Unlock()
	d.startSession(sessionJob{kind: jobMailboxAlert})
}

// ReadMTBuffer reads the MT buffer in binary mode and clears it. The buffer
// is consumed even when its content turns out to be unusable.
func (d *Driver) ReadMTBuffer(max int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := d.readBinaryMTLocked()

	// Consume the buffer slot regardless of the read outcome.
	if resp, cerr := d.sendATLocked("AT+SBDD1", atTimeout); cerr != nil || strings.Contains(resp, "ERROR") {
		log.Printf("iridium: failed to clear MT buffer")
	}

	if err != nil {
		return nil, err
	}
	if len(data) > max {
		data = data[:max]
	}
	return data, nil
}

// ClearMOBuffer discards the MO buffer after a confirmed delivery.
func (d *Driver) ClearMOBuffer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if resp, err := d.sendATLocked("AT+SBDD0", atTimeout); err != nil || strings.Contains(resp, "ERROR") {
		log.Printf("iridium: failed to clear MO buffer")
	}
}

// SetTxRateMax sets the minimum interval in seconds between MO sessions;
// 0 disables rate limiting.
func (d *Driver) SetTxRateMax(seconds int) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.txRateMax = seconds
}

// ============================================================================
// AT command engine
// ============================================================================

// sendATLocked sends one AT command and reads the response up to a terminal
// token. Caller must hold d.mu.
func (d *Driver) sendATLocked(command string, timeout time.Duration) (string, error) {
	if d.port == nil {
		return "", fmt.Errorf("not connected")
	}

	d.drainLocked()

	// CR only, no LF.
	if _, err := d.port.Write([]byte(command + "\r")); err != nil {
		return "", fmt.Errorf("write failed: %w", err)
	}

	return d.readResponseLocked(timeout)
}

// readResponseLocked accumulates serial input until OK, ERROR or READY is
// seen, or the timeout expires. Caller must hold d.mu.
func (d *Driver) readResponseLocked(timeout time.Duration) (string, error) {
	if d.port == nil {
		return "", fmt.Errorf("not connected")
	}

	deadline := time.Now().Add(timeout)
	d.port.SetReadTimeout(readChunk)

	var resp strings.Builder
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := d.port.Read(buf)
		if n > 0 {
			resp.Write(buf[:n])
			full := resp.String()
			if strings.Contains(full, "\r\nOK\r\n") ||
				strings.HasSuffix(strings.TrimSpace(full), "OK") ||
				strings.Contains(full, "\r\nERROR\r\n") ||
				strings.HasSuffix(strings.TrimSpace(full), "ERROR") ||
				strings.Contains(full, "READY") {
				return full, nil
			}
		}
		if err != nil {
			return resp.String(), fmt.Errorf("read failed: %w", err)
		}
	}

	return resp.String(), fmt.Errorf("read timeout")
}

// drainLocked discards pending serial input. Caller must hold d.mu.
func (d *Driver) drainLocked() {
	if d.port == nil {
		return
	}
	d.port.SetReadTimeout(50 * time.Millisecond)
	buf := make([]byte, 1024)
	for {
		n, err := d.port.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// readBinaryMTLocked performs AT+SBDRB and returns the verified payload.
// Caller must hold d.mu.
func (d *Driver) readBinaryMTLocked() ([]byte, error) {
	if d.port == nil {
		return nil, fmt.Errorf("not connected")
	}

	d.drainLocked()
	if _, err := d.port.Write([]byte("AT+SBDRB\r")); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	// Response: [echo] 2-byte length (big-endian) + data + 2-byte checksum.
	deadline := time.Now().Add(5 * time.Second)
	d.port.SetReadTimeout(readChunk)

	var raw []byte
	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		n, err := d.port.Read(buf)
		if n > 0 {
			raw = append(raw, buf[:n]...)
			if data, perr := parseSBDRBResponse(raw); perr == nil {
				return data, nil
			}
		}
		if err != nil {
			break
		}
	}

	data, err := parseSBDRBResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("binary MT read failed: %w", err)
	}
	return data, nil
}

func (d *Driver) closeLocked() {
	if d.port != nil {
		d.port.Close()
		d.port = nil
	}
}

// autoDetect probes the host's serial ports for a modem answering AT.
func (d *Driver) autoDetect() (string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("cannot list serial ports: %w", err)
	}

	for _, name := range ports {
		if !strings.Contains(name, "ttyUSB") && !strings.Contains(name, "ttyS") {
			continue
		}
		port, err := serial.Open(name, &serial.Mode{BaudRate: d.baud})
		if err != nil {
			continue
		}

		port.SetReadTimeout(readChunk)
		port.Write([]byte("AT&K0\r"))
		time.Sleep(200 * time.Millisecond)
		port.Write([]byte("AT\r"))

		deadline := time.Now().Add(2 * time.Second)
		var resp strings.Builder
		buf := make([]byte, 256)
		for time.Now().Before(deadline) {
			n, err := port.Read(buf)
			if n > 0 {
				resp.Write(buf[:n])
			}
			if err != nil || strings.Contains(resp.String(), "OK") {
				break
			}
		}
		port.Close()

		if strings.Contains(resp.String(), "OK") {
			log.Printf("iridium: auto-detected modem on %s", name)
			return name, nil
		}
	}

	return "", fmt.Errorf("no Iridium modem found on any serial port")
}
