package driver

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// sbdixResult holds the parsed response of an AT+SBDIX(A) session.
type sbdixResult struct {
	MOStatus int // 0-2 = success, others = failure
	MOMSN    int // MO message sequence number
	MTStatus int // 0 = no MT, 1 = MT received, 2 = error
	MTMSN    int // MT message sequence number
	MTLength int // byte length of MT message
	MTQueued int // MT messages still queued at the gateway station
}

// MOSuccess returns true if the MO half of the session succeeded.
func (r sbdixResult) MOSuccess() bool {
	return r.MOStatus >= 0 && r.MOStatus <= 2
}

// sbdStatus holds the parsed response of AT+SBDSX.
type sbdStatus struct {
	MOFlag    bool
	MOMSN     int
	MTFlag    bool
	MTMSN     int
	RAFlag    bool // ring alert pending
	MTWaiting int
}

// parseSBDIX parses an AT+SBDIX response.
// Format: +SBDIX: <MO_status>, <MOMSN>, <MT_status>, <MTMSN>, <MT_length>, <MT_queued>
// AT+SBDIXA answers with the same +SBDIX: header.
func parseSBDIX(resp string) (sbdixResult, error) {
	idx := strings.Index(resp, "+SBDIX:")
	if idx == -1 {
		return sbdixResult{}, fmt.Errorf("no +SBDIX in response: %s", strings.TrimSpace(resp))
	}

	remainder := strings.TrimSpace(resp[idx+7:])
	firstLine := strings.Split(remainder, "\n")[0]
	parts := strings.Split(firstLine, ",")
	if len(parts) < 6 {
		return sbdixResult{}, fmt.Errorf("malformed SBDIX response (expected 6 fields, got %d)", len(parts))
	}

	result := sbdixResult{}
	result.MOStatus, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	result.MOMSN, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	result.MTStatus, _ = strconv.Atoi(strings.TrimSpace(parts[2]))
	result.MTMSN, _ = strconv.Atoi(strings.TrimSpace(parts[3]))
	result.MTLength, _ = strconv.Atoi(strings.TrimSpace(parts[4]))
	result.MTQueued, _ = strconv.Atoi(strings.TrimSpace(parts[5]))

	return result, nil
}

// parseSBDSX parses an AT+SBDSX response.
// Format: +SBDSX: MO flag, MOMSN, MT flag, MTMSN, RA flag, msg waiting
func parseSBDSX(resp string) (sbdStatus, error) {
	idx := strings.Index(resp, "+SBDSX:")
	if idx == -1 {
		return sbdStatus{}, fmt.Errorf("no +SBDSX in response")
	}

	remainder := strings.TrimSpace(resp[idx+7:])
	firstLine := strings.Split(remainder, "\n")[0]
	parts := strings.Split(firstLine, ",")
	if len(parts) < 6 {
		return sbdStatus{}, fmt.Errorf("malformed SBDSX response")
	}

	status := sbdStatus{}
	moFlag, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	status.MOFlag = moFlag != 0
	status.MOMSN, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	mtFlag, _ := strconv.Atoi(strings.TrimSpace(parts[2]))
	status.MTFlag = mtFlag != 0
	status.MTMSN, _ = strconv.Atoi(strings.TrimSpace(parts[3]))
	raFlag, _ := strconv.Atoi(strings.TrimSpace(parts[4]))
	status.RAFlag = raFlag != 0
	status.MTWaiting, _ = strconv.Atoi(strings.TrimSpace(parts[5]))

	return status, nil
}

// parseCSQ extracts signal strength (0-5) from an AT+CSQ response.
func parseCSQ(resp string) int {
	idx := strings.Index(resp, "+CSQ:")
	if idx == -1 {
		return 0
	}
	remainder := strings.TrimSpace(resp[idx+5:])
	sigStr := strings.Split(remainder, "\n")[0]
	sigStr = strings.TrimSpace(sigStr)
	sig, err := strconv.Atoi(sigStr)
	if err != nil {
		return 0
	}
	if sig < 0 || sig > 5 {
		return 0
	}
	return sig
}

// parseIMEI extracts the IMEI from an AT+CGSN response.
func parseIMEI(resp string) string {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if len(line) == 15 && isNumeric(line) && strings.HasPrefix(line, "3") {
			return line
		}
	}
	return ""
}

// parseIdentLine extracts the payload line of an identification response
// (AT+CGMI, AT+CGMM): first non-empty line that is neither the echo nor the
// final result code.
func parseIdentLine(resp string) string {
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "OK" && !strings.HasPrefix(line, "AT") {
			return line
		}
	}
	return ""
}

// sbdChecksum is the SBD binary transfer checksum: the low 16 bits of the
// byte sum, transmitted big-endian after the payload.
func sbdChecksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// parseSBDRBResponse parses the raw binary response of AT+SBDRB.
// The response contains: [AT echo...] [2-byte length] [data] [2-byte checksum]
func parseSBDRBResponse(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("response too short for binary read")
	}

	// Skip any AT echo text: scan for a plausible length header. MT
	// messages never exceed 270 bytes.
	startIdx := -1
	for i := 0; i <= len(raw)-4; i++ {
		length := binary.BigEndian.Uint16(raw[i : i+2])
		if length <= 270 && i+2+int(length)+2 <= len(raw) {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil, fmt.Errorf("cannot find binary payload in response")
	}

	length := binary.BigEndian.Uint16(raw[startIdx : startIdx+2])
	dataStart := startIdx + 2
	dataEnd := dataStart + int(length)
	data := raw[dataStart:dataEnd]
	received := binary.BigEndian.Uint16(raw[dataEnd : dataEnd+2])

	if computed := sbdChecksum(data); computed != received {
		return nil, fmt.Errorf("binary checksum mismatch (computed=%d, received=%d)", computed, received)
	}

	return data, nil
}

// isNumeric returns true if all characters in s are digits.
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
