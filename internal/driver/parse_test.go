package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSBDIX(t *testing.T) {
	resp := "AT+SBDIX\r\r\n+SBDIX: 0, 23, 1, 5, 13, 2\r\n\r\nOK\r\n"

	res, err := parseSBDIX(resp)
	require.NoError(t, err)
	assert.Equal(t, 0, res.MOStatus)
	assert.Equal(t, 23, res.MOMSN)
	assert.Equal(t, 1, res.MTStatus)
	assert.Equal(t, 5, res.MTMSN)
	assert.Equal(t, 13, res.MTLength)
	assert.Equal(t, 2, res.MTQueued)
	assert.True(t, res.MOSuccess())
}

func TestParseSBDIXFailure(t *testing.T) {
	res, err := parseSBDIX("\r\n+SBDIX: 32, 40, 0, 0, 0, 0\r\n\r\nOK\r\n")
	require.NoError(t, err)
	assert.Equal(t, 32, res.MOStatus)
	assert.False(t, res.MOSuccess())
}

func TestParseSBDIXMalformed(t *testing.T) {
	_, err := parseSBDIX("\r\nOK\r\n")
	assert.Error(t, err)

	_, err = parseSBDIX("+SBDIX: 0, 1, 2\r\n")
	assert.Error(t, err)
}

func TestParseSBDSX(t *testing.T) {
	resp := "\r\n+SBDSX: 1, 44, 0, -1, 1, 3\r\n\r\nOK\r\n"

	st, err := parseSBDSX(resp)
	require.NoError(t, err)
	assert.True(t, st.MOFlag)
	assert.Equal(t, 44, st.MOMSN)
	assert.False(t, st.MTFlag)
	assert.True(t, st.RAFlag)
	assert.Equal(t, 3, st.MTWaiting)
}

func TestParseCSQ(t *testing.T) {
	assert.Equal(t, 4, parseCSQ("\r\n+CSQ:4\r\n\r\nOK\r\n"))
	assert.Equal(t, 0, parseCSQ("\r\n+CSQ:0\r\n\r\nOK\r\n"))
	assert.Equal(t, 0, parseCSQ("\r\nERROR\r\n"))
	assert.Equal(t, 0, parseCSQ("\r\n+CSQ:17\r\n"), "out of range reads as no signal")
}

func TestParseIMEI(t *testing.T) {
	assert.Equal(t, "300234010123456", parseIMEI("AT+CGSN\r\r\n300234010123456\r\n\r\nOK\r\n"))
	assert.Equal(t, "", parseIMEI("\r\nERROR\r\n"))
}

func TestParseIdentLine(t *testing.T) {
	assert.Equal(t, "IRIDIUM 9600 Family", parseIdentLine("AT+CGMM\r\r\nIRIDIUM 9600 Family\r\n\r\nOK\r\n"))
}

func TestSBDChecksum(t *testing.T) {
	assert.Equal(t, uint16(0), sbdChecksum(nil))
	assert.Equal(t, uint16(0x01+0x02+0x03), sbdChecksum([]byte{0x01, 0x02, 0x03}))
	// The checksum is the low 16 bits of the sum.
	big := make([]byte, 300)
	for i := range big {
		big[i] = 0xFF
	}
	assert.Equal(t, uint16(300*0xFF&0xFFFF), sbdChecksum(big))
}

func TestParseSBDRBResponse(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xAA, 0xBB, 0xCC}
	sum := sbdChecksum(payload)

	raw := append([]byte("AT+SBDRB\r\n"), 0x00, byte(len(payload)))
	raw = append(raw, payload...)
	raw = append(raw, byte(sum>>8), byte(sum))

	data, err := parseSBDRBResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestParseSBDRBResponseBadChecksum(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30}
	raw := []byte{0x00, 0x03}
	raw = append(raw, payload...)
	raw = append(raw, 0xFF, 0xFF)

	_, err := parseSBDRBResponse(raw)
	assert.Error(t, err)
}

func TestParseSBDRBResponseTruncated(t *testing.T) {
	_, err := parseSBDRBResponse([]byte{0x00})
	assert.Error(t, err)
}
