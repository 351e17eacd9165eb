package pn532

// PN532 user manual: https://www.nxp.com/docs/en/user-guide/141520.pdf

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	hostToPN532 byte = 0xD4
	pn532ToHost byte = 0xD5
	errorFrame  byte = 0x7F

	cmdGetFirmwareVersion  byte = 0x02
	cmdSAMConfiguration    byte = 0x14
	cmdInListPassiveTarget byte = 0x4A

	// maxFrame is large enough for every response this driver asks for.
	maxFrame = 64
)

var (
	ackFrame = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}

	errShortFrame  = errors.New("short frame")
	errBadChecksum = errors.New("frame checksum mismatch")
	errNoAck       = errors.New("no ACK from PN532")
)

// frame wraps payload in a normal information frame: 00 00 FF LEN LCS TFI PD0..PDn DCS 00.
func frame(tfi byte, payload []byte) []byte {
	data := make([]byte, 0, len(payload)+1)
	data = append(data, tfi)
	data = append(data, payload...)

	l := byte(len(data))
	out := make([]byte, 0, len(data)+7)
	out = append(out, 0x00, 0x00, 0xFF, l, ^l+1)
	out = append(out, data...)
	out = append(out, checksum(data), 0x00)
	return out
}

func commandFrame(cmd byte, params ...byte) []byte {
	return frame(hostToPN532, append([]byte{cmd}, params...))
}

func checksum(data []byte) byte {
	sum := byte(0)
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}

func isAck(b []byte) bool {
	return len(b) >= len(ackFrame) && bytes.Equal(b[:len(ackFrame)], ackFrame)
}

// parseResponse extracts the data of the response to cmd from a raw frame.
func parseResponse(b []byte, cmd byte) ([]byte, error) {
	start := bytes.Index(b, []byte{0x00, 0xFF})
	if start < 0 {
		return nil, fmt.Errorf("no start code in %v", printBytes(b))
	}
	b = b[start+2:]
	if len(b) < 2 {
		return nil, errShortFrame
	}

	l, lcs := b[0], b[1]
	if l == 0x00 && lcs == 0xFF {
		return nil, errors.New("got ACK instead of a response")
	}
	if l+lcs != 0 {
		return nil, fmt.Errorf("%w: length %02x, lcs %02x", errBadChecksum, l, lcs)
	}
	if len(b) < 2+int(l)+1 {
		return nil, errShortFrame
	}

	data := b[2 : 2+int(l)]
	if checksum(data) != b[2+int(l)] {
		return nil, fmt.Errorf("%w: data %v", errBadChecksum, printBytes(data))
	}
	if len(data) == 0 {
		return nil, errShortFrame
	}
	if data[0] == errorFrame {
		return nil, errors.New("PN532 reported an application error")
	}
	if data[0] != pn532ToHost {
		return nil, fmt.Errorf("unexpected frame identifier %02x", data[0])
	}
	if len(data) < 2 || data[1] != cmd+1 {
		return nil, fmt.Errorf("unexpected response to command %02x: %v", cmd, printBytes(data))
	}
	return data[2:], nil
}

func printBytes(data []byte) string {
	var b bytes.Buffer
	b.WriteString("[")
	for i, v := range data {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%02x", v)
	}
	b.WriteString("]")
	return b.String()
}
