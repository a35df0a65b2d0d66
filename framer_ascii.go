// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

const (
	asciiStart     = ':'
	asciiEnd1      = '\r'
	asciiEnd2      = '\n'
	asciiMinLength = 3 // decoded bytes: uid + function code + LRC
)

// ASCIIFramer implements Framer for the ASCII envelope (§3, §4.B): a leading
// ':', the body hex-encoded two characters per byte, an LRC byte appended to
// the body before encoding, and a CRLF terminator. Grounded on the teacher's
// asciiclient.go (writeHex/readHex) and internal/simulator/lrc.go.
type ASCIIFramer struct {
	buf []byte
}

func NewASCIIFramer() *ASCIIFramer {
	return &ASCIIFramer{}
}

func (f *ASCIIFramer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

func (f *ASCIIFramer) Reset() {
	f.buf = nil
}

// TryDecode scans for a ':' ... CRLF envelope, hex-decodes the body, and
// validates the trailing LRC byte.
func (f *ASCIIFramer) TryDecode() (Frame, FrameOutcome) {
	start := bytes.IndexByte(f.buf, asciiStart)
	if start < 0 {
		// No frame start in the buffer at all; nothing worth keeping.
		f.buf = nil
		return Frame{}, Incomplete
	}
	if start > 0 {
		// Garbage before the frame start: drop it and keep looking.
		f.buf = f.buf[start:]
	}

	end := bytes.Index(f.buf, []byte{asciiEnd1, asciiEnd2})
	if end < 0 {
		return Frame{}, Incomplete
	}

	hexBody := f.buf[1:end]
	consumed := end + 2
	if len(hexBody) < asciiMinLength*2 || len(hexBody)%2 != 0 {
		f.buf = f.buf[consumed:]
		return Frame{}, Invalid
	}

	raw := make([]byte, hex.DecodedLen(len(hexBody)))
	if _, err := hex.Decode(raw, hexBody); err != nil {
		f.buf = f.buf[consumed:]
		return Frame{}, Invalid
	}
	f.buf = f.buf[consumed:]

	body, checksum := raw[:len(raw)-1], raw[len(raw)-1]
	if LRC(body) != checksum {
		return Frame{}, Invalid
	}

	return Frame{
		UnitID: body[0],
		PDU: ProtocolDataUnit{
			FunctionCode: body[1],
			Data:         body[2:],
		},
	}, Ready
}

// Build encodes uid + PDU + LRC as uppercase hex framed by ':' and CRLF.
func (f *ASCIIFramer) Build(uid byte, _ uint16, pdu *ProtocolDataUnit) ([]byte, error) {
	if len(pdu.Data) > 252 {
		return nil, fmt.Errorf("%w: pdu data length '%v' exceeds maximum", ErrInvalidData, len(pdu.Data))
	}
	body := make([]byte, 0, 2+len(pdu.Data)+1)
	body = append(body, uid, pdu.FunctionCode)
	body = append(body, pdu.Data...)
	body = append(body, LRC(body))

	encoded := make([]byte, hex.EncodedLen(len(body)))
	hex.Encode(encoded, body)

	adu := make([]byte, 0, 1+len(encoded)+2)
	adu = append(adu, asciiStart)
	adu = append(adu, bytes.ToUpper(encoded)...)
	adu = append(adu, asciiEnd1, asciiEnd2)
	return adu, nil
}
