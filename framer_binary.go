// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "fmt"

const (
	binaryStart byte = 0x7B
	binaryEnd   byte = 0x7D

	binaryMaxBody = 256
)

// BinaryFramer implements Framer for the Binary envelope (§3, §4.B): a start
// byte 0x7B, a byte-stuffed body (0x7B and 0x7D escaped as themselves doubled)
// covering uid + function code + data + CRC16, and an end byte 0x7D. There is
// no precedent for this variant anywhere in the retrieved reference corpus;
// it is built directly from the envelope description, reusing the RTU
// variant's CRC16 for its checksum.
type BinaryFramer struct {
	buf []byte
}

func NewBinaryFramer() *BinaryFramer {
	return &BinaryFramer{}
}

func (f *BinaryFramer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

func (f *BinaryFramer) Reset() {
	f.buf = nil
}

func (f *BinaryFramer) TryDecode() (Frame, FrameOutcome) {
	start := -1
	for i, b := range f.buf {
		if b == binaryStart {
			start = i
			break
		}
	}
	if start < 0 {
		f.buf = nil
		return Frame{}, Incomplete
	}
	if start > 0 {
		f.buf = f.buf[start:]
	}

	body := make([]byte, 0, len(f.buf))
	for i := 1; i < len(f.buf); i++ {
		b := f.buf[i]
		if b != binaryStart && b != binaryEnd {
			body = append(body, b)
			continue
		}

		if i+1 < len(f.buf) && f.buf[i+1] == b {
			// Doubled delimiter collapses to one literal byte.
			body = append(body, b)
			i++
			continue
		}

		// A lookahead byte, when one is buffered, proves this occurrence
		// isn't doubled. When one isn't buffered yet, it's genuinely
		// ambiguous — except at 0x7D once the body is already long enough
		// to hold a real frame: a short final message on the wire never
		// sends a byte past its own terminator, so that case is settled by
		// the CRC rather than by waiting for a byte that may never arrive.
		lookaheadRulesOutDouble := i+1 < len(f.buf)

		if b == binaryEnd {
			if len(body) < 4 {
				if lookaheadRulesOutDouble {
					f.buf = f.buf[i+1:]
					return Frame{}, Invalid
				}
				return Frame{}, Incomplete
			}
			payload, trailer := body[:len(body)-2], body[len(body)-2:]
			want := uint16(trailer[0]) | uint16(trailer[1])<<8
			f.buf = f.buf[i+1:]
			if crc16(payload) != want {
				return Frame{}, Invalid
			}
			return Frame{
				UnitID: payload[0],
				PDU: ProtocolDataUnit{
					FunctionCode: payload[1],
					Data:         payload[2:],
				},
			}, Ready
		}

		// Unmatched 0x7B mid-frame: §4.B "unmatched delimiter mid-frame
		// resets". Only decisive once a lookahead byte has ruled out a
		// pending doubled escape still in flight.
		if lookaheadRulesOutDouble {
			f.buf = f.buf[1:]
			return Frame{}, Invalid
		}
		return Frame{}, Incomplete
	}
	return Frame{}, Incomplete
}

// Build encodes uid + PDU + CRC16, escaping 0x7B/0x7D in the body, wrapped in
// a 0x7B ... 0x7D envelope.
func (f *BinaryFramer) Build(uid byte, _ uint16, pdu *ProtocolDataUnit) ([]byte, error) {
	if len(pdu.Data) > binaryMaxBody {
		return nil, fmt.Errorf("%w: pdu data length '%v' exceeds maximum", ErrInvalidData, len(pdu.Data))
	}
	payload := make([]byte, 0, 2+len(pdu.Data))
	payload = append(payload, uid, pdu.FunctionCode)
	payload = append(payload, pdu.Data...)
	checksum := crc16(payload)
	payload = append(payload, byte(checksum), byte(checksum>>8))

	adu := make([]byte, 0, 2+2*len(payload))
	adu = append(adu, binaryStart)
	for _, b := range payload {
		if b == binaryStart || b == binaryEnd {
			// Escape by doubling the delimiter byte itself (§3 "0x7B→0x7B
			// 0x7B, 0x7D→0x7D 0x7D"), not by prefixing a distinct escape
			// byte — the wire has no escape byte separate from the two
			// delimiters.
			adu = append(adu, b)
		}
		adu = append(adu, b)
	}
	adu = append(adu, binaryEnd)
	return adu, nil
}
