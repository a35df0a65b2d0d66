// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

const (
	rtuMinSize = 4 // uid + function code + crc(2)
	rtuMaxSize = 256
)

// RTUFramer implements Framer for the RTU envelope (§3, §4.B). Serial has no
// explicit framing, so the codec uses length inference: peek (uid, function
// code) and derive the expected PDU length from a per-function-code table,
// then verify the trailing CRC16 once that many bytes have arrived. On CRC
// mismatch it discards one byte and retries (byte-shift resync).
//
// Grounded on the teacher's rtuclient.go (calculateResponseLength, used
// client-side where the response shape is known) and
// internal/simulator/server.go's calculateExpectedLength/
// getFixedRequestLength (request-side, mirrored here as requestLength since
// a server decoding incoming traffic sees requests, not responses).
type RTUFramer struct {
	buf []byte
	// Requests is true when decoding traffic addressed to a server (use the
	// request-shaped length table); false when decoding a client's view of
	// a response (use the response-shaped table).
	Requests bool
}

func NewRTUFramer(requests bool) *RTUFramer {
	return &RTUFramer{Requests: requests}
}

func (f *RTUFramer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

func (f *RTUFramer) Reset() {
	f.buf = nil
}

func (f *RTUFramer) TryDecode() (Frame, FrameOutcome) {
	if len(f.buf) < rtuMinSize {
		return Frame{}, Incomplete
	}

	var expected int
	if f.Requests {
		expected = rtuRequestLength(f.buf)
	} else {
		expected = rtuResponseLength(f.buf)
	}
	if expected <= 0 || expected > rtuMaxSize {
		// Unknown/ambiguous function code: nothing useful to infer. Wait
		// for the caller's inactivity timeout to Reset() the buffer (§4.B).
		return Frame{}, Incomplete
	}
	if len(f.buf) < expected {
		return Frame{}, Incomplete
	}

	candidate := f.buf[:expected]
	want := uint16(candidate[expected-2]) | uint16(candidate[expected-1])<<8
	got := crc16(candidate[:expected-2])
	if want != got {
		// Integrity failure: byte-shift resync, never surfaced (§4.B, §7).
		f.buf = f.buf[1:]
		return Frame{}, Invalid
	}

	f.buf = f.buf[expected:]
	return Frame{
		UnitID: candidate[0],
		PDU: ProtocolDataUnit{
			FunctionCode: candidate[1],
			Data:         candidate[2 : expected-2],
		},
	}, Ready
}

// Build encodes uid + PDU + CRC16 (tid is ignored; RTU has no transaction
// id field).
func (f *RTUFramer) Build(uid byte, _ uint16, pdu *ProtocolDataUnit) ([]byte, error) {
	length := len(pdu.Data) + 4
	if length > rtuMaxSize {
		return nil, fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", ErrInvalidData, length, rtuMaxSize)
	}
	adu := make([]byte, length)
	adu[0] = uid
	adu[1] = pdu.FunctionCode
	copy(adu[2:], pdu.Data)
	checksum := crc16(adu[:length-2])
	adu[length-2] = byte(checksum)
	adu[length-1] = byte(checksum >> 8)
	return adu, nil
}

// rtuResponseLength mirrors the teacher's rtuclient.go calculateResponseLength,
// inferring a response's total length from the request that triggered it.
// Here, buf is the response itself (uid, function code already on the
// wire), so byte-count fields are read from the response body directly.
func rtuResponseLength(buf []byte) int {
	length := rtuMinSize
	switch buf[1] {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeReadWriteMultipleRegisters:
		if len(buf) < 3 {
			return -1
		}
		byteCount := int(buf[2])
		length += 1 + byteCount
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
		length += 4
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		length += 4
	case FuncCodeMaskWriteRegister:
		length += 6
	case FuncCodeReadFIFOQueue:
		if len(buf) < 4 {
			return -1
		}
		byteCount := int(binary.BigEndian.Uint16(buf[2:4]))
		length += 2 + byteCount
	default:
		if buf[1]&exceptionBit != 0 {
			length += 1
		} else {
			return -1
		}
	}
	return length
}

// rtuRequestLength mirrors internal/simulator/server.go's
// calculateExpectedLength/getFixedRequestLength, used by a server decoding
// incoming requests.
func rtuRequestLength(buf []byte) int {
	functionCode := buf[1]
	switch functionCode {
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		if len(buf) < 7 {
			return 7 // not enough yet to read byte count; ask for more
		}
		byteCount := int(buf[6])
		return 7 + byteCount + 2
	case FuncCodeReadWriteMultipleRegisters:
		if len(buf) < 11 {
			return 11
		}
		byteCount := int(buf[10])
		return 11 + byteCount + 2
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
		return 8
	case FuncCodeMaskWriteRegister:
		return 10
	case FuncCodeReadFIFOQueue:
		return 6
	default:
		return -1
	}
}
