// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const (
	tcpProtocolIdentifier uint16 = 0x0000
	// tcpHeaderSize is the MBAP prefix: tid(2) + pid(2) + length(2) + uid(1).
	tcpHeaderSize = 7
	tcpMaxLength  = 260
)

// TCPFramer implements Framer for the TCP/MBAP envelope (§3, §4.B).
// Grounded on the teacher's tcpPackager (tcpclient.go) and
// internal/simulator/tcp_server.go's header parse loop, generalized from a
// single-shot Encode/Decode into a buffer-oriented Feed/TryDecode so a
// server reading an arbitrary-sized chunk off a socket still extracts
// frames one at a time.
type TCPFramer struct {
	buf []byte
	// StrictPID rejects a non-zero protocol id instead of tolerating it.
	// Resolves the §9 open question; default false, grounded on
	// original_source/pymodbus/framer/socket_framer.py's tolerant handling.
	StrictPID bool

	transactionID uint32
}

// NewTCPFramer creates a TCPFramer. Build writes the tid its caller passes
// in; the Manager allocates tids and owns correlation.
func NewTCPFramer() *TCPFramer {
	return &TCPFramer{}
}

func (f *TCPFramer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

func (f *TCPFramer) Reset() {
	f.buf = nil
}

// TryDecode implements the §4.B TCP/MBAP decoding algorithm.
func (f *TCPFramer) TryDecode() (Frame, FrameOutcome) {
	if len(f.buf) < tcpHeaderSize {
		return Frame{}, Incomplete
	}
	tid := binary.BigEndian.Uint16(f.buf[0:2])
	pid := binary.BigEndian.Uint16(f.buf[2:4])
	length := binary.BigEndian.Uint16(f.buf[4:6])
	uid := f.buf[6]

	if length < 2 {
		// Malformed short frame: advance past the header and report
		// Invalid rather than raising, per §9/pymodbus's tolerant framer.
		f.buf = f.buf[tcpHeaderSize:]
		return Frame{}, Invalid
	}
	if f.StrictPID && pid != tcpProtocolIdentifier {
		f.buf = f.buf[tcpHeaderSize:]
		return Frame{}, Invalid
	}

	total := tcpHeaderSize + int(length) - 1
	if len(f.buf) < total {
		return Frame{}, Incomplete
	}

	pduBytes := f.buf[tcpHeaderSize:total]
	f.buf = f.buf[total:]

	return Frame{
		UnitID:        uid,
		TransactionID: tid,
		PDU: ProtocolDataUnit{
			FunctionCode: pduBytes[0],
			Data:         pduBytes[1:],
		},
	}, Ready
}

// Build encodes the MBAP header plus PDU. length counts uid + function code
// + payload (§3): the canonical form writes len(payload)+2 to include both
// uid and function code, which this matches (tcpHeaderSize already reserves
// the uid byte separately from the length field below).
func (f *TCPFramer) Build(uid byte, tid uint16, pdu *ProtocolDataUnit) ([]byte, error) {
	if len(pdu.Data) > tcpMaxLength-tcpHeaderSize-1 {
		return nil, fmt.Errorf("%w: pdu data length '%v' exceeds maximum", ErrInvalidData, len(pdu.Data))
	}
	adu := make([]byte, tcpHeaderSize+1+len(pdu.Data))
	binary.BigEndian.PutUint16(adu, tid)
	binary.BigEndian.PutUint16(adu[2:], tcpProtocolIdentifier)
	length := uint16(1 + 1 + len(pdu.Data)) // uid + function code + data
	binary.BigEndian.PutUint16(adu[4:], length)
	adu[6] = uid
	adu[tcpHeaderSize] = pdu.FunctionCode
	copy(adu[tcpHeaderSize+1:], pdu.Data)
	return adu, nil
}

// nextTransactionID returns a monotonic id from this framer's own counter.
// Nothing in this package calls it; Build uses the tid it is given.
func (f *TCPFramer) nextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&f.transactionID, 1))
}
