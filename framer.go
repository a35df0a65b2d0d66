// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// FrameOutcome is the tri-state result of a decode attempt (§4.B
// "try_decode() -> Frame | Incomplete | Invalid").
type FrameOutcome int

const (
	// Incomplete means the buffer does not yet hold a full ADU; wait for
	// more bytes (§7 Incomplete).
	Incomplete FrameOutcome = iota
	// Ready means exactly one complete ADU was extracted from the buffer
	// head and consumed.
	Ready
	// Invalid means the bytes at the buffer head could never form a valid
	// frame (integrity failure, malformed length) and were discarded; the
	// codec has already advanced so the caller should call TryDecode again
	// (§4.B "Resync").
	Invalid
)

// Frame is one decoded ADU: the envelope fields needed to route and answer
// it, plus its PDU.
type Frame struct {
	UnitID        byte
	TransactionID uint16 // TCP only; zero otherwise
	PDU           ProtocolDataUnit
}

// Framer is the polymorphic frame codec (§4.B): four variants (TCP/MBAP,
// RTU, ASCII, Binary) share this shape. State (the accumulation buffer,
// any parsed-but-incomplete header) lives inside the concrete variant, not
// as a separately-threaded mutable object (§9 "Mutable header dict").
//
// Grounded on the `framer` interface in
// other_examples/c25a4245_GoAethereal-modbus__framer.go.go, adapted from a
// single-shot encode/decode/verify shape to the buffer-oriented
// feed/try-decode the spec requires so that bytes arriving in arbitrary
// chunks (serial transports have no reliable delimiters) still yield
// exactly the frames a complete read would have (chunk-invariance, §8).
type Framer interface {
	// Feed appends bytes to the internal buffer (§4.B).
	Feed(data []byte)
	// TryDecode attempts to extract exactly one complete ADU from the
	// buffer head. Returns Ready with the frame, Incomplete (wait for more
	// bytes; leading bytes that cannot start a frame may already have been
	// discarded), or Invalid (integrity failure;
	// buffer already advanced past the bad bytes, call again).
	TryDecode() (Frame, FrameOutcome)
	// Build produces a ready-to-send ADU for the given unit/PDU. tid is
	// ignored by variants with no transaction id field.
	Build(uid byte, tid uint16, pdu *ProtocolDataUnit) ([]byte, error)
	// Reset discards buffer contents after unrecoverable desync.
	Reset()
}

// FramerKind enumerates the four wire encodings (§6 Configuration).
type FramerKind int

const (
	FramerTCP FramerKind = iota
	FramerRTU
	FramerASCII
	FramerBinary
)
