// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

// StopBits describes the serial line stop bit count.
type StopBits int

const (
	OneStopBit StopBits = iota
	OneAndHalfStopBits
	TwoStopBits
)

// Parity describes the serial line parity bit.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)
