// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"log"
	"time"
)

// Config is the enumerated external configuration surface (§6): which wire
// encoding to speak and the transaction-manager policy to run it under.
// Grounded on the defaulting-constructor pattern the *ClientHandler types
// use (NewTCPClientHandler et al. bake in a default then let the caller
// override fields directly) rather than a functional-options package, since
// that is the only config-construction idiom the teacher itself uses.
type Config struct {
	Framer FramerKind

	DefaultTimeout time.Duration
	DefaultRetries int
	MaxInFlight    int
	BroadcastUnit  byte

	// StrictPID rejects a non-zero MBAP protocol id instead of tolerating
	// it (§9 open question, TCP only; ignored by the serial variants).
	StrictPID bool
}

// NewConfig returns a Config defaulted the way the matching *ClientHandler
// constructor defaults its own fields: tcpTimeout/DefaultMaxInFlightTCP for
// FramerTCP, serialTimeout/DefaultMaxInFlightSerial for the three serial
// variants.
func NewConfig(kind FramerKind) *Config {
	c := &Config{Framer: kind}
	if kind == FramerTCP {
		c.DefaultTimeout = tcpTimeout
		c.MaxInFlight = DefaultMaxInFlightTCP
	} else {
		c.DefaultTimeout = serialTimeout
		c.MaxInFlight = DefaultMaxInFlightSerial
	}
	return c
}

// Serial reports whether this Config's Framer is one of the three variants
// with no wire transaction id (§4.C "Serial ordering").
func (c *Config) Serial() bool {
	return c.Framer != FramerTCP
}

// NewFramer builds the Framer the Kind names, applying StrictPID to the TCP
// variant (the other three have no protocol id field to police).
func (c *Config) NewFramer() Framer {
	switch c.Framer {
	case FramerTCP:
		return &TCPFramer{StrictPID: c.StrictPID}
	case FramerRTU:
		return NewRTUFramer(false)
	case FramerASCII:
		return NewASCIIFramer()
	case FramerBinary:
		return NewBinaryFramer()
	default:
		return &TCPFramer{StrictPID: c.StrictPID}
	}
}

// NewManager builds a Manager under this Config's serial/max-in-flight
// policy, delegating transmission to send.
func (c *Config) NewManager(logger *log.Logger, send func(adu []byte) error) *Manager {
	return NewManager(c.Serial(), c.MaxInFlight, logger, send)
}
