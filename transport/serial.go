// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// StopBits/Parity mirror the root package's own StopBits/Parity so this
// package does not import it (avoiding an import cycle); toSerialStopBits/
// toSerialParity translate them into go.bug.st/serial's types.
type StopBits int

const (
	OneStopBit StopBits = iota
	OneAndHalfStopBits
	TwoStopBits
)

type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// SerialTransport implements Transport over an RS-232/RS-485 line via
// go.bug.st/serial (the teacher's own dependency). Connect opens the port;
// Listen is identical to Connect since a serial bus has no accept phase.
// Reads run in a dedicated goroutine so callers never block the rest of the
// program on the blocking-style serial API (§4.D "must use a nonblocking or
// asynchronous I/O primitive").
//
// Grounded on the teacher's serialPort (serial.go): same configuration
// fields, connect-on-demand, and idle-close timer.
type SerialTransport struct {
	Address     string
	BaudRate    int
	DataBits    int
	StopBits    StopBits
	Parity      Parity
	ReadTimeout time.Duration
	IdleTimeout time.Duration
	Logger      *log.Logger

	mu           sync.Mutex
	port         serial.Port
	closeTimer   *time.Timer
	lastActivity time.Time

	onBytes      func([]byte)
	onDisconnect func(error)
}

func (s *SerialTransport) OnBytes(fn func([]byte))     { s.onBytes = fn }
func (s *SerialTransport) OnDisconnect(fn func(error)) { s.onDisconnect = fn }

func toSerialStopBits(sb StopBits) serial.StopBits {
	switch sb {
	case TwoStopBits:
		return serial.TwoStopBits
	case OneAndHalfStopBits:
		return serial.OnePointFiveStopBits
	default:
		return serial.OneStopBit
	}
}

func toSerialParity(p Parity) serial.Parity {
	switch p {
	case OddParity:
		return serial.OddParity
	case EvenParity:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func (s *SerialTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

// Listen opens the same port Connect would; a serial bus has no accept
// loop, so the single open connection serves both client and server roles.
func (s *SerialTransport) Listen(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

func (s *SerialTransport) connectLocked() error {
	if s.port != nil {
		return nil
	}
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		StopBits: toSerialStopBits(s.StopBits),
		Parity:   toSerialParity(s.Parity),
	}
	port, err := serial.Open(s.Address, mode)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.Address, err)
	}
	if s.ReadTimeout > 0 {
		if err := port.SetReadTimeout(s.ReadTimeout); err != nil {
			port.Close()
			return fmt.Errorf("setting read timeout: %w", err)
		}
	}
	s.port = port
	s.lastActivity = time.Now()
	go s.readLoop(port)
	return nil
}

func (s *SerialTransport) readLoop(port serial.Port) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 && s.onBytes != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.onBytes(chunk)
		}
		if err != nil {
			s.mu.Lock()
			if s.port == port {
				s.port = nil
			}
			s.mu.Unlock()
			if s.onDisconnect != nil {
				s.onDisconnect(err)
			}
			return
		}
	}
}

func (s *SerialTransport) Send(ctx context.Context, adu []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(); err != nil {
		return err
	}
	s.lastActivity = time.Now()
	s.startCloseTimerLocked()
	s.logf("modbus: sending % x", adu)
	if _, err := s.port.Write(adu); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}
	return nil
}

func (s *SerialTransport) startCloseTimerLocked() {
	if s.IdleTimeout <= 0 {
		return
	}
	if s.closeTimer == nil {
		s.closeTimer = time.AfterFunc(s.IdleTimeout, s.closeIdle)
	} else {
		s.closeTimer.Reset(s.IdleTimeout)
	}
}

func (s *SerialTransport) closeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IdleTimeout <= 0 || s.port == nil {
		return
	}
	if time.Since(s.lastActivity) >= s.IdleTimeout {
		s.logf("modbus: closing port due to idle timeout")
		s.port.Close()
		s.port = nil
	}
}

func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *SerialTransport) logf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}
