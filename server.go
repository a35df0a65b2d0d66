// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/lumberbarons/fieldbus/transport"
)

// RequestHandler answers one request PDU addressed to unitID. A nil return
// means no response should be sent at all (used to simulate a timeout, or
// for broadcast requests the handler chose not to act on).
type RequestHandler func(unitID byte, pdu *ProtocolDataUnit) *ProtocolDataUnit

// Server dispatches incoming frames from any of the four wire variants to a
// RequestHandler, enforcing the §4.B unit-id accept-set / broadcast rule and
// validating request shape through a shared Registry. Generalizes
// internal/simulator/handler.go's HandleRequest plus the per-variant accept
// loops in tcp_server.go, server.go (RTU) and ascii_server.go into one
// framer-agnostic core.
type Server struct {
	Registry *Registry
	Handler  RequestHandler
	// AcceptUnit reports whether unitID is one this server answers for. A
	// nil AcceptUnit accepts every unit id.
	AcceptUnit func(unitID byte) bool
	// BroadcastUnit requests (§4.B) are always accepted and never answered.
	BroadcastUnit byte
	Logger        *log.Logger
}

func (s *Server) accepts(unitID byte) bool {
	if unitID == s.BroadcastUnit {
		return true
	}
	if s.AcceptUnit == nil {
		return true
	}
	return s.AcceptUnit(unitID)
}

// dispatch decodes every complete frame currently bufferable from framer and
// calls send with each encoded reply, in arrival order.
func (s *Server) dispatch(framer Framer, send func([]byte) error) {
	for {
		frame, outcome := framer.TryDecode()
		switch outcome {
		case Incomplete:
			return
		case Invalid:
			continue
		case Ready:
			s.handleFrame(framer, frame, send)
		}
	}
}

func (s *Server) handleFrame(framer Framer, frame Frame, send func([]byte) error) {
	if !s.accepts(frame.UnitID) {
		s.logf("modbus: dropping request for unit %d (not accepted)", frame.UnitID)
		return
	}
	if err := s.Registry.Decode(&frame.PDU); err != nil {
		reply := exceptionResponse(frame.PDU.FunctionCode, exceptionCodeFor(err))
		s.reply(framer, frame, reply, send)
		return
	}

	response := s.Handler(frame.UnitID, &frame.PDU)
	if frame.UnitID == s.BroadcastUnit {
		// §4.C Broadcast: never answered, regardless of what the handler
		// returned.
		return
	}
	if response == nil {
		// Handler asked to simulate no response (e.g. configured timeout).
		return
	}
	s.reply(framer, frame, response, send)
}

// Feed appends data to framer and dispatches every complete frame it
// yields, invoking send with each encoded reply. Exported so a caller
// driving its own I/O loop (e.g. internal/simulator's PTY-based RTU server)
// can reuse the same Registry/Handler dispatch pipeline that
// ServeTCP/ServeSerial/ServeUDP use internally.
func (s *Server) Feed(framer Framer, data []byte, send func([]byte) error) {
	framer.Feed(data)
	s.dispatch(framer, send)
}

func (s *Server) reply(framer Framer, frame Frame, response *ProtocolDataUnit, send func([]byte) error) {
	adu, err := framer.Build(frame.UnitID, frame.TransactionID, response)
	if err != nil {
		s.logf("modbus: building response: %v", err)
		return
	}
	if err := send(adu); err != nil {
		s.logf("modbus: sending response: %v", err)
	}
}

func exceptionCodeFor(err error) byte {
	if _, ok := asUnknownFunction(err); ok {
		return ExceptionCodeIllegalFunction
	}
	return ExceptionCodeIllegalDataValue
}

func asUnknownFunction(err error) (error, bool) {
	for e := err; e != nil; e = unwrap(e) {
		if e == ErrUnknownFunction {
			return e, true
		}
	}
	return nil, false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

func (s *Server) logf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}

// ServeTCP accepts TCP connections on address until ctx is cancelled,
// running one TCPFramer per connection. Grounded on
// internal/simulator/tcp_server.go's accept loop and per-connection MBAP
// parsing, generalized to go through Server.dispatch/Registry instead of a
// hardwired Handler switch.
func (s *Server) ServeTCP(ctx context.Context, address string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go s.serveTCPConn(conn)
	}
}

func (s *Server) serveTCPConn(conn net.Conn) {
	defer conn.Close()
	framer := NewTCPFramer()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			s.dispatch(framer, func(adu []byte) error {
				_, werr := conn.Write(adu)
				return werr
			})
		}
		if err != nil {
			if err != io.EOF {
				s.logf("modbus: tcp connection error: %v", err)
			}
			return
		}
	}
}

// ServeSerial drives a Server off a single transport.SerialTransport,
// sharing one Framer across the lifetime of the bus since RTU/ASCII/Binary
// have no per-connection concept (§4.D). Replies are written back through
// the same transport.
func (s *Server) ServeSerial(ctx context.Context, t *transport.SerialTransport, framer Framer) error {
	t.OnBytes(func(data []byte) {
		framer.Feed(data)
		s.dispatch(framer, func(adu []byte) error {
			return t.Send(ctx, adu)
		})
	})
	return t.Listen(ctx)
}

// ServeUDP drives a Server off a transport.UDPTransport; one datagram is
// fed and dispatched as one unit, matching §4.D's "no buffer carryover"
// rule — the framer is reset before each datagram so a malformed earlier
// datagram never bleeds into the next one.
func (s *Server) ServeUDP(ctx context.Context, t *transport.UDPTransport, newFramer func() Framer) error {
	t.OnBytes(func(data []byte) {
		framer := newFramer()
		framer.Feed(data)
		s.dispatch(framer, func(adu []byte) error {
			return t.Send(ctx, adu)
		})
	})
	return t.Listen(ctx)
}
