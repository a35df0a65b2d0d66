// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"log"
	"time"

	"github.com/lumberbarons/fieldbus/transport"
)

const (
	tcpTimeout     = 10 * time.Second
	tcpIdleTimeout = 60 * time.Second
)

// TCPClientHandler bundles the pieces a TCP client needs: the MBAP
// Framer, the Manager that owns transaction ids/timeouts/retries, and the
// underlying transport.TCPTransport. Exported so callers who need to tune
// dial/idle timeouts can do so before calling Connect. Transport is a
// *transport.TCPTransport; a *transport.TLSTransport cannot be set here.
type TCPClientHandler struct {
	Framer    *TCPFramer
	Transport *transport.TCPTransport
	Manager   *Manager

	SlaveID       byte
	BroadcastUnit byte
	Timeout       time.Duration
	Retries       int
	MaxInFlight   int
	Logger        *log.Logger
}

// NewTCPClientHandler allocates a TCPClientHandler with the teacher's
// tcpTransporter defaults (tcpTimeout/tcpIdleTimeout). Connect creates the
// Manager and wires its send callback to the transport.
func NewTCPClientHandler(address string) *TCPClientHandler {
	h := &TCPClientHandler{
		Framer: NewTCPFramer(),
		Transport: &transport.TCPTransport{
			Address:     address,
			DialTimeout: tcpTimeout,
			IdleTimeout: tcpIdleTimeout,
		},
		Timeout: tcpTimeout,
		Retries: 0,
	}
	return h
}

// Connect dials the remote and starts listening for inbound frames,
// wiring them back into the Manager for correlation (§4.C). Must be called
// before the returned Client is used; TCPClient does this automatically.
func (h *TCPClientHandler) Connect(ctx context.Context) error {
	h.Manager = NewManager(false, h.MaxInFlight, h.Logger, func(adu []byte) error {
		return h.Transport.Send(ctx, adu)
	})
	h.Transport.Logger = h.Logger
	h.Transport.OnBytes(func(data []byte) {
		h.Framer.Feed(data)
		for {
			frame, outcome := h.Framer.TryDecode()
			switch outcome {
			case Incomplete:
				return
			case Invalid:
				continue
			case Ready:
				h.Manager.OnFrame(frame.TransactionID, frame.UnitID, &frame.PDU)
			}
		}
	})
	h.Transport.OnDisconnect(func(err error) {
		h.Manager.Close(err)
	})
	return h.Transport.Connect(ctx)
}

// Close stops the Manager and closes the underlying connection.
func (h *TCPClientHandler) Close() error {
	if h.Manager != nil {
		h.Manager.Close(nil)
	}
	return h.Transport.Close()
}

// Client builds a Client over this handler's already-connected Framer,
// Manager and transport. Connect must be called first.
func (h *TCPClientHandler) Client() Client {
	return &client{
		framer:    h.Framer,
		manager:   h.Manager,
		unitID:    h.SlaveID,
		broadcast: h.BroadcastUnit,
		timeout:   h.Timeout,
		retries:   h.Retries,
	}
}

// TCPClient creates a TCP client with default handler settings and given
// connect string, dialing eagerly so the returned Client is ready to use.
func TCPClient(address string) (Client, error) {
	handler := NewTCPClientHandler(address)
	if err := handler.Connect(context.Background()); err != nil {
		return nil, err
	}
	return handler.Client(), nil
}
