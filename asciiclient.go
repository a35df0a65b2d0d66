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

// ASCIIClientHandler bundles an ASCIIFramer with a serial transport and
// Manager, mirroring RTUClientHandler.
type ASCIIClientHandler struct {
	Framer    *ASCIIFramer
	Transport *transport.SerialTransport
	Manager   *Manager

	SlaveID       byte
	BroadcastUnit byte
	Timeout       time.Duration
	Retries       int
	Logger        *log.Logger
}

// NewASCIIClientHandler allocates an ASCIIClientHandler with the teacher's
// serial defaults (19200 8E1).
func NewASCIIClientHandler(address string) *ASCIIClientHandler {
	return &ASCIIClientHandler{
		Framer: NewASCIIFramer(),
		Transport: &transport.SerialTransport{
			Address:     address,
			BaudRate:    19200,
			DataBits:    8,
			StopBits:    transport.OneStopBit,
			Parity:      transport.EvenParity,
			ReadTimeout: serialTimeout,
			IdleTimeout: serialIdleTimeout,
		},
		Timeout: serialTimeout,
		Retries: 0,
	}
}

// Connect opens the serial port and wires inbound bytes back into the
// Manager.
func (h *ASCIIClientHandler) Connect(ctx context.Context) error {
	h.Manager = NewManager(true, 0, h.Logger, func(adu []byte) error {
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

// Close stops the Manager and closes the serial port.
func (h *ASCIIClientHandler) Close() error {
	if h.Manager != nil {
		h.Manager.Close(nil)
	}
	return h.Transport.Close()
}

// Client builds a Client over this handler's already-connected Framer,
// Manager and transport. Connect must be called first.
func (h *ASCIIClientHandler) Client() Client {
	return &client{
		framer:    h.Framer,
		manager:   h.Manager,
		unitID:    h.SlaveID,
		broadcast: h.BroadcastUnit,
		timeout:   h.Timeout,
		retries:   h.Retries,
	}
}

// ASCIIClient creates an ASCII client with default handler and given
// connect string, opening the port eagerly.
func ASCIIClient(address string) (Client, error) {
	handler := NewASCIIClientHandler(address)
	if err := handler.Connect(context.Background()); err != nil {
		return nil, err
	}
	return handler.Client(), nil
}
