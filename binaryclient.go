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

// BinaryClientHandler bundles a BinaryFramer with a serial transport and
// Manager. The binary envelope (§3/§4.B) has no teacher precedent; this
// handler mirrors RTUClientHandler/ASCIIClientHandler's shape since it
// shares their single-outstanding-transaction serial rule.
type BinaryClientHandler struct {
	Framer    *BinaryFramer
	Transport *transport.SerialTransport
	Manager   *Manager

	SlaveID       byte
	BroadcastUnit byte
	Timeout       time.Duration
	Retries       int
	Logger        *log.Logger
}

// NewBinaryClientHandler allocates a BinaryClientHandler with the same
// serial defaults as RTU/ASCII.
func NewBinaryClientHandler(address string) *BinaryClientHandler {
	return &BinaryClientHandler{
		Framer: NewBinaryFramer(),
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
func (h *BinaryClientHandler) Connect(ctx context.Context) error {
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
func (h *BinaryClientHandler) Close() error {
	if h.Manager != nil {
		h.Manager.Close(nil)
	}
	return h.Transport.Close()
}

// Client builds a Client over this handler's already-connected Framer,
// Manager and transport. Connect must be called first.
func (h *BinaryClientHandler) Client() Client {
	return &client{
		framer:    h.Framer,
		manager:   h.Manager,
		unitID:    h.SlaveID,
		broadcast: h.BroadcastUnit,
		timeout:   h.Timeout,
		retries:   h.Retries,
	}
}

// BinaryClient creates a binary-envelope client with default handler and
// given connect string, opening the port eagerly.
func BinaryClient(address string) (Client, error) {
	handler := NewBinaryClientHandler(address)
	if err := handler.Connect(context.Background()); err != nil {
		return nil, err
	}
	return handler.Client(), nil
}
