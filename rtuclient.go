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
	serialTimeout     = 1 * time.Second
	serialIdleTimeout = 60 * time.Second
)

// RTUClientHandler bundles an RTUFramer, its serial transport and the
// Manager serializing requests against the bus's single-outstanding-
// transaction rule (§4.C "Serial ordering").
type RTUClientHandler struct {
	Framer    *RTUFramer
	Transport *transport.SerialTransport
	Manager   *Manager

	SlaveID       byte
	BroadcastUnit byte
	Timeout       time.Duration
	Retries       int
	Logger        *log.Logger
}

// NewRTUClientHandler allocates an RTUClientHandler with the teacher's
// serial defaults (19200 8E1).
func NewRTUClientHandler(address string) *RTUClientHandler {
	return &RTUClientHandler{
		Framer: NewRTUFramer(false),
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
// Manager. A serial bus allows at most one outstanding transaction
// (DefaultMaxInFlightSerial), enforced by Manager's serialLock.
func (h *RTUClientHandler) Connect(ctx context.Context) error {
	h.Manager = NewManager(true, 0, h.Logger, func(adu []byte) error {
		return h.Transport.Send(ctx, adu)
	})
	h.Transport.Logger = h.Logger
	var lastBytes time.Time
	h.Transport.OnBytes(func(data []byte) {
		// A buffer left stalled (e.g. on an unknown function code) is
		// dropped once the line has been idle longer than ReadTimeout.
		if h.Transport.ReadTimeout > 0 && !lastBytes.IsZero() && time.Since(lastBytes) > h.Transport.ReadTimeout {
			h.Framer.Reset()
		}
		lastBytes = time.Now()
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
func (h *RTUClientHandler) Close() error {
	if h.Manager != nil {
		h.Manager.Close(nil)
	}
	return h.Transport.Close()
}

// Client builds a Client over this handler's already-connected Framer,
// Manager and transport. Connect must be called first.
func (h *RTUClientHandler) Client() Client {
	return &client{
		framer:    h.Framer,
		manager:   h.Manager,
		unitID:    h.SlaveID,
		broadcast: h.BroadcastUnit,
		timeout:   h.Timeout,
		retries:   h.Retries,
	}
}

// RTUClient creates an RTU client with default handler and given connect
// string, opening the port eagerly.
func RTUClient(address string) (Client, error) {
	handler := NewRTUClientHandler(address)
	if err := handler.Connect(context.Background()); err != nil {
		return nil, err
	}
	return handler.Client(), nil
}
