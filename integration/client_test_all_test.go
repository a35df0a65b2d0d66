// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license.  See the LICENSE file for details.

package integration

import (
	"context"
	"testing"

	"github.com/lumberbarons/fieldbus"
)

// ClientTestAll exercises every Client operation against whatever server a
// caller wired up (TCP/RTU/ASCII/Binary, real or simulated), the way the
// teacher's advanced-usage tests smoke-test a handful of calls but spread
// across the full function code set.
func ClientTestAll(t *testing.T, client modbus.Client) {
	t.Helper()
	ctx := context.Background()

	if _, err := client.ReadCoils(ctx, 0, 8); err != nil {
		t.Errorf("ReadCoils: %v", err)
	}
	if _, err := client.ReadDiscreteInputs(ctx, 0, 8); err != nil {
		t.Errorf("ReadDiscreteInputs: %v", err)
	}
	if _, err := client.ReadHoldingRegisters(ctx, 0, 4); err != nil {
		t.Errorf("ReadHoldingRegisters: %v", err)
	}
	if _, err := client.ReadInputRegisters(ctx, 0, 4); err != nil {
		t.Errorf("ReadInputRegisters: %v", err)
	}
	if _, err := client.WriteSingleCoil(ctx, 0, 0xFF00); err != nil {
		t.Errorf("WriteSingleCoil: %v", err)
	}
	if _, err := client.WriteSingleRegister(ctx, 0, 1234); err != nil {
		t.Errorf("WriteSingleRegister: %v", err)
	}
	if _, err := client.WriteMultipleCoils(ctx, 0, 8, []byte{0xFF}); err != nil {
		t.Errorf("WriteMultipleCoils: %v", err)
	}
	if _, err := client.WriteMultipleRegisters(ctx, 0, 2, []byte{0, 1, 0, 2}); err != nil {
		t.Errorf("WriteMultipleRegisters: %v", err)
	}
	if _, err := client.MaskWriteRegister(ctx, 0, 0x00FF, 0xFF00); err != nil {
		t.Errorf("MaskWriteRegister: %v", err)
	}
	if _, err := client.ReadWriteMultipleRegisters(ctx, 0, 2, 0, 2, []byte{0, 3, 0, 4}); err != nil {
		t.Errorf("ReadWriteMultipleRegisters: %v", err)
	}
	// The bundled simulator does not model a FIFO queue; a well-behaved
	// server reports that with an illegal-function exception rather than
	// silently fabricating data.
	if _, err := client.ReadFIFOQueue(ctx, 0); err == nil {
		t.Error("ReadFIFOQueue: expected illegal-function exception from simulator, got nil error")
	}
}
