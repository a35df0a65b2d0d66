// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"errors"
	"testing"
)

func TestRegistryDecodeUnknownFunctionCode(t *testing.T) {
	r := NewRegistry()
	pdu := &ProtocolDataUnit{FunctionCode: 0x2B, Data: []byte{0x00}}
	if err := r.Decode(pdu); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("Decode = %v, want ErrUnknownFunction", err)
	}
}

func TestRegistryDecodeExceptionResponse(t *testing.T) {
	r := NewRegistry()
	pdu := &ProtocolDataUnit{FunctionCode: FuncCodeReadHoldingRegisters | 0x80, Data: []byte{byte(ExceptionCodeIllegalFunction)}}
	if err := r.Decode(pdu); err != nil {
		t.Fatalf("Decode exception response = %v, want nil (exception bit short-circuits validation)", err)
	}
}

func TestRegistryDecodeExceptionResponseMissingCode(t *testing.T) {
	r := NewRegistry()
	pdu := &ProtocolDataUnit{FunctionCode: FuncCodeReadHoldingRegisters | 0x80, Data: nil}
	if err := r.Decode(pdu); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData", err)
	}
}

func TestRegistryReadRequestQuantityBounds(t *testing.T) {
	r := NewRegistry()
	valid := func(quantity uint16) []byte {
		return []byte{0x00, 0x00, byte(quantity >> 8), byte(quantity)}
	}

	cases := []struct {
		name     string
		fc       byte
		quantity uint16
		wantErr  bool
	}{
		{"coils min ok", FuncCodeReadCoils, 1, false},
		{"coils max ok", FuncCodeReadCoils, 2000, false},
		{"coils zero rejected", FuncCodeReadCoils, 0, true},
		{"coils over max rejected", FuncCodeReadCoils, 2001, true},
		{"holding registers max ok", FuncCodeReadHoldingRegisters, 125, false},
		{"holding registers over max rejected", FuncCodeReadHoldingRegisters, 126, true},
		{"input registers max ok", FuncCodeReadInputRegisters, 125, false},
		{"discrete inputs max ok", FuncCodeReadDiscreteInputs, 2000, false},
	}
	for _, c := range cases {
		pdu := &ProtocolDataUnit{FunctionCode: c.fc, Data: valid(c.quantity)}
		err := r.Decode(pdu)
		if c.wantErr && !errors.Is(err, ErrInvalidData) {
			t.Errorf("%s: Decode = %v, want ErrInvalidData", c.name, err)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: Decode = %v, want nil", c.name, err)
		}
	}
}

func TestRegistryWriteSingleCoilRejectsArbitraryValue(t *testing.T) {
	r := NewRegistry()
	bad := &ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleCoil, Data: []byte{0x00, 0x00, 0x12, 0x34}}
	if err := r.Decode(bad); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for non-canonical coil value", err)
	}
	for _, value := range [][2]byte{{0x00, 0x00}, {0xFF, 0x00}} {
		ok := &ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleCoil, Data: []byte{0x00, 0x00, value[0], value[1]}}
		if err := r.Decode(ok); err != nil {
			t.Errorf("Decode coil value %v = %v, want nil", value, err)
		}
	}
}

func TestRegistryWriteMultipleCoilsByteCountConsistency(t *testing.T) {
	r := NewRegistry()
	// quantity=10 requires byteCount = ceil(10/8) = 2.
	ok := &ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleCoils, Data: []byte{0x00, 0x00, 0x00, 0x0A, 0x02, 0xFF, 0x03}}
	if err := r.Decode(ok); err != nil {
		t.Fatalf("Decode = %v, want nil", err)
	}
	bad := &ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleCoils, Data: []byte{0x00, 0x00, 0x00, 0x0A, 0x01, 0xFF}}
	if err := r.Decode(bad); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for mismatched byte count", err)
	}
	overMax := &ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleCoils, Data: []byte{0x00, 0x00, 0x07, 0xB1, 0xF7}}
	if err := r.Decode(overMax); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for quantity over 1968", err)
	}
}

func TestRegistryWriteMultipleRegistersByteCountConsistency(t *testing.T) {
	r := NewRegistry()
	ok := &ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegisters, Data: []byte{0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}}
	if err := r.Decode(ok); err != nil {
		t.Fatalf("Decode = %v, want nil", err)
	}
	bad := &ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegisters, Data: []byte{0x00, 0x00, 0x00, 0x02, 0x02, 0x00, 0x01}}
	if err := r.Decode(bad); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for mismatched byte count", err)
	}
	overMax := &ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegisters, Data: []byte{0x00, 0x00, 0x00, 0x7C, 0xF8}}
	if err := r.Decode(overMax); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for quantity over 123", err)
	}
}

func TestRegistryReadWriteMultipleRegistersBounds(t *testing.T) {
	r := NewRegistry()
	ok := &ProtocolDataUnit{FunctionCode: FuncCodeReadWriteMultipleRegisters, Data: []byte{
		0x00, 0x00, 0x00, 0x02, // read addr, read quantity
		0x00, 0x00, 0x00, 0x02, // write addr, write quantity
		0x04, 0x00, 0x03, 0x00, 0x04, // byte count + write data
	}}
	if err := r.Decode(ok); err != nil {
		t.Fatalf("Decode = %v, want nil", err)
	}

	badByteCount := &ProtocolDataUnit{FunctionCode: FuncCodeReadWriteMultipleRegisters, Data: []byte{
		0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x02,
		0x02, 0x00, 0x03, 0x00, 0x04,
	}}
	if err := r.Decode(badByteCount); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for mismatched write byte count", err)
	}

	readOverMax := &ProtocolDataUnit{FunctionCode: FuncCodeReadWriteMultipleRegisters, Data: []byte{
		0x00, 0x00, 0x00, 0x7E,
		0x00, 0x00, 0x00, 0x01,
		0x02, 0x00, 0x01,
	}}
	if err := r.Decode(readOverMax); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for read quantity over 125", err)
	}

	writeOverMax := &ProtocolDataUnit{FunctionCode: FuncCodeReadWriteMultipleRegisters, Data: []byte{
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x7A,
		0xF4,
	}}
	if err := r.Decode(writeOverMax); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("Decode = %v, want ErrInvalidData for write quantity over 121", err)
	}
}

func TestRegistryLookupAndRegisterOverride(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup(FuncCodeReadCoils); !ok {
		t.Fatal("Lookup(ReadCoils) = false, want true for a standard codec")
	}
	if _, ok := r.Lookup(0x2B); ok {
		t.Fatal("Lookup(0x2B) = true, want false for an unregistered function code")
	}

	called := false
	r.Register(Codec{FunctionCode: 0x2B, Name: "Custom", Validate: func([]byte) error {
		called = true
		return nil
	}})
	if err := r.Decode(&ProtocolDataUnit{FunctionCode: 0x2B}); err != nil {
		t.Fatalf("Decode after Register = %v, want nil", err)
	}
	if !called {
		t.Error("registered Validate was never invoked")
	}
}
