// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// Codec validates the shape of a request payload for one function code
// (§4.A). Validate receives the PDU data (function code already stripped)
// and returns an error describing the first constraint it violates, or nil
// if the payload is well-formed enough to hand to a handler.
type Codec struct {
	FunctionCode byte
	Name         string
	Validate     func(data []byte) error
}

// Registry maps function_code to its Codec (§4.A). decode(function_code,
// bytes) fails with ErrUnknownFunction when no codec is registered and
// ErrInvalidData when a registered codec's Validate rejects the payload;
// encode is infallible on well-formed input since ProtocolDataUnit already
// holds the function code and payload bytes directly.
//
// Generalized from internal/simulator/handler.go's HandleRequest switch,
// which interleaved this validation with DataStore access; here the two are
// split so the registry can be reused by both client-side response checking
// and server-side request dispatch.
type Registry struct {
	codecs map[byte]Codec
}

// NewRegistry builds a Registry pre-populated with the standard function
// codes (§1/§4.A).
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[byte]Codec)}
	for _, c := range standardCodecs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the codec for c.FunctionCode.
func (r *Registry) Register(c Codec) {
	r.codecs[c.FunctionCode] = c
}

// Lookup returns the codec registered for functionCode, if any.
func (r *Registry) Lookup(functionCode byte) (Codec, bool) {
	c, ok := r.codecs[functionCode]
	return c, ok
}

// Decode validates pdu.Data against the codec registered for
// pdu.FunctionCode. Exception responses (fc has the high bit set) are
// handled uniformly here rather than via a per-function codec, since they
// all share the same one-byte exception-code shape (§4.A).
func (r *Registry) Decode(pdu *ProtocolDataUnit) error {
	if pdu.IsException() {
		if len(pdu.Data) < 1 {
			return fmt.Errorf("%w: exception response missing exception code", ErrInvalidData)
		}
		return nil
	}
	codec, ok := r.codecs[pdu.FunctionCode]
	if !ok {
		return fmt.Errorf("%w: function code 0x%02X", ErrUnknownFunction, pdu.FunctionCode)
	}
	if codec.Validate == nil {
		return nil
	}
	if err := codec.Validate(pdu.Data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}

// standardCodecs are the validators for the function codes defined in §1,
// grounded on the per-function length/quantity checks in
// internal/simulator/handler.go's handleReadCoils et al.
var standardCodecs = []Codec{
	{FunctionCode: FuncCodeReadCoils, Name: "ReadCoils", Validate: validateReadRequest(2000)},
	{FunctionCode: FuncCodeReadDiscreteInputs, Name: "ReadDiscreteInputs", Validate: validateReadRequest(2000)},
	{FunctionCode: FuncCodeReadHoldingRegisters, Name: "ReadHoldingRegisters", Validate: validateReadRequest(125)},
	{FunctionCode: FuncCodeReadInputRegisters, Name: "ReadInputRegisters", Validate: validateReadRequest(125)},
	{FunctionCode: FuncCodeWriteSingleCoil, Name: "WriteSingleCoil", Validate: validateWriteSingleCoil},
	{FunctionCode: FuncCodeWriteSingleRegister, Name: "WriteSingleRegister", Validate: validateFixedLength(4)},
	{FunctionCode: FuncCodeWriteMultipleCoils, Name: "WriteMultipleCoils", Validate: validateWriteMultipleCoils},
	{FunctionCode: FuncCodeWriteMultipleRegisters, Name: "WriteMultipleRegisters", Validate: validateWriteMultipleRegisters},
	{FunctionCode: FuncCodeMaskWriteRegister, Name: "MaskWriteRegister", Validate: validateFixedLength(6)},
	{FunctionCode: FuncCodeReadWriteMultipleRegisters, Name: "ReadWriteMultipleRegisters", Validate: validateReadWriteMultipleRegisters},
	{FunctionCode: FuncCodeReadFIFOQueue, Name: "ReadFIFOQueue", Validate: validateFixedLength(2)},
}

func validateFixedLength(n int) func([]byte) error {
	return func(data []byte) error {
		if len(data) < n {
			return fmt.Errorf("length %d, want at least %d", len(data), n)
		}
		return nil
	}
}

func validateReadRequest(maxQuantity uint16) func([]byte) error {
	return func(data []byte) error {
		if len(data) < 4 {
			return fmt.Errorf("length %d, want at least 4", len(data))
		}
		quantity := binary.BigEndian.Uint16(data[2:4])
		if quantity < 1 || quantity > maxQuantity {
			return fmt.Errorf("quantity %d out of range [1, %d]", quantity, maxQuantity)
		}
		return nil
	}
}

func validateWriteSingleCoil(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("length %d, want at least 4", len(data))
	}
	value := binary.BigEndian.Uint16(data[2:4])
	if value != 0x0000 && value != 0xFF00 {
		return fmt.Errorf("coil value 0x%04X is neither 0x0000 nor 0xFF00", value)
	}
	return nil
}

func validateWriteMultipleCoils(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("length %d, want at least 5", len(data))
	}
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]
	if quantity < 1 || quantity > 1968 {
		return fmt.Errorf("quantity %d out of range [1, 1968]", quantity)
	}
	expected := (quantity + 7) / 8
	if uint16(byteCount) != expected || len(data) < int(5+byteCount) {
		return fmt.Errorf("byte count %d inconsistent with quantity %d", byteCount, quantity)
	}
	return nil
}

func validateWriteMultipleRegisters(data []byte) error {
	if len(data) < 5 {
		return fmt.Errorf("length %d, want at least 5", len(data))
	}
	quantity := binary.BigEndian.Uint16(data[2:4])
	byteCount := data[4]
	if quantity < 1 || quantity > 123 {
		return fmt.Errorf("quantity %d out of range [1, 123]", quantity)
	}
	if byteCount != byte(quantity*2) || len(data) < int(5+byteCount) {
		return fmt.Errorf("byte count %d inconsistent with quantity %d", byteCount, quantity)
	}
	return nil
}

func validateReadWriteMultipleRegisters(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("length %d, want at least 9", len(data))
	}
	readQuantity := binary.BigEndian.Uint16(data[2:4])
	writeQuantity := binary.BigEndian.Uint16(data[6:8])
	writeByteCount := data[8]
	if readQuantity < 1 || readQuantity > 125 {
		return fmt.Errorf("read quantity %d out of range [1, 125]", readQuantity)
	}
	if writeQuantity < 1 || writeQuantity > 121 {
		return fmt.Errorf("write quantity %d out of range [1, 121]", writeQuantity)
	}
	if writeByteCount != byte(writeQuantity*2) || len(data) < int(9+writeByteCount) {
		return fmt.Errorf("write byte count %d inconsistent with write quantity %d", writeByteCount, writeQuantity)
	}
	return nil
}
