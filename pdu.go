// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "fmt"

// Function codes defined in the Modbus Application Protocol v1.1b3.
const (
	FuncCodeReadCoils                  = 1
	FuncCodeReadDiscreteInputs         = 2
	FuncCodeReadHoldingRegisters       = 3
	FuncCodeReadInputRegisters         = 4
	FuncCodeWriteSingleCoil            = 5
	FuncCodeWriteSingleRegister        = 6
	FuncCodeReadExceptionStatus        = 7
	FuncCodeWriteMultipleCoils         = 15
	FuncCodeWriteMultipleRegisters     = 16
	FuncCodeReportSlaveID              = 17
	FuncCodeReadFileRecord             = 20
	FuncCodeWriteFileRecord            = 21
	FuncCodeMaskWriteRegister          = 22
	FuncCodeReadWriteMultipleRegisters = 23
	FuncCodeReadFIFOQueue              = 24

	// exceptionBit is set on the function code of an exception response.
	exceptionBit = 0x80
)

// Exception codes defined in the Modbus Application Protocol v1.1b3.
const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                 = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable              = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

var exceptionCodeText = map[byte]string{
	ExceptionCodeIllegalFunction:                     "illegal function",
	ExceptionCodeIllegalDataAddress:                  "illegal data address",
	ExceptionCodeIllegalDataValue:                    "illegal data value",
	ExceptionCodeServerDeviceFailure:                  "server device failure",
	ExceptionCodeAcknowledge:                         "acknowledge",
	ExceptionCodeServerDeviceBusy:                    "server device busy",
	ExceptionCodeMemoryParityError:                   "memory parity error",
	ExceptionCodeGatewayPathUnavailable:              "gateway path unavailable",
	ExceptionCodeGatewayTargetDeviceFailedToRespond:  "gateway target device failed to respond",
}

// ProtocolDataUnit is independent of underlying transport.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU's function code has the exception bit
// (0x80) set.
func (pdu *ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&exceptionBit != 0
}

// ModbusError implements error interface.
// It provides the function code and the exception code it came with,
// per the ExceptionResponse error kind (§7).
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Error converts known modbus exception code to error message.
func (e *ModbusError) Error() string {
	name, ok := exceptionCodeText[e.ExceptionCode]
	if !ok {
		name = fmt.Sprintf("unknown exception code 0x%02X", e.ExceptionCode)
	}
	return fmt.Sprintf("modbus: exception '%v' (function code: 0x%02X)", name, e.FunctionCode)
}

// exceptionResponse builds an exception PDU (fc | 0x80, [exception code]) for
// a request that failed with the given exception code. Used by servers
// (§4.A/§4.E).
func exceptionResponse(functionCode, exceptionCode byte) *ProtocolDataUnit {
	return &ProtocolDataUnit{
		FunctionCode: functionCode | exceptionBit,
		Data:         []byte{exceptionCode},
	}
}

// responseError returns a *ModbusError for a response PDU whose function
// code does not match the request (i.e. carries the exception bit).
func responseError(response *ProtocolDataUnit) error {
	mbError := &ModbusError{FunctionCode: response.FunctionCode}
	if len(response.Data) > 0 {
		mbError.ExceptionCode = response.Data[0]
	}
	return mbError
}
