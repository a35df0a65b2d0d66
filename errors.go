// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "errors"

// Sentinel errors. Each is wrapped with fmt.Errorf("%w: ...") at the call
// site so callers can still match against the sentinel with errors.Is.
var (
	// ErrInvalidQuantity is returned when a request's quantity field falls
	// outside the range the function code allows.
	ErrInvalidQuantity = errors.New("modbus: invalid quantity")
	// ErrInvalidData is returned when a request or response data field does
	// not meet the encoding rules for its function code.
	ErrInvalidData = errors.New("modbus: invalid data")
	// ErrInvalidResponse is returned when a response PDU does not match the
	// shape the request's function code requires (§4.A MalformedPayload).
	ErrInvalidResponse = errors.New("modbus: invalid response")
	// ErrShortFrame is returned when an ADU is shorter than the minimum
	// size its envelope requires.
	ErrShortFrame = errors.New("modbus: short frame")
	// ErrProtocolError is returned when a framing field (transaction id,
	// protocol id, unit id, CRC, LRC) fails verification.
	ErrProtocolError = errors.New("modbus: protocol error")

	// ErrUnknownFunction is returned by the PDU registry when no codec is
	// registered for a function code (§4.A UnknownFunction).
	ErrUnknownFunction = errors.New("modbus: unknown function code")

	// ErrTimeout is returned by the transaction manager when a request's
	// retries are exhausted without a matching response (§7 Timeout).
	ErrTimeout = errors.New("modbus: transaction timed out")
	// ErrTooManyInFlight is returned synchronously by submit when the
	// per-connection outstanding-transaction cap is exceeded, or when TID
	// allocation collides with a still-outstanding transaction (§4.C, §7).
	ErrTooManyInFlight = errors.New("modbus: too many in-flight transactions")
	// ErrDisconnected is returned to every outstanding waiter when the
	// underlying transport reports connection_lost (§7 Disconnected).
	ErrDisconnected = errors.New("modbus: connection closed")
	// ErrCancelled is returned to a waiter whose transaction was cancelled
	// by the caller before a response arrived (§5 Cancellation).
	ErrCancelled = errors.New("modbus: transaction cancelled")
)
