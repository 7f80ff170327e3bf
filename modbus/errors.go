// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every request while the connection is
	// not usable. Connect (or Reconnect) clears it.
	ErrNotConnected = errors.New("modbus: not connected")

	// ErrConnectionLost is wrapped around the I/O error that killed a
	// connection in the middle of a transaction.
	ErrConnectionLost = errors.New("modbus: connection lost")

	// ErrInvalidQuantity is returned, before any I/O, for read quantities
	// outside 1..125.
	ErrInvalidQuantity = errors.New("modbus: invalid register quantity")

	// ErrRegisterRange is returned, before any I/O, when address+quantity
	// runs past register 65535.
	ErrRegisterRange = errors.New("modbus: register range exceeds address space")

	// ErrInvalidUnitID is returned for unit identifiers outside 1..247.
	ErrInvalidUnitID = errors.New("modbus: invalid unit id")

	// ErrClientClosed is returned by a Connect that was overtaken by Close.
	ErrClientClosed = errors.New("modbus: client closed")
)

// Sentinels for errors.Is matching on error kinds.
var (
	ErrInvalidAddress        = &ConnectError{Kind: ConnectInvalidAddress}
	ErrAttemptsExhausted     = &ConnectError{Kind: ConnectAttemptsExhausted}
	ErrBrokenPipe            = &IoError{Kind: IoBrokenPipe}
	ErrIoTimeout             = &IoError{Kind: IoTimeout}
	ErrClosed                = &IoError{Kind: IoClosed}
	ErrMalformed             = &CodecError{}
	ErrMismatchedTransaction = &ProtocolError{Kind: ProtocolMismatchedTransaction}
	ErrRequestTimeout        = &ProtocolError{Kind: ProtocolTimeout}

	ErrIllegalFunction              = &ModbusError{Kind: ExceptionIllegalFunction}
	ErrIllegalDataAddress           = &ModbusError{Kind: ExceptionIllegalDataAddress}
	ErrIllegalDataValue             = &ModbusError{Kind: ExceptionIllegalDataValue}
	ErrServerDeviceFailure          = &ModbusError{Kind: ExceptionServerDeviceFailure}
	ErrAcknowledge                  = &ModbusError{Kind: ExceptionAcknowledge}
	ErrServerDeviceBusy             = &ModbusError{Kind: ExceptionServerDeviceBusy}
	ErrMemoryParityError            = &ModbusError{Kind: ExceptionMemoryParityError}
	ErrGatewayPathUnavailable       = &ModbusError{Kind: ExceptionGatewayPathUnavailable}
	ErrGatewayTargetFailedToRespond = &ModbusError{Kind: ExceptionGatewayTargetFailedToRespond}
	ErrUnknownException             = &ModbusError{Kind: ExceptionUnknown}
)

// ConnectErrorKind classifies a failed connect.
type ConnectErrorKind int

const (
	ConnectInvalidAddress ConnectErrorKind = iota + 1
	ConnectAttemptsExhausted
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectInvalidAddress:
		return "invalid address"
	case ConnectAttemptsExhausted:
		return "attempts exhausted"
	default:
		return "unknown"
	}
}

// ConnectError is returned when a connection could not be established.
type ConnectError struct {
	Kind     ConnectErrorKind
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	var msg string
	switch e.Kind {
	case ConnectInvalidAddress:
		msg = fmt.Sprintf("modbus: invalid address %q", e.Address)
	case ConnectAttemptsExhausted:
		msg = fmt.Sprintf("modbus: could not connect to %s after %d attempts", e.Address, e.Attempts)
	default:
		msg = "modbus: connect failed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool {
	t, ok := target.(*ConnectError)
	return ok && t.Kind == e.Kind
}

// IoErrorKind classifies a transport failure.
type IoErrorKind int

const (
	IoBrokenPipe IoErrorKind = iota + 1
	IoTimeout
	IoClosed
)

func (k IoErrorKind) String() string {
	switch k {
	case IoBrokenPipe:
		return "broken pipe"
	case IoTimeout:
		return "timeout"
	case IoClosed:
		return "connection closed"
	default:
		return "unknown"
	}
}

// IoError is a socket level failure reported by the transport.
type IoError struct {
	Kind IoErrorKind
	Err  error
}

func (e *IoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("modbus: i/o %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("modbus: i/o %s", e.Kind)
}

func (e *IoError) Unwrap() error { return e.Err }

func (e *IoError) Is(target error) bool {
	t, ok := target.(*IoError)
	return ok && t.Kind == e.Kind
}

// Timeout reports whether the error is a receive or send timeout.
func (e *IoError) Timeout() bool { return e.Kind == IoTimeout }

// CodecError reports a frame or PDU that does not follow the protocol.
// It is never retried.
type CodecError struct {
	Reason string
}

func (e *CodecError) Error() string {
	if e.Reason == "" {
		return "modbus: malformed frame"
	}
	return "modbus: malformed frame: " + e.Reason
}

func (e *CodecError) Is(target error) bool {
	_, ok := target.(*CodecError)
	return ok
}

// ProtocolErrorKind classifies transaction manager failures.
type ProtocolErrorKind int

const (
	ProtocolMismatchedTransaction ProtocolErrorKind = iota + 1
	ProtocolTimeout
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case ProtocolMismatchedTransaction:
		return "mismatched transaction"
	case ProtocolTimeout:
		return "request timed out"
	default:
		return "unknown"
	}
}

// ProtocolError reports a response that could not be matched to its request.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("modbus: %s: %v", e.Kind, e.Err)
	}
	return "modbus: " + e.Kind.String()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Kind == e.Kind
}

// ExceptionKind names a Modbus exception code.
type ExceptionKind int

const (
	ExceptionUnknown ExceptionKind = iota
	ExceptionIllegalFunction
	ExceptionIllegalDataAddress
	ExceptionIllegalDataValue
	ExceptionServerDeviceFailure
	ExceptionAcknowledge
	ExceptionServerDeviceBusy
	ExceptionMemoryParityError
	ExceptionGatewayPathUnavailable
	ExceptionGatewayTargetFailedToRespond
)

func (k ExceptionKind) String() string {
	switch k {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	case ExceptionAcknowledge:
		return "acknowledge"
	case ExceptionServerDeviceBusy:
		return "server device busy"
	case ExceptionMemoryParityError:
		return "memory parity error"
	case ExceptionGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionGatewayTargetFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return "unknown exception"
	}
}

// ModbusError is an exception response returned by the server.
type ModbusError struct {
	Kind         ExceptionKind
	FunctionCode byte
	Code         byte
}

func (e *ModbusError) Error() string {
	if e.Kind == ExceptionUnknown {
		return fmt.Sprintf("modbus: unknown exception code 0x%02X for %s", e.Code, FunctionName(e.FunctionCode))
	}
	return fmt.Sprintf("modbus: exception 0x%02X (%s) for %s", e.Code, e.Kind, FunctionName(e.FunctionCode))
}

// Is matches on kind. An unknown-kind target with a non-zero Code also
// requires the raw code to match.
func (e *ModbusError) Is(target error) bool {
	t, ok := target.(*ModbusError)
	if !ok || t.Kind != e.Kind {
		return false
	}
	return t.Kind != ExceptionUnknown || t.Code == 0 || t.Code == e.Code
}

// MapException converts the exception code of an exception response into a
// ModbusError. functionCode is the request's function code.
func MapException(functionCode, code byte) *ModbusError {
	var kind ExceptionKind
	switch code {
	case ExceptionCodeIllegalFunction:
		kind = ExceptionIllegalFunction
	case ExceptionCodeIllegalDataAddress:
		kind = ExceptionIllegalDataAddress
	case ExceptionCodeIllegalDataValue:
		kind = ExceptionIllegalDataValue
	case ExceptionCodeServerDeviceFailure:
		kind = ExceptionServerDeviceFailure
	case ExceptionCodeAcknowledge:
		kind = ExceptionAcknowledge
	case ExceptionCodeServerDeviceBusy:
		kind = ExceptionServerDeviceBusy
	case ExceptionCodeMemoryParityError:
		kind = ExceptionMemoryParityError
	case ExceptionCodeGatewayPathUnavailable:
		kind = ExceptionGatewayPathUnavailable
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		kind = ExceptionGatewayTargetFailedToRespond
	default:
		kind = ExceptionUnknown
	}
	return &ModbusError{Kind: kind, FunctionCode: functionCode &^ ExceptionBit, Code: code}
}
