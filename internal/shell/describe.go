// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ffutop/modbus-cli/modbus"
)

// Message is an operator facing description of an error.
type Message struct {
	Message string
	Reason  string
	Hint    string
	Err     error
}

func (m Message) String() string {
	var buf strings.Builder
	buf.WriteString(m.Message)
	if m.Reason != "" {
		buf.WriteString("\n  Reason: " + m.Reason)
	}
	if m.Hint != "" {
		buf.WriteString("\n  Hint: " + m.Hint)
	}
	return buf.String()
}

// Describe turns a client error into a Message. Every error kind gets its
// own wording.
func Describe(err error) Message {
	m := Message{Err: err}
	var (
		connErr     *modbus.ConnectError
		modbusErr   *modbus.ModbusError
		ioErr       *modbus.IoError
		codecErr    *modbus.CodecError
		protocolErr *modbus.ProtocolError
	)

	switch {
	case err == nil:
		m.Message = "OK"
	case errors.Is(err, context.Canceled):
		m.Message = "Operation cancelled"
		m.Reason = "interrupted before the server answered"
		m.Hint = "The connection must be re-established before the next request"
	case errors.Is(err, modbus.ErrClientClosed):
		m.Message = "Client closed"
		m.Reason = err.Error()
		m.Hint = "The connection was closed while it was being established"
	case errors.Is(err, modbus.ErrInvalidQuantity):
		m.Message = "Invalid register count"
		m.Reason = err.Error()
		m.Hint = fmt.Sprintf("Read between 1 and %d registers at a time", modbus.MaxReadQuantity)
	case errors.Is(err, modbus.ErrRegisterRange):
		m.Message = "Register range out of bounds"
		m.Reason = err.Error()
		m.Hint = "Start address plus count must not exceed 65536"
	case errors.Is(err, modbus.ErrInvalidUnitID):
		m.Message = "Invalid unit id"
		m.Reason = err.Error()
		m.Hint = "Use a unit id between 1 and 247"
	case errors.As(err, &connErr) && connErr.Kind == modbus.ConnectInvalidAddress:
		m.Message = fmt.Sprintf("Invalid server address %s", connErr.Address)
		m.Reason = reason(connErr.Err)
		m.Hint = "Check the host name and use a port between 1 and 65535"
	case errors.As(err, &connErr):
		m.Message = fmt.Sprintf("Could not connect to %s after %d attempts", connErr.Address, connErr.Attempts)
		m.Reason = networkReason(connErr.Err)
		m.Hint = "Make sure the server is running and reachable"
	case errors.Is(err, modbus.ErrNotConnected):
		m.Message = "Not connected"
		m.Reason = err.Error()
		m.Hint = "Reconnect before sending requests"
	case errors.As(err, &protocolErr) && protocolErr.Kind == modbus.ProtocolTimeout:
		m.Message = "No response from server"
		m.Reason = "the request timed out"
		m.Hint = "The server may be overloaded or the unit id may be wrong; the connection will be reset"
	case errors.As(err, &protocolErr):
		m.Message = "Response did not match the request"
		m.Reason = reason(protocolErr.Err)
		m.Hint = "The connection will be reset"
	case errors.As(err, &modbusErr):
		m.Message = fmt.Sprintf("Server rejected the request: %s", modbusErr.Kind)
		m.Reason = fmt.Sprintf("exception code 0x%02X for function 0x%02X", modbusErr.Code, modbusErr.FunctionCode)
		m.Hint = exceptionHint(modbusErr.Kind)
	case errors.Is(err, modbus.ErrConnectionLost):
		m.Message = "Connection lost"
		if errors.As(err, &ioErr) {
			m.Reason = networkReason(ioErr)
		} else {
			m.Reason = err.Error()
		}
		m.Hint = "Reconnect to continue"
	case errors.As(err, &codecErr):
		m.Message = "Malformed response"
		m.Reason = codecErr.Reason
		m.Hint = "The server answered with a frame that is not valid Modbus TCP"
	case errors.As(err, &ioErr):
		m.Message = "Network error"
		m.Reason = networkReason(ioErr)
	default:
		m.Message = "Unexpected error"
		m.Reason = err.Error()
	}
	return m
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func networkReason(err error) string {
	if err == nil {
		return ""
	}
	var ioErr *modbus.IoError
	if errors.As(err, &ioErr) {
		switch ioErr.Kind {
		case modbus.IoTimeout:
			return "timed out waiting for the server"
		case modbus.IoClosed:
			return "the server closed the connection"
		case modbus.IoBrokenPipe:
			return "the connection was reset while sending"
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection refused, nothing is listening on this port"
	case strings.Contains(msg, "no route to host"):
		return "no route to host"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "timed out"
	}
	return msg
}

func exceptionHint(kind modbus.ExceptionKind) string {
	switch kind {
	case modbus.ExceptionIllegalFunction:
		return "The server does not support this function"
	case modbus.ExceptionIllegalDataAddress:
		return "The register address is not available on this device"
	case modbus.ExceptionIllegalDataValue:
		return "The value or count is not accepted by this device"
	case modbus.ExceptionServerDeviceFailure:
		return "The device failed while handling the request"
	case modbus.ExceptionAcknowledge, modbus.ExceptionServerDeviceBusy:
		return "The device is busy, try again later"
	case modbus.ExceptionGatewayPathUnavailable, modbus.ExceptionGatewayTargetFailedToRespond:
		return "The gateway could not reach the target device; check the unit id"
	}
	return ""
}
