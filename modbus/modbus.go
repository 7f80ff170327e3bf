// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the transport-independent parts of the Modbus
// application protocol: protocol data units, function and exception codes,
// the holding register codec and the error taxonomy shared by the client.
package modbus

import "fmt"

const (
	// MaxPDUSize is the largest PDU allowed on any Modbus transport.
	MaxPDUSize = 253

	// MaxReadQuantity is the largest register count of a single read:
	// 1 byte function code + 1 byte count + 2*125 bytes of data fit in MaxPDUSize.
	MaxReadQuantity = 125

	// ExceptionBit is set in the function code of an exception response.
	ExceptionBit = 0x80
)

// Function Codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
)

// Exception Codes
const (
	ExceptionCodeIllegalFunction                    = 0x01
	ExceptionCodeIllegalDataAddress                 = 0x02
	ExceptionCodeIllegalDataValue                   = 0x03
	ExceptionCodeServerDeviceFailure                = 0x04
	ExceptionCodeAcknowledge                        = 0x05
	ExceptionCodeServerDeviceBusy                   = 0x06
	ExceptionCodeMemoryParityError                  = 0x08
	ExceptionCodeGatewayPathUnavailable             = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 0x0B
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Bytes returns the PDU as it appears on the wire.
func (pdu ProtocolDataUnit) Bytes() []byte {
	raw := make([]byte, 1+len(pdu.Data))
	raw[0] = pdu.FunctionCode
	copy(raw[1:], pdu.Data)
	return raw
}

// IsException reports whether the PDU carries an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&ExceptionBit != 0
}

// ParseProtocolDataUnit splits raw bytes into function code and data.
// The data slice is copied.
func ParseProtocolDataUnit(raw []byte) (ProtocolDataUnit, error) {
	if len(raw) == 0 {
		return ProtocolDataUnit{}, &CodecError{Reason: "empty PDU"}
	}
	if len(raw) > MaxPDUSize {
		return ProtocolDataUnit{}, &CodecError{Reason: fmt.Sprintf("PDU length %d exceeds %d", len(raw), MaxPDUSize)}
	}
	data := make([]byte, len(raw)-1)
	copy(data, raw[1:])
	return ProtocolDataUnit{FunctionCode: raw[0], Data: data}, nil
}

// FunctionName returns a readable name of a function code for logging.
func FunctionName(code byte) string {
	suffix := ""
	if code&ExceptionBit != 0 {
		suffix = " (exception)"
		code &^= ExceptionBit
	}
	var name string
	switch code {
	case FuncCodeReadCoils:
		name = "ReadCoils"
	case FuncCodeReadDiscreteInputs:
		name = "ReadDiscreteInputs"
	case FuncCodeReadHoldingRegisters:
		name = "ReadHoldingRegisters"
	case FuncCodeReadInputRegisters:
		name = "ReadInputRegisters"
	case FuncCodeWriteSingleCoil:
		name = "WriteSingleCoil"
	case FuncCodeWriteSingleRegister:
		name = "WriteSingleRegister"
	case FuncCodeWriteMultipleCoils:
		name = "WriteMultipleCoils"
	case FuncCodeWriteMultipleRegisters:
		name = "WriteMultipleRegisters"
	default:
		name = fmt.Sprintf("0x%02X", code)
	}
	return name + suffix
}
