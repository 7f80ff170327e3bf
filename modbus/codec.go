// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// Request is a PDU the client can send.
type Request interface {
	FunctionCode() byte
	Encode() (ProtocolDataUnit, error)
}

// Response is one of ReadHoldingRegistersResponse,
// WriteSingleRegisterResponse or ExceptionResponse.
type Response interface {
	isResponse()
}

// ReadHoldingRegistersRequest reads Quantity registers starting at Address.
type ReadHoldingRegistersRequest struct {
	Address  uint16
	Quantity uint16
}

func (ReadHoldingRegistersRequest) FunctionCode() byte { return FuncCodeReadHoldingRegisters }

func (r ReadHoldingRegistersRequest) Encode() (ProtocolDataUnit, error) {
	raw, err := EncodeReadHoldingRegisters(r.Address, r.Quantity)
	if err != nil {
		return ProtocolDataUnit{}, err
	}
	return ProtocolDataUnit{FunctionCode: raw[0], Data: raw[1:]}, nil
}

// WriteSingleRegisterRequest writes Value to the register at Address.
type WriteSingleRegisterRequest struct {
	Address uint16
	Value   uint16
}

func (WriteSingleRegisterRequest) FunctionCode() byte { return FuncCodeWriteSingleRegister }

func (r WriteSingleRegisterRequest) Encode() (ProtocolDataUnit, error) {
	raw := EncodeWriteSingleRegister(r.Address, r.Value)
	return ProtocolDataUnit{FunctionCode: raw[0], Data: raw[1:]}, nil
}

// ReadHoldingRegistersResponse carries register values in request order.
type ReadHoldingRegistersResponse struct {
	Values []uint16
}

// WriteSingleRegisterResponse echoes the written address and value.
type WriteSingleRegisterResponse struct {
	Address uint16
	Value   uint16
}

// ExceptionResponse is returned by the server instead of data.
// FunctionCode keeps the exception bit as received.
type ExceptionResponse struct {
	FunctionCode  byte
	ExceptionCode byte
}

// Err converts the exception into a ModbusError.
func (r ExceptionResponse) Err() *ModbusError {
	return MapException(r.FunctionCode, r.ExceptionCode)
}

func (ReadHoldingRegistersResponse) isResponse() {}
func (WriteSingleRegisterResponse) isResponse()  {}
func (ExceptionResponse) isResponse()            {}

// ValidateReadQuantity checks the register count of a read request.
func ValidateReadQuantity(quantity uint16) error {
	if quantity < 1 || quantity > MaxReadQuantity {
		return fmt.Errorf("%w: quantity %d must be between 1 and %d", ErrInvalidQuantity, quantity, MaxReadQuantity)
	}
	return nil
}

// EncodeReadHoldingRegisters builds the PDU of function code 0x03.
func EncodeReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if err := ValidateReadQuantity(quantity); err != nil {
		return nil, err
	}
	raw := make([]byte, 5)
	raw[0] = FuncCodeReadHoldingRegisters
	binary.BigEndian.PutUint16(raw[1:3], address)
	binary.BigEndian.PutUint16(raw[3:5], quantity)
	return raw, nil
}

// EncodeWriteSingleRegister builds the PDU of function code 0x06.
func EncodeWriteSingleRegister(address, value uint16) []byte {
	raw := make([]byte, 5)
	raw[0] = FuncCodeWriteSingleRegister
	binary.BigEndian.PutUint16(raw[1:3], address)
	binary.BigEndian.PutUint16(raw[3:5], value)
	return raw
}

// DecodeResponse decodes the response PDU to a request sent with
// functionCodeSent.
func DecodeResponse(functionCodeSent byte, raw []byte) (Response, error) {
	if len(raw) == 0 {
		return nil, &CodecError{Reason: "empty response PDU"}
	}
	pdu := ProtocolDataUnit{FunctionCode: raw[0], Data: raw[1:]}
	fc, data := pdu.FunctionCode, pdu.Data

	if pdu.IsException() {
		if fc&^ExceptionBit != functionCodeSent {
			return nil, &CodecError{Reason: fmt.Sprintf("exception function code 0x%02X does not match request 0x%02X", fc, functionCodeSent)}
		}
		if len(data) != 1 {
			return nil, &CodecError{Reason: fmt.Sprintf("exception response length %d, expected 1", len(data))}
		}
		return ExceptionResponse{FunctionCode: fc, ExceptionCode: data[0]}, nil
	}

	if fc != functionCodeSent {
		return nil, &CodecError{Reason: fmt.Sprintf("response function code 0x%02X does not match request 0x%02X", fc, functionCodeSent)}
	}

	switch fc {
	case FuncCodeReadHoldingRegisters:
		return decodeReadHoldingRegisters(data)
	case FuncCodeWriteSingleRegister:
		if len(data) != 4 {
			return nil, &CodecError{Reason: fmt.Sprintf("write single register response length %d, expected 4", len(data))}
		}
		return WriteSingleRegisterResponse{
			Address: binary.BigEndian.Uint16(data[0:2]),
			Value:   binary.BigEndian.Uint16(data[2:4]),
		}, nil
	default:
		return nil, &CodecError{Reason: fmt.Sprintf("unsupported function code 0x%02X", fc)}
	}
}

func decodeReadHoldingRegisters(data []byte) (Response, error) {
	if len(data) < 1 {
		return nil, &CodecError{Reason: "read response missing byte count"}
	}
	byteCount := int(data[0])
	if len(data)-1 != byteCount {
		return nil, &CodecError{Reason: fmt.Sprintf("read response byte count %d does not match payload length %d", byteCount, len(data)-1)}
	}
	if byteCount%2 != 0 {
		return nil, &CodecError{Reason: fmt.Sprintf("odd byte count %d in read response", byteCount)}
	}
	values := make([]uint16, byteCount/2)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[1+2*i:])
	}
	return ReadHoldingRegistersResponse{Values: values}, nil
}
