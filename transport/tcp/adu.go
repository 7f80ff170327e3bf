// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-cli/modbus"
)

const (
	// HeaderSize is the length of the MBAP header including the unit id.
	HeaderSize = 7

	tcpMinSize = HeaderSize + 1
	tcpMaxSize = HeaderSize + modbus.MaxPDUSize

	// MBAP length covers unit id + PDU.
	minLength = 2
	maxLength = 1 + modbus.MaxPDUSize
)

// Header is the Modbus Application Protocol header.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
}

// ApplicationDataUnit is an MBAP header followed by a PDU.
type ApplicationDataUnit struct {
	Header
	Pdu modbus.ProtocolDataUnit
}

// NewApplicationDataUnit frames pdu for unitID with the given transaction id.
func NewApplicationDataUnit(transactionID uint16, unitID byte, pdu modbus.ProtocolDataUnit) *ApplicationDataUnit {
	return &ApplicationDataUnit{
		Header: Header{
			TransactionID: transactionID,
			ProtocolID:    0,
			Length:        uint16(1 + 1 + len(pdu.Data)), // UnitID + FunctionCode + Data
			UnitID:        unitID,
		},
		Pdu: pdu,
	}
}

// DecodeHeader parses the 7 byte MBAP header and checks protocol id and
// length bounds.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, &modbus.CodecError{Reason: fmt.Sprintf("MBAP header length %d, expected %d", len(raw), HeaderSize)}
	}
	h := Header{
		TransactionID: binary.BigEndian.Uint16(raw[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:4]),
		Length:        binary.BigEndian.Uint16(raw[4:6]),
		UnitID:        raw[6],
	}
	if h.ProtocolID != 0 {
		return h, &modbus.CodecError{Reason: fmt.Sprintf("protocol id 0x%04X, expected 0", h.ProtocolID)}
	}
	if h.Length < minLength || h.Length > maxLength {
		return h, &modbus.CodecError{Reason: fmt.Sprintf("MBAP length %d outside %d..%d", h.Length, minLength, maxLength)}
	}
	return h, nil
}

// Decode parses a complete frame.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	if len(raw) < tcpMinSize {
		err = &modbus.CodecError{Reason: fmt.Sprintf("frame length %d does not meet minimum %d", len(raw), tcpMinSize)}
		return
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return
	}
	if int(h.Length) != len(raw)-HeaderSize+1 {
		err = &modbus.CodecError{Reason: fmt.Sprintf("MBAP length %d does not match frame length %d", h.Length, len(raw))}
		return
	}
	pdu, err := modbus.ParseProtocolDataUnit(raw[HeaderSize:])
	if err != nil {
		return
	}
	adu = &ApplicationDataUnit{Header: h, Pdu: pdu}
	return
}

func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + tcpMinSize
	if length > tcpMaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, tcpMaxSize)
		return
	}
	raw = make([]byte, length)

	binary.BigEndian.PutUint16(raw[0:], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:], adu.Length)
	raw[6] = adu.UnitID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)

	return
}

// Verify checks that resp answers req.
func (req *Header) Verify(resp *Header) (err error) {
	// Transaction ID must match
	if resp.TransactionID != req.TransactionID {
		err = fmt.Errorf("response transaction id '%v' does not match request '%v'", resp.TransactionID, req.TransactionID)
		return
	}
	if resp.UnitID != req.UnitID {
		err = fmt.Errorf("response unit id '%v' does not match request '%v'", resp.UnitID, req.UnitID)
		return
	}
	return
}
