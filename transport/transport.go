// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/modbus-cli/modbus"
)

// State is the lifecycle state of a Downstream connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateIndeterminate follows a timeout or an unmatched response: the
	// server may still act on the request, so the connection must be
	// re-established before it is used again.
	StateIndeterminate
	// StateLost follows an I/O error on the socket.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateIndeterminate:
		return "indeterminate"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Downstream represents a destination for requests (A Modbus Server we connect to).
// It acts as a Client and executes one transaction at a time.
type Downstream interface {
	// Connect (re)establishes the connection. Any previous socket is dropped.
	Connect(ctx context.Context) error
	// Execute sends a PDU to a specific unit and returns the response PDU.
	// It fails fast with modbus.ErrNotConnected unless the state is StateConnected.
	Execute(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
	State() State
}
