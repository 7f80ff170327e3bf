// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package client

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/ffutop/modbus-cli/modbus"
	"github.com/ffutop/modbus-cli/transport"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 502
	DefaultTestPort       = 5020
	DefaultUnitID         = 1
	DefaultConnectTimeout = 5 * time.Second
	DefaultRequestTimeout = 1 * time.Second
	DefaultMaxRetries     = 5
	DefaultRetryDelay     = 2 * time.Second
)

// Config describes the server the Client talks to.
type Config struct {
	Host           string
	Port           int
	UnitID         byte
	ConnectTimeout time.Duration // per connect attempt
	RequestTimeout time.Duration // per request/response cycle
	MaxRetries     int           // connect attempts
	RetryDelay     time.Duration // used when Backoff is nil
	Backoff        transport.Backoff
	// ReadRetries is how many times a timed out read is retried on a fresh
	// connection. Writes are never retried.
	ReadRetries int
	// OnRetry is called after every failed connect attempt.
	OnRetry func(attempt, maxRetries int, err error)
}

// DefaultConfig returns the defaults of the command line tool.
func DefaultConfig() Config {
	return Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		UnitID:         DefaultUnitID,
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     DefaultRetryDelay,
	}
}

// Validate checks ranges that would otherwise only fail on the wire.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &modbus.ConnectError{Kind: modbus.ConnectInvalidAddress, Address: c.Address(), Err: fmt.Errorf("port %d out of range", c.Port)}
	}
	if c.UnitID < 1 || c.UnitID > 247 {
		return fmt.Errorf("%w: %d must be between 1 and 247", modbus.ErrInvalidUnitID, c.UnitID)
	}
	if c.MaxRetries < 0 || c.ReadRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) backoff() transport.Backoff {
	if c.Backoff != nil {
		return c.Backoff
	}
	return transport.FixedBackoff(c.RetryDelay)
}
