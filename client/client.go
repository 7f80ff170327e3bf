// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package client is the public API of the Modbus TCP client: connect, read
// holding registers, write a single register, close.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-cli/modbus"
	"github.com/ffutop/modbus-cli/transport"
	"github.com/ffutop/modbus-cli/transport/tcp"
)

// Client is a Modbus TCP client bound to at most one server connection.
// It is safe for concurrent use; requests are executed one at a time.
type Client struct {
	connectMu sync.Mutex // serializes Connect and Reconnect

	mu  sync.Mutex
	cfg *Config
	ds  transport.Downstream
	// pending is the downstream of a Connect or Reconnect in progress.
	pending    transport.Downstream
	generation uint64 // bumped by Close

	newDownstream func(Config) transport.Downstream
}

// New returns an unconnected Client.
func New() *Client {
	return &Client{newDownstream: newTCPDownstream}
}

func newTCPDownstream(cfg Config) transport.Downstream {
	ds := tcp.NewClient(cfg.Host, cfg.Port)
	ds.Timeout = cfg.RequestTimeout
	ds.Dial = tcp.DialOptions{
		Timeout:    cfg.ConnectTimeout,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.backoff(),
		OnRetry:    cfg.OnRetry,
	}
	return ds
}

// Connect closes any current connection and connects to the server in cfg,
// retrying as cfg describes.
func (c *Client) Connect(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	ds := c.newDownstream(cfg)
	c.mu.Lock()
	old := c.ds
	c.ds = nil
	c.cfg = &cfg
	c.pending = ds
	generation := c.generation
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if err := ds.Connect(ctx); err != nil {
		c.clearPending(ds)
		ds.Close()
		return err
	}
	if err := c.publish(ds, generation); err != nil {
		return err
	}
	slog.Info("connected to modbus server", "addr", cfg.Address(), "unit", cfg.UnitID)
	return nil
}

// Reconnect re-establishes the connection of the last Connect call.
func (c *Client) Reconnect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.cfg == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: reconnect before connect", modbus.ErrNotConnected)
	}
	cfg := *c.cfg
	ds := c.ds
	if ds == nil {
		ds = c.newDownstream(cfg)
	}
	c.pending = ds
	generation := c.generation
	c.mu.Unlock()

	slog.Info("reconnecting to modbus server", "addr", cfg.Address())
	if err := ds.Connect(ctx); err != nil {
		c.clearPending(ds)
		return err
	}
	return c.publish(ds, generation)
}

// publish installs a freshly connected downstream unless Close ran since
// generation was taken, in which case the downstream is closed.
func (c *Client) publish(ds transport.Downstream, generation uint64) error {
	c.mu.Lock()
	if c.pending == ds {
		c.pending = nil
	}
	if c.generation != generation {
		c.mu.Unlock()
		ds.Close()
		return fmt.Errorf("%w during connect", modbus.ErrClientClosed)
	}
	c.ds = ds
	c.mu.Unlock()
	return nil
}

func (c *Client) clearPending(ds transport.Downstream) {
	c.mu.Lock()
	if c.pending == ds {
		c.pending = nil
	}
	c.mu.Unlock()
}

// ReadHoldingRegisters reads quantity registers starting at address.
// Invalid quantities fail before any network I/O.
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	if err := modbus.ValidateReadQuantity(quantity); err != nil {
		return nil, err
	}
	if int(address)+int(quantity) > 1<<16 {
		return nil, fmt.Errorf("%w: %d registers from address %d", modbus.ErrRegisterRange, quantity, address)
	}
	req := modbus.ReadHoldingRegistersRequest{Address: address, Quantity: quantity}

	for attempt := 0; ; attempt++ {
		values, err := c.readHoldingRegisters(ctx, req)
		if err == nil || !errors.Is(err, modbus.ErrRequestTimeout) || attempt >= c.readRetries() {
			return values, err
		}
		slog.Info("read timed out, retrying on a new connection", "address", address, "quantity", quantity, "attempt", attempt+1)
		if rerr := c.Reconnect(ctx); rerr != nil {
			return nil, fmt.Errorf("%w (reconnect failed: %v)", err, rerr)
		}
	}
}

func (c *Client) readHoldingRegisters(ctx context.Context, req modbus.ReadHoldingRegistersRequest) ([]uint16, error) {
	resp, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	switch r := resp.(type) {
	case modbus.ReadHoldingRegistersResponse:
		if len(r.Values) != int(req.Quantity) {
			return nil, &modbus.CodecError{Reason: fmt.Sprintf("requested %d registers, received %d", req.Quantity, len(r.Values))}
		}
		return r.Values, nil
	case modbus.ExceptionResponse:
		return nil, r.Err()
	default:
		return nil, &modbus.CodecError{Reason: fmt.Sprintf("unexpected response %T", resp)}
	}
}

// WriteSingleRegister writes value to the register at address.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	req := modbus.WriteSingleRegisterRequest{Address: address, Value: value}
	resp, err := c.execute(ctx, req)
	if err != nil {
		return err
	}
	switch r := resp.(type) {
	case modbus.WriteSingleRegisterResponse:
		if r.Address != address || r.Value != value {
			return &modbus.CodecError{Reason: fmt.Sprintf("write echo %d=%d does not match request %d=%d", r.Address, r.Value, address, value)}
		}
		return nil
	case modbus.ExceptionResponse:
		return r.Err()
	default:
		return &modbus.CodecError{Reason: fmt.Sprintf("unexpected response %T", resp)}
	}
}

func (c *Client) execute(ctx context.Context, req modbus.Request) (modbus.Response, error) {
	c.mu.Lock()
	ds := c.ds
	var unitID byte
	if c.cfg != nil {
		unitID = c.cfg.UnitID
	}
	c.mu.Unlock()
	if ds == nil {
		return nil, modbus.ErrNotConnected
	}

	pdu, err := req.Encode()
	if err != nil {
		return nil, err
	}
	resp, err := ds.Execute(ctx, unitID, pdu)
	if err != nil {
		return nil, err
	}
	return modbus.DecodeResponse(req.FunctionCode(), resp.Bytes())
}

func (c *Client) readRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return 0
	}
	return c.cfg.ReadRetries
}

// State reports the state of the underlying connection.
func (c *Client) State() transport.State {
	c.mu.Lock()
	ds := c.ds
	c.mu.Unlock()
	if ds == nil {
		return transport.StateDisconnected
	}
	return ds.State()
}

// Config returns the configuration of the last Connect call.
func (c *Client) Config() (Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return Config{}, false
	}
	return *c.cfg, true
}

// Close releases the connection and aborts a Connect in progress. It is safe
// to call on a client that never connected, and more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	ds := c.ds
	pending := c.pending
	c.ds = nil
	c.pending = nil
	c.generation++
	c.mu.Unlock()
	if pending != nil && pending != ds {
		pending.Close()
	}
	if ds == nil {
		return nil
	}
	slog.Debug("closing modbus client")
	return ds.Close()
}
