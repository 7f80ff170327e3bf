// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ffutop/modbus-cli/modbus"
	"github.com/ffutop/modbus-cli/transport"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultMaxRetries  = 5
	defaultRetryDelay  = 2 * time.Second
)

// ContextDialer opens the TCP socket. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialOptions controls how Dial establishes a connection.
type DialOptions struct {
	// Timeout bounds a single connect attempt.
	Timeout time.Duration
	// MaxRetries is the total number of connect attempts.
	MaxRetries int
	// Backoff is consulted between attempts.
	Backoff transport.Backoff
	// OnRetry, if set, is called after every failed attempt.
	OnRetry func(attempt, maxRetries int, err error)
	// Dialer defaults to a net.Dialer.
	Dialer ContextDialer
	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

func (o *DialOptions) withDefaults() DialOptions {
	opts := *o
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDialTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Backoff == nil {
		opts.Backoff = transport.FixedBackoff(defaultRetryDelay)
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	return opts
}

// Conn owns a single TCP socket to one Modbus server.
type Conn struct {
	Address string

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Dial connects to host:port. Addresses that cannot be parsed or resolved
// fail at once with modbus.ErrInvalidAddress; otherwise up to
// opts.MaxRetries attempts are made before modbus.ErrAttemptsExhausted.
// Cancelling ctx aborts the remaining attempts.
func Dial(ctx context.Context, host string, port int, opts DialOptions) (*Conn, error) {
	o := opts.withDefaults()
	address := net.JoinHostPort(host, strconv.Itoa(port))

	if port < 1 || port > 65535 {
		return nil, &modbus.ConnectError{Kind: modbus.ConnectInvalidAddress, Address: address, Err: fmt.Errorf("port %d out of range", port)}
	}
	if host == "" {
		return nil, &modbus.ConnectError{Kind: modbus.ConnectInvalidAddress, Address: address, Err: errors.New("empty host")}
	}
	if net.ParseIP(host) == nil {
		if _, err := o.Resolver.LookupHost(ctx, host); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &modbus.ConnectError{Kind: modbus.ConnectInvalidAddress, Address: address, Err: err}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= o.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		conn, err := o.Dialer.DialContext(attemptCtx, "tcp", address)
		cancel()
		if err == nil {
			slog.Debug("connected to modbus tcp server", "addr", address, "attempt", attempt)
			return &Conn{Address: address, conn: conn}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		slog.Info("connect attempt failed", "addr", address, "attempt", attempt, "max", o.MaxRetries, "err", err)
		if o.OnRetry != nil {
			o.OnRetry(attempt, o.MaxRetries, err)
		}
		if attempt == o.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.Backoff.Delay(attempt)):
		}
	}
	return nil, &modbus.ConnectError{Kind: modbus.ConnectAttemptsExhausted, Address: address, Attempts: o.MaxRetries, Err: lastErr}
}

func (c *Conn) socket() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil, &modbus.IoError{Kind: modbus.IoClosed, Err: net.ErrClosed}
	}
	return c.conn, nil
}

// Send writes all of b.
func (c *Conn) Send(b []byte, timeout time.Duration) error {
	conn, err := c.socket()
	if err != nil {
		return err
	}
	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return classify(err, modbus.IoBrokenPipe)
		}
	}
	if _, err := conn.Write(b); err != nil {
		return classify(err, modbus.IoBrokenPipe)
	}
	return nil
}

// ReceiveExact blocks until exactly n bytes arrived, the timeout elapsed
// or the connection closed.
func (c *Conn) ReceiveExact(n int, timeout time.Duration) ([]byte, error) {
	conn, err := c.socket()
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, classify(err, modbus.IoClosed)
		}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, classify(err, modbus.IoClosed)
	}
	return buf, nil
}

// Interrupt makes a pending Send or ReceiveExact return immediately.
func (c *Conn) Interrupt() {
	if conn, err := c.socket(); err == nil {
		conn.SetDeadline(time.Now())
	}
}

// Close releases the socket. Calling it again is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	slog.Debug("closing modbus tcp connection", "addr", c.Address)
	return c.conn.Close()
}

// classify maps a socket error onto the transport error taxonomy.
func classify(err error, fallback modbus.IoErrorKind) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return &modbus.IoError{Kind: modbus.IoTimeout, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET):
		return &modbus.IoError{Kind: modbus.IoClosed, Err: err}
	case errors.Is(err, syscall.EPIPE):
		return &modbus.IoError{Kind: modbus.IoBrokenPipe, Err: err}
	default:
		return &modbus.IoError{Kind: fallback, Err: err}
	}
}
