// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ffutop/modbus-cli/modbus"
	"github.com/ffutop/modbus-cli/transport"
)

const (
	tcpTimeout = 1 * time.Second
)

// Client implements Downstream interface (Modbus TCP Client).
//
// A Client keeps one connection and runs one transaction on it at a time;
// concurrent callers queue on a single slot. The zero value is ready to use
// once Host and Port are set.
type Client struct {
	Host    string
	Port    int
	Timeout time.Duration
	Dial    DialOptions

	initOnce sync.Once
	slot     chan struct{}

	mu            sync.Mutex
	conn          *Conn
	state         transport.State
	transactionID uint16
	inFlight      map[uint16]struct{}
	// generation is bumped by Close; a Connect that started under an older
	// generation must not publish its socket.
	generation uint64
	cancelDial context.CancelFunc
}

var _ transport.Downstream = (*Client)(nil)

// NewClient allocates and initializes a TCP Client.
func NewClient(host string, port int) *Client {
	return &Client{
		Host:    host,
		Port:    port,
		Timeout: tcpTimeout,
		state:   transport.StateDisconnected,
	}
}

// Connect implements Downstream interface. A previous connection, healthy or
// not, is closed first.
func (mb *Client) Connect(ctx context.Context) error {
	if err := mb.acquire(ctx); err != nil {
		return err
	}
	defer mb.release()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mb.mu.Lock()
	old := mb.conn
	mb.conn = nil
	mb.state = transport.StateConnecting
	generation := mb.generation
	mb.cancelDial = cancel
	mb.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conn, err := Dial(dialCtx, mb.Host, mb.Port, mb.Dial)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.cancelDial = nil
	if mb.generation != generation {
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("%w while connecting to %s", modbus.ErrClientClosed, net.JoinHostPort(mb.Host, strconv.Itoa(mb.Port)))
	}
	if err != nil {
		mb.state = transport.StateDisconnected
		return err
	}
	mb.conn = conn
	mb.state = transport.StateConnected
	clear(mb.inFlight)
	slog.Info("modbus tcp client connected", "addr", conn.Address)
	return nil
}

// Execute sends a PDU to a Server and returns the response PDU.
func (mb *Client) Execute(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if err := mb.acquire(ctx); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	defer mb.release()

	mb.mu.Lock()
	if mb.state != transport.StateConnected || mb.conn == nil {
		state := mb.state
		mb.mu.Unlock()
		return modbus.ProtocolDataUnit{}, fmt.Errorf("%w (connection %s)", modbus.ErrNotConnected, state)
	}
	conn := mb.conn
	tid := mb.nextTransactionID()
	mb.inFlight[tid] = struct{}{}
	mb.mu.Unlock()

	defer func() {
		mb.mu.Lock()
		delete(mb.inFlight, tid)
		mb.mu.Unlock()
	}()

	// 1. Construct ADU
	req := NewApplicationDataUnit(tid, unitID, pdu)
	raw, err := req.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	timeout := mb.Timeout
	if timeout <= 0 {
		timeout = tcpTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := ctx.Err(); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	deadline := time.Now().Add(timeout)

	stop := context.AfterFunc(ctx, conn.Interrupt)
	defer stop()

	// 2. Send
	slog.Debug("send to modbus tcp server", "addr", conn.Address, "tid", tid, "unit", unitID,
		"func", modbus.FunctionName(pdu.FunctionCode), "request", hex.EncodeToString(raw))
	if err := conn.Send(raw, timeout); err != nil {
		return modbus.ProtocolDataUnit{}, mb.fail(ctx, conn, err)
	}

	// 3. Receive, allowing one unmatched frame
	for discarded := 0; ; discarded++ {
		header, body, err := receiveFrame(conn, time.Until(deadline))
		if err != nil {
			return modbus.ProtocolDataUnit{}, mb.fail(ctx, conn, err)
		}
		if verr := req.Verify(&header); verr != nil {
			slog.Info("discarding unexpected modbus tcp frame", "addr", conn.Address, "tid", tid, "err", verr)
			if discarded == 0 {
				continue
			}
			mb.setState(conn, transport.StateIndeterminate)
			return modbus.ProtocolDataUnit{}, &modbus.ProtocolError{Kind: modbus.ProtocolMismatchedTransaction, Err: verr}
		}
		resp, err := modbus.ParseProtocolDataUnit(body)
		if err != nil {
			return modbus.ProtocolDataUnit{}, err
		}
		slog.Debug("recv from modbus tcp server", "addr", conn.Address, "tid", tid,
			"func", modbus.FunctionName(resp.FunctionCode), "response", hex.EncodeToString(body))
		return resp, nil
	}
}

// receiveFrame reads one MBAP header and the unit id + PDU it announces.
// The returned body is the PDU only.
func receiveFrame(conn *Conn, timeout time.Duration) (Header, []byte, error) {
	if timeout <= 0 {
		return Header{}, nil, &modbus.IoError{Kind: modbus.IoTimeout, Err: errors.New("deadline exceeded before receive")}
	}
	deadline := time.Now().Add(timeout)

	raw, err := conn.ReceiveExact(HeaderSize, timeout)
	if err != nil {
		return Header{}, nil, err
	}
	header, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return Header{}, nil, &modbus.IoError{Kind: modbus.IoTimeout, Err: errors.New("deadline exceeded before PDU")}
	}
	body, err := conn.ReceiveExact(int(header.Length)-1, remaining)
	if err != nil {
		return Header{}, nil, err
	}
	return header, body, nil
}

// fail converts a transport or framing error into the caller's error and
// moves the connection out of the connected state.
func (mb *Client) fail(ctx context.Context, conn *Conn, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		mb.setState(conn, transport.StateIndeterminate)
		return fmt.Errorf("modbus: request cancelled: %w", ctx.Err())
	}

	var ioErr *modbus.IoError
	if errors.As(err, &ioErr) {
		if ioErr.Kind == modbus.IoTimeout {
			mb.setState(conn, transport.StateIndeterminate)
			return &modbus.ProtocolError{Kind: modbus.ProtocolTimeout, Err: err}
		}
		mb.setState(conn, transport.StateLost)
		return fmt.Errorf("%w: %w", modbus.ErrConnectionLost, err)
	}

	// A broken header means the byte stream can no longer be framed.
	mb.setState(conn, transport.StateLost)
	return err
}

// setState leaves the connected state for conn. It is a no-op when conn was
// replaced or closed in the meantime.
func (mb *Client) setState(conn *Conn, state transport.State) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.conn != conn || mb.state != transport.StateConnected {
		return
	}
	mb.state = state
	slog.Info("modbus tcp connection unusable until reconnect", "addr", conn.Address, "state", state)
	conn.Close()
}

func (mb *Client) nextTransactionID() uint16 {
	for {
		mb.transactionID++
		if _, busy := mb.inFlight[mb.transactionID]; !busy {
			return mb.transactionID
		}
	}
}

func (mb *Client) init() {
	mb.initOnce.Do(func() {
		mb.slot = make(chan struct{}, 1)
		mb.mu.Lock()
		if mb.inFlight == nil {
			mb.inFlight = make(map[uint16]struct{})
		}
		mb.mu.Unlock()
	})
}

func (mb *Client) acquire(ctx context.Context) error {
	mb.init()
	select {
	case mb.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *Client) release() {
	<-mb.slot
}

// State implements Downstream interface.
func (mb *Client) State() transport.State {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.state
}

// Close implements Downstream interface. A Connect still in progress is
// cancelled and will not leave a socket behind.
func (mb *Client) Close() error {
	mb.mu.Lock()
	conn := mb.conn
	mb.conn = nil
	mb.state = transport.StateDisconnected
	mb.generation++
	if mb.cancelDial != nil {
		mb.cancelDial()
		mb.cancelDial = nil
	}
	mb.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
