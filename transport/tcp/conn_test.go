// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ffutop/modbus-cli/modbus"
	"github.com/ffutop/modbus-cli/transport"
)

// closedPort returns a loopback port nobody listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	l.Close()
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestDial_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		_, err := Dial(context.Background(), "127.0.0.1", port, DialOptions{MaxRetries: 3})
		if !errors.Is(err, modbus.ErrInvalidAddress) {
			t.Errorf("port %d: expected ErrInvalidAddress, got %v", port, err)
		}
	}
}

func TestDial_UnresolvableHost(t *testing.T) {
	attempts := 0
	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("no dns in tests")
		},
	}
	_, err := Dial(context.Background(), "modbus-server.invalid", 502, DialOptions{
		MaxRetries: 3,
		Resolver:   resolver,
		OnRetry:    func(int, int, error) { attempts++ },
	})
	if !errors.Is(err, modbus.ErrInvalidAddress) {
		t.Fatalf("Expected ErrInvalidAddress, got %v", err)
	}
	if attempts != 0 {
		t.Errorf("Invalid address must not be retried, got %d attempts", attempts)
	}
}

func TestDial_AttemptsExhausted(t *testing.T) {
	port := closedPort(t)
	var reported []int
	_, err := Dial(context.Background(), "127.0.0.1", port, DialOptions{
		Timeout:    time.Second,
		MaxRetries: 3,
		Backoff:    transport.FixedBackoff(10 * time.Millisecond),
		OnRetry: func(attempt, max int, err error) {
			if max != 3 {
				t.Errorf("Expected max 3, got %d", max)
			}
			reported = append(reported, attempt)
		},
	})
	var connErr *modbus.ConnectError
	if !errors.As(err, &connErr) || connErr.Kind != modbus.ConnectAttemptsExhausted {
		t.Fatalf("Expected attempts exhausted, got %v", err)
	}
	if connErr.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", connErr.Attempts)
	}
	if len(reported) != 3 || reported[0] != 1 || reported[2] != 3 {
		t.Errorf("Unexpected retry reports %v", reported)
	}
}

func TestDial_CancelAbortsRetries(t *testing.T) {
	port := closedPort(t)
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	start := time.Now()
	_, err := Dial(ctx, "127.0.0.1", port, DialOptions{
		MaxRetries: 5,
		Backoff:    transport.FixedBackoff(time.Hour),
		OnRetry: func(int, int, error) {
			attempts++
			cancel()
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancel, got %d", attempts)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Cancel did not interrupt the backoff sleep")
	}
}

func TestConn_SendReceive(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4)
		if _, err := c.Read(buf); err != nil {
			return
		}
		// split the answer across two writes
		c.Write(buf[:1])
		time.Sleep(20 * time.Millisecond)
		c.Write(buf[1:])
		time.Sleep(time.Second)
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	conn, err := Dial(context.Background(), host, port, DialOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte{1, 2, 3, 4}, time.Second); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := conn.ReceiveExact(4, time.Second)
	if err != nil {
		t.Fatalf("ReceiveExact failed: %v", err)
	}
	if string(got) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("Unexpected bytes % X", got)
	}

	_, err = conn.ReceiveExact(1, 50*time.Millisecond)
	if !errors.Is(err, modbus.ErrIoTimeout) {
		t.Errorf("Expected ErrIoTimeout, got %v", err)
	}
}

func TestConn_PeerClose(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		c, err := listener.Accept()
		if err == nil {
			c.Close()
		}
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	conn, err := Dial(context.Background(), host, port, DialOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, err = conn.ReceiveExact(7, time.Second)
	if !errors.Is(err, modbus.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	s := newFakeServer(t, echoRegisters)
	host, port := s.hostPort(t)
	conn, err := Dial(context.Background(), host, port, DialOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if err := conn.Send([]byte{0}, time.Second); !errors.Is(err, modbus.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
	if _, err := conn.ReceiveExact(1, time.Second); !errors.Is(err, modbus.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

// captureWarnings routes slog records at Warn and above into the returned
// buffer for the rest of the test.
func captureWarnings(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRoutineFailuresLogBelowWarn(t *testing.T) {
	logs := captureWarnings(t)

	port := closedPort(t)
	_, err := Dial(context.Background(), "127.0.0.1", port, DialOptions{
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    transport.FixedBackoff(10 * time.Millisecond),
	})
	if !errors.Is(err, modbus.ErrAttemptsExhausted) {
		t.Fatalf("Expected ErrAttemptsExhausted, got %v", err)
	}

	silent := func(req *ApplicationDataUnit) ([][]byte, bool) { return nil, false }
	client := connectedClient(t, newFakeServer(t, silent))
	client.Timeout = 50 * time.Millisecond
	if _, err := client.Execute(context.Background(), 1, readPDU(0, 1)); !errors.Is(err, modbus.ErrRequestTimeout) {
		t.Fatalf("Expected ErrRequestTimeout, got %v", err)
	}

	if logs.Len() != 0 {
		t.Errorf("Expected no warnings for failures the caller reports itself, got:\n%s", logs.String())
	}
}
