// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package tcp

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/ffutop/modbus-cli/modbus"
)

// replyFunc decides what the fake server writes back for one request.
// Returning nil writes nothing; closeConn drops the connection.
type replyFunc func(req *ApplicationDataUnit) (frames [][]byte, closeConn bool)

// fakeServer is a scripted Modbus TCP server on a loopback port.
type fakeServer struct {
	listener net.Listener
	reply    replyFunc

	mu       sync.Mutex
	requests []*ApplicationDataUnit
	accepted int
}

func newFakeServer(t *testing.T, reply replyFunc) *fakeServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeServer{listener: listener, reply: reply}
	go s.serve()
	t.Cleanup(func() { listener.Close() })
	return s
}

func (s *fakeServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		go s.handleConnection(conn)
	}
}

func (s *fakeServer) handleConnection(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, HeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := int(binary.BigEndian.Uint16(header[4:6]))
		body := make([]byte, length-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		adu, err := Decode(append(header, body...))
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, adu)
		s.mu.Unlock()

		frames, closeConn := s.reply(adu)
		for _, f := range frames {
			if _, err := conn.Write(f); err != nil {
				return
			}
		}
		if closeConn {
			return
		}
	}
}

func (s *fakeServer) received() []*ApplicationDataUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ApplicationDataUnit(nil), s.requests...)
}

func (s *fakeServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// frame encodes a response to req with the given PDU, overriding the
// transaction id by delta.
func frame(req *ApplicationDataUnit, delta uint16, pdu modbus.ProtocolDataUnit) []byte {
	adu := NewApplicationDataUnit(req.TransactionID+delta, req.UnitID, pdu)
	raw, err := adu.Encode()
	if err != nil {
		panic(err)
	}
	return raw
}

// echoRegisters answers a read with register i = address+i and echoes writes.
func echoRegisters(req *ApplicationDataUnit) ([][]byte, bool) {
	switch req.Pdu.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		address := binary.BigEndian.Uint16(req.Pdu.Data[0:2])
		quantity := binary.BigEndian.Uint16(req.Pdu.Data[2:4])
		data := []byte{byte(2 * quantity)}
		for i := uint16(0); i < quantity; i++ {
			data = binary.BigEndian.AppendUint16(data, address+i)
		}
		return [][]byte{frame(req, 0, modbus.ProtocolDataUnit{FunctionCode: req.Pdu.FunctionCode, Data: data})}, false
	case modbus.FuncCodeWriteSingleRegister:
		return [][]byte{frame(req, 0, req.Pdu)}, false
	default:
		return [][]byte{frame(req, 0, modbus.ProtocolDataUnit{
			FunctionCode: req.Pdu.FunctionCode | modbus.ExceptionBit,
			Data:         []byte{modbus.ExceptionCodeIllegalFunction},
		})}, false
	}
}
