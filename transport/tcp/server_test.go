// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/brainelectronics/go-modbus/modbus"
	"github.com/brainelectronics/go-modbus/transport"
)

// startServer runs a Server on an ephemeral port and returns its address.
func startServer(t *testing.T, handler transport.RequestHandler) string {
	t.Helper()
	srv := &Server{Address: "127.0.0.1:0"}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		if err := srv.Start(ctx, handler); err != nil {
			t.Errorf("server stopped: %v", err)
		}
	}()

	deadline := time.Now().Add(time.Second)
	for srv.listener == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(time.Millisecond)
	}
	return srv.listener.Addr().String()
}

func TestServerRoundTrip(t *testing.T) {
	var gotUnit byte
	addr := startServer(t, func(_ context.Context, unitID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		gotUnit = unitID
		return modbus.ProtocolDataUnit{
			FunctionCode: req.FunctionCode,
			Data:         []byte{0x02, 0x00, 0x2A},
		}, nil
	})

	client := NewClient(addr)
	defer client.Close()

	req, _ := modbus.NewReadRequest(modbus.FuncCodeReadHoldingRegisters, 0, 1)
	resp, err := client.Send(context.Background(), 0x2F, req)
	if err != nil {
		t.Fatal(err)
	}
	if gotUnit != 0x2F {
		t.Errorf("handler saw unit %v, want 0x2F", gotUnit)
	}
	words, err := modbus.ParseRegisters(resp, 1)
	if err != nil {
		t.Fatal(err)
	}
	if words[0] != 42 {
		t.Errorf("words = %v", words)
	}
}

func TestServerSequentialRequests(t *testing.T) {
	calls := 0
	addr := startServer(t, func(_ context.Context, _ byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		calls++
		return req, nil
	})

	client := NewClient(addr)
	defer client.Close()

	// several requests over the same connection
	req := modbus.NewWriteSingleRegisterRequest(0, 7)
	for i := 0; i < 5; i++ {
		if _, err := client.Send(context.Background(), 1, req); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 5 {
		t.Errorf("handler calls = %d, want 5", calls)
	}
}

func TestServerClosesOnMalformedFrame(t *testing.T) {
	addr := startServer(t, func(_ context.Context, _ byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		return req, nil
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// protocol id 1 is not Modbus; the server must drop the connection
	bad := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x03}
	if _, err := conn.Write(bad); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Errorf("read err = %v, want EOF", err)
	}
}
