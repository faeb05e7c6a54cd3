// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp carries RTU frames over a TCP stream, the framing
// used by serial device servers that forward an RS-485 bus. There is no
// MBAP header and no transaction id; frames keep their CRC, and the
// stream deadline takes the place of bus silence.
package rtuovertcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/brainelectronics/go-modbus/modbus"
	"github.com/brainelectronics/go-modbus/transport/rtu"
)

const tcpTimeout = 10 * time.Second

// connPort adapts a net.Conn to the rtu byte-stream contract. Deadlines
// on the connection stand in for the serial read window; there is no
// transmitter to drain.
type connPort struct {
	net.Conn
}

func (connPort) Drain() error { return nil }

// Client implements the Transporter interface with RTU framing over a
// TCP connection. One outstanding request at a time, like on the bus.
type Client struct {
	Address string
	Timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient allocates and initializes an RTU over TCP Client.
func NewClient(address string) *Client {
	return &Client{
		Address: address,
		Timeout: tcpTimeout,
	}
}

// Send sends a PDU to the unit and returns the validated response PDU.
func (mb *Client) Send(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err := mb.connect(); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}

	adu := &rtu.ApplicationDataUnit{
		UnitID: unitID,
		Pdu:    pdu,
	}

	aduBytes, err := adu.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	deadline := time.Now().Add(mb.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err = mb.conn.SetDeadline(deadline); err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, err
	}

	if _, err := mb.conn.Write(aduBytes); err != nil {
		mb.close()
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to write to connection: %w", err)
	}

	// A stream has no inter-frame silence, so the overall deadline
	// bounds every byte.
	fr := rtu.NewFrameReader(connPort{mb.conn})
	respBytes, err := rtu.ReadResponse(unitID, pdu.FunctionCode, fr, deadline, mb.Timeout)
	if err != nil {
		mb.close() // the stream may be desynced
		return modbus.ProtocolDataUnit{}, err
	}

	respAdu, err := rtu.Decode(respBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}

	if err := adu.Verify(respAdu); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	return respAdu.Pdu, nil
}

// Connect implements Transporter.
func (mb *Client) Connect(ctx context.Context) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.connect()
}

// Close implements Transporter.
func (mb *Client) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.close()
	return nil
}

// connect ensures there is an active connection. Caller must hold the mutex.
func (mb *Client) connect() error {
	if mb.conn != nil {
		return nil
	}
	conn, err := net.DialTimeout("tcp", mb.Address, mb.Timeout)
	if err != nil {
		return err
	}
	mb.conn = conn
	return nil
}

// close closes the connection if open. Caller must hold the mutex.
func (mb *Client) close() {
	if mb.conn != nil {
		mb.conn.Close()
		mb.conn = nil
	}
}
