// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/brainelectronics/go-modbus/internal/config"
	"github.com/brainelectronics/go-modbus/modbus"
)

// Client implements the Transporter interface over Modbus RTU. The bus
// is strictly half duplex: the mutex guarantees send-then-receive
// ordering and one outstanding request at a time, requests are never
// pipelined.
type Client struct {
	serialPort

	timing Timing
	clock  Clock

	// DirectionPin, when set, is toggled around every transmission to
	// drive an RS-485 transceiver.
	DirectionPin DirectionPin
}

// NewClient allocates and initializes an RTU Client.
func NewClient(cfg config.SerialConfig) *Client {
	client := &Client{
		timing: NewTiming(cfg.BaudRate, cfg.DataBits, cfg.StopBits),
		clock:  systemClock{},
	}

	client.serialPort.Config.Address = cfg.Device
	client.serialPort.Config.BaudRate = cfg.BaudRate
	client.serialPort.Config.DataBits = cfg.DataBits
	client.serialPort.Config.StopBits = cfg.StopBits
	client.serialPort.Config.Parity = cfg.Parity
	client.serialPort.Config.Timeout = cfg.Timeout

	client.IdleTimeout = serialIdleTimeout
	return client
}

// Send sends a PDU to the unit and returns the validated response PDU.
func (mb *Client) Send(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	adu := &ApplicationDataUnit{
		UnitID: unitID,
		Pdu:    pdu,
	}

	aduBytes, err := adu.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	respBytes, err := mb.send(ctx, aduBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	respAdu, err := Decode(respBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}

	if err := adu.Verify(respAdu); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	return respAdu.Pdu, nil
}

func (mb *Client) send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if err = mb.connect(ctx); err != nil {
		return
	}
	mb.lastActivity = time.Now()
	mb.startCloseTimer()

	fr := &FrameReader{port: mb.port, clock: mb.clock}

	// discard stale receive data from a previous exchange
	flushInput(mb.port)

	slog.Debug("send to modbus unit", "request", hex.EncodeToString(aduRequest))
	if err = transmit(ctx, mb.port, aduRequest, mb.DirectionPin, mb.timing, mb.clock); err != nil {
		return
	}

	// Wait up to the configured timeout for the first response byte;
	// after that only the inter-frame window applies per byte.
	deadline := mb.clock.Now().Add(mb.Config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	data, err := ReadResponse(aduRequest[0], aduRequest[1], fr, deadline, time.Duration(interByteSilences)*mb.timing.Silence)
	if err != nil {
		return nil, err
	}
	slog.Debug("recv from modbus unit", "response", hex.EncodeToString(data))
	aduResponse = data
	return
}

// transmit writes a frame to the port, driving the direction pin with
// the RS-485 timing contract: assert, let the line settle, write, hold
// until the last character has left the wire, release. The driver must
// never be turned off mid-byte.
func transmit(ctx context.Context, port Port, frame []byte, pin DirectionPin, timing Timing, clock Clock) error {
	if pin == nil {
		if _, err := port.Write(frame); err != nil {
			return err
		}
		return port.Drain()
	}

	if err := pin.Set(true); err != nil {
		return fmt.Errorf("failed to assert direction pin: %w", err)
	}
	if err := clock.Sleep(ctx, dirPinSettle); err != nil {
		pin.Set(false)
		return err
	}

	start := clock.Now()
	if _, err := port.Write(frame); err != nil {
		pin.Set(false)
		return err
	}
	if err := port.Drain(); err != nil {
		pin.Set(false)
		return err
	}

	// hold the driver until the whole frame is on the wire
	if remaining := timing.FrameTime(len(frame)) - clock.Now().Sub(start); remaining > 0 {
		if err := clock.Sleep(ctx, remaining); err != nil {
			pin.Set(false)
			return err
		}
	}

	return pin.Set(false)
}

// flushInput discards bytes sitting in the receive buffer.
func flushInput(port Port) {
	var buf [rtuMaxSize]byte
	for {
		n, err := port.Read(buf[:])
		if isSilence(n, err) || err != nil {
			return
		}
	}
}
