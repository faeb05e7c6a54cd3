// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package host implements the Modbus host (master) engine: it encodes
// a request PDU, runs it through a transport and validates the
// response into a typed result or a typed error. The engine never
// retries; retry policy is a caller concern.
package host

import (
	"context"
	"fmt"

	"github.com/brainelectronics/go-modbus/modbus"
	"github.com/brainelectronics/go-modbus/transport"
)

// Client issues Modbus requests through a Transporter. The same engine
// serves both transports; TCP transaction tracking and RTU bus timing
// live in the transport, protocol validation lives here.
type Client struct {
	transporter transport.Transporter
}

// NewClient creates a host engine on top of t.
func NewClient(t transport.Transporter) *Client {
	return &Client{transporter: t}
}

// Connect establishes the underlying transport.
func (c *Client) Connect(ctx context.Context) error {
	return c.transporter.Connect(ctx)
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.transporter.Close()
}

// ReadCoils reads quantity coil states starting at address (0x01).
func (c *Client) ReadCoils(ctx context.Context, unitID byte, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, unitID, modbus.FuncCodeReadCoils, address, quantity)
}

// ReadDiscreteInputs reads quantity input states starting at address (0x02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, unitID byte, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, unitID, modbus.FuncCodeReadDiscreteInputs, address, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at
// address (0x03). The wire format carries no sign; use modbus.Signed
// for a two's complement view of the result.
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error) {
	return c.readWords(ctx, unitID, modbus.FuncCodeReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters reads quantity input registers starting at address (0x04).
func (c *Client) ReadInputRegisters(ctx context.Context, unitID byte, address, quantity uint16) ([]uint16, error) {
	return c.readWords(ctx, unitID, modbus.FuncCodeReadInputRegisters, address, quantity)
}

// WriteSingleCoil writes one coil (0x05) and reports whether the unit
// echoed the written value.
func (c *Client) WriteSingleCoil(ctx context.Context, unitID byte, address uint16, on bool) (bool, error) {
	req := modbus.NewWriteSingleCoilRequest(address, on)
	resp, err := c.request(ctx, unitID, req)
	if err != nil {
		return false, err
	}
	return modbus.VerifyEcho(req, resp)
}

// WriteSingleRegister writes one holding register (0x06) and reports
// whether the unit echoed the written value.
func (c *Client) WriteSingleRegister(ctx context.Context, unitID byte, address, value uint16) (bool, error) {
	req := modbus.NewWriteSingleRegisterRequest(address, value)
	resp, err := c.request(ctx, unitID, req)
	if err != nil {
		return false, err
	}
	return modbus.VerifyEcho(req, resp)
}

// WriteMultipleCoils writes a run of coils (0x0F) and reports whether
// the unit confirmed address and quantity.
func (c *Client) WriteMultipleCoils(ctx context.Context, unitID byte, address uint16, values []bool) (bool, error) {
	req, err := modbus.NewWriteMultipleCoilsRequest(address, values)
	if err != nil {
		return false, err
	}
	resp, err := c.request(ctx, unitID, req)
	if err != nil {
		return false, err
	}
	return modbus.VerifyWriteMultiple(req, resp)
}

// WriteMultipleRegisters writes a run of holding registers (0x10) and
// reports whether the unit confirmed address and quantity.
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID byte, address uint16, values []uint16) (bool, error) {
	req, err := modbus.NewWriteMultipleRegistersRequest(address, values)
	if err != nil {
		return false, err
	}
	resp, err := c.request(ctx, unitID, req)
	if err != nil {
		return false, err
	}
	return modbus.VerifyWriteMultiple(req, resp)
}

func (c *Client) readBits(ctx context.Context, unitID, funcCode byte, address, quantity uint16) ([]bool, error) {
	req, err := modbus.NewReadRequest(funcCode, address, quantity)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, unitID, req)
	if err != nil {
		return nil, err
	}
	return modbus.ParseBits(resp, quantity)
}

func (c *Client) readWords(ctx context.Context, unitID, funcCode byte, address, quantity uint16) ([]uint16, error) {
	req, err := modbus.NewReadRequest(funcCode, address, quantity)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, unitID, req)
	if err != nil {
		return nil, err
	}
	return modbus.ParseRegisters(resp, quantity)
}

// request runs one send/receive cycle and surfaces a remote exception
// as *modbus.ExceptionError rather than as data.
func (c *Client) request(ctx context.Context, unitID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	resp, err := c.transporter.Send(ctx, unitID, req)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	if e, ok := modbus.AsException(resp); ok {
		return modbus.ProtocolDataUnit{}, e
	}
	if resp.FunctionCode != req.FunctionCode {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("%w: response function code '%v' does not match request '%v'",
			modbus.ErrProtocol, resp.FunctionCode, req.FunctionCode)
	}
	return resp, nil
}
