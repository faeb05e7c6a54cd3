// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package local short-circuits host and responder in one process: the
// request PDU goes straight into a request handler without any wire
// encoding. It serves embedded setups where the application is both
// sides of the exchange, and tests that want the full host API without
// a socket.
package local

import (
	"context"

	"github.com/brainelectronics/go-modbus/modbus"
	"github.com/brainelectronics/go-modbus/transport"
)

// Client implements the Transporter interface against an in-process
// request handler.
type Client struct {
	handler transport.RequestHandler
}

// NewClient creates a loopback Client dispatching into handler.
func NewClient(handler transport.RequestHandler) *Client {
	return &Client{handler: handler}
}

// Send processes the PDU locally.
func (c *Client) Send(ctx context.Context, unitID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	return c.handler(ctx, unitID, pdu)
}

// Connect is a no-op for the loopback transport.
func (c *Client) Connect(ctx context.Context) error {
	return nil
}

// Close is a no-op for the loopback transport.
func (c *Client) Close() error {
	return nil
}
