// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the contracts shared by the TCP and RTU
// transports. A Transporter carries a PDU to a remote unit and returns
// the response (host role); a Listener receives framed requests and
// feeds them to a RequestHandler (responder role). Framing is owned by
// the transport; the handler only ever sees unit address and PDU.
package transport

import (
	"context"

	"github.com/brainelectronics/go-modbus/modbus"
)

// RequestHandler handles one decoded request and returns the response
// PDU. Returning an error means no response is produced for this frame;
// the transport decides whether that drops the frame (RTU) or closes
// the connection (TCP).
type RequestHandler func(ctx context.Context, unitID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Listener serves inbound requests. Start blocks until ctx is done or
// the underlying medium fails; it is meant to run in its own goroutine
// when several listeners share one handler.
type Listener interface {
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}

// Transporter issues a request PDU to a unit and returns the validated
// response PDU. Implementations allow one outstanding request at a
// time; concurrent callers are serialized.
type Transporter interface {
	Send(ctx context.Context, unitID byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
	Connect(ctx context.Context) error
	Close() error
}
