// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtuovertcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/brainelectronics/go-modbus/transport"
	"github.com/brainelectronics/go-modbus/transport/rtu"
)

const maxFrameSize = 256

// Server implements a Modbus responder listener speaking RTU framing
// over TCP. Like the serial listener it answers only for the configured
// units and drops corrupt frames silently; unlike on the bus, a frame
// whose length cannot be determined desyncs the stream and closes the
// connection.
type Server struct {
	Address string

	// Units is the set of unit addresses this responder answers for.
	// An empty set answers for every address.
	Units []byte

	listener net.Listener
}

// NewServer creates a new RTU over TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Start starts the server and blocks until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("RTU over TCP server listening", "addr", s.Address, "units", s.Units)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Error("Failed to accept connection", "err", err)
				continue
			}
		}
		go s.handleConnection(ctx, conn, handler)
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.RequestHandler) {
	defer conn.Close()
	slog.Info("New RTU over TCP client connected", "addr", conn.RemoteAddr())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := readRequest(conn)
		if err != nil {
			if err != io.EOF {
				slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		adu, err := rtu.Decode(raw)
		if err != nil {
			// bad CRC: drop the frame, the stream itself is still aligned
			slog.Debug("dropping corrupt frame", "frame", hex.EncodeToString(raw), "err", err)
			continue
		}

		if !s.accepts(adu.UnitID) {
			slog.Debug("ignoring frame for other unit", "unit", adu.UnitID)
			continue
		}

		respPdu, err := handler(ctx, adu.UnitID, adu.Pdu)
		if err != nil {
			slog.Error("Handler failed", "unit", adu.UnitID, "err", err)
			continue
		}

		respAdu := &rtu.ApplicationDataUnit{UnitID: adu.UnitID, Pdu: respPdu}
		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode response", "err", err)
			continue
		}

		if _, err := conn.Write(respRaw); err != nil {
			slog.Error("Failed to write response", "err", err)
			return
		}
	}
}

func (s *Server) accepts(unitID byte) bool {
	if len(s.Units) == 0 {
		return true
	}
	for _, u := range s.Units {
		if u == unitID {
			return true
		}
	}
	return false
}

// readRequest reads exactly one RTU-framed request from the stream.
// Without silence to delimit frames the length must be derived from the
// header, so an unknown function code is a fatal desync.
func readRequest(conn net.Conn) ([]byte, error) {
	buf := make([]byte, maxFrameSize)

	// unit id, function code and up to the byte-count field
	header := 7
	if _, err := io.ReadFull(conn, buf[:header]); err != nil {
		return nil, err
	}

	expected, err := rtu.RequestLength(buf[1], buf[:header])
	if err != nil {
		return nil, fmt.Errorf("cannot size request frame: %w", err)
	}
	if expected > maxFrameSize {
		return nil, fmt.Errorf("declared request length %d exceeds maximum frame size %d", expected, maxFrameSize)
	}

	if expected > header {
		if _, err := io.ReadFull(conn, buf[header:expected]); err != nil {
			return nil, err
		}
	}
	return buf[:expected], nil
}
