// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/brainelectronics/go-modbus/transport"
)

// Server implements a Modbus TCP responder listener. Each accepted
// connection is served by its own goroutine; all of them feed the same
// request handler. Fatal decode errors close the connection, every
// well-formed request gets a response.
type Server struct {
	Address string

	listener net.Listener
}

// NewServer creates a new TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
	}
}

// Start starts the TCP server and blocks until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.listener = listener
	slog.Info("Modbus TCP server listening", "addr", s.Address)

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
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := readADU(conn)
		if err != nil {
			if err == io.EOF {
				slog.Info("TCP client disconnected gracefully", "addr", conn.RemoteAddr())
			} else {
				slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		adu, err := Decode(raw)
		if err != nil {
			// Malformed MBAP on a stream transport means the framing is
			// lost; close rather than guess at the next boundary.
			slog.Error("Failed to decode TCP request, closing connection", "addr", conn.RemoteAddr(), "err", err)
			return
		}

		respPdu, err := handler(ctx, adu.UnitID, adu.Pdu)
		if err != nil {
			slog.Error("Handler failed, closing connection", "addr", conn.RemoteAddr(), "err", err)
			return
		}

		respAdu := NewADU(adu.TransactionID, adu.UnitID, respPdu)
		respRaw, err := respAdu.Encode()
		if err != nil {
			slog.Error("Failed to encode TCP response", "err", err)
			continue
		}

		if _, err = conn.Write(respRaw); err != nil {
			slog.Error("Failed to write response to connection", "err", err)
			return
		}
	}
}

// readADU reads exactly one MBAP-framed ADU from the stream.
func readADU(conn net.Conn) ([]byte, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}

	length := int(header[4])<<8 | int(header[5])
	if length < 2 || length > tcpMaxSize-6 {
		return nil, fmt.Errorf("invalid MBAP length '%v'", length)
	}

	raw := make([]byte, 6+length)
	copy(raw, header)
	if _, err := io.ReadFull(conn, raw[6:]); err != nil {
		return nil, err
	}
	return raw, nil
}
