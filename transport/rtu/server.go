// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brainelectronics/go-modbus/internal/config"
	"github.com/brainelectronics/go-modbus/transport"
	"github.com/grid-x/serial"
)

// ErrNoRequest is returned by ServeOnce when the bus stayed silent for
// the whole receive window.
var ErrNoRequest = errors.New("rtu: no request received")

// ErrClosed is returned by ServeOnce after the serial port has been
// closed.
var ErrClosed = errors.New("rtu: serial port closed")

// Server implements a Modbus RTU responder listener. It acts as a unit
// on the serial bus, waiting for requests from an external host.
//
// Frames that fail the CRC check or address a unit outside Units are
// dropped without a response: on a shared bus a frame meant for another
// unit must never be answered.
type Server struct {
	Config config.SerialConfig

	// Units is the set of unit addresses this responder answers for.
	// An empty set answers for every address.
	Units []byte

	// DirectionPin, when set, is toggled around every transmission to
	// drive an RS-485 transceiver.
	DirectionPin DirectionPin

	timing Timing
	clock  Clock

	mu   sync.Mutex
	port Port
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
		timing: NewTiming(cfg.BaudRate, cfg.DataBits, cfg.StopBits),
		clock:  systemClock{},
	}
}

// Start opens the serial port and serves requests until ctx is done.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	s.mu.Lock()
	if s.port == nil {
		spConfig := &serial.Config{
			Address:  s.Config.Device,
			BaudRate: s.Config.BaudRate,
			DataBits: s.Config.DataBits,
			StopBits: s.Config.StopBits,
			Parity:   s.Config.Parity,
			// The read window doubles as the silence detector, so it
			// must not exceed the inter-frame gap by much. Hardware
			// timer granularity may stretch it; the frame-boundary
			// heuristic only degrades, it does not break.
			Timeout: maxDuration(s.timing.Silence, time.Millisecond),
		}

		port, err := serial.Open(spConfig)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to open serial port %s: %w", s.Config.Device, err)
		}
		s.port = noDrainPort{port}
	}
	s.mu.Unlock()
	defer s.Close()
	slog.Info("RTU server listening", "device", s.Config.Device, "units", s.Units)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.ServeOnce(ctx, handler)
		switch {
		case err == nil, errors.Is(err, ErrNoRequest):
		case ctx.Err() != nil, errors.Is(err, ErrClosed):
			return nil
		default:
			slog.Error("RTU serve failed", "err", err)
		}
	}
}

// ServeOnce receives one frame and, if it is a valid request for one of
// the configured units, dispatches it and transmits the response.
func (s *Server) ServeOnce(ctx context.Context, handler transport.RequestHandler) error {
	// snapshot the port so a concurrent Close cannot pull it out from
	// under the serve loop; a closed port fails the next read instead
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrClosed
	}

	raw, err := s.readFrame(ctx, port)
	if err != nil {
		return err
	}

	adu, err := Decode(raw)
	if err != nil {
		// bad CRC or truncated frame: discard silently, the host will
		// time out and retry
		slog.Debug("dropping invalid RTU frame", "frame", hex.EncodeToString(raw), "err", err)
		return nil
	}

	if !s.accepts(adu.UnitID) {
		// addressed to another unit on the bus, not a fault
		slog.Debug("ignoring frame for other unit", "unit", adu.UnitID)
		return nil
	}

	respPdu, err := handler(ctx, adu.UnitID, adu.Pdu)
	if err != nil {
		slog.Error("RTU handler failed", "unit", adu.UnitID, "err", err)
		return nil
	}

	respAdu := &ApplicationDataUnit{UnitID: adu.UnitID, Pdu: respPdu}
	respRaw, err := respAdu.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode response ADU: %w", err)
	}

	return transmit(ctx, port, respRaw, s.DirectionPin, s.timing, s.clock)
}

// readFrame accumulates bytes across repeated reads until a
// structurally complete request is recognized or the bus falls silent
// after reception started. RTU has no length field; silence is the
// frame delimiter.
func (s *Server) readFrame(ctx context.Context, port Port) ([]byte, error) {
	var frame []byte
	var buf [rtuMaxSize]byte

	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := port.Read(buf[:])
		if n > 0 {
			frame = append(frame, buf[:n]...)
			if requestComplete(frame) {
				return frame, nil
			}
			continue
		}
		if !isSilence(n, err) {
			return nil, err
		}
		if len(frame) > 0 {
			// a full silence window with no further bytes ends the frame
			return frame, nil
		}
	}

	if len(frame) == 0 {
		return nil, ErrNoRequest
	}
	return frame, nil
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

// Close closes the serial port.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
