// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"time"
)

// Receive tuning. The Modbus serial spec fixes the 3.5-character
// silence; the remaining values are implementation constants and may
// need adjustment against real bus captures.
const (
	// settle time between asserting the direction pin and transmitting
	dirPinSettle = time.Millisecond

	// maximum number of silence-separated read attempts while
	// assembling an inbound frame
	maxReadAttempts = 40

	// a response byte must follow its predecessor within this many
	// silence intervals, otherwise the frame is over
	interByteSilences = 2
)

// Timing holds the serial timing parameters derived from the line
// configuration.
type Timing struct {
	// CharTime is the time one character occupies on the wire,
	// including start, parity/stop overhead.
	CharTime time.Duration

	// Silence is the inter-frame gap: 3.5 character times up to
	// 19200 baud, a fixed 1750us above.
	Silence time.Duration
}

// NewTiming derives the timing for a line configuration. Zero values
// fall back to 9600 8N1.
func NewTiming(baudRate, dataBits, stopBits int) Timing {
	if baudRate <= 0 {
		baudRate = 9600
	}
	if dataBits <= 0 {
		dataBits = 8
	}
	if stopBits <= 0 {
		stopBits = 1
	}

	// start bit plus parity-or-idle accounts for the +2
	charConst := dataBits + stopBits + 2

	t := Timing{
		CharTime: time.Duration(1_000_000*charConst/baudRate) * time.Microsecond,
	}
	if baudRate <= 19200 {
		t.Silence = time.Duration(3_500_000*charConst/baudRate) * time.Microsecond
	} else {
		t.Silence = 1750 * time.Microsecond
	}
	return t
}

// FrameTime returns the time a frame of n bytes occupies on the wire.
func (t Timing) FrameTime(n int) time.Duration {
	return time.Duration(n) * t.CharTime
}

// DirectionPin drives the driver-enable line of an RS-485 transceiver.
// It must be asserted for the whole transmission and released only
// after the last stop bit has left the wire.
type DirectionPin interface {
	Set(high bool) error
}

// Clock abstracts monotonic time so the timing-sensitive paths can be
// tested without a real bus.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
