// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"time"

	"github.com/brainelectronics/go-modbus/modbus"
)

const (
	stateUnitID = 1 << iota
	stateFunctionCode
	stateReadLength
	stateReadPayload
	stateCRC
)

type InvalidLengthError struct {
	Length byte
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid length received: %d", e.Length)
}

// RequestLength returns the expected total length of a request ADU
// based on its header bytes.
func RequestLength(funcCode byte, header []byte) (int, error) {
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [UnitID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// Req: [UnitID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		if len(header) < 7 {
			return 0, fmt.Errorf("need 7 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}
		byteCount := int(header[6])
		return 7 + byteCount + 2, nil
	default:
		return 0, fmt.Errorf("unsupported function code: 0x%02X", funcCode)
	}
}

// requestComplete reports whether frame already holds a structurally
// complete request ADU. Unknown function codes never complete; their
// frames are delimited by bus silence instead and rejected later.
func requestComplete(frame []byte) bool {
	if len(frame) < rtuMinSize {
		return false
	}
	expected, err := RequestLength(frame[1], frame)
	if err != nil {
		return false
	}
	return len(frame) >= expected
}

// FrameReader hands out single bytes from chunked port reads. A port
// read that yields nothing within its window counts as bus silence;
// the reader keeps polling until the given deadline.
type FrameReader struct {
	port    Port
	clock   Clock
	pending []byte
	chunk   [rtuMaxSize]byte
}

// NewFrameReader creates a FrameReader over port using the system
// clock. It serves transports that carry RTU frames without a real
// serial line, e.g. RTU over TCP.
func NewFrameReader(port Port) *FrameReader {
	return &FrameReader{port: port, clock: systemClock{}}
}

func (fr *FrameReader) next(deadline time.Time) (byte, error) {
	for {
		if len(fr.pending) > 0 {
			b := fr.pending[0]
			fr.pending = fr.pending[1:]
			return b, nil
		}
		if !fr.clock.Now().Before(deadline) {
			return 0, modbus.ErrTimeout
		}
		n, err := fr.port.Read(fr.chunk[:])
		if n > 0 {
			fr.pending = append(fr.pending[:0], fr.chunk[:n]...)
			continue
		}
		if !isSilence(n, err) {
			return 0, err
		}
	}
}

// ReadResponse reads an RTU response frame incrementally. It waits for
// the first byte until deadline; once reception has started, each
// further byte must arrive within interByte (the inter-frame silence
// window), otherwise the frame is treated as truncated.
//
// Bytes preceding the expected unit address are skipped: on a shared
// bus the host may observe tail ends of unrelated exchanges.
func ReadResponse(unitID, functionCode byte, fr *FrameReader, deadline time.Time, interByte time.Duration) ([]byte, error) {
	data := make([]byte, rtuMaxSize)

	state := stateUnitID
	var length, toRead byte
	var n, crcCount int

	byteDeadline := deadline
	for {
		b, err := fr.next(byteDeadline)
		if err != nil {
			if errors.Is(err, modbus.ErrTimeout) && state != stateUnitID {
				return nil, fmt.Errorf("%w: response truncated after %d bytes", modbus.ErrBadFrame, n)
			}
			return nil, err
		}

		switch state {
		case stateUnitID:
			if b != unitID {
				continue
			}
			// reception started; from here on the inter-frame
			// silence delimits the frame
			byteDeadline = fr.clock.Now().Add(interByte)
			state = stateFunctionCode
			data[n] = b
			n++
			continue
		case stateFunctionCode:
			byteDeadline = fr.clock.Now().Add(interByte)
			switch b {
			case functionCode:
				switch functionCode {
				case modbus.FuncCodeReadCoils,
					modbus.FuncCodeReadDiscreteInputs,
					modbus.FuncCodeReadHoldingRegisters,
					modbus.FuncCodeReadInputRegisters:

					state = stateReadLength
				case modbus.FuncCodeWriteSingleCoil,
					modbus.FuncCodeWriteSingleRegister,
					modbus.FuncCodeWriteMultipleCoils,
					modbus.FuncCodeWriteMultipleRegisters:

					state = stateReadPayload
					toRead = 4
				default:
					return nil, fmt.Errorf("%w: function code '%v' not handled", modbus.ErrProtocol, functionCode)
				}
			case functionCode | modbus.ExceptionFlag:
				state = stateReadPayload
				toRead = 1
			default:
				return nil, fmt.Errorf("%w: response function code '%v' does not match request '%v'", modbus.ErrProtocol, b, functionCode)
			}
			data[n] = b
			n++
			continue
		case stateReadLength:
			byteDeadline = fr.clock.Now().Add(interByte)
			length = b
			if length > rtuMaxSize-5 || length == 0 {
				return nil, &InvalidLengthError{Length: length}
			}
			toRead = length
			data[n] = length
			n++
			state = stateReadPayload
		case stateReadPayload:
			byteDeadline = fr.clock.Now().Add(interByte)
			data[n] = b
			toRead--
			n++
			if toRead == 0 {
				state = stateCRC
			}
		case stateCRC:
			byteDeadline = fr.clock.Now().Add(interByte)
			data[n] = b
			crcCount++
			n++
			if crcCount == 2 {
				return data[:n], nil
			}
		}
	}
}
