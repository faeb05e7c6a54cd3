// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/brainelectronics/go-modbus/modbus"
	"github.com/brainelectronics/go-modbus/modbus/crc"
)

const (
	rtuMinSize = 4
	rtuMaxSize = 256
)

// ApplicationDataUnit is a PDU wrapped in the RTU serial envelope:
//
//	Unit Address    : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first on the wire
type ApplicationDataUnit struct {
	UnitID byte
	Pdu    modbus.ProtocolDataUnit
}

// Decode unwraps an RTU frame, verifying and stripping the CRC.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < rtuMinSize {
		err = fmt.Errorf("%w: length '%v' does not meet minimum '%v'", modbus.ErrBadFrame, length, rtuMinSize)
		return
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if checksum != c.Value() {
		err = fmt.Errorf("%w: crc '%v' does not match expected '%v'", modbus.ErrBadFrame, checksum, c.Value())
		return
	}
	adu = &ApplicationDataUnit{}
	adu.UnitID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes the ADU into wire bytes, appending the CRC.
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 4
	if length > rtuMaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, rtuMaxSize)
		return
	}
	raw = make([]byte, length)

	raw[0] = adu.UnitID
	raw[1] = adu.Pdu.FunctionCode
	copy(raw[2:], adu.Pdu.Data)

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()

	raw[length-1] = byte(checksum >> 8)
	raw[length-2] = byte(checksum)
	return
}

// Verify validates a response against the request: the unit address
// must match, and the function code must equal the request's or be its
// exception variant.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if req.UnitID != resp.UnitID {
		return fmt.Errorf("%w: response unit address '%v' does not match request '%v'", modbus.ErrProtocol, resp.UnitID, req.UnitID)
	}
	if resp.Pdu.FunctionCode != req.Pdu.FunctionCode &&
		resp.Pdu.FunctionCode != req.Pdu.FunctionCode|modbus.ExceptionFlag {
		return fmt.Errorf("%w: response function code '%v' does not match request '%v'", modbus.ErrProtocol, resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
	}
	return nil
}
