// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"fmt"

	"github.com/brainelectronics/go-modbus/modbus"
)

const (
	tcpMinSize = 8
	tcpMaxSize = 260

	tcpProtocolID = 0
)

// ApplicationDataUnit is a PDU wrapped in the MBAP header:
//
//	Transaction ID  : 2 bytes
//	Protocol ID     : 2 bytes (always 0)
//	Length          : 2 bytes (unit id + PDU)
//	Unit ID         : 1 byte
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        byte
	Pdu           modbus.ProtocolDataUnit
}

// NewADU wraps a PDU for a unit under the given transaction id.
func NewADU(transactionID uint16, unitID byte, pdu modbus.ProtocolDataUnit) *ApplicationDataUnit {
	return &ApplicationDataUnit{
		TransactionID: transactionID,
		ProtocolID:    tcpProtocolID,
		Length:        uint16(2 + len(pdu.Data)), // UnitID + FunctionCode + Data
		UnitID:        unitID,
		Pdu:           pdu,
	}
}

// Decode unwraps an MBAP frame. It validates the protocol id and that
// the declared length matches the observed payload size.
func Decode(raw []byte) (adu *ApplicationDataUnit, err error) {
	if len(raw) < tcpMinSize {
		err = fmt.Errorf("%w: length '%v' does not meet minimum '%v'", modbus.ErrBadFrame, len(raw), tcpMinSize)
		return
	}
	adu = &ApplicationDataUnit{}
	adu.TransactionID = uint16(raw[0])<<8 | uint16(raw[1])
	adu.ProtocolID = uint16(raw[2])<<8 | uint16(raw[3])
	adu.Length = uint16(raw[4])<<8 | uint16(raw[5])
	adu.UnitID = raw[6]
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8:]

	if adu.ProtocolID != tcpProtocolID {
		return nil, fmt.Errorf("%w: protocol id '%v' must be '%v'", modbus.ErrBadFrame, adu.ProtocolID, tcpProtocolID)
	}
	if int(adu.Length) != len(raw)-6 {
		return nil, fmt.Errorf("%w: length '%v' does not match payload size '%v'", modbus.ErrBadFrame, adu.Length, len(raw)-6)
	}
	return
}

// Encode encodes the ADU into wire bytes, all fields big-endian.
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 8
	if length > tcpMaxSize {
		err = fmt.Errorf("modbus: length of data '%v' must not be bigger than '%v'", length, tcpMaxSize)
		return
	}
	raw = make([]byte, length)

	raw[0] = byte(adu.TransactionID >> 8)
	raw[1] = byte(adu.TransactionID >> 0)
	raw[2] = byte(adu.ProtocolID >> 8)
	raw[3] = byte(adu.ProtocolID >> 0)
	raw[4] = byte(adu.Length >> 8)
	raw[5] = byte(adu.Length >> 0)
	raw[6] = adu.UnitID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)

	return
}

// Verify validates a response against the request: the transaction id
// must match the one just issued, the unit id must match, and the
// function code must equal the request's or be its exception variant.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if resp.TransactionID != req.TransactionID {
		return fmt.Errorf("%w: got '%v', sent '%v'", modbus.ErrBadTransaction, resp.TransactionID, req.TransactionID)
	}
	if resp.UnitID != req.UnitID {
		return fmt.Errorf("%w: response unit id '%v' does not match request '%v'", modbus.ErrProtocol, resp.UnitID, req.UnitID)
	}
	if resp.Pdu.FunctionCode != req.Pdu.FunctionCode &&
		resp.Pdu.FunctionCode != req.Pdu.FunctionCode|modbus.ExceptionFlag {
		return fmt.Errorf("%w: response function code '%v' does not match request '%v'", modbus.ErrProtocol, resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
	}
	return nil
}
