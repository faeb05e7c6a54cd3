// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// NewReadRequest builds a read request PDU (function codes 0x01-0x04).
// quantity is bounds-checked against the protocol maximum of the
// function code family.
func NewReadRequest(funcCode byte, address, quantity uint16) (ProtocolDataUnit, error) {
	var max uint16
	switch funcCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		max = MaxBitsRead
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		max = MaxRegistersRead
	default:
		return ProtocolDataUnit{}, fmt.Errorf("modbus: function code '%v' is not a read", funcCode)
	}
	if quantity < 1 || quantity > max {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", quantity, 1, max)
	}

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return ProtocolDataUnit{FunctionCode: funcCode, Data: data}, nil
}

// NewWriteSingleCoilRequest builds a 0x05 request. The wire value is
// 0xFF00 for on and 0x0000 for off.
func NewWriteSingleCoilRequest(address uint16, on bool) ProtocolDataUnit {
	value := uint16(CoilOff)
	if on {
		value = CoilOn
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleCoil, Data: data}
}

// NewWriteSingleRegisterRequest builds a 0x06 request.
func NewWriteSingleRegisterRequest(address, value uint16) ProtocolDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteSingleRegister, Data: data}
}

// NewWriteMultipleCoilsRequest builds a 0x0F request with the coil
// values packed LSB-first.
func NewWriteMultipleCoilsRequest(address uint16, values []bool) (ProtocolDataUnit, error) {
	quantity := len(values)
	if quantity < 1 || quantity > MaxBitsWrite {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", quantity, 1, MaxBitsWrite)
	}

	packed := PackBits(values)
	data := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(quantity))
	data[4] = byte(len(packed))
	copy(data[5:], packed)
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleCoils, Data: data}, nil
}

// NewWriteMultipleRegistersRequest builds a 0x10 request.
func NewWriteMultipleRegistersRequest(address uint16, values []uint16) (ProtocolDataUnit, error) {
	quantity := len(values)
	if quantity < 1 || quantity > MaxRegistersWrite {
		return ProtocolDataUnit{}, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'", quantity, 1, MaxRegistersWrite)
	}

	data := make([]byte, 5+2*quantity)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(quantity))
	data[4] = byte(2 * quantity)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	return ProtocolDataUnit{FunctionCode: FuncCodeWriteMultipleRegisters, Data: data}, nil
}

// ParseBits decodes a 0x01/0x02 response into quantity booleans,
// ordered lowest address first.
func ParseBits(resp ProtocolDataUnit, quantity uint16) ([]bool, error) {
	byteCount := (int(quantity) + 7) / 8
	if len(resp.Data) < 1 || int(resp.Data[0]) != byteCount || len(resp.Data) != 1+byteCount {
		return nil, fmt.Errorf("%w: bit response byte count '%v' does not match quantity '%v'", ErrProtocol, len(resp.Data), quantity)
	}
	return UnpackBits(resp.Data[1:], quantity), nil
}

// ParseRegisters decodes a 0x03/0x04 response into quantity words. The
// wire format carries no sign; use Signed for a two's complement view.
func ParseRegisters(resp ProtocolDataUnit, quantity uint16) ([]uint16, error) {
	if len(resp.Data) < 1 || int(resp.Data[0]) != 2*int(quantity) || len(resp.Data) != 1+2*int(quantity) {
		return nil, fmt.Errorf("%w: register response byte count '%v' does not match quantity '%v'", ErrProtocol, len(resp.Data), quantity)
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(resp.Data[1+2*i:])
	}
	return values, nil
}

// Signed reinterprets register words as two's complement values.
func Signed(words []uint16) []int16 {
	values := make([]int16, len(words))
	for i, w := range words {
		values[i] = int16(w)
	}
	return values
}

// VerifyEcho checks a 0x05/0x06 response, which echoes the request.
// It returns true iff the echoed address and value match what was sent.
func VerifyEcho(req, resp ProtocolDataUnit) (bool, error) {
	if len(resp.Data) != 4 {
		return false, fmt.Errorf("%w: write echo length '%v'", ErrProtocol, len(resp.Data))
	}
	if len(req.Data) < 4 {
		return false, fmt.Errorf("%w: write request length '%v'", ErrProtocol, len(req.Data))
	}
	return resp.Data[0] == req.Data[0] && resp.Data[1] == req.Data[1] &&
		resp.Data[2] == req.Data[2] && resp.Data[3] == req.Data[3], nil
}

// VerifyWriteMultiple checks a 0x0F/0x10 response, which repeats the
// start address and quantity without data.
func VerifyWriteMultiple(req, resp ProtocolDataUnit) (bool, error) {
	if len(resp.Data) != 4 {
		return false, fmt.Errorf("%w: write response length '%v'", ErrProtocol, len(resp.Data))
	}
	if len(req.Data) < 4 {
		return false, fmt.Errorf("%w: write request length '%v'", ErrProtocol, len(req.Data))
	}
	return resp.Data[0] == req.Data[0] && resp.Data[1] == req.Data[1] &&
		resp.Data[2] == req.Data[2] && resp.Data[3] == req.Data[3], nil
}

// PackBits packs booleans into bytes, LSB-first within each byte,
// index 0 at the lowest address.
func PackBits(values []bool) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	return packed
}

// UnpackBits is the inverse of PackBits, limited to quantity bits.
func UnpackBits(data []byte, quantity uint16) []bool {
	values := make([]bool, quantity)
	for i := range values {
		values[i] = data[i/8]>>uint(i%8)&1 != 0
	}
	return values
}
