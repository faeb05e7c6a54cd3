// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave implements the responder-side request dispatcher: it
// decodes a request PDU, executes it against the register store and
// produces a response or exception PDU.
package slave

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/brainelectronics/go-modbus/modbus"
	"github.com/brainelectronics/go-modbus/registers"
)

// Slave executes Modbus requests against a register store. One Slave
// may be shared by several listeners (e.g. one TCP, one RTU); the store
// serializes concurrent access.
type Slave struct {
	store *registers.Store
}

// New creates a Slave backed by store.
func New(store *registers.Store) *Slave {
	return &Slave{store: store}
}

// Store returns the backing register store, for instrumentation and
// hooks to call back into.
func (s *Slave) Store() *registers.Store {
	return s.store
}

// Handle adapts Process to the transport request-handler contract.
func (s *Slave) Handle(_ context.Context, _ byte, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	return s.Process(req), nil
}

// Process executes one request PDU and returns the response PDU. All
// failures are encoded as exception responses, never as Go errors:
//
//	unsupported function code  -> 01
//	unregistered address range -> 02
//	invalid quantity or value  -> 03
//	failing hook               -> 04
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.readBits(req, registers.Coils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.readBits(req, registers.DiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.readWords(req, registers.HoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return s.readWords(req, registers.InputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return s.writeSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.writeSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.writeMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.writeMultipleRegisters(req)
	default:
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Slave) readBits(req modbus.ProtocolDataUnit, bank registers.Bank) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxBitsRead {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values, err := s.store.Read(bank, address, quantity)
	if err != nil {
		return s.exception(req.FunctionCode, err)
	}

	bits := make([]bool, quantity)
	for i, v := range values {
		bits[i] = v != 0
	}
	packed := modbus.PackBits(bits)

	respData := make([]byte, 1+len(packed))
	respData[0] = byte(len(packed))
	copy(respData[1:], packed)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *Slave) readWords(req modbus.ProtocolDataUnit, bank registers.Bank) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxRegistersRead {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values, err := s.store.Read(bank, address, quantity)
	if err != nil {
		return s.exception(req.FunctionCode, err)
	}

	respData := make([]byte, 1+2*len(values))
	respData[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(respData[1+2*i:], v)
	}

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *Slave) writeSingleCoil(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	var bit uint16
	switch value {
	case modbus.CoilOn:
		bit = 1
	case modbus.CoilOff:
		bit = 0
	default:
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	if err := s.store.Write(registers.Coils, address, []uint16{bit}); err != nil {
		return s.exception(req.FunctionCode, err)
	}

	return req // echo request
}

func (s *Slave) writeSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := s.store.Write(registers.HoldingRegisters, address, []uint16{value}); err != nil {
		return s.exception(req.FunctionCode, err)
	}

	return req // echo request
}

func (s *Slave) writeMultipleCoils(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > modbus.MaxBitsWrite {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != (int(quantity)+7)/8 || len(req.Data)-5 != int(byteCount) {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	bits := modbus.UnpackBits(req.Data[5:], quantity)
	values := make([]uint16, quantity)
	for i, b := range bits {
		if b {
			values[i] = 1
		}
	}

	if err := s.store.Write(registers.Coils, address, values); err != nil {
		return s.exception(req.FunctionCode, err)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *Slave) writeMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 6 {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > modbus.MaxRegistersWrite {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != 2*int(quantity) || len(req.Data)-5 != int(byteCount) {
		return modbus.NewExceptionPDU(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(req.Data[5+2*i:])
	}

	if err := s.store.Write(registers.HoldingRegisters, address, values); err != nil {
		return s.exception(req.FunctionCode, err)
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)

	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

// exception maps a store error onto the Modbus exception code.
func (s *Slave) exception(funcCode byte, err error) modbus.ProtocolDataUnit {
	switch {
	case errors.Is(err, registers.ErrOutOfRange):
		return modbus.NewExceptionPDU(funcCode, modbus.ExceptionCodeIllegalDataAddress)
	case errors.Is(err, registers.ErrBadValue):
		return modbus.NewExceptionPDU(funcCode, modbus.ExceptionCodeIllegalDataValue)
	default:
		// failing hook or any other internal fault
		return modbus.NewExceptionPDU(funcCode, modbus.ExceptionCodeSlaveDeviceFailure)
	}
}
