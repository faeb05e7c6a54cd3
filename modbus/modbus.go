// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus implements the Modbus application protocol: the
// protocol data unit, the request/response codec for the supported
// function codes and the exception semantics shared by the TCP and
// RTU transports.
package modbus

import (
	"errors"
	"fmt"
)

// Function codes supported by this implementation.
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
)

// Exception codes.
const (
	ExceptionCodeIllegalFunction    = 0x01
	ExceptionCodeIllegalDataAddress = 0x02
	ExceptionCodeIllegalDataValue   = 0x03
	ExceptionCodeSlaveDeviceFailure = 0x04
)

// ExceptionFlag is set on the function code of an exception response.
const ExceptionFlag = 0x80

// Protocol maxima for request quantities.
const (
	MaxBitsRead       = 2000
	MaxRegistersRead  = 125
	MaxBitsWrite      = 1968
	MaxRegistersWrite = 123
)

// Coil values on the wire for function code 0x05.
const (
	CoilOn  = 0xFF00
	CoilOff = 0x0000
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU carries an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&ExceptionFlag != 0
}

// Host-side error conditions. None of these are retried internally;
// retry policy belongs to the caller.
var (
	// ErrBadTransaction is returned when a TCP response carries a
	// transaction id different from the request's.
	ErrBadTransaction = errors.New("modbus: response transaction id does not match request")

	// ErrProtocol is returned when a response violates the protocol in a
	// way other than a well-formed exception, e.g. an unrelated function
	// code or an impossible byte count.
	ErrProtocol = errors.New("modbus: protocol violation in response")

	// ErrTimeout is returned when no response arrived within the
	// configured window.
	ErrTimeout = errors.New("modbus: request timed out")

	// ErrBadFrame is returned for malformed envelopes: CRC mismatch,
	// truncated frame or invalid MBAP header.
	ErrBadFrame = errors.New("modbus: malformed frame")
)

// ExceptionError is an exception response received from the remote unit.
type ExceptionError struct {
	FunctionCode  byte // function code of the original request
	ExceptionCode byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (%s) on function '%v'",
		e.ExceptionCode, exceptionText(e.ExceptionCode), e.FunctionCode)
}

func exceptionText(code byte) string {
	switch code {
	case ExceptionCodeIllegalFunction:
		return "illegal function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case ExceptionCodeSlaveDeviceFailure:
		return "slave device failure"
	default:
		return "unknown"
	}
}

// NewExceptionPDU builds an exception response for the given request
// function code.
func NewExceptionPDU(funcCode, exceptionCode byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: funcCode | ExceptionFlag,
		Data:         []byte{exceptionCode},
	}
}

// AsException extracts the exception from a response PDU, if it is one.
func AsException(pdu ProtocolDataUnit) (*ExceptionError, bool) {
	if !pdu.IsException() {
		return nil, false
	}
	e := &ExceptionError{FunctionCode: pdu.FunctionCode &^ ExceptionFlag}
	if len(pdu.Data) > 0 {
		e.ExceptionCode = pdu.Data[0]
	}
	return e, true
}
