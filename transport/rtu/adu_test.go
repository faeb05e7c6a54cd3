// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/brainelectronics/go-modbus/modbus"
)

func TestADUEncode(t *testing.T) {
	adu := &ApplicationDataUnit{
		UnitID: 0x01,
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadHoldingRegisters,
			Data:         []byte{0x00, 0x00, 0x00, 0x01},
		},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatal(err)
	}
	// CRC of 01 03 00 00 00 01 is 0x0A84, transmitted low byte first
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if !bytes.Equal(raw, want) {
		t.Fatalf("raw = % X, want % X", raw, want)
	}
}

func TestADUDecode(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	adu, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if adu.UnitID != 0x01 || adu.Pdu.FunctionCode != 0x03 {
		t.Errorf("adu = %+v", adu)
	}
	if !bytes.Equal(adu.Pdu.Data, []byte{0x00, 0x00, 0x00, 0x01}) {
		t.Errorf("data = % X", adu.Pdu.Data)
	}
}

func TestADUDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{0x01, 0x03, 0x84}},
		{"bad crc", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0B}},
		{"flipped crc bytes", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x0A, 0x84}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, modbus.ErrBadFrame) {
				t.Errorf("err = %v, want ErrBadFrame", err)
			}
		})
	}
}

func TestADURoundTrip(t *testing.T) {
	adu := &ApplicationDataUnit{
		UnitID: 0x11,
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
			Data:         []byte{0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02},
		},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.UnitID != adu.UnitID || decoded.Pdu.FunctionCode != adu.Pdu.FunctionCode {
		t.Errorf("decoded = %+v", decoded)
	}
	if !bytes.Equal(decoded.Pdu.Data, adu.Pdu.Data) {
		t.Errorf("data = % X", decoded.Pdu.Data)
	}
}

func TestADUVerify(t *testing.T) {
	req := &ApplicationDataUnit{UnitID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x03}}

	if err := req.Verify(&ApplicationDataUnit{UnitID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x03}}); err != nil {
		t.Errorf("matching response: %v", err)
	}
	if err := req.Verify(&ApplicationDataUnit{UnitID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x83}}); err != nil {
		t.Errorf("exception response: %v", err)
	}
	if err := req.Verify(&ApplicationDataUnit{UnitID: 2, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x03}}); !errors.Is(err, modbus.ErrProtocol) {
		t.Errorf("unit mismatch err = %v, want ErrProtocol", err)
	}
	if err := req.Verify(&ApplicationDataUnit{UnitID: 1, Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x04}}); !errors.Is(err, modbus.ErrProtocol) {
		t.Errorf("function mismatch err = %v, want ErrProtocol", err)
	}
}
