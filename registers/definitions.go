// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package registers

import (
	"fmt"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Definitions is a register-definition source: named entries per bank
// with start address, length and initial values. The file layout
// follows the COILS/ISTS/HREGS/IREGS convention, in JSON or YAML.
type Definitions struct {
	Coils            map[string]Definition `mapstructure:"COILS"`
	DiscreteInputs   map[string]Definition `mapstructure:"ISTS"`
	HoldingRegisters map[string]Definition `mapstructure:"HREGS"`
	InputRegisters   map[string]Definition `mapstructure:"IREGS"`
}

// Definition describes one registered range. Val holds either a single
// scalar or a list of initial values; missing trailing values are
// zero-filled up to Len.
type Definition struct {
	Register uint16      `mapstructure:"register"`
	Len      uint16      `mapstructure:"len"`
	Val      interface{} `mapstructure:"val"`
}

// InitialValues resolves Val against Len.
func (d Definition) InitialValues() ([]uint16, error) {
	length := int(d.Len)
	if length == 0 {
		length = 1
	}

	var raw []int
	if d.Val == nil {
		raw = nil
	} else if vs, err := cast.ToIntSliceE(d.Val); err == nil {
		raw = vs
	} else if v, err := cast.ToIntE(d.Val); err == nil {
		raw = []int{v}
	} else {
		return nil, fmt.Errorf("registers: unsupported val type %T", d.Val)
	}

	if len(raw) > length {
		return nil, fmt.Errorf("registers: '%v' initial values exceed len '%v'", len(raw), length)
	}

	values := make([]uint16, length)
	for i, v := range raw {
		if v < 0 || v > 0xFFFF {
			return nil, fmt.Errorf("registers: initial value '%v' out of range", v)
		}
		values[i] = uint16(v)
	}
	return values, nil
}

// LoadDefinitions reads a register-definition file. The format is
// derived from the file extension.
func LoadDefinitions(path string) (*Definitions, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read register definitions: %w", err)
	}

	var defs Definitions
	if err := v.Unmarshal(&defs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal register definitions: %w", err)
	}
	return &defs, nil
}

// Apply registers every definition on the store. Entries within one
// bank must not overlap.
func (d *Definitions) Apply(s *Store) error {
	for bank, defs := range map[Bank]map[string]Definition{
		Coils:            d.Coils,
		DiscreteInputs:   d.DiscreteInputs,
		HoldingRegisters: d.HoldingRegisters,
		InputRegisters:   d.InputRegisters,
	} {
		for name, def := range defs {
			values, err := def.InitialValues()
			if err != nil {
				return fmt.Errorf("definition '%s': %w", name, err)
			}
			if err := s.Add(bank, def.Register, values); err != nil {
				return fmt.Errorf("definition '%s': %w", name, err)
			}
		}
	}
	return nil
}
