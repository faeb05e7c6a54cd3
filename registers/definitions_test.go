// Copyright (c) 2026 brainelectronics. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package registers

import (
	"os"
	"path/filepath"
	"testing"
)

const exampleDefinitions = `{
	"COILS": {
		"EXAMPLE_COIL": {"register": 123, "len": 1, "val": 1}
	},
	"HREGS": {
		"EXAMPLE_HREG": {"register": 93, "len": 3, "val": [29, 38]}
	},
	"ISTS": {
		"EXAMPLE_IST": {"register": 67, "len": 1, "val": 0}
	},
	"IREGS": {
		"EXAMPLE_IREG": {"register": 10, "len": 1}
	}
}`

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registers.json")
	if err := os.WriteFile(path, []byte(exampleDefinitions), 0644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatal(err)
	}

	store := NewStore()
	if err := defs.Apply(store); err != nil {
		t.Fatal(err)
	}

	got, err := store.Read(Coils, 123, 1)
	if err != nil || got[0] != 1 {
		t.Errorf("coil 123 = %v, %v", got, err)
	}

	// trailing values zero-filled up to len
	got, err = store.Read(HoldingRegisters, 93, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 29 || got[1] != 38 || got[2] != 0 {
		t.Errorf("hreg 93 = %v", got)
	}

	got, err = store.Read(InputRegisters, 10, 1)
	if err != nil || got[0] != 0 {
		t.Errorf("ireg 10 = %v, %v", got, err)
	}
}

func TestInitialValues(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		want    []uint16
		wantErr bool
	}{
		{"scalar", Definition{Register: 0, Len: 1, Val: 7}, []uint16{7}, false},
		{"no val defaults to zero", Definition{Register: 0, Len: 2}, []uint16{0, 0}, false},
		{"zero len means one", Definition{Register: 0, Val: 3}, []uint16{3}, false},
		{"list zero filled", Definition{Register: 0, Len: 4, Val: []interface{}{1, 2}}, []uint16{1, 2, 0, 0}, false},
		{"too many values", Definition{Register: 0, Len: 1, Val: []interface{}{1, 2}}, nil, true},
		{"negative value", Definition{Register: 0, Len: 1, Val: -1}, nil, true},
		{"value too large", Definition{Register: 0, Len: 1, Val: 0x10000}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.def.InitialValues()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
