// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const exampleConfig = `
log:
  level: debug

server:
  units: "1,2,5-7"
  registers: /etc/modbusd/registers.json
  listeners:
    - type: tcp
      tcp:
        address: 0.0.0.0:502
    - type: rtu
      serial:
        device: /dev/ttyUSB0
        baud_rate: 19200
        parity: n
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(exampleConfig), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Server.Units != "1,2,5-7" {
		t.Errorf("units = %q", cfg.Server.Units)
	}
	if len(cfg.Server.Listeners) != 2 {
		t.Fatalf("listeners = %d, want 2", len(cfg.Server.Listeners))
	}
	if cfg.Server.Listeners[0].Type != "tcp" || cfg.Server.Listeners[0].Tcp.Address != "0.0.0.0:502" {
		t.Errorf("tcp listener = %+v", cfg.Server.Listeners[0])
	}

	// serial defaults are filled in, parity normalized to upper case
	serial := cfg.Server.Listeners[1].Serial
	if serial.BaudRate != 19200 {
		t.Errorf("baud rate = %d", serial.BaudRate)
	}
	if serial.DataBits != 8 || serial.StopBits != 1 {
		t.Errorf("data bits = %d, stop bits = %d", serial.DataBits, serial.StopBits)
	}
	if serial.Parity != "N" {
		t.Errorf("parity = %q", serial.Parity)
	}
	if serial.Timeout != 500*time.Millisecond {
		t.Errorf("timeout = %v", serial.Timeout)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseUnitIDs(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"single", "1", []byte{1}, false},
		{"list", "1,2,10", []byte{1, 2, 10}, false},
		{"range", "5-8", []byte{5, 6, 7, 8}, false},
		{"mixed", "1, 2, 5-7", []byte{1, 2, 5, 6, 7}, false},
		{"empty parts", "1,,2", []byte{1, 2}, false},
		{"inverted range", "8-5", nil, true},
		{"out of range", "300", nil, true},
		{"garbage", "abc", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUnitIDs(tt.input)
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
