// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// helper to build a master config quickly
func master(slaves ...uint8) *Config {
	return &Config{
		Bus: BusConfig{
			Role:   "master",
			Slaves: slaves,
		},
	}
}

// ---- validate ----

func TestValidate_MasterOK(t *testing.T) {
	if err := Validate(master(2, 3, 4, 5, 6, 7, 8)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_TooManySlaves(t *testing.T) {
	err := Validate(master(2, 3, 4, 5, 6, 7, 8, 9))
	if err == nil || !strings.Contains(err.Error(), "at most 7") {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestValidate_MasterAddressAsSlave(t *testing.T) {
	if err := Validate(master(2, 1)); err == nil {
		t.Fatal("expected error for master address in slave list")
	}
}

func TestValidate_DuplicateSlave(t *testing.T) {
	err := Validate(master(2, 3, 2))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestValidate_Roles(t *testing.T) {
	tests := []struct {
		name    string
		bus     BusConfig
		wantErr bool
	}{
		{"empty", BusConfig{}, false},
		{"slave", BusConfig{Role: "slave", Address: 2, Strict: true}, false},
		{"upper case role", BusConfig{Role: "SLAVE", Address: 2}, false},
		{"slave at master address", BusConfig{Role: "slave", Address: 1}, true},
		{"slave with slave list", BusConfig{Role: "slave", Address: 2, Slaves: []uint8{3}}, true},
		{"master at other address", BusConfig{Role: "master", Address: 4}, true},
		{"strict master", BusConfig{Role: "master", Strict: true}, true},
		{"unknown role", BusConfig{Role: "observer"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&Config{Bus: tt.bus})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Discovery(t *testing.T) {
	cfg := master(2)
	cfg.Bus.Discovery = DiscoveryConfig{Retries: 2}
	if err := Validate(cfg); err == nil {
		t.Fatal("retries without a timeout should be rejected")
	}

	cfg.Bus.Discovery.AckTimeoutMs = 500
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Bus.Discovery.AckTimeoutMs = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("negative timeout should be rejected")
	}
}

func TestValidate_Connection(t *testing.T) {
	cfg := &Config{Connection: ConnectionConfig{Port: "/dev/ttyUSB0", URL: "ws://localhost:8485"}}
	if err := Validate(cfg); err == nil {
		t.Fatal("port and url together should be rejected")
	}

	cfg.Connection = ConnectionConfig{URL: "http://localhost"}
	if err := Validate(cfg); err == nil {
		t.Fatal("non-websocket url should be rejected")
	}
}

// ---- normalize ----

func TestNormalize(t *testing.T) {
	cfg := &Config{
		Bus:        BusConfig{Slaves: []uint8{2}},
		Connection: ConnectionConfig{Port: "/dev/ttyUSB0"},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Normalize(cfg)

	if cfg.Bus.Role != "master" || cfg.Bus.Address != 1 {
		t.Errorf("role/address = %q/%d, want master/1", cfg.Bus.Role, cfg.Bus.Address)
	}
	if cfg.Connection.Baud != DefaultBaud {
		t.Errorf("baud = %d, want %d", cfg.Connection.Baud, DefaultBaud)
	}
	if !cfg.Bus.ChecksumEnabled() {
		t.Error("checksum should default to on")
	}
}

// ---- load ----

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	doc := `
bus:
  role: slave
  address: 3
  strict: true
  checksum: false
connection:
  url: wss://bridge.local:8485
  username: admin
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.Role != "slave" || cfg.Bus.Address != 3 || !cfg.Bus.Strict {
		t.Errorf("unexpected bus config: %+v", cfg.Bus)
	}
	if cfg.Bus.ChecksumEnabled() {
		t.Error("checksum: false was not honoured")
	}
	if cfg.Connection.URL != "wss://bridge.local:8485" || cfg.Connection.Username != "admin" {
		t.Errorf("unexpected connection config: %+v", cfg.Connection)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte("bus:\n  rol: master\n")); err == nil {
		t.Fatal("unknown key should be rejected")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Role != "" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
