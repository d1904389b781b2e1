// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

// Package config loads the optional YAML file describing one device's place
// on the bus and how to reach the line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ---- BUS ----

type BusConfig struct {
	Role    string  `yaml:"role"`    // "master" or "slave"
	Address uint8   `yaml:"address"` // slave address; the master is always 1
	Slaves  []uint8 `yaml:"slaves"`  // master only, discovery order
	Strict  bool    `yaml:"strict"`  // slave only

	// nil means on
	Checksum *bool `yaml:"checksum"`

	Discovery DiscoveryConfig `yaml:"discovery"`
}

type DiscoveryConfig struct {
	AckTimeoutMs int `yaml:"ack_timeout_ms"` // 0 waits forever
	Retries      int `yaml:"retries"`
}

// ---- CONNECTION ----

type ConnectionConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`

	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// ChecksumEnabled reports the effective checksum setting
func (b BusConfig) ChecksumEnabled() bool {
	return b.Checksum == nil || *b.Checksum
}

// Load reads and decodes the file at path. Unknown keys are rejected.
// The result is neither validated nor normalized.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}
