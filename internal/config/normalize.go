// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package config

import (
	"strings"

	"github.com/PinballWizards/palantir/pkg/palantir"
)

// DefaultBaud is used for serial ports when the file gives none
const DefaultBaud = 115200

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	b := &cfg.Bus
	b.Role = strings.ToLower(b.Role)

	// A slave list implies the master role
	if b.Role == "" && len(b.Slaves) > 0 {
		b.Role = "master"
	}
	if b.Role == "master" {
		b.Address = palantir.MasterAddress
	}

	if cfg.Connection.Port != "" && cfg.Connection.Baud == 0 {
		cfg.Connection.Baud = DefaultBaud
	}
}
