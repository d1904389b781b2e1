// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package config

import (
	"fmt"
	"strings"

	"github.com/PinballWizards/palantir/pkg/palantir"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	// ------------------------------------------------------------
	// BUS ROLE
	// ------------------------------------------------------------

	b := cfg.Bus
	switch strings.ToLower(b.Role) {
	case "":
	case "master":
		if b.Address != 0 && b.Address != palantir.MasterAddress {
			return fmt.Errorf(
				"bus: master address is fixed at %d, got %d",
				palantir.MasterAddress,
				b.Address,
			)
		}
		if b.Strict {
			return fmt.Errorf("bus: strict applies to slaves only")
		}
	case "slave":
		if b.Address == palantir.MasterAddress {
			return fmt.Errorf("bus: slave cannot use the master address %d", b.Address)
		}
		if len(b.Slaves) > 0 {
			return fmt.Errorf("bus: slaves list is for the master only")
		}
	default:
		return fmt.Errorf("bus: unknown role %q (want master or slave)", b.Role)
	}

	// ------------------------------------------------------------
	// SLAVE LIST
	// ------------------------------------------------------------

	if len(b.Slaves) > palantir.MaxSlaves {
		return fmt.Errorf(
			"bus: %d slaves configured, at most %d supported",
			len(b.Slaves),
			palantir.MaxSlaves,
		)
	}

	seen := make(map[uint8]bool, len(b.Slaves))
	for _, a := range b.Slaves {
		if a == palantir.MasterAddress {
			return fmt.Errorf("bus: slave list contains the master address %d", a)
		}
		if seen[a] {
			return fmt.Errorf("bus: duplicate slave address %d", a)
		}
		seen[a] = true
	}

	// ------------------------------------------------------------
	// DISCOVERY TIMING
	// ------------------------------------------------------------

	if b.Discovery.AckTimeoutMs < 0 {
		return fmt.Errorf("bus.discovery: ack_timeout_ms must not be negative")
	}
	if b.Discovery.Retries < 0 {
		return fmt.Errorf("bus.discovery: retries must not be negative")
	}
	if b.Discovery.Retries > 0 && b.Discovery.AckTimeoutMs == 0 {
		return fmt.Errorf("bus.discovery: retries need ack_timeout_ms")
	}

	// ------------------------------------------------------------
	// CONNECTION
	// ------------------------------------------------------------

	c := cfg.Connection
	if c.Port != "" && c.URL != "" {
		return fmt.Errorf("connection: port and url are mutually exclusive")
	}
	if c.Baud < 0 {
		return fmt.Errorf("connection: baud must not be negative")
	}
	if c.URL != "" && !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("connection: url %q must use ws:// or wss://", c.URL)
	}

	return nil
}
