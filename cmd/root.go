// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/PinballWizards/palantir/internal/config"
	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bus flags
	configPath string
	noChecksum bool
	verbose    bool

	// Loaded by the root pre-run; zero when no file is given
	busConfig config.BusConfig
)

var rootCmd = &cobra.Command{
	Use:   "palantir",
	Short: "Multidrop 9-bit bus master, slave and analyzer",
	Long: `Palantir - tools for the address-marked 9-bit serial bus.

One master (address 1) discovers up to seven slaves and then exchanges
short messages with them. Palantir can play either role, inject single
messages, sniff the line, and relay a simulated line over WebSocket.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host:8485/bus [--username user]

For WebSocket authentication, the password is read from the PALANTIR_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings can also come from a YAML file given with --config; flags win.`,
	Version:           "0.3.0",
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Bus flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML bus configuration file")
	rootCmd.PersistentFlags().BoolVar(&noChecksum, "no-checksum", false, "Use legacy frames without the CRC trailer")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log discovery progress")
}

// loadConfig reads --config and fills every connection flag the user did
// not set explicitly.
func loadConfig(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	flags := cmd.Flags()
	c := cfg.Connection
	if !flags.Changed("port") && c.Port != "" {
		portName = c.Port
	}
	if !flags.Changed("baud") && c.Baud != 0 {
		baudRate = c.Baud
	}
	if !flags.Changed("url") && c.URL != "" {
		wsURL = c.URL
	}
	if !flags.Changed("username") && c.Username != "" {
		wsUsername = c.Username
	}
	if !flags.Changed("no-ssl-verify") && c.NoSSLVerify {
		wsNoSSLVerify = true
	}
	if !flags.Changed("no-checksum") && !cfg.Bus.ChecksumEnabled() {
		noChecksum = true
	}

	busConfig = cfg.Bus
	return nil
}

// sessionOptions builds the options shared by every command that joins
// the bus.
func sessionOptions() []palantir.Option {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []palantir.Option{
		palantir.WithChecksum(!noChecksum),
		palantir.WithLogger(logger),
	}
	if d := busConfig.Discovery; d.AckTimeoutMs > 0 {
		opts = append(opts,
			palantir.WithAckTimeout(time.Duration(d.AckTimeoutMs)*time.Millisecond),
			palantir.WithDiscoveryRetries(d.Retries),
		)
	}
	return opts
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
