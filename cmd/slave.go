// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/spf13/cobra"
)

var (
	slaveAddress uint8
	slaveStrict  bool
	slaveInputs  uint16
	slaveOutputs uint16
)

var slaveCmd = &cobra.Command{
	Use:   "slave",
	Short: "Act as a slave: answer discovery, then listen",
	Long: `Take a slave address on the bus and wait for the master's
DISCOVERY_REQUEST. Once it arrives, a DISCOVERY_ACK is sent back.

Messages that arrive before the request are discarded. With --strict any
such message ends discovery with an error instead.

After discovery every message addressed to this slave is printed, and each
UPDATE_REQUEST from the master is answered with a SOLENOID_UPDATE carrying
--inputs and --outputs.

Exit codes:
  0 - Interrupted by the user
  1 - Discovery failed
  2 - Connection error`,
	RunE: runSlave,
}

func init() {
	rootCmd.AddCommand(slaveCmd)
	slaveCmd.Flags().Uint8Var(&slaveAddress, "address", 2, "Slave address (any value except 1)")
	slaveCmd.Flags().BoolVar(&slaveStrict, "strict", false, "Fail discovery on any message other than DISCOVERY_REQUEST")
	slaveCmd.Flags().Uint16Var(&slaveInputs, "inputs", 0, "Input flags reported in SOLENOID_UPDATE (12 bits)")
	slaveCmd.Flags().Uint16Var(&slaveOutputs, "outputs", 0, "Output flags reported in SOLENOID_UPDATE (7 bits)")
}

func runSlave(cmd *cobra.Command, args []string) error {
	address := slaveAddress
	if !cmd.Flags().Changed("address") && busConfig.Role == "slave" {
		address = busConfig.Address
	}
	if address == palantir.MasterAddress {
		return fmt.Errorf("address %d is reserved for the master", address)
	}

	opts := sessionOptions()
	if slaveStrict || (!cmd.Flags().Changed("strict") && busConfig.Strict) {
		opts = append(opts, palantir.WithStrictDiscovery())
	}

	line, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer line.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Palantir - Slave %d\n", address)
	fmt.Printf("Connection: %s\n\n", connInfo)

	slave := palantir.NewSlave(address, line, opts...)

	fmt.Printf("Waiting for DISCOVERY_REQUEST...\n")
	if err := slave.DiscoveryMode(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		var busErr *palantir.BusError
		if errors.As(err, &busErr) {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "DISCOVERY FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Discovered by master, DISCOVERY_ACK sent\n\n")

	return serveSession(ctx, slave, 0)
}
