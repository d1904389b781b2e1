// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/spf13/cobra"
)

var (
	masterSlaves       string
	masterAckTimeout   time.Duration
	masterRetries      int
	masterPollInterval time.Duration
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Act as the bus master: discover slaves, then listen",
	Long: `Take address 1 on the bus and run startup discovery.

Each configured slave is sent a DISCOVERY_REQUEST in list order, and the
master waits for that slave's DISCOVERY_ACK before moving to the next one.
Other traffic is discarded while waiting. An ack from the wrong device
aborts discovery.

After discovery the master prints every message addressed to it. With
--poll-interval it also sends an UPDATE_REQUEST to each slave in turn.

Examples:
  # Discover slaves 2 and 3 over a serial adapter
  palantir master --port /dev/ttyUSB0 --slaves 2,3

  # Give up on a slave after three unanswered requests
  palantir master --url ws://localhost:8485/bus --slaves 2 --ack-timeout 500ms --retries 2

Exit codes:
  0 - Interrupted by the user after discovery
  1 - Discovery failed
  2 - Connection error`,
	RunE: runMaster,
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.Flags().StringVar(&masterSlaves, "slaves", "", "Comma-separated slave addresses, in discovery order")
	masterCmd.Flags().DurationVar(&masterAckTimeout, "ack-timeout", 0, "Per-attempt wait for a discovery ack (0 waits forever)")
	masterCmd.Flags().IntVar(&masterRetries, "retries", 0, "Discovery requests re-sent after an ack timeout")
	masterCmd.Flags().DurationVar(&masterPollInterval, "poll-interval", 0, "Send UPDATE_REQUEST to each slave at this interval (0 disables)")
}

// parseAddressList parses "2,3,0x10" into addresses
func parseAddressList(s string) ([]palantir.Address, error) {
	var out []palantir.Address
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseUint(field, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %v", field, err)
		}
		out = append(out, palantir.Address(v))
	}
	return out, nil
}

// checkSlaveList reports the mistakes NewMaster would panic on
func checkSlaveList(slaves []palantir.Address) error {
	if len(slaves) > palantir.MaxSlaves {
		return fmt.Errorf("%d slaves given, at most %d supported", len(slaves), palantir.MaxSlaves)
	}
	seen := make(map[palantir.Address]bool)
	for _, a := range slaves {
		if a == palantir.MasterAddress {
			return fmt.Errorf("slave list contains the master address %d", a)
		}
		if seen[a] {
			return fmt.Errorf("duplicate slave address %d", a)
		}
		seen[a] = true
	}
	return nil
}

func runMaster(cmd *cobra.Command, args []string) error {
	slaves := append([]palantir.Address(nil), busConfig.Slaves...)
	if cmd.Flags().Changed("slaves") {
		var err error
		if slaves, err = parseAddressList(masterSlaves); err != nil {
			return err
		}
	}
	if err := checkSlaveList(slaves); err != nil {
		return err
	}

	opts := sessionOptions()
	if cmd.Flags().Changed("ack-timeout") {
		opts = append(opts, palantir.WithAckTimeout(masterAckTimeout))
	}
	if cmd.Flags().Changed("retries") {
		opts = append(opts, palantir.WithDiscoveryRetries(masterRetries))
	}

	line, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer line.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Palantir - Master\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Slaves: %v\n\n", slaves)

	master := palantir.NewMaster(line, slaves, opts...)

	fmt.Printf("Discovering %d slave(s)...\n", len(slaves))
	start := time.Now()
	err = master.DiscoverDevices(ctx)
	printDiscoverySummary(master.SlaveStates())
	if err != nil {
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
	fmt.Printf("Discovery complete in %v\n\n", time.Since(start).Round(time.Millisecond))

	return serveSession(ctx, master, masterPollInterval)
}

func printDiscoverySummary(states []palantir.SlaveStatus) {
	fmt.Printf("\n--- Discovery summary ---\n")
	for _, st := range states {
		fmt.Printf("  Slave %3d: %-12s (%d request(s))\n", st.Address, st.State, st.Attempts)
	}
}

// serveSession prints every message delivered to the session until ctx
// ends. A master with a poll interval also sends UPDATE_REQUEST to its
// slaves round-robin; a slave answers UPDATE_REQUEST with its solenoid
// state.
func serveSession(ctx context.Context, s *palantir.Session, poll time.Duration) error {
	var (
		next     time.Time
		slaveIdx int
		counter  uint32
		slaves   = s.Slaves()
	)
	if poll > 0 && len(slaves) > 0 {
		next = time.Now()
	}

	for {
		err := s.Pump()
		switch {
		case err == nil:
		case errors.Is(err, palantir.ErrWouldBlock):
			select {
			case <-ctx.Done():
				fmt.Print("\n" + s.Stats().String())
				return nil
			case <-time.After(pollInterval):
			}
		default:
			var busErr *palantir.BusError
			if errors.As(err, &busErr) && errors.Is(err, ErrConnectionClosed) {
				fmt.Printf("Connection closed\n")
				return nil
			}
			return err
		}

		if rx, ok := s.Poll(); ok {
			fmt.Print(palantir.FormatReceived(rx, time.Now()))
			fmt.Println()
			if err := answer(s, rx); err != nil {
				return err
			}
		}

		if !next.IsZero() && !time.Now().Before(next) {
			counter++
			target := slaves[slaveIdx]
			if err := s.Send(target, palantir.NewUpdateRequest(palantir.UpdateRequest(counter))); err != nil {
				return fmt.Errorf("update request to %d: %w", target, err)
			}
			slaveIdx = (slaveIdx + 1) % len(slaves)
			next = next.Add(poll)
		}
	}
}

// answer sends the slave's reply to an UPDATE_REQUEST from the master
func answer(s *palantir.Session, rx palantir.Received) error {
	if s.Role() != palantir.RoleSlave || rx.From != palantir.MasterAddress {
		return nil
	}
	if _, ok := rx.Message.UpdateRequest(); !ok {
		return nil
	}

	reply := palantir.NewSolenoidUpdate(slaveInputs, slaveOutputs)
	if err := s.Send(palantir.MasterAddress, palantir.NewSolenoidUpdateMessage(reply)); err != nil {
		return fmt.Errorf("solenoid update: %w", err)
	}
	return nil
}
