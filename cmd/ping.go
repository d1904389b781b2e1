// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/spf13/cobra"
)

var (
	pingTarget  uint8
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trips to a slave with UPDATE_REQUEST",
	Long: `Send UPDATE_REQUEST from the master address to one slave and wait for
its SOLENOID_UPDATE reply. A slave started with "palantir slave" answers
these after discovery.

Other traffic on the line is ignored while waiting.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().Uint8Var(&pingTarget, "to", 2, "Slave address")
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 2*time.Second, "Wait per ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// errPingTimeout is returned when no reply arrives in time
var errPingTimeout = errors.New("no reply")

// pingOnce sends one UPDATE_REQUEST and waits for target's SOLENOID_UPDATE
func pingOnce(ctx context.Context, s *palantir.Session, target palantir.Address, seq uint32, timeout time.Duration) (palantir.SolenoidUpdate, time.Duration, error) {
	start := time.Now()
	if err := s.Send(target, palantir.NewUpdateRequest(palantir.UpdateRequest(seq))); err != nil {
		return 0, 0, err
	}

	deadline := start.Add(timeout)
	for {
		err := s.Pump()
		if err != nil && !errors.Is(err, palantir.ErrWouldBlock) {
			return 0, 0, err
		}

		if rx, ok := s.Poll(); ok && rx.From == target {
			if su, ok := rx.Message.SolenoidUpdate(); ok {
				return su, time.Since(start), nil
			}
		}

		// A busy line never blocks, so the deadline is checked every symbol
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		if !time.Now().Before(deadline) {
			return 0, 0, errPingTimeout
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return 0, 0, ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingTarget == palantir.MasterAddress {
		return fmt.Errorf("cannot ping the master address %d", pingTarget)
	}

	line, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer line.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Palantir - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Target: %d, timeout %v, count %d\n\n", pingTarget, pingTimeout, pingCount)

	master := palantir.NewMaster(line, nil, sessionOptions()...)

	ok, sent := 0, 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		su, rtt, err := pingOnce(ctx, master, pingTarget, uint32(i), pingTimeout)
		switch {
		case err == nil:
			fmt.Printf("SOLENOID_UPDATE from %d, inputs=0x%03X outputs=0x%02X, rtt=%v\n",
				pingTarget, su.Inputs(), su.Outputs(), rtt.Round(time.Microsecond))
			ok++
			sent++
		case errors.Is(err, context.Canceled):
			fmt.Printf("interrupted\n")
		case errors.Is(err, errPingTimeout):
			fmt.Printf("TIMEOUT (no reply in %v)\n", pingTimeout)
			sent++
		default:
			var busErr *palantir.BusError
			if errors.As(err, &busErr) {
				fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
				os.Exit(2)
			}
			fmt.Printf("SEND FAILED: %v\n", err)
			sent++
		}

		if ctx.Err() != nil {
			break
		}
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%s\n", pingSummary(sent, ok))

	if ok < sent {
		os.Exit(1)
	}
	return nil
}

// pingSummary formats the closing loss line
func pingSummary(sent, ok int) string {
	loss := 0.0
	if sent > 0 {
		loss = float64(sent-ok) / float64(sent) * 100
	}
	return fmt.Sprintf("%d pings sent, %d replies received, %.0f%% loss", sent, ok, loss)
}
