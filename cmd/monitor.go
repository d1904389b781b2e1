// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	showRaw       bool
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"raw_log"},
	Short:   "Sniff the line and display every frame",
	Long: `Listen to every frame on the bus, whatever its destination, and display
it in human-readable form.

Frames that are dropped are reported as they happen:
  - Checksum mismatches
  - Declared lengths above the 62 byte limit
  - Unrecognized message kinds or body sizes
  - Frames cut short by another address word

By default the text mode prints every message and the TUI lists only errors.
Use --show-all to list valid frames in the TUI too.

Exit codes:
  0 - Interrupted by the user
  2 - Connection error`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames in the TUI (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics summary interval in seconds (text mode, 0 disables)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI")
	monitorCmd.Flags().BoolVar(&showRaw, "raw", false, "Also print the raw symbols of each frame (text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	line, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer line.Close()

	if useTUI {
		return runTUIMode(line, connInfo)
	}
	return runTextMode(line, connInfo)
}

// busEvent is one notable change between two statistics snapshots
type busEvent struct {
	message string
	isError bool
}

// statsEvents describes what changed between two snapshots taken around a
// single ingested symbol.
func statsEvents(before, after palantir.Stats) []busEvent {
	var events []busEvent
	if after.ChecksumErrors > before.ChecksumErrors {
		events = append(events, busEvent{"checksum mismatch, frame dropped", true})
	}
	if after.LengthErrors > before.LengthErrors {
		events = append(events, busEvent{fmt.Sprintf("declared length above %d bytes, frame dropped", palantir.MaxDataLen), true})
	}
	if after.Unrecognized > before.Unrecognized {
		events = append(events, busEvent{"unrecognized message, frame dropped", true})
	}
	if after.FramesAbandoned > before.FramesAbandoned {
		events = append(events, busEvent{"frame cut short by another address word", false})
	}
	return events
}

// frameTap collects the raw symbols of the frame in progress so that a
// decoded message can be shown with the symbols it came from.
type frameTap struct {
	words []palantir.Word
}

func (f *frameTap) add(w palantir.Word) {
	if w.IsAddress() {
		f.words = f.words[:0]
	}
	if len(f.words) < palantir.MaxFrameWords {
		f.words = append(f.words, w)
	}
}

func runTextMode(line Line, connInfo string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Palantir - Bus Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sniffer := palantir.NewSniffer(!noChecksum)
	var tap frameTap
	lastSummary := time.Now()

	err := pumpLine(ctx, line, func(w palantir.Word) {
		tap.add(w)

		before := sniffer.Stats()
		sniffer.Ingest(w)
		for _, ev := range statsEvents(before, sniffer.Stats()) {
			printEvent(ev)
		}

		if rx, ok := sniffer.PollMessage(); ok {
			fmt.Print(palantir.FormatReceived(rx, time.Now()))
			if showRaw {
				fmt.Printf("  Raw: %s\n", palantir.FormatFrame(tap.words))
			}
			fmt.Println()
		}

		if statsInterval > 0 && time.Since(lastSummary) >= time.Duration(statsInterval)*time.Second {
			fmt.Print(sniffer.Stats().String())
			fmt.Println()
			lastSummary = time.Now()
		}
	})

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Print("\n" + sniffer.Stats().String())
		return nil
	case errors.Is(err, ErrConnectionClosed):
		log.Printf("Connection closed")
		return nil
	}
	return err
}

// printEvent prints a dropped-frame event in highlighted format
func printEvent(ev busEvent) {
	timestamp := time.Now().Format("15:04:05.000")
	if ev.isError {
		fmt.Printf("[%s] \033[1;31mERROR:\033[0m %s\n\n", timestamp, ev.message)
		return
	}
	fmt.Printf("[%s] \033[1;33mWARNING:\033[0m %s\n\n", timestamp, ev.message)
}

func runTUIMode(line Line, connInfo string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := initialModel(connInfo, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Line reader goroutine
	go func() {
		sniffer := palantir.NewSniffer(!noChecksum)
		err := pumpLine(ctx, line, func(w palantir.Word) {
			before := sniffer.Stats()
			sniffer.Ingest(w)
			after := sniffer.Stats()

			events := statsEvents(before, after)
			rx, ok := sniffer.PollMessage()
			if len(events) == 0 && !ok {
				return
			}
			p.Send(lineDataMsg{
				at:       time.Now(),
				received: rx,
				hasFrame: ok,
				events:   events,
				stats:    sniffer.Stats(),
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			p.Send(lineClosedMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
