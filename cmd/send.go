// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/spf13/cobra"
)

var (
	sendFrom    uint8
	sendTo      uint8
	sendKind    string
	sendValue   uint32
	sendState   string
	sendInputs  uint16
	sendOutputs uint16
	sendRaw     bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Encode and transmit one message",
	Long: `Build a single message, frame it, and put it on the line.

Message kinds:
  broadcast          10-byte state snapshot (--state, hex)
  discovery-request  no body
  discovery-ack      no body
  update             32-bit value (--value)
  solenoid           12 input flags (--inputs) and 7 output flags (--outputs)

The source address is written into the frame, so send can impersonate any
device. Sending to the source's own address is refused.

Examples:
  palantir send --port /dev/ttyUSB0 --to 2 --kind discovery-request
  palantir send --url ws://localhost:8485/bus --from 3 --to 1 --kind solenoid --inputs 0xFFF --outputs 3

Exit codes:
  0 - Message sent
  1 - Invalid message
  2 - Connection error`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint8Var(&sendFrom, "from", palantir.MasterAddress, "Source address")
	sendCmd.Flags().Uint8Var(&sendTo, "to", 2, "Destination address")
	sendCmd.Flags().StringVarP(&sendKind, "kind", "k", "discovery-request", "Message kind")
	sendCmd.Flags().Uint32Var(&sendValue, "value", 0, "UPDATE_REQUEST value")
	sendCmd.Flags().StringVar(&sendState, "state", "", "BROADCAST state as hex (up to 10 bytes)")
	sendCmd.Flags().Uint16Var(&sendInputs, "inputs", 0, "SOLENOID_UPDATE input flags")
	sendCmd.Flags().Uint16Var(&sendOutputs, "outputs", 0, "SOLENOID_UPDATE output flags")
	sendCmd.Flags().BoolVar(&sendRaw, "raw", false, "Print the encoded symbols")
}

// buildMessage assembles a message from its command-line description
func buildMessage(kind string, value uint32, state string, inputs, outputs uint16) (palantir.Message, error) {
	switch strings.ToLower(strings.ReplaceAll(kind, "_", "-")) {
	case "broadcast":
		var b palantir.Broadcast
		raw, err := hex.DecodeString(strings.ReplaceAll(state, " ", ""))
		if err != nil {
			return palantir.Message{}, fmt.Errorf("invalid --state: %v", err)
		}
		if len(raw) > len(b) {
			return palantir.Message{}, fmt.Errorf("--state is %d bytes, at most %d", len(raw), len(b))
		}
		copy(b[:], raw)
		return palantir.NewBroadcast(b), nil

	case "discovery-request":
		return palantir.NewDiscoveryRequest(), nil

	case "discovery-ack":
		return palantir.NewDiscoveryAck(), nil

	case "update", "update-request":
		return palantir.NewUpdateRequest(palantir.UpdateRequest(value)), nil

	case "solenoid", "solenoid-update":
		if inputs > 0xFFF {
			return palantir.Message{}, fmt.Errorf("--inputs 0x%X exceeds 12 bits", inputs)
		}
		if outputs > 0x7F {
			return palantir.Message{}, fmt.Errorf("--outputs 0x%X exceeds 7 bits", outputs)
		}
		return palantir.NewSolenoidUpdateMessage(palantir.NewSolenoidUpdate(inputs, outputs)), nil
	}

	return palantir.Message{}, fmt.Errorf("unknown message kind %q", kind)
}

// encodeFrom frames m as if sent by source
func encodeFrom(source, target palantir.Address, m palantir.Message, checksum bool) ([]palantir.Word, error) {
	var t *palantir.Transport
	if source == palantir.MasterAddress {
		t = palantir.NewMasterTransport(palantir.WithChecksum(checksum))
	} else {
		t = palantir.NewSlaveTransport(source, palantir.WithChecksum(checksum))
	}
	return t.Encode(nil, target, palantir.EncodeMessage(m))
}

func runSend(cmd *cobra.Command, args []string) error {
	msg, err := buildMessage(sendKind, sendValue, sendState, sendInputs, sendOutputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	words, err := encodeFrom(sendFrom, sendTo, msg, !noChecksum)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
		os.Exit(1)
	}

	line, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer line.Close()

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Sending %s from %d to %d\n", msg.Kind(), sendFrom, sendTo)
	fmt.Print(palantir.FormatMessageBody(msg))
	if sendRaw {
		fmt.Printf("  Raw: %s\n", palantir.FormatFrame(words))
	}

	if err := line.Send(words); err != nil {
		fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Sent %d symbols\n", len(words))
	return nil
}
