// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import (
	"fmt"
	"strings"
	"time"
)

// FormatReceived formats a received message into a human-readable string
func FormatReceived(r Received, at time.Time) string {
	timestamp := at.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) from=%d to=%d\n",
		timestamp, r.Message.Kind(), uint8(r.Message.Kind()), r.From, r.To)
	return result + FormatMessageBody(r.Message)
}

// FormatMessageBody formats the body of a message based on its kind
func FormatMessageBody(m Message) string {
	switch m.Kind() {
	case KindDiscoveryRequest, KindDiscoveryAck:
		return "  (no payload)\n"

	case KindBroadcast:
		b, _ := m.Broadcast()
		return "  State: " + formatHex(b[:]) + "\n"

	case KindUpdateRequest:
		v, _ := m.UpdateRequest()
		return fmt.Sprintf("  Value: 0x%08X (%d)\n", uint32(v), uint32(v))

	case KindSolenoidUpdate:
		s, _ := m.SolenoidUpdate()
		result := fmt.Sprintf("  Inputs:  %s (0x%03X)\n", formatFlags(s.Inputs(), solenoidInputBits), s.Inputs())
		result += fmt.Sprintf("  Outputs: %s (0x%02X)\n", formatFlags(s.Outputs(), solenoidOutputBits), s.Outputs())
		if r := s.Reserved(); r != 0 {
			result += fmt.Sprintf("  Reserved: 0x%04X\n", r)
		}
		return result
	}

	return "  Payload: " + formatHex(m.Body()) + "\n"
}

// FormatFrame formats the raw symbols of a frame, marking address words
func FormatFrame(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}

// formatFlags renders flag bits, lowest first, as a run of 1/0
func formatFlags(v uint16, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if v&(1<<i) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func formatHex(data []byte) string {
	result := ""
	for i, b := range data {
		if i > 0 {
			result += " "
		}
		result += fmt.Sprintf("%02X", b)
	}
	return result
}
