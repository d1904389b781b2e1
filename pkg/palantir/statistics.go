// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import "fmt"

// Stats counts what a Parser has seen. The receive path updates it in place
// without allocating; callers read snapshots through Parser.Stats.
type Stats struct {
	Words           uint64 // symbols ingested
	FramesStarted   uint64 // matching address words
	FramesCompleted uint64 // frames that passed the integrity check
	FramesAbandoned uint64 // frames cut short by another address word
	Delivered       uint64 // messages taken from the mailbox
	ChecksumErrors  uint64
	LengthErrors    uint64 // declared length above MaxDataLen
	Unrecognized    uint64 // complete frames the message codec rejected
	Overwritten     uint64 // undelivered messages replaced by a newer one
	StrayBytes      uint64 // data symbols outside any frame
}

// Errors returns the number of frames dropped for being malformed
func (s Stats) Errors() uint64 {
	return s.ChecksumErrors + s.LengthErrors + s.Unrecognized
}

// String returns a formatted statistics summary
func (s Stats) String() string {
	var completedPercent, errorPercent float64
	if s.FramesStarted > 0 {
		completedPercent = float64(s.FramesCompleted) * 100.0 / float64(s.FramesStarted)
		errorPercent = float64(s.Errors()) * 100.0 / float64(s.FramesStarted)
	}

	result := "=== Statistics ===\n"
	result += fmt.Sprintf("Words:            %8d\n", s.Words)
	result += fmt.Sprintf("Frames started:   %8d\n", s.FramesStarted)
	result += fmt.Sprintf("Frames complete:  %8d (%.1f%%)\n", s.FramesCompleted, completedPercent)
	result += fmt.Sprintf("Delivered:        %8d\n", s.Delivered)

	if s.Errors() > 0 {
		result += fmt.Sprintf("Dropped frames:   %8d (%.1f%%)\n", s.Errors(), errorPercent)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("  Checksum:       %8d\n", s.ChecksumErrors)
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("  Length:         %8d\n", s.LengthErrors)
	}
	if s.Unrecognized > 0 {
		result += fmt.Sprintf("  Unrecognized:   %8d\n", s.Unrecognized)
	}
	if s.FramesAbandoned > 0 {
		result += fmt.Sprintf("Abandoned:        %8d\n", s.FramesAbandoned)
	}
	if s.Overwritten > 0 {
		result += fmt.Sprintf("Overwritten:      %8d\n", s.Overwritten)
	}
	if s.StrayBytes > 0 {
		result += fmt.Sprintf("Stray bytes:      %8d\n", s.StrayBytes)
	}

	return result
}
