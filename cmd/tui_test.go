// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(model)
	require.True(t, ok)
	return out
}

func TestTUI_RecordsDevices(t *testing.T) {
	m := initialModel("test", false)
	rx := palantir.Received{From: 3, To: 1, Message: palantir.NewUpdateRequest(9)}

	m = update(t, m, lineDataMsg{at: time.Now(), received: rx, hasFrame: true, stats: palantir.Stats{FramesCompleted: 1}})
	m = update(t, m, lineDataMsg{at: time.Now(), received: rx, hasFrame: true, stats: palantir.Stats{FramesCompleted: 2}})

	require.Contains(t, m.devices, palantir.Address(3))
	assert.Equal(t, uint64(2), m.devices[3].frames)
	assert.Equal(t, palantir.KindUpdateRequest, m.devices[3].kind)
	assert.Equal(t, uint64(2), m.stats.FramesCompleted)
	assert.Empty(t, m.eventLog, "valid frames are not logged unless show-all")
	assert.Contains(t, m.View(), "@3")
}

func TestTUI_ShowAllLogsFrames(t *testing.T) {
	m := initialModel("test", true)
	rx := palantir.Received{From: 1, To: 2, Message: palantir.NewDiscoveryRequest()}
	m = update(t, m, lineDataMsg{at: time.Now(), received: rx, hasFrame: true})

	require.Len(t, m.eventLog, 1)
	assert.Equal(t, "DISCOVERY_REQUEST 1 -> 2", m.eventLog[0].message)
}

func TestTUI_EventsAndClose(t *testing.T) {
	m := initialModel("test", false)
	m = update(t, m, lineDataMsg{at: time.Now(), events: []busEvent{{"checksum mismatch, frame dropped", true}}})
	m = update(t, m, lineClosedMsg{err: errors.New("gone")})

	require.Len(t, m.eventLog, 2)
	assert.True(t, m.eventLog[0].isError)
	assert.Contains(t, m.eventLog[1].message, "gone")
}

func TestTUI_LogIsBounded(t *testing.T) {
	m := initialModel("test", false)
	for i := 0; i < m.maxLogEntries+50; i++ {
		m.addLogEntry(time.Now(), "x", false)
	}
	assert.Len(t, m.eventLog, m.maxLogEntries)
}

func TestTUI_Quit(t *testing.T) {
	m := initialModel("test", false)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.True(t, next.(model).quitting)
	assert.Equal(t, "Shutting down...\n", next.(model).View())
}
