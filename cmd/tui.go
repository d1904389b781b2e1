// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Last message seen from one device
type deviceActivity struct {
	lastSeen time.Time
	kind     palantir.Kind
	summary  string
	frames   uint64
}

// TUI model
type model struct {
	connInfo      string
	showAll       bool
	started       time.Time
	stats         palantir.Stats
	rateBase      palantir.Stats
	rateBaseAt    time.Time
	frameRate     float64
	errorRate     float64
	devices       map[palantir.Address]*deviceActivity
	eventLog      []eventLogEntry
	maxLogEntries int
	log           viewport.Model
	closedErr     error
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time

type lineDataMsg struct {
	at       time.Time
	received palantir.Received
	hasFrame bool
	events   []busEvent
	stats    palantir.Stats
}

type lineClosedMsg struct {
	err error
}

func initialModel(connInfo string, showAll bool) model {
	now := time.Now()
	m := model{
		connInfo:      connInfo,
		showAll:       showAll,
		started:       now,
		rateBaseAt:    now,
		devices:       make(map[palantir.Address]*deviceActivity),
		maxLogEntries: 200,
		log:           viewport.New(76, 5),
		width:         80,
		height:        24,
	}
	m.refreshLog()
	return m
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLog()

	case tickMsg:
		m.calculateRates(time.Time(msg))
		return m, tickCmd()

	case lineDataMsg:
		m.stats = msg.stats
		for _, ev := range msg.events {
			m.addLogEntry(msg.at, ev.message, ev.isError)
		}
		if msg.hasFrame {
			m.recordFrame(msg.at, msg.received)
		}

	case lineClosedMsg:
		m.closedErr = msg.err
		m.addLogEntry(time.Now(), fmt.Sprintf("line closed: %v", msg.err), true)
	}

	return m, nil
}

// calculateRates updates per-second frame and error rates
func (m *model) calculateRates(now time.Time) {
	elapsed := now.Sub(m.rateBaseAt).Seconds()
	if elapsed < 1 {
		return
	}
	m.frameRate = float64(m.stats.FramesCompleted-m.rateBase.FramesCompleted) / elapsed
	m.errorRate = float64(m.stats.Errors()-m.rateBase.Errors()) / elapsed
	m.rateBase = m.stats
	m.rateBaseAt = now
}

func (m *model) recordFrame(at time.Time, rx palantir.Received) {
	d, ok := m.devices[rx.From]
	if !ok {
		d = &deviceActivity{}
		m.devices[rx.From] = d
	}
	d.lastSeen = at
	d.kind = rx.Message.Kind()
	d.summary = strings.TrimSpace(strings.ReplaceAll(palantir.FormatMessageBody(rx.Message), "\n", " "))
	d.frames++

	if m.showAll {
		m.addLogEntry(at, fmt.Sprintf("%s %d -> %d", rx.Message.Kind(), rx.From, rx.To), false)
	}
}

func (m *model) addLogEntry(at time.Time, message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: at,
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
	m.refreshLog()
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// resizeLog fits the event viewport below the fixed panels
func (m *model) resizeLog() {
	height := m.height - 12 - len(m.devices)
	if height < 5 {
		height = 5
	}
	m.log.Width = m.width - 4
	m.log.Height = height
	m.refreshLog()
}

func (m *model) refreshLog() {
	if len(m.eventLog) == 0 {
		m.log.SetContent(headerStyle.Render("  (no events yet)"))
		return
	}

	atBottom := m.log.AtBottom()
	var content strings.Builder
	for _, entry := range m.eventLog {
		timestamp := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			content.WriteString(timestamp + " " + errorStyle.Render("✗ "+entry.message) + "\n")
		} else {
			content.WriteString(timestamp + " " + warningStyle.Render("ℹ "+entry.message) + "\n")
		}
	}
	m.log.SetContent(content.String())
	if atBottom {
		m.log.GotoBottom()
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("PALANTIR - BUS MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Up %s | Press 'q' to quit",
		m.connInfo, mode, time.Since(m.started).Truncate(time.Second))))
	s.WriteString("\n\n")

	// Statistics
	var validPercent float64
	if m.stats.FramesStarted > 0 {
		validPercent = float64(m.stats.FramesCompleted) * 100.0 / float64(m.stats.FramesStarted)
	}

	var stats strings.Builder
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.FramesStarted)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.FramesCompleted, validPercent)),
		statsLabelStyle.Render("Dropped:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.Errors())),
	))
	if m.stats.Errors() > 0 {
		stats.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d\n",
			headerStyle.Render("checksum"), m.stats.ChecksumErrors,
			headerStyle.Render("length"), m.stats.LengthErrors,
			headerStyle.Render("unrecognized"), m.stats.Unrecognized,
		))
	}
	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.errorRate))
	if m.errorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", m.errorRate))
	}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %d",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f fr/s", m.frameRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
		statsLabelStyle.Render("Abandoned:"), m.stats.FramesAbandoned,
	))
	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Devices
	if len(m.devices) > 0 {
		s.WriteString(statsLabelStyle.Render("Devices:"))
		s.WriteString("\n")

		addrs := make([]palantir.Address, 0, len(m.devices))
		for a := range m.devices {
			addrs = append(addrs, a)
		}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

		var devices strings.Builder
		for i, a := range addrs {
			d := m.devices[a]
			if i > 0 {
				devices.WriteString("\n")
			}
			devices.WriteString(fmt.Sprintf("%s %s %s %s",
				statsLabelStyle.Render(fmt.Sprintf("@%-3d", a)),
				statsValueStyle.Render(fmt.Sprintf("%-17s", d.kind)),
				headerStyle.Render(fmt.Sprintf("%5d frames, %s ago", d.frames, time.Since(d.lastSeen).Truncate(time.Second))),
				d.summary,
			))
		}
		s.WriteString(boxStyle.Render(devices.String()))
		s.WriteString("\n\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.log.View()))

	return s.String()
}
