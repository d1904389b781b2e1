// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBridge(t *testing.T, h *hub) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *WebSocketBus {
	t.Helper()
	line, err := OpenWebSocketConnection(url, "", "", false)
	require.NoError(t, err)
	t.Cleanup(func() { line.Close() })
	return line
}

func waitClients(t *testing.T, h *hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.clientCount() == n },
		5*time.Second, 5*time.Millisecond)
}

// readWords polls line until n symbols arrive or the deadline passes
func readWords(t *testing.T, line palantir.Bus, n int) []palantir.Word {
	t.Helper()
	var out []palantir.Word
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n {
		w, err := line.Read()
		switch {
		case err == nil:
			out = append(out, w)
		case errors.Is(err, palantir.ErrWouldBlock):
			require.True(t, time.Now().Before(deadline), "got %d of %d symbols", len(out), n)
			time.Sleep(time.Millisecond)
		default:
			require.NoError(t, err)
		}
	}
	return out
}

func TestBridge_RelaysToOthers(t *testing.T) {
	h := newHub("", "")
	url := startBridge(t, h)

	a := dial(t, url)
	b := dial(t, url)
	c := dial(t, url)
	waitClients(t, h, 3)

	words := sampleFrame(t)
	require.NoError(t, a.Send(words))

	assert.Equal(t, words, readWords(t, b, len(words)))
	assert.Equal(t, words, readWords(t, c, len(words)))

	// The sender does not hear itself
	_, err := a.Read()
	assert.ErrorIs(t, err, palantir.ErrWouldBlock)
}

func TestBridge_DropsMalformedBurst(t *testing.T) {
	h := newHub("", "")
	url := startBridge(t, h)

	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, h, 2)

	a.mu.Lock()
	err := a.conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0x00})
	a.mu.Unlock()
	require.NoError(t, err)

	words := sampleFrame(t)
	require.NoError(t, a.Send(words))

	// Only the valid burst comes through
	assert.Equal(t, words, readWords(t, b, len(words)))
}

func TestBridge_BasicAuth(t *testing.T) {
	h := newHub("pinball", "wizard")
	url := startBridge(t, h)

	_, err := OpenWebSocketConnection(url, "pinball", "wrong", false)
	assert.ErrorContains(t, err, "HTTP 401")

	_, err = OpenWebSocketConnection(url, "", "", false)
	assert.ErrorContains(t, err, "HTTP 401")

	line, err := OpenWebSocketConnection(url, "pinball", "wizard", false)
	require.NoError(t, err)
	line.Close()
}

func TestBridge_Monitor(t *testing.T) {
	h := newHub("", "")
	frames := make(chan palantir.Received, 4)
	h.watch(true, func(rx palantir.Received) { frames <- rx })
	url := startBridge(t, h)

	a := dial(t, url)
	waitClients(t, h, 1)

	require.NoError(t, a.Send(sampleFrame(t)))

	select {
	case rx := <-frames:
		assert.Equal(t, palantir.Address(3), rx.From)
		assert.Equal(t, palantir.MasterAddress, rx.To)
		su, ok := rx.Message.SolenoidUpdate()
		require.True(t, ok)
		assert.Equal(t, uint16(0xABC), su.Inputs())
	case <-time.After(5 * time.Second):
		t.Fatal("monitor saw no frame")
	}
}

func TestBridge_Discovery(t *testing.T) {
	h := newHub("", "")
	url := startBridge(t, h)

	masterLine := dial(t, url)
	slaveLines := []*WebSocketBus{dial(t, url), dial(t, url)}
	waitClients(t, h, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, len(slaveLines))
	for i, line := range slaveLines {
		slave := palantir.NewSlave(palantir.Address(2+i), line)
		go func() { done <- slave.DiscoveryMode(ctx) }()
	}

	master := palantir.NewMaster(masterLine, []palantir.Address{2, 3})
	require.NoError(t, master.DiscoverDevices(ctx))
	for range slaveLines {
		require.NoError(t, <-done)
	}

	for _, st := range master.SlaveStates() {
		assert.Equal(t, palantir.DiscoveryAcknowledged, st.State, "slave %d", st.Address)
	}
}

func TestPingOnce(t *testing.T) {
	h := newHub("", "")
	url := startBridge(t, h)

	masterLine := dial(t, url)
	slaveLine := dial(t, url)
	waitClients(t, h, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A slave that answers one UPDATE_REQUEST
	slaveInputs, slaveOutputs = 0x0F0, 0x11
	t.Cleanup(func() { slaveInputs, slaveOutputs = 0, 0 })
	slave := palantir.NewSlave(2, slaveLine)
	go func() {
		for ctx.Err() == nil {
			if err := slave.Pump(); errors.Is(err, palantir.ErrWouldBlock) {
				time.Sleep(time.Millisecond)
			}
			if rx, ok := slave.Poll(); ok {
				answer(slave, rx)
				return
			}
		}
	}()

	master := palantir.NewMaster(masterLine, nil)
	su, rtt, err := pingOnce(ctx, master, 2, 1, 5*time.Second)
	require.NoError(t, err)
	assert.Positive(t, rtt)
	assert.Equal(t, uint16(0x0F0), su.Inputs())
	assert.Equal(t, uint16(0x11), su.Outputs())

	_, _, err = pingOnce(ctx, master, 2, 2, 50*time.Millisecond)
	assert.ErrorIs(t, err, errPingTimeout)
}

func TestBridge_StalledClientDoesNotFreezeLine(t *testing.T) {
	h := newHub("", "")
	url := startBridge(t, h)

	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, h, 2)

	// Hold every client's write lock so relaying to them blocks
	h.mu.Lock()
	held := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		held = append(held, c)
	}
	h.mu.Unlock()
	for _, c := range held {
		c.mu.Lock()
	}

	words := sampleFrame(t)
	require.NoError(t, a.Send(words))
	time.Sleep(50 * time.Millisecond)

	// Clients still join while a relay is stuck
	dial(t, url)
	waitClients(t, h, 3)

	for _, c := range held {
		c.mu.Unlock()
	}
	assert.Equal(t, words, readWords(t, b, len(words)))
}

// busyLine always has a stranger's traffic waiting
type busyLine struct {
	frame []palantir.Word
	pos   int
}

func (l *busyLine) Send([]palantir.Word) error { return nil }

func (l *busyLine) Read() (palantir.Word, error) {
	w := l.frame[l.pos%len(l.frame)]
	l.pos++
	return w, nil
}

func TestPingOnce_TimesOutOnBusyLine(t *testing.T) {
	frame, err := encodeFrom(6, 5, palantir.NewUpdateRequest(1), true)
	require.NoError(t, err)
	line := &busyLine{frame: frame}

	master := palantir.NewMaster(line, nil)
	done := make(chan error, 1)
	go func() {
		_, _, err := pingOnce(context.Background(), master, 2, 1, 50*time.Millisecond)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errPingTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("ping ignored its timeout on a busy line")
	}
	assert.Positive(t, line.pos)
}

func TestPingOnce_CancelOnBusyLine(t *testing.T) {
	frame, err := encodeFrom(6, 5, palantir.NewUpdateRequest(1), true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	master := palantir.NewMaster(&busyLine{frame: frame}, nil)
	_, _, err = pingOnce(ctx, master, 2, 1, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
