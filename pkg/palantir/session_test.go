// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenBus fails every operation
type brokenBus struct{ err error }

func (b brokenBus) Send([]Word) error    { return b.err }
func (b brokenBus) Read() (Word, error) { return 0, b.err }

func pumpAll(t *testing.T, s *Session) {
	t.Helper()
	for {
		err := s.Pump()
		if errors.Is(err, ErrWouldBlock) {
			return
		}
		require.NoError(t, err)
	}
}

func TestSession_SendToSelfLeavesBusUntouched(t *testing.T) {
	bus := NewLoopbackBus()
	master := NewMaster(bus, []Address{2})

	err := master.Send(MasterAddress, NewUpdateRequest(1))
	assert.ErrorIs(t, err, ErrSendToSelf)
	assert.Equal(t, 0, bus.Bursts())
	assert.Equal(t, 0, bus.Pending())

	slave := NewSlave(4, bus)
	assert.ErrorIs(t, slave.Send(4, NewDiscoveryAck()), ErrSendToSelf)
	assert.Equal(t, 0, bus.Bursts())
}

func TestSession_MasterToSlave(t *testing.T) {
	line := NewMultidrop()
	master := NewMaster(line.Attach(), []Address{2, 3})
	two := NewSlave(2, line.Attach())
	three := NewSlave(3, line.Attach())

	update := NewSolenoidUpdateMessage(NewSolenoidUpdate(0x0A5, 0x12))
	require.NoError(t, master.Send(3, update))

	pumpAll(t, two)
	_, ok := two.Poll()
	assert.False(t, ok, "slave 2 should ignore traffic for slave 3")

	pumpAll(t, three)
	got, ok := three.Poll()
	require.True(t, ok)
	assert.Equal(t, Received{From: MasterAddress, To: 3, Message: update}, got)

	// And the reply
	require.NoError(t, three.Send(MasterAddress, NewUpdateRequest(0xCAFE)))
	pumpAll(t, master)
	got, ok = master.Poll()
	require.True(t, ok)
	assert.Equal(t, Address(3), got.From)
	v, _ := got.Message.UpdateRequest()
	assert.Equal(t, UpdateRequest(0xCAFE), v)

	assert.Equal(t, uint64(1), master.Stats().Delivered)
}

func TestSession_LoopbackSelfTest(t *testing.T) {
	bus := NewLoopbackBus()
	s := NewMaster(bus, nil, WithLoopback())

	require.NoError(t, s.Send(MasterAddress, NewBroadcast(Broadcast{1, 2, 3})))
	assert.Equal(t, 1, bus.Bursts())

	pumpAll(t, s)
	got, ok := s.Poll()
	require.True(t, ok)
	assert.Equal(t, MasterAddress, got.From)
	assert.Equal(t, MasterAddress, got.To)
}

func TestSession_IngestDirect(t *testing.T) {
	s := NewSlave(2, NewLoopbackBus())
	for _, w := range buildFrame(t, MasterAddress, 2, NewDiscoveryRequest()) {
		s.Ingest(w)
	}
	got, ok := s.Poll()
	require.True(t, ok)
	assert.Equal(t, KindDiscoveryRequest, got.Message.Kind())
}

func TestSession_BusErrors(t *testing.T) {
	cause := errors.New("uart overrun")
	s := NewSlave(2, brokenBus{err: cause})

	err := s.Pump()
	var busErr *BusError
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, "read", busErr.Op)
	assert.ErrorIs(t, err, cause)

	err = s.Send(MasterAddress, NewDiscoveryAck())
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, "send", busErr.Op)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "uart overrun")

	// Discovery surfaces the read failure instead of spinning
	assert.ErrorIs(t, s.DiscoveryMode(testContext(t)), cause)
}

func TestSession_BusFull(t *testing.T) {
	bus := NewLoopbackBus()
	s := NewMaster(bus, []Address{2})

	var err error
	for i := 0; i < LoopbackDepth && err == nil; i++ {
		err = s.Send(2, NewBroadcast(Broadcast{}))
	}
	assert.ErrorIs(t, err, ErrBusFull)
}

func TestNewMaster_Panics(t *testing.T) {
	bus := NewLoopbackBus()

	assert.Panics(t, func() { NewMaster(bus, []Address{2, 3, 4, 5, 6, 7, 8, 9}) })
	assert.Panics(t, func() { NewMaster(bus, []Address{2, MasterAddress}) })
	assert.Panics(t, func() { NewMaster(bus, []Address{2, 3, 2}) })
	assert.Panics(t, func() { NewSlave(MasterAddress, bus) })

	assert.NotPanics(t, func() { NewMaster(bus, []Address{2, 3, 4, 5, 6, 7, 8}) })
}

func TestSession_Accessors(t *testing.T) {
	bus := NewLoopbackBus()
	m := NewMaster(bus, []Address{5, 2})
	assert.Equal(t, MasterAddress, m.Address())
	assert.Equal(t, RoleMaster, m.Role())
	assert.Equal(t, []Address{5, 2}, m.Slaves())

	s := NewSlave(9, bus)
	assert.Equal(t, Address(9), s.Address())
	assert.Equal(t, RoleSlave, s.Role())
	assert.Empty(t, s.Slaves())
}

func TestSession_LogsDiscovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	line := NewMultidrop()
	master := NewMaster(line.Attach(), []Address{2},
		WithLogger(logger),
		WithAckTimeout(time.Millisecond),
	)
	assert.ErrorIs(t, master.DiscoverDevices(testContext(t)), ErrDiscoveryTimeout)

	out := buf.String()
	assert.Contains(t, out, "discovery request sent")
	assert.Contains(t, out, "discovery failed")
	assert.Contains(t, out, "role=master")
}
