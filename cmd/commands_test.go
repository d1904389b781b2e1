// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"testing"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressList(t *testing.T) {
	got, err := parseAddressList("2, 3,,0x10")
	require.NoError(t, err)
	assert.Equal(t, []palantir.Address{2, 3, 0x10}, got)

	got, err = parseAddressList("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseAddressList("2,256")
	assert.ErrorContains(t, err, `"256"`)

	_, err = parseAddressList("two")
	assert.Error(t, err)
}

func TestCheckSlaveList(t *testing.T) {
	assert.NoError(t, checkSlaveList(nil))
	assert.NoError(t, checkSlaveList([]palantir.Address{2, 3, 4, 5, 6, 7, 8}))
	assert.ErrorContains(t, checkSlaveList([]palantir.Address{2, 3, 4, 5, 6, 7, 8, 9}), "at most 7")
	assert.ErrorContains(t, checkSlaveList([]palantir.Address{2, 1}), "master address")
	assert.ErrorContains(t, checkSlaveList([]palantir.Address{2, 3, 2}), "duplicate")
}

func TestBuildMessage(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		value   uint32
		state   string
		inputs  uint16
		outputs uint16
		want    palantir.Message
	}{
		{"broadcast", "broadcast", 0, "0102 03", 0, 0,
			palantir.NewBroadcast(palantir.Broadcast{1, 2, 3})},
		{"discovery request", "discovery-request", 0, "", 0, 0, palantir.NewDiscoveryRequest()},
		{"discovery ack underscores", "DISCOVERY_ACK", 0, "", 0, 0, palantir.NewDiscoveryAck()},
		{"update", "update", 0x01020304, "", 0, 0, palantir.NewUpdateRequest(0x01020304)},
		{"update long name", "update-request", 7, "", 0, 0, palantir.NewUpdateRequest(7)},
		{"solenoid", "solenoid", 0, "", 0xFFF, 0x7F, palantir.NewSolenoidUpdateMessage(palantir.NewSolenoidUpdate(0xFFF, 0x7F))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildMessage(tt.kind, tt.value, tt.state, tt.inputs, tt.outputs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildMessage_Errors(t *testing.T) {
	_, err := buildMessage("broadcast", 0, "zz", 0, 0)
	assert.ErrorContains(t, err, "--state")

	_, err = buildMessage("broadcast", 0, "0102030405060708090A0B", 0, 0)
	assert.ErrorContains(t, err, "at most 10")

	_, err = buildMessage("solenoid", 0, "", 0x1000, 0)
	assert.ErrorContains(t, err, "12 bits")

	_, err = buildMessage("solenoid", 0, "", 0, 0x80)
	assert.ErrorContains(t, err, "7 bits")

	_, err = buildMessage("reset", 0, "", 0, 0)
	assert.ErrorContains(t, err, "unknown message kind")
}

func TestEncodeFrom(t *testing.T) {
	m := palantir.NewUpdateRequest(0xCAFE)

	words, err := encodeFrom(5, palantir.MasterAddress, m, true)
	require.NoError(t, err)

	f, err := palantir.NewMasterTransport().Decode(words)
	require.NoError(t, err)
	assert.Equal(t, palantir.Address(5), f.Source)
	assert.Equal(t, palantir.MasterAddress, f.Target)
	got, err := palantir.DecodeMessage(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	legacy, err := encodeFrom(palantir.MasterAddress, 2, m, false)
	require.NoError(t, err)
	assert.Len(t, legacy, len(words)-palantir.ChecksumSize)

	_, err = encodeFrom(4, 4, m, true)
	assert.ErrorIs(t, err, palantir.ErrSendToSelf)
}

func TestStatsEvents(t *testing.T) {
	before := palantir.Stats{}
	assert.Empty(t, statsEvents(before, palantir.Stats{Words: 1, FramesCompleted: 1}))

	events := statsEvents(before, palantir.Stats{ChecksumErrors: 1, FramesAbandoned: 1})
	require.Len(t, events, 2)
	assert.True(t, events[0].isError)
	assert.Contains(t, events[0].message, "checksum")
	assert.False(t, events[1].isError)

	events = statsEvents(before, palantir.Stats{LengthErrors: 1})
	require.Len(t, events, 1)
	assert.Contains(t, events[0].message, "62")
}

func TestStatsEvents_FromSniffer(t *testing.T) {
	words := sampleFrame(t)
	words[len(words)-1] ^= 0x01

	sniffer := palantir.NewSniffer(true)
	var events []busEvent
	for _, w := range words {
		before := sniffer.Stats()
		sniffer.Ingest(w)
		events = append(events, statsEvents(before, sniffer.Stats())...)
	}
	require.Len(t, events, 1)
	assert.Contains(t, events[0].message, "checksum")
}

func TestFrameTap(t *testing.T) {
	first := sampleFrame(t)
	second, err := encodeFrom(palantir.MasterAddress, 2, palantir.NewDiscoveryRequest(), true)
	require.NoError(t, err)

	var tap frameTap
	for _, w := range append(append([]palantir.Word{}, first...), second...) {
		tap.add(w)
	}
	assert.Equal(t, second, tap.words)

	// Runaway data never grows past one frame
	for i := 0; i < 3*palantir.MaxFrameWords; i++ {
		tap.add(0x00)
	}
	assert.Len(t, tap.words, palantir.MaxFrameWords)
}

func TestSelftest_Loopback(t *testing.T) {
	s := palantir.NewMaster(palantir.NewLoopbackBus(), nil, palantir.WithLoopback())
	for _, m := range selftestMessages() {
		assert.NoError(t, loopbackCheck(s, m, palantir.MaxFrameWords), m.Kind().String())
	}
	assert.Equal(t, uint64(len(selftestMessages())), s.Stats().FramesCompleted)
}

func TestSelftest_NoEcho(t *testing.T) {
	// Without loopback the transport refuses to address itself
	s := palantir.NewMaster(palantir.NewLoopbackBus(), nil)
	err := loopbackCheck(s, palantir.NewDiscoveryAck(), palantir.MaxFrameWords)
	assert.ErrorIs(t, err, palantir.ErrSendToSelf)
}

func TestPingSummary(t *testing.T) {
	assert.Equal(t, "3 pings sent, 3 replies received, 0% loss", pingSummary(3, 3))
	assert.Equal(t, "4 pings sent, 1 replies received, 75% loss", pingSummary(4, 1))
	assert.Equal(t, "0 pings sent, 0 replies received, 0% loss", pingSummary(0, 0))
}
