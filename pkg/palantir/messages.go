// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import (
	"encoding/binary"
	"fmt"
)

// Kind is the one-byte discriminant that leads every message on the wire.
// The values are part of the wire format and must never be renumbered.
type Kind uint8

// Message kinds
const (
	KindBroadcast        Kind = 0
	KindDiscoveryRequest Kind = 1
	KindDiscoveryAck     Kind = 2
	KindUpdateRequest    Kind = 3
	KindSolenoidUpdate   Kind = 4
)

// BroadcastSize is the opaque body length of a Broadcast
const BroadcastSize = 10

// maxBodySize bounds every body in the kind table
const maxBodySize = BroadcastSize

// MaxMessageSize is the longest encoded message: discriminant plus body
const MaxMessageSize = 1 + maxBodySize

type kindInfo struct {
	name    string
	bodyLen int
}

// kinds is indexed by discriminant
var kinds = [...]kindInfo{
	KindBroadcast:        {"BROADCAST", BroadcastSize},
	KindDiscoveryRequest: {"DISCOVERY_REQUEST", 0},
	KindDiscoveryAck:     {"DISCOVERY_ACK", 0},
	KindUpdateRequest:    {"UPDATE_REQUEST", 4},
	KindSolenoidUpdate:   {"SOLENOID_UPDATE", 4},
}

// Valid reports whether k is a known discriminant
func (k Kind) Valid() bool {
	return int(k) < len(kinds)
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(k))
	}
	return kinds[k].name
}

// Broadcast is an opaque 10-byte state snapshot sent to every device
type Broadcast [BroadcastSize]byte

// UpdateRequest carries an opaque 32-bit value
type UpdateRequest uint32

// SolenoidUpdate is a bit-packed record: bits 0-11 hold twelve input flags,
// bits 12-18 hold seven output flags, bits 19-31 are reserved and carried
// through unchanged.
type SolenoidUpdate uint32

// Solenoid field layout
const (
	solenoidInputBits   = 12
	solenoidOutputBits  = 7
	solenoidInputMask   = 1<<solenoidInputBits - 1
	solenoidOutputMask  = 1<<solenoidOutputBits - 1
	solenoidOutputLSB   = solenoidInputBits
	solenoidReservedLSB = solenoidInputBits + solenoidOutputBits
)

// NewSolenoidUpdate packs inputs and outputs; reserved bits are zero
func NewSolenoidUpdate(inputs, outputs uint16) SolenoidUpdate {
	var s SolenoidUpdate
	s.SetInputs(inputs)
	s.SetOutputs(outputs)
	return s
}

// Inputs returns the 12 input flags
func (s SolenoidUpdate) Inputs() uint16 {
	return uint16(uint32(s) & solenoidInputMask)
}

// Outputs returns the 7 output flags
func (s SolenoidUpdate) Outputs() uint16 {
	return uint16(uint32(s) >> solenoidOutputLSB & solenoidOutputMask)
}

// Reserved returns bits 19-31, shifted down
func (s SolenoidUpdate) Reserved() uint32 {
	return uint32(s) >> solenoidReservedLSB
}

// SetInputs replaces the input flags; bits beyond the 12th are dropped
func (s *SolenoidUpdate) SetInputs(v uint16) {
	*s = SolenoidUpdate(uint32(*s)&^solenoidInputMask | uint32(v)&solenoidInputMask)
}

// SetOutputs replaces the output flags; bits beyond the 7th are dropped
func (s *SolenoidUpdate) SetOutputs(v uint16) {
	const mask = solenoidOutputMask << solenoidOutputLSB
	*s = SolenoidUpdate(uint32(*s)&^mask | (uint32(v)&solenoidOutputMask)<<solenoidOutputLSB)
}

// Input reports a single input flag (0-11)
func (s SolenoidUpdate) Input(i int) bool {
	return i >= 0 && i < solenoidInputBits && uint32(s)&(1<<i) != 0
}

// Output reports a single output flag (0-6)
func (s SolenoidUpdate) Output(i int) bool {
	return i >= 0 && i < solenoidOutputBits && uint32(s)&(1<<(solenoidOutputLSB+i)) != 0
}

// Message is one decoded message: a kind and its fixed-layout body.
// It is a plain value so the receive path never allocates.
type Message struct {
	kind Kind
	body [maxBodySize]byte
}

// NewBroadcast wraps a Broadcast payload
func NewBroadcast(b Broadcast) Message {
	m := Message{kind: KindBroadcast}
	copy(m.body[:], b[:])
	return m
}

// NewDiscoveryRequest builds the discovery request signal
func NewDiscoveryRequest() Message {
	return Message{kind: KindDiscoveryRequest}
}

// NewDiscoveryAck builds the discovery acknowledgement signal
func NewDiscoveryAck() Message {
	return Message{kind: KindDiscoveryAck}
}

// NewUpdateRequest wraps an UpdateRequest value
func NewUpdateRequest(v UpdateRequest) Message {
	m := Message{kind: KindUpdateRequest}
	binary.LittleEndian.PutUint32(m.body[:4], uint32(v))
	return m
}

// NewSolenoidUpdateMessage wraps a SolenoidUpdate record
func NewSolenoidUpdateMessage(s SolenoidUpdate) Message {
	m := Message{kind: KindSolenoidUpdate}
	binary.LittleEndian.PutUint32(m.body[:4], uint32(s))
	return m
}

// Kind returns the message discriminant
func (m Message) Kind() Kind {
	return m.kind
}

// Broadcast returns the body of a Broadcast message
func (m Message) Broadcast() (Broadcast, bool) {
	var b Broadcast
	if m.kind != KindBroadcast {
		return b, false
	}
	copy(b[:], m.body[:BroadcastSize])
	return b, true
}

// UpdateRequest returns the body of an UpdateRequest message
func (m Message) UpdateRequest() (UpdateRequest, bool) {
	if m.kind != KindUpdateRequest {
		return 0, false
	}
	return UpdateRequest(binary.LittleEndian.Uint32(m.body[:4])), true
}

// SolenoidUpdate returns the body of a SolenoidUpdate message
func (m Message) SolenoidUpdate() (SolenoidUpdate, bool) {
	if m.kind != KindSolenoidUpdate {
		return 0, false
	}
	return SolenoidUpdate(binary.LittleEndian.Uint32(m.body[:4])), true
}

// Body returns the encoded body that follows the discriminant
func (m Message) Body() []byte {
	return m.body[:kinds[m.kind].bodyLen]
}

// AppendMessage appends the wire encoding of m to dst: the discriminant,
// then the fixed body, little-endian for multi-byte fields.
func AppendMessage(dst []byte, m Message) []byte {
	dst = append(dst, byte(m.kind))
	return append(dst, m.Body()...)
}

// EncodeMessage returns the wire encoding of m
func EncodeMessage(m Message) []byte {
	return AppendMessage(make([]byte, 0, MaxMessageSize), m)
}

// DecodeMessage parses one message. Unknown discriminants and bodies whose
// length differs from the kind's fixed layout fail with
// ErrUnrecognizedMessage.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("empty message: %w", ErrUnrecognizedMessage)
	}

	kind := Kind(data[0])
	if !kind.Valid() {
		return Message{}, fmt.Errorf("discriminant 0x%02X: %w", data[0], ErrUnrecognizedMessage)
	}

	body := data[1:]
	if want := kinds[kind].bodyLen; len(body) != want {
		return Message{}, fmt.Errorf("%s body is %d bytes (want %d): %w", kind, len(body), want, ErrUnrecognizedMessage)
	}

	m := Message{kind: kind}
	copy(m.body[:], body)
	return m, nil
}

// decodeMessage is the allocation-free form used on the receive path
func decodeMessage(data []byte) (Message, bool) {
	if len(data) == 0 {
		return Message{}, false
	}
	kind := Kind(data[0])
	if !kind.Valid() || len(data)-1 != kinds[kind].bodyLen {
		return Message{}, false
	}
	m := Message{kind: kind}
	copy(m.body[:], data[1:])
	return m, true
}
