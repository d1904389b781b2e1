// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

// Package palantir implements the Palantir link layer: a master and up to
// seven slaves exchanging small typed messages over a shared half-duplex
// RS-485 line driven in 9-bit mode.
//
// The ninth bit of every symbol marks an address word. Each device assembles
// only the frames that follow an address word naming it, decodes them into
// a single-slot mailbox, and hands them to the application through Poll.
// On top of that, a master confirms every configured slave at startup with
// a request/acknowledge handshake (see Session.DiscoverDevices).
package palantir

// Address identifies a device on the bus
type Address = uint8

// MasterAddress is reserved for the bus master
const MasterAddress Address = 1

// Frame size limits. MaxMessageLen covers the address word, the length
// byte and the payload; the source byte and the checksum trailer are
// carried on top of it.
const (
	MaxMessageLen = 64
	MaxDataLen    = MaxMessageLen - 2 // payload carried by one frame
	MaxSlaves     = 7                 // slave addresses a master can track
	ChecksumSize  = 2
	SourceSize    = 1
)

// AddressMarker is the ninth bit that flags an address word
const AddressMarker Word = 1 << 8

// MaxFrameWords is the symbol count of the longest frame Transport emits:
// address word, length, source, payload and checksum.
const MaxFrameWords = MaxMessageLen + SourceSize + ChecksumSize

// Frame phases tracked while a frame is being assembled (internal)
const (
	phaseLength = iota
	phaseSource
	phasePayload
	phaseCRC1
	phaseCRC2
)
