// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import "fmt"

// Role distinguishes the bus master from slaves
type Role int

// Device roles
const (
	RoleMaster Role = iota
	RoleSlave
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "unknown"
	}
}

// Frame is one decoded transport frame
type Frame struct {
	Target  Address
	Source  Address
	Payload []byte
}

// Transport wraps message payloads in frames for one device:
//
//	[address word] [length] [source] [payload ...] [crc lo] [crc hi]
//
// Every symbol after the first has the marker bit clear. The checksum is
// CRC-16/CCITT-FALSE over target, length, source and payload; it is left
// out when the transport is built WithChecksum(false).
type Transport struct {
	role     Role
	address  Address
	checksum bool
	loopback bool
}

// NewMasterTransport creates the transport for the master at MasterAddress
func NewMasterTransport(opts ...Option) *Transport {
	return newTransport(RoleMaster, MasterAddress, buildOptions(opts))
}

// NewSlaveTransport creates the transport for a slave at address
func NewSlaveTransport(address Address, opts ...Option) *Transport {
	return newTransport(RoleSlave, address, buildOptions(opts))
}

func newTransport(role Role, address Address, o options) *Transport {
	return &Transport{
		role:     role,
		address:  address,
		checksum: o.checksum,
		loopback: o.loopback,
	}
}

// Role returns the transport's role
func (t *Transport) Role() Role {
	return t.role
}

// Address returns the transport's own address
func (t *Transport) Address() Address {
	return t.address
}

// Checksum reports whether frames carry an integrity code
func (t *Transport) Checksum() bool {
	return t.checksum
}

// NewParser creates a parser matching this transport's address and framing
func (t *Transport) NewParser() *Parser {
	return NewParser(t.address, t.checksum)
}

// Encode appends the symbols of one frame to dst. Validation happens before
// anything is appended: an over-long payload fails with ErrFrameTooLong and
// a frame to the transport's own address fails with ErrSendToSelf unless
// loopback is enabled.
func (t *Transport) Encode(dst []Word, target Address, payload []byte) ([]Word, error) {
	if len(payload) > MaxDataLen {
		return dst, fmt.Errorf("payload is %d bytes (max %d): %w", len(payload), MaxDataLen, ErrFrameTooLong)
	}
	if target == t.address && !t.loopback {
		return dst, ErrSendToSelf
	}

	length := uint8(len(payload))
	dst = append(dst, AddressWord(target), DataWord(length), DataWord(t.address))
	for _, b := range payload {
		dst = append(dst, DataWord(b))
	}

	if t.checksum {
		crc := frameCRC(target, length, t.address, payload)
		dst = append(dst, DataWord(byte(crc)), DataWord(byte(crc>>8)))
	}

	return dst, nil
}

// Decode parses exactly one frame. It is the inverse of Encode and does not
// filter on the destination address.
func (t *Transport) Decode(words []Word) (Frame, error) {
	if len(words) < 3 {
		return Frame{}, fmt.Errorf("frame header needs 3 symbols, got %d: %w", len(words), ErrTruncated)
	}
	if !words[0].IsAddress() {
		return Frame{}, fmt.Errorf("frame does not start with an address word: %w", ErrTruncated)
	}
	for i, w := range words[1:] {
		if w.IsAddress() {
			return Frame{}, fmt.Errorf("address word at symbol %d: %w", i+1, ErrTruncated)
		}
	}

	length := words[1].Byte()
	if length > MaxDataLen {
		return Frame{}, fmt.Errorf("declared length %d (max %d): %w", length, MaxDataLen, ErrFrameTooLong)
	}

	want := 3 + int(length)
	if t.checksum {
		want += ChecksumSize
	}
	if len(words) < want {
		return Frame{}, fmt.Errorf("frame needs %d symbols, got %d: %w", want, len(words), ErrTruncated)
	}
	if len(words) > want {
		return Frame{}, fmt.Errorf("%d symbols after end of frame: %w", len(words)-want, ErrFrameTooLong)
	}

	f := Frame{
		Target:  words[0].Address(),
		Source:  words[2].Byte(),
		Payload: make([]byte, length),
	}
	for i := range f.Payload {
		f.Payload[i] = words[3+i].Byte()
	}

	if t.checksum {
		got := uint16(words[want-2].Byte()) | uint16(words[want-1].Byte())<<8
		if calc := frameCRC(f.Target, length, f.Source, f.Payload); got != calc {
			return Frame{}, fmt.Errorf("expected 0x%04X, got 0x%04X: %w", calc, got, ErrChecksumMismatch)
		}
	}

	return f, nil
}
