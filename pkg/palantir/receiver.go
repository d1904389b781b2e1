// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import "errors"

// ReceiverState is the frame assembly state
type ReceiverState int

// Receiver states
const (
	ReceiverIdle      ReceiverState = iota // no frame in progress
	ReceiverReceiving                      // accumulating a frame
	ReceiverCompleted                      // frame ready for pickup
	ReceiverError                          // malformed, waits for the next Start
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "IDLE"
	case ReceiverReceiving:
		return "RECEIVING"
	case ReceiverCompleted:
		return "COMPLETED"
	case ReceiverError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var errNotReceiving = errors.New("palantir: receiver not accepting bytes")

// Receiver assembles one frame body at a time into a fixed buffer.
//
// After Start, the first byte is the declared payload length, the second
// the sender's address, then the payload, then the checksum when the
// receiver was built with one. Memory is bounded to a single frame: the
// buffer is reused for every frame and nothing is queued.
type Receiver struct {
	state      ReceiverState
	phase      int
	checksum   bool
	buffer     [MaxDataLen]byte
	dataLength uint8
	received   uint8
	source     Address
	crc        uint16
}

// NewReceiver creates an idle receiver. checksum selects whether two
// trailing integrity bytes follow the payload.
func NewReceiver(checksum bool) *Receiver {
	return &Receiver{checksum: checksum}
}

// State returns the current assembly state
func (r *Receiver) State() ReceiverState {
	return r.state
}

// IsComplete reports whether a whole frame is ready
func (r *Receiver) IsComplete() bool {
	return r.state == ReceiverCompleted
}

func (r *Receiver) reset() {
	r.phase = phaseLength
	r.dataLength = 0
	r.received = 0
	r.source = 0
	r.crc = 0
}

// Start begins a new frame. It is called whenever an address word naming
// this device is observed, abandoning any frame in progress.
func (r *Receiver) Start() {
	r.reset()
	r.state = ReceiverReceiving
}

// AddToBuffer feeds one byte. Bytes outside a frame fail without changing
// state; a declared length above MaxDataLen fails and parks the receiver in
// ReceiverError until the next Start.
func (r *Receiver) AddToBuffer(b byte) error {
	if r.state != ReceiverReceiving {
		return errNotReceiving
	}

	switch r.phase {
	case phaseLength:
		if b > MaxDataLen {
			r.state = ReceiverError
			return ErrFrameTooLong
		}
		r.dataLength = b
		r.phase = phaseSource
		return nil

	case phaseSource:
		r.source = b
		r.phase = phasePayload
		r.advance()
		return nil

	case phasePayload:
		r.buffer[r.received] = b
		r.received++
		r.advance()
		return nil

	case phaseCRC1:
		r.crc = uint16(b)
		r.phase = phaseCRC2
		return nil

	case phaseCRC2:
		r.crc |= uint16(b) << 8
		r.state = ReceiverCompleted
		return nil

	default:
		r.state = ReceiverError
		return errNotReceiving
	}
}

// advance leaves the payload phase once the declared count is reached
func (r *Receiver) advance() {
	if r.received < r.dataLength {
		return
	}
	if r.checksum {
		r.phase = phaseCRC1
		return
	}
	r.state = ReceiverCompleted
}

// Data returns the payload, len == declared length. Only meaningful once
// the receiver is complete.
func (r *Receiver) Data() []byte {
	return r.buffer[:r.dataLength]
}

// Source returns the sender address carried by the frame
func (r *Receiver) Source() Address {
	return r.source
}

// Checksum returns the received integrity code
func (r *Receiver) Checksum() uint16 {
	return r.crc
}
