// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import (
	"errors"
	"fmt"
)

// Send-time validation
var (
	ErrSendToSelf   = errors.New("palantir: send to own address")
	ErrFrameTooLong = errors.New("palantir: frame too long")
)

// Decode failures. Parser drops these frames silently and only counts them;
// Transport.Decode and DecodeMessage return them to the caller.
var (
	ErrUnrecognizedMessage = errors.New("palantir: unrecognized or short message")
	ErrChecksumMismatch    = errors.New("palantir: checksum mismatch")
	ErrTruncated           = errors.New("palantir: truncated frame")
)

// Discovery failures
var (
	ErrInvalidDiscoveryAck     = errors.New("palantir: discovery ack from unexpected device")
	ErrInvalidDiscoveryRequest = errors.New("palantir: expected discovery request")
	ErrDiscoveryTimeout        = errors.New("palantir: discovery timed out")
	ErrNotMaster               = errors.New("palantir: operation requires master role")
	ErrNotSlave                = errors.New("palantir: operation requires slave role")
)

// ErrWouldBlock is the polling signal returned by Bus.Read and Session.Pump
// when no symbol is available yet. It is not a failure.
var ErrWouldBlock = errors.New("palantir: would block")

// ErrBusFull is returned by the in-memory buses when a listener's queue
// cannot take a whole burst.
var ErrBusFull = errors.New("palantir: bus buffer full")

// BusError carries a failure reported by the Bus adapter.
type BusError struct {
	Op  string // "send" or "read"
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("palantir: bus %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}
