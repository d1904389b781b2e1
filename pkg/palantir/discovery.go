// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// DiscoveryState tracks one slave through the startup handshake
type DiscoveryState int

// Discovery states
const (
	DiscoveryNotStarted DiscoveryState = iota
	DiscoveryAwaitingAck
	DiscoveryAcknowledged
	DiscoveryFailed
)

func (d DiscoveryState) String() string {
	switch d {
	case DiscoveryNotStarted:
		return "NOT_STARTED"
	case DiscoveryAwaitingAck:
		return "AWAITING_ACK"
	case DiscoveryAcknowledged:
		return "ACKNOWLEDGED"
	case DiscoveryFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SlaveStatus is the discovery progress of one configured slave
type SlaveStatus struct {
	Address  Address
	State    DiscoveryState
	Attempts int // discovery requests sent
}

// SlaveStates returns the discovery progress of every configured slave, in
// list order.
func (s *Session) SlaveStates() []SlaveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SlaveStatus, s.nslaves)
	copy(out, s.states[:s.nslaves])
	return out
}

func (s *Session) setState(i int, state DiscoveryState) {
	s.mu.Lock()
	s.states[i].State = state
	if state == DiscoveryAwaitingAck {
		s.states[i].Attempts++
	}
	s.mu.Unlock()
}

// DiscoverDevices confirms every configured slave, in list order. For each
// slave it sends a DiscoveryRequest and busy-polls the bus until that
// slave's DiscoveryAck arrives; other messages are discarded. An ack from a
// different device aborts with ErrInvalidDiscoveryAck.
//
// Without WithAckTimeout the wait per slave is unbounded, so a silent slave
// stalls the master until ctx is cancelled. With a timeout the request is
// re-sent up to the WithDiscoveryRetries count before ErrDiscoveryTimeout.
// This should only be called by the master at startup.
func (s *Session) DiscoverDevices(ctx context.Context) error {
	if s.Role() != RoleMaster {
		return ErrNotMaster
	}

	s.mu.Lock()
	for i := range s.states[:s.nslaves] {
		s.states[i] = SlaveStatus{Address: s.slaves[i]}
	}
	s.mu.Unlock()

	for i := 0; i < s.nslaves; i++ {
		if err := s.discoverSlave(ctx, i); err != nil {
			s.setState(i, DiscoveryFailed)
			s.log.Warn("discovery failed", "slave", s.slaves[i], "error", err)
			return err
		}
		s.setState(i, DiscoveryAcknowledged)
		s.log.Info("slave acknowledged", "slave", s.slaves[i])
	}

	return nil
}

func (s *Session) discoverSlave(ctx context.Context, i int) error {
	addr := s.slaves[i]

	for attempt := 0; ; attempt++ {
		s.setState(i, DiscoveryAwaitingAck)
		if err := s.Send(addr, NewDiscoveryRequest()); err != nil {
			return fmt.Errorf("discovery request to %d: %w", addr, err)
		}
		s.log.Debug("discovery request sent", "slave", addr, "attempt", attempt+1)

		err := s.awaitAck(ctx, addr)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrDiscoveryTimeout) && attempt < s.opts.retries {
			s.log.Debug("discovery ack timed out, retrying", "slave", addr, "attempt", attempt+1)
			continue
		}
		return err
	}
}

func (s *Session) awaitAck(ctx context.Context, addr Address) error {
	var deadline time.Time
	if s.opts.ackTimeout > 0 {
		deadline = s.opts.now().Add(s.opts.ackTimeout)
	}

	for {
		msg, err := s.next(ctx, deadline)
		if err != nil {
			if errors.Is(err, ErrDiscoveryTimeout) {
				return fmt.Errorf("no ack from %d within %v: %w", addr, s.opts.ackTimeout, err)
			}
			return err
		}

		if msg.Message.Kind() != KindDiscoveryAck {
			s.log.Debug("discarding message during discovery", "kind", msg.Message.Kind(), "from", msg.From)
			continue
		}
		if msg.From != addr {
			return fmt.Errorf("ack from %d while waiting for %d: %w", msg.From, addr, ErrInvalidDiscoveryAck)
		}
		return nil
	}
}

// DiscoveryMode waits for the master's DiscoveryRequest and answers it with
// a DiscoveryAck. Other messages are discarded, or fail with
// ErrInvalidDiscoveryRequest under WithStrictDiscovery. The wait ends only
// when the request arrives or ctx is done.
// This should only be called by slaves at startup.
func (s *Session) DiscoveryMode(ctx context.Context) error {
	if s.Role() != RoleSlave {
		return ErrNotSlave
	}

	for {
		msg, err := s.next(ctx, time.Time{})
		if err != nil {
			return err
		}

		if msg.Message.Kind() == KindDiscoveryRequest && msg.From == MasterAddress {
			if err := s.Send(MasterAddress, NewDiscoveryAck()); err != nil {
				return fmt.Errorf("discovery ack: %w", err)
			}
			s.log.Info("discovery acknowledged")
			return nil
		}

		if s.opts.strict {
			return fmt.Errorf("got %s from %d: %w", msg.Message.Kind(), msg.From, ErrInvalidDiscoveryRequest)
		}
		s.log.Debug("discarding message while awaiting discovery", "kind", msg.Message.Kind(), "from", msg.From)
	}
}

// next busy-polls the bus and the mailbox until a message arrives. One
// symbol is pumped per poll so the single-slot mailbox is never overrun
// by this loop. A zero deadline never expires.
func (s *Session) next(ctx context.Context, deadline time.Time) (Received, error) {
	for {
		if err := s.Pump(); err != nil && !errors.Is(err, ErrWouldBlock) {
			return Received{}, err
		}
		if msg, ok := s.Poll(); ok {
			return msg, nil
		}
		if err := ctx.Err(); err != nil {
			return Received{}, err
		}
		if !deadline.IsZero() && !s.opts.now().Before(deadline) {
			return Received{}, ErrDiscoveryTimeout
		}
		runtime.Gosched()
	}
}
