// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Session is the object an application holds for its device on the bus.
// It owns the Bus exclusively.
//
// Ingest is the receive-context entry point; everything else belongs to the
// foreground. Send, DiscoverDevices and DiscoveryMode must not be called
// concurrently with each other.
type Session struct {
	transport *Transport
	parser    *Parser
	bus       Bus
	opts      options
	log       *slog.Logger

	mu      sync.Mutex // guards slave discovery states
	slaves  [MaxSlaves]Address
	states  [MaxSlaves]SlaveStatus
	nslaves int

	sendMu  sync.Mutex
	payload [MaxMessageSize]byte
	words   [MaxFrameWords]Word
}

// NewMaster creates the master session. The slave list is fixed for the
// session's lifetime; more than MaxSlaves entries, the master's own address
// or a duplicate are programming errors and panic.
func NewMaster(bus Bus, slaves []Address, opts ...Option) *Session {
	if len(slaves) > MaxSlaves {
		panic(fmt.Sprintf("palantir: %d slaves exceeds capacity %d", len(slaves), MaxSlaves))
	}

	o := buildOptions(opts)
	s := newSession(newTransport(RoleMaster, MasterAddress, o), bus, o)
	for i, addr := range slaves {
		if addr == MasterAddress {
			panic(fmt.Sprintf("palantir: slave list contains the master address %d", addr))
		}
		for _, seen := range s.slaves[:i] {
			if seen == addr {
				panic(fmt.Sprintf("palantir: duplicate slave address %d", addr))
			}
		}
		s.slaves[i] = addr
		s.states[i] = SlaveStatus{Address: addr}
	}
	s.nslaves = len(slaves)
	return s
}

// NewSlave creates a slave session at address, which must not be
// MasterAddress.
func NewSlave(address Address, bus Bus, opts ...Option) *Session {
	if address == MasterAddress {
		panic(fmt.Sprintf("palantir: slave cannot use the master address %d", address))
	}
	o := buildOptions(opts)
	return newSession(newTransport(RoleSlave, address, o), bus, o)
}

func newSession(t *Transport, bus Bus, o options) *Session {
	return &Session{
		transport: t,
		parser:    t.NewParser(),
		bus:       bus,
		opts:      o,
		log:       o.logger.With("role", t.role.String(), "address", t.address),
	}
}

// Address returns the session's own address
func (s *Session) Address() Address {
	return s.transport.address
}

// Role returns master or slave
func (s *Session) Role() Role {
	return s.transport.role
}

// Slaves returns the configured slave list (empty for slaves)
func (s *Session) Slaves() []Address {
	out := make([]Address, s.nslaves)
	copy(out, s.slaves[:s.nslaves])
	return out
}

// Ingest feeds one received symbol. Call it from the receive context only;
// it never blocks beyond the parser lock and never allocates.
func (s *Session) Ingest(w Word) {
	s.parser.Ingest(w)
}

// Pump reads one symbol from the Bus and ingests it. It returns
// ErrWouldBlock when the bus has nothing, and a *BusError when the adapter
// fails.
func (s *Session) Pump() error {
	w, err := s.bus.Read()
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return ErrWouldBlock
		}
		return &BusError{Op: "read", Err: err}
	}
	s.parser.Ingest(w)
	return nil
}

// Poll takes the most recently decoded message, if one is pending
func (s *Session) Poll() (Received, bool) {
	return s.parser.PollMessage()
}

// Send encodes m and transmits it to address. Validation errors
// (ErrSendToSelf, ErrFrameTooLong) are returned before the bus is touched.
func (s *Session) Send(address Address, m Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	payload := AppendMessage(s.payload[:0], m)
	words, err := s.transport.Encode(s.words[:0], address, payload)
	if err != nil {
		return err
	}

	if err := s.bus.Send(words); err != nil {
		return &BusError{Op: "send", Err: err}
	}
	return nil
}

// Stats returns the receive counters
func (s *Session) Stats() Stats {
	return s.parser.Stats()
}
