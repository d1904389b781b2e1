// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import "sync"

// Received is a decoded message together with the frame addressing it
// arrived in.
type Received struct {
	From    Address // sender, from the frame's source byte
	To      Address // destination named by the address word
	Message Message
}

// Parser turns the symbol stream into messages for one device.
//
// Ingest runs in the receive context (the interrupt handler on hardware, a
// reader goroutine on a host) and PollMessage in the foreground. Both take
// the same lock, so the foreground never observes a half-updated receiver
// or mailbox. The mailbox holds a single message: a newer frame overwrites
// an undelivered one.
type Parser struct {
	mu          sync.Mutex
	address     Address
	promiscuous bool
	checksum    bool
	receiver    Receiver
	target      Address
	mailbox     Received
	pending     bool
	stats       Stats
}

// NewParser creates a parser that assembles frames addressed to address
func NewParser(address Address, checksum bool) *Parser {
	return &Parser{
		address:  address,
		checksum: checksum,
		receiver: Receiver{checksum: checksum},
	}
}

// NewSniffer creates a parser that assembles every frame on the line,
// whatever its destination. Used by bus monitors.
func NewSniffer(checksum bool) *Parser {
	p := NewParser(0, checksum)
	p.promiscuous = true
	return p
}

// Address returns the address this parser listens on
func (p *Parser) Address() Address {
	return p.address
}

// Ingest consumes one symbol. It never blocks beyond the parser lock,
// never allocates, and never reports errors: malformed frames are dropped
// and counted, and the next matching address word restarts assembly.
func (p *Parser) Ingest(w Word) {
	p.mu.Lock()
	p.ingest(w)
	p.mu.Unlock()
}

func (p *Parser) ingest(w Word) {
	p.stats.Words++

	if w.IsAddress() {
		if p.receiver.state == ReceiverReceiving {
			p.stats.FramesAbandoned++
		}
		if p.promiscuous || w.Address() == p.address {
			p.target = w.Address()
			p.receiver.Start()
			p.stats.FramesStarted++
			return
		}
		// Someone else's frame begins; whatever we were assembling is over.
		p.receiver.state = ReceiverIdle
		return
	}

	switch err := p.receiver.AddToBuffer(w.Byte()); err {
	case nil:
	case ErrFrameTooLong:
		p.stats.LengthErrors++
		return
	default:
		p.stats.StrayBytes++
		return
	}

	if !p.receiver.IsComplete() {
		return
	}
	p.complete()
}

// complete handles a frame the receiver just finished
func (p *Parser) complete() {
	r := &p.receiver
	data := r.Data()

	if p.checksum && frameCRC(p.target, uint8(len(data)), r.source, data) != r.crc {
		p.stats.ChecksumErrors++
		return
	}
	p.stats.FramesCompleted++

	msg, ok := decodeMessage(data)
	if !ok {
		p.stats.Unrecognized++
		return
	}

	if p.pending {
		p.stats.Overwritten++
	}
	p.mailbox = Received{From: r.source, To: p.target, Message: msg}
	p.pending = true
}

// PollMessage takes the pending message, if any, and clears the mailbox
func (p *Parser) PollMessage() (Received, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pending {
		return Received{}, false
	}
	msg := p.mailbox
	p.mailbox = Received{}
	p.pending = false
	p.stats.Delivered++
	return msg, true
}

// ReceiverState returns the state of the frame assembler
func (p *Parser) ReceiverState() ReceiverState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receiver.state
}

// Stats returns a snapshot of the parser counters
func (p *Parser) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetStats zeroes the parser counters
func (p *Parser) ResetStats() {
	p.mu.Lock()
	p.stats = Stats{}
	p.mu.Unlock()
}
