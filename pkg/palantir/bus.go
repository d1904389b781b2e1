// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import "sync"

// Bus is the line adapter a Session transmits and receives through.
type Bus interface {
	// Send transmits one burst of symbols, driving the line for the whole
	// burst on half-duplex hardware.
	Send(words []Word) error

	// Read returns the next received symbol, or ErrWouldBlock if none is
	// available yet. It must not block.
	Read() (Word, error)
}

// LoopbackDepth is the symbol capacity of a LoopbackBus
const LoopbackDepth = 260

// wordRing is a fixed-capacity FIFO of symbols
type wordRing struct {
	buf  []Word
	head int
	n    int
}

func newWordRing(capacity int) wordRing {
	return wordRing{buf: make([]Word, capacity)}
}

func (r *wordRing) free() int {
	return len(r.buf) - r.n
}

func (r *wordRing) push(words []Word) {
	for _, w := range words {
		r.buf[(r.head+r.n)%len(r.buf)] = w
		r.n++
	}
}

func (r *wordRing) pop() (Word, bool) {
	if r.n == 0 {
		return 0, false
	}
	w := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return w, true
}

// LoopbackBus hands every transmitted symbol back to its own reader. It
// backs self-tests and unit tests.
type LoopbackBus struct {
	mu     sync.Mutex
	ring   wordRing
	bursts int
}

// NewLoopbackBus creates an empty loopback bus
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{ring: newWordRing(LoopbackDepth)}
}

// Send queues a burst. A burst that does not fit is rejected whole.
func (b *LoopbackBus) Send(words []Word) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(words) > b.ring.free() {
		return ErrBusFull
	}
	b.ring.push(words)
	b.bursts++
	return nil
}

// Read takes the oldest queued symbol
func (b *LoopbackBus) Read() (Word, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.ring.pop(); ok {
		return w, nil
	}
	return 0, ErrWouldBlock
}

// Bursts returns how many bursts Send accepted
func (b *LoopbackBus) Bursts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bursts
}

// Pending returns the number of queued symbols
func (b *LoopbackBus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.n
}

// MultidropDepth is the per-listener symbol capacity of a Multidrop line
const MultidropDepth = 1024

// Multidrop simulates one shared half-duplex line: a burst sent from any
// tap is heard by every other tap, in order.
type Multidrop struct {
	mu   sync.Mutex
	taps []*Tap
}

// NewMultidrop creates a line with no devices attached
func NewMultidrop() *Multidrop {
	return &Multidrop{}
}

// Attach connects a new device to the line
func (m *Multidrop) Attach() *Tap {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Tap{line: m, ring: newWordRing(MultidropDepth)}
	m.taps = append(m.taps, t)
	return t
}

// Tap is one device's connection to a Multidrop line. It implements Bus.
type Tap struct {
	line *Multidrop
	ring wordRing
}

// Send delivers the burst to every other tap. The line lock is held for the
// whole burst, so bursts from different taps never interleave.
func (t *Tap) Send(words []Word) error {
	t.line.mu.Lock()
	defer t.line.mu.Unlock()

	for _, other := range t.line.taps {
		if other != t && len(words) > other.ring.free() {
			return ErrBusFull
		}
	}
	for _, other := range t.line.taps {
		if other != t {
			other.ring.push(words)
		}
	}
	return nil
}

// Read takes the oldest symbol heard by this tap
func (t *Tap) Read() (Word, error) {
	t.line.mu.Lock()
	defer t.line.mu.Unlock()

	if w, ok := t.ring.pop(); ok {
		return w, nil
	}
	return 0, ErrWouldBlock
}

// Inject puts raw symbols on the line as if a device had sent them; every
// tap hears them. Tests use it to model noise and foreign devices.
func (m *Multidrop) Inject(words []Word) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.taps {
		if len(words) > t.ring.free() {
			return ErrBusFull
		}
	}
	for _, t := range m.taps {
		t.ring.push(words)
	}
	return nil
}
