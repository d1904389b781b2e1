// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards

package palantir

import (
	"log/slog"
	"time"
)

// Option configures a Transport or a Session
type Option func(*options)

type options struct {
	checksum   bool
	loopback   bool
	strict     bool
	ackTimeout time.Duration
	retries    int
	now        func() time.Time
	logger     *slog.Logger
}

func buildOptions(opts []Option) options {
	o := options{
		checksum: true,
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithChecksum selects whether frames carry the 16-bit integrity code.
// On by default; every device on a bus must agree.
func WithChecksum(enabled bool) Option {
	return func(o *options) { o.checksum = enabled }
}

// WithLoopback permits frames addressed to the sender's own address, for
// self-tests over a loopback bus.
func WithLoopback() Option {
	return func(o *options) { o.loopback = true }
}

// WithStrictDiscovery makes a slave in discovery mode fail with
// ErrInvalidDiscoveryRequest on any other message instead of discarding it.
func WithStrictDiscovery() Option {
	return func(o *options) { o.strict = true }
}

// WithAckTimeout bounds how long the master waits for each discovery ack.
// Zero waits forever.
func WithAckTimeout(d time.Duration) Option {
	return func(o *options) { o.ackTimeout = d }
}

// WithDiscoveryRetries sets how many times the master re-sends a discovery
// request after an ack timeout before giving up on that slave.
func WithDiscoveryRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithClock replaces time.Now for ack timeouts
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the session logger. Nothing on the receive path logs.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
