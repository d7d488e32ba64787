// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mtp40f

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// Stream is the duplex byte stream the sensor is attached to. Available
// returns the number of bytes that can be read without blocking.
type Stream interface {
	io.ByteWriter
	io.ByteReader
	Available() int
}

// DefaultTimeout bounds the read phase of an exchange.
const DefaultTimeout = 100 * time.Millisecond

// pollInterval is the default yield between stream polls.
const pollInterval = time.Millisecond

func sleepYield() { time.Sleep(pollInterval) }

// Transport performs request/response exchanges over a Stream.
//
// Transport is not safe for concurrent use; interleaved exchanges corrupt
// framing. Dev serializes access to its Transport.
type Transport struct {
	s       Stream
	timeout time.Duration
	now     func() time.Time
	yield   func()
}

// NewTransport returns a Transport over s. A zero timeout selects
// DefaultTimeout, nil now selects time.Now and nil yield sleeps one
// millisecond between polls.
func NewTransport(s Stream, timeout time.Duration, now func() time.Time, yield func()) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	if yield == nil {
		yield = sleepYield
	}
	return &Transport{s: s, timeout: timeout, now: now, yield: yield}
}

// Request finalizes cmd with its checksum, writes it and reads a response of
// exactly respLen bytes. It returns ErrTimeout if the response is not complete
// within the timeout, counted from the start of the read phase, and
// ErrChecksum if the response fails verification. No partial response is
// returned on failure.
func (t *Transport) Request(cmd []byte, respLen int) ([]byte, error) {
	// Bytes left over from an earlier timed-out exchange would shift the
	// response window.
	for t.s.Available() > 0 {
		if _, err := t.s.ReadByte(); err != nil {
			break
		}
	}

	BuildCommand(cmd)
	for _, b := range cmd {
		if err := t.s.WriteByte(b); err != nil {
			return nil, errors.Wrap(err, "mtp40f: write command")
		}
		t.yield()
	}

	buf := make([]byte, respLen)
	start := t.now()
	for i := 0; i < respLen; {
		if t.now().Sub(start) > t.timeout {
			return nil, ErrTimeout
		}
		if t.s.Available() > 0 {
			b, err := t.s.ReadByte()
			if err != nil {
				return nil, errors.Wrap(err, "mtp40f: read response")
			}
			buf[i] = b
			i++
		}
		t.yield()
	}

	if !VerifyResponse(buf) {
		return nil, ErrChecksum
	}
	return buf, nil
}
