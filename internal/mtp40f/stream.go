// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mtp40f

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// portBufferSize comfortably holds several of the largest (14 byte) responses.
const portBufferSize = 256

// PortStream adapts a blocking io.ReadWriter, such as an open serial port, to
// Stream. A background goroutine moves received bytes into a buffer that
// Available and ReadByte serve from.
//
// The port should be opened with a read timeout so the goroutine notices
// Close; reads returning (0, io.EOF) are treated as "no data yet".
type PortStream struct {
	w    io.Writer
	c    io.Closer
	in   chan byte
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewPortStream starts reading from rw. If rw is an io.Closer, Close closes
// it.
func NewPortStream(rw io.ReadWriter) *PortStream {
	s := &PortStream{
		w:    rw,
		in:   make(chan byte, portBufferSize),
		done: make(chan struct{}),
	}
	if c, ok := rw.(io.Closer); ok {
		s.c = c
	}
	go s.pump(rw)
	return s
}

func (s *PortStream) pump(r io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			select {
			case s.in <- b:
			case <-s.done:
				return
			}
		}
		select {
		case <-s.done:
			return
		default:
		}
		if err == io.EOF || (err == nil && n == 0) {
			time.Sleep(pollInterval)
			continue
		}
		if err != nil {
			s.mu.Lock()
			s.err = errors.Wrap(err, "mtp40f: port reader stopped")
			s.mu.Unlock()
			return
		}
	}
}

// WriteByte writes c to the port. Once the reader has failed, its error is
// returned instead.
func (s *PortStream) WriteByte(c byte) error {
	if err := s.Err(); err != nil {
		return err
	}
	_, err := s.w.Write([]byte{c})
	return err
}

// Available returns the number of buffered received bytes.
func (s *PortStream) Available() int {
	return len(s.in)
}

// ReadByte returns the next buffered byte, or io.EOF if none is buffered.
func (s *PortStream) ReadByte() (byte, error) {
	select {
	case b := <-s.in:
		return b, nil
	default:
		return 0, io.EOF
	}
}

// Err returns the error that stopped the reader, if any.
func (s *PortStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the reader and closes the port.
func (s *PortStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.c != nil {
			err = s.c.Close()
		}
	})
	return err
}
