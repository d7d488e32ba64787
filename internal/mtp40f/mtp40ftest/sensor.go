// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mtp40ftest provides a simulated MTP40-F for tests and mock runs.
package mtp40ftest

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
)

// Sub-operations understood by the simulator.
const (
	opSetAirPressure  = 0x0001
	opReadGas         = 0x0003
	opSetSinglePoint  = 0x0004
	opSinglePointStat = 0x0005
)

// Sensor is an in-memory MTP40-F implementing mtp40f.Stream. Bytes written
// to it are assembled into command frames; each complete, valid frame queues
// a response frame for reading. Frames with a bad checksum are dropped, as
// the hardware does.
type Sensor struct {
	mu sync.Mutex

	ppm        uint32
	ppmFunc    func() uint32
	status     byte
	spcAccept byte

	silent  bool
	corrupt bool
	short   int

	pressure  uint16
	spcTarget uint16
	overrides [][]byte
	frames    [][]byte
	partial   []byte
	out       []byte
}

// New returns a sensor reporting ppm with a success status.
func New(ppm uint32) *Sensor {
	return &Sensor{ppm: ppm, spcAccept: 1}
}

// SetPPM changes the reported concentration.
func (s *Sensor) SetPPM(ppm uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ppm = ppm
	s.ppmFunc = nil
}

// SetPPMFunc makes every read concentration response report f().
func (s *Sensor) SetPPMFunc(f func() uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ppmFunc = f
}

// SetStatus sets the status byte of read concentration responses.
func (s *Sensor) SetStatus(status byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetSinglePointAccept sets the flag byte of set single point correction
// responses. Zero means rejected.
func (s *Sensor) SetSinglePointAccept(flag byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spcAccept = flag
}

// SetSilent makes the sensor swallow commands without answering.
func (s *Sensor) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// SetCorruptChecksum flips the checksum of every response.
func (s *Sensor) SetCorruptChecksum(corrupt bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = corrupt
}

// SetShort truncates every response to n bytes; 0 disables truncation.
func (s *Sensor) SetShort(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.short = n
}

// QueueResponse makes the next valid command be answered with resp verbatim.
func (s *Sensor) QueueResponse(resp []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides = append(s.overrides, append([]byte(nil), resp...))
}

// Frames returns a copy of every complete command frame received.
func (s *Sensor) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	for i, f := range s.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Requests returns the number of complete command frames received.
func (s *Sensor) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// AirPressure returns the last air pressure reference set.
func (s *Sensor) AirPressure() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressure
}

// SinglePointTarget returns the last single point correction target set.
func (s *Sensor) SinglePointTarget() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spcTarget
}

// WriteByte feeds one byte of a command frame.
func (s *Sensor) WriteByte(c byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Resynchronise on the magic header.
	if len(s.partial) == 0 && c != mtp40f.Magic0 {
		return nil
	}
	if len(s.partial) == 1 && c != mtp40f.Magic1 {
		s.partial = s.partial[:0]
		return nil
	}
	s.partial = append(s.partial, c)
	if len(s.partial) < mtp40f.HeaderSize {
		return nil
	}
	n := mtp40f.HeaderSize + int(binary.BigEndian.Uint16(s.partial[5:7])) + mtp40f.ChecksumSize
	if len(s.partial) < n {
		return nil
	}

	frame := append([]byte(nil), s.partial...)
	s.partial = s.partial[:0]
	s.frames = append(s.frames, frame)
	if !mtp40f.VerifyResponse(frame) || s.silent {
		return nil
	}
	s.respond(frame)
	return nil
}

// Available returns the number of response bytes waiting to be read.
func (s *Sensor) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// ReadByte returns the next response byte, or io.EOF if none is waiting.
func (s *Sensor) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		return 0, io.EOF
	}
	b := s.out[0]
	s.out = s.out[1:]
	return b, nil
}

func (s *Sensor) respond(frame []byte) {
	if len(s.overrides) > 0 {
		s.out = append(s.out, s.overrides[0]...)
		s.overrides = s.overrides[1:]
		return
	}

	op := binary.BigEndian.Uint16(frame[3:5])
	params := frame[mtp40f.HeaderSize : len(frame)-mtp40f.ChecksumSize]
	var payload []byte
	switch op {
	case opReadGas:
		ppm := s.ppm
		if s.ppmFunc != nil {
			ppm = s.ppmFunc()
		}
		payload = make([]byte, 5)
		binary.BigEndian.PutUint32(payload, ppm)
		payload[4] = s.status
	case opSetAirPressure:
		if len(params) < 2 {
			return
		}
		s.pressure = binary.BigEndian.Uint16(params)
		payload = append([]byte(nil), params[:2]...)
	case opSetSinglePoint:
		if len(params) < 4 {
			return
		}
		s.spcTarget = binary.BigEndian.Uint16(params[2:4])
		payload = []byte{s.spcAccept}
	case opSinglePointStat:
		// The driver reads its ready flag from byte 8, which in this frame is
		// the checksum high byte, so a generated status frame never reads as
		// ready. Use QueueResponse to script ready/not-ready frames.
		payload = []byte{0}
	default:
		return
	}
	s.out = append(s.out, s.encode(op, payload)...)
}

func (s *Sensor) encode(op uint16, payload []byte) []byte {
	resp := make([]byte, mtp40f.HeaderSize+len(payload)+mtp40f.ChecksumSize)
	resp[0], resp[1], resp[2] = mtp40f.Magic0, mtp40f.Magic1, mtp40f.ClassGas
	binary.BigEndian.PutUint16(resp[3:5], op)
	binary.BigEndian.PutUint16(resp[5:7], uint16(len(payload)))
	copy(resp[mtp40f.HeaderSize:], payload)
	mtp40f.BuildCommand(resp)
	if s.corrupt {
		resp[len(resp)-1] ^= 0xFF
	}
	if s.short > 0 && s.short < len(resp) {
		resp = resp[:s.short]
	}
	return resp
}
