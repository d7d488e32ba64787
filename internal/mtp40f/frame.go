// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mtp40f

import (
	"encoding/binary"
)

// Frame layout, commands and responses alike:
//
//	magic(2) | class(1) | sub-op(2) | param length(2) | params(n) | checksum(2)
const (
	Magic0 byte = 0x42
	Magic1 byte = 0x4D
	// ClassGas is the operation class of every command this driver sends.
	ClassGas byte = 0xA0

	HeaderSize   = 7
	ChecksumSize = 2
)

// Checksum returns the unsigned 16-bit wraparound sum of b.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return sum
}

// BuildCommand writes the checksum of frame[:len(frame)-2] into the last two
// bytes of frame, high byte first.
func BuildCommand(frame []byte) {
	n := len(frame)
	if n < ChecksumSize {
		return
	}
	binary.BigEndian.PutUint16(frame[n-ChecksumSize:], Checksum(frame[:n-ChecksumSize]))
}

// VerifyResponse reports whether the trailing big-endian checksum of resp
// matches the sum of the bytes before it.
func VerifyResponse(resp []byte) bool {
	n := len(resp)
	if n <= ChecksumSize {
		return false
	}
	return binary.BigEndian.Uint16(resp[n-ChecksumSize:]) == Checksum(resp[:n-ChecksumSize])
}

// command describes one request/response shape. Offsets index the response.
type command struct {
	name string
	// Sub-operation word following the class byte.
	subOp uint16
	// Number of parameter bytes; also sent as the param length field.
	paramSize int
	// Total response length including checksum.
	responseSize int
	// Response byte carrying the status or flag, -1 if the command has none.
	flagOffset int
	// flagOK interprets the flag byte.
	flagOK func(b byte) bool
}

func isZero(b byte) bool    { return b == 0 }
func isNonZero(b byte) bool { return b != 0 }

// The implemented commands.

var cmdReadConcentration = command{
	name:         "read concentration",
	subOp:        0x0003,
	responseSize: 14,
	flagOffset:   11,
	flagOK:       isZero,
}

var cmdSetAirPressure = command{
	name:         "set air pressure reference",
	subOp:        0x0001,
	paramSize:    2,
	responseSize: 11,
	flagOffset:   -1,
}

var cmdSinglePointStatus = command{
	name:         "single point correction status",
	subOp:        0x0005,
	responseSize: 10,
	flagOffset:   8,
	flagOK:       isZero,
}

var cmdSetSinglePoint = command{
	name:         "set single point correction",
	subOp:        0x0004,
	paramSize:    4,
	responseSize: 10,
	flagOffset:   7,
	flagOK:       isNonZero,
}

// concentrationOffset is where the big-endian uint32 ppm value starts in a
// read concentration response.
const concentrationOffset = 7

// frameSize returns the command frame length.
func (c *command) frameSize() int {
	return HeaderSize + c.paramSize + ChecksumSize
}

// frame returns an unsigned command frame carrying params. The checksum bytes
// are left zero for BuildCommand.
func (c *command) frame(params ...byte) []byte {
	f := make([]byte, c.frameSize())
	f[0], f[1], f[2] = Magic0, Magic1, ClassGas
	binary.BigEndian.PutUint16(f[3:5], c.subOp)
	binary.BigEndian.PutUint16(f[5:7], uint16(c.paramSize))
	copy(f[HeaderSize:HeaderSize+c.paramSize], params)
	return f
}

// flag returns the flag byte of resp and whether it signals success. Commands
// without a flag always succeed.
func (c *command) flag(resp []byte) (byte, bool) {
	if c.flagOffset < 0 {
		return 0, true
	}
	b := resp[c.flagOffset]
	return b, c.flagOK(b)
}
