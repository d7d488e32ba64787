// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mtp40f

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrValidation is returned when a calibration parameter is outside the
	// range the sensor accepts. No I/O is performed.
	ErrValidation = errors.New("mtp40f: parameter out of range")
	// ErrTimeout is returned when the full response did not arrive in time.
	ErrTimeout = errors.New("mtp40f: response timeout")
	// ErrChecksum is returned when a response arrived but its checksum does
	// not match its content.
	ErrChecksum = errors.New("mtp40f: response checksum mismatch")
	// ErrSensorStatus matches every *StatusError.
	ErrSensorStatus = errors.New("mtp40f: sensor reported failure")
)

// StatusError is returned when a well-formed response carries a status or
// flag byte signalling failure.
type StatusError struct {
	Command string
	Status  byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("mtp40f: %s: sensor status 0x%02X", e.Command, e.Status)
}

// Is makes errors.Is(err, ErrSensorStatus) hold for any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrSensorStatus
}
