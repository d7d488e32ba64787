// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mtp40f

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// PPM is a gas concentration in parts per million.
type PPM uint32

func (p PPM) String() string {
	return fmt.Sprintf("%d PPM", uint32(p))
}

// Quality is a coarse air quality label derived from a CO2 concentration.
type Quality string

const (
	Waiting   Quality = "Waiting"
	Good      Quality = "Good"
	Stuffy    Quality = "Stuffy"
	Poor      Quality = "Poor"
	Hazardous Quality = "Hazardous"
)

// Classify bands a raw concentration. Zero means no reading yet.
func Classify(p PPM) Quality {
	switch {
	case p == 0:
		return Waiting
	case p < 800:
		return Good
	case p < 1200:
		return Stuffy
	case p < 1999:
		return Poor
	default:
		return Hazardous
	}
}

// Calibration parameter bounds (datasheet page 5).
const (
	MinAirPressure = 700
	MaxAirPressure = 1100

	// The datasheet annotates the upper bound as "0x2000", which may mean 8192
	// rather than 2000. Decimal 2000 is enforced until confirmed on hardware.
	MinSinglePointCorrection = 400
	MaxSinglePointCorrection = 2000
)

// Opts holds the driver timing and filter configuration.
type Opts struct {
	// Timeout bounds the read phase of every exchange.
	Timeout time.Duration
	// RefreshInterval is the minimum time between two physical concentration
	// queries. The sensor itself updates every 2 s.
	RefreshInterval time.Duration
	// Alpha is the exponential smoothing coefficient, in (0, 1].
	Alpha float64
	// Now and Yield are the clock and the hook called between stream polls.
	// Nil selects time.Now and a 1 ms sleep.
	Now   func() time.Time
	Yield func()
}

// DefaultOpts is the recommended configuration.
var DefaultOpts = Opts{
	Timeout:         DefaultTimeout,
	RefreshInterval: 2 * time.Second,
	Alpha:           0.1,
}

// Dev is a handle to one MTP40-F sensor. It owns its stream exclusively; all
// methods are serialized so at most one exchange is in flight.
type Dev struct {
	mu      sync.Mutex
	t       *Transport
	now     func() time.Time
	refresh time.Duration
	alpha   float64

	ppm       PPM
	warm      bool
	queried   bool
	lastQuery time.Time
	lastOK    bool

	filtered float64
	seeded   bool
}

// New returns a Dev talking over s. A nil opts selects DefaultOpts.
func New(s Stream, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		return nil, errors.Errorf("mtp40f: smoothing coefficient %v outside (0, 1]", opts.Alpha)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultOpts.RefreshInterval
	}
	return &Dev{
		t:       NewTransport(s, opts.Timeout, now, opts.Yield),
		now:     now,
		refresh: refresh,
		alpha:   opts.Alpha,
	}, nil
}

func (d *Dev) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("MTP40F{ppm: %d, warm: %t}", d.ppm, d.warm)
}

// Concentration returns the CO2 concentration.
//
// Within RefreshInterval of the previous attempt the cached value is returned
// without touching the sensor. Otherwise the sensor is queried; on any failure
// the previous value is returned together with the error.
func (d *Dev) Concentration() (PPM, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.concentration()
}

func (d *Dev) concentration() (PPM, error) {
	now := d.now()
	if d.queried && now.Sub(d.lastQuery) < d.refresh {
		return d.ppm, nil
	}
	// Stamped before the exchange so a failing sensor is not flooded.
	d.queried = true
	d.lastQuery = now
	d.lastOK = false

	c := &cmdReadConcentration
	resp, err := d.t.Request(c.frame(), c.responseSize)
	if err != nil {
		return d.ppm, errors.Wrap(err, c.name)
	}
	if status, ok := c.flag(resp); !ok {
		return d.ppm, &StatusError{Command: c.name, Status: status}
	}
	d.ppm = PPM(binary.BigEndian.Uint32(resp[concentrationOffset : concentrationOffset+4]))
	d.warm = true
	d.lastOK = true
	return d.ppm, nil
}

// FilteredConcentration calls Concentration and feeds the result through the
// exponential smoothing filter. The first non-zero reading seeds the filter
// verbatim. The error is the one returned by Concentration; the filter is
// advanced with the cached value regardless.
func (d *Dev) FilteredConcentration() (PPM, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	raw, err := d.concentration()
	if !d.seeded {
		if raw == 0 {
			return 0, err
		}
		d.filtered = float64(raw)
		d.seeded = true
		return raw, err
	}
	d.filtered = d.alpha*float64(raw) + (1-d.alpha)*d.filtered
	return PPM(d.filtered), err
}

// AirQuality classifies the last raw concentration. It does not query the
// sensor.
func (d *Dev) AirQuality() Quality {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Classify(d.ppm)
}

// Warm reports whether at least one reading has succeeded.
func (d *Dev) Warm() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.warm
}

// LastQueryOK reports whether the most recent physical concentration query
// succeeded. Cached returns within RefreshInterval do not change it.
func (d *Dev) LastQueryOK() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOK
}

// LastQuery returns the start time of the last physical concentration query,
// or the zero time if none was attempted.
func (d *Dev) LastQuery() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastQuery
}

// SetAirPressureReference sends the ambient pressure, in hPa, the sensor
// compensates its measurement with.
func (d *Dev) SetAirPressureReference(hPa int) error {
	if hPa < MinAirPressure || hPa > MaxAirPressure {
		return errors.Wrapf(ErrValidation, "air pressure reference %d not in [%d, %d]", hPa, MinAirPressure, MaxAirPressure)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c := &cmdSetAirPressure
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, uint16(hPa))
	if _, err := d.t.Request(c.frame(p...), c.responseSize); err != nil {
		return errors.Wrap(err, c.name)
	}
	return nil
}

// SetSinglePointCorrection starts the sensor self-calibration against a known
// reference concentration in ppm.
func (d *Dev) SetSinglePointCorrection(ppm int) error {
	if ppm < MinSinglePointCorrection || ppm > MaxSinglePointCorrection {
		return errors.Wrapf(ErrValidation, "single point correction %d not in [%d, %d]", ppm, MinSinglePointCorrection, MaxSinglePointCorrection)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c := &cmdSetSinglePoint
	// Two reserved zero bytes, then the target.
	p := make([]byte, 4)
	binary.BigEndian.PutUint16(p[2:], uint16(ppm))
	resp, err := d.t.Request(c.frame(p...), c.responseSize)
	if err != nil {
		return errors.Wrap(err, c.name)
	}
	if flag, ok := c.flag(resp); !ok {
		return &StatusError{Command: c.name, Status: flag}
	}
	return nil
}

// SinglePointCorrectionReady reports whether the sensor has finished the
// single point correction.
func (d *Dev) SinglePointCorrectionReady() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := &cmdSinglePointStatus
	resp, err := d.t.Request(c.frame(), c.responseSize)
	if err != nil {
		return false, errors.Wrap(err, c.name)
	}
	_, ready := c.flag(resp)
	return ready, nil
}
