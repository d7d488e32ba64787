// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mtp40f_test

import (
	"bytes"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
	"github.com/relabs-tech/co2_monitor/internal/mtp40f/mtp40ftest"
)

// fakeClock advances by one millisecond every time the driver yields, so
// timeouts elapse deterministically without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Yield()                  { c.t = c.t.Add(time.Millisecond) }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newDev(t *testing.T, s *mtp40ftest.Sensor) (*mtp40f.Dev, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts := mtp40f.DefaultOpts
	opts.Now = clk.Now
	opts.Yield = clk.Yield
	dev, err := mtp40f.New(s, &opts)
	if err != nil {
		t.Fatal(err)
	}
	return dev, clk
}

func TestConcentration(t *testing.T) {
	s := mtp40ftest.New(612)
	dev, _ := newDev(t, s)

	if dev.Warm() {
		t.Error("new device reports warm")
	}
	ppm, err := dev.Concentration()
	if err != nil {
		t.Fatal(err)
	}
	if ppm != 612 {
		t.Errorf("Concentration() = %d, want 612", ppm)
	}
	if !dev.Warm() {
		t.Error("device not warm after a good reading")
	}
	want := []byte{0x42, 0x4D, 0xA0, 0x00, 0x03, 0x00, 0x00, 0x01, 0x32}
	if frames := s.Frames(); len(frames) != 1 || !bytes.Equal(frames[0], want) {
		t.Errorf("frames sent = % X, want [% X]", frames, want)
	}
}

func TestConcentrationLargeValue(t *testing.T) {
	// Exercises all four bytes of the big-endian field.
	s := mtp40ftest.New(0x01020304)
	dev, _ := newDev(t, s)
	ppm, err := dev.Concentration()
	if err != nil {
		t.Fatal(err)
	}
	if ppm != 0x01020304 {
		t.Errorf("Concentration() = 0x%08X, want 0x01020304", uint32(ppm))
	}
}

func TestConcentrationRateLimit(t *testing.T) {
	s := mtp40ftest.New(500)
	dev, clk := newDev(t, s)

	first, err := dev.Concentration()
	if err != nil {
		t.Fatal(err)
	}
	s.SetPPM(900)
	clk.Advance(1500 * time.Millisecond)
	second, err := dev.Concentration()
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second call within refresh interval = %d, want cached %d", second, first)
	}
	if n := s.Requests(); n != 1 {
		t.Errorf("sensor saw %d requests, want 1", n)
	}

	clk.Advance(2 * time.Second)
	third, err := dev.Concentration()
	if err != nil {
		t.Fatal(err)
	}
	if third != 900 {
		t.Errorf("call after refresh interval = %d, want 900", third)
	}
	if n := s.Requests(); n != 2 {
		t.Errorf("sensor saw %d requests, want 2", n)
	}
}

func TestFailedQueryStillRateLimits(t *testing.T) {
	s := mtp40ftest.New(500)
	s.SetSilent(true)
	dev, clk := newDev(t, s)

	before := clk.Now()
	if _, err := dev.Concentration(); !errors.Is(err, mtp40f.ErrTimeout) {
		t.Fatalf("Concentration() error = %v, want ErrTimeout", err)
	}
	if got := dev.LastQuery(); !got.Equal(before) {
		t.Errorf("LastQuery() = %v, want start of attempt %v", got, before)
	}
	// The timed-out attempt consumed ~100 ms of the 2 s window.
	clk.Advance(500 * time.Millisecond)
	if _, err := dev.Concentration(); err != nil {
		t.Errorf("rate limited call returned error %v", err)
	}
	if n := s.Requests(); n != 1 {
		t.Errorf("sensor saw %d requests, want 1", n)
	}
}

func TestLastQueryOK(t *testing.T) {
	s := mtp40ftest.New(500)
	dev, clk := newDev(t, s)

	if dev.LastQueryOK() {
		t.Error("LastQueryOK() true before any query")
	}
	if _, err := dev.Concentration(); err != nil {
		t.Fatal(err)
	}
	if !dev.LastQueryOK() {
		t.Error("LastQueryOK() false after a good read")
	}

	s.SetSilent(true)
	clk.Advance(mtp40f.DefaultOpts.RefreshInterval)
	if _, err := dev.Concentration(); err == nil {
		t.Fatal("expected timeout from silent sensor")
	}
	// Served from the cache without an error, but the sensor is still down.
	if _, err := dev.Concentration(); err != nil {
		t.Fatalf("cached call returned %v", err)
	}
	if dev.LastQueryOK() {
		t.Error("LastQueryOK() true after a failed query")
	}

	s.SetSilent(false)
	clk.Advance(mtp40f.DefaultOpts.RefreshInterval)
	if _, err := dev.Concentration(); err != nil {
		t.Fatal(err)
	}
	if !dev.LastQueryOK() {
		t.Error("LastQueryOK() false after recovery")
	}
}

func TestFailuresKeepCachedValue(t *testing.T) {
	tests := []struct {
		name   string
		fail   func(s *mtp40ftest.Sensor)
		target error
	}{
		{name: "timeout", fail: func(s *mtp40ftest.Sensor) { s.SetSilent(true) }, target: mtp40f.ErrTimeout},
		{name: "short response", fail: func(s *mtp40ftest.Sensor) { s.SetShort(9) }, target: mtp40f.ErrTimeout},
		{name: "checksum", fail: func(s *mtp40ftest.Sensor) { s.SetCorruptChecksum(true) }, target: mtp40f.ErrChecksum},
		{name: "status", fail: func(s *mtp40ftest.Sensor) { s.SetStatus(0x01) }, target: mtp40f.ErrSensorStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mtp40ftest.New(745)
			dev, clk := newDev(t, s)
			if _, err := dev.Concentration(); err != nil {
				t.Fatal(err)
			}

			tt.fail(s)
			s.SetPPM(1500)
			clk.Advance(2 * time.Second)
			ppm, err := dev.Concentration()
			if !errors.Is(err, tt.target) {
				t.Errorf("error = %v, want %v", err, tt.target)
			}
			if ppm != 745 {
				t.Errorf("Concentration() = %d after failure, want cached 745", ppm)
			}
			if q := dev.AirQuality(); q != mtp40f.Good {
				t.Errorf("AirQuality() = %q, want %q", q, mtp40f.Good)
			}
		})
	}
}

func TestStatusErrorDetails(t *testing.T) {
	s := mtp40ftest.New(745)
	s.SetStatus(0x02)
	dev, _ := newDev(t, s)

	_, err := dev.Concentration()
	var se *mtp40f.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *StatusError", err)
	}
	if se.Status != 0x02 {
		t.Errorf("Status = 0x%02X, want 0x02", se.Status)
	}
	if dev.Warm() {
		t.Error("device warm after a failed first reading")
	}
}

func TestFilteredConcentration(t *testing.T) {
	s := mtp40ftest.New(1000)
	dev, clk := newDev(t, s)

	got, err := dev.FilteredConcentration()
	if err != nil {
		t.Fatal(err)
	}
	if got != 1000 {
		t.Fatalf("first filtered value = %d, want seed 1000", got)
	}

	alpha := mtp40f.DefaultOpts.Alpha
	filtered := 1000.0
	for _, raw := range []uint32{1100, 1100, 600, 2000, 400} {
		s.SetPPM(raw)
		clk.Advance(2 * time.Second)
		got, err := dev.FilteredConcentration()
		if err != nil {
			t.Fatal(err)
		}
		filtered = alpha*float64(raw) + (1-alpha)*filtered
		if want := mtp40f.PPM(filtered); got != want {
			t.Errorf("raw %d: filtered = %d, want %d (%.3f)", raw, got, want, filtered)
		}
	}
}

func TestFilteredConcentrationWaitsForSeed(t *testing.T) {
	s := mtp40ftest.New(820)
	s.SetSilent(true)
	dev, clk := newDev(t, s)

	got, err := dev.FilteredConcentration()
	if err == nil {
		t.Error("expected an error from a silent sensor")
	}
	if got != 0 {
		t.Errorf("unseeded filtered value = %d, want 0", got)
	}
	if q := dev.AirQuality(); q != mtp40f.Waiting {
		t.Errorf("AirQuality() = %q, want %q", q, mtp40f.Waiting)
	}

	s.SetSilent(false)
	clk.Advance(2 * time.Second)
	if got, err = dev.FilteredConcentration(); err != nil || got != 820 {
		t.Errorf("first real reading = %d, %v; want 820, nil", got, err)
	}
}

func TestFilterConvergesWithinTolerance(t *testing.T) {
	s := mtp40ftest.New(400)
	dev, clk := newDev(t, s)
	if _, err := dev.FilteredConcentration(); err != nil {
		t.Fatal(err)
	}
	s.SetPPM(1400)
	var got mtp40f.PPM
	for i := 0; i < 100; i++ {
		clk.Advance(2 * time.Second)
		got, _ = dev.FilteredConcentration()
	}
	if math.Abs(float64(got)-1400) > 1 {
		t.Errorf("filtered value after 100 samples = %d, want ~1400", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		ppm  mtp40f.PPM
		want mtp40f.Quality
	}{
		{0, mtp40f.Waiting},
		{1, mtp40f.Good},
		{799, mtp40f.Good},
		{800, mtp40f.Stuffy},
		{1199, mtp40f.Stuffy},
		{1200, mtp40f.Poor},
		{1998, mtp40f.Poor},
		{1999, mtp40f.Hazardous},
		{2000, mtp40f.Hazardous},
		{50000, mtp40f.Hazardous},
	}
	for _, tt := range tests {
		if got := mtp40f.Classify(tt.ppm); got != tt.want {
			t.Errorf("Classify(%d) = %q, want %q", tt.ppm, got, tt.want)
		}
	}
}

func TestAirQualityUsesRawValue(t *testing.T) {
	s := mtp40ftest.New(1250)
	dev, _ := newDev(t, s)
	if q := dev.AirQuality(); q != mtp40f.Waiting {
		t.Errorf("AirQuality() before reading = %q, want %q", q, mtp40f.Waiting)
	}
	if _, err := dev.Concentration(); err != nil {
		t.Fatal(err)
	}
	if q := dev.AirQuality(); q != mtp40f.Poor {
		t.Errorf("AirQuality() = %q, want %q", q, mtp40f.Poor)
	}
	if n := s.Requests(); n != 1 {
		t.Errorf("AirQuality queried the sensor: %d requests", n)
	}
}

func TestSetAirPressureReference(t *testing.T) {
	tests := []struct {
		hPa   int
		valid bool
	}{
		{699, false},
		{700, true},
		{1013, true},
		{1100, true},
		{1101, false},
		{-5, false},
	}
	for _, tt := range tests {
		s := mtp40ftest.New(500)
		dev, _ := newDev(t, s)
		err := dev.SetAirPressureReference(tt.hPa)
		if !tt.valid {
			if !errors.Is(err, mtp40f.ErrValidation) {
				t.Errorf("SetAirPressureReference(%d) error = %v, want ErrValidation", tt.hPa, err)
			}
			if n := s.Requests(); n != 0 {
				t.Errorf("SetAirPressureReference(%d) sent %d frames, want none", tt.hPa, n)
			}
			continue
		}
		if err != nil {
			t.Errorf("SetAirPressureReference(%d) = %v", tt.hPa, err)
			continue
		}
		if got := s.AirPressure(); int(got) != tt.hPa {
			t.Errorf("sensor pressure = %d, want %d", got, tt.hPa)
		}
		frames := s.Frames()
		if len(frames) != 1 || len(frames[0]) != 11 {
			t.Fatalf("frames = % X, want one 11 byte frame", frames)
		}
		f := frames[0]
		if int(f[7])<<8|int(f[8]) != tt.hPa {
			t.Errorf("param bytes = % X, want big-endian %d", f[7:9], tt.hPa)
		}
	}
}

func TestSetAirPressureReferenceTimeout(t *testing.T) {
	s := mtp40ftest.New(500)
	s.SetSilent(true)
	dev, _ := newDev(t, s)
	if err := dev.SetAirPressureReference(1013); !errors.Is(err, mtp40f.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}

func TestSetSinglePointCorrection(t *testing.T) {
	s := mtp40ftest.New(500)
	dev, _ := newDev(t, s)

	for _, v := range []int{399, 2001} {
		if err := dev.SetSinglePointCorrection(v); !errors.Is(err, mtp40f.ErrValidation) {
			t.Errorf("SetSinglePointCorrection(%d) error = %v, want ErrValidation", v, err)
		}
	}
	if n := s.Requests(); n != 0 {
		t.Fatalf("invalid values sent %d frames", n)
	}

	for _, v := range []int{400, 2000} {
		if err := dev.SetSinglePointCorrection(v); err != nil {
			t.Errorf("SetSinglePointCorrection(%d) = %v", v, err)
		}
		if got := s.SinglePointTarget(); int(got) != v {
			t.Errorf("sensor target = %d, want %d", got, v)
		}
	}
	f := s.Frames()[0]
	want := []byte{0x42, 0x4D, 0xA0, 0x00, 0x04, 0x00, 0x04, 0x00, 0x00, 0x01, 0x90}
	if len(f) != 13 || !bytes.Equal(f[:11], want) {
		t.Errorf("frame = % X, want % X + checksum", f, want)
	}
}

func TestSetSinglePointCorrectionRejected(t *testing.T) {
	s := mtp40ftest.New(500)
	s.SetSinglePointAccept(0)
	dev, _ := newDev(t, s)
	err := dev.SetSinglePointCorrection(450)
	if !errors.Is(err, mtp40f.ErrSensorStatus) {
		t.Errorf("error = %v, want ErrSensorStatus", err)
	}
}

func TestSinglePointCorrectionReady(t *testing.T) {
	// Ready is decided by response byte 8 alone. Both frames carry a valid
	// byte-sum checksum in bytes 8 and 9.
	notReady := make([]byte, 10)
	notReady[0], notReady[1] = 0xFF, 0x01
	notReady[8], notReady[9] = 0x01, 0x00

	ready := make([]byte, 10)
	ready[7] = 0x05
	ready[9] = 0x05

	s := mtp40ftest.New(500)
	dev, _ := newDev(t, s)

	s.QueueResponse(ready)
	got, err := dev.SinglePointCorrectionReady()
	if err != nil || !got {
		t.Errorf("SinglePointCorrectionReady() = %t, %v; want true, nil", got, err)
	}

	s.QueueResponse(notReady)
	got, err = dev.SinglePointCorrectionReady()
	if err != nil || got {
		t.Errorf("SinglePointCorrectionReady() = %t, %v; want false, nil", got, err)
	}

	s.SetSilent(true)
	if got, err = dev.SinglePointCorrectionReady(); got || !errors.Is(err, mtp40f.ErrTimeout) {
		t.Errorf("silent sensor: %t, %v; want false, ErrTimeout", got, err)
	}
	want := []byte{0x42, 0x4D, 0xA0, 0x00, 0x05, 0x00, 0x00, 0x01, 0x34}
	if f := s.Frames()[0]; !bytes.Equal(f, want) {
		t.Errorf("status frame = % X, want % X", f, want)
	}
}

func TestRequestTimeoutWallClock(t *testing.T) {
	s := mtp40ftest.New(500)
	s.SetSilent(true)
	tr := mtp40f.NewTransport(s, 0, nil, runtime.Gosched)

	start := time.Now()
	resp, err := tr.Request([]byte{0x42, 0x4D, 0xA0, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00}, 14)
	elapsed := time.Since(start)

	if !errors.Is(err, mtp40f.ErrTimeout) {
		t.Fatalf("Request() error = %v, want ErrTimeout", err)
	}
	if resp != nil {
		t.Errorf("Request() exposed %d bytes on timeout", len(resp))
	}
	if elapsed < mtp40f.DefaultTimeout || elapsed > 150*time.Millisecond {
		t.Errorf("Request() took %v, want 100-150ms", elapsed)
	}
}

func TestRequestReturnsVerifiedResponse(t *testing.T) {
	s := mtp40ftest.New(0x0255)
	clk := &fakeClock{}
	tr := mtp40f.NewTransport(s, 0, clk.Now, clk.Yield)

	resp, err := tr.Request([]byte{0x42, 0x4D, 0xA0, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00}, 14)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 14 || !mtp40f.VerifyResponse(resp) {
		t.Fatalf("response % X not a valid 14 byte frame", resp)
	}
	if resp[9] != 0x02 || resp[10] != 0x55 || resp[11] != 0x00 {
		t.Errorf("payload = % X, want 00 00 02 55 00", resp[7:12])
	}
}

func TestRequestDiscardsStaleBytes(t *testing.T) {
	s := mtp40ftest.New(777)
	clk := &fakeClock{}
	tr := mtp40f.NewTransport(s, 0, clk.Now, clk.Yield)

	// A response nobody read, as left behind by a caller that gave up.
	s.QueueResponse([]byte{0xDE, 0xAD})
	if _, err := tr.Request([]byte{0x42, 0x4D, 0xA0, 0x00, 0x05, 0x00, 0x00, 0x00, 0x00}, 10); !errors.Is(err, mtp40f.ErrTimeout) {
		t.Fatalf("short queued response: error = %v, want ErrTimeout", err)
	}
	resp, err := tr.Request([]byte{0x42, 0x4D, 0xA0, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00}, 14)
	if err != nil {
		t.Fatalf("request after stale bytes: %v", err)
	}
	if resp[0] != mtp40f.Magic0 || resp[1] != mtp40f.Magic1 {
		t.Errorf("response % X does not start with the magic header", resp)
	}
}
