// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/config"
	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
	"github.com/relabs-tech/co2_monitor/internal/mtp40f/mtp40ftest"
)

// CO2Sensor is an MTP40-F driver together with the port it owns.
type CO2Sensor struct {
	Dev *mtp40f.Dev

	// Name describes where the sensor is attached, for logs.
	Name string

	stream *mtp40f.PortStream
}

// PortErr returns the error that stopped the UART reader, if any. Always nil
// for the mock sensor.
func (s *CO2Sensor) PortErr() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Err()
}

// Close releases the UART.
func (s *CO2Sensor) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

// OpenCO2Sensor opens the sensor described by the global configuration: the
// UART at SENSOR_SERIAL_PORT, or the simulated sensor when SENSOR_MOCK is set.
func OpenCO2Sensor() (*CO2Sensor, error) {
	cfg := config.Get()
	if cfg.SensorMock {
		return NewMockCO2Sensor()
	}

	serialOpts := serial.OpenOptions{
		PortName:        cfg.SensorSerialPort,
		BaudRate:        uint(cfg.SensorBaudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 0,
		ParityMode:      serial.PARITY_NONE,
		// Reads return empty after 100 ms so the reader can be stopped.
		InterCharacterTimeout: 100,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", serialOpts.PortName)
	}
	log.Printf("co2: serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	stream := mtp40f.NewPortStream(port)
	dev, err := mtp40f.New(stream, nil)
	if err != nil {
		stream.Close()
		return nil, err
	}
	return &CO2Sensor{Dev: dev, Name: serialOpts.PortName, stream: stream}, nil
}

// NewMockCO2Sensor returns a driver talking to an in-memory MTP40-F whose
// concentration drifts slowly around 1200 ppm. Pressure reference and single
// point correction commands are accepted, but the correction status never
// reports finished, so a mock calibration runs out of polls.
func NewMockCO2Sensor() (*CO2Sensor, error) {
	start := time.Now()
	sim := mtp40ftest.New(420)
	sim.SetPPMFunc(func() uint32 {
		return mockPPM(time.Since(start))
	})

	dev, err := mtp40f.New(sim, nil)
	if err != nil {
		return nil, err
	}
	return &CO2Sensor{Dev: dev, Name: "mock"}, nil
}

// mockPPM sweeps every air quality band over about ten minutes.
func mockPPM(elapsed time.Duration) uint32 {
	s := elapsed.Seconds()
	v := 1200 + 850*math.Sin(2*math.Pi*s/600) + 15*math.Sin(s)
	return uint32(v)
}
