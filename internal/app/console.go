// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
	"github.com/relabs-tech/co2_monitor/internal/sensors"
)

const consoleInterval = 2 * time.Second

// RunConsole prints the sensor concentration and air quality every two
// seconds, straight from the UART (or the simulated sensor when mock is set).
func RunConsole(mock bool) error {
	var (
		sensor *sensors.CO2Sensor
		err    error
	)
	if mock {
		sensor, err = sensors.NewMockCO2Sensor()
	} else {
		sensor, err = sensors.OpenCO2Sensor()
	}
	if err != nil {
		return err
	}
	defer sensor.Close()

	ticker := time.NewTicker(consoleInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := printReading(os.Stdout, sensor.Dev); err != nil {
			log.Warnf("console: %v", err)
		}
		if err := sensor.PortErr(); err != nil {
			return err
		}
	}
	return nil
}

// printReading writes one "CO2: <ppm> ppm [<label>]" line. On a failed read
// the cached value is printed and the error returned.
func printReading(w io.Writer, dev *mtp40f.Dev) error {
	ppm, err := dev.Concentration()
	fmt.Fprintf(w, "CO2: %d ppm [%s]\n", uint32(ppm), dev.AirQuality())
	return err
}
