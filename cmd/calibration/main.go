// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Guided calibration of the MTP40-F over MQTT. The producer owns the UART, so
// every step is sent as a command on the command topic and its result awaited
// on the result topic.
//
// Run:
//
//	go run ./cmd/calibration -pressure 1008 -spc 420
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/app"
	"github.com/relabs-tech/co2_monitor/internal/config"
)

func main() {
	opts := app.DefaultCalibrationOptions

	configPath := flag.String("config", "./co2_config.txt", "path to configuration file")
	flag.IntVar(&opts.PressureHPa, "pressure", opts.PressureHPa, "air pressure reference in hPa (700-1100, 0 to skip)")
	flag.IntVar(&opts.SPCPPM, "spc", opts.SPCPPM, "single point correction reference in ppm (400-2000, 0 to skip)")
	flag.BoolVar(&opts.StatusOnly, "status", false, "only report the single point correction status")
	flag.IntVar(&opts.Polls, "polls", opts.Polls, "status polls before giving up")
	flag.DurationVar(&opts.PollInterval, "interval", opts.PollInterval, "time between status polls")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunCalibration(opts); err != nil {
		fmt.Fprintf(os.Stderr, "calibration failed: %v\n", err)
		os.Exit(1)
	}
}
