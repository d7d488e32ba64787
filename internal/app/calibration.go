// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/co2"
	"github.com/relabs-tech/co2_monitor/internal/config"
	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
)

// CalibrationOptions selects the steps of a guided calibration.
type CalibrationOptions struct {
	// PressureHPa is sent as the air pressure reference; 0 skips the step.
	PressureHPa int
	// SPCPPM is the reference concentration for single point correction;
	// 0 skips the step.
	SPCPPM int
	// StatusOnly only queries the single point correction status.
	StatusOnly bool

	PollInterval time.Duration
	Polls        int
}

// DefaultCalibrationOptions sets the pressure reference to standard sea level
// pressure and skips single point correction.
var DefaultCalibrationOptions = CalibrationOptions{
	PressureHPa:  1013,
	PollInterval: 2 * time.Second,
	Polls:        30,
}

// RunCalibration drives a calibration of the producer's sensor over MQTT,
// prompting on the console.
func RunCalibration(opts CalibrationOptions) error {
	cfg := config.Get()
	SetupLogging(cfg.LogLevel)

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDCalibration)

	client := mqtt.NewClient(mqttOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "MQTT connect")
	}
	defer client.Disconnect(250)
	log.Debugf("calibration: connected to MQTT broker at %s", cfg.MQTTBroker)

	relay := newCommandRelay(cfg.MQTTClientIDCalibration, mqttPublisher(client, cfg.TopicCO2Command))
	token := client.Subscribe(cfg.TopicCO2CommandResult, 1, func(_ mqtt.Client, msg mqtt.Message) {
		relay.deliver(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "subscribe %s", cfg.TopicCO2CommandResult)
	}

	return calibrate(context.Background(), bufio.NewReader(os.Stdin), os.Stdout, relay, opts)
}

func calibrate(ctx context.Context, in *bufio.Reader, out io.Writer, relay *commandRelay, opts CalibrationOptions) error {
	fmt.Fprintln(out, "=== MTP40-F Calibration ===")

	if opts.StatusOnly {
		res, err := doWithTimeout(ctx, relay, co2.ActionSPCStatus, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Single point correction finished: %t\n", res.Ready)
		return nil
	}

	if opts.PressureHPa != 0 {
		if opts.PressureHPa < mtp40f.MinAirPressure || opts.PressureHPa > mtp40f.MaxAirPressure {
			return errors.Errorf("pressure %d hPa outside %d-%d", opts.PressureHPa, mtp40f.MinAirPressure, mtp40f.MaxAirPressure)
		}
		fmt.Fprintf(out, "\nStep 1/2 — Air pressure reference (%d hPa)\n", opts.PressureHPa)
		if _, err := doWithTimeout(ctx, relay, co2.ActionSetPressure, opts.PressureHPa); err != nil {
			return err
		}
		fmt.Fprintln(out, "Pressure reference accepted.")
	}

	if opts.SPCPPM == 0 {
		fmt.Fprintln(out, "\nCalibration complete.")
		return nil
	}
	if opts.SPCPPM < mtp40f.MinSinglePointCorrection || opts.SPCPPM > mtp40f.MaxSinglePointCorrection {
		return errors.Errorf("reference %d ppm outside %d-%d", opts.SPCPPM, mtp40f.MinSinglePointCorrection, mtp40f.MaxSinglePointCorrection)
	}

	fmt.Fprintf(out, "\nStep 2/2 — Single point correction at %d ppm\n", opts.SPCPPM)
	fmt.Fprintln(out, "Expose the sensor to air of the reference concentration (e.g. fresh outdoor air")
	fmt.Fprintln(out, "for ~420 ppm) and let it settle for a few minutes.")
	fmt.Fprint(out, "Press ENTER to start...")
	if _, err := in.ReadString('\n'); err != nil && err != io.EOF {
		return err
	}

	err := runSinglePointCorrection(ctx, relay, opts.SPCPPM, opts.PollInterval, opts.Polls, func(p SPCProgress) {
		state := "running"
		if p.Ready {
			state = "finished"
		}
		fmt.Fprintf(out, "  poll %d/%d: %s\n", p.Poll, p.Polls, state)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nCalibration complete.")
	return nil
}

func doWithTimeout(ctx context.Context, relay *commandRelay, action string, value int) (co2.CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return relay.Do(ctx, action, value)
}
