// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/co2"
	"github.com/relabs-tech/co2_monitor/internal/config"
	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
	"github.com/relabs-tech/co2_monitor/internal/sensors"
)

// producer polls one MTP40-F and turns its readings into MQTT payloads.
type producer struct {
	cfg     *config.Config
	sensor  *sensors.CO2Sensor
	metrics *metrics
	now     func() time.Time
}

func newProducer(cfg *config.Config, sensor *sensors.CO2Sensor, m *metrics) *producer {
	return &producer{cfg: cfg, sensor: sensor, metrics: m, now: time.Now}
}

// read queries the sensor (subject to the driver rate limit) and builds the
// payload. The raw value is re-read from the driver cache, so the sensor is
// queried at most once. A reading is stale while the last physical query
// failed, even when this call was served from the cache.
func (p *producer) read() co2.Reading {
	dev := p.sensor.Dev
	filtered, err := dev.FilteredConcentration()
	raw, _ := dev.Concentration()
	if err != nil {
		log.Warnf("co2: %s read failed: %v", p.sensor.Name, err)
		p.metrics.sensorError(p.sensor.Name, err)
	}

	r := co2.Reading{
		TimestampMs: uint64(p.now().UnixMilli()),
		PPM:         uint32(raw),
		FilteredPPM: uint32(filtered),
		Quality:     string(mtp40f.Classify(raw)),
		Stale:       !dev.LastQueryOK(),
	}
	if p.cfg.PublishFiltered && filtered != 0 {
		r.PPM = uint32(filtered)
	}
	p.metrics.observe(p.sensor.Name, r)
	return r
}

// startupReads logs a few readings before networking comes up, so wiring
// problems show on the console first.
func (p *producer) startupReads() {
	for i := 1; i <= p.cfg.StartupReads; i++ {
		ppm, err := p.sensor.Dev.Concentration()
		if err != nil {
			log.Warnf("co2: startup read %d/%d failed: %v", i, p.cfg.StartupReads, err)
		} else {
			log.Printf("co2: startup read %d/%d: %s [%s]", i, p.cfg.StartupReads, ppm, mtp40f.Classify(ppm))
		}
		time.Sleep(time.Duration(p.cfg.StartupReadDelay) * time.Millisecond)
	}
}

// setPressureReference forwards hPa to the sensor and records it.
func (p *producer) setPressureReference(hPa int) error {
	if err := p.sensor.Dev.SetAirPressureReference(hPa); err != nil {
		p.metrics.sensorError(p.sensor.Name, err)
		return err
	}
	p.metrics.pressureRef.WithLabelValues(p.sensor.Name).Set(float64(hPa))
	return nil
}

// compensatePressure reads the BMP and pushes the rounded pressure to the CO2
// sensor.
func (p *producer) compensatePressure() error {
	sample, err := sensors.ReadEnv()
	if err != nil {
		return err
	}
	hPa, ok := sample.ReferenceHPa(mtp40f.MinAirPressure, mtp40f.MaxAirPressure)
	if !ok {
		return errors.Errorf("BMP pressure %.1f hPa outside sensor range", sample.PressureHPa)
	}
	if err := p.setPressureReference(hPa); err != nil {
		return err
	}
	log.Printf("co2: pressure reference set to %d hPa (BMP %.1f hPa, %.1f °C)", hPa, sample.PressureHPa, sample.Temperature)
	return nil
}

// onCommand is the MQTT handler for calibration commands. The sensor
// exchange and the result publish run on their own goroutine; paho
// dispatches messages in order and a blocked handler stalls the client.
func (p *producer) onCommand(client mqtt.Client, msg mqtt.Message) {
	var cmd co2.Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		log.Printf("co2: command unmarshal error: %v", err)
		return
	}
	log.Printf("co2: command %s %s value=%d", cmd.ID, cmd.Action, cmd.Value)
	go p.runCommand(client, cmd)
}

func (p *producer) runCommand(client mqtt.Client, cmd co2.Command) {
	res := handleCommand(p.sensor.Dev, cmd)
	if res.Error != "" {
		log.Warnf("co2: command %s failed: %s", cmd.ID, res.Error)
	} else if cmd.Action == co2.ActionSetPressure {
		p.metrics.pressureRef.WithLabelValues(p.sensor.Name).Set(float64(cmd.Value))
	}

	payload, err := json.Marshal(res)
	if err != nil {
		log.Printf("co2: command result marshal error: %v", err)
		return
	}
	token := client.Publish(p.cfg.TopicCO2CommandResult, 1, false, payload)
	if !token.WaitTimeout(commandTimeout) {
		log.Warnf("co2: command %s result publish timed out", cmd.ID)
		return
	}
	if token.Error() != nil {
		log.Printf("co2: command result publish error: %v", token.Error())
	}
}

// RunCO2Producer reads the CO2 sensor and publishes readings to MQTT until
// interrupted.
func RunCO2Producer() error {
	cfg := config.Get()
	SetupLogging(cfg.LogLevel)

	sensor, err := sensors.OpenCO2Sensor()
	if err != nil {
		return err
	}
	defer sensor.Close()
	log.Printf("co2: using sensor %s", sensor.Name)

	reg, m := newMetricsRegistry()
	p := newProducer(cfg, sensor, m)

	// ---- 1) Sensor warm-up ----
	p.startupReads()
	if cfg.AirPressureReference != 0 {
		if err := p.setPressureReference(cfg.AirPressureReference); err != nil {
			log.Warnf("co2: set pressure reference %d hPa: %v", cfg.AirPressureReference, err)
		} else {
			log.Printf("co2: pressure reference set to %d hPa", cfg.AirPressureReference)
		}
	}

	// ---- 2) Connect to MQTT broker ----
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer).
		SetWill(cfg.TopicCO2Status, co2.StatusOffline, 1, true).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("co2: MQTT connection lost: %v", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			c.Publish(cfg.TopicCO2Status, 1, true, co2.StatusOnline)
			// Re-subscribe on every (re)connect.
			if token := c.Subscribe(cfg.TopicCO2Command, 1, p.onCommand); token.Wait() && token.Error() != nil {
				log.Errorf("co2: subscribe %s: %v", cfg.TopicCO2Command, token.Error())
				return
			}
			log.Printf("co2: subscribed to %s", cfg.TopicCO2Command)
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "MQTT connect")
	}
	log.Printf("co2: connected to MQTT broker at %s", cfg.MQTTBroker)
	defer func() {
		client.Publish(cfg.TopicCO2Status, 1, true, co2.StatusOffline).WaitTimeout(time.Second)
		client.Disconnect(250)
	}()

	// ---- 3) Side tasks ----
	stop := make(chan struct{})
	defer close(stop)

	if cfg.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsHandler(reg))
			addr := fmt.Sprintf(":%d", cfg.MetricsPort)
			log.Printf("co2: metrics listening on %s", addr)
			log.Errorf("co2: metrics server stopped: %v", http.ListenAndServe(addr, mux))
		}()
	}

	if cfg.LEDPin != "" {
		led, err := sensors.NewLED(cfg.LEDPin)
		if err != nil {
			log.Warnf("co2: liveness LED disabled: %v", err)
		} else {
			go blink(led, time.Duration(cfg.LEDBlinkInterval)*time.Millisecond, stop)
		}
	}

	if cfg.BMPSPIDevice != "" {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.PressureUpdateInterval) * time.Second)
			defer ticker.Stop()
			for {
				if err := p.compensatePressure(); err != nil {
					log.Warnf("co2: pressure compensation: %v", err)
				}
				select {
				case <-ticker.C:
				case <-stop:
					return
				}
			}
		}()
	}

	// ---- 4) Publish loop ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.PublishInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("co2: starting publish loop")
	for {
		select {
		case <-sigCh:
			log.Println("co2: shutting down")
			return nil
		case <-ticker.C:
		}

		if err := sensor.PortErr(); err != nil {
			return err
		}

		reading := p.read()
		if !client.IsConnectionOpen() {
			log.Warnf("co2: MQTT disconnected, skipping reading %d ppm", reading.PPM)
			continue
		}

		payload, err := json.Marshal(reading)
		if err != nil {
			log.Printf("co2: json marshal error: %v", err)
			continue
		}
		if token := client.Publish(cfg.TopicCO2, 0, false, payload); token.Wait() && token.Error() != nil {
			m.publishErrors.Inc()
			log.Printf("co2: MQTT publish error: %v", token.Error())
			continue
		}
		log.Debugf("co2: published %s", payload)
	}
}

func blink(led *sensors.LED, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := led.Toggle(); err != nil {
				log.Warnf("co2: LED toggle: %v", err)
				return
			}
		case <-stop:
			led.Off()
			return
		}
	}
}
