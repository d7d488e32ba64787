package app

import (
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/co2_monitor/internal/co2"
	"github.com/relabs-tech/co2_monitor/internal/config"
)

// DisplayData holds the latest data for display
type DisplayData struct {
	mu      sync.RWMutex
	reading co2.Reading
	have    bool
	status  string
}

func (d *DisplayData) snapshot() (co2.Reading, bool, string) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reading, d.have, d.status
}

// displayLines returns the text rows shown for a reading, top to bottom.
func displayLines(r co2.Reading, have bool, status string) []string {
	if status == co2.StatusOffline {
		return []string{"CO2 Monitor", "Producer", "offline"}
	}
	if !have {
		return []string{"CO2 Monitor", "Waiting..."}
	}
	lines := []string{
		fmt.Sprintf("CO2 %5d ppm", r.PPM),
		fmt.Sprintf("avg %5d ppm", r.FilteredPPM),
		r.Quality,
	}
	if r.Stale {
		lines = append(lines, "(stale)")
	}
	return lines
}

// renderLines draws up to four rows of 7x13 text on a blank 128x64 image.
func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i == 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawBytes([]byte(line))
	}
	return img
}

func RunDisplay() error {
	cfg := config.Get()
	SetupLogging(cfg.LogLevel)

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "failed to initialize periph")
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return errors.Wrap(err, "failed to open I2C bus")
	}
	defer bus.Close()

	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		return errors.Wrap(err, "failed to initialize display")
	}
	log.Println("display: SSD1306 initialized")

	if err := dev.Draw(dev.Bounds(), renderLines([]string{"", "  CO2 Monitor", "  MTP40-F"}), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	// Connect to MQTT
	mqttOpts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(mqttOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicCO2, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r co2.Reading
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			log.Printf("display: reading unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.reading = r
		data.have = true
		data.mu.Unlock()
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicCO2)

	token = client.Subscribe(cfg.TopicCO2Status, 0, func(_ mqtt.Client, msg mqtt.Message) {
		data.mu.Lock()
		data.status = string(msg.Payload())
		data.mu.Unlock()
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		r, have, status := data.snapshot()
		img := renderLines(displayLines(r, have, status))
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}
