package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/co2_monitor/internal/co2"
	"github.com/relabs-tech/co2_monitor/internal/config"
)

// formatReadingMessage renders one message from the reading topic. Payloads
// that are not a reading are shown verbatim.
func formatReadingMessage(now time.Time, topic string, payload []byte) string {
	ts := now.Format("2006-01-02 15:04:05")
	var r co2.Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Sprintf("[%s] topic=%s, payload=%s", ts, topic, payload)
	}
	return fmt.Sprintf("[%s] CO2 → topic=%s, co2_ppm=%d, quality=%s, raw=%s", ts, topic, r.PPM, r.Quality, payload)
}

// RunConsoleMQTT prints every reading and producer status change until
// interrupted.
func RunConsoleMQTT() error {
	cfg := config.Get()
	SetupLogging(cfg.LogLevel)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "MQTT connect")
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to readings
	co2Token := client.Subscribe(cfg.TopicCO2, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Println(formatReadingMessage(time.Now(), msg.Topic(), msg.Payload()))
	})
	co2Token.Wait()
	if co2Token.Error() != nil {
		return co2Token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicCO2)

	// Subscribe to producer status
	statusToken := client.Subscribe(cfg.TopicCO2Status, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Printf("[%s] producer %s\n", time.Now().Format("2006-01-02 15:04:05"), msg.Payload())
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicCO2Status)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
