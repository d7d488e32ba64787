package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker              string
	MQTTClientIDProducer    string
	MQTTClientIDConsole     string
	MQTTClientIDWeb         string
	MQTTClientIDDisplay     string
	MQTTClientIDCalibration string

	// Topics
	TopicCO2              string
	TopicCO2Command       string
	TopicCO2CommandResult string
	TopicCO2Status        string

	// Sensor UART
	SensorSerialPort string
	SensorBaudRate   int
	SensorMock       bool

	// Publishing
	PublishInterval  int // milliseconds
	StartupReads     int
	StartupReadDelay int // milliseconds
	PublishFiltered  bool

	// Pressure compensation
	AirPressureReference   int    // hPa, 0 leaves the sensor default
	BMPSPIDevice           string // empty disables BMP compensation
	PressureUpdateInterval int    // seconds

	// Liveness LED
	LEDPin           string
	LEDBlinkInterval int // milliseconds

	// Web Server
	WebServerPort int
	MetricsPort   int // 0 disables /metrics

	// Display
	DisplayUpdateInterval int // milliseconds

	LogLevel string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional value set to its default.
func Default() *Config {
	return &Config{
		MQTTClientIDProducer:    "co2-producer",
		MQTTClientIDConsole:     "co2-console-subscriber",
		MQTTClientIDWeb:         "co2-web-subscriber",
		MQTTClientIDDisplay:     "co2-display",
		MQTTClientIDCalibration: "co2-calibration",

		TopicCO2:              "sensors/pico/mtp40f/co2",
		TopicCO2Command:       "sensors/pico/mtp40f/cmd",
		TopicCO2CommandResult: "sensors/pico/mtp40f/cmd/result",
		TopicCO2Status:        "sensors/pico/mtp40f/status",

		SensorBaudRate: 9600,

		PublishInterval:  2500,
		StartupReads:     3,
		StartupReadDelay: 300,

		PressureUpdateInterval: 600,

		LEDBlinkInterval: 500,

		WebServerPort:         8080,
		DisplayUpdateInterval: 1000,

		LogLevel: "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, errors.Wrapf(err, "config line %d", lineNum)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_CALIBRATION":
		c.MQTTClientIDCalibration = value

	// Topics
	case "TOPIC_CO2":
		c.TopicCO2 = value
	case "TOPIC_CO2_COMMAND":
		c.TopicCO2Command = value
	case "TOPIC_CO2_COMMAND_RESULT":
		c.TopicCO2CommandResult = value
	case "TOPIC_CO2_STATUS":
		c.TopicCO2Status = value

	// Sensor UART
	case "SENSOR_SERIAL_PORT":
		c.SensorSerialPort = value
	case "SENSOR_BAUD_RATE":
		c.SensorBaudRate, err = positiveInt(key, value)
	case "SENSOR_MOCK":
		c.SensorMock, err = parseBool(key, value)

	// Publishing
	case "PUBLISH_INTERVAL":
		c.PublishInterval, err = positiveInt(key, value)
	case "STARTUP_READS":
		c.StartupReads, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid STARTUP_READS %q", value)
		}
		if c.StartupReads < 0 {
			return errors.Errorf("STARTUP_READS must not be negative, got %d", c.StartupReads)
		}
	case "STARTUP_READ_DELAY":
		c.StartupReadDelay, err = positiveInt(key, value)
	case "PUBLISH_FILTERED":
		c.PublishFiltered, err = parseBool(key, value)

	// Pressure compensation
	case "AIR_PRESSURE_REFERENCE":
		hPa, convErr := strconv.Atoi(value)
		if convErr != nil {
			return errors.Wrapf(convErr, "invalid AIR_PRESSURE_REFERENCE %q", value)
		}
		if hPa != 0 && (hPa < 700 || hPa > 1100) {
			return errors.Errorf("AIR_PRESSURE_REFERENCE must be 700-1100 hPa or 0, got %d", hPa)
		}
		c.AirPressureReference = hPa
	case "BMP_SPI_DEVICE":
		c.BMPSPIDevice = value
	case "PRESSURE_UPDATE_INTERVAL":
		c.PressureUpdateInterval, err = positiveInt(key, value)

	// Liveness LED
	case "LED_PIN":
		c.LEDPin = value
	case "LED_BLINK_INTERVAL":
		c.LEDBlinkInterval, err = positiveInt(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = positiveInt(key, value)
	case "METRICS_PORT":
		c.MetricsPort, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid METRICS_PORT %q", value)
		}

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = positiveInt(key, value)

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return errors.Errorf("unknown config key: %q", key)
	}

	return err
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", key, value)
	}
	if n <= 0 {
		return 0, errors.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(err, "invalid %s %q", key, value)
	}
	return b, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required")
	}
	if c.SensorSerialPort == "" && !c.SensorMock {
		return errors.New("SENSOR_SERIAL_PORT is required unless SENSOR_MOCK=true")
	}
	if c.TopicCO2 == "" {
		return errors.New("TOPIC_CO2 must not be empty")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
