package app

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/co2_monitor/internal/co2"
	"github.com/relabs-tech/co2_monitor/internal/mtp40f"
)

// metrics exposed by the producer on /metrics
type metrics struct {
	co2Level      *prometheus.GaugeVec
	co2Filtered   *prometheus.GaugeVec
	airQuality    *prometheus.GaugeVec
	pressureRef   *prometheus.GaugeVec
	sensorErrors  *prometheus.CounterVec
	publishErrors prometheus.Counter
}

var qualityLevels = map[string]float64{
	string(mtp40f.Waiting):   0,
	string(mtp40f.Good):      1,
	string(mtp40f.Stuffy):    2,
	string(mtp40f.Poor):      3,
	string(mtp40f.Hazardous): 4,
}

func newGauge(name string, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		[]string{"sensor"},
	)
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		co2Level:    newGauge("air_co2_level", "Air Carbon Dioxide level (units: ppm)"),
		co2Filtered: newGauge("air_co2_level_filtered", "Smoothed Air Carbon Dioxide level (units: ppm)"),
		airQuality:  newGauge("air_quality_band", "Air quality band (0=waiting 1=good 2=stuffy 3=poor 4=hazardous)"),
		pressureRef: newGauge("air_co2_pressure_reference", "Pressure reference sent to the CO2 sensor (units: hPa)"),
		sensorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "co2_sensor_errors_total",
				Help: "Failed sensor exchanges by kind",
			},
			[]string{"sensor", "kind"},
		),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "co2_publish_errors_total",
			Help: "Readings that could not be published to MQTT",
		}),
	}
	reg.MustRegister(m.co2Level, m.co2Filtered, m.airQuality, m.pressureRef, m.sensorErrors, m.publishErrors)
	return m
}

func (m *metrics) observe(sensor string, r co2.Reading) {
	if r.Stale {
		return
	}
	m.co2Level.WithLabelValues(sensor).Set(float64(r.PPM))
	m.co2Filtered.WithLabelValues(sensor).Set(float64(r.FilteredPPM))
	m.airQuality.WithLabelValues(sensor).Set(qualityLevels[r.Quality])
}

func (m *metrics) sensorError(sensor string, err error) {
	m.sensorErrors.WithLabelValues(sensor, errorKind(err)).Inc()
}

// errorKind maps a driver error to a short metric label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, mtp40f.ErrTimeout):
		return "timeout"
	case errors.Is(err, mtp40f.ErrChecksum):
		return "checksum"
	case errors.Is(err, mtp40f.ErrSensorStatus):
		return "status"
	case errors.Is(err, mtp40f.ErrValidation):
		return "validation"
	default:
		return "io"
	}
}

// newMetricsRegistry returns a registry holding the producer metrics plus the
// Go runtime and build info collectors.
func newMetricsRegistry() (*prometheus.Registry, *metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewBuildInfoCollector())
	return reg, newMetrics(reg)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
