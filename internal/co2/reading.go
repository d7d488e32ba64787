package co2

// Reading is one CO2 measurement as published over MQTT.
type Reading struct {
	TimestampMs uint64 `json:"timestamp_ms"` // producer clock, ms since epoch
	PPM         uint32 `json:"co2_ppm"`      // raw (or filtered, see PUBLISH_FILTERED)
	FilteredPPM uint32 `json:"filtered_ppm"` // EMA, 0 until the filter is seeded
	Quality     string `json:"quality"`      // "Waiting", "Good", "Stuffy", "Poor", "Hazardous"
	Stale       bool   `json:"stale"`        // true when the last sensor query failed
}

// Producer availability, published retained on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
