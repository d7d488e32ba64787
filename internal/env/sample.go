package env

// Sample represents a single environmental measurement (BMP).
type Sample struct {
	Temperature float64 `json:"temp_c"`       // °C
	Pressure    float64 `json:"pressure_pa"`  // Pa
	PressureHPa float64 `json:"pressure_hpa"` // 1 hPa = 100 Pa
}

// ReferenceHPa rounds the pressure to the whole hPa the CO2 sensor accepts.
// ok is false outside [lo, hi].
func (s Sample) ReferenceHPa(lo, hi int) (hPa int, ok bool) {
	hPa = int(s.PressureHPa + 0.5)
	return hPa, hPa >= lo && hPa <= hi
}
