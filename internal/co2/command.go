package co2

// Calibration actions accepted on the command topic.
const (
	ActionSetPressure = "set_pressure" // Value: reference pressure in hPa
	ActionSetSPC      = "set_spc"      // Value: reference concentration in ppm
	ActionSPCStatus   = "spc_status"
)

// Command asks the producer to run one calibration action on the sensor.
type Command struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Value  int    `json:"value,omitempty"`
}

// CommandResult answers a Command with the same ID.
type CommandResult struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Ready  bool   `json:"ready,omitempty"` // spc_status only
	Error  string `json:"error,omitempty"`
}
