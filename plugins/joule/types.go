package joule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Regulation modes accepted by SetRegulationMode.
const (
	RegulationSchedule = 0
	RegulationComfort  = 2
)

// HistoryFilter lists the history keys requested for each thermostat.
var HistoryFilter = []string{
	"ambient_temperature",
	"ambient_humidity",
	"ambient_eco2",
	"ambient_offset",
	"boiler_control_mode",
	"room_setpoint",
	"weekschedule_state",
	"ventilation_level",
	"flame_state",
}

// Thermostat is one Joule device with its latest readings. Temperatures are
// hundredths of a degree Celsius.
type Thermostat struct {
	Model                    string
	SerialNumber             string
	SoftwareVersion          string
	Name                     string
	Online                   bool
	Heating                  bool
	Temperature              int
	Humidity                 int
	SetPointTemperature      int
	RegulationMode           int
	SupportedRegulationModes []int
	GUID                     string

	// Set when the history response carried the reading.
	HasTemperature bool
	HasHumidity    bool
}

// Device is an entry of the device listing.
type Device struct {
	Type           string `json:"type"`
	SerialNumber   string `json:"sn"`
	CurrentVersion string `json:"current_version"`
	DisplayName    string `json:"display_name"`
	Connected      bool   `json:"connected"`
	DeviceID       string `json:"device_id"`
}

// FromDevice converts a listing entry. Readings stay zero until history is
// applied.
func FromDevice(d Device) Thermostat {
	return Thermostat{
		Model:                    d.Type,
		SerialNumber:             d.SerialNumber,
		SoftwareVersion:          d.CurrentVersion,
		Name:                     d.DisplayName,
		Online:                   d.Connected,
		RegulationMode:           RegulationSchedule,
		SupportedRegulationModes: []int{},
		GUID:                     d.DeviceID,
	}
}

// CurrentTemperature returns the room temperature in hundredths of °C.
func (t Thermostat) CurrentTemperature() int {
	return t.Temperature
}

// TargetTemperature returns the setpoint in hundredths of °C.
func (t Thermostat) TargetTemperature() int {
	return t.SetPointTemperature
}

// Celsius converts hundredths of a degree into degrees.
func Celsius(hundredths int) float64 {
	return float64(hundredths) / 100
}

// Hundredths converts degrees into hundredths, truncating toward zero.
func Hundredths(celsius float64) int {
	return int(math.Trunc(celsius * 100))
}

// History is the latest-value response keyed by history key.
type History map[string]HistorySeries

type HistorySeries struct {
	Data []HistoryPoint `json:"data"`
}

type HistoryPoint struct {
	Value json.RawMessage `json:"value"`
}

// latest returns the first data point of a series, if any.
func (h History) latest(key string) (json.RawMessage, bool) {
	series, ok := h[key]
	if !ok || len(series.Data) == 0 {
		return nil, false
	}
	value := series.Data[0].Value
	if len(value) == 0 || bytes.Equal(value, []byte("null")) {
		return nil, false
	}
	return value, true
}

// ApplyHistory folds the latest readings into the thermostat. Unparseable or
// missing readings leave the current values in place.
func ApplyHistory(t Thermostat, h History) Thermostat {
	t.Name = t.Name + " " + t.SerialNumber

	if raw, ok := h.latest("room_setpoint"); ok {
		if v, err := numericValue(raw); err == nil {
			t.SetPointTemperature = Hundredths(v)
		}
	}
	if raw, ok := h.latest("ambient_temperature"); ok {
		if v, err := numericValue(raw); err == nil {
			t.Temperature = Hundredths(v)
			t.HasTemperature = true
		}
	}
	if raw, ok := h.latest("ambient_humidity"); ok {
		if v, err := numericValue(raw); err == nil {
			t.Humidity = int(math.Trunc(v))
			t.HasHumidity = true
		}
	}
	if raw, ok := h.latest("flame_state"); ok {
		t.Heating = truthy(raw)
	}
	return t
}

// numericValue accepts JSON numbers, numeric strings and booleans.
func numericValue(raw json.RawMessage) (float64, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value %s is not numeric", string(raw))
	}
}

func truthy(raw json.RawMessage) bool {
	if v, err := numericValue(raw); err == nil {
		return v != 0
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "on", "true", "yes":
			return true
		}
	}
	return false
}
