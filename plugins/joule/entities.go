package joule

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Home Assistant climate vocabulary used by the thermostat entity.
const (
	HVACModeHeat = "heat"

	HVACActionHeating = "heating"
	HVACActionIdle    = "idle"
	HVACActionOff     = "off"

	TemperatureUnitCelsius = "°C"

	FeatureTargetTemperature = "target_temperature"
	FeaturePresetMode        = "preset_mode"
)

var ErrInvalidTemperature = errors.New("invalid temperature")

// DeviceInfo groups a thermostat's entities under one Home Assistant device.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	SWVersion    string `json:"sw_version"`
}

type Climate struct {
	UniqueID           string     `json:"unique_id"`
	Name               string     `json:"name"`
	Device             DeviceInfo `json:"device"`
	CurrentTemperature float64    `json:"current_temperature"`
	TargetTemperature  float64    `json:"target_temperature"`
	HVACMode           string     `json:"hvac_mode"`
	HVACModes          []string   `json:"hvac_modes"`
	HVACAction         string     `json:"hvac_action"`
	PresetModes        []string   `json:"preset_modes"`
	PresetMode         string     `json:"preset_mode"`
	TemperatureUnit    string     `json:"temperature_unit"`
	SupportedFeatures  []string   `json:"supported_features"`
}

type Sensor struct {
	UniqueID         string  `json:"unique_id"`
	Name             string  `json:"name"`
	Key              string  `json:"key"`
	DeviceClass      string  `json:"device_class"`
	StateClass       string  `json:"state_class"`
	Unit             string  `json:"unit"`
	Icon             string  `json:"icon"`
	Value            float64 `json:"value"`
	Available        bool    `json:"available"`
	DeviceIdentifier string  `json:"device_identifier"`
}

type BinarySensor struct {
	UniqueID         string `json:"unique_id"`
	Name             string `json:"name"`
	Key              string `json:"key"`
	DeviceClass      string `json:"device_class"`
	Icon             string `json:"icon"`
	On               bool   `json:"on"`
	DeviceIdentifier string `json:"device_identifier"`
}

// Entities is every entity exposed for a set of thermostats.
type Entities struct {
	Climates      []Climate      `json:"climates"`
	Sensors       []Sensor       `json:"sensors"`
	BinarySensors []BinarySensor `json:"binary_sensors"`
}

type sensorDescription struct {
	key         string
	name        string
	unit        string
	deviceClass string
	stateClass  string
	icon        string
	value       func(Thermostat) (float64, bool)
}

var sensorTypes = []sensorDescription{
	{
		key:         "temperature",
		name:        "Temperature Room",
		unit:        TemperatureUnitCelsius,
		deviceClass: "temperature",
		stateClass:  "measurement",
		icon:        "mdi:home-thermometer",
		value: func(t Thermostat) (float64, bool) {
			return Celsius(t.Temperature), t.HasTemperature
		},
	},
	{
		key:         "humidity",
		name:        "Humidity Room",
		unit:        "%",
		deviceClass: "humidity",
		stateClass:  "measurement",
		icon:        "mdi:water-percent",
		value: func(t Thermostat) (float64, bool) {
			return float64(t.Humidity), t.HasHumidity
		},
	},
}

type binarySensorDescription struct {
	key         string
	name        string
	deviceClass string
	icon        string
	value       func(Thermostat) bool
}

var binarySensorTypes = []binarySensorDescription{
	{
		key:         "online",
		name:        "Online",
		deviceClass: "connectivity",
		value:       func(t Thermostat) bool { return t.Online },
	},
	{
		key:   "heating",
		name:  "Heating",
		icon:  "mdi:fire",
		value: func(t Thermostat) bool { return t.Heating },
	},
}

func DeviceInfoFor(t Thermostat) DeviceInfo {
	return DeviceInfo{
		Identifier:   t.SerialNumber,
		Manufacturer: Manufacturer,
		Name:         t.Name,
		Model:        t.Model,
		SWVersion:    t.SoftwareVersion,
	}
}

// HVACAction reports heating before connectivity.
func HVACAction(t Thermostat) string {
	if t.Heating {
		return HVACActionHeating
	}
	if t.Online {
		return HVACActionIdle
	}
	return HVACActionOff
}

func ClimateFor(t Thermostat) Climate {
	return Climate{
		UniqueID:           t.SerialNumber,
		Name:               t.Name,
		Device:             DeviceInfoFor(t),
		CurrentTemperature: Celsius(t.CurrentTemperature()),
		TargetTemperature:  Celsius(t.TargetTemperature()),
		HVACMode:           HVACModeHeat,
		HVACModes:          []string{HVACModeHeat},
		HVACAction:         HVACAction(t),
		PresetModes:        []string{},
		PresetMode:         "",
		TemperatureUnit:    TemperatureUnitCelsius,
		SupportedFeatures:  []string{FeatureTargetTemperature, FeaturePresetMode},
	}
}

// SensorsFor skips readings the thermostat did not report.
func SensorsFor(t Thermostat) []Sensor {
	out := make([]Sensor, 0, len(sensorTypes))
	for _, desc := range sensorTypes {
		value, ok := desc.value(t)
		if !ok {
			continue
		}
		out = append(out, Sensor{
			UniqueID:         t.SerialNumber + "_" + desc.key,
			Name:             t.Name + " " + desc.name,
			Key:              desc.key,
			DeviceClass:      desc.deviceClass,
			StateClass:       desc.stateClass,
			Unit:             desc.unit,
			Icon:             desc.icon,
			Value:            value,
			Available:        t.Online,
			DeviceIdentifier: t.SerialNumber,
		})
	}
	return out
}

func BinarySensorsFor(t Thermostat) []BinarySensor {
	out := make([]BinarySensor, 0, len(binarySensorTypes))
	for _, desc := range binarySensorTypes {
		out = append(out, BinarySensor{
			UniqueID:         t.SerialNumber + "_" + desc.key,
			Name:             t.Name + " " + desc.name,
			Key:              desc.key,
			DeviceClass:      desc.deviceClass,
			Icon:             desc.icon,
			On:               desc.value(t),
			DeviceIdentifier: t.SerialNumber,
		})
	}
	return out
}

// EntitiesFor builds entities in serial number order.
func EntitiesFor(thermostats []Thermostat) Entities {
	sorted := append([]Thermostat(nil), thermostats...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SerialNumber < sorted[j].SerialNumber })

	out := Entities{
		Climates:      []Climate{},
		Sensors:       []Sensor{},
		BinarySensors: []BinarySensor{},
	}
	for _, t := range sorted {
		out.Climates = append(out.Climates, ClimateFor(t))
		out.Sensors = append(out.Sensors, SensorsFor(t)...)
		out.BinarySensors = append(out.BinarySensors, BinarySensorsFor(t)...)
	}
	return out
}

// Setter sends setpoint changes to the cloud.
type Setter interface {
	SetRegulationMode(ctx context.Context, t Thermostat, mode int, temperature int, duration time.Duration) error
}

// Commands implements the climate entity's write operations.
type Commands struct {
	setter      Setter
	coordinator *Coordinator
	options     Options
	logger      *zap.Logger
}

func NewCommands(setter Setter, coordinator *Coordinator, options Options, logger *zap.Logger) *Commands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commands{setter: setter, coordinator: coordinator, options: options, logger: logger}
}

func (c *Commands) thermostat(serial string) (Thermostat, error) {
	t, ok := c.coordinator.Thermostat(serial)
	if !ok {
		return Thermostat{}, fmt.Errorf("%w: %s", ErrNotFound, serial)
	}
	return t, nil
}

// SetTemperature changes the setpoint, then schedules a delayed refresh since
// the API serves stale data right after a write.
func (c *Commands) SetTemperature(ctx context.Context, serial string, celsius float64) error {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTemperature, celsius)
	}
	t, err := c.thermostat(serial)
	if err != nil {
		return err
	}
	err = c.setter.SetRegulationMode(ctx, t, c.options.RegulationMode(), Hundredths(celsius), c.options.ComfortModeDuration)
	if err != nil {
		c.logger.Error("set temperature failed",
			zap.String("serial", serial),
			zap.Float64("temperature", celsius),
			zap.Error(err),
		)
		return err
	}
	c.coordinator.ScheduleRefresh(0)
	return nil
}

// SetHVACMode accepts any mode; the thermostat only heats.
func (c *Commands) SetHVACMode(_ context.Context, serial, mode string) error {
	if _, err := c.thermostat(serial); err != nil {
		return err
	}
	c.logger.Debug("ignoring hvac mode change", zap.String("serial", serial), zap.String("mode", mode))
	return nil
}

func (c *Commands) SetPresetMode(_ context.Context, serial, preset string) error {
	if _, err := c.thermostat(serial); err != nil {
		return err
	}
	return fmt.Errorf("preset mode %q: %w", preset, ErrUnsupported)
}
