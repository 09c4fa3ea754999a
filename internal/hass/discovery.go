package hass

import (
	"encoding/json"
	"strings"
)

// Entity components understood by MQTT discovery.
const (
	ComponentClimate      = "climate"
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Device is the shared device block of discovery payloads.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Name         string   `json:"name,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type Availability struct {
	Topic         string `json:"topic"`
	ValueTemplate string `json:"value_template,omitempty"`
}

// Discovery is a retained config payload. Fields not used by a component stay
// empty and are omitted.
type Discovery struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	Device           Device         `json:"device"`
	Availability     []Availability `json:"availability,omitempty"`
	AvailabilityMode string         `json:"availability_mode,omitempty"`
	Icon             string         `json:"icon,omitempty"`

	// sensor, binary_sensor
	StateTopic        string `json:"state_topic,omitempty"`
	ValueTemplate     string `json:"value_template,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`

	// climate
	Modes                      []string `json:"modes,omitempty"`
	ModeStateTopic             string   `json:"mode_state_topic,omitempty"`
	ModeStateTemplate          string   `json:"mode_state_template,omitempty"`
	ModeCommandTopic           string   `json:"mode_command_topic,omitempty"`
	TemperatureCommandTopic    string   `json:"temperature_command_topic,omitempty"`
	TemperatureStateTopic      string   `json:"temperature_state_topic,omitempty"`
	TemperatureStateTemplate   string   `json:"temperature_state_template,omitempty"`
	CurrentTemperatureTopic    string   `json:"current_temperature_topic,omitempty"`
	CurrentTemperatureTemplate string   `json:"current_temperature_template,omitempty"`
	ActionTopic                string   `json:"action_topic,omitempty"`
	ActionTemplate             string   `json:"action_template,omitempty"`
	TemperatureUnit            string   `json:"temperature_unit,omitempty"`
	Precision                  float64  `json:"precision,omitempty"`
	TempStep                   float64  `json:"temp_step,omitempty"`
}

func (d Discovery) Payload() ([]byte, error) {
	return json.Marshal(d)
}

// DiscoveryTopic builds <prefix>/<component>/<node_id>/<object_id>/config.
func DiscoveryTopic(prefix, component, nodeID, objectID string) string {
	return strings.Join([]string{
		strings.TrimRight(prefix, "/"),
		component,
		TopicSegment(nodeID),
		TopicSegment(objectID),
		"config",
	}, "/")
}

// AvailabilityTopic is the bridge-wide online/offline topic.
func AvailabilityTopic(base string) string {
	return strings.TrimRight(base, "/") + "/bridge/availability"
}

// TopicSegment replaces characters that discovery ids may not contain.
func TopicSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
