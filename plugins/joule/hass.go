package joule

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supergoudvis116/joule-connector/internal/hass"
)

// NodeID groups every discovery topic published by the bridge.
const NodeID = "joule_connector"

// MQTTClient is the broker connection used by the bridge.
type MQTTClient interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler hass.Handler) error
}

// Bridge mirrors thermostats into Home Assistant over MQTT discovery and
// routes climate commands back.
type Bridge struct {
	client          MQTTClient
	commands        *Commands
	discoveryPrefix string
	baseTopic       string
	commandTimeout  time.Duration
	logger          *zap.Logger

	pending chan Snapshot

	mu        sync.Mutex
	announced map[string]bool
}

// StateDocument is the retained per-thermostat state payload.
type StateDocument struct {
	CurrentTemperature float64  `json:"current_temperature"`
	TargetTemperature  float64  `json:"target_temperature"`
	HVACMode           string   `json:"hvac_mode"`
	HVACAction         string   `json:"hvac_action"`
	Temperature        *float64 `json:"temperature,omitempty"`
	Humidity           *float64 `json:"humidity,omitempty"`
	Online             bool     `json:"online"`
	Heating            bool     `json:"heating"`
}

func NewBridge(client MQTTClient, commands *Commands, discoveryPrefix, baseTopic string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		client:          client,
		commands:        commands,
		discoveryPrefix: strings.TrimRight(discoveryPrefix, "/"),
		baseTopic:       strings.TrimRight(baseTopic, "/"),
		commandTimeout:  30 * time.Second,
		logger:          logger,
		pending:         make(chan Snapshot, 1),
		announced:       map[string]bool{},
	}
}

func (b *Bridge) stateTopic(serial string) string {
	return b.baseTopic + "/" + hass.TopicSegment(serial) + "/state"
}

func (b *Bridge) commandTopic(serial, command string) string {
	return b.baseTopic + "/" + hass.TopicSegment(serial) + "/" + command + "/set"
}

// Subscribe listens for climate commands on all thermostats.
func (b *Bridge) Subscribe() error {
	for _, command := range []string{"temperature", "mode", "preset"} {
		topic := b.baseTopic + "/+/" + command + "/set"
		if err := b.client.Subscribe(topic, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// Notify queues snap for Run without blocking. A snapshot still waiting is
// replaced by the newer one.
func (b *Bridge) Notify(snap Snapshot) {
	for {
		select {
		case b.pending <- snap:
			return
		default:
		}
		select {
		case <-b.pending:
		default:
		}
	}
}

// Run publishes queued snapshots until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-b.pending:
			b.Publish(snap)
		}
	}
}

// Publish announces new thermostats and publishes the state of every
// thermostat in the snapshot.
func (b *Bridge) Publish(snap Snapshot) {
	for _, t := range snap.Thermostats {
		if err := b.announce(t); err != nil {
			b.logger.Warn("mqtt discovery publish failed", zap.String("serial", t.SerialNumber), zap.Error(err))
			continue
		}
		payload, err := json.Marshal(StateFor(t))
		if err != nil {
			b.logger.Warn("encode state failed", zap.String("serial", t.SerialNumber), zap.Error(err))
			continue
		}
		if err := b.client.Publish(b.stateTopic(t.SerialNumber), true, payload); err != nil {
			b.logger.Warn("mqtt state publish failed", zap.String("serial", t.SerialNumber), zap.Error(err))
		}
	}
}

func (b *Bridge) announce(t Thermostat) error {
	b.mu.Lock()
	done := b.announced[t.SerialNumber]
	b.mu.Unlock()
	if done {
		return nil
	}

	for topic, config := range b.DiscoveryConfigs(t) {
		payload, err := config.Payload()
		if err != nil {
			return err
		}
		if err := b.client.Publish(topic, true, payload); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.announced[t.SerialNumber] = true
	b.mu.Unlock()
	return nil
}

// DiscoveryConfigs returns the discovery payload of every entity of t, keyed
// by config topic.
func (b *Bridge) DiscoveryConfigs(t Thermostat) map[string]hass.Discovery {
	device := hassDevice(DeviceInfoFor(t))
	stateTopic := b.stateTopic(t.SerialNumber)
	bridgeAvailability := hass.Availability{Topic: hass.AvailabilityTopic(b.baseTopic)}
	thermostatAvailability := hass.Availability{
		Topic:         stateTopic,
		ValueTemplate: "{{ 'online' if value_json.online else 'offline' }}",
	}

	out := map[string]hass.Discovery{}

	climate := ClimateFor(t)
	out[hass.DiscoveryTopic(b.discoveryPrefix, hass.ComponentClimate, NodeID, climate.UniqueID)] = hass.Discovery{
		Name:                       climate.Name,
		UniqueID:                   climate.UniqueID,
		Device:                     device,
		Availability:               []hass.Availability{bridgeAvailability},
		Modes:                      climate.HVACModes,
		ModeStateTopic:             stateTopic,
		ModeStateTemplate:          "{{ value_json.hvac_mode }}",
		ModeCommandTopic:           b.commandTopic(t.SerialNumber, "mode"),
		TemperatureCommandTopic:    b.commandTopic(t.SerialNumber, "temperature"),
		TemperatureStateTopic:      stateTopic,
		TemperatureStateTemplate:   "{{ value_json.target_temperature }}",
		CurrentTemperatureTopic:    stateTopic,
		CurrentTemperatureTemplate: "{{ value_json.current_temperature }}",
		ActionTopic:                stateTopic,
		ActionTemplate:             "{{ value_json.hvac_action }}",
		TemperatureUnit:            "C",
		Precision:                  0.1,
		TempStep:                   0.5,
	}

	for _, sensor := range SensorsFor(t) {
		out[hass.DiscoveryTopic(b.discoveryPrefix, hass.ComponentSensor, NodeID, sensor.UniqueID)] = hass.Discovery{
			Name:              sensor.Name,
			UniqueID:          sensor.UniqueID,
			Device:            device,
			Availability:      []hass.Availability{bridgeAvailability, thermostatAvailability},
			AvailabilityMode:  "all",
			Icon:              sensor.Icon,
			StateTopic:        stateTopic,
			ValueTemplate:     "{{ value_json." + sensor.Key + " }}",
			DeviceClass:       sensor.DeviceClass,
			StateClass:        sensor.StateClass,
			UnitOfMeasurement: sensor.Unit,
		}
	}

	for _, sensor := range BinarySensorsFor(t) {
		out[hass.DiscoveryTopic(b.discoveryPrefix, hass.ComponentBinarySensor, NodeID, sensor.UniqueID)] = hass.Discovery{
			Name:          sensor.Name,
			UniqueID:      sensor.UniqueID,
			Device:        device,
			Availability:  []hass.Availability{bridgeAvailability},
			Icon:          sensor.Icon,
			StateTopic:    stateTopic,
			ValueTemplate: "{{ 'ON' if value_json." + sensor.Key + " else 'OFF' }}",
			DeviceClass:   sensor.DeviceClass,
		}
	}
	return out
}

func StateFor(t Thermostat) StateDocument {
	climate := ClimateFor(t)
	doc := StateDocument{
		CurrentTemperature: climate.CurrentTemperature,
		TargetTemperature:  climate.TargetTemperature,
		HVACMode:           climate.HVACMode,
		HVACAction:         climate.HVACAction,
		Online:             t.Online,
		Heating:            t.Heating,
	}
	for _, sensor := range SensorsFor(t) {
		value := sensor.Value
		switch sensor.Key {
		case "temperature":
			doc.Temperature = &value
		case "humidity":
			doc.Humidity = &value
		}
	}
	return doc
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	segment, command, ok := b.parseCommandTopic(topic)
	if !ok {
		b.logger.Debug("ignoring mqtt message", zap.String("topic", topic))
		return
	}
	serial := b.resolveSerial(segment)

	ctx, cancel := context.WithTimeout(context.Background(), b.commandTimeout)
	defer cancel()

	value := strings.TrimSpace(string(payload))
	var err error
	switch command {
	case "temperature":
		var celsius float64
		celsius, err = strconv.ParseFloat(value, 64)
		if err != nil {
			err = fmt.Errorf("%w: %q", ErrInvalidTemperature, value)
			break
		}
		err = b.commands.SetTemperature(ctx, serial, celsius)
	case "mode":
		err = b.commands.SetHVACMode(ctx, serial, value)
	case "preset":
		err = b.commands.SetPresetMode(ctx, serial, value)
	}
	if err != nil {
		b.logger.Warn("mqtt command failed",
			zap.String("serial", serial),
			zap.String("command", command),
			zap.Error(err),
		)
	}
}

// resolveSerial maps a topic segment back to the serial it was derived from.
func (b *Bridge) resolveSerial(segment string) string {
	snap := b.commands.coordinator.Snapshot()
	if _, ok := snap.Thermostat(segment); ok {
		return segment
	}
	for _, t := range snap.Thermostats {
		if hass.TopicSegment(t.SerialNumber) == segment {
			return t.SerialNumber
		}
	}
	return segment
}

// parseCommandTopic splits <base>/<segment>/<command>/set.
func (b *Bridge) parseCommandTopic(topic string) (serial, command string, ok bool) {
	rest, found := strings.CutPrefix(topic, b.baseTopic+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func hassDevice(info DeviceInfo) hass.Device {
	return hass.Device{
		Identifiers:  []string{NodeID + "_" + info.Identifier},
		Manufacturer: info.Manufacturer,
		Name:         info.Name,
		Model:        info.Model,
		SWVersion:    info.SWVersion,
	}
}
