package joule

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supergoudvis116/joule-connector/internal/hass"
)

type published struct {
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu        sync.Mutex
	published map[string][]published
	handlers  map[string]hass.Handler
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{published: map[string][]published{}, handlers: map[string]hass.Handler{}}
}

func (f *fakeMQTT) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], published{retained: retained, payload: payload})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, handler hass.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) deliver(filter, topic, payload string) {
	f.mu.Lock()
	handler := f.handlers[filter]
	f.mu.Unlock()
	handler(topic, []byte(payload))
}

func TestBridgePublishesDiscoveryOnce(t *testing.T) {
	client := newFakeMQTT()
	commands, _, coordinator, _ := newTestCommands(t, Options{ComfortModeDuration: time.Hour})
	bridge := NewBridge(client, commands, "homeassistant", "joule_connector", nil)

	bridge.Publish(coordinator.Snapshot())
	bridge.Publish(coordinator.Snapshot())

	climateTopic := "homeassistant/climate/joule_connector/SN1/config"
	require.Len(t, client.published[climateTopic], 1)
	assert.True(t, client.published[climateTopic][0].retained)

	var climate map[string]any
	require.NoError(t, json.Unmarshal(client.published[climateTopic][0].payload, &climate))
	assert.Equal(t, "SN1", climate["unique_id"])
	assert.Equal(t, "joule_connector/SN1/temperature/set", climate["temperature_command_topic"])
	assert.Equal(t, "joule_connector/SN1/mode/set", climate["mode_command_topic"])
	assert.Equal(t, []any{"heat"}, climate["modes"])
	device := climate["device"].(map[string]any)
	assert.Equal(t, "Joule", device["manufacturer"])
	assert.Equal(t, []any{"joule_connector_SN1"}, device["identifiers"])

	for _, topic := range []string{
		"homeassistant/sensor/joule_connector/SN1_temperature/config",
		"homeassistant/sensor/joule_connector/SN1_humidity/config",
		"homeassistant/binary_sensor/joule_connector/SN1_online/config",
		"homeassistant/binary_sensor/joule_connector/SN1_heating/config",
	} {
		assert.Len(t, client.published[topic], 1, topic)
	}

	states := client.published["joule_connector/SN1/state"]
	require.Len(t, states, 2)
	var state StateDocument
	require.NoError(t, json.Unmarshal(states[1].payload, &state))
	assert.Equal(t, 21.5, state.TargetTemperature)
	assert.Equal(t, 20.25, state.CurrentTemperature)
	assert.Equal(t, "idle", state.HVACAction)
	require.NotNil(t, state.Humidity)
	assert.Equal(t, 45.0, *state.Humidity)
	assert.True(t, state.Online)
}

func TestBridgeRoutesCommands(t *testing.T) {
	client := newFakeMQTT()
	commands, setter, _, _ := newTestCommands(t, Options{ComfortModeDuration: time.Hour})
	bridge := NewBridge(client, commands, "homeassistant", "joule_connector", nil)
	require.NoError(t, bridge.Subscribe())
	require.Len(t, client.handlers, 3)

	client.deliver("joule_connector/+/temperature/set", "joule_connector/SN1/temperature/set", "22.5")
	client.deliver("joule_connector/+/temperature/set", "joule_connector/SN1/temperature/set", "warm")
	client.deliver("joule_connector/+/mode/set", "joule_connector/SN1/mode/set", "heat")
	client.deliver("joule_connector/+/preset/set", "joule_connector/SN1/preset/set", "away")
	client.deliver("joule_connector/+/temperature/set", "other/SN1/temperature/set", "18")

	setter.mu.Lock()
	defer setter.mu.Unlock()
	require.Len(t, setter.calls, 1)
	assert.Equal(t, 2250, setter.calls[0].temperature)
}

func TestBridgeRoutesCommandsForSanitizedSerial(t *testing.T) {
	th := sampleThermostat()
	th.SerialNumber = "JL.0042"
	coordinator := NewCoordinator(newFakeFetcher(th), testConfig(), WithClock(testclock.NewClock(start)))
	require.NoError(t, coordinator.Refresh(context.Background()))
	setter := &fakeSetter{}
	commands := NewCommands(setter, coordinator, Options{ComfortModeDuration: time.Hour}, nil)

	client := newFakeMQTT()
	bridge := NewBridge(client, commands, "homeassistant", "joule_connector", nil)
	require.NoError(t, bridge.Subscribe())
	bridge.Publish(coordinator.Snapshot())

	var climate map[string]any
	climateTopic := "homeassistant/climate/joule_connector/JL_0042/config"
	require.Len(t, client.published[climateTopic], 1)
	require.NoError(t, json.Unmarshal(client.published[climateTopic][0].payload, &climate))
	assert.Equal(t, "joule_connector/JL_0042/temperature/set", climate["temperature_command_topic"])

	client.deliver("joule_connector/+/temperature/set", "joule_connector/JL_0042/temperature/set", "20.5")

	setter.mu.Lock()
	defer setter.mu.Unlock()
	require.Len(t, setter.calls, 1)
	assert.Equal(t, "JL.0042", setter.calls[0].serial)
	assert.Equal(t, 2050, setter.calls[0].temperature)
}

type blockingMQTT struct {
	*fakeMQTT
	release chan struct{}
}

func (b *blockingMQTT) Publish(topic string, retained bool, payload []byte) error {
	<-b.release
	return b.fakeMQTT.Publish(topic, retained, payload)
}

func TestBridgeNotifyNeverBlocksAndKeepsLatest(t *testing.T) {
	client := &blockingMQTT{fakeMQTT: newFakeMQTT(), release: make(chan struct{})}
	commands, _, _, _ := newTestCommands(t, Options{ComfortModeDuration: time.Hour})
	bridge := NewBridge(client, commands, "homeassistant", "joule_connector", nil)

	older := sampleThermostat()
	older.SetPointTemperature = 1800
	newer := sampleThermostat()
	newer.SetPointTemperature = 2200

	done := make(chan struct{})
	go func() {
		bridge.Notify(Snapshot{Thermostats: []Thermostat{older}})
		bridge.Notify(Snapshot{Thermostats: []Thermostat{newer}})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx)
	close(client.release)

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.published["joule_connector/SN1/state"]) == 1
	}, 5*time.Second, 10*time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	var state StateDocument
	require.NoError(t, json.Unmarshal(client.published["joule_connector/SN1/state"][0].payload, &state))
	assert.Equal(t, 22.0, state.TargetTemperature)
}

func TestStateForOmitsMissingReadings(t *testing.T) {
	th := sampleThermostat()
	th.HasHumidity = false
	data, err := json.Marshal(StateFor(th))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "humidity")
	assert.Equal(t, 20.25, doc["temperature"])
}
