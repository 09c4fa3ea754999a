package joule

import (
	"context"
	"strings"
	"testing"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorExportsSnapshot(t *testing.T) {
	th := sampleThermostat()
	th.Heating = true
	fetcher := newFakeFetcher(th)
	coordinator := NewCoordinator(fetcher, testConfig(), WithClock(testclock.NewClock(start)))
	require.NoError(t, coordinator.Refresh(context.Background()))

	collector := NewMetricsCollector(coordinator)
	expected := `
# HELP joule_heating_bool Burner active per thermostat (1=on, 0=off)
# TYPE joule_heating_bool gauge
joule_heating_bool{name="Living SN1",serial="SN1"} 1
# HELP joule_room_temperature_celsius Room temperature per thermostat
# TYPE joule_room_temperature_celsius gauge
joule_room_temperature_celsius{name="Living SN1",serial="SN1"} 20.25
# HELP joule_setpoint_celsius Target temperature per thermostat
# TYPE joule_setpoint_celsius gauge
joule_setpoint_celsius{name="Living SN1",serial="SN1"} 21.5
# HELP joule_update_success Last poll success (1=ok, 0=error)
# TYPE joule_update_success gauge
joule_update_success 1
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"joule_heating_bool",
		"joule_room_temperature_celsius",
		"joule_setpoint_celsius",
		"joule_update_success",
	))
	assert.Equal(t, 8, testutil.CollectAndCount(collector))

	fetcher.set(ErrTimeout)
	require.Error(t, coordinator.Refresh(context.Background()))
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(`
# HELP joule_update_success Last poll success (1=ok, 0=error)
# TYPE joule_update_success gauge
joule_update_success 0
`), "joule_update_success"))
}

func TestMetricsCollectorSkipsMissingReadings(t *testing.T) {
	th := sampleThermostat()
	th.HasTemperature = false
	th.HasHumidity = false
	coordinator := NewCoordinator(newFakeFetcher(th), testConfig(), WithClock(testclock.NewClock(start)))
	require.NoError(t, coordinator.Refresh(context.Background()))

	collector := NewMetricsCollector(coordinator)
	assert.Equal(t, 0, testutil.CollectAndCount(collector, "joule_room_temperature_celsius"))
	assert.Equal(t, 0, testutil.CollectAndCount(collector, "joule_room_humidity_percent"))
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "joule_online_bool"))
}
