package joule

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exports the coordinator snapshot. Scrapes never call the API.
type MetricsCollector struct {
	coordinator *Coordinator

	temp        *prometheus.Desc
	setpoint    *prometheus.Desc
	humidity    *prometheus.Desc
	heating     *prometheus.Desc
	online      *prometheus.Desc
	info        *prometheus.Desc
	lastSuccess *prometheus.Desc
	success     *prometheus.Desc
}

func NewMetricsCollector(coordinator *Coordinator) *MetricsCollector {
	labels := []string{"serial", "name"}
	return &MetricsCollector{
		coordinator: coordinator,
		temp: prometheus.NewDesc(
			"joule_room_temperature_celsius",
			"Room temperature per thermostat",
			labels, nil,
		),
		setpoint: prometheus.NewDesc(
			"joule_setpoint_celsius",
			"Target temperature per thermostat",
			labels, nil,
		),
		humidity: prometheus.NewDesc(
			"joule_room_humidity_percent",
			"Room humidity per thermostat",
			labels, nil,
		),
		heating: prometheus.NewDesc(
			"joule_heating_bool",
			"Burner active per thermostat (1=on, 0=off)",
			labels, nil,
		),
		online: prometheus.NewDesc(
			"joule_online_bool",
			"Thermostat connected to the cloud (1=online, 0=offline)",
			labels, nil,
		),
		info: prometheus.NewDesc(
			"joule_thermostat_info",
			"Thermostat metadata",
			[]string{"serial", "name", "model", "sw_version"}, nil,
		),
		lastSuccess: prometheus.NewDesc(
			"joule_last_success_timestamp_seconds",
			"Last successful Joule poll timestamp (epoch seconds)",
			nil, nil,
		),
		success: prometheus.NewDesc(
			"joule_update_success",
			"Last poll success (1=ok, 0=error)",
			nil, nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.temp
	ch <- c.setpoint
	ch <- c.humidity
	ch <- c.heating
	ch <- c.online
	ch <- c.info
	ch <- c.lastSuccess
	ch <- c.success
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.coordinator.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.success, prometheus.GaugeValue, boolFloat(snap.LastUpdateSuccess))
	if !snap.LastUpdated.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(snap.LastUpdated.Unix()))
	}

	for _, t := range snap.Thermostats {
		labels := []string{t.SerialNumber, t.Name}
		if t.HasTemperature {
			ch <- prometheus.MustNewConstMetric(c.temp, prometheus.GaugeValue, Celsius(t.Temperature), labels...)
		}
		if t.HasHumidity {
			ch <- prometheus.MustNewConstMetric(c.humidity, prometheus.GaugeValue, float64(t.Humidity), labels...)
		}
		ch <- prometheus.MustNewConstMetric(c.setpoint, prometheus.GaugeValue, Celsius(t.SetPointTemperature), labels...)
		ch <- prometheus.MustNewConstMetric(c.heating, prometheus.GaugeValue, boolFloat(t.Heating), labels...)
		ch <- prometheus.MustNewConstMetric(c.online, prometheus.GaugeValue, boolFloat(t.Online), labels...)
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, t.SerialNumber, t.Name, t.Model, t.SoftwareVersion)
	}
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
