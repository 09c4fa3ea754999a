package core

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRegistry builds a registry from plugin collectors plus any shared
// collectors. A collector offered twice is registered once.
func MetricsRegistry(plugins []Plugin, shared ...prometheus.Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	collectors := append([]prometheus.Collector(nil), shared...)
	for _, plugin := range plugins {
		collectors = append(collectors, plugin.Collectors()...)
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return registry, nil
}
