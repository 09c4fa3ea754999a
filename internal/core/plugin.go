package core

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/supergoudvis116/joule-connector/internal/oauth"
)

// HealthStatus represents plugin health states for registry reporting.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is a Grafana dashboard asset embedded by the plugin.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest describes a plugin for discovery and registry metadata.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Plugin is the compile-time contract for all connector plugins.
type Plugin interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	OAuthDeclaration() oauth.Declaration
	Dashboards() []Dashboard
	RegisterGRPC(grpc.ServiceRegistrar) error
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// HTTPRegistrant allows plugins to expose HTTP handlers.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}

// Runner is implemented by plugins with background work. Start returns once
// the work is launched; it stops when ctx is cancelled.
type Runner interface {
	Start(ctx context.Context) error
}
