package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/supergoudvis116/joule-connector/internal/oauth"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	agents        string
	health        HealthStatus
	healthMessage string
	collectors    []prometheus.Collector
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) AgentsMD() string { return s.agents }

func (s stubPlugin) OAuthDeclaration() oauth.Declaration { return oauth.Declaration{Provider: s.id} }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(grpc.ServiceRegistrar) error { return nil }

func (s stubPlugin) Collectors() []prometheus.Collector { return s.collectors }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"joule.plugins." + id + ".v1.DemoService"},
		agents:     "demo agents",
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func TestRegistryListPlugins(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	resp, err := svc.ListPlugins(context.Background(), &ListPluginsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Plugins, 1)

	assert.Equal(t, PluginSummary{
		PluginID:    "demo",
		DisplayName: "Demo",
		Version:     "0.1.0",
		Status:      string(HealthHealthy),
	}, resp.Plugins[0])
}

func TestRegistryDescribePlugin(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	resp, err := svc.DescribePlugin(context.Background(), &DescribePluginRequest{PluginID: "demo"})
	require.NoError(t, err)
	require.NotNil(t, resp.Plugin)
	assert.Equal(t, "demo", resp.Plugin.PluginID)
	assert.Equal(t, "demo agents", resp.Plugin.AgentsMD)
	require.Len(t, resp.Plugin.Dashboards, 1)
	assert.Equal(t, "/dashboards/demo/demo.json", resp.Plugin.Dashboards[0].Path)

	_, err = svc.DescribePlugin(context.Background(), &DescribePluginRequest{PluginID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = svc.DescribePlugin(context.Background(), &DescribePluginRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRegistryRegistersOnServer(t *testing.T) {
	server := grpc.NewServer()
	require.NoError(t, NewRegistryService(nil).Register(server))
	assert.Contains(t, server.GetServiceInfo(), RegistryServiceName)
}

func TestFilterPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo"), newStubPlugin("extra")}

	active := FilterPlugins(compiled, map[string]bool{"demo": true}, false)
	require.Len(t, active, 1)
	assert.Equal(t, "demo", active[0].ID())

	active = FilterPlugins(compiled, map[string]bool{}, true)
	assert.Len(t, active, 2)
}

func TestValidateEnabledPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo")}

	assert.NoError(t, ValidateEnabledPlugins(compiled, map[string]bool{"demo": true}, false))
	assert.Error(t, ValidateEnabledPlugins(compiled, map[string]bool{"missing": true}, false))
	assert.NoError(t, ValidateEnabledPlugins(compiled, map[string]bool{"missing": true}, true))
}

func TestValidatePlugins(t *testing.T) {
	valid := newStubPlugin("joule")
	valid.services = []string{"joule.plugins.joule.v1.JouleService"}
	assert.NoError(t, ValidatePlugins([]Plugin{valid}))
	assert.Error(t, ValidatePlugins([]Plugin{valid, valid}))
	assert.Error(t, ValidatePlugins([]Plugin{newStubPlugin("Bad-ID")}))

	wrongPackage := newStubPlugin("demo")
	wrongPackage.services = []string{"joule.plugins.other.v1.DemoService"}
	assert.ErrorContains(t, ValidatePlugins([]Plugin{wrongPackage}), "must live under")

	unknown := newStubPlugin("demo")
	assert.ErrorContains(t, ValidatePlugins([]Plugin{unknown}), "not found")

	badDashboard := valid
	badDashboard.dashboards = []Dashboard{{Name: "overview", JSON: []byte("{")}}
	assert.ErrorContains(t, ValidatePlugins([]Plugin{badDashboard}), "not valid json")
}

func TestMetricsRegistryDeduplicatesSharedCollectors(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "demo_gauge", Help: "demo"})
	plugin := newStubPlugin("demo")
	plugin.collectors = []prometheus.Collector{gauge}

	registry, err := MetricsRegistry([]Plugin{plugin}, gauge)
	require.NoError(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "demo_gauge", families[0].GetName())
}

func TestDashboards(t *testing.T) {
	plugins := []Plugin{newStubPlugin("demo")}
	assert.Equal(t, map[string][]byte{"/dashboards/demo/demo.json": []byte("{}")}, DashboardsMap(plugins))

	dir := t.TempDir()
	require.NoError(t, WriteDashboards(dir, plugins))
	data, err := os.ReadFile(filepath.Join(dir, "demo", "demo.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	info, err := os.Stat(filepath.Join(dir, "demo", "demo.json"))
	require.NoError(t, err)
	require.NoError(t, WriteDashboards(dir, plugins))
	again, err := os.Stat(filepath.Join(dir, "demo", "demo.json"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime())

	assert.NoError(t, WriteDashboards("", plugins))
}
