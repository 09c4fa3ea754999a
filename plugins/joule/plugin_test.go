package joule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/core"
	"github.com/supergoudvis116/joule-connector/internal/oauth"
)

func writeCredentials(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "joule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version":1,"username":"me@example.com","password":"pw"}`), 0o600))
	return path
}

func TestNewPluginNotConfigured(t *testing.T) {
	plugin, ok := NewPlugin(nil, nil, nil, nil)
	assert.False(t, ok)
	assert.Nil(t, plugin)
}

func TestNewPluginSetupFailureReportsError(t *testing.T) {
	plugin, ok := NewPlugin(&config.JouleConfig{CredentialsFile: filepath.Join(t.TempDir(), "missing.json")}, nil, nil, nil)
	require.True(t, ok)
	assert.Equal(t, core.HealthError, plugin.Health())
	assert.Contains(t, plugin.HealthMessage(), "credentials")
	assert.Empty(t, plugin.Collectors())

	server := grpc.NewServer()
	require.NoError(t, plugin.RegisterGRPC(server))
	assert.Contains(t, server.GetServiceInfo(), ServiceName)
	require.NoError(t, plugin.(core.Runner).Start(context.Background()))
}

func TestNewPlugin(t *testing.T) {
	jc := &config.JouleConfig{
		CredentialsFile: writeCredentials(t),
		StatePath:       filepath.Join(t.TempDir(), "session.json"),
	}
	plugin, ok := NewPlugin(jc, nil, nil, nil)
	require.True(t, ok)

	assert.Equal(t, core.HealthHealthy, plugin.Health())
	assert.Empty(t, plugin.HealthMessage())
	assert.Equal(t, PluginID, plugin.ID())
	assert.NoError(t, core.ValidatePlugins([]core.Plugin{plugin}))
	assert.Len(t, plugin.Collectors(), 1)
	assert.Contains(t, plugin.AgentsMD(), "JouleService")
	require.Len(t, plugin.Dashboards(), 1)
	assert.Equal(t, "/dashboards/joule/joule-overview.json", core.DashboardPath(PluginID, plugin.Dashboards()[0].Name))

	decl := plugin.OAuthDeclaration()
	assert.Equal(t, oauth.FlowPassword, decl.Flow)
	assert.Equal(t, "https://"+config.DefaultAuthHost+"/oauth/token", decl.TokenURL)
	assert.Equal(t, config.DefaultAudience, decl.Audience)
}

func TestConfigFromProto(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secret, []byte("s3cret\n"), 0o600))

	cfg, err := ConfigFromProto(&config.JouleConfig{
		CredentialsFile:            "/run/joule.json",
		AuthHost:                   "http://localhost:8080/",
		APIBaseURL:                 "https://api.example.test/",
		ClientSecretFile:           secret,
		UpdateIntervalSeconds:      120,
		RefreshDelayMS:             500,
		UseComfortMode:             true,
		ComfortModeDurationMinutes: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/oauth/token", cfg.TokenURL())
	assert.Equal(t, "https://api.example.test", cfg.APIBaseURL)
	assert.Equal(t, "s3cret", cfg.ClientSecret)
	assert.Equal(t, config.DefaultClientID, cfg.ClientID)
	assert.Equal(t, 2*time.Minute, cfg.UpdateInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.RefreshDelay)
	assert.Equal(t, 30*time.Second, cfg.APITimeout)
	assert.True(t, cfg.Options.UseComfortMode)
	assert.Equal(t, 15*time.Minute, cfg.Options.ComfortModeDuration)

	_, err = ConfigFromProto(&config.JouleConfig{})
	assert.Error(t, err)
	_, err = ConfigFromProto(nil)
	assert.Error(t, err)
}

func TestStartDoesNotWaitForBroker(t *testing.T) {
	jc := &config.JouleConfig{
		CredentialsFile: writeCredentials(t),
		StatePath:       filepath.Join(t.TempDir(), "session.json"),
		AuthHost:        "http://127.0.0.1:1",
		APIBaseURL:      "http://127.0.0.1:1",
	}
	mc := &config.MQTTConfig{Broker: "tcp://127.0.0.1:1", DiscoveryPrefix: "homeassistant", BaseTopic: "joule_connector", QoS: 1}
	plugin, ok := NewPlugin(jc, nil, mc, nil)
	require.True(t, ok)
	require.Equal(t, core.HealthHealthy, plugin.Health())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- plugin.(core.Runner).Start(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start blocked on the MQTT broker")
	}

	assert.Eventually(t, func() bool {
		return plugin.Health() == core.HealthDegraded
	}, 10*time.Second, 20*time.Millisecond)
}
