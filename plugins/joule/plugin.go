package joule

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/core"
	"github.com/supergoudvis116/joule-connector/internal/hass"
	"github.com/supergoudvis116/joule-connector/internal/oauth"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// Plugin implements the connector plugin contract for Joule thermostats.
type Plugin struct {
	cfg         Config
	oauthCfg    *config.OAuthConfig
	mqttCfg     *config.MQTTConfig
	session     *oauth.Manager
	coordinator *Coordinator
	commands    *Commands
	logger      *zap.Logger

	mu            sync.RWMutex
	health        core.HealthStatus
	healthMessage string
}

// NewPlugin builds the plugin from config. It reports false when no joule
// block is configured. Setup failures yield a plugin in the ERROR state.
func NewPlugin(jc *config.JouleConfig, oc *config.OAuthConfig, mc *config.MQTTConfig, logger *zap.Logger) (core.Plugin, bool) {
	if jc == nil {
		return nil, false
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(PluginID)

	p := &Plugin{oauthCfg: oc, mqttCfg: mc, logger: logger}
	if err := p.setup(jc); err != nil {
		logger.Error("joule plugin setup failed", zap.Error(err))
		p.setHealth(core.HealthError, err.Error())
		return p, true
	}
	p.setHealth(core.HealthHealthy, "")
	return p, true
}

func (p *Plugin) setup(jc *config.JouleConfig) error {
	cfg, err := ConfigFromProto(jc)
	if err != nil {
		return err
	}
	p.cfg = cfg

	blobStore, err := oauth.NewBlobStore(p.oauthCfg)
	if err != nil {
		return fmt.Errorf("session blob store: %w", err)
	}
	session, err := oauth.NewManager(cfg.Declaration(), cfg.CredentialsFile, blobStore,
		oauth.WithLogger(p.logger),
		oauth.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
	)
	if err != nil {
		return fmt.Errorf("joule session: %w", err)
	}
	p.session = session

	client, err := NewClient(cfg, session, WithClientLogger(p.logger))
	if err != nil {
		return err
	}
	p.coordinator = NewCoordinator(client, cfg, WithCoordinatorLogger(p.logger))
	p.commands = NewCommands(client, p.coordinator, cfg.Options, p.logger)
	return nil
}

// Start launches session renewal, polling and the optional MQTT bridge. The
// bridge connects in the background.
func (p *Plugin) Start(ctx context.Context) error {
	if p.coordinator == nil {
		return nil
	}
	p.session.StartWithInterval(ctx, oauth.RefreshInterval(p.oauthCfg))
	go p.coordinator.Run(ctx)

	if p.mqttCfg != nil {
		go func() {
			if err := p.startBridge(ctx); err != nil {
				p.logger.Error("mqtt bridge failed", zap.Error(err))
			}
		}()
	}
	return nil
}

func (p *Plugin) startBridge(ctx context.Context) error {
	client, err := hass.Connect(p.mqttCfg, p.logger.Named("mqtt"))
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	bridge := NewBridge(client, p.commands, p.mqttCfg.DiscoveryPrefix, p.mqttCfg.BaseTopic, p.logger.Named("hass"))
	if err := bridge.Subscribe(); err != nil {
		client.Close()
		return err
	}
	remove := p.coordinator.AddListener(bridge.Notify)
	bridge.Notify(p.coordinator.Snapshot())
	go func() {
		<-ctx.Done()
		remove()
		client.Close()
	}()
	bridge.Run(ctx)
	return nil
}

func (p *Plugin) setHealth(status core.HealthStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = status
	p.healthMessage = message
}

func (p *Plugin) ID() string {
	return PluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Joule Cloud Connector",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) OAuthDeclaration() oauth.Declaration {
	if p.session == nil {
		return oauth.Declaration{Provider: PluginID, Flow: oauth.FlowPassword}
	}
	return p.session.Declaration()
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "joule-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server grpc.ServiceRegistrar) error {
	return RegisterJouleService(server, p.coordinator, p.commands)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.coordinator == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.coordinator)}
}

// Health degrades while the last poll failed.
func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	health := p.health
	p.mu.RUnlock()
	if health != core.HealthHealthy || p.coordinator == nil {
		return health
	}
	snap := p.coordinator.Snapshot()
	if snap.Err != nil {
		return core.HealthDegraded
	}
	return health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	message := p.healthMessage
	p.mu.RUnlock()
	if message != "" || p.coordinator == nil {
		return message
	}
	if err := p.coordinator.Snapshot().Err; err != nil {
		return err.Error()
	}
	return ""
}
