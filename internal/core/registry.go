package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/supergoudvis116/joule-connector/internal/schema"
)

const RegistryServiceName = "joule.registry.v1.Registry"

type ListPluginsRequest struct{}

type ListPluginsResponse struct {
	Plugins []PluginSummary `json:"plugins"`
}

type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

type DescribePluginRequest struct {
	PluginID string `json:"plugin_id"`
}

type DescribePluginResponse struct {
	Plugin *PluginDescriptor `json:"plugin,omitempty"`
}

type PluginDescriptor struct {
	PluginID      string          `json:"plugin_id"`
	DisplayName   string          `json:"display_name"`
	Version       string          `json:"version"`
	Services      []string        `json:"services"`
	AgentsMD      string          `json:"agents_md"`
	Status        string          `json:"status"`
	HealthMessage string          `json:"health_message"`
	Dashboards    []DashboardLink `json:"dashboards"`
}

type DashboardLink struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// Register exposes the registry on a gRPC server.
func (r *RegistryService) Register(server grpc.ServiceRegistrar) error {
	svc := schema.NewService(RegistryServiceName)
	schema.Handle(svc, "ListPlugins", r.ListPlugins)
	schema.Handle(svc, "DescribePlugin", r.DescribePlugin)
	return svc.Register(server)
}

func (r *RegistryService) ListPlugins(ctx context.Context, _ *ListPluginsRequest) (*ListPluginsResponse, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	resp := &ListPluginsResponse{}
	for _, p := range r.plugins {
		manifest := p.Manifest()
		resp.Plugins = append(resp.Plugins, PluginSummary{
			PluginID:    manifest.PluginID,
			DisplayName: manifest.DisplayName,
			Version:     manifest.Version,
			Status:      string(p.Health()),
		})
	}

	return resp, nil
}

func (r *RegistryService) DescribePlugin(ctx context.Context, req *DescribePluginRequest) (*DescribePluginResponse, error) {
	_ = ctx

	if req.PluginID == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != req.PluginID {
			continue
		}

		descriptor := &PluginDescriptor{
			PluginID:      manifest.PluginID,
			DisplayName:   manifest.DisplayName,
			Version:       manifest.Version,
			Services:      manifest.Services,
			AgentsMD:      p.AgentsMD(),
			Status:        string(p.Health()),
			HealthMessage: p.HealthMessage(),
		}

		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardLink{
				Name: d.Name,
				Path: DashboardPath(manifest.PluginID, d.Name),
			})
		}

		return &DescribePluginResponse{Plugin: descriptor}, nil
	}

	return nil, status.Errorf(codes.NotFound, "plugin %q not found", req.PluginID)
}

// FilterPlugins keeps the plugins enabled in config, or all of them when all
// is set.
func FilterPlugins(compiled []Plugin, enabled map[string]bool, all bool) []Plugin {
	if all {
		return compiled
	}
	out := make([]Plugin, 0, len(compiled))
	for _, p := range compiled {
		if enabled[p.ID()] {
			out = append(out, p)
		}
	}
	return out
}

// ValidateEnabledPlugins reports enabled plugin IDs that are not compiled in.
func ValidateEnabledPlugins(compiled []Plugin, enabled map[string]bool, all bool) error {
	if all {
		return nil
	}
	known := make(map[string]bool, len(compiled))
	for _, p := range compiled {
		known[p.ID()] = true
	}
	var missing []string
	for id, on := range enabled {
		if on && !known[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("enabled plugins not compiled in: %s", strings.Join(missing, ", "))
}
