package plugins

import (
	"go.uber.org/zap"

	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/core"
)

// Env carries process-wide dependencies into plugin factories.
type Env struct {
	Logger *zap.Logger
}

// Factory builds a plugin instance from the loaded config. It reports false
// when the plugin is not configured.
type Factory func(*config.Config, Env) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(cfg *config.Config, env Env) []core.Plugin {
	if cfg == nil {
		return nil
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(cfg, env)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
