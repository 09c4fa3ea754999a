package plugins

import (
	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/core"
	"github.com/supergoudvis116/joule-connector/plugins/joule"
)

func init() {
	Register(func(cfg *config.Config, env Env) (core.Plugin, bool) {
		return joule.NewPlugin(cfg.Joule, cfg.OAuth, cfg.MQTT, env.Logger)
	})
}
