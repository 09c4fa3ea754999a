package oauth

import (
	"time"

	"github.com/supergoudvis116/joule-connector/internal/config"
)

const DefaultRefreshInterval = 10 * time.Minute

// RefreshInterval returns how often the renewal loop checks the token. Zero
// disables the loop.
func RefreshInterval(cfg *config.OAuthConfig) time.Duration {
	if cfg == nil {
		return DefaultRefreshInterval
	}
	if cfg.RefreshDisabled {
		return 0
	}
	if cfg.RefreshIntervalSeconds > 0 {
		return time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	}
	return DefaultRefreshInterval
}
