package joule

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/supergoudvis116/joule-connector/internal/config"
	"github.com/supergoudvis116/joule-connector/internal/oauth"
	"github.com/supergoudvis116/joule-connector/internal/rate"
)

const (
	PluginID     = "joule"
	Manufacturer = "Joule"
)

// Config defines runtime configuration for the Joule plugin.
type Config struct {
	CredentialsFile string
	AuthHost        string
	APIBaseURL      string
	ClientID        string
	ClientSecret    string
	Audience        string
	Scope           string
	StatePath       string

	UpdateInterval time.Duration
	APITimeout     time.Duration
	RefreshDelay   time.Duration

	MaxRequestsPerMinute int
	MaxRequestsPerDay    int

	Options Options
}

// Options tune how climate commands are sent.
type Options struct {
	UseComfortMode      bool
	ComfortModeDuration time.Duration
}

func (o Options) Validate() error {
	if o.ComfortModeDuration < time.Minute {
		return fmt.Errorf("comfort mode duration must be at least 1 minute")
	}
	return nil
}

// RegulationMode is the mode sent with a setpoint change.
func (o Options) RegulationMode() int {
	if o.UseComfortMode {
		return RegulationComfort
	}
	return RegulationSchedule
}

func ConfigFromProto(cfg *config.JouleConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("joule config is required")
	}
	if cfg.CredentialsFile == "" {
		return Config{}, fmt.Errorf("joule credentials_file is required")
	}

	var secret string
	if cfg.ClientSecretFile != "" {
		data, err := os.ReadFile(cfg.ClientSecretFile)
		if err != nil {
			return Config{}, fmt.Errorf("read client secret: %w", err)
		}
		secret = strings.TrimSpace(string(data))
	}

	out := Config{
		CredentialsFile:      cfg.CredentialsFile,
		AuthHost:             orDefault(cfg.AuthHost, config.DefaultAuthHost),
		APIBaseURL:           strings.TrimRight(orDefault(cfg.APIBaseURL, config.DefaultAPIBaseURL), "/"),
		ClientID:             orDefault(cfg.ClientID, config.DefaultClientID),
		ClientSecret:         secret,
		Audience:             orDefault(cfg.Audience, config.DefaultAudience),
		Scope:                orDefault(cfg.Scope, config.DefaultScope),
		StatePath:            orDefault(cfg.StatePath, config.DefaultStatePath),
		UpdateInterval:       seconds(cfg.UpdateIntervalSeconds, config.DefaultUpdateIntervalSeconds),
		APITimeout:           seconds(cfg.APITimeoutSeconds, config.DefaultAPITimeoutSeconds),
		RefreshDelay:         time.Duration(orDefaultInt(cfg.RefreshDelayMS, config.DefaultRefreshDelayMS)) * time.Millisecond,
		MaxRequestsPerMinute: int(orDefaultInt(cfg.MaxRequestsPerMinute, config.DefaultMaxRequestsPerMinute)),
		MaxRequestsPerDay:    int(orDefaultInt(cfg.MaxRequestsPerDay, config.DefaultMaxRequestsPerDay)),
		Options: Options{
			UseComfortMode:      cfg.UseComfortMode,
			ComfortModeDuration: time.Duration(orDefaultInt(cfg.ComfortModeDurationMinutes, config.DefaultComfortModeDuration)) * time.Minute,
		},
	}
	if err := out.Options.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// TokenURL is the password-grant endpoint. AuthHost may carry a scheme.
func (c Config) TokenURL() string {
	host := strings.TrimRight(c.AuthHost, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return host + "/oauth/token"
}

// Declaration is the session contract for the Joule account.
func (c Config) Declaration() oauth.Declaration {
	return oauth.Declaration{
		Provider:     PluginID,
		Flow:         oauth.FlowPassword,
		TokenURL:     c.TokenURL(),
		Audience:     c.Audience,
		Scope:        c.Scope,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		StatePath:    c.StatePath,
	}
}

// RateLimits is the client-side request budget for the API.
func (c Config) RateLimits() rate.Policy {
	return rate.Policy{
		Provider: PluginID,
		Limits: map[rate.Window]rate.Limit{
			rate.Minute: {Max: c.MaxRequestsPerMinute},
			rate.Day:    {Max: c.MaxRequestsPerDay, Floor: 10},
		},
		CacheTTL: 10 * time.Minute,
		Cooldown: time.Minute,
		Headers:  rate.StandardHeaders(),
	}
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func orDefaultInt(value int32, fallback int32) int32 {
	if value == 0 {
		return fallback
	}
	return value
}

func seconds(value int32, fallback int32) time.Duration {
	return time.Duration(orDefaultInt(value, fallback)) * time.Second
}
