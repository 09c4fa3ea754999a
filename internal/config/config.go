package config

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/prototext"

	"github.com/supergoudvis116/joule-connector/internal/schema"
)

const (
	SchemaVersion                      = 1
	DefaultPath                        = "/etc/joule-connector/config.pbtxt"
	DefaultGRPCAddr                    = "0.0.0.0:9000"
	DefaultHTTPAddr                    = "0.0.0.0:8080"
	DefaultDashboardDir                = "/var/lib/joule-connector/dashboards"
	DefaultOAuthPrefix                 = "joule-connector/oauth"
	DefaultOAuthRefreshIntervalSeconds = 600
	DefaultLogLevel                    = "info"
	DefaultLogFormat                   = "json"

	DefaultAuthHost              = "joule-technologies-dev.eu.auth0.com"
	DefaultAPIBaseURL            = "https://user-api.joule-cloud.com"
	DefaultClientID              = "lS6O7Nf6WV7mxxXe0hBSbCxqyFdhgvqd"
	DefaultAudience              = "https://user-api.joule-cloud.com/"
	DefaultScope                 = "openid email profile"
	DefaultUpdateIntervalSeconds = 60
	DefaultAPITimeoutSeconds     = 30
	DefaultRefreshDelayMS        = 2000
	DefaultComfortModeDuration   = 60
	DefaultStatePath             = "/var/lib/joule-connector/joule-session.json"
	DefaultMaxRequestsPerMinute  = 30
	DefaultMaxRequestsPerDay     = 5000

	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "joule_connector"

	// Environment overrides applied after the file is parsed.
	EnvConfigPath = "JOULE_CONFIG"
	EnvGRPCAddr   = "JOULE_GRPC_ADDR"
	EnvHTTPAddr   = "JOULE_HTTP_ADDR"
)

const configMessage = "joule.config.v1.Config"

// Path returns the config path from the environment or the default.
func Path() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return DefaultPath
}

// Load parses the textproto config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes textproto config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	msg, err := schema.NewMessage(configMessage)
	if err != nil {
		return nil, err
	}
	if err := prototext.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{}
	if err := schema.Decode(msg, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.OAuth == nil {
		cfg.OAuth = &OAuthConfig{}
	}
	if cfg.OAuth.BlobPrefix == "" {
		cfg.OAuth.BlobPrefix = DefaultOAuthPrefix
	}
	if cfg.OAuth.RefreshIntervalSeconds == 0 {
		cfg.OAuth.RefreshIntervalSeconds = DefaultOAuthRefreshIntervalSeconds
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
		}
		if cfg.MQTT.BaseTopic == "" {
			cfg.MQTT.BaseTopic = DefaultBaseTopic
		}
	}

	if j := cfg.Joule; j != nil {
		if j.AuthHost == "" {
			j.AuthHost = DefaultAuthHost
		}
		if j.APIBaseURL == "" {
			j.APIBaseURL = DefaultAPIBaseURL
		}
		if j.ClientID == "" {
			j.ClientID = DefaultClientID
		}
		if j.Audience == "" {
			j.Audience = DefaultAudience
		}
		if j.Scope == "" {
			j.Scope = DefaultScope
		}
		if j.UpdateIntervalSeconds == 0 {
			j.UpdateIntervalSeconds = DefaultUpdateIntervalSeconds
		}
		if j.APITimeoutSeconds == 0 {
			j.APITimeoutSeconds = DefaultAPITimeoutSeconds
		}
		if j.RefreshDelayMS == 0 {
			j.RefreshDelayMS = DefaultRefreshDelayMS
		}
		if j.ComfortModeDurationMinutes == 0 {
			j.ComfortModeDurationMinutes = DefaultComfortModeDuration
		}
		if j.StatePath == "" {
			j.StatePath = DefaultStatePath
		}
		if j.MaxRequestsPerMinute == 0 {
			j.MaxRequestsPerMinute = DefaultMaxRequestsPerMinute
		}
		if j.MaxRequestsPerDay == 0 {
			j.MaxRequestsPerDay = DefaultMaxRequestsPerDay
		}
	}
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv(EnvGRPCAddr); addr != "" {
		cfg.Core.GRPCAddr = addr
	}
	if addr := os.Getenv(EnvHTTPAddr); addr != "" {
		cfg.Core.HTTPAddr = addr
	}
}

// Validate enforces required invariants beyond proto typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Logging != nil {
		switch cfg.Logging.Format {
		case "", "json", "console":
		default:
			return fmt.Errorf("logging.format must be json or console")
		}
	}

	if o := cfg.OAuth; o != nil && o.BlobEndpoint != "" {
		if o.BlobBucket == "" {
			return fmt.Errorf("oauth.blob_bucket is required")
		}
		if o.BlobAccessKeyFile == "" {
			return fmt.Errorf("oauth.blob_access_key_file is required")
		}
		if o.BlobSecretKeyFile == "" {
			return fmt.Errorf("oauth.blob_secret_key_file is required")
		}
	}
	if cfg.OAuth != nil && cfg.OAuth.RefreshIntervalSeconds < 0 {
		return fmt.Errorf("oauth.refresh_interval_seconds must be positive")
	}

	if m := cfg.MQTT; m != nil {
		if m.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if m.QoS < 0 || m.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if j := cfg.Joule; j != nil {
		if j.CredentialsFile == "" {
			return fmt.Errorf("joule.credentials_file is required")
		}
		if j.UpdateIntervalSeconds < 1 {
			return fmt.Errorf("joule.update_interval_seconds must be at least 1")
		}
		if j.APITimeoutSeconds < 1 {
			return fmt.Errorf("joule.api_timeout_seconds must be at least 1")
		}
		if j.RefreshDelayMS < 0 {
			return fmt.Errorf("joule.refresh_delay_ms must not be negative")
		}
		if j.ComfortModeDurationMinutes < 1 {
			return fmt.Errorf("joule.comfort_mode_duration_minutes must be at least 1")
		}
		if j.MaxRequestsPerMinute < 0 || j.MaxRequestsPerDay < 0 {
			return fmt.Errorf("joule rate limits must not be negative")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Joule != nil {
		enabled["joule"] = true
	}
	return enabled
}
