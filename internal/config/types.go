package config

// Config mirrors joule.config.v1.Config. Field tags are the proto field names.
type Config struct {
	SchemaVersion int32          `json:"schema_version"`
	Core          *CoreConfig    `json:"core,omitempty"`
	Logging       *LoggingConfig `json:"logging,omitempty"`
	OAuth         *OAuthConfig   `json:"oauth,omitempty"`
	MQTT          *MQTTConfig    `json:"mqtt,omitempty"`
	Joule         *JouleConfig   `json:"joule,omitempty"`
}

type CoreConfig struct {
	GRPCAddr     string `json:"grpc_addr"`
	HTTPAddr     string `json:"http_addr"`
	DashboardDir string `json:"dashboard_dir"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// OAuthConfig controls session refresh and where session state is mirrored.
// Blob mirroring is off when BlobEndpoint is empty.
type OAuthConfig struct {
	BlobEndpoint           string `json:"blob_endpoint"`
	BlobBucket             string `json:"blob_bucket"`
	BlobPrefix             string `json:"blob_prefix"`
	BlobAccessKeyFile      string `json:"blob_access_key_file"`
	BlobSecretKeyFile      string `json:"blob_secret_key_file"`
	BlobRegion             string `json:"blob_region"`
	RefreshIntervalSeconds int32  `json:"refresh_interval_seconds"`
	RefreshDisabled        bool   `json:"refresh_disabled"`
}

type MQTTConfig struct {
	Broker          string `json:"broker"`
	CredentialsFile string `json:"credentials_file"`
	DiscoveryPrefix string `json:"discovery_prefix"`
	BaseTopic       string `json:"base_topic"`
	ClientID        string `json:"client_id"`
	QoS             int32  `json:"qos"`
}

type JouleConfig struct {
	CredentialsFile            string `json:"credentials_file"`
	AuthHost                   string `json:"auth_host"`
	APIBaseURL                 string `json:"api_base_url"`
	ClientID                   string `json:"client_id"`
	ClientSecretFile           string `json:"client_secret_file"`
	Audience                   string `json:"audience"`
	Scope                      string `json:"scope"`
	UpdateIntervalSeconds      int32  `json:"update_interval_seconds"`
	APITimeoutSeconds          int32  `json:"api_timeout_seconds"`
	RefreshDelayMS             int32  `json:"refresh_delay_ms"`
	UseComfortMode             bool   `json:"use_comfort_mode"`
	ComfortModeDurationMinutes int32  `json:"comfort_mode_duration_minutes"`
	StatePath                  string `json:"state_path"`
	MaxRequestsPerMinute       int32  `json:"max_requests_per_minute"`
	MaxRequestsPerDay          int32  `json:"max_requests_per_day"`
}
