// Package config loads the simulator configuration: defaults, then an optional
// TOML file, then DDI_SIM_* environment overrides. Command-line flags are
// applied by the caller before Validate.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DDI_SIM_"

// Server describes the DDI endpoint.
type Server struct {
	URL            string `toml:"url"`
	Tenant         string `toml:"tenant"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Auth holds device credentials. Basic wins over the gateway token, which
// wins over the target token.
type Auth struct {
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	GatewayToken string `toml:"gateway_token"`
	TargetToken  string `toml:"target_token"`
}

// Management enables target bootstrap through the management API.
type Management struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Enabled reports whether bootstrap credentials are configured.
func (m Management) Enabled() bool {
	return m.Username != ""
}

// Fleet sizes the simulated device population.
type Fleet struct {
	Devices int    `toml:"devices"`
	Prefix  string `toml:"prefix"`
}

// Simulation tunes every device engine.
type Simulation struct {
	PollingIntervalSeconds int               `toml:"polling_interval_seconds"`
	AutoConfirm            bool              `toml:"auto_confirm"`
	DownloadRateMs         int               `toml:"download_rate_ms"`
	InstallDelayMs         int               `toml:"install_delay_ms"`
	ActionHistory          int               `toml:"action_history"`
	Attributes             map[string]string `toml:"attributes"`
	// ConfigDataMode is merge, replace or remove.
	ConfigDataMode string `toml:"config_data_mode"`
	// InstallCommand runs after the install delay; a non-zero exit fails the action.
	InstallCommand        string `toml:"install_command"`
	InstallTimeoutSeconds int    `toml:"install_timeout_seconds"`
}

// RateLimit caps outbound requests per server host.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Status configures the local status endpoint.
type Status struct {
	Addr string `toml:"addr"`
}

// Store configures action history retention.
type Store struct {
	Path       string `toml:"path"`
	MaxHistory int    `toml:"max_history"`
	// RetentionHours drops older history entries; 0 keeps them.
	RetentionHours int `toml:"retention_hours"`
}

// Events configures the MQTT event stream.
type Events struct {
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         int    `toml:"qos"`
}

// Enabled reports whether a broker is configured.
func (e Events) Enabled() bool {
	return e.Broker != ""
}

// Logging configures the logger package.
type Logging struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Config represents the simulator configuration.
type Config struct {
	Server     Server     `toml:"server"`
	Auth       Auth       `toml:"auth"`
	Management Management `toml:"management"`
	Fleet      Fleet      `toml:"fleet"`
	Simulation Simulation `toml:"simulation"`
	TLS        TLSConfig  `toml:"tls"`
	RateLimit  RateLimit  `toml:"rate_limit"`
	Status     Status     `toml:"status"`
	Store      Store      `toml:"store"`
	Events     Events     `toml:"events"`
	Logging    Logging    `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			URL:            "http://localhost:8080",
			Tenant:         "DEFAULT",
			TimeoutSeconds: 30,
		},
		Fleet: Fleet{
			Devices: 1,
			Prefix:  "ddi-sim",
		},
		Simulation: Simulation{
			PollingIntervalSeconds: 10,
			AutoConfirm:            true,
			DownloadRateMs:         100,
			InstallDelayMs:         2000,
			ConfigDataMode:         string(entity.ConfigDataMerge),
		},
		Store: Store{
			MaxHistory: 100,
		},
		Events: Events{
			TopicPrefix: "ddi-simulator",
			QoS:         1,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Sample returns an annotated configuration file.
func Sample() string {
	return sampleConfig
}

// Load builds a configuration from defaults, the TOML file at path (skipped
// when path is empty) and environment overrides. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strVars := map[string]*string{
		"SERVER_URL":        &c.Server.URL,
		"TENANT":            &c.Server.Tenant,
		"USERNAME":          &c.Auth.Username,
		"PASSWORD":          &c.Auth.Password,
		"GATEWAY_TOKEN":     &c.Auth.GatewayToken,
		"TARGET_TOKEN":      &c.Auth.TargetToken,
		"MGMT_URL":          &c.Management.URL,
		"MGMT_USERNAME":     &c.Management.Username,
		"MGMT_PASSWORD":     &c.Management.Password,
		"DEVICE_PREFIX":     &c.Fleet.Prefix,
		"STATUS_ADDR":       &c.Status.Addr,
		"STORE_PATH":        &c.Store.Path,
		"INSTALL_COMMAND":   &c.Simulation.InstallCommand,
		"CONFIG_DATA_MODE":  &c.Simulation.ConfigDataMode,
		"MQTT_BROKER":       &c.Events.Broker,
		"MQTT_CLIENT_ID":    &c.Events.ClientID,
		"MQTT_USERNAME":     &c.Events.Username,
		"MQTT_PASSWORD":     &c.Events.Password,
		"MQTT_TOPIC_PREFIX": &c.Events.TopicPrefix,
		"LOG_LEVEL":         &c.Logging.Level,
		"LOG_FORMAT":        &c.Logging.Format,
		"LOG_FILE":          &c.Logging.File,
		"TLS_CA_FILE":       &c.TLS.CAFile,
		"TLS_CERT_FILE":     &c.TLS.CertFile,
		"TLS_KEY_FILE":      &c.TLS.KeyFile,
		"TLS_SERVER_NAME":   &c.TLS.ServerName,
	}
	for key, dst := range strVars {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}

	intVars := map[string]*int{
		"TIMEOUT_SECONDS":  &c.Server.TimeoutSeconds,
		"DEVICES":          &c.Fleet.Devices,
		"POLLING_INTERVAL": &c.Simulation.PollingIntervalSeconds,
		"DOWNLOAD_RATE_MS": &c.Simulation.DownloadRateMs,
		"INSTALL_DELAY_MS": &c.Simulation.InstallDelayMs,
		"ACTION_HISTORY":   &c.Simulation.ActionHistory,
		"INSTALL_TIMEOUT":  &c.Simulation.InstallTimeoutSeconds,
		"RATE_LIMIT_BURST": &c.RateLimit.Burst,
		"MAX_HISTORY":      &c.Store.MaxHistory,
		"RETENTION_HOURS":  &c.Store.RetentionHours,
		"MQTT_QOS":         &c.Events.QoS,
	}
	for key, dst := range intVars {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	boolVars := map[string]*bool{
		"AUTO_CONFIRM":             &c.Simulation.AutoConfirm,
		"TLS_INSECURE_SKIP_VERIFY": &c.TLS.InsecureSkipVerify,
	}
	for key, dst := range boolVars {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	if v, ok := lookup(EnvPrefix + "RATE_LIMIT_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPS: %w", EnvPrefix, err)
		}
		c.RateLimit.RequestsPerSecond = f
	}
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.URL) == "" {
		return errors.New("server.url must be set")
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		return fmt.Errorf("server.url must be http(s): %q", c.Server.URL)
	}
	if strings.TrimSpace(c.Server.Tenant) == "" {
		return errors.New("server.tenant must be set")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return errors.New("server.timeout_seconds must be positive")
	}
	if c.Fleet.Devices <= 0 {
		return errors.New("fleet.devices must be positive")
	}
	if c.Simulation.PollingIntervalSeconds <= 0 {
		return errors.New("simulation.polling_interval_seconds must be positive")
	}
	if c.Simulation.DownloadRateMs <= 0 {
		return errors.New("simulation.download_rate_ms must be positive")
	}
	if c.Simulation.InstallDelayMs < 0 {
		return errors.New("simulation.install_delay_ms must not be negative")
	}
	if !entity.ConfigDataMode(c.Simulation.ConfigDataMode).Valid() {
		return fmt.Errorf("simulation.config_data_mode must be merge, replace or remove, got %q", c.Simulation.ConfigDataMode)
	}
	if c.Simulation.InstallTimeoutSeconds < 0 {
		return errors.New("simulation.install_timeout_seconds must not be negative")
	}
	if c.Simulation.ActionHistory < 0 {
		return errors.New("simulation.action_history must not be negative")
	}
	if c.Store.MaxHistory < 0 || c.Store.RetentionHours < 0 {
		return errors.New("store values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if c.Events.QoS < 0 || c.Events.QoS > 2 {
		return fmt.Errorf("events.qos must be 0, 1 or 2, got %d", c.Events.QoS)
	}
	if c.Fleet.Devices > 1 && c.Auth.TargetToken != "" && c.Auth.GatewayToken == "" &&
		c.Auth.Username == "" && !c.Management.Enabled() {
		return errors.New("auth.target_token identifies a single device; use a gateway token or management bootstrap for fleets")
	}
	if strings.TrimSpace(c.Fleet.Prefix) == "" && c.Store.Path != "" {
		return errors.New("fleet.prefix must be set when store.path persists history")
	}
	return c.TLS.Validate()
}

// Retention returns how long finished actions are kept, 0 meaning forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionHours) * time.Hour
}

// InstallTimeout returns the install hook timeout, 0 meaning the hook default.
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.Simulation.InstallTimeoutSeconds) * time.Second
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ManagementURL returns the management API base, defaulting to the server URL.
func (c *Config) ManagementURL() string {
	if c.Management.URL != "" {
		return c.Management.URL
	}
	return c.Server.URL
}
