package sitekeeper

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete sitekeeper configuration.
type Config struct {
	// Paths to the managed directories
	Paths PathsConfig `mapstructure:"paths"`

	// Nginx binary and service settings
	Nginx NginxConfig `mapstructure:"nginx"`

	// ACME / Let's Encrypt settings
	ACME ACMEConfig `mapstructure:"acme"`

	// Registry database settings
	Registry RegistryConfig `mapstructure:"registry"`

	// Admin API settings (serve mode)
	Admin AdminConfig `mapstructure:"admin"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// PathsConfig locates the directories this tool manages. The defaults
// match a stock Debian/Ubuntu nginx install.
type PathsConfig struct {
	// Available is the sites-available directory: one configuration
	// file per domain.
	Available string `mapstructure:"available"`

	// Enabled is the sites-enabled directory: one symlink per enabled
	// domain, pointing at the corresponding available file.
	Enabled string `mapstructure:"enabled"`

	// WebRoot is the base directory for document roots; each site gets
	// a subdirectory named after its domain.
	WebRoot string `mapstructure:"web_root"`

	// Certificates is the base directory for installed certificate
	// material; each domain gets a subdirectory holding key.pem and
	// fullchain.pem.
	Certificates string `mapstructure:"certificates"`
}

// NginxConfig contains nginx binary and service-control settings.
type NginxConfig struct {
	// Binary is the nginx executable used for syntax validation.
	Binary string `mapstructure:"binary"`

	// Service is the systemd unit name used for reload/restart/status.
	Service string `mapstructure:"service"`

	// DefaultSite is the protected fallback site. Disabling it is
	// always rejected; it must remain enabled to catch unmatched hosts.
	DefaultSite string `mapstructure:"default_site"`
}

// ACMEConfig contains certificate issuance settings.
type ACMEConfig struct {
	// Email is the address registered with the ACME account. The CA
	// sends expiration warnings here. Required for ApplyTLS.
	Email string `mapstructure:"email"`

	// CA is the ACME directory URL. Defaults to Let's Encrypt
	// production; use the staging URL during testing to avoid rate
	// limits.
	CA string `mapstructure:"ca"`

	// KeyType selects the certificate key algorithm: "ec256", "ec384",
	// "rsa2048", or "rsa4096". Defaults to "ec256".
	KeyType string `mapstructure:"key_type"`

	// AcceptTOS must be true to indicate acceptance of the CA's Terms
	// of Service.
	AcceptTOS bool `mapstructure:"accept_tos"`

	// Attempts is the issuance retry budget. Transient DNS propagation
	// or challenge-path races resolve within a few retries; anything
	// beyond that is a real failure.
	Attempts int `mapstructure:"attempts"`

	// Backoff is the fixed delay between issuance attempts.
	Backoff time.Duration `mapstructure:"backoff"`
}

// RegistryConfig contains site-registry database settings.
type RegistryConfig struct {
	// Path is the sqlite database file holding site metadata and the
	// transition journal. Empty disables the registry.
	Path string `mapstructure:"path"`
}

// AdminConfig contains admin API settings for serve mode.
type AdminConfig struct {
	// Addr is the listen address for the admin HTTP API.
	Addr string `mapstructure:"addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format is the log format: text, json
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			Available:    "/etc/nginx/sites-available",
			Enabled:      "/etc/nginx/sites-enabled",
			WebRoot:      "/var/www",
			Certificates: "/etc/nginx/ssl",
		},
		Nginx: NginxConfig{
			Binary:      "nginx",
			Service:     "nginx",
			DefaultSite: "default",
		},
		ACME: ACMEConfig{
			CA:       "https://acme-v02.api.letsencrypt.org/directory",
			KeyType:  "ec256",
			Attempts: 3,
			Backoff:  10 * time.Second,
		},
		Registry: RegistryConfig{
			Path: "/var/lib/sitekeeper/registry.db",
		},
		Admin: AdminConfig{
			Addr: "127.0.0.1:8525",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// It searches for config files in the following order:
// 1. Explicit path (if provided)
// 2. ./sitekeeper.yaml
// 3. $HOME/.sitekeeper/sitekeeper.yaml
// 4. /etc/sitekeeper/sitekeeper.yaml
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("sitekeeper")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.sitekeeper")
	v.AddConfigPath("/etc/sitekeeper")

	v.SetEnvPrefix("SITEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found is OK - use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromReader loads configuration from raw bytes.
// Useful for testing or embedded configs.
func LoadConfigFromReader(configType string, data []byte) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	v.SetConfigType(configType)

	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("paths.available", defaults.Paths.Available)
	v.SetDefault("paths.enabled", defaults.Paths.Enabled)
	v.SetDefault("paths.web_root", defaults.Paths.WebRoot)
	v.SetDefault("paths.certificates", defaults.Paths.Certificates)

	v.SetDefault("nginx.binary", defaults.Nginx.Binary)
	v.SetDefault("nginx.service", defaults.Nginx.Service)
	v.SetDefault("nginx.default_site", defaults.Nginx.DefaultSite)

	v.SetDefault("acme.ca", defaults.ACME.CA)
	v.SetDefault("acme.key_type", defaults.ACME.KeyType)
	v.SetDefault("acme.attempts", defaults.ACME.Attempts)
	v.SetDefault("acme.backoff", defaults.ACME.Backoff)

	v.SetDefault("registry.path", defaults.Registry.Path)

	v.SetDefault("admin.addr", defaults.Admin.Addr)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
}

// NewLogger builds a slog.Logger from the logging configuration.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Logging.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// WriteExampleConfig writes an example configuration file.
func WriteExampleConfig(path string) error {
	example := `# sitekeeper - nginx virtual host manager configuration

paths:
  # One configuration file per domain
  available: "/etc/nginx/sites-available"

  # One activation symlink per enabled domain
  enabled: "/etc/nginx/sites-enabled"

  # Document roots live in <web_root>/<domain>
  web_root: "/var/www"

  # Certificates live in <certificates>/<domain>/{key.pem,fullchain.pem}
  certificates: "/etc/nginx/ssl"

nginx:
  # Binary used for "nginx -t" syntax validation
  binary: "nginx"

  # systemd unit for reload/restart/status
  service: "nginx"

  # The fallback site that can never be disabled
  default_site: "default"

acme:
  # Account email (required before applying TLS)
  email: ""

  # ACME directory URL. Use the staging URL while testing:
  # https://acme-staging-v02.api.letsencrypt.org/directory
  ca: "https://acme-v02.api.letsencrypt.org/directory"

  # Certificate key type: ec256, ec384, rsa2048, rsa4096
  key_type: "ec256"

  # Set to true to accept the CA's Terms of Service
  accept_tos: false

  # Issuance retry budget and fixed delay between attempts
  attempts: 3
  backoff: 10s

registry:
  # sqlite database for site metadata and the transition journal.
  # Leave empty to disable.
  path: "/var/lib/sitekeeper/registry.db"

admin:
  # Listen address for "sitekeeper serve"
  addr: "127.0.0.1:8525"

logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log format: text, json
  format: "text"
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
