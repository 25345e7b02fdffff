package sitekeeper

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Path defaults match a stock Debian/Ubuntu nginx install
	if cfg.Paths.Available != "/etc/nginx/sites-available" {
		t.Errorf("paths.available = %s", cfg.Paths.Available)
	}
	if cfg.Paths.Enabled != "/etc/nginx/sites-enabled" {
		t.Errorf("paths.enabled = %s", cfg.Paths.Enabled)
	}
	if cfg.Paths.WebRoot != "/var/www" {
		t.Errorf("paths.web_root = %s", cfg.Paths.WebRoot)
	}
	if cfg.Paths.Certificates != "/etc/nginx/ssl" {
		t.Errorf("paths.certificates = %s", cfg.Paths.Certificates)
	}

	// Nginx defaults
	if cfg.Nginx.Binary != "nginx" {
		t.Errorf("nginx.binary = %s", cfg.Nginx.Binary)
	}
	if cfg.Nginx.Service != "nginx" {
		t.Errorf("nginx.service = %s", cfg.Nginx.Service)
	}
	if cfg.Nginx.DefaultSite != "default" {
		t.Errorf("nginx.default_site = %s", cfg.Nginx.DefaultSite)
	}

	// ACME defaults
	if cfg.ACME.CA != "https://acme-v02.api.letsencrypt.org/directory" {
		t.Errorf("acme.ca = %s", cfg.ACME.CA)
	}
	if cfg.ACME.KeyType != "ec256" {
		t.Errorf("acme.key_type = %s", cfg.ACME.KeyType)
	}
	if cfg.ACME.Attempts != 3 {
		t.Errorf("acme.attempts = %d", cfg.ACME.Attempts)
	}
	if cfg.ACME.Backoff != 10*time.Second {
		t.Errorf("acme.backoff = %v", cfg.ACME.Backoff)
	}
	if cfg.ACME.AcceptTOS {
		t.Error("acme.accept_tos should default to false")
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("logging.level = %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("logging.format = %s", cfg.Logging.Format)
	}
}

func TestLoadConfigFromReader(t *testing.T) {
	yaml := `
paths:
  available: "/srv/nginx/sites-available"
  enabled: "/srv/nginx/sites-enabled"
  web_root: "/srv/www"

nginx:
  binary: "/usr/local/sbin/nginx"
  default_site: "catchall"

acme:
  email: "ops@example.com"
  ca: "https://acme-staging-v02.api.letsencrypt.org/directory"
  accept_tos: true
  attempts: 5
  backoff: 30s

logging:
  level: "debug"
  format: "json"
`

	cfg, err := LoadConfigFromReader("yaml", []byte(yaml))
	if err != nil {
		t.Fatalf("LoadConfigFromReader: %v", err)
	}

	if cfg.Paths.Available != "/srv/nginx/sites-available" {
		t.Errorf("paths.available = %s", cfg.Paths.Available)
	}
	if cfg.Paths.WebRoot != "/srv/www" {
		t.Errorf("paths.web_root = %s", cfg.Paths.WebRoot)
	}
	if cfg.Nginx.Binary != "/usr/local/sbin/nginx" {
		t.Errorf("nginx.binary = %s", cfg.Nginx.Binary)
	}
	if cfg.Nginx.DefaultSite != "catchall" {
		t.Errorf("nginx.default_site = %s", cfg.Nginx.DefaultSite)
	}
	if cfg.ACME.Email != "ops@example.com" {
		t.Errorf("acme.email = %s", cfg.ACME.Email)
	}
	if !cfg.ACME.AcceptTOS {
		t.Error("acme.accept_tos = false")
	}
	if cfg.ACME.Attempts != 5 {
		t.Errorf("acme.attempts = %d", cfg.ACME.Attempts)
	}
	if cfg.ACME.Backoff != 30*time.Second {
		t.Errorf("acme.backoff = %v", cfg.ACME.Backoff)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %s", cfg.Logging.Level)
	}

	// Values absent from the file fall back to defaults.
	if cfg.Paths.Certificates != "/etc/nginx/ssl" {
		t.Errorf("paths.certificates = %s, want default", cfg.Paths.Certificates)
	}
	if cfg.Nginx.Service != "nginx" {
		t.Errorf("nginx.service = %s, want default", cfg.Nginx.Service)
	}
}

func TestLoadConfigFromReaderInvalid(t *testing.T) {
	if _, err := LoadConfigFromReader("yaml", []byte("paths: [not a map")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestWriteExampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sitekeeper.yaml")

	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("WriteExampleConfig: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	// The example file mirrors the defaults.
	def := DefaultConfig()
	if cfg.Paths.Available != def.Paths.Available {
		t.Errorf("paths.available = %s, want %s", cfg.Paths.Available, def.Paths.Available)
	}
	if cfg.Nginx.DefaultSite != def.Nginx.DefaultSite {
		t.Errorf("nginx.default_site = %s, want %s", cfg.Nginx.DefaultSite, def.Nginx.DefaultSite)
	}
	if cfg.ACME.Backoff != def.ACME.Backoff {
		t.Errorf("acme.backoff = %v, want %v", cfg.ACME.Backoff, def.ACME.Backoff)
	}
	if cfg.Admin.Addr != def.Admin.Addr {
		t.Errorf("admin.addr = %s, want %s", cfg.Admin.Addr, def.Admin.Addr)
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		cfg := &Config{Logging: LoggingConfig{Level: level, Format: "text"}}
		if cfg.NewLogger() == nil {
			t.Errorf("NewLogger returned nil for level %q", level)
		}
	}

	cfg := &Config{Logging: LoggingConfig{Level: "info", Format: "json"}}
	if cfg.NewLogger() == nil {
		t.Error("NewLogger returned nil for json format")
	}
}
