package sitekeeper

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Validator checks the full nginx configuration tree for syntax errors.
// Implementations return nil when the configuration is loadable and an
// error carrying the diagnostic text when it is not.
type Validator interface {
	Validate(ctx context.Context) error
}

// ServiceController controls the nginx service. Reload must be
// graceful: established connections are never dropped. Restart may drop
// them and exists for the rare case where reload cannot apply a change.
type ServiceController interface {
	Reload(ctx context.Context) error
	Restart(ctx context.Context) error
	Status(ctx context.Context) (string, error)
}

// NginxValidator validates configuration by running "nginx -t".
// Only the exit status matters; stderr is attached to the returned
// error for the operator, never parsed.
type NginxValidator struct {
	// Binary is the nginx executable. Defaults to "nginx".
	Binary string
}

// Validate runs the syntax check against the live configuration tree.
func (v *NginxValidator) Validate(ctx context.Context) error {
	binary := v.Binary
	if binary == "" {
		binary = "nginx"
	}
	return runCommand(ctx, binary, "-t")
}

// SystemdController drives the nginx service through systemctl.
type SystemdController struct {
	// Service is the unit name. Defaults to "nginx".
	Service string
}

func (s *SystemdController) unit() string {
	if s.Service == "" {
		return "nginx"
	}
	return s.Service
}

// Reload triggers a graceful configuration reload. Worker processes
// finish their in-flight requests on the old configuration.
func (s *SystemdController) Reload(ctx context.Context) error {
	return runCommand(ctx, "systemctl", "reload", s.unit())
}

// Restart performs a full service restart, dropping connections.
func (s *SystemdController) Restart(ctx context.Context) error {
	return runCommand(ctx, "systemctl", "restart", s.unit())
}

// Status returns the unit's current activation state ("active",
// "inactive", "failed", ...).
func (s *SystemdController) Status(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", s.unit()).Output()
	state := strings.TrimSpace(string(out))
	if state == "" && err != nil {
		return "", fmt.Errorf("systemctl is-active %s: %w", s.unit(), err)
	}
	// is-active exits non-zero for any state other than "active"; the
	// state string is still the answer.
	return state, nil
}

// runCommand executes a command and converts a non-zero exit into an
// error carrying the captured stderr.
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := strings.TrimSpace(stderr.String())
		if diag != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, diag)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}
