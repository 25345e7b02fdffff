package sitekeeper

import (
	"regexp"
	"time"
)

// domainPattern accepts DNS hostnames: dot-separated labels of letters,
// digits, and hyphens, with a trailing TLD of at least two letters.
// Single-label names ("localhost") are rejected; a vhost needs a
// resolvable public name before a certificate can ever be issued for it.
var domainPattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// ValidateDomain reports whether name is an acceptable site domain.
// Returns [ErrInvalidDomain] when it is not.
func ValidateDomain(name string) error {
	if len(name) == 0 || len(name) > 253 {
		return ErrInvalidDomain
	}
	if !domainPattern.MatchString(name) {
		return ErrInvalidDomain
	}
	return nil
}

// SiteState is the derived state of one domain, computed from the
// filesystem at query time.
type SiteState struct {
	// Domain is the site's DNS hostname.
	Domain string `json:"domain"`

	// Configured is true when a configuration file exists in the
	// sites-available directory.
	Configured bool `json:"configured"`

	// Enabled is true when the sites-enabled symlink exists and resolves
	// to the site's configuration file.
	Enabled bool `json:"enabled"`

	// HasTLS is true when both key and full-chain certificate files are
	// installed for the domain.
	HasTLS bool `json:"has_tls"`
}

// Operation names used in lifecycle events, metrics, and the journal.
const (
	OpCreate   = "create"
	OpEnable   = "enable"
	OpDisable  = "disable"
	OpDelete   = "delete"
	OpApplyTLS = "apply_tls"
	OpRenewTLS = "renew_tls"
)

// Outcome values for lifecycle events.
const (
	OutcomeOK       = "ok"
	OutcomeRollback = "rollback"
	OutcomeError    = "error"
)

// Event describes one completed lifecycle transition. An event is
// emitted for every mutating operation, whether it succeeded or not.
type Event struct {
	Domain    string `json:"domain"`
	Operation string `json:"operation"`

	// Outcome is "ok", "rollback" (validation failed and the change was
	// reverted), or "error".
	Outcome string `json:"outcome"`

	// Err is the failure, nil on success.
	Err error `json:"-"`

	Time time.Time `json:"time"`
}
