package sitekeeper

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by lifecycle operations. Callers should test
// for them with [errors.Is].
var (
	// ErrInvalidDomain indicates the domain fails the hostname grammar
	// enforced by [ValidateDomain].
	ErrInvalidDomain = errors.New("sitekeeper: invalid domain name")

	// ErrSiteExists indicates a create for a domain that already has a
	// configuration file. Existing sites are never merged or overwritten.
	ErrSiteExists = errors.New("sitekeeper: site already exists")

	// ErrSiteNotFound indicates an operation on a domain with no
	// configuration file.
	ErrSiteNotFound = errors.New("sitekeeper: site not found")

	// ErrNotEnabled indicates ApplyTLS was requested for a site that is
	// not enabled. HTTP-01 validation needs a live, reachable vhost.
	ErrNotEnabled = errors.New("sitekeeper: site not enabled")

	// ErrProtectedSite indicates an attempt to disable the designated
	// default site, which must always remain enabled.
	ErrProtectedSite = errors.New("sitekeeper: default site cannot be disabled")

	// ErrTLSConfigured indicates ApplyTLS was requested for a site that
	// already has certificate material installed.
	ErrTLSConfigured = errors.New("sitekeeper: site already has TLS")

	// ErrNoCertificate indicates RenewTLS was requested for a site with
	// no installed certificate material.
	ErrNoCertificate = errors.New("sitekeeper: no certificate installed")
)

// RollbackError reports that a candidate configuration failed the nginx
// syntax check and was automatically reverted. The live configuration is
// unchanged: the failed candidate was never reloaded. The operation may
// be retried after fixing its inputs.
type RollbackError struct {
	// Target is the configuration file the transaction mutated.
	Target string

	// Restored is true when a backup was copied back over the target,
	// false when the revert removed the attempted change (e.g. an
	// activation symlink) instead.
	Restored bool

	// Err is the underlying validation failure.
	Err error
}

func (e *RollbackError) Error() string {
	if e.Restored {
		return fmt.Sprintf("sitekeeper: validation failed, restored backup of %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("sitekeeper: validation failed, reverted change to %s: %v", e.Target, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// IssuanceError reports that the ACME flow exhausted its retry budget
// for a domain. No certificate material was installed.
type IssuanceError struct {
	Domain   string
	Attempts int

	// Err is the last underlying error from the ACME client.
	Err error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("sitekeeper: certificate issuance for %s failed after %d attempts: %v", e.Domain, e.Attempts, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }
