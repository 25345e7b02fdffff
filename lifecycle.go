package sitekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// welcomePage is written into a fresh document root so the new vhost
// answers with something other than a 403 before content is deployed.
const welcomePage = `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%s</h1>
<p>This site is up and running.</p>
</body>
</html>
`

var (
	rootDirective    = regexp.MustCompile(`(?m)^\s*root\s+([^;]+);`)
	fastcgiDirective = regexp.MustCompile(`fastcgi_pass\s+unix:([^;]+);`)
	sslDirective     = regexp.MustCompile(`(?m)^\s*ssl_certificate\s`)
)

// Lifecycle orchestrates site state transitions. Every mutation flows
// through the [TransactionManager], so a change that fails nginx's
// syntax check (or the subsequent reload) is rolled back and never
// becomes live.
//
// Site state is always derived from the filesystem at query time; the
// registry and metrics are observers, never inputs.
type Lifecycle struct {
	store   *ConfigStore
	certs   *CertStore
	issuer  Issuer
	tx      *TransactionManager
	service ServiceController

	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger

	webRoot     string
	defaultSite string

	onTransition func(Event)
	now          func() time.Time
}

// NewLifecycle wires a Lifecycle from configuration: stores over the
// configured directories, nginx -t validation, systemctl-driven
// reloads, and an ACME issuer when an account email is configured.
// The registry is opened when a path is configured; without one,
// history is simply not kept.
func NewLifecycle(cfg Config) (*Lifecycle, error) {
	store, err := NewConfigStore(cfg.Paths.Available, cfg.Paths.Enabled)
	if err != nil {
		return nil, err
	}
	certs, err := NewCertStore(cfg.Paths.Certificates)
	if err != nil {
		return nil, err
	}

	service := &SystemdController{Service: cfg.Nginx.Service}
	tx := NewTransactionManager(&NginxValidator{Binary: cfg.Nginx.Binary}, service)

	lc := &Lifecycle{
		store:       store,
		certs:       certs,
		tx:          tx,
		service:     service,
		logger:      slog.Default(),
		webRoot:     cfg.Paths.WebRoot,
		defaultSite: cfg.Nginx.DefaultSite,
		now:         time.Now,
	}

	if cfg.ACME.Email != "" {
		issuer, err := NewACMEIssuer(cfg.ACME)
		if err != nil {
			return nil, err
		}
		lc.issuer = issuer
	}

	if cfg.Registry.Path != "" {
		reg, err := OpenRegistry(cfg.Registry.Path)
		if err != nil {
			return nil, err
		}
		lc.registry = reg
	}

	return lc, nil
}

// SetLogger replaces the default logger here and on the transaction
// manager.
func (l *Lifecycle) SetLogger(logger *slog.Logger) {
	l.logger = logger
	l.tx.SetLogger(logger)
}

// SetMetrics attaches a metrics sink.
func (l *Lifecycle) SetMetrics(m *Metrics) {
	l.metrics = m
}

// OnTransition registers a callback invoked after every mutating
// operation, successful or not. At most one callback is supported.
func (l *Lifecycle) OnTransition(fn func(Event)) {
	l.onTransition = fn
}

// Close releases the registry, if one is open.
func (l *Lifecycle) Close() error {
	if l.registry != nil {
		return l.registry.Close()
	}
	return nil
}

// Create provisions a new site: document root with a placeholder page,
// a plaintext vhost configuration, and an activation symlink, then
// validates and reloads. On validation failure both the configuration
// file and the symlink are removed, leaving no trace.
//
// appSocket optionally points at a unix socket for an application
// runtime; it adds a FastCGI location to the rendered vhost.
func (l *Lifecycle) Create(ctx context.Context, domain, appSocket string) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	if l.store.Exists(domain) {
		return ErrSiteExists
	}

	docroot := filepath.Join(l.webRoot, domain)
	if err := l.provisionDocroot(docroot, domain); err != nil {
		return err
	}

	body, err := RenderVHost(VHost{Domain: domain, DocumentRoot: docroot, AppSocket: appSocket})
	if err != nil {
		return err
	}

	err = l.tx.Apply(ctx, Transaction{
		Target:   l.store.Path(domain),
		Describe: "create " + domain,
		Mutate: func() error {
			if err := l.store.Write(domain, body); err != nil {
				return err
			}
			return l.store.Enable(domain)
		},
		Revert: func() error {
			if err := l.store.Disable(domain); err != nil {
				return err
			}
			return os.Remove(l.store.Path(domain))
		},
	})
	l.emit(ctx, OpCreate, domain, err)
	if err != nil {
		return err
	}

	if l.registry != nil {
		rec := SiteRecord{Domain: domain, Docroot: docroot, AppSocket: appSocket, CreatedAt: l.now().UTC()}
		if rerr := l.registry.RecordSite(ctx, rec); rerr != nil {
			l.logger.Warn("registry record failed", "domain", domain, "error", rerr)
		}
	}
	return nil
}

// checkDomain applies the hostname grammar, exempting the configured
// default site so the stock single-label fallback ("default") stays
// addressable for queries and re-enabling.
func (l *Lifecycle) checkDomain(domain string) error {
	if domain != "" && domain == l.defaultSite {
		return nil
	}
	return ValidateDomain(domain)
}

// Enable activates an existing site. Enabling an enabled site is a
// no-op and emits no event.
func (l *Lifecycle) Enable(ctx context.Context, domain string) error {
	if err := l.checkDomain(domain); err != nil {
		return err
	}
	if !l.store.Exists(domain) {
		return ErrSiteNotFound
	}
	if l.store.IsEnabled(domain) {
		return nil
	}

	err := l.tx.Apply(ctx, Transaction{
		Target:   l.store.Path(domain),
		Describe: "enable " + domain,
		Mutate:   func() error { return l.store.Enable(domain) },
		Revert:   func() error { return l.store.Disable(domain) },
	})
	l.emit(ctx, OpEnable, domain, err)
	return err
}

// Disable deactivates a site without touching its configuration file,
// document root, or certificates. The designated default site is
// protected and cannot be disabled. Disabling a disabled site is a
// no-op.
func (l *Lifecycle) Disable(ctx context.Context, domain string) error {
	if domain == l.defaultSite && domain != "" {
		return ErrProtectedSite
	}
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	if !l.store.Exists(domain) {
		return ErrSiteNotFound
	}
	if !l.store.IsEnabled(domain) {
		return nil
	}

	err := l.tx.Apply(ctx, Transaction{
		Target:   l.store.Path(domain),
		Describe: "disable " + domain,
		Mutate:   func() error { return l.store.Disable(domain) },
		Revert:   func() error { return l.store.Enable(domain) },
	})
	l.emit(ctx, OpDisable, domain, err)
	return err
}

// Delete removes a site's configuration, activation symlink, and
// certificate material. A timestamped backup of the configuration file
// is left behind. The document root is preserved unless purgeDocroot
// is set. The default site cannot be deleted.
func (l *Lifecycle) Delete(ctx context.Context, domain string, purgeDocroot bool) error {
	if domain == l.defaultSite && domain != "" {
		return ErrProtectedSite
	}
	if err := ValidateDomain(domain); err != nil {
		return err
	}

	content, err := l.store.Read(domain)
	if err != nil {
		return err
	}
	wasEnabled := l.store.IsEnabled(domain)

	if _, err := backupFile(l.store.Path(domain), l.now()); err != nil {
		return fmt.Errorf("backup before delete: %w", err)
	}

	err = l.tx.Apply(ctx, Transaction{
		Target:   l.store.Path(domain),
		Describe: "delete " + domain,
		Mutate:   func() error { return l.store.Delete(domain) },
		Revert: func() error {
			if err := l.store.Write(domain, content); err != nil {
				return err
			}
			if wasEnabled {
				return l.store.Enable(domain)
			}
			return nil
		},
	})
	l.emit(ctx, OpDelete, domain, err)
	if err != nil {
		return err
	}

	if cerr := l.certs.Remove(domain); cerr != nil {
		l.logger.Warn("certificate cleanup failed", "domain", domain, "error", cerr)
	}
	if purgeDocroot {
		docroot := filepath.Join(l.webRoot, domain)
		if derr := os.RemoveAll(docroot); derr != nil {
			l.logger.Warn("docroot purge failed", "domain", domain, "error", derr)
		}
	}
	if l.registry != nil {
		if rerr := l.registry.RemoveSite(ctx, domain); rerr != nil {
			l.logger.Warn("registry remove failed", "domain", domain, "error", rerr)
		}
	}
	return nil
}

// ApplyTLS upgrades an enabled plaintext site to TLS: obtain a
// certificate over HTTP-01 against the site's document root, install
// it, and rewrite the vhost to redirect plaintext traffic and present
// the certificate.
//
// The site must be enabled (the challenge needs a live vhost) and must
// not already serve TLS. If a previous attempt installed certificate
// material but failed before the configuration went live, the retry
// skips issuance and reuses the installed material.
//
// On validation or reload failure the pre-TLS configuration is
// restored; installed certificate material is kept for the retry.
func (l *Lifecycle) ApplyTLS(ctx context.Context, domain string) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	content, err := l.store.Read(domain)
	if err != nil {
		return err
	}
	if !l.store.IsEnabled(domain) {
		return ErrNotEnabled
	}
	if sslDirective.MatchString(content) {
		return ErrTLSConfigured
	}
	if l.issuer == nil {
		return errors.New("sitekeeper: no ACME issuer configured (set acme.email)")
	}

	docroot, appSocket := parseVHost(content)
	if docroot == "" {
		return fmt.Errorf("sitekeeper: no root directive in configuration for %s", domain)
	}

	if !l.certs.HasCertificate(domain) {
		material, ierr := l.issuer.Issue(ctx, domain, docroot)
		if l.metrics != nil {
			l.metrics.ObserveIssuance(ierr != nil)
		}
		if ierr != nil {
			l.emit(ctx, OpApplyTLS, domain, ierr)
			return ierr
		}
		if err := l.certs.Install(domain, *material); err != nil {
			l.emit(ctx, OpApplyTLS, domain, err)
			return err
		}
	} else {
		l.logger.Info("reusing installed certificate", "domain", domain)
	}

	paths := l.certs.Paths(domain)
	body, err := RenderVHost(VHost{
		Domain:       domain,
		DocumentRoot: docroot,
		AppSocket:    appSocket,
		TLS:          &paths,
	})
	if err != nil {
		return err
	}

	err = l.tx.Apply(ctx, Transaction{
		Target:   l.store.Path(domain),
		Describe: "apply TLS to " + domain,
		Mutate:   func() error { return l.store.Write(domain, body) },
	})
	l.emit(ctx, OpApplyTLS, domain, err)
	return err
}

// RenewTLS re-issues the certificate for a site that already serves
// TLS. The configuration file is untouched (certificate paths are
// stable across renewals), but the swap still runs through the
// transactional protocol: install, syntax check, graceful reload. A
// failed check reinstalls the previous material, so a corrupt renewal
// never reaches a reload.
func (l *Lifecycle) RenewTLS(ctx context.Context, domain string) error {
	if err := ValidateDomain(domain); err != nil {
		return err
	}
	content, err := l.store.Read(domain)
	if err != nil {
		return err
	}
	if !l.store.IsEnabled(domain) {
		return ErrNotEnabled
	}
	if l.issuer == nil {
		return errors.New("sitekeeper: no ACME issuer configured (set acme.email)")
	}

	prior, err := l.certs.Load(domain)
	if err != nil {
		return err
	}

	docroot, _ := parseVHost(content)
	if docroot == "" {
		return fmt.Errorf("sitekeeper: no root directive in configuration for %s", domain)
	}

	material, ierr := l.issuer.Renew(ctx, domain, docroot)
	if l.metrics != nil {
		l.metrics.ObserveIssuance(ierr != nil)
	}
	if ierr != nil {
		l.emit(ctx, OpRenewTLS, domain, ierr)
		return ierr
	}

	err = l.tx.Apply(ctx, Transaction{
		Target:   l.store.Path(domain),
		Describe: "renew certificate for " + domain,
		Mutate:   func() error { return l.certs.Install(domain, *material) },
		Revert:   func() error { return l.certs.Install(domain, *prior) },
	})
	l.emit(ctx, OpRenewTLS, domain, err)
	return err
}

// State derives the current state of domain from the filesystem. A
// domain with no configuration file yields a zero state, not an error.
func (l *Lifecycle) State(domain string) (SiteState, error) {
	if err := l.checkDomain(domain); err != nil {
		return SiteState{}, err
	}
	return SiteState{
		Domain:     domain,
		Configured: l.store.Exists(domain),
		Enabled:    l.store.IsEnabled(domain),
		HasTLS:     l.certs.HasCertificate(domain),
	}, nil
}

// List derives the state of every configured site and refreshes the
// site-count gauges.
func (l *Lifecycle) List() ([]SiteState, error) {
	domains, err := l.store.List()
	if err != nil {
		return nil, err
	}

	// A default site with a single-label name fails the hostname
	// grammar and is filtered by the store's listing; surface it here.
	// A grammar-valid default site is already in the listing.
	if l.defaultSite != "" && ValidateDomain(l.defaultSite) != nil && l.store.Exists(l.defaultSite) {
		domains = append(domains, l.defaultSite)
		sort.Strings(domains)
	}

	states := make([]SiteState, 0, len(domains))
	var enabled, tls int
	for _, d := range domains {
		st := SiteState{
			Domain:     d,
			Configured: true,
			Enabled:    l.store.IsEnabled(d),
			HasTLS:     l.certs.HasCertificate(d),
		}
		if st.Enabled {
			enabled++
		}
		if st.HasTLS {
			tls++
		}
		states = append(states, st)
	}

	if l.metrics != nil {
		l.metrics.SetSiteCounts(len(states), enabled, tls)
	}
	return states, nil
}

// History returns the transition journal for domain, newest first.
// Without a registry the history is empty.
func (l *Lifecycle) History(ctx context.Context, domain string, limit int) ([]TransitionRecord, error) {
	if l.registry == nil {
		return nil, nil
	}
	return l.registry.History(ctx, domain, limit)
}

// ServiceStatus reports the nginx unit's activation state.
func (l *Lifecycle) ServiceStatus(ctx context.Context) (string, error) {
	return l.service.Status(ctx)
}

// provisionDocroot creates the document root and drops a placeholder
// index page if none exists. An existing docroot with content is left
// alone.
func (l *Lifecycle) provisionDocroot(docroot, domain string) error {
	if err := os.MkdirAll(docroot, 0755); err != nil {
		return fmt.Errorf("create docroot %s: %w", docroot, err)
	}
	index := filepath.Join(docroot, "index.html")
	if _, err := os.Stat(index); err == nil {
		return nil
	}
	page := fmt.Sprintf(welcomePage, domain, domain)
	if err := os.WriteFile(index, []byte(page), 0644); err != nil {
		return fmt.Errorf("write placeholder page: %w", err)
	}
	return nil
}

func (l *Lifecycle) emit(ctx context.Context, operation, domain string, opErr error) {
	outcome := OutcomeOK
	detail := ""
	var rb *RollbackError
	switch {
	case opErr == nil:
		// Every successful mutation ends in a graceful reload.
		if l.metrics != nil {
			l.metrics.ObserveReload()
		}
	case errors.As(opErr, &rb):
		outcome = OutcomeRollback
		detail = opErr.Error()
	default:
		outcome = OutcomeError
		detail = opErr.Error()
	}

	ev := Event{Domain: domain, Operation: operation, Outcome: outcome, Err: opErr, Time: l.now().UTC()}

	if opErr == nil {
		l.logger.Info("lifecycle transition", "op", operation, "domain", domain, "outcome", outcome)
	} else {
		l.logger.Error("lifecycle transition", "op", operation, "domain", domain, "outcome", outcome, "error", opErr)
	}
	if l.metrics != nil {
		l.metrics.ObserveOperation(operation, outcome)
	}
	if l.registry != nil {
		rec := TransitionRecord{
			Domain:     domain,
			Operation:  operation,
			Outcome:    outcome,
			Detail:     detail,
			OccurredAt: ev.Time,
		}
		if err := l.registry.LogTransition(ctx, rec); err != nil {
			l.logger.Warn("journal write failed", "domain", domain, "error", err)
		}
	}
	if l.onTransition != nil {
		l.onTransition(ev)
	}
}

// parseVHost pulls the document root and optional FastCGI socket out of
// a rendered vhost body. These are re-derived from the live file rather
// than the registry so a hand-edited root is respected.
func parseVHost(content string) (docroot, appSocket string) {
	if m := rootDirective.FindStringSubmatch(content); m != nil {
		docroot = strings.TrimSpace(m[1])
	}
	if m := fastcgiDirective.FindStringSubmatch(content); m != nil {
		appSocket = strings.TrimSpace(m[1])
	}
	return docroot, appSocket
}
