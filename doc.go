// Package sitekeeper manages the lifecycle of nginx virtual-host
// configurations on a single host: creating, enabling, disabling, and
// deleting sites, and attaching Let's Encrypt TLS certificates.
//
// Every mutation of the live nginx configuration runs through a
// transactional protocol (backup, write, syntax check, graceful reload)
// with automatic rollback when the syntax check fails, so the running
// proxy is never left pointing at broken configuration.
//
// Site state (configured, enabled, TLS) is always derived from the
// filesystem: the sites-available directory, the sites-enabled symlink
// set, and the certificate directory. Nothing is cached.
//
// Basic usage:
//
//	cfg := sitekeeper.DefaultConfig()
//	lc, err := sitekeeper.NewLifecycle(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx := context.Background()
//
//	// Provision and enable a plain-HTTP site.
//	if err := lc.Create(ctx, "example.org", ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Obtain a certificate and switch the site to HTTPS.
//	if err := lc.ApplyTLS(ctx, "example.org"); err != nil {
//	    log.Fatal(err)
//	}
package sitekeeper
