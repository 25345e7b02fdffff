package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kasdlk/sitekeeper"
)

const usage = `Usage: sitekeeper [flags] <command> [args]

Commands:
  create <domain>    provision a site and enable it
  enable <domain>    activate an existing site
  disable <domain>   deactivate a site (config and certs are kept)
  delete <domain>    remove a site's config and certificates
  tls <domain>       obtain a certificate and switch the site to HTTPS
  renew <domain>     re-issue a site's certificate
  list               show all sites and their state
  status             show nginx service state
  history <domain>   show a site's transition journal
  serve              run the admin API and SIGHUP resync loop
  gen-config         write an example sitekeeper.yaml and exit

Flags:
`

func main() {
	var (
		configPath   = flag.String("config", "", "path to config file (default: search ./sitekeeper.yaml, ~/.sitekeeper/config.yaml, /etc/sitekeeper/config.yaml)")
		appSocket    = flag.String("app-socket", "", "unix socket for an application runtime (create only)")
		purgeDocroot = flag.Bool("purge-docroot", false, "also remove the document root (delete only)")
		timeout      = flag.Duration("timeout", 5*time.Minute, "operation timeout")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	if command == "gen-config" {
		if err := sitekeeper.WriteExampleConfig("sitekeeper.yaml"); err != nil {
			fmt.Fprintln(os.Stderr, "generate config:", err)
			os.Exit(1)
		}
		fmt.Println("Generated sitekeeper.yaml")
		return
	}

	cfg, err := sitekeeper.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()

	lc, err := sitekeeper.NewLifecycle(*cfg)
	if err != nil {
		logger.Error("initialize", "error", err)
		os.Exit(1)
	}
	defer lc.Close()
	lc.SetLogger(logger)

	metrics := sitekeeper.NewMetrics()
	lc.SetMetrics(metrics)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	domain := flag.Arg(1)
	needDomain := func() {
		if domain == "" {
			fmt.Fprintf(os.Stderr, "%s: domain argument required\n", command)
			os.Exit(2)
		}
	}

	switch command {
	case "create":
		needDomain()
		err = lc.Create(ctx, domain, *appSocket)
	case "enable":
		needDomain()
		err = lc.Enable(ctx, domain)
	case "disable":
		needDomain()
		err = lc.Disable(ctx, domain)
	case "delete":
		needDomain()
		err = lc.Delete(ctx, domain, *purgeDocroot)
	case "tls":
		needDomain()
		err = lc.ApplyTLS(ctx, domain)
	case "renew":
		needDomain()
		err = lc.RenewTLS(ctx, domain)
	case "list":
		err = printSites(lc)
	case "status":
		err = printStatus(ctx, lc)
	case "history":
		needDomain()
		err = printHistory(ctx, lc, domain)
	case "serve":
		err = serve(cfg, lc, metrics, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		var rb *sitekeeper.RollbackError
		if errors.As(err, &rb) {
			logger.Error("change rolled back, live configuration unchanged", "error", err)
		} else {
			logger.Error(command+" failed", "error", err)
		}
		os.Exit(1)
	}
}

func printSites(lc *sitekeeper.Lifecycle) error {
	sites, err := lc.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tENABLED\tTLS")
	for _, s := range sites {
		fmt.Fprintf(w, "%s\t%v\t%v\n", s.Domain, s.Enabled, s.HasTLS)
	}
	return w.Flush()
}

func printStatus(ctx context.Context, lc *sitekeeper.Lifecycle) error {
	state, err := lc.ServiceStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Println("nginx:", state)
	return nil
}

func printHistory(ctx context.Context, lc *sitekeeper.Lifecycle, domain string) error {
	recs, err := lc.History(ctx, domain, 50)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOPERATION\tOUTCOME")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.OccurredAt.Format(time.RFC3339), r.Operation, r.Outcome)
	}
	return w.Flush()
}

func serve(cfg *sitekeeper.Config, lc *sitekeeper.Lifecycle, metrics *sitekeeper.Metrics, logger *slog.Logger) error {
	api := sitekeeper.NewAdminAPI(lc)
	api.Logger = logger
	api.Metrics = metrics

	resync := sitekeeper.WatchSIGHUP(lc, logger)
	defer resync.Cancel()

	srv := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "addr", cfg.Admin.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
