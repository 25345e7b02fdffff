package sitekeeper

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SIGHUPResyncer watches for SIGHUP signals and resynchronizes derived
// site state, refreshing the site-count gauges after out-of-band edits
// to the configuration directories. Call Cancel to stop watching.
type SIGHUPResyncer struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the SIGHUP watcher.
func (r *SIGHUPResyncer) Cancel() {
	r.cancel()
	<-r.done
}

// WatchSIGHUP starts a goroutine that re-derives site state on each
// SIGHUP. The returned SIGHUPResyncer can be used to stop watching.
func WatchSIGHUP(lc *Lifecycle, logger *slog.Logger) *SIGHUPResyncer {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer close(done)
		defer signal.Stop(sigCh)

		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				logger.Info("received SIGHUP, resyncing site state...")
				sites, err := lc.List()
				if err != nil {
					logger.Error("resync failed", "error", err)
					continue
				}
				logger.Info("site state resynced", "sites", len(sites))
			}
		}
	}()

	return &SIGHUPResyncer{cancel: cancel, done: done}
}
