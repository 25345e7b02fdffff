package sitekeeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// backupSuffix and backupTimeFormat define the backup naming scheme:
// "<config>.bak.<timestamp>", co-located with the original file.
// Backups are never pruned by this package; retention is the
// operator's concern.
const (
	backupSuffix     = ".bak."
	backupTimeFormat = "20060102_150405"
)

// Transaction is one unit of configuration change. Mutate performs the
// filesystem change (write a config file, toggle an activation
// symlink); it must not invoke nginx itself.
type Transaction struct {
	// Target is the configuration file being mutated. It is backed up
	// before Mutate runs if it already exists.
	Target string

	// Describe is a short human-readable label for logs.
	Describe string

	// Mutate applies the change.
	Mutate func() error

	// Revert undoes the change when validation fails. When nil, the
	// default revert restores the most recent backup of Target, or
	// removes Target entirely if the transaction created it.
	Revert func() error
}

// TransactionManager wraps every configuration mutation with the
// backup / write / validate / reload protocol. When the syntax check
// rejects the candidate configuration, the change is reverted and the
// previously-reloaded configuration stays authoritative: the bad
// candidate is never loaded into nginx.
type TransactionManager struct {
	validator Validator
	service   ServiceController
	logger    *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewTransactionManager creates a TransactionManager using the given
// validator and service controller.
func NewTransactionManager(validator Validator, service ServiceController) *TransactionManager {
	return &TransactionManager{
		validator: validator,
		service:   service,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SetLogger replaces the default logger.
func (tm *TransactionManager) SetLogger(logger *slog.Logger) {
	tm.logger = logger
}

// Apply runs tx to completion: backup, mutate, validate, reload. It is
// not cancellable mid-flight; ctx is honored between the external
// invocations but a mutation always reaches commit or rollback, never
// a half-written state.
//
// On validation (or reload) failure the change is reverted and a
// [*RollbackError] is returned. Mutation errors are surfaced as-is
// after a best-effort restore.
func (tm *TransactionManager) Apply(ctx context.Context, tx Transaction) error {
	// A transaction carrying its own Revert knows how to undo itself;
	// the file backup is only for the default restore path.
	var backup string
	if tx.Revert == nil {
		if _, err := os.Stat(tx.Target); err == nil {
			b, err := backupFile(tx.Target, tm.now())
			if err != nil {
				return fmt.Errorf("backup %s: %w", tx.Target, err)
			}
			backup = b
			tm.logger.Debug("backed up config", "target", tx.Target, "backup", backup)
		}
	}

	if err := tx.Mutate(); err != nil {
		switch {
		case tx.Revert != nil:
			if rerr := tx.Revert(); rerr != nil {
				tm.logger.Error("revert after failed mutation", "target", tx.Target, "error", rerr)
			}
		case backup != "":
			if rerr := restoreBackup(backup, tx.Target); rerr != nil {
				tm.logger.Error("restore after failed mutation", "target", tx.Target, "error", rerr)
			}
		}
		return err
	}

	if err := tm.validator.Validate(ctx); err != nil {
		tm.logger.Warn("validation failed, rolling back", "op", tx.Describe, "target", tx.Target, "error", err)
		tm.revert(tx, backup)
		return &RollbackError{Target: tx.Target, Restored: backup != "", Err: err}
	}

	if err := tm.service.Reload(ctx); err != nil {
		// The candidate passed validation but never went live; revert
		// so the next successful reload picks up known-good state.
		tm.logger.Error("reload failed, rolling back", "op", tx.Describe, "target", tx.Target, "error", err)
		tm.revert(tx, backup)
		return &RollbackError{Target: tx.Target, Restored: backup != "", Err: err}
	}

	tm.logger.Info("applied configuration change", "op", tx.Describe, "target", tx.Target)
	return nil
}

func (tm *TransactionManager) revert(tx Transaction, backup string) {
	var err error
	switch {
	case tx.Revert != nil:
		err = tx.Revert()
	case backup != "":
		err = restoreBackup(backup, tx.Target)
	default:
		// Pure creation: removing the new file restores the prior world.
		err = os.Remove(tx.Target)
	}
	if err != nil {
		tm.logger.Error("rollback failed", "op", tx.Describe, "target", tx.Target, "error", err)
	}
}

// backupFile copies target to a timestamped backup path next to it and
// returns the backup path.
func backupFile(target string, now time.Time) (string, error) {
	base := target + backupSuffix + now.Format(backupTimeFormat)
	backup := base
	for n := 1; ; n++ {
		if _, err := os.Lstat(backup); os.IsNotExist(err) {
			break
		}
		// Same-second backups get a numeric suffix that still sorts
		// after the bare timestamp.
		backup = fmt.Sprintf("%s-%d", base, n)
	}

	if err := copyFile(target, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// latestBackup returns the most recent backup path for target, if any.
func latestBackup(target string) (string, bool) {
	matches, err := matchPrefix(target + backupSuffix)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[len(matches)-1], true
}

// restoreBackup copies backup back over target.
func restoreBackup(backup, target string) error {
	return copyFile(backup, target)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// matchPrefix lists files whose path begins with prefix. Plain prefix
// matching instead of filepath.Glob: backup names are exact strings,
// not patterns.
func matchPrefix(prefix string) ([]string, error) {
	dir := filepath.Dir(prefix)
	base := filepath.Base(prefix)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) > len(base) && strings.HasPrefix(e.Name(), base) {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	return matches, nil
}
