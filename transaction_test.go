package sitekeeper

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeValidator struct {
	err   error
	calls int
}

func (f *fakeValidator) Validate(ctx context.Context) error {
	f.calls++
	return f.err
}

type fakeService struct {
	reloadErr error
	reloads   int
	restarts  int
	state     string
}

func (f *fakeService) Reload(ctx context.Context) error {
	f.reloads++
	return f.reloadErr
}

func (f *fakeService) Restart(ctx context.Context) error {
	f.restarts++
	return nil
}

func (f *fakeService) Status(ctx context.Context) (string, error) {
	if f.state == "" {
		return "active", nil
	}
	return f.state, nil
}

func newTestTM(t *testing.T) (*TransactionManager, *fakeValidator, *fakeService) {
	t.Helper()
	v := &fakeValidator{}
	svc := &fakeService{}
	tm := NewTransactionManager(v, svc)
	tm.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	return tm, v, svc
}

func TestApplyCommits(t *testing.T) {
	tm, v, svc := newTestTM(t)
	target := filepath.Join(t.TempDir(), "example.com")

	err := tm.Apply(context.Background(), Transaction{
		Target:   target,
		Describe: "write config",
		Mutate:   func() error { return os.WriteFile(target, []byte("good"), 0644) },
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if v.calls != 1 {
		t.Errorf("validator calls = %d, want 1", v.calls)
	}
	if svc.reloads != 1 {
		t.Errorf("reloads = %d, want 1", svc.reloads)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != "good" {
		t.Errorf("target content = %q, want %q", got, "good")
	}
}

func TestApplyValidationFailureRestoresBackup(t *testing.T) {
	tm, v, svc := newTestTM(t)
	target := filepath.Join(t.TempDir(), "example.com")

	if err := os.WriteFile(target, []byte("known-good"), 0644); err != nil {
		t.Fatalf("seed target: %v", err)
	}
	v.err = errors.New("nginx: [emerg] unexpected end of file")

	err := tm.Apply(context.Background(), Transaction{
		Target:   target,
		Describe: "write broken config",
		Mutate:   func() error { return os.WriteFile(target, []byte("broken"), 0644) },
	})

	var rb *RollbackError
	if !errors.As(err, &rb) {
		t.Fatalf("Apply = %v, want *RollbackError", err)
	}
	if !rb.Restored {
		t.Error("Restored = false, want true")
	}
	if !errors.Is(err, v.err) {
		t.Error("RollbackError should wrap the validation failure")
	}
	if svc.reloads != 0 {
		t.Errorf("reloads = %d, want 0 (failed candidate must never be loaded)", svc.reloads)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(got) != "known-good" {
		t.Errorf("target content = %q, want restored %q", got, "known-good")
	}

	// The backup file itself survives the restore.
	backup, ok := latestBackup(target)
	if !ok {
		t.Fatal("no backup found after rollback")
	}
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "known-good" {
		t.Errorf("backup content = %q, want %q", data, "known-good")
	}
}

func TestApplyValidationFailureRemovesCreation(t *testing.T) {
	tm, v, _ := newTestTM(t)
	target := filepath.Join(t.TempDir(), "example.com")
	v.err = errors.New("bad config")

	err := tm.Apply(context.Background(), Transaction{
		Target:   target,
		Describe: "create config",
		Mutate:   func() error { return os.WriteFile(target, []byte("new"), 0644) },
	})

	var rb *RollbackError
	if !errors.As(err, &rb) {
		t.Fatalf("Apply = %v, want *RollbackError", err)
	}
	if rb.Restored {
		t.Error("Restored = true for a pure creation")
	}

	if _, serr := os.Stat(target); !errors.Is(serr, fs.ErrNotExist) {
		t.Error("created file should be removed after rollback")
	}
}

func TestApplyReloadFailureRollsBack(t *testing.T) {
	tm, _, svc := newTestTM(t)
	target := filepath.Join(t.TempDir(), "example.com")

	if err := os.WriteFile(target, []byte("known-good"), 0644); err != nil {
		t.Fatalf("seed target: %v", err)
	}
	svc.reloadErr = errors.New("systemctl: job failed")

	err := tm.Apply(context.Background(), Transaction{
		Target:   target,
		Describe: "write config",
		Mutate:   func() error { return os.WriteFile(target, []byte("candidate"), 0644) },
	})

	var rb *RollbackError
	if !errors.As(err, &rb) {
		t.Fatalf("Apply = %v, want *RollbackError", err)
	}

	got, rerr := os.ReadFile(target)
	if rerr != nil {
		t.Fatalf("read target: %v", rerr)
	}
	if string(got) != "known-good" {
		t.Errorf("target content = %q, want restored %q", got, "known-good")
	}
}

func TestApplyCustomRevert(t *testing.T) {
	tm, v, _ := newTestTM(t)
	target := filepath.Join(t.TempDir(), "example.com")
	v.err = errors.New("bad config")

	reverted := false
	err := tm.Apply(context.Background(), Transaction{
		Target:   target,
		Describe: "toggle link",
		Mutate:   func() error { return nil },
		Revert:   func() error { reverted = true; return nil },
	})

	var rb *RollbackError
	if !errors.As(err, &rb) {
		t.Fatalf("Apply = %v, want *RollbackError", err)
	}
	if !reverted {
		t.Error("custom Revert was not called")
	}
	if rb.Restored {
		t.Error("Restored = true for a custom revert")
	}
}

func TestApplyMutationFailure(t *testing.T) {
	tm, v, svc := newTestTM(t)
	target := filepath.Join(t.TempDir(), "example.com")

	if err := os.WriteFile(target, []byte("known-good"), 0644); err != nil {
		t.Fatalf("seed target: %v", err)
	}

	boom := errors.New("disk full")
	err := tm.Apply(context.Background(), Transaction{
		Target:   target,
		Describe: "write config",
		Mutate: func() error {
			if werr := os.WriteFile(target, []byte("torn"), 0644); werr != nil {
				return werr
			}
			return boom
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Apply = %v, want the mutation error as-is", err)
	}
	if v.calls != 0 {
		t.Error("validator should not run after a failed mutation")
	}
	if svc.reloads != 0 {
		t.Error("no reload after a failed mutation")
	}

	got, rerr := os.ReadFile(target)
	if rerr != nil {
		t.Fatalf("read target: %v", rerr)
	}
	if string(got) != "known-good" {
		t.Errorf("target content = %q, want restored %q", got, "known-good")
	}
}

func TestBackupFileCollision(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "example.com")
	if err := os.WriteFile(target, []byte("v1"), 0644); err != nil {
		t.Fatalf("seed target: %v", err)
	}

	ts := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	first, err := backupFile(target, ts)
	if err != nil {
		t.Fatalf("first backup: %v", err)
	}

	if err := os.WriteFile(target, []byte("v2"), 0644); err != nil {
		t.Fatalf("rewrite target: %v", err)
	}
	second, err := backupFile(target, ts)
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	if first == second {
		t.Fatal("same-second backups must not collide")
	}

	// The newest backup wins the latestBackup lookup.
	latest, ok := latestBackup(target)
	if !ok {
		t.Fatal("latestBackup found nothing")
	}
	if latest != second {
		t.Errorf("latestBackup = %q, want %q", latest, second)
	}
	data, err := os.ReadFile(latest)
	if err != nil {
		t.Fatalf("read latest backup: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("latest backup content = %q, want %q", data, "v2")
	}
}
