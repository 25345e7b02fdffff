package sitekeeper

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *ConfigStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewConfigStore(filepath.Join(dir, "sites-available"), filepath.Join(dir, "sites-enabled"))
	if err != nil {
		t.Fatalf("NewConfigStore: %v", err)
	}
	return store
}

func TestConfigStoreWriteRead(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("example.com", "server {}\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !store.Exists("example.com") {
		t.Error("Exists = false after Write")
	}

	got, err := store.Read("example.com")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "server {}\n" {
		t.Errorf("Read = %q, want %q", got, "server {}\n")
	}
}

func TestConfigStoreReadMissing(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Read("missing.example.com"); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("Read missing = %v, want ErrSiteNotFound", err)
	}
}

func TestConfigStoreWriteOverwrites(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("example.com", "old\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write("example.com", "new\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read("example.com")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "new\n" {
		t.Errorf("Read = %q, want %q", got, "new\n")
	}
}

func TestConfigStoreEnableDisable(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("example.com", "server {}\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if store.IsEnabled("example.com") {
		t.Error("IsEnabled = true before Enable")
	}

	if err := store.Enable("example.com"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !store.IsEnabled("example.com") {
		t.Error("IsEnabled = false after Enable")
	}

	// Enabling twice is a no-op.
	if err := store.Enable("example.com"); err != nil {
		t.Fatalf("second Enable: %v", err)
	}

	if err := store.Disable("example.com"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if store.IsEnabled("example.com") {
		t.Error("IsEnabled = true after Disable")
	}

	// Disabling twice is a no-op.
	if err := store.Disable("example.com"); err != nil {
		t.Fatalf("second Disable: %v", err)
	}
}

func TestConfigStoreEnableMissing(t *testing.T) {
	store := newTestStore(t)

	if err := store.Enable("missing.example.com"); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("Enable missing = %v, want ErrSiteNotFound", err)
	}
}

func TestConfigStoreDanglingLink(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("example.com", "server {}\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Enable("example.com"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// Remove the target out from under the link.
	if err := os.Remove(store.Path("example.com")); err != nil {
		t.Fatalf("remove config: %v", err)
	}

	if store.IsEnabled("example.com") {
		t.Error("dangling symlink should count as disabled")
	}
}

func TestConfigStoreEnableReplacesStaleLink(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("example.com", "server {}\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Plant a mispointed link where the activation symlink belongs.
	link := store.enabledPath("example.com")
	if err := os.Symlink("/nonexistent/target", link); err != nil {
		t.Fatalf("plant stale link: %v", err)
	}
	if store.IsEnabled("example.com") {
		t.Fatal("mispointed link should count as disabled")
	}

	if err := store.Enable("example.com"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !store.IsEnabled("example.com") {
		t.Error("IsEnabled = false after replacing stale link")
	}
}

func TestConfigStoreDelete(t *testing.T) {
	store := newTestStore(t)

	if err := store.Write("example.com", "server {}\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Enable("example.com"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if err := store.Delete("example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists("example.com") {
		t.Error("Exists = true after Delete")
	}
	if store.IsEnabled("example.com") {
		t.Error("IsEnabled = true after Delete")
	}

	if err := store.Delete("example.com"); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("second Delete = %v, want ErrSiteNotFound", err)
	}
}

func TestConfigStoreList(t *testing.T) {
	store := newTestStore(t)

	for _, d := range []string{"b.example.com", "a.example.com", "c.example.com"} {
		if err := store.Write(d, "server {}\n"); err != nil {
			t.Fatalf("Write %s: %v", d, err)
		}
	}

	// Files that are not managed vhosts must be skipped.
	for _, name := range []string{"default", "a.example.com.bak.20260101_000000"} {
		path := filepath.Join(store.availableDir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	got, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	want := []string{"a.example.com", "b.example.com", "c.example.com"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
