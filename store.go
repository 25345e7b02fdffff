package sitekeeper

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ConfigStore reads and writes virtual-host configuration files and the
// sites-enabled symlink set. It is the ground truth for site state: every
// query re-reads the filesystem, nothing is cached.
//
// ConfigStore never invokes nginx. Validation and reload belong to
// [TransactionManager]; ConfigStore only moves bytes and symlinks.
type ConfigStore struct {
	availableDir string
	enabledDir   string
}

// NewConfigStore creates a ConfigStore over the given sites-available
// and sites-enabled directories. Both directories are created if they
// do not exist.
func NewConfigStore(availableDir, enabledDir string) (*ConfigStore, error) {
	for _, dir := range []string{availableDir, enabledDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &ConfigStore{
		availableDir: availableDir,
		enabledDir:   enabledDir,
	}, nil
}

// Path returns the configuration file path for domain, whether or not
// the file exists.
func (s *ConfigStore) Path(domain string) string {
	return filepath.Join(s.availableDir, domain)
}

// enabledPath returns the activation symlink path for domain.
func (s *ConfigStore) enabledPath(domain string) string {
	return filepath.Join(s.enabledDir, domain)
}

// Exists reports whether a configuration file exists for domain.
func (s *ConfigStore) Exists(domain string) bool {
	info, err := os.Stat(s.Path(domain))
	return err == nil && info.Mode().IsRegular()
}

// IsEnabled reports whether the activation symlink for domain exists
// and resolves to the domain's configuration file. A dangling or
// mispointed link counts as disabled.
func (s *ConfigStore) IsEnabled(domain string) bool {
	link := s.enabledPath(domain)
	if _, err := os.Readlink(link); err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		// Dangling symlink.
		return false
	}
	want, err := filepath.EvalSymlinks(s.Path(domain))
	if err != nil {
		return false
	}
	return resolved == want
}

// Write atomically replaces the configuration file for domain: the
// content is written to a temp file in the same directory and renamed
// over the target, so a crash mid-write never leaves a torn file.
func (s *ConfigStore) Write(domain, content string) error {
	target := s.Path(domain)

	tmp, err := os.CreateTemp(s.availableDir, domain+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Read returns the configuration file content for domain. Returns
// [ErrSiteNotFound] when no configuration file exists.
func (s *ConfigStore) Read(domain string) (string, error) {
	data, err := os.ReadFile(s.Path(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrSiteNotFound
		}
		return "", fmt.Errorf("read %s: %w", s.Path(domain), err)
	}
	return string(data), nil
}

// Enable creates the activation symlink for domain. Enabling an
// already-enabled site is a no-op. Returns [ErrSiteNotFound] if no
// configuration file exists: an activation marker may never reference
// a non-existent configuration.
func (s *ConfigStore) Enable(domain string) error {
	if !s.Exists(domain) {
		return ErrSiteNotFound
	}
	if s.IsEnabled(domain) {
		return nil
	}

	link := s.enabledPath(domain)

	// Replace a stale or mispointed link rather than failing on it.
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove stale link %s: %w", link, err)
		}
	}

	if err := os.Symlink(s.Path(domain), link); err != nil {
		return fmt.Errorf("enable %s: %w", domain, err)
	}
	return nil
}

// Disable removes the activation symlink for domain. Disabling an
// already-disabled site is a no-op.
func (s *ConfigStore) Disable(domain string) error {
	link := s.enabledPath(domain)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("disable %s: %w", domain, err)
	}
	return nil
}

// Delete removes the configuration file and the activation symlink for
// domain. Returns [ErrSiteNotFound] when no configuration file exists.
// Document roots and certificates are not touched; those belong to the
// caller and [CertStore].
func (s *ConfigStore) Delete(domain string) error {
	if !s.Exists(domain) {
		return ErrSiteNotFound
	}
	if err := s.Disable(domain); err != nil {
		return err
	}
	if err := os.Remove(s.Path(domain)); err != nil {
		return fmt.Errorf("delete %s: %w", domain, err)
	}
	return nil
}

// List returns the domains that have a configuration file, sorted.
// Backup files and temp files are skipped.
func (s *ConfigStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.availableDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.availableDir, err)
	}

	var domains []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ValidateDomain(name) != nil {
			// Not a managed vhost file (backups, "default", temp files).
			continue
		}
		domains = append(domains, name)
	}
	sort.Strings(domains)
	return domains, nil
}
