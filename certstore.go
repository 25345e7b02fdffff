package sitekeeper

import (
	"fmt"
	"os"
	"path/filepath"
)

// Certificate material filenames inside a domain's certificate
// directory. The names match what acme.sh installs, so an existing
// install can be adopted in place.
const (
	keyFileName       = "key.pem"
	fullchainFileName = "fullchain.pem"
)

// CertPaths holds the on-disk locations of a domain's certificate
// material.
type CertPaths struct {
	// Key is the private key file (PEM).
	Key string `json:"key"`

	// Fullchain is the leaf certificate plus intermediates (PEM).
	Fullchain string `json:"fullchain"`
}

// CertMaterial is raw certificate material as returned by issuance,
// before installation.
type CertMaterial struct {
	Key       []byte
	Fullchain []byte
}

// CertStore reads and writes per-domain certificate material under a
// base directory. It is the ground truth for TLS state.
type CertStore struct {
	baseDir string
}

// NewCertStore creates a CertStore rooted at baseDir, creating the
// directory if needed. Files are written with mode 0600 so only the
// process owner can read private keys.
func NewCertStore(baseDir string) (*CertStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create %s: %w", baseDir, err)
	}
	return &CertStore{baseDir: baseDir}, nil
}

// Paths returns the deterministic, domain-namespaced locations for the
// domain's key and full-chain files, whether or not they exist.
func (c *CertStore) Paths(domain string) CertPaths {
	dir := filepath.Join(c.baseDir, domain)
	return CertPaths{
		Key:       filepath.Join(dir, keyFileName),
		Fullchain: filepath.Join(dir, fullchainFileName),
	}
}

// HasCertificate reports whether both key and full-chain files are
// present for domain.
func (c *CertStore) HasCertificate(domain string) bool {
	paths := c.Paths(domain)
	for _, p := range []string{paths.Key, paths.Fullchain} {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return false
		}
	}
	return true
}

// Load reads the installed material for domain. Returns
// [ErrNoCertificate] when either file is missing.
func (c *CertStore) Load(domain string) (*CertMaterial, error) {
	paths := c.Paths(domain)

	key, err := os.ReadFile(paths.Key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCertificate
		}
		return nil, fmt.Errorf("read key: %w", err)
	}
	fullchain, err := os.ReadFile(paths.Fullchain)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCertificate
		}
		return nil, fmt.Errorf("read fullchain: %w", err)
	}
	return &CertMaterial{Key: key, Fullchain: fullchain}, nil
}

// Install writes the key and full-chain files for domain, creating the
// domain directory if needed. Overwriting existing material is allowed;
// renewal depends on it.
func (c *CertStore) Install(domain string, material CertMaterial) error {
	dir := filepath.Join(c.baseDir, domain)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	paths := c.Paths(domain)
	if err := os.WriteFile(paths.Key, material.Key, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(paths.Fullchain, material.Fullchain, 0600); err != nil {
		return fmt.Errorf("write fullchain: %w", err)
	}
	return nil
}

// Remove deletes the domain's certificate directory. Removing material
// that was never installed is a no-op.
func (c *CertStore) Remove(domain string) error {
	dir := filepath.Join(c.baseDir, domain)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}
