package sitekeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS sites (
	domain     TEXT PRIMARY KEY,
	docroot    TEXT NOT NULL,
	app_socket TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transitions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	domain     TEXT NOT NULL,
	operation  TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_domain ON transitions(domain);
`

// SiteRecord is a registry row describing a managed site's creation
// parameters. Live state (enabled, TLS) is never stored here; it is
// always derived from the filesystem.
type SiteRecord struct {
	Domain    string    `db:"domain" json:"domain"`
	Docroot   string    `db:"docroot" json:"docroot"`
	AppSocket string    `db:"app_socket" json:"app_socket,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TransitionRecord is one journal entry: a lifecycle operation and how
// it ended.
type TransitionRecord struct {
	ID         int64     `db:"id" json:"id"`
	Domain     string    `db:"domain" json:"domain"`
	Operation  string    `db:"operation" json:"operation"`
	Outcome    string    `db:"outcome" json:"outcome"`
	Detail     string    `db:"detail" json:"detail,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// Registry persists site creation parameters and a journal of lifecycle
// transitions in a local SQLite database. It is bookkeeping only: the
// lifecycle never consults it to decide state, so a lost or stale
// database degrades history, not behavior.
type Registry struct {
	db *sqlx.DB
}

// OpenRegistry opens (creating if absent) the registry database at path
// and applies the schema. Use ":memory:" for an ephemeral registry.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}

	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close releases the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// RecordSite upserts the creation parameters for domain.
func (r *Registry) RecordSite(ctx context.Context, rec SiteRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sites (domain, docroot, app_socket, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET docroot = excluded.docroot, app_socket = excluded.app_socket`,
		rec.Domain, rec.Docroot, rec.AppSocket, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record site %s: %w", rec.Domain, err)
	}
	return nil
}

// RemoveSite deletes the registry row for domain. Removing an unknown
// domain is a no-op.
func (r *Registry) RemoveSite(ctx context.Context, domain string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sites WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("remove site %s: %w", domain, err)
	}
	return nil
}

// Site returns the registry row for domain, or ErrSiteNotFound.
func (r *Registry) Site(ctx context.Context, domain string) (*SiteRecord, error) {
	var rec SiteRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM sites WHERE domain = ?`, domain)
	if err != nil {
		return nil, ErrSiteNotFound
	}
	return &rec, nil
}

// Sites returns all registry rows ordered by domain.
func (r *Registry) Sites(ctx context.Context) ([]SiteRecord, error) {
	var recs []SiteRecord
	if err := r.db.SelectContext(ctx, &recs, `SELECT * FROM sites ORDER BY domain`); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return recs, nil
}

// LogTransition appends a journal entry.
func (r *Registry) LogTransition(ctx context.Context, rec TransitionRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transitions (domain, operation, outcome, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Domain, rec.Operation, rec.Outcome, rec.Detail, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("log transition %s %s: %w", rec.Operation, rec.Domain, err)
	}
	return nil
}

// History returns the journal for domain, newest first, capped at limit
// entries (limit <= 0 means no cap).
func (r *Registry) History(ctx context.Context, domain string, limit int) ([]TransitionRecord, error) {
	query := `SELECT * FROM transitions WHERE domain = ? ORDER BY id DESC`
	args := []any{domain}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var recs []TransitionRecord
	if err := r.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("history for %s: %w", domain, err)
	}
	return recs, nil
}
