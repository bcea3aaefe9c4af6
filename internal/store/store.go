// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/verte-zerg/truebpm/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for preferences and share links.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS share_links (
			id INTEGER PRIMARY KEY,
			link TEXT NOT NULL,
			song TEXT NOT NULL,
			read_speed INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetPreference returns the stored value for key and whether it exists.
func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetPreference stores value under key, replacing any previous value.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// RecordLink appends a share link to the history.
func (s *Store) RecordLink(ctx context.Context, link model.ShareLink) (int64, error) {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO share_links (link, song, read_speed, created_at) VALUES (?, ?, ?, ?)`,
		link.Link, link.Song, link.ReadSpeed, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentLinks returns up to limit share links, most recently recorded first.
func (s *Store) RecentLinks(ctx context.Context, limit int) ([]model.ShareLink, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, link, song, read_speed, created_at FROM share_links
		 ORDER BY id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var links []model.ShareLink
	for rows.Next() {
		var link model.ShareLink
		var createdAt string
		if err := rows.Scan(&link.ID, &link.Link, &link.Song, &link.ReadSpeed, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("invalid share link timestamp %q: %w", createdAt, err)
		}
		link.CreatedAt = parsed
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}

// LatestLink returns the most recently recorded share link.
func (s *Store) LatestLink(ctx context.Context) (model.ShareLink, bool, error) {
	links, err := s.RecentLinks(ctx, 1)
	if err != nil {
		return model.ShareLink{}, false, err
	}
	if len(links) == 0 {
		return model.ShareLink{}, false, nil
	}
	return links[0], true, nil
}

// Preferences exposes the preference table as a key/value port.
type Preferences struct {
	store *Store
}

// Preferences returns the key/value view of the preference table.
func (s *Store) Preferences() *Preferences {
	return &Preferences{store: s}
}

// Get implements the engine's key/value port.
func (p *Preferences) Get(ctx context.Context, key string) (string, bool, error) {
	return p.store.GetPreference(ctx, key)
}

// Set implements the engine's key/value port.
func (p *Preferences) Set(ctx context.Context, key, value string) error {
	return p.store.SetPreference(ctx, key, value)
}
