// Package store persists the HTTP payload cache and the saved user
// location in a local sqlite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Devinfern/sanghos-sub004/internal/model"
)

// ErrNotFound is returned when a cache entry or saved location is absent.
var ErrNotFound = errors.New("store: not found")

// CachedPayload is the last successfully fetched body for a source,
// together with the validators needed for conditional requests.
type CachedPayload struct {
	SourceID     string
	URL          string
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open initializes the sqlite database at baseDir/sanghos.db, creating the
// directory and schema as needed. baseDir lets tests use t.TempDir().
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create base directory: %w", err)
	}

	dbPath := filepath.Join(baseDir, "sanghos.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0o600)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS payload_cache (
	  source_id     TEXT PRIMARY KEY,
	  url           TEXT NOT NULL,
	  etag          TEXT NOT NULL DEFAULT '',
	  last_modified TEXT NOT NULL DEFAULT '',
	  body          BLOB NOT NULL,
	  updated_at    INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS user_location (
	  id         INTEGER PRIMARY KEY CHECK (id = 1),
	  lat        REAL NOT NULL,
	  lng        REAL NOT NULL,
	  address    TEXT NOT NULL DEFAULT '',
	  updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SavePayload upserts the cached body and validators for a source.
func (s *Store) SavePayload(p CachedPayload) error {
	_, err := s.db.Exec(`
		INSERT INTO payload_cache (source_id, url, etag, last_modified, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
		  url = excluded.url,
		  etag = excluded.etag,
		  last_modified = excluded.last_modified,
		  body = excluded.body,
		  updated_at = excluded.updated_at`,
		p.SourceID, p.URL, p.ETag, p.LastModified, p.Body, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store: save payload for %s: %w", p.SourceID, err)
	}
	return nil
}

// LoadPayload returns the cached payload for a source, or ErrNotFound.
func (s *Store) LoadPayload(sourceID string) (CachedPayload, error) {
	var p CachedPayload
	var updated int64
	err := s.db.QueryRow(`
		SELECT source_id, url, etag, last_modified, body, updated_at
		FROM payload_cache WHERE source_id = ?`, sourceID).
		Scan(&p.SourceID, &p.URL, &p.ETag, &p.LastModified, &p.Body, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedPayload{}, ErrNotFound
	}
	if err != nil {
		return CachedPayload{}, fmt.Errorf("store: load payload for %s: %w", sourceID, err)
	}
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	return p, nil
}

// SaveLocation persists the user's last known location preference.
func (s *Store) SaveLocation(loc model.UserLocation) error {
	_, err := s.db.Exec(`
		INSERT INTO user_location (id, lat, lng, address, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  lat = excluded.lat,
		  lng = excluded.lng,
		  address = excluded.address,
		  updated_at = excluded.updated_at`,
		loc.Coordinates.Lat, loc.Coordinates.Lng, loc.Address, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store: save location: %w", err)
	}
	return nil
}

// LoadLocation returns the saved user location, or ErrNotFound.
func (s *Store) LoadLocation() (model.UserLocation, error) {
	var loc model.UserLocation
	err := s.db.QueryRow(`SELECT lat, lng, address FROM user_location WHERE id = 1`).
		Scan(&loc.Coordinates.Lat, &loc.Coordinates.Lng, &loc.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserLocation{}, ErrNotFound
	}
	if err != nil {
		return model.UserLocation{}, fmt.Errorf("store: load location: %w", err)
	}
	return loc, nil
}
