package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_crate_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_fragment_id START 1;`,

		`CREATE TABLE IF NOT EXISTS crates (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			fetched_at TIMESTAMP,
			last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crates_name ON crates (name)`,

		`CREATE TABLE IF NOT EXISTS fragments (
			seq BIGINT PRIMARY KEY,
			source TEXT NOT NULL,
			name TEXT NOT NULL,
			format TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			entries INTEGER NOT NULL,
			received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fragments_hash ON fragments (content_hash)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Crate operations ---

type Crate struct {
	ID         int
	Name       string
	Version    string
	FetchedAt  *time.Time
	LastUsedAt time.Time
}

func (db *DB) UpsertCrate(name, version string) (*Crate, error) {
	c, err := db.GetCrate(name, version)
	if err != nil {
		return nil, fmt.Errorf("checking crate: %w", err)
	}
	if c != nil {
		return c, nil
	}

	_, err = db.conn.Exec(
		`INSERT INTO crates (id, name, version) VALUES (nextval('seq_crate_id'), ?, ?)`,
		name, version,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting crate: %w", err)
	}

	var id int
	if err := db.conn.QueryRow("SELECT currval('seq_crate_id')").Scan(&id); err != nil {
		return nil, fmt.Errorf("getting crate id: %w", err)
	}

	return &Crate{ID: id, Name: name, Version: version, LastUsedAt: time.Now()}, nil
}

func (db *DB) MarkCrateFetched(crateID int) error {
	_, err := db.conn.Exec(`UPDATE crates SET fetched_at = CURRENT_TIMESTAMP, last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

func (db *DB) GetCrate(name, version string) (*Crate, error) {
	var c Crate
	err := db.conn.QueryRow(
		`SELECT id, name, version, fetched_at, last_used_at FROM crates WHERE name = ? AND version = ?`,
		name, version,
	).Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) ListCrates() ([]Crate, error) {
	rows, err := db.conn.Query(`SELECT id, name, version, fetched_at, last_used_at FROM crates ORDER BY name, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		var c Crate
		if err := rows.Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.LastUsedAt); err != nil {
			return nil, err
		}
		crates = append(crates, c)
	}
	return crates, rows.Err()
}

// --- Fragment journal ---

// Fragment is one journaled submission. The raw bytes live in the CAS under
// ContentHash.
type Fragment struct {
	Seq         int64
	Source      string
	Name        string
	Format      string
	ContentHash string
	Entries     int
	ReceivedAt  time.Time
}

// AppendFragment journals a submission and fills in its sequence number.
func (db *DB) AppendFragment(f *Fragment) error {
	err := db.conn.QueryRow(
		`INSERT INTO fragments (seq, source, name, format, content_hash, entries)
		 VALUES (nextval('seq_fragment_id'), ?, ?, ?, ?, ?)
		 RETURNING seq, received_at`,
		f.Source, f.Name, f.Format, f.ContentHash, f.Entries,
	).Scan(&f.Seq, &f.ReceivedAt)
	if err != nil {
		return fmt.Errorf("inserting fragment: %w", err)
	}
	return nil
}

// HasFragment reports whether identical bytes under the same name were
// already journaled.
func (db *DB) HasFragment(name, contentHash string) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM fragments WHERE name = ? AND content_hash = ?`, name, contentHash,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking fragment: %w", err)
	}
	return count > 0, nil
}

// ListFragments returns the journal in submission order.
func (db *DB) ListFragments() ([]Fragment, error) {
	rows, err := db.conn.Query(
		`SELECT seq, source, name, format, content_hash, entries, received_at FROM fragments ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing fragments: %w", err)
	}
	defer rows.Close()

	var frags []Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.Seq, &f.Source, &f.Name, &f.Format, &f.ContentHash, &f.Entries, &f.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scanning fragment: %w", err)
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}

func (db *DB) CountFragments() (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM fragments`).Scan(&count)
	return count, err
}

// ClearFragments empties the journal and the crate fetch log.
func (db *DB) ClearFragments() error {
	for _, q := range []string{`DELETE FROM fragments`, `DELETE FROM crates`} {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}
