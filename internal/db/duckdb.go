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

		`CREATE TABLE IF NOT EXISTS crates (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			fetched_at TIMESTAMP,
			processed_at TIMESTAMP,
			last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crates_name ON crates (name)`,

		// One row per rendered fragment; position keeps the crate's own order.
		`CREATE TABLE IF NOT EXISTS implementors (
			crate_id INTEGER NOT NULL REFERENCES crates(id),
			trait_path TEXT NOT NULL,
			position INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			PRIMARY KEY (crate_id, trait_path, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_implementors_trait ON implementors (trait_path)`,
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
	ID          int
	Name        string
	Version     string
	FetchedAt   *time.Time
	ProcessedAt *time.Time
	LastUsedAt  time.Time
}

const crateColumns = `id, name, version, fetched_at, processed_at, last_used_at`

func scanCrate(row interface{ Scan(...any) error }) (*Crate, error) {
	var c Crate
	if err := row.Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.ProcessedAt, &c.LastUsedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) UpsertCrate(name, version string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRow(
		`SELECT `+crateColumns+` FROM crates WHERE name = ? AND version = ?`,
		name, version,
	))
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("checking crate: %w", err)
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
	_, err := db.conn.Exec(`UPDATE crates SET fetched_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

func (db *DB) MarkCrateProcessed(crateID int) error {
	_, err := db.conn.Exec(`UPDATE crates SET processed_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

func (db *DB) TouchCrate(crateID int) error {
	_, err := db.conn.Exec(`UPDATE crates SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

// GetCrate returns nil, nil when the crate is unknown.
func (db *DB) GetCrate(name, version string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRow(
		`SELECT `+crateColumns+` FROM crates WHERE name = ? AND version = ?`,
		name, version,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetLatestCrate returns the most recently processed crate with the given name.
func (db *DB) GetLatestCrate(name string) (*Crate, error) {
	c, err := scanCrate(db.conn.QueryRow(
		`SELECT `+crateColumns+`
		 FROM crates WHERE name = ? AND processed_at IS NOT NULL
		 ORDER BY processed_at DESC, id DESC LIMIT 1`, name,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (db *DB) ListCrates() ([]Crate, error) {
	rows, err := db.conn.Query(`SELECT ` + crateColumns + ` FROM crates ORDER BY name, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		c, err := scanCrate(rows)
		if err != nil {
			return nil, err
		}
		crates = append(crates, *c)
	}
	return crates, rows.Err()
}

// --- Implementor operations ---

// latestCrates selects the most recently processed version of each crate name.
// Ties on processed_at go to the newer row.
const latestCrates = `
		WITH latest AS (
			SELECT id, name
			FROM (
				SELECT id, name, ROW_NUMBER() OVER (PARTITION BY name ORDER BY processed_at DESC, id DESC) AS rn
				FROM crates
				WHERE processed_at IS NOT NULL
			)
			WHERE rn = 1
		)`

// DeleteImplementorsByCrate drops every fragment row of a crate, ahead of re-indexing.
func (db *DB) DeleteImplementorsByCrate(crateID int) error {
	_, err := db.conn.Exec(`DELETE FROM implementors WHERE crate_id = ?`, crateID)
	return err
}

func (db *DB) InsertImplementor(crateID int, traitPath string, position int, contentHash string) error {
	_, err := db.conn.Exec(
		`INSERT INTO implementors (crate_id, trait_path, position, content_hash) VALUES (?, ?, ?, ?)`,
		crateID, traitPath, position, contentHash,
	)
	if err != nil {
		return fmt.Errorf("inserting implementor: %w", err)
	}
	return nil
}

// CrateHashes is one crate's fragment hashes for a trait, in position order.
type CrateHashes struct {
	Crate  string
	Hashes []string
}

// ImplementorHashes returns the fragment hashes recorded for a trait, grouped
// by crate name. Only the latest processed version of each crate counts.
func (db *DB) ImplementorHashes(traitPath string) ([]CrateHashes, error) {
	rows, err := db.conn.Query(latestCrates+`
		SELECT l.name, i.content_hash
		FROM implementors i JOIN latest l ON l.id = i.crate_id
		WHERE i.trait_path = ?
		ORDER BY l.name, i.position`, traitPath)
	if err != nil {
		return nil, fmt.Errorf("querying implementors: %w", err)
	}
	defer rows.Close()

	var out []CrateHashes
	for rows.Next() {
		var name, hash string
		if err := rows.Scan(&name, &hash); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].Crate != name {
			out = append(out, CrateHashes{Crate: name})
		}
		out[len(out)-1].Hashes = append(out[len(out)-1].Hashes, hash)
	}
	return out, rows.Err()
}

// TraitCount is a trait path with the number of fragments recorded for it.
type TraitCount struct {
	Trait        string
	Implementors int
	Crates       int
}

// ListTraits returns every trait with at least one implementor, sorted by path.
// Counts cover the same rows ImplementorHashes serves.
func (db *DB) ListTraits() ([]TraitCount, error) {
	rows, err := db.conn.Query(latestCrates + `
		SELECT i.trait_path, COUNT(*), COUNT(DISTINCT l.name)
		FROM implementors i JOIN latest l ON l.id = i.crate_id
		GROUP BY i.trait_path
		ORDER BY i.trait_path`)
	if err != nil {
		return nil, fmt.Errorf("listing traits: %w", err)
	}
	defer rows.Close()

	var out []TraitCount
	for rows.Next() {
		var tc TraitCount
		if err := rows.Scan(&tc.Trait, &tc.Implementors, &tc.Crates); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// CrateTraits returns the traits implemented by the latest processed version
// of a crate, sorted by path.
func (db *DB) CrateTraits(name string) ([]string, error) {
	rows, err := db.conn.Query(latestCrates+`
		SELECT DISTINCT i.trait_path
		FROM implementors i JOIN latest l ON l.id = i.crate_id
		WHERE l.name = ?
		ORDER BY i.trait_path`, name)
	if err != nil {
		return nil, fmt.Errorf("listing traits of %s: %w", name, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var trait string
		if err := rows.Scan(&trait); err != nil {
			return nil, err
		}
		out = append(out, trait)
	}
	return out, rows.Err()
}

func (db *DB) CountImplementors(crateID int) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM implementors WHERE crate_id = ?`, crateID).Scan(&count)
	return count, err
}
