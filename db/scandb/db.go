// Package scandb implements the sqlite3-backed persistence sink the pump
// records responses into: a single append-only table of
// {address, timestamp, response} rows.
package scandb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
)

// DB stores scan results in a sqlite3 database.
type DB struct {
	x *sqlx.DB
}

// Open opens (creating if necessary) a sqlite3 database at name and brings
// its schema up to date.
func Open(name string) (*DB, error) {
	// note: WAL and a larger cache makes our writes MUCH faster, which
	// matters here since Record is called once per retired connection.
	x, err := sqlx.Connect("sqlite3", (&url.URL{
		Path: name,
		RawQuery: (url.Values{
			"_journal":      {"WAL"},
			"_cache_size":   {"-32000"},
			"_busy_timeout": {"6000"},
		}).Encode(),
	}).String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{x}
	if _, required, err := db.Version(); err != nil {
		db.Close()
		return nil, fmt.Errorf("get schema version: %w", err)
	} else if err := db.MigrateUp(context.Background(), required); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.x.Close()
}

// Record implements the persistence sink contract the pump calls on every
// successfully parsed response: synchronous, fallible, one row per call.
func (db *DB) Record(address string, unixTime int64, payload string) error {
	if _, err := db.x.Exec(`INSERT INTO servers (address, timestamp, response) VALUES (?, ?, ?)`,
		address, unixTime, payload); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

// Row is a single persisted scan result.
type Row struct {
	Address   string `db:"address"`
	Timestamp int64  `db:"timestamp"`
	Response  string `db:"response"`
}

// LatestByAddress returns the row for address with the latest timestamp, or
// nil if none exists. Supplemental read path for the report subcommand;
// never called from the pump's hot path.
func (db *DB) LatestByAddress(address string) (*Row, error) {
	var r Row
	if err := db.x.Get(&r, `
		SELECT address, timestamp, response FROM servers
		WHERE address = ? ORDER BY timestamp DESC LIMIT 1
	`, address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// Count returns the total number of rows persisted so far.
func (db *DB) Count() (int64, error) {
	var n int64
	if err := db.x.Get(&n, `SELECT COUNT(*) FROM servers`); err != nil {
		return 0, err
	}
	return n, nil
}

// Latest returns the single row with the latest timestamp across all
// addresses, or nil if the table is empty.
func (db *DB) Latest() (*Row, error) {
	var r Row
	if err := db.x.Get(&r, `
		SELECT address, timestamp, response FROM servers
		ORDER BY timestamp DESC LIMIT 1
	`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
