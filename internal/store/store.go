package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions (PRAGMA user_version):
//
//	0 - base tables from schema.sql
//	1 - idx_steps_flow_node: node visit counts per flow
//	2 - idx_sessions_unfinished: sessions with no recorded outcome
const currentSchemaVersion = 2

// applicationID marks a SQLite file as a storyflow trace database
// (PRAGMA application_id, "SFTR").
const applicationID = 0x53465452

var (
	// ErrNoDatabase is returned by OpenExisting when path does not exist.
	ErrNoDatabase = errors.New("trace database does not exist")

	// ErrForeignDatabase is returned for a SQLite file that another
	// application owns.
	ErrForeignDatabase = errors.New("not a storyflow trace database")

	// ErrNewerSchema is returned for a trace database written by a newer
	// storyflow.
	ErrNewerSchema = errors.New("trace database schema is newer than this build")
)

// Store records play sessions: their steps, final variables and console.
// Store implements engine.Recorder.
type Store struct {
	db *sql.DB
}

// Open creates or opens the trace database at path and brings its schema
// up to date. Opening an up-to-date database changes nothing.
//
// Recording is single-writer: the pool holds one connection, WAL lets
// trace readers run during a play, and busy_timeout absorbs a second
// process appending to the same file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenExisting opens a trace database that must already exist. Commands
// that only read traces use it so a mistyped --db is an error rather than
// a fresh empty database.
func OpenExisting(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDatabase, path)
		}
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	return Open(path)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema claims the file for storyflow, creates missing tables and
// runs pending migrations.
func applySchema(db *sql.DB) error {
	if err := claimApplicationID(db); err != nil {
		return err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// claimApplicationID stamps a new file with applicationID and rejects a
// file stamped by someone else. Files from before the stamp existed
// carry 0 and are claimed.
func claimApplicationID(db *sql.DB) error {
	var id int64
	if err := db.QueryRow("PRAGMA application_id").Scan(&id); err != nil {
		return fmt.Errorf("get application_id: %w", err)
	}
	switch id {
	case applicationID:
		return nil
	case 0:
		if _, err := db.Exec(fmt.Sprintf("PRAGMA application_id = %d", applicationID)); err != nil {
			return fmt.Errorf("set application_id: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w (application_id %#x)", ErrForeignDatabase, id)
	}
}

// runMigrations applies the migrations above user_version in order.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrNewerSchema, version, currentSchemaVersion)
	}

	migrations := []func(*sql.DB) error{migrateToV1, migrateToV2}
	for v := version; v < currentSchemaVersion; v++ {
		if err := migrations[v](db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 serves NodeVisits, which counts sessions per node of one
// flow.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_steps_flow_node
		ON steps(flow_id, node_id, session_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 serves FindUnfinishedSessions. Only sessions that never
// recorded an outcome are indexed, in listing order.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_unfinished
		ON sessions(seq, id)
		WHERE finish_seq IS NULL
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
