package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"sessions", "steps", "console", "session_variables"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.expected); err != nil {
			t.Error(err)
		}
	}
}

func TestSchema_StepsColumns(t *testing.T) {
	s := createTestStore(t)

	cols := getTableColumns(t, s.db, "steps")
	for _, want := range []string{"session_id", "seq", "step", "flow_id", "node_id", "outcome", "variables_digest", "response_id"} {
		if !contains(cols, want) {
			t.Errorf("steps missing column %q, have %v", want, cols)
		}
	}
}

func TestSchema_ForeignKeyEnforced(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO steps (session_id, seq, step, flow_id, node_id, outcome, variables_digest)
		VALUES ('ghost', 1, 1, 'f', 'n', 'ok', 'd')
	`)
	if err == nil {
		t.Error("expected foreign key violation for step without session")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_IndexesExist(t *testing.T) {
	s := createTestStore(t)

	if indexes := getTableIndexes(t, s.db, "steps"); !contains(indexes, "idx_steps_flow_node") {
		t.Errorf("steps table missing idx_steps_flow_node, indexes: %v", indexes)
	}
	if indexes := getTableIndexes(t, s.db, "sessions"); !contains(indexes, "idx_sessions_unfinished") {
		t.Errorf("sessions table missing idx_sessions_unfinished, indexes: %v", indexes)
	}
}

// seedSchema writes the base tables at the given user_version without
// running migrations.
func seedSchema(t *testing.T, path string, version int) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
}

func TestMigration_Upgrade(t *testing.T) {
	for _, from := range []int{0, 1} {
		t.Run(fmt.Sprintf("from v%d", from), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")
			seedSchema(t, path, from)

			s, err := Open(path)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			defer s.Close()

			if err := s.verifyPragma("user_version", fmt.Sprint(currentSchemaVersion)); err != nil {
				t.Error(err)
			}
			if !contains(getTableIndexes(t, s.db, "sessions"), "idx_sessions_unfinished") {
				t.Error("migration did not create idx_sessions_unfinished")
			}
			if err := s.verifyPragma("application_id", fmt.Sprint(applicationID)); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	seedSchema(t, path, currentSchemaVersion+1)

	_, err := Open(path)
	if !errors.Is(err, ErrNewerSchema) {
		t.Fatalf("Open() error = %v, want ErrNewerSchema", err)
	}
}

func TestOpen_RejectsForeignDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec("PRAGMA application_id = 42"); err != nil {
		t.Fatalf("failed to set application_id: %v", err)
	}
	db.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrForeignDatabase) {
		t.Fatalf("Open() error = %v, want ErrForeignDatabase", err)
	}
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.db")

	_, err := OpenExisting(path)
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("OpenExisting() on missing file: error = %v, want ErrNoDatabase", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("OpenExisting() created the missing database")
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.Close()

	s, err = OpenExisting(path)
	if err != nil {
		t.Fatalf("OpenExisting() failed: %v", err)
	}
	s.Close()
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s): %v", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		cols = append(cols, name)
	}
	return cols
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_index_list(?)", table)
	if err != nil {
		t.Fatalf("index_list(%s): %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
