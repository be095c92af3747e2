package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func TestLoadMigrations(t *testing.T) {
	source := fstest.MapFS{
		"001_identity.sql":  {Data: []byte(`CREATE TABLE "user" (id BIGSERIAL PRIMARY KEY);`)},
		"002_worklists.sql": {Data: []byte("CREATE TABLE worklist (id BIGSERIAL PRIMARY KEY);")},
		"003_indexes.sql":   {Data: []byte("CREATE INDEX idx ON worklist (id);")},
	}

	migrations, err := NewMigrator(nil, source).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 {
		t.Errorf("expected version 1, got %d", migrations[0].Version)
	}
	if migrations[0].Name != "001_identity.sql" {
		t.Errorf("expected name 001_identity.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != `CREATE TABLE "user" (id BIGSERIAL PRIMARY KEY);` {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	source := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, source).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	expectedVersions := []int{1, 2, 5, 10}
	if len(migrations) != len(expectedVersions) {
		t.Fatalf("expected %d migrations, got %d", len(expectedVersions), len(migrations))
	}
	for i, expected := range expectedVersions {
		if migrations[i].Version != expected {
			t.Errorf("migration[%d]: expected version %d, got %d", i, expected, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsInvalidFilenames(t *testing.T) {
	source := fstest.MapFS{
		"001_valid.sql":      {Data: []byte("SELECT 1;")},
		"readme.sql":         {Data: []byte("-- no version prefix")},
		"notes.txt":          {Data: []byte("not sql")},
		"abc_invalid.sql":    {Data: []byte("-- non-numeric prefix")},
		"002_also_valid.sql": {Data: []byte("SELECT 2;")},
		"sub/003_nested.sql": {Data: []byte("SELECT 3;")},
	}

	migrations, err := NewMigrator(nil, source).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("unexpected versions: %d, %d", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DirFS(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_identity.sql"), []byte("SELECT 1;"), 0644); err != nil {
		t.Fatalf("write migration: %v", err)
	}

	migrations, err := NewMigrator(nil, os.DirFS(dir)).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_identity.sql" {
		t.Errorf("unexpected migrations: %+v", migrations)
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, os.DirFS("/nonexistent/path/that/does/not/exist")).LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestEnsureMigrationsTable_InvalidSchema(t *testing.T) {
	err := NewMigrator(nil, fstest.MapFS{}).EnsureMigrationsTable(context.Background(), "public; DROP TABLE x")
	if err == nil {
		t.Error("expected error for invalid schema")
	}
}

func twoMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_identity.sql":  {Data: []byte("CREATE TABLE users (id INT);")},
		"002_worklists.sql": {Data: []byte("CREATE TABLE worklists (id INT);")},
	}
}

func newMockMigrator(t *testing.T) (*Migrator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewMigrator(mock, twoMigrations()), mock
}

func expectApplied(mock pgxmock.PgxPoolIface, versions ...int) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS app\._migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	rows := pgxmock.NewRows([]string{"version", "applied_at"})
	for _, v := range versions {
		rows.AddRow(v, time.Date(2024, 1, v, 0, 0, 0, 0, time.UTC))
	}
	mock.ExpectQuery(`SELECT version, applied_at FROM app\._migrations`).WillReturnRows(rows)
}

func TestUp_AppliesOnlyPending(t *testing.T) {
	m, mock := newMockMigrator(t)
	expectApplied(mock, 1)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL search_path TO app, public`).WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec(`CREATE TABLE worklists`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec(`INSERT INTO _migrations`).
		WithArgs(2, "002_worklists.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	count, err := m.Up(context.Background(), "app")
	if err != nil {
		t.Fatalf("Up() error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 applied migration, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUp_StopsAtFailure(t *testing.T) {
	m, mock := newMockMigrator(t)
	expectApplied(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec(`CREATE TABLE users`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	count, err := m.Up(context.Background(), "app")
	if err == nil {
		t.Fatal("expected error from failing migration")
	}
	if count != 0 {
		t.Errorf("expected nothing applied, got %d", count)
	}
	if !strings.Contains(err.Error(), "001_identity.sql") {
		t.Errorf("expected failing file in error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStatus_MarksApplied(t *testing.T) {
	m, mock := newMockMigrator(t)
	expectApplied(mock, 1)

	statuses, err := m.Status(context.Background(), "app")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || statuses[0].AppliedAt.Day() != 1 {
		t.Errorf("expected version 1 applied, got %+v", statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected version 2 pending, got %+v", statuses[1])
	}
}
