package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func testFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestLoadMigrations_OrdersByVersion(t *testing.T) {
	m := NewMigrator(nil, testFS(map[string]string{
		"010_views.sql":     "SELECT 10;",
		"002_billing.sql":   "SELECT 2;",
		"001_core.sql":      "SELECT 1;",
		"003_inpatient.sql": "SELECT 3;",
	}))

	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	want := []int{1, 2, 3, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_core.sql" || migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
}

func TestLoadMigrations_SkipsNonMigrations(t *testing.T) {
	m := NewMigrator(nil, testFS(map[string]string{
		"001_core.sql":    "SELECT 1;",
		"readme.sql":      "-- no version",
		"notes.txt":       "text",
		"abc_invalid.sql": "-- non-numeric",
		"sub/002_x.sql":   "SELECT 2;",
	}))

	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Version != 1 {
		t.Fatalf("expected only 001_core.sql, got %+v", migrations)
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	m := NewMigrator(nil, testFS(map[string]string{
		"001_core.sql":  "SELECT 1;",
		"001_other.sql": "SELECT 1;",
	}))
	if _, err := m.LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestLoadMigrations_Dir(t *testing.T) {
	if _, err := NewDirMigrator(nil, "/nonexistent/migrations").LoadMigrations(); err == nil {
		t.Error("expected error for missing directory")
	}

	migrations, err := NewDirMigrator(nil, t.TempDir()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestPendingAndStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_billing.sql"},
		{Version: 3, Name: "003_inpatient.sql"},
	}
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	done := map[int]time.Time{1: at}

	if got := pending(migrations, done, 0); len(got) != 2 || got[0].Version != 2 {
		t.Errorf("pending(all) = %+v", got)
	}
	if got := pending(migrations, done, 2); len(got) != 1 || got[0].Version != 2 {
		t.Errorf("pending(target 2) = %+v", got)
	}

	st := statusOf(migrations, done)
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil || st[2].Applied {
		t.Error("expected 002 and 003 pending")
	}
}
