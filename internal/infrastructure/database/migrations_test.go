package database

import (
	"context"
	"testing"
	"testing/fstest"
)

// useMigrations points the package at an in-memory migration set for the
// duration of the test.
func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = files
	MigrationsDir = "sql"
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/20260101_000000_nodes.up.sql":       {Data: []byte("CREATE TABLE nodes (id INTEGER PRIMARY KEY);")},
		"sql/20260101_000000_nodes.down.sql":     {Data: []byte("DROP TABLE nodes;")},
		"sql/20260201_000000_locations.up.sql":   {Data: []byte("ALTER TABLE nodes ADD COLUMN location TEXT NOT NULL DEFAULT '';")},
		"sql/20260201_000000_locations.down.sql": {Data: []byte("ALTER TABLE nodes DROP COLUMN location;")},
		"sql/README.md":                          {Data: []byte("not a migration")},
	}
}

func columnExists(t *testing.T, db *DB, table, column string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		t.Fatalf("pragma_table_info: %v", err)
	}
	return n > 0
}

// ─── Migrate ───────────────────────────────────────────────────────

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !columnExists(t, db, "nodes", "location") {
		t.Error("nodes.location missing after Migrate")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Fatalf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_000000" || applied[0].AppliedAt.IsZero() {
		t.Errorf("first record = %+v", applied[0])
	}

	if err := db.Migrate(ctx); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	files := testMigrations()
	files["sql/20260301_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE ((")}
	useMigrations(t, files)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() with broken migration should fail")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 || pending[0].Name != "broken" {
		t.Errorf("applied=%d pending=%+v", len(applied), pending)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if columnExists(t, db, "nodes", "location") {
		t.Error("nodes.location still present after MigrateDown")
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Version != "20260201_000000" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestMigrateDownWithoutDownSQL(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"sql/20260101_000000_nodes.up.sql": {Data: []byte("CREATE TABLE nodes (id INTEGER);")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("MigrateDown() without down SQL should fail")
	}
}

func TestMigrateWithoutSource(t *testing.T) {
	useMigrations(t, nil)
	MigrationsFS = nil
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Errorf("Migrate() with no migrations = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() with nothing applied = %v", err)
	}
}

// ─── Filenames ─────────────────────────────────────────────────────

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOK   bool
	}{
		{"20260101_000000_nodes.up.sql", migrationFile{"20260101_000000", "nodes", true}, true},
		{"20260101_000000_nodes.down.sql", migrationFile{"20260101_000000", "nodes", false}, true},
		{"20260201_000000_node_locations.up.sql", migrationFile{"20260201_000000", "node_locations", true}, true},
		{"20260101_000000.up.sql", migrationFile{"20260101_000000", "20260101_000000", true}, true},
		{"20260101_000000_nodes.sql", migrationFile{}, false},
		{"20260101.up.sql", migrationFile{}, false},
		{"README.md", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("got (%+v, %v), want (%+v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDownFileAloneIsIgnored(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"sql/20260101_000000_nodes.down.sql": {Data: []byte("DROP TABLE nodes;")},
	})
	db := openTestDB(t)

	_, pending, err := db.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %+v, want none", pending)
	}
}
