package migrate

import (
	"context"
	"testing"

	"github.com/rmarronnier/docusphere-sub011/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, conn, dialect); err != nil {
			t.Fatalf("migrate pass %d: %v", i+1, err)
		}
	}
	v, err := Version(ctx, conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected schema version 1, got %d", v)
	}
	for _, table := range []string{"projects", "phases", "tasks", "milestones", "stakeholders", "permits", "workflow_transitions", "events"} {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			t.Fatalf("table %s: %v", table, err)
		}
	}
}

func TestBothDialectsShipMigrations(t *testing.T) {
	sqlite, err := loadMigrations(db.SQLite)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	pg, err := loadMigrations(db.Postgres)
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	if len(sqlite) == 0 || len(sqlite) != len(pg) {
		t.Fatalf("dialects out of step: sqlite=%d postgres=%d", len(sqlite), len(pg))
	}
	for i := range sqlite {
		if sqlite[i].Version != pg[i].Version {
			t.Fatalf("version mismatch at %d: %d vs %d", i, sqlite[i].Version, pg[i].Version)
		}
	}
}

func TestStatements(t *testing.T) {
	got := statements("-- header\nCREATE TABLE a(\n  id TEXT\n);\n\nCREATE INDEX i ON a(id);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "CREATE INDEX i ON a(id);" {
		t.Fatalf("unexpected statement %q", got[1])
	}
}
