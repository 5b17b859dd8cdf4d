package db

import (
	"path/filepath"
	"testing"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		dialect Dialect
		in      string
		want    string
	}{
		{SQLite, `SELECT * FROM tasks WHERE id=? AND phase_id=?`, `SELECT * FROM tasks WHERE id=? AND phase_id=?`},
		{Postgres, `SELECT * FROM tasks WHERE id=? AND phase_id=?`, `SELECT * FROM tasks WHERE id=$1 AND phase_id=$2`},
		{Postgres, `UPDATE tasks SET notes='why?' WHERE id=?`, `UPDATE tasks SET notes='why?' WHERE id=$1`},
		{Postgres, `SELECT 1`, `SELECT 1`},
	}
	for _, tc := range cases {
		if got := tc.dialect.Rebind(tc.in); got != tc.want {
			t.Fatalf("%s Rebind(%q) = %q, want %q", tc.dialect, tc.in, got, tc.want)
		}
	}
}

func TestOpenSQLiteWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, dialect, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if dialect != SQLite {
		t.Fatalf("expected sqlite dialect, got %s", dialect)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if got, want := Path(dir), filepath.Join(dir, ".docusphere", "docusphere.db"); got != want {
		t.Fatalf("path %s, want %s", got, want)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, _, err := Open(Config{Driver: DriverPostgres}); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}
