package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultDBName = "docusphere.db"
	workspaceDir  = ".docusphere"
)

type Config struct {
	Workspace string
	// Driver is sqlite (default) or postgres.
	Driver string
	// DSN overrides the workspace database file for sqlite and is required
	// for postgres.
	DSN string
}

// Dialect tells the repo how to spell placeholders.
type Dialect string

const (
	SQLite   Dialect = DriverSQLite
	Postgres Dialect = DriverPostgres
)

// Rebind rewrites ? placeholders to $1..$n for postgres. Quoted literals are
// left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var (
		b      strings.Builder
		n      int
		quoted bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates the workspace data directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite runs with foreign keys on;
// postgres goes through the pgx database/sql driver.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, "", err
			}
			dsn = fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
		}
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", err
		}
		// one writer keeps compare-and-set updates serialized on sqlite
		conn.SetMaxOpenConns(1)
		return conn, SQLite, nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, "", fmt.Errorf("store.dsn is required for driver %s", DriverPostgres)
		}
		conn, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return conn, Postgres, nil
	default:
		return nil, "", fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Path returns the sqlite db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
