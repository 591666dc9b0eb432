package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Drivers accepted by OpenSQL.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLSink stores records in an audit_records table.
type SQLSink struct {
	db     *sql.DB
	driver string
}

// OpenSQLite opens dataDir/audit.db in WAL mode, creating dataDir if needed.
func OpenSQLite(dataDir string) (*SQLSink, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("audit sqlite: data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("audit sqlite: %w", err)
	}
	return OpenSQL(DriverSQLite, filepath.Join(dataDir, "audit.db")+"?_journal_mode=WAL")
}

// OpenSQL opens a sqlite or postgres database and runs pending migrations.
func OpenSQL(driver, dsn string) (*SQLSink, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("audit sql: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit sql: open: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; concurrent workers otherwise hit SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit sql: WAL: %w", err)
		}
	}
	s := &SQLSink{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) Write(ctx context.Context, r Record) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("audit sql: encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO audit_records (id, step_id, outcome, message, fields, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
		r.ID, r.StepID, r.Outcome, r.Message, string(fields), r.Created.UnixMilli())
	if err != nil {
		return fmt.Errorf("audit sql: insert: %w", err)
	}
	return nil
}

// Prune deletes records created before before.
func (s *SQLSink) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM audit_records WHERE created_at < ?"), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit sql: prune: %w", err)
	}
	return res.RowsAffected()
}

// Recent returns up to limit records for stepID, newest first.
func (s *SQLSink) Recent(ctx context.Context, stepID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, step_id, outcome, message, fields, created_at FROM audit_records WHERE step_id = ? ORDER BY created_at DESC LIMIT ?"),
		stepID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit sql: query: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r       Record
			fields  string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.StepID, &r.Outcome, &r.Message, &fields, &created); err != nil {
			return nil, fmt.Errorf("audit sql: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, fmt.Errorf("audit sql: decode fields of %s: %w", r.ID, err)
		}
		r.Created = time.UnixMilli(created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLSink) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (s *SQLSink) migrate() error {
	if _, err := s.db.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL PRIMARY KEY)"); err != nil {
		return fmt.Errorf("migrations: create schema_version: %w", err)
	}
	current, err := s.currentVersion()
	if err != nil {
		return err
	}
	names, err := migrationNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		n, err := migrationNumber(name)
		if err != nil || n <= current {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %s: begin: %w", name, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: clear version: %w", name, err)
		}
		if _, err := tx.Exec(s.rebind("INSERT INTO schema_version (version) VALUES (?)"), n); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: set version: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s: commit: %w", name, err)
		}
	}
	return nil
}

// Version returns the applied schema version.
func (s *SQLSink) Version() (int, error) {
	return s.currentVersion()
}

func (s *SQLSink) currentVersion() (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&v)
	if err == sql.ErrNoRows || (err == nil && !v.Valid) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return int(v.Int64), nil
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func migrationNumber(name string) (int, error) {
	prefix, _, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if !ok {
		return 0, fmt.Errorf("invalid migration name %q", name)
	}
	return strconv.Atoi(prefix)
}
