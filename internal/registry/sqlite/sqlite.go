package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keithk/siteherd/internal/registry"
)

// DB implements registry.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	d.SetMaxOpenConns(1)
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processes(
			id TEXT PRIMARY KEY,
			site TEXT NOT NULL,
			port INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			type TEXT NOT NULL,
			script TEXT NOT NULL,
			cwd TEXT NOT NULL,
			start_time TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_processes_site ON processes(site);`,
		`CREATE INDEX IF NOT EXISTS idx_processes_status ON processes(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Save(ctx context.Context, e registry.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processes(id, site, port, pid, type, script, cwd, start_time, status, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			site=excluded.site, port=excluded.port, pid=excluded.pid,
			type=excluded.type, script=excluded.script, cwd=excluded.cwd,
			start_time=excluded.start_time, status=excluded.status,
			updated_at=excluded.updated_at;`,
		e.ID, e.Site, e.Port, e.PID, e.Type, e.Script, e.Cwd,
		e.StartTime.UTC(), string(e.Status), time.Now().UTC())
	return err
}

func (s *DB) Get(ctx context.Context, id string) (registry.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site, port, pid, type, script, cwd, start_time, status
		FROM processes WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Entry{}, false, nil
	}
	if err != nil {
		return registry.Entry{}, false, err
	}
	return e, true, nil
}

func (s *DB) GetAll(ctx context.Context) ([]registry.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, site, port, pid, type, script, cwd, start_time, status
		FROM processes ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []registry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *DB) UpdateStatus(ctx context.Context, id string, status registry.Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processes SET status = ?, updated_at = ? WHERE id = ?;`,
		string(status), time.Now().UTC(), id)
	return err
}

func (s *DB) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = ?;`, id)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (registry.Entry, error) {
	var e registry.Entry
	var status string
	if err := r.Scan(&e.ID, &e.Site, &e.Port, &e.PID, &e.Type, &e.Script, &e.Cwd, &e.StartTime, &status); err != nil {
		return registry.Entry{}, err
	}
	e.Status = registry.Status(status)
	return e, nil
}
