package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/keithk/siteherd/internal/registry"
)

// DB implements registry.Store on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processes(
			id TEXT PRIMARY KEY,
			site TEXT NOT NULL,
			port INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			type TEXT NOT NULL,
			script TEXT NOT NULL,
			cwd TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_processes_site ON processes(site);`,
		`CREATE INDEX IF NOT EXISTS idx_processes_status ON processes(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Save(ctx context.Context, e registry.Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processes(id, site, port, pid, type, script, cwd, start_time, status, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT(id) DO UPDATE SET
			site=EXCLUDED.site, port=EXCLUDED.port, pid=EXCLUDED.pid,
			type=EXCLUDED.type, script=EXCLUDED.script, cwd=EXCLUDED.cwd,
			start_time=EXCLUDED.start_time, status=EXCLUDED.status,
			updated_at=EXCLUDED.updated_at;`,
		e.ID, e.Site, e.Port, e.PID, e.Type, e.Script, e.Cwd,
		e.StartTime.UTC(), string(e.Status), time.Now().UTC())
	return err
}

func (p *DB) Get(ctx context.Context, id string) (registry.Entry, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, site, port, pid, type, script, cwd, start_time, status
		FROM processes WHERE id = $1;`, id)
	var e registry.Entry
	var status string
	err := row.Scan(&e.ID, &e.Site, &e.Port, &e.PID, &e.Type, &e.Script, &e.Cwd, &e.StartTime, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Entry{}, false, nil
	}
	if err != nil {
		return registry.Entry{}, false, err
	}
	e.Status = registry.Status(status)
	return e, true, nil
}

func (p *DB) GetAll(ctx context.Context) ([]registry.Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, site, port, pid, type, script, cwd, start_time, status
		FROM processes ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []registry.Entry
	for rows.Next() {
		var e registry.Entry
		var status string
		if err := rows.Scan(&e.ID, &e.Site, &e.Port, &e.PID, &e.Type, &e.Script, &e.Cwd, &e.StartTime, &status); err != nil {
			return nil, err
		}
		e.Status = registry.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *DB) UpdateStatus(ctx context.Context, id string, status registry.Status) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE processes SET status = $1, updated_at = $2 WHERE id = $3;`,
		string(status), time.Now().UTC(), id)
	return err
}

func (p *DB) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM processes WHERE id = $1;`, id)
	return err
}

func (p *DB) Close() error { return p.db.Close() }
