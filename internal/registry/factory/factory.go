package factory

import (
	"errors"
	"strings"

	"github.com/keithk/siteherd/internal/registry"
	pg "github.com/keithk/siteherd/internal/registry/postgres"
	sq "github.com/keithk/siteherd/internal/registry/sqlite"
)

// NewFromDSN selects a registry store implementation based on DSN.
// Supported:
//   - memory:   "memory" or "memory://"
//   - sqlite:   "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (registry.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if ld == "memory" || ld == "memory://" {
		return registry.NewMemory(), nil
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		path := strings.TrimPrefix(d, "sqlite://")
		return sq.New(path)
	}
	// default to sqlite path
	return sq.New(d)
}
