package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	logx "relaybot/pkg/logx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// gooseDialect maps a driver onto goose's dialect and migration directory.
func gooseDialect(dialect string) (goose.Dialect, string, error) {
	switch dialect {
	case "sqlite3":
		return goose.DialectSQLite3, "migrations/sqlite", nil
	case "postgres":
		return goose.DialectPostgres, "migrations/postgres", nil
	default:
		return "", "", fmt.Errorf("storage: no migrations for dialect %q", dialect)
	}
}

func (s *Store) migrate(ctx context.Context) error {
	d, dir, err := gooseDialect(s.dialect)
	if err != nil {
		return err
	}
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(d, s.db, fsys)
	if err != nil {
		return fmt.Errorf("storage: goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		s.log.Info("migration applied", logx.Int64("version", r.Source.Version), logx.Duration("took", r.Duration))
	}
	return nil
}
