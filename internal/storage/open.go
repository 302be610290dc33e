package storage

import (
	"context"
	"errors"
	"strings"

	logx "relaybot/pkg/logx"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver, dsn, err := resolveDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	var st *Store
	switch driver {
	case driverPostgres:
		st, err = openPostgres(ctx, dsn, log)
	default:
		st, err = openSQLite(ctx, dsn, cfg.BusyTimeout, log)
	}
	if err != nil {
		return nil, err
	}
	if err := st.migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", driver))
	return st, nil
}

func resolveDSN(raw string) (driver, dsn string, err error) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	switch {
	case s == "":
		return "", "", errors.New("storage: DSN is empty")
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return driverPostgres, s, nil
	case strings.HasPrefix(lower, "sqlite://"):
		s = s[len("sqlite://"):]
	case strings.HasPrefix(lower, "sqlite:"):
		s = s[len("sqlite:"):]
	case strings.Contains(s, "://"):
		return "", "", errors.New("storage: unsupported DSN scheme in " + strings.SplitN(s, "://", 2)[0] + "://")
	}
	if strings.TrimSpace(s) == "" {
		return "", "", errors.New("storage: sqlite path is empty")
	}
	return driverSQLite, s, nil
}
