package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "relaybot/pkg/logx"
)

var sqliteQueries = queries{
	insertRecipient: `INSERT INTO recipients(user_id, conversation_id, created_at) VALUES(?,?,?)
		ON CONFLICT(user_id) DO NOTHING`,
	listRecipients: `SELECT user_id, conversation_id, created_at FROM recipients ORDER BY created_at, user_id`,
	insertResource: `INSERT INTO resources(id, resource_id, unique_id, fingerprint, owner_id, kind, created_at)
		VALUES(?,?,?,?,?,?,?)`,
	resourcesByOwner: `SELECT id, resource_id, unique_id, fingerprint, owner_id, kind, created_at
		FROM resources WHERE owner_id = ? ORDER BY seq`,
	resourceByPrint: `SELECT id, resource_id, unique_id, fingerprint, owner_id, kind, created_at
		FROM resources WHERE fingerprint = ?`,
	insertAudit: `INSERT INTO audit(at, actor_id, chat_id, action, target, ok, fail, err, took_ms)
		VALUES(?,?,?,?,?,?,?,?,?)`,
	countRecipients: `SELECT COUNT(*) FROM recipients`,
}

func openSQLite(ctx context.Context, path string, busy time.Duration, log logx.Logger) (*Store, error) {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busy <= 0 {
		busy = time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("open sqlite", err)
	}

	return &Store{db: db, log: log, driver: driverSQLite, dialect: "sqlite3", q: sqliteQueries}, nil
}
