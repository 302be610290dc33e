package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	logx "relaybot/pkg/logx"
)

var postgresQueries = queries{
	insertRecipient: `INSERT INTO recipients(user_id, conversation_id, created_at) VALUES($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`,
	listRecipients: `SELECT user_id, conversation_id, created_at FROM recipients ORDER BY created_at, user_id`,
	insertResource: `INSERT INTO resources(id, resource_id, unique_id, fingerprint, owner_id, kind, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7)`,
	resourcesByOwner: `SELECT id::text, resource_id, unique_id, fingerprint, owner_id, kind, created_at
		FROM resources WHERE owner_id = $1 ORDER BY seq`,
	resourceByPrint: `SELECT id::text, resource_id, unique_id, fingerprint, owner_id, kind, created_at
		FROM resources WHERE fingerprint = $1`,
	insertAudit: `INSERT INTO audit(at, actor_id, chat_id, action, target, ok, fail, err, took_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	countRecipients: `SELECT COUNT(*) FROM recipients`,
}

func openPostgres(ctx context.Context, dsn string, log logx.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("open postgres", err)
	}
	return &Store{db: db, log: log, driver: driverPostgres, dialect: "postgres", q: postgresQueries}, nil
}
