package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "relaybot/pkg/logx"
)

// queries holds the dialect-specific SQL for one driver.
type queries struct {
	insertRecipient  string
	listRecipients   string
	insertResource   string
	resourcesByOwner string
	resourceByPrint  string
	insertAudit      string
	countRecipients  string
}

// Store is the database-backed persistence for recipients, resources and audit.
// It holds no caches: every read goes to the database.
type Store struct {
	db      *sql.DB
	log     logx.Logger
	driver  string
	dialect string // goose dialect
	q       queries
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// InsertRecipientIfAbsent inserts the recipient unless user_id is already
// known. It reports whether a row was written.
func (s *Store) InsertRecipientIfAbsent(ctx context.Context, r Recipient) (bool, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, s.q.insertRecipient, r.UserID, r.ConversationID, r.CreatedAt.UnixMilli())
	if err != nil {
		return false, unavailable("insert recipient", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("insert recipient", err)
	}
	return n == 1, nil
}

// ListRecipients returns every recipient, oldest first.
func (s *Store) ListRecipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, s.q.listRecipients)
	if err != nil {
		return nil, unavailable("list recipients", err)
	}
	defer rows.Close()

	out := []Recipient{}
	for rows.Next() {
		var (
			r  Recipient
			ms int64
		)
		if err := rows.Scan(&r.UserID, &r.ConversationID, &ms); err != nil {
			return nil, unavailable("list recipients", err)
		}
		r.CreatedAt = time.UnixMilli(ms)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list recipients", err)
	}
	return out, nil
}

func (s *Store) CountRecipients(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q.countRecipients).Scan(&n); err != nil {
		return 0, unavailable("count recipients", err)
	}
	return n, nil
}

// InsertResource appends a resource row. ID and Fingerprint must be set.
func (s *Store) InsertResource(ctx context.Context, r Resource) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q.insertResource,
		r.ID, r.ResourceID, r.UniqueID, r.Fingerprint, r.OwnerID, r.Kind, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return unavailable("insert resource", err)
	}
	return nil
}

// ResourcesByOwner returns the owner's resources in insertion order.
func (s *Store) ResourcesByOwner(ctx context.Context, ownerID int64) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, s.q.resourcesByOwner, ownerID)
	if err != nil {
		return nil, unavailable("list resources", err)
	}
	defer rows.Close()

	out := []Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, unavailable("list resources", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list resources", err)
	}
	return out, nil
}

func (s *Store) ResourceByFingerprint(ctx context.Context, fingerprint string) (Resource, error) {
	r, err := scanResource(s.db.QueryRowContext(ctx, s.q.resourceByPrint, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, unavailable("get resource", err)
	}
	return r, nil
}

func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q.insertAudit,
		e.At.UnixMilli(), e.ActorID, e.ChatID, e.Action, nullStr(e.Target),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	if err != nil {
		return unavailable("append audit", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (Resource, error) {
	var (
		r  Resource
		ms int64
	)
	if err := row.Scan(&r.ID, &r.ResourceID, &r.UniqueID, &r.Fingerprint, &r.OwnerID, &r.Kind, &ms); err != nil {
		return Resource{}, err
	}
	r.CreatedAt = time.UnixMilli(ms)
	return r, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
