package storage

import (
	"errors"
	"time"
)

var (
	// ErrUnavailable marks any failure talking to the database.
	// Callers surface it as a generic failure notice.
	ErrUnavailable = errors.New("store unavailable")
	ErrNotFound    = errors.New("not found")
)

// Config configures storage.
//
// DSN selects the driver:
//   - "postgres://..." or "postgresql://...": PostgreSQL via pgx
//   - "sqlite://<path>", "sqlite:<path>", "file:<path>" or a bare path: SQLite
type Config struct {
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Recipient is one chat identity eligible for broadcasts.
type Recipient struct {
	UserID         int64
	ConversationID int64
	CreatedAt      time.Time
}

// Resource is one uploaded file made shareable.
//
// ResourceID is the platform file id used to resend the file; it is never
// shown to users. Fingerprint is the only externally visible identifier.
type Resource struct {
	ID          string
	ResourceID  string
	UniqueID    string
	Fingerprint string
	OwnerID     int64
	Kind        string
	CreatedAt   time.Time
}

// RecordRef points at a freshly stored resource.
type RecordRef struct {
	ID          string
	Fingerprint string
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	ChatID  int64
	Action  string
	Target  string
	OK      int
	Fail    int
	Error   string
	TookMS  int64
}
