// Package registry records uploaded files and the public fingerprints that
// deep links carry.
package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Store interface {
	InsertResource(ctx context.Context, r storage.Resource) error
	ResourcesByOwner(ctx context.Context, ownerID int64) ([]storage.Resource, error)
	ResourceByFingerprint(ctx context.Context, fingerprint string) (storage.Resource, error)
}

var ErrInvalidResource = errors.New("registry: invalid resource")

// maxFingerprintLen is Telegram's limit for the /start deep-link payload.
const maxFingerprintLen = 64

type Registry struct {
	store Store
	log   logx.Logger

	newID func() uuid.UUID
	now   func() time.Time
}

func New(store Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log, newID: uuid.New, now: time.Now}
}

// Register appends a new record for every call, even for a file that was
// uploaded before. The fingerprint combines the platform's unique file id
// with a per-record suffix so each upload gets its own link.
func (r *Registry) Register(ctx context.Context, ownerID int64, resourceID, uniqueID string, kind kit.FileKind) (storage.RecordRef, error) {
	resourceID = strings.TrimSpace(resourceID)
	uniqueID = strings.TrimSpace(uniqueID)
	switch {
	case ownerID == 0:
		return storage.RecordRef{}, fmt.Errorf("%w: owner is required", ErrInvalidResource)
	case resourceID == "" || uniqueID == "":
		return storage.RecordRef{}, fmt.Errorf("%w: file id and unique id are required", ErrInvalidResource)
	case !kind.Valid():
		return storage.RecordRef{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidResource, kind)
	}

	id := r.newID()
	res := storage.Resource{
		ID:          id.String(),
		ResourceID:  resourceID,
		UniqueID:    uniqueID,
		Fingerprint: fingerprint(uniqueID, id),
		OwnerID:     ownerID,
		Kind:        string(kind),
		CreatedAt:   r.now(),
	}
	if err := r.store.InsertResource(ctx, res); err != nil {
		return storage.RecordRef{}, fmt.Errorf("register resource: %w", err)
	}
	r.log.Info("resource registered",
		logx.Int64("owner_id", ownerID),
		logx.String("id", res.ID),
		logx.String("kind", res.Kind),
	)
	return storage.RecordRef{ID: res.ID, Fingerprint: res.Fingerprint}, nil
}

// ListByOwner returns the owner's resources oldest first.
func (r *Registry) ListByOwner(ctx context.Context, ownerID int64) ([]storage.Resource, error) {
	out, err := r.store.ResourcesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list resources of %d: %w", ownerID, err)
	}
	if out == nil {
		out = []storage.Resource{}
	}
	return out, nil
}

// ByFingerprint resolves a deep-link payload. storage.ErrNotFound when unknown.
func (r *Registry) ByFingerprint(ctx context.Context, fp string) (storage.Resource, error) {
	fp = strings.TrimSpace(fp)
	if fp == "" || len(fp) > maxFingerprintLen {
		return storage.Resource{}, storage.ErrNotFound
	}
	res, err := r.store.ResourceByFingerprint(ctx, fp)
	if err != nil {
		return storage.Resource{}, fmt.Errorf("resolve %q: %w", fp, err)
	}
	return res, nil
}

func fingerprint(uniqueID string, id uuid.UUID) string {
	suffix := hex.EncodeToString(id[:8])
	base := sanitize(uniqueID)
	if room := maxFingerprintLen - len(suffix) - 1; len(base) > room {
		base = base[:room]
	}
	return base + "_" + suffix
}

// sanitize keeps only characters Telegram accepts in a start payload.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		}
	}
	return b.String()
}
