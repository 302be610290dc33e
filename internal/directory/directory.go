// Package directory keeps the set of known recipients.
//
// Registration is append-only: the first contact from a user id creates the
// record and later contacts leave it untouched.
package directory

import (
	"context"
	"errors"
	"fmt"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// Store is the persistence the directory needs.
type Store interface {
	InsertRecipientIfAbsent(ctx context.Context, r storage.Recipient) (bool, error)
	ListRecipients(ctx context.Context) ([]storage.Recipient, error)
}

// Registration is the outcome of RegisterIfAbsent.
type Registration int

const (
	AlreadyPresent Registration = iota
	Inserted
)

func (r Registration) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "already_present"
}

var ErrInvalidRecipient = errors.New("directory: user id and conversation id are required")

type Directory struct {
	store Store
	log   logx.Logger
}

func New(store Store, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{store: store, log: log}
}

// RegisterIfAbsent records userID once. Safe for concurrent calls with the
// same id: the store performs an atomic conditional insert.
func (d *Directory) RegisterIfAbsent(ctx context.Context, userID, conversationID int64) (Registration, error) {
	if userID == 0 || conversationID == 0 {
		return AlreadyPresent, ErrInvalidRecipient
	}
	ok, err := d.store.InsertRecipientIfAbsent(ctx, storage.Recipient{UserID: userID, ConversationID: conversationID})
	if err != nil {
		return AlreadyPresent, fmt.Errorf("register recipient %d: %w", userID, err)
	}
	if !ok {
		return AlreadyPresent, nil
	}
	d.log.Info("recipient registered", logx.Int64("user_id", userID), logx.Int64("chat_id", conversationID))
	return Inserted, nil
}

// ListAll returns a snapshot of every recipient. An empty, non-nil slice
// means there are none.
func (d *Directory) ListAll(ctx context.Context) ([]storage.Recipient, error) {
	all, err := d.store.ListRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	if all == nil {
		all = []storage.Recipient{}
	}
	return all, nil
}
