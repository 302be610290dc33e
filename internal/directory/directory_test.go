package directory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{DSN: filepath.Join(t.TempDir(), "d.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, logx.Nop())
}

func TestRegisterIfAbsentSequential(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	got, err := d.RegisterIfAbsent(ctx, 1, 100)
	if err != nil || got != Inserted {
		t.Fatalf("first register = %v, %v", got, err)
	}
	got, err = d.RegisterIfAbsent(ctx, 1, 100)
	if err != nil || got != AlreadyPresent {
		t.Fatalf("second register = %v, %v", got, err)
	}

	all, err := d.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(all))
	}
}

func TestRegisterIfAbsentConcurrent(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan Registration, 8)
	for i := 0; i < cap(results); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := d.RegisterIfAbsent(ctx, 77, 77)
			if err != nil {
				t.Errorf("register: %v", err)
			}
			results <- r
		}()
	}
	wg.Wait()
	close(results)

	inserted := 0
	for r := range results {
		if r == Inserted {
			inserted++
		}
	}
	if inserted != 1 {
		t.Fatalf("inserted %d times, want 1", inserted)
	}
	all, _ := d.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(all))
	}
}

func TestRegisterRejectsZeroIDs(t *testing.T) {
	d := newDirectory(t)
	if _, err := d.RegisterIfAbsent(context.Background(), 0, 5); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestListAllEmptyIsNotNil(t *testing.T) {
	d := newDirectory(t)
	all, err := d.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", all)
	}
}

type failingStore struct{}

func (failingStore) InsertRecipientIfAbsent(context.Context, storage.Recipient) (bool, error) {
	return false, errors.Join(storage.ErrUnavailable, errors.New("conn refused"))
}

func (failingStore) ListRecipients(context.Context) ([]storage.Recipient, error) {
	return nil, errors.Join(storage.ErrUnavailable, errors.New("conn refused"))
}

func TestStoreFailuresKeepUnavailable(t *testing.T) {
	d := New(failingStore{}, logx.Nop())
	if _, err := d.RegisterIfAbsent(context.Background(), 1, 1); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("register err = %v", err)
	}
	if _, err := d.ListAll(context.Background()); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("list err = %v", err)
	}
}
