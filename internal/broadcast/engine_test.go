package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fail  map[int64]error
	panic map[int64]bool
	sent  []int64
	texts []string
	wait  time.Duration
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, to.ChatID)
	f.texts = append(f.texts, text)
	err := f.fail[to.ChatID]
	boom := f.panic[to.ChatID]
	wait := f.wait
	f.mu.Unlock()
	if boom {
		panic("boom")
	}
	if wait > 0 {
		select {
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) SendFile(context.Context, kit.ChatTarget, kit.FileRef, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("not used")
}

func recipients(ids ...int64) []storage.Recipient {
	out := make([]storage.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, storage.Recipient{UserID: id, ConversationID: id})
	}
	return out
}

func TestRunContinuesPastFailure(t *testing.T) {
	s := &fakeSender{fail: map[int64]error{2: errors.New("bot was blocked by the user")}}
	e := New(Config{}, s, logx.Nop())

	rep := e.Run(context.Background(), "Hello", recipients(1, 2, 3))

	if rep.Total != 3 || rep.OK() != 2 || rep.Fail() != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(s.sent) != 3 || s.sent[0] != 1 || s.sent[1] != 2 || s.sent[2] != 3 {
		t.Fatalf("attempt order = %v", s.sent)
	}
	for _, txt := range s.texts {
		if txt != "Hello" {
			t.Fatalf("sent text %q", txt)
		}
	}
	f := rep.Failed[0]
	if f.UserID != 2 || !errors.Is(f.Reason, ErrDeliveryFailure) {
		t.Fatalf("failure = %+v", f)
	}
	if !errors.Is(rep.Err(), ErrDeliveryFailure) {
		t.Fatalf("Report.Err = %v", rep.Err())
	}
}

func TestRunRecoversPanic(t *testing.T) {
	s := &fakeSender{panic: map[int64]bool{1: true}}
	rep := New(Config{}, s, logx.Nop()).Run(context.Background(), "x", recipients(1, 2))
	if rep.OK() != 1 || rep.Fail() != 1 || rep.Succeeded[0] != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunEmpty(t *testing.T) {
	s := &fakeSender{}
	rep := New(Config{}, s, logx.Nop()).Run(context.Background(), "x", nil)
	if rep.Total != 0 || rep.OK() != 0 || rep.Fail() != 0 || rep.Err() != nil {
		t.Fatalf("report = %+v", rep)
	}
	if len(s.sent) != 0 {
		t.Fatalf("unexpected sends: %v", s.sent)
	}
}

func TestRunIgnoresParentCancel(t *testing.T) {
	s := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := New(Config{}, s, logx.Nop()).Run(ctx, "x", recipients(1, 2))
	if rep.OK() != 2 {
		t.Fatalf("cancelled parent aborted the run: %+v", rep)
	}
}

func TestSendTimeoutBoundsAttempt(t *testing.T) {
	s := &fakeSender{wait: time.Second}
	rep := New(Config{SendTimeout: 10 * time.Millisecond}, s, logx.Nop()).Run(context.Background(), "x", recipients(1))
	if rep.Fail() != 1 || !errors.Is(rep.Failed[0].Reason, context.DeadlineExceeded) {
		t.Fatalf("report = %+v", rep)
	}
}
