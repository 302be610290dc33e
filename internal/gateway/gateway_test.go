package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/broadcast"
	"relaybot/internal/directory"
	"relaybot/internal/router"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

type recordingRouter struct {
	mu     sync.Mutex
	byChat map[int64][]int
	block  chan struct{}
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{byChat: map[int64][]int{}}
}

func (r *recordingRouter) Route(_ context.Context, up kit.Update) router.Outcome {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byChat[up.ChatID()] = append(r.byChat[up.ChatID()], up.ID)
	return router.Outcome{Op: router.OpStart, Status: router.StatusOK}
}

func (r *recordingRouter) seen(chat int64) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.byChat[chat]...)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func update(id int, chat int64) string {
	return textUpdate(id, chat, "/start")
}

func textUpdate(id int, chat int64, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1,"from":{"id":%d,"is_bot":false,"first_name":"u"},"chat":{"id":%d,"type":"private"},"text":%q}}`, id, id, chat, chat, text)
}

func newGateway(t *testing.T, cfg Config, rt Router, health Pinger) *Gateway {
	t.Helper()
	g, err := New(cfg, kit.DecoderFunc(adapter.Decode), rt, health, logx.Nop())
	require.NoError(t, err)
	return g
}

func post(h http.Handler, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMalformedBodyIsAcknowledged(t *testing.T) {
	g := newGateway(t, Config{}, newRecordingRouter(), nil)
	h := g.Handler()

	for _, body := range []string{"", "not json", `{"update_id":0}`} {
		rec := post(h, "/webhook", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "ok", rec.Body.String())
	}
	st := g.Stats()
	require.Equal(t, uint64(3), st.Malformed)
	require.Zero(t, st.Accepted)
	require.Zero(t, st.Queued)

	err := g.Accept([]byte("{"))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestQueueFullDropsButAcknowledges(t *testing.T) {
	g := newGateway(t, Config{Workers: 1, QueueSize: 1}, newRecordingRouter(), nil)
	h := g.Handler()

	rec := post(h, "/webhook", update(1, 5), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = post(h, "/webhook", update(2, 5), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	require.ErrorIs(t, g.Accept([]byte(update(3, 5))), ErrQueueFull)

	st := g.Stats()
	require.Equal(t, uint64(1), st.Accepted)
	require.Equal(t, uint64(2), st.Dropped)
	require.Equal(t, 1, st.Queued)
}

func TestSecretAndMethod(t *testing.T) {
	g := newGateway(t, Config{Secret: "s3cret", Path: "hook"}, newRecordingRouter(), nil)
	h := g.Handler()

	rec := post(h, "/hook", update(1, 1), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = post(h, "/hook", update(1, 1), map[string]string{SecretHeader: "wrong"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, g.Stats().Accepted)

	rec = post(h, "/hook", update(1, 1), map[string]string{SecretHeader: "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(1), g.Stats().Accepted)

	req := httptest.NewRequest(http.MethodGet, "/hook", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthz(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{errors.New("db down"), http.StatusServiceUnavailable},
	} {
		g := newGateway(t, Config{}, newRecordingRouter(), pinger{err: tc.err})
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, tc.code, rec.Code)
	}
}

func TestProcessesInOrderPerChat(t *testing.T) {
	rt := newRecordingRouter()
	g := newGateway(t, Config{Addr: "127.0.0.1:0", Workers: 3, QueueSize: 64}, rt, nil)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.Stop(ctx)
	})

	chats := []int64{101, 202, 303, 404}
	const perChat = 20
	id := 0
	for i := 0; i < perChat; i++ {
		for _, c := range chats {
			id++
			require.NoError(t, g.Accept([]byte(update(id, c))))
		}
	}

	require.Eventually(t, func() bool {
		return g.Stats().Processed == uint64(perChat*len(chats))
	}, 5*time.Second, 10*time.Millisecond)

	for _, c := range chats {
		ids := rt.seen(c)
		require.Len(t, ids, perChat)
		for i := 1; i < len(ids); i++ {
			require.Less(t, ids[i-1], ids[i], "chat %d out of order: %v", c, ids)
		}
	}
}

func TestServesOverHTTPAndDrainsOnStop(t *testing.T) {
	rt := newRecordingRouter()
	rt.block = make(chan struct{})
	g := newGateway(t, Config{Addr: "127.0.0.1:0", Workers: 1, QueueSize: 8}, rt, nil)
	require.NoError(t, g.Start(context.Background()))

	url := "http://" + g.Addr() + "/webhook"
	for i := 1; i <= 3; i++ {
		resp, err := http.Post(url, "application/json", bytes.NewBufferString(update(i, 9)))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "ok", string(body))
	}
	close(rt.block)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
	require.Equal(t, []int{1, 2, 3}, rt.seen(9))
	require.Equal(t, uint64(3), g.Stats().Processed)

	require.ErrorIs(t, g.Accept([]byte(update(4, 9))), ErrClosed)
	require.ErrorIs(t, g.Start(context.Background()), ErrClosed)
}

type panicRouter struct{ calls int }

func (p *panicRouter) Route(context.Context, kit.Update) router.Outcome {
	p.calls++
	if p.calls == 1 {
		panic("boom")
	}
	return router.Outcome{Status: router.StatusOK}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	rt := &panicRouter{}
	g := newGateway(t, Config{Addr: "127.0.0.1:0", Workers: 1}, rt, nil)
	require.NoError(t, g.Start(context.Background()))

	require.NoError(t, g.Accept([]byte(update(1, 1))))
	require.NoError(t, g.Accept([]byte(update(2, 1))))

	require.Eventually(t, func() bool { return g.Stats().Processed == 2 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
}

func TestStartContextCancelDoesNotStopWorkers(t *testing.T) {
	rt := newRecordingRouter()
	g := newGateway(t, Config{Addr: "127.0.0.1:0", Workers: 1}, rt, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, g.Start(ctx))
	cancel()

	require.NoError(t, g.Accept([]byte(update(1, 3))))
	require.Eventually(t, func() bool { return g.Stats().Processed == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []int{1}, rt.seen(3))

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	require.NoError(t, g.Stop(sctx))
	require.Zero(t, g.Stats().Workers.Active)
}

type chatSender struct {
	mu    sync.Mutex
	texts map[int64][]string
}

func (s *chatSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[to.ChatID] = append(s.texts[to.ChatID], text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (s *chatSender) SendFile(_ context.Context, to kit.ChatTarget, _ kit.FileRef, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (s *chatSender) count(chat int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts[chat])
}

type memDirectory struct {
	mu sync.Mutex
	rs []storage.Recipient
}

func (d *memDirectory) RegisterIfAbsent(_ context.Context, userID, conversationID int64) (directory.Registration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rs {
		if r.UserID == userID {
			return directory.AlreadyPresent, nil
		}
	}
	d.rs = append(d.rs, storage.Recipient{UserID: userID, ConversationID: conversationID})
	return directory.Inserted, nil
}

func (d *memDirectory) ListAll(context.Context) ([]storage.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]storage.Recipient{}, d.rs...), nil
}

type noRegistry struct{}

func (noRegistry) Register(context.Context, int64, string, string, kit.FileKind) (storage.RecordRef, error) {
	return storage.RecordRef{}, errors.New("not used")
}

func (noRegistry) ListByOwner(context.Context, int64) ([]storage.Resource, error) {
	return []storage.Resource{}, nil
}

func (noRegistry) ByFingerprint(context.Context, string) (storage.Resource, error) {
	return storage.Resource{}, storage.ErrNotFound
}

type stalledBroadcast struct {
	started chan struct{}
	release chan struct{}
}

func (b stalledBroadcast) Run(_ context.Context, _ string, rs []storage.Recipient) broadcast.Report {
	close(b.started)
	<-b.release
	return broadcast.Report{Total: len(rs)}
}

func TestBroadcastDoesNotBlockShard(t *testing.T) {
	sender := &chatSender{texts: map[int64][]string{}}
	bc := stalledBroadcast{started: make(chan struct{}), release: make(chan struct{})}
	bg := rtsup.New(context.Background())
	rt, err := router.New(router.Deps{
		Sender:      sender,
		Directory:   &memDirectory{},
		Registry:    noRegistry{},
		Broadcast:   bc,
		Background:  bg,
		BotUsername: "relaybot",
		Admins:      router.NewAdminSet(7),
	})
	require.NoError(t, err)

	g := newGateway(t, Config{Addr: "127.0.0.1:0", Workers: 1, QueueSize: 4}, rt, nil)
	require.NoError(t, g.Start(context.Background()))

	require.NoError(t, g.Accept([]byte(textUpdate(1, 7, "/broadcast hello"))))
	select {
	case <-bc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast never started")
	}

	// Same shard, more updates than the queue holds.
	for i := 0; i < 8; i++ {
		require.NoError(t, g.Accept([]byte(update(2+i, 8))))
		require.Eventually(t, func() bool { return sender.count(8) == i+1 }, 5*time.Second, 5*time.Millisecond)
	}
	require.Zero(t, sender.count(7), "completion notice before the run ended")

	close(bc.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
	require.NoError(t, bg.Stop(ctx))
	require.Equal(t, 1, sender.count(7))
	require.Zero(t, g.Stats().Dropped)
}
