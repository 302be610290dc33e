package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.Offline = true
	cfg.Telegram.Username = "relaybot"
	cfg.Telegram.Admins = []int64{7}
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "app.db")
	cfg.Webhook.Listen = "127.0.0.1:0"
	cfg.Logging.Level = "error"
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestAppLifecycle(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	base := "http://" + a.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Plain text from a user is acknowledged and ignored.
	body := `{"update_id":1,"message":{"message_id":1,"date":1,"from":{"id":3,"is_bot":false,"first_name":"u"},"chat":{"id":3,"type":"private"},"text":"hello"}}`
	resp, err = http.Post(base+"/webhook", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(b))

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
}

func TestNewFailsOnBadStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.DSN = "mongodb://localhost/relay"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}
