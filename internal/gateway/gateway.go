package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/router"
	rtsup "relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrQueueFull        = errors.New("queue full")
	ErrClosed           = errors.New("gateway closed")
)

type Config struct {
	Addr   string
	Path   string
	Secret string

	// Workers is the number of shards and worker goroutines.
	Workers int
	// QueueSize is the capacity of each shard.
	QueueSize int

	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "/webhook"
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Router handles one decoded update.
type Router interface {
	Route(ctx context.Context, up kit.Update) router.Outcome
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats are best-effort counters.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	Queued    int    `json:"queued"`

	Workers rtsup.Counters `json:"workers"`
}

type Gateway struct {
	cfg    Config
	dec    kit.Decoder
	router Router
	health Pinger
	log    logx.Logger

	shards []chan kit.Update

	mu     sync.Mutex
	srv    *http.Server
	ln     net.Listener
	sup    *rtsup.Supervisor
	closed atomic.Bool

	accepted  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64

	dropLog rate.Sometimes
}

// New builds a gateway. health may be nil.
func New(cfg Config, dec kit.Decoder, rt Router, health Pinger, log logx.Logger) (*Gateway, error) {
	if dec == nil {
		return nil, errors.New("gateway: decoder is required")
	}
	if rt == nil {
		return nil, errors.New("gateway: router is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	g := &Gateway{
		cfg:     cfg,
		dec:     dec,
		router:  rt,
		health:  health,
		log:     log,
		shards:  make([]chan kit.Update, cfg.Workers),
		dropLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for i := range g.shards {
		g.shards[i] = make(chan kit.Update, cfg.QueueSize)
	}
	return g, nil
}

// Handler serves the webhook path and /healthz.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.cfg.Path, g.serveWebhook)
	mux.HandleFunc("/healthz", g.serveHealth)
	return mux
}

func (g *Gateway) serveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.cfg.Secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(g.cfg.Secret)) != 1 {
			g.log.Warn("webhook secret mismatch", logx.String("remote", r.RemoteAddr))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes))
	if err != nil {
		g.malformed.Add(1)
		g.log.Warn("webhook body rejected", logx.String("remote", r.RemoteAddr), logx.Err(err))
	} else {
		_ = g.Accept(body)
	}
	writeOK(w)
}

func (g *Gateway) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.health.Ping(ctx); err != nil {
			g.log.Warn("health check failed", logx.Err(err))
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// Accept decodes raw and queues it for processing. It never blocks.
func (g *Gateway) Accept(raw []byte) error {
	up, err := g.dec.Decode(raw)
	if err != nil {
		g.malformed.Add(1)
		g.log.Warn("malformed update", logx.Int("bytes", len(raw)), logx.Err(err))
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if g.closed.Load() {
		g.dropped.Add(1)
		return ErrClosed
	}

	idx := g.shardFor(up.ChatID())
	select {
	case g.shards[idx] <- up:
		g.accepted.Add(1)
		return nil
	default:
		n := g.dropped.Add(1)
		g.dropLog.Do(func() {
			g.log.Warn("update queue full; dropping",
				logx.Int("update_id", up.ID),
				logx.Int64("chat_id", up.ChatID()),
				logx.Int("shard", idx),
				logx.Int("queue_cap", cap(g.shards[idx])),
				logx.Uint64("dropped_total", n),
			)
		})
		return ErrQueueFull
	}
}

func (g *Gateway) shardFor(chatID int64) int {
	if len(g.shards) == 1 {
		return 0
	}
	h := fnv.New32a()
	var b [8]byte
	u := uint64(chatID)
	for i := range b {
		b[i] = byte(u >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return int(h.Sum32() % uint32(len(g.shards)))
}

// Start launches the workers and the HTTP listener. The listener is bound
// before Start returns. Cancelling ctx does not stop the workers; only Stop
// does, after the listener is closed, so nothing accepted is left unprocessed.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return ErrClosed
	}
	if g.sup != nil {
		return nil
	}

	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.cfg.Addr, err)
	}

	sup := rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(g.log),
		rtsup.WithCancelOnError(false),
	)
	for i, q := range g.shards {
		q := q
		sup.Go(fmt.Sprintf("gateway.worker.%d", i), func(c context.Context) error {
			return g.worker(c, q)
		})
	}

	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: g.cfg.ReadHeaderTimeout,
		IdleTimeout:       g.cfg.IdleTimeout,
	}
	sup.Go("gateway.http", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error("webhook server failed", logx.Err(err))
			return err
		}
		return nil
	})

	g.sup, g.srv, g.ln = sup, srv, ln
	g.log.Info("gateway listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("path", g.cfg.Path),
		logx.Int("workers", len(g.shards)),
		logx.Int("queue_size", g.cfg.QueueSize),
		logx.Bool("secret", g.cfg.Secret != ""),
	)
	return nil
}

// Addr returns the bound listener address, or "" when not started.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return ""
	}
	return g.ln.Addr().String()
}

// Stop closes the listener, lets workers drain what is already queued and
// waits for them until ctx expires.
func (g *Gateway) Stop(ctx context.Context) error {
	g.closed.Store(true)

	g.mu.Lock()
	srv, sup := g.srv, g.sup
	g.srv, g.ln = nil, nil
	g.mu.Unlock()

	start := time.Now()
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("workers: %w", err))
		}
	}

	st := g.Stats()
	g.log.Info("gateway stopped",
		logx.Duration("dur", time.Since(start)),
		logx.Uint64("accepted", st.Accepted),
		logx.Uint64("processed", st.Processed),
		logx.Uint64("dropped", st.Dropped),
		logx.Uint64("malformed", st.Malformed),
		logx.Uint64("worker_panics", st.Workers.Panics),
	)
	return errors.Join(errs...)
}

func (g *Gateway) Stats() Stats {
	queued := 0
	for _, q := range g.shards {
		queued += len(q)
	}
	g.mu.Lock()
	sup := g.sup
	g.mu.Unlock()
	return Stats{
		Workers:   sup.Counters(),
		Accepted:  g.accepted.Load(),
		Malformed: g.malformed.Load(),
		Dropped:   g.dropped.Load(),
		Processed: g.processed.Load(),
		Queued:    queued,
	}
}
