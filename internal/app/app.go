// Package app wires the relay components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	"relaybot/internal/directory"
	"relaybot/internal/gateway"
	"relaybot/internal/links"
	"relaybot/internal/registry"
	"relaybot/internal/router"
	rtsup "relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

type App struct {
	cfg *config.Config

	log       logx.Logger
	logCloser io.Closer

	store   *storage.Store
	adapter *telegram.Adapter
	router  *router.Router
	gateway *gateway.Gateway
	// bg owns broadcast runs handed off by the router.
	bg *rtsup.Supervisor
}

// New builds every component. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	base, closer, err := logx.New(cfg.Logging.Logx())
	if err != nil {
		return nil, err
	}
	log := base.With(logx.String("comp", "app"))

	a := &App{cfg: cfg, log: log, logCloser: closer}
	if err := a.build(ctx, base); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, base logx.Logger) error {
	cfg := a.cfg

	st, err := storage.Open(ctx, storage.Config{
		DSN:         cfg.Storage.DSN,
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}, base.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = st

	ad, err := telegram.New(telegram.Config{
		Token:    cfg.Telegram.Token,
		Offline:  cfg.Telegram.Offline,
		Username: cfg.Telegram.Username,
	}, base.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	a.adapter = ad

	a.bg = rtsup.New(context.Background(), rtsup.WithLogger(base.With(logx.String("comp", "background"))))

	admins := router.NewAdminSet(cfg.Telegram.Admins...)
	if admins.Len() == 0 {
		a.log.Warn("no admins configured; upload, batch and broadcast will be refused")
	}

	rt, err := router.New(router.Deps{
		Sender:      ad,
		Directory:   directory.New(st, base.With(logx.String("comp", "directory"))),
		Registry:    registry.New(st, base.With(logx.String("comp", "registry"))),
		Broadcast:   broadcast.New(broadcast.Config{SendTimeout: cfg.Broadcast.SendTimeoutDuration()}, ad, base.With(logx.String("comp", "broadcast"))),
		Audit:       st,
		Background:  a.bg,
		Links:       links.Encoder{Host: cfg.Links.Host},
		BotUsername: ad.Username(),
		Admins:      admins,
		Timeout:     cfg.Gateway.HandlerTimeoutDuration(),
		Log:         base.With(logx.String("comp", "router")),
	})
	if err != nil {
		return err
	}
	a.router = rt

	gw, err := gateway.New(gateway.Config{
		Addr:      cfg.Webhook.Listen,
		Path:      cfg.Webhook.Path,
		Secret:    cfg.Webhook.Secret,
		Workers:   cfg.Gateway.Workers,
		QueueSize: cfg.Gateway.QueueSize,
	}, ad, rt, st, base.With(logx.String("comp", "gateway")))
	if err != nil {
		return err
	}
	a.gateway = gw
	return nil
}

// Start opens the webhook listener, registers the webhook with Telegram
// when a public URL is configured and reports readiness to systemd.
func (a *App) Start(ctx context.Context) error {
	if err := a.gateway.Start(ctx); err != nil {
		return err
	}
	if url := a.cfg.Webhook.URL(); url != "" {
		if err := a.adapter.SetWebhook(ctx, url, a.cfg.Webhook.Secret); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.gateway.Stop(stopCtx)
			return err
		}
	} else {
		a.log.Info("public url not set; webhook registration skipped")
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	recipients, err := a.store.CountRecipients(ctx)
	if err != nil {
		a.log.Warn("count recipients failed", logx.Err(err))
	}
	a.log.Info("relay started",
		logx.String("bot", a.adapter.Username()),
		logx.String("listen", a.gateway.Addr()),
		logx.String("db", a.store.Driver()),
		logx.Int("recipients", recipients),
	)
	return nil
}

// Stop drains in-flight updates, waits for running broadcasts and releases
// resources.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	start := time.Now()

	var errs []error
	if a.gateway != nil {
		if err := a.gateway.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	// Broadcast runs ignore cancellation; Stop only waits for them.
	if a.bg != nil {
		if err := a.bg.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("broadcasts: %w", err))
		}
	}
	a.log.Info("relay stopped",
		logx.Duration("dur", time.Since(start)),
		logx.Int64("broadcasts_running", a.bg.Counters().Active),
	)
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Addr is the bound webhook listener address.
func (a *App) Addr() string { return a.gateway.Addr() }
