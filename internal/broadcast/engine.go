package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const DefaultSendTimeout = 10 * time.Second

type Config struct {
	// SendTimeout bounds a single delivery attempt. <=0 uses DefaultSendTimeout.
	SendTimeout time.Duration
}

type Engine struct {
	sender kit.Sender
	log    logx.Logger
	cfg    Config

	now func() time.Time
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Engine{sender: sender, log: log, cfg: cfg, now: time.Now}
}

// Run delivers text to every recipient in order and returns the outcome.
//
// Once started a run is not aborted by ctx cancellation; only values carried
// by ctx are used. Each attempt is bounded by Config.SendTimeout.
func (e *Engine) Run(ctx context.Context, text string, recipients []storage.Recipient) Report {
	start := e.now()
	rep := Report{
		ID:        fmt.Sprintf("bc:%d", start.UnixNano()),
		Total:     len(recipients),
		Succeeded: make([]int64, 0, len(recipients)),
		StartedAt: start,
	}
	runCtx := context.WithoutCancel(ctx)

	e.log.Info("broadcast started", logx.String("job", rep.ID), logx.Int("total", rep.Total))

	for _, r := range recipients {
		if err := e.sendOne(runCtx, r, text); err != nil {
			f := Failure{UserID: r.UserID, ConversationID: r.ConversationID, Reason: fmt.Errorf("%w: %w", ErrDeliveryFailure, err)}
			rep.Failed = append(rep.Failed, f)
			e.log.Warn("broadcast send failed",
				logx.String("job", rep.ID),
				logx.Int64("user_id", r.UserID),
				logx.Int64("chat_id", r.ConversationID),
				logx.Err(err),
			)
			continue
		}
		rep.Succeeded = append(rep.Succeeded, r.UserID)
	}
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.String("job", rep.ID),
		logx.Int("total", rep.Total),
		logx.Int("ok", rep.OK()),
		logx.Int("failed", rep.Fail()),
		logx.Duration("dur", rep.Took),
	}
	if rep.Fail() > 0 {
		e.log.Warn("broadcast finished with failures", fields...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}
	return rep
}

func (e *Engine) sendOne(ctx context.Context, r storage.Recipient, text string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("panic in broadcast send",
				logx.Int64("user_id", r.UserID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	_, err = e.sender.SendText(ctx, kit.ChatTarget{ChatID: r.ConversationID}, text, nil)
	return err
}
