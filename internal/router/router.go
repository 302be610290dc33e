// Package router classifies inbound updates, enforces admin-only operations
// and dispatches them to the recipient directory, the resource registry and
// the broadcast engine.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/broadcast"
	"relaybot/internal/directory"
	"relaybot/internal/links"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadRequest marks input the user was told how to fix.
	ErrBadRequest = errors.New("bad request")
)

// noticeTimeout bounds replies sent after the handler's own deadline may
// have passed.
const noticeTimeout = 10 * time.Second

type Op string

const (
	OpStart     Op = "start"
	OpUpload    Op = "upload"
	OpBatch     Op = "batch"
	OpBroadcast Op = "broadcast"
	OpUnknown   Op = "unknown"
)

type Status int

const (
	StatusOK Status = iota
	StatusIgnored
	StatusUnauthorized
	StatusRejected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusIgnored:
		return "ignored"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the result of routing one update.
type Outcome struct {
	Op     Op
	Status Status
	Err    error
}

type Directory interface {
	RegisterIfAbsent(ctx context.Context, userID, conversationID int64) (directory.Registration, error)
	ListAll(ctx context.Context) ([]storage.Recipient, error)
}

type Registry interface {
	Register(ctx context.Context, ownerID int64, resourceID, uniqueID string, kind kit.FileKind) (storage.RecordRef, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]storage.Resource, error)
	ByFingerprint(ctx context.Context, fp string) (storage.Resource, error)
}

type Broadcaster interface {
	Run(ctx context.Context, text string, recipients []storage.Recipient) broadcast.Report
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Spawner runs fn on its own goroutine. *supervisor.Supervisor satisfies it.
type Spawner interface {
	Go0(name string, fn func(ctx context.Context))
}

type Deps struct {
	Sender    kit.Sender
	Directory Directory
	Registry  Registry
	Broadcast Broadcaster
	Audit     Auditor // optional

	// Background runs broadcast fan-outs off the calling goroutine.
	// When nil the fan-out runs inline and Route returns after it.
	Background Spawner

	Links       links.Encoder
	BotUsername string
	Admins      AdminSet

	// Timeout bounds one handler run. 0 disables it.
	Timeout time.Duration
	Log     logx.Logger
}

type Router struct {
	d      Deps
	log    logx.Logger
	routes map[Op]HandlerFunc
}

func New(d Deps) (*Router, error) {
	switch {
	case d.Sender == nil:
		return nil, errors.New("router: sender is required")
	case d.Directory == nil:
		return nil, errors.New("router: directory is required")
	case d.Registry == nil:
		return nil, errors.New("router: registry is required")
	case d.Broadcast == nil:
		return nil, errors.New("router: broadcast engine is required")
	}
	d.BotUsername = strings.TrimPrefix(strings.TrimSpace(d.BotUsername), "@")
	if d.BotUsername == "" {
		return nil, errors.New("router: bot username is required")
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{d: d, log: log}

	wrap := func(h HandlerFunc, extra ...Middleware) HandlerFunc {
		mw := []Middleware{MWPanicRecover(log), MWRequestLog(log)}
		mw = append(mw, extra...)
		mw = append(mw, MWTimeout(d.Timeout))
		return Chain(h, mw...)
	}
	r.routes = map[Op]HandlerFunc{
		OpStart:     wrap(r.handleStart),
		OpUpload:    wrap(r.handleUpload, MWAdminOnly(d.Admins, denyUpload)),
		OpBatch:     wrap(r.handleBatch, MWAdminOnly(d.Admins, denyBatch)),
		OpBroadcast: wrap(r.handleBroadcast, MWAdminOnly(d.Admins, denyBroadcast)),
	}
	return r, nil
}

// Request is one routed message.
type Request struct {
	Update  kit.Update
	Message *kit.Message
	Op      Op
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Text is everything after the command token, trimmed.
	Text  string
	ReqID string

	Logger logx.Logger
	sender kit.Sender
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// reply sends best-effort text to the request's chat.
func (r *Request) reply(ctx context.Context, text string, opt *kit.SendOptions) {
	if r.sender == nil {
		return
	}
	if _, err := r.sender.SendText(ctx, r.Chat, text, opt); err != nil {
		r.Logger.Warn("reply failed", logx.Err(err))
	}
}

// notify sends text on a context detached from ctx's deadline and
// cancellation, bounded by noticeTimeout.
func (r *Request) notify(ctx context.Context, text string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	r.reply(nctx, text, nil)
}

// Route handles one update synchronously. It never panics and never returns
// an error to the caller; the outcome describes what happened.
func (rt *Router) Route(ctx context.Context, up kit.Update) Outcome {
	req, ok := rt.classify(up)
	if !ok {
		return Outcome{Op: OpUnknown, Status: StatusIgnored}
	}
	h := rt.routes[req.Op]
	err := h(ctx, req)
	return rt.outcome(ctx, req, err)
}

func (rt *Router) classify(up kit.Update) (*Request, bool) {
	m := up.Message
	if up.Kind != kit.UpdateMessage || m == nil || m.FromID == 0 {
		return nil, false
	}
	req := &Request{
		Update:  up,
		Message: m,
		Chat:    kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		FromID:  m.FromID,
		ReqID:   newReqID(),
		sender:  rt.d.Sender,
	}

	if m.Attachment != nil && m.Attachment.Kind.Valid() {
		req.Op = OpUpload
	} else {
		cmd, mention, rest, ok := parseCommand(m.Text)
		if !ok {
			return nil, false
		}
		if mention != "" && !strings.EqualFold(mention, rt.d.BotUsername) {
			return nil, false
		}
		switch Op(cmd) {
		case OpStart, OpUpload, OpBatch, OpBroadcast:
			req.Op = Op(cmd)
		default:
			return nil, false
		}
		req.Command = cmd
		req.Text = rest
	}

	req.Logger = rt.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("op", string(req.Op)),
	)
	return req, true
}

func (rt *Router) outcome(ctx context.Context, req *Request, err error) Outcome {
	out := Outcome{Op: req.Op, Err: err}
	switch {
	case err == nil:
		out.Status = StatusOK
	case errors.Is(err, ErrUnauthorized):
		out.Status = StatusUnauthorized
	case errors.Is(err, ErrBadRequest):
		out.Status = StatusRejected
	default:
		out.Status = StatusFailed
		req.notify(ctx, noticeFailure)
	}
	return out
}

func isExpected(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBadRequest)
}
