package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/registry"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// handleStart registers the sender and either greets them or, for a deep
// link, sends back the shared file.
func (rt *Router) handleStart(ctx context.Context, req *Request) error {
	reg, err := rt.d.Directory.RegisterIfAbsent(ctx, req.FromID, req.Chat.ChatID)
	if err != nil {
		return err
	}
	if reg == directory.Inserted {
		req.Logger.Debug("new recipient")
	}

	fp := ""
	if f := strings.Fields(req.Text); len(f) > 0 {
		fp = f[0]
	}
	if fp == "" {
		req.reply(ctx, noticeWelcome, nil)
		return nil
	}

	res, err := rt.d.Registry.ByFingerprint(ctx, fp)
	if errors.Is(err, storage.ErrNotFound) {
		req.reply(ctx, noticeFileNotFound, nil)
		return fmt.Errorf("%w: unknown link %q", ErrBadRequest, fp)
	}
	if err != nil {
		return err
	}
	ref := kit.FileRef{Kind: kit.FileKind(res.Kind), FileID: res.ResourceID}
	if _, err := rt.d.Sender.SendFile(ctx, req.Chat, ref, nil); err != nil {
		return fmt.Errorf("send %s %s: %w", res.Kind, res.ID, err)
	}
	return nil
}

func (rt *Router) handleUpload(ctx context.Context, req *Request) error {
	a := req.Message.Attachment
	if a == nil {
		req.reply(ctx, noticeUploadUsage, nil)
		return fmt.Errorf("%w: no attachment", ErrBadRequest)
	}
	start := time.Now()
	ref, err := rt.d.Registry.Register(ctx, req.FromID, a.FileID, a.UniqueID, a.Kind)
	if errors.Is(err, registry.ErrInvalidResource) {
		req.reply(ctx, noticeUploadRejected, nil)
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err != nil {
		return err
	}

	link := rt.d.Links.Encode(rt.d.BotUsername, ref.Fingerprint)
	req.reply(ctx, noticeUploaded+link, &kit.SendOptions{DisablePreview: true})
	rt.audit(ctx, req, storage.AuditEntry{
		Action: "upload",
		Target: ref.ID,
		OK:     1,
		TookMS: time.Since(start).Milliseconds(),
	})
	return nil
}

func (rt *Router) handleBatch(ctx context.Context, req *Request) error {
	items, err := rt.d.Registry.ListByOwner(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		req.reply(ctx, noticeNoFiles, nil)
		return nil
	}
	rows := make([][]kit.Button, 0, len(items))
	for i, it := range items {
		rows = append(rows, []kit.Button{{
			Text: "File " + strconv.Itoa(i+1),
			URL:  rt.d.Links.Encode(rt.d.BotUsername, it.Fingerprint),
		}})
	}
	req.reply(ctx, noticeFileList, &kit.SendOptions{Buttons: rows})
	return nil
}

func (rt *Router) handleBroadcast(ctx context.Context, req *Request) error {
	if len(strings.Fields(req.Text)) == 0 {
		req.reply(ctx, noticeBroadcastUsage, nil)
		return fmt.Errorf("%w: empty broadcast", ErrBadRequest)
	}
	recipients, err := rt.d.Directory.ListAll(ctx)
	if err != nil {
		return err
	}

	// The run outlives the handler deadline: it is never cancelled once
	// started and the admin always gets the completion notice.
	run := context.WithoutCancel(ctx)
	if rt.d.Background == nil {
		rt.runBroadcast(run, req, recipients)
		return nil
	}
	rt.d.Background.Go0("broadcast."+req.ReqID, func(context.Context) {
		rt.runBroadcast(run, req, recipients)
	})
	req.Logger.Info("broadcast queued", logx.Int("recipients", len(recipients)))
	return nil
}

func (rt *Router) runBroadcast(ctx context.Context, req *Request, recipients []storage.Recipient) {
	rep := rt.d.Broadcast.Run(ctx, req.Text, recipients)

	e := storage.AuditEntry{
		Action: "broadcast",
		Target: rep.ID,
		OK:     rep.OK(),
		Fail:   rep.Fail(),
		TookMS: rep.Took.Milliseconds(),
	}
	if err := rep.Err(); err != nil {
		e.Error = truncate(err.Error(), 500)
	}
	rt.audit(ctx, req, e)

	req.notify(ctx, noticeBroadcastDone)
}

// audit appends a row best-effort; failures are logged only.
func (rt *Router) audit(ctx context.Context, req *Request, e storage.AuditEntry) {
	if rt.d.Audit == nil {
		return
	}
	e.ActorID = req.FromID
	e.ChatID = req.Chat.ChatID
	if err := rt.d.Audit.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		req.Logger.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
