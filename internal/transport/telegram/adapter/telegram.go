package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	Token string
	// Offline skips the getMe call on construction. Username must then be set.
	Offline  bool
	Username string
	// HTTPTimeout bounds every Bot API call.
	HTTPTimeout time.Duration
}

// Adapter wraps a telebot Bot. It never polls: updates arrive through the
// webhook gateway and are decoded with Decode.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var ErrEmptyPayload = errors.New("telegram: empty update payload")

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Username is the bot's @handle without the leading "@".
func (a *Adapter) Username() string {
	if a.bot != nil && a.bot.Me != nil && a.bot.Me.Username != "" {
		return a.bot.Me.Username
	}
	return strings.TrimPrefix(a.cfg.Username, "@")
}

// Decode parses one webhook body into a transport update.
func (a *Adapter) Decode(raw []byte) (kit.Update, error) {
	return Decode(raw)
}

func Decode(raw []byte) (kit.Update, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return kit.Update{}, ErrEmptyPayload
	}
	var u tele.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		return kit.Update{}, fmt.Errorf("telegram: decode update: %w", err)
	}
	if u.ID == 0 {
		return kit.Update{}, errors.New("telegram: update_id missing")
	}
	return FromTelebot(u), nil
}

// FromTelebot maps a telebot update onto the transport model.
func FromTelebot(u tele.Update) kit.Update {
	m := u.Message
	if m == nil || m.Chat == nil {
		return kit.Update{ID: u.ID, Kind: kit.UpdateOther}
	}
	msg := &kit.Message{
		ID:         m.ID,
		ChatID:     m.Chat.ID,
		ThreadID:   m.ThreadID,
		Text:       m.Text,
		Caption:    m.Caption,
		Attachment: attachmentFromMsg(m),
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	return kit.Update{ID: u.ID, Kind: kit.UpdateMessage, Message: msg}
}

func attachmentFromMsg(m *tele.Message) *kit.Attachment {
	switch {
	case m.Document != nil:
		return &kit.Attachment{
			Kind:     kit.FileDocument,
			FileID:   m.Document.FileID,
			UniqueID: m.Document.UniqueID,
			FileName: m.Document.FileName,
			Size:     m.Document.FileSize,
		}
	case m.Photo != nil:
		return &kit.Attachment{
			Kind:     kit.FilePhoto,
			FileID:   m.Photo.FileID,
			UniqueID: m.Photo.UniqueID,
			Size:     m.Photo.FileSize,
		}
	case m.Video != nil:
		return &kit.Attachment{
			Kind:     kit.FileVideo,
			FileID:   m.Video.FileID,
			UniqueID: m.Video.UniqueID,
			FileName: m.Video.FileName,
			Size:     m.Video.FileSize,
		}
	}
	return nil
}

// SetWebhook registers publicURL with Telegram so updates are pushed to us.
func (a *Adapter) SetWebhook(ctx context.Context, publicURL, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wh := &tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: publicURL},
		SecretToken:    secret,
		AllowedUpdates: []string{"message"},
	}
	if err := a.bot.SetWebhook(wh); err != nil {
		return fmt.Errorf("telegram setWebhook: %w", err)
	}
	a.log.Info("webhook registered", logx.String("url", publicURL))
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitTelegramText(text, telegramTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}

		sendOpt := &tele.SendOptions{
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// Markup goes on the first chunk only.
		if i == 0 {
			sendOpt.ReplyMarkup = inlineMarkup(opt.Buttons)
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendFile(ctx context.Context, to kit.ChatTarget, f kit.FileRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	what, err := sendable(f, opt.Caption)
	if err != nil {
		return kit.MessageRef{}, err
	}
	sendOpt := &tele.SendOptions{
		ThreadID:    to.ThreadID,
		ReplyMarkup: inlineMarkup(opt.Buttons),
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, what, sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func sendable(f kit.FileRef, caption string) (tele.Sendable, error) {
	if strings.TrimSpace(f.FileID) == "" {
		return nil, errors.New("telegram: empty file id")
	}
	file := tele.File{FileID: f.FileID}
	switch f.Kind {
	case kit.FileDocument:
		return &tele.Document{File: file, Caption: caption}, nil
	case kit.FilePhoto:
		return &tele.Photo{File: file, Caption: caption}, nil
	case kit.FileVideo:
		return &tele.Video{File: file, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("telegram: unsupported file kind %q", f.Kind)
	}
}

func inlineMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]tele.Btn, 0, len(r))
		for _, b := range r {
			btns = append(btns, rm.URL(b.Text, b.URL))
		}
		if len(btns) > 0 {
			out = append(out, rm.Row(btns...))
		}
	}
	if len(out) == 0 {
		return nil
	}
	rm.Inline(out...)
	return rm
}
