package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	// UpdateOther covers update types the bot does not act on (edits, callbacks, ...).
	UpdateOther UpdateKind = "other"
)

type Update struct {
	ID      int
	Kind    UpdateKind
	Message *Message
}

// ChatID returns the conversation the update belongs to (0 if none).
func (u Update) ChatID() int64 {
	if u.Message == nil {
		return 0
	}
	return u.Message.ChatID
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	Attachment   *Attachment
}

// FileKind identifies how a stored file must be sent back.
type FileKind string

const (
	FileDocument FileKind = "document"
	FilePhoto    FileKind = "photo"
	FileVideo    FileKind = "video"
)

func (k FileKind) Valid() bool {
	switch k {
	case FileDocument, FilePhoto, FileVideo:
		return true
	}
	return false
}

// Attachment is an uploaded media item.
//
// FileID is reusable for sending the same upload again but must never be
// shown to users; UniqueID is stable and safe to embed in links.
type Attachment struct {
	Kind     FileKind
	FileID   string
	UniqueID string
	FileName string
	Size     int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is an inline URL button.
type Button struct {
	Text string
	URL  string
}

type SendOptions struct {
	DisablePreview bool
	// Buttons are rendered as an inline keyboard, one slice per row.
	Buttons [][]Button
	Caption string // SendFile only
}

// FileRef addresses a previously uploaded file on the platform.
type FileRef struct {
	Kind   FileKind
	FileID string
}

// Sender is the outbound half of the chat platform client.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendFile(ctx context.Context, to ChatTarget, f FileRef, opt *SendOptions) (MessageRef, error)
}

// Decoder turns a raw webhook payload into an Update.
type Decoder interface {
	Decode(raw []byte) (Update, error)
}

// DecoderFunc adapts a plain function to Decoder.
type DecoderFunc func(raw []byte) (Update, error)

func (f DecoderFunc) Decode(raw []byte) (Update, error) { return f(raw) }
