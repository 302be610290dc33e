package router

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
)

var ridSeq uint64

// newReqID returns a short id for correlating log lines of one request.
func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(n, 36)
}

// parseCommand splits "/cmd@bot rest of text" into ("cmd", "bot", "rest of text").
// ok is false when text is not a command.
func parseCommand(text string) (cmd, mention, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", "", false
	}
	word := text
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i:])
	}
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word, mention = word[:i], word[i+1:]
	}
	if word == "" {
		return "", "", "", false
	}
	return strings.ToLower(word), mention, rest, true
}
