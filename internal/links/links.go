// Package links builds the public deep links handed out for shared files.
package links

import (
	"net/url"
	"strings"
)

const DefaultHost = "t.me"

// Encoder turns a bot username and a fingerprint into a start link.
// The zero value uses DefaultHost.
type Encoder struct {
	Host string
}

// Encode returns https://<host>/<bot>?start=<fingerprint>.
//
// It is a pure function of its inputs. Empty inputs are a programming error
// and panic.
func (e Encoder) Encode(bot, fingerprint string) string {
	bot = strings.TrimPrefix(strings.TrimSpace(bot), "@")
	fingerprint = strings.TrimSpace(fingerprint)
	if bot == "" {
		panic("links: empty bot username")
	}
	if fingerprint == "" {
		panic("links: empty fingerprint")
	}
	host := strings.TrimSpace(e.Host)
	if host == "" {
		host = DefaultHost
	}
	u := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     "/" + bot,
		RawQuery: url.Values{"start": {fingerprint}}.Encode(),
	}
	return u.String()
}

// Encode uses the default host.
func Encode(bot, fingerprint string) string {
	return Encoder{}.Encode(bot, fingerprint)
}
