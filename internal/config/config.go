package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "relaybot/pkg/logx"
)

// Config is the full process configuration.
//
// Durations are Go duration strings ("500ms", "10s", "1m"); "0s" or empty
// disables optional timeouts.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Webhook   WebhookConfig   `json:"webhook"`
	Gateway   GatewayConfig   `json:"gateway"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Links     LinksConfig     `json:"links"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"BOT_TOKEN"`
	// Admins may upload, list and broadcast.
	Admins []int64 `json:"admins" env:"ADMINS" envSeparator:","`
	// Username is used when the bot identity cannot be fetched (offline mode).
	Username string `json:"username,omitempty" env:"BOT_USERNAME"`
	Offline  bool   `json:"offline,omitempty" env:"BOT_OFFLINE"`
}

type WebhookConfig struct {
	// PublicURL is the externally reachable https base. When set the webhook
	// is registered with the platform at startup.
	PublicURL string `json:"public_url" env:"PUBLIC_URL"`
	Listen    string `json:"listen" env:"LISTEN_ADDR"`
	Path      string `json:"path" env:"WEBHOOK_PATH"`
	Secret    string `json:"secret" env:"WEBHOOK_SECRET"`
}

// URL is PublicURL joined with Path, or "" when no public URL is set.
func (w WebhookConfig) URL() string {
	base := strings.TrimRight(strings.TrimSpace(w.PublicURL), "/")
	if base == "" {
		return ""
	}
	return base + w.Path
}

type GatewayConfig struct {
	Workers        int    `json:"workers" env:"GATEWAY_WORKERS"`
	QueueSize      int    `json:"queue_size" env:"GATEWAY_QUEUE_SIZE"`
	HandlerTimeout string `json:"handler_timeout" env:"HANDLER_TIMEOUT"`
}

type BroadcastConfig struct {
	SendTimeout string `json:"send_timeout" env:"SEND_TIMEOUT"`
}

type StorageConfig struct {
	DSN         string `json:"dsn" env:"DATABASE_URL"`
	BusyTimeout string `json:"busy_timeout" env:"DB_BUSY_TIMEOUT"`
}

type LinksConfig struct {
	Host string `json:"host" env:"LINK_HOST"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
	File   string `json:"file,omitempty" env:"LOG_FILE"`
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{Level: l.Level, Format: l.Format, File: l.File}
}

func Defaults() Config {
	return Config{
		Webhook: WebhookConfig{
			Listen: ":8443",
			Path:   "/webhook",
		},
		Gateway: GatewayConfig{
			Workers:        4,
			QueueSize:      256,
			HandlerTimeout: "0s",
		},
		Broadcast: BroadcastConfig{SendTimeout: "10s"},
		Storage:   StorageConfig{BusyTimeout: "1s"},
		Links:     LinksConfig{Host: "t.me"},
		Logging:   LoggingConfig{Level: "info", Format: "console"},
	}
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token (BOT_TOKEN) is required")
	}
	for _, id := range c.Telegram.Admins {
		if id == 0 {
			return errors.New("telegram.admins: 0 is not a valid user id")
		}
	}
	if c.Telegram.Offline && strings.TrimSpace(c.Telegram.Username) == "" {
		return errors.New("telegram.username is required in offline mode")
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("storage.dsn (DATABASE_URL) is required")
	}
	if strings.TrimSpace(c.Webhook.Listen) == "" {
		return errors.New("webhook.listen must not be empty")
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path %q must start with /", c.Webhook.Path)
	}
	if raw := strings.TrimSpace(c.Webhook.PublicURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("webhook.public_url %q is not an absolute URL", raw)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("webhook.public_url %q must use https", raw)
		}
	}
	if c.Gateway.Workers < 1 || c.Gateway.Workers > 1024 {
		return fmt.Errorf("gateway.workers must be in [1,1024], got %d", c.Gateway.Workers)
	}
	if c.Gateway.QueueSize < 1 {
		return fmt.Errorf("gateway.queue_size must be >= 1, got %d", c.Gateway.QueueSize)
	}
	for path, raw := range map[string]string{
		"gateway.handler_timeout": c.Gateway.HandlerTimeout,
		"broadcast.send_timeout":  c.Broadcast.SendTimeout,
		"storage.busy_timeout":    c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.Links.Host) == "" {
		return errors.New("links.host must not be empty")
	}
	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	return nil
}

func (g GatewayConfig) HandlerTimeoutDuration() time.Duration {
	d, _ := ParseDurationField("gateway.handler_timeout", g.HandlerTimeout)
	return d
}

func (b BroadcastConfig) SendTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("broadcast.send_timeout", b.SendTimeout, 10*time.Second)
	return d
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, time.Second)
	return d
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
