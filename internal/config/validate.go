package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"botte/internal/observability/pprof"
	"botte/internal/sink"
)

// Token environment variables, checked in order when telegram.token is empty.
var TokenEnv = []string{"TELOXIDE_TOKEN", "BOTTE_TELEGRAM_TOKEN"}

// ApplyEnv fills values the file left empty from the environment.
func ApplyEnv(cfg *Config) {
	if cfg == nil || strings.TrimSpace(cfg.Telegram.Token) != "" {
		return
	}
	for _, k := range TokenEnv {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			cfg.Telegram.Token = v
			return
		}
	}
}

// Validate reports every problem it finds, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.APIKey != "" && strings.TrimSpace(cfg.Listen) == "" {
		add("api_key is set but listen is empty")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (or set %s)", strings.Join(TokenEnv, "/"))
	}
	for i, id := range cfg.Telegram.AllowChatID {
		if id == "" {
			add("telegram.allow_chat_id[%d] is empty", i)
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Telegram.RatePerSec < 0 {
		add("telegram.rate_per_sec must be >= 0")
	}

	if w := cfg.Webhook; w != nil {
		for i, h := range w.Hooks {
			if err := checkURL(h.URL); err != nil {
				add("webhook.hooks[%d].url: %w", i, err)
			}
			if _, err := sink.ParseHookType(h.Type); err != nil {
				add("webhook.hooks[%d].type: %w", i, err)
			}
		}
		for i, u := range w.HookURLs {
			if err := checkURL(u); err != nil {
				add("webhook.hook_urls[%d]: %w", i, err)
			}
		}
		if _, err := ParseDurationField("webhook.timeout", w.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	if m := cfg.Mail; m != nil {
		if strings.TrimSpace(m.IMAPService) == "" {
			add("mail.imap_service is required")
		}
		if strings.TrimSpace(m.Email) == "" {
			add("mail.email is required")
		}
		if _, err := ParseDurationField("mail.poll_interval", m.PollInterval); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("mail.dedup_retention", m.DedupRetention); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Hub.Capacity < 0 {
		add("hub.capacity must be >= 0")
	}

	if lc := cfg.Logging.Chat; lc.Enabled && strings.TrimSpace(lc.ChatID) == "" {
		add("logging.chat.chat_id is required when logging.chat.enabled")
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required for driver %q", s.Driver)
			}
		default:
			add("storage.driver %q is not one of none|file|sqlite", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if d := cfg.Debug; d != nil {
		addr := strings.TrimSpace(d.Listen)
		if addr == "" {
			addr = pprof.DefaultAddr
		}
		if strings.TrimSpace(d.Token) == "" && !pprof.IsLoopbackAddr(addr) {
			add("debug.listen %q is not loopback; set debug.token", addr)
		}
	}

	return errors.Join(errs...)
}

func checkURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
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

// Duration parses a field already checked by Validate, falling back to def when unset or zero.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
