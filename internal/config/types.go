package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	// Listen is the ingress HTTP address. Empty disables ingress.
	Listen string `json:"listen,omitempty"`
	// APIKey, when set, must accompany ingress requests (api_key header or Bearer token).
	APIKey   string         `json:"api_key,omitempty"`
	Telegram TelegramConfig `json:"telegram"`
	Webhook  *WebhookConfig `json:"webhook,omitempty"`
	// Mail is optional; without it the mailbox poller does not run.
	Mail    *MailConfig    `json:"mail,omitempty"`
	Hub     HubConfig      `json:"hub"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	// Debug enables the pprof and relay status listener.
	Debug *DebugConfig `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AllowChatID lists the chat identifiers every message is delivered to.
	AllowChatID IDList `json:"allow_chat_id"`
	// AdminChatID[0] may issue privileged console commands.
	AdminChatID IDList `json:"admin_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec paces chat sends. 0 disables pacing.
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// Greeting is broadcast at startup. Disable with greeting: false.
	Greeting *bool `json:"greeting,omitempty"`
}

// GreetingEnabled defaults to true.
func (t TelegramConfig) GreetingEnabled() bool {
	return t.Greeting == nil || *t.Greeting
}

// WebhookConfig lists HTTP targets.
//
// Example:
//
//	webhook:
//	  hooks:
//	    - url: https://oapi.dingtalk.com/robot/send?access_token=...
//	      keyword: alert
//	      type: dingtalk
//	  hook_urls: ["https://example.com/raw"]
type WebhookConfig struct {
	Hooks []HookConfig `json:"hooks,omitempty"`
	// HookURLs are bare targets that receive the raw message body.
	HookURLs []string `json:"hook_urls,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

type HookConfig struct {
	URL     string `json:"url"`
	Keyword string `json:"keyword,omitempty"`
	// Type is "plain" (default) or "dingtalk".
	Type string `json:"type,omitempty"`
}

type MailConfig struct {
	IMAPService string   `json:"imap_service"`
	Email       string   `json:"email"`
	Passwd      string   `json:"passwd"`
	FilterUsers []string `json:"filter_users"`
	Mailbox     string   `json:"mailbox,omitempty"`
	// PollInterval defaults to 10s.
	PollInterval string `json:"poll_interval,omitempty"`
	// DedupRetention evicts remembered emails after this long. "0s" keeps them forever.
	DedupRetention string `json:"dedup_retention,omitempty"`
}

type HubConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/botte.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DebugConfig binds to loopback unless a token is set.
type DebugConfig struct {
	Listen string `json:"listen,omitempty"`
	Token  string `json:"token,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

// ConsoleEnabled defaults to true.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards records at or above MinLevel to one chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// IDList accepts chat identifiers written as strings or numbers.
type IDList []string

func (l *IDList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(IDList, 0, len(raw))
	for i, r := range raw {
		r = bytes.TrimSpace(r)
		if len(r) > 0 && r[0] == '"' {
			var s string
			if err := json.Unmarshal(r, &s); err != nil {
				return err
			}
			out = append(out, strings.TrimSpace(s))
			continue
		}
		var n json.Number
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("chat id #%d: %w", i, err)
		}
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return fmt.Errorf("chat id #%d: %q is not an integer", i, n.String())
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}
