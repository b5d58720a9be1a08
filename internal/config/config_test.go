package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
listen: 127.0.0.1:3000
telegram:
  token: "123:abc"
  allow_chat_id: [100, "-200"]
  admin_chat_id: ["100"]
  poll_timeout: 10s
webhook:
  hooks:
    - url: https://hooks.example.com/a
      keyword: alert
      type: dingtalk
  hook_urls:
    - https://hooks.example.com/raw
mail:
  imap_service: imap.example.com
  email: bot@example.com
  passwd: ${BOTTE_TEST_PASSWD}
  filter_users: [alerts@example.com]
  dedup_retention: 24h
hub:
  capacity: 64
logging:
  level: debug
storage:
  driver: file
  path: ./data/botte
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("BOTTE_TEST_PASSWD", "s3cret")
	m := NewManager(writeFile(t, "botte.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.Telegram.AllowChatID, ","); got != "100,-200" {
		t.Fatalf("allow_chat_id = %s", got)
	}
	if cfg.Mail == nil || cfg.Mail.Passwd != "s3cret" {
		t.Fatalf("mail = %+v", cfg.Mail)
	}
	if cfg.Webhook == nil || len(cfg.Webhook.Hooks) != 1 || cfg.Webhook.Hooks[0].Type != "dingtalk" {
		t.Fatalf("webhook = %+v", cfg.Webhook)
	}
	if cfg.Hub.Capacity != 64 {
		t.Fatalf("hub.capacity = %d", cfg.Hub.Capacity)
	}
	if Duration(cfg.Mail.PollInterval, 10*time.Second) != 10*time.Second {
		t.Fatal("poll_interval should default")
	}
	if Duration(cfg.Mail.DedupRetention, 0) != 24*time.Hour {
		t.Fatal("dedup_retention not parsed")
	}
	if !cfg.Telegram.GreetingEnabled() || !cfg.Logging.ConsoleEnabled() {
		t.Fatal("greeting and console default to on")
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the loaded config")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("x.yaml", []byte("telegram:\n  token: t\n  chat_ids: [1]\n"))
	if err == nil || !strings.Contains(err.Error(), "chat_ids") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
	if _, err := Decode("x.json", []byte(`{"telegram":{"token":"t"}} {}`)); err == nil {
		t.Fatal("trailing data should be rejected")
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("TELOXIDE_TOKEN", "")
	t.Setenv("BOTTE_TELEGRAM_TOKEN", "from-env")
	m := NewManager(writeFile(t, "botte.json", `{"telegram":{"allow_chat_id":["1"]}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t", AllowChatID: IDList{"1"}}}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no token", mutate: func(c *Config) { c.Telegram.Token = "" }, want: "telegram.token"},
		{name: "bad hook scheme", mutate: func(c *Config) {
			c.Webhook = &WebhookConfig{HookURLs: []string{"ftp://x"}}
		}, want: "hook_urls[0]"},
		{name: "bad hook type", mutate: func(c *Config) {
			c.Webhook = &WebhookConfig{Hooks: []HookConfig{{URL: "https://x", Type: "slack"}}}
		}, want: "hooks[0].type"},
		{name: "mail without service", mutate: func(c *Config) {
			c.Mail = &MailConfig{Email: "a@b"}
		}, want: "mail.imap_service"},
		{name: "bad interval", mutate: func(c *Config) {
			c.Mail = &MailConfig{IMAPService: "h", Email: "a@b", PollInterval: "soon"}
		}, want: "mail.poll_interval"},
		{name: "unknown storage", mutate: func(c *Config) {
			c.Storage = &StorageConfig{Driver: "redis"}
		}, want: "storage.driver"},
		{name: "chat log without id", mutate: func(c *Config) {
			c.Logging.Chat.Enabled = true
		}, want: "logging.chat.chat_id"},
		{name: "public debug without token", mutate: func(c *Config) {
			c.Debug = &DebugConfig{Listen: "0.0.0.0:6060"}
		}, want: "debug.listen"},
		{name: "loopback debug", mutate: func(c *Config) {
			c.Debug = &DebugConfig{}
		}},
		{name: "api key without listener", mutate: func(c *Config) {
			c.APIKey = "k"
		}, want: "api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "old-token"},
		Mail:     &MailConfig{IMAPService: "imap", Passwd: "old-pass"},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "new-token"},
		Mail:     &MailConfig{IMAPService: "imap", Passwd: "new-pass"},
		Hub:      HubConfig{Capacity: 8},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	if got := strings.Join(changed, ","); got != "hub,mail,telegram" {
		t.Fatalf("changed = %s", got)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if oldCfg.Telegram.Token != "old-token" || newCfg.Mail.Passwd != "new-pass" {
		t.Fatal("SummarizeChange must not mutate its inputs")
	}
}

func TestIDListRejectsFractions(t *testing.T) {
	if _, err := Decode("x.json", []byte(`{"telegram":{"allow_chat_id":[1.5]}}`)); err == nil {
		t.Fatal("fractional chat id should be rejected")
	}
}

func TestExampleConfig(t *testing.T) {
	path := filepath.Join("..", "..", "config", "botte.example.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOTTE_MAIL_PASSWD", "pw")
	cfg, err := Decode(path, b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cfg.Telegram.Token = "x"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Mail == nil || cfg.Mail.Passwd != "pw" {
		t.Fatalf("mail = %+v", cfg.Mail)
	}
}
