package app

import (
	"fmt"
	"strings"
	"time"

	"botte/internal/config"
	"botte/internal/console"
	"botte/internal/ingress"
	"botte/internal/mailbox"
	"botte/internal/observability/pprof"
	"botte/internal/sink"
	logx "botte/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	chatID := strings.TrimSpace(lc.Chat.ChatID)
	return logx.Config{
		Level:   lc.Level,
		Console: lc.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled && chatID != "",
			ChatID:     chatID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
		},
	}
}

// buildRegistry turns the telegram and webhook sections into the immutable sink table.
// Detailed hooks come first, then the bare hook_urls.
func buildRegistry(cfg *config.Config) (*sink.Registry, error) {
	chats := sink.NewChatTargetSet(cfg.Telegram.AllowChatID...)

	var hooks []sink.HookTarget
	if w := cfg.Webhook; w != nil {
		for i, h := range w.Hooks {
			typ, err := sink.ParseHookType(h.Type)
			if err != nil {
				return nil, fmt.Errorf("webhook.hooks[%d]: %w", i, err)
			}
			hooks = append(hooks, sink.Detailed{
				Endpoint: strings.TrimSpace(h.URL),
				Keyword:  h.Keyword,
				Type:     typ,
			})
		}
		for _, u := range w.HookURLs {
			hooks = append(hooks, sink.Simple{Endpoint: strings.TrimSpace(u)})
		}
	}
	return sink.NewRegistry(chats, hooks)
}

func mapMailConfig(m *config.MailConfig) mailbox.Config {
	return mailbox.Config{
		Service:     strings.TrimSpace(m.IMAPService),
		Email:       strings.TrimSpace(m.Email),
		Password:    m.Passwd,
		Mailbox:     m.Mailbox,
		FilterUsers: m.FilterUsers,
		Interval:    config.Duration(m.PollInterval, mailbox.DefaultInterval),
	}
}

func mapIngressConfig(cfg *config.Config) ingress.Config {
	return ingress.Config{
		Addr:           strings.TrimSpace(cfg.Listen),
		APIKey:         cfg.APIKey,
		PublishTimeout: 30 * time.Second,
	}
}

func mapDebugConfig(d *config.DebugConfig) pprof.Config {
	return pprof.Config{Addr: strings.TrimSpace(d.Listen), Token: d.Token}
}

func mapConsoleConfig(cfg *config.Config) console.Config {
	var admin string
	if len(cfg.Telegram.AdminChatID) > 0 {
		admin = cfg.Telegram.AdminChatID[0]
	}
	return console.Config{
		AdminChatID: admin,
		Operators:   cfg.Telegram.AllowChatID,
	}
}
