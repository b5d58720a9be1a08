package config

import (
	"reflect"
	"sort"
	"strings"

	logx "botte/pkg/logx"
)

// SummarizeChange returns the names of changed sections and safe structured attrs for
// logging. Secrets (bot token, mail password) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Listen) != strings.TrimSpace(newCfg.Listen) {
		changed = append(changed, "listen")
		attrs = append(attrs, logx.String("listen", strings.TrimSpace(newCfg.Listen)))
	}

	if oldCfg.APIKey != newCfg.APIKey {
		changed = append(changed, "api_key")
		attrs = append(attrs, logx.Bool("api_key.set", newCfg.APIKey != ""))
	}

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)
	ot.Token, nt.Token = "", ""
	if tokenChanged || !reflect.DeepEqual(ot, nt) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.allow_count", len(nt.AllowChatID)),
			logx.Int("telegram.admin_count", len(nt.AdminChatID)),
			logx.Bool("telegram.token_changed", tokenChanged),
		)
	}

	if !reflect.DeepEqual(oldCfg.Webhook, newCfg.Webhook) {
		changed = append(changed, "webhook")
		n := 0
		if newCfg.Webhook != nil {
			n = len(newCfg.Webhook.Hooks) + len(newCfg.Webhook.HookURLs)
		}
		attrs = append(attrs, logx.Int("webhook.targets", n))
	}

	// Mail (never log password)
	om, nm := derefMail(oldCfg.Mail), derefMail(newCfg.Mail)
	passwdChanged := om.Passwd != nm.Passwd
	om.Passwd, nm.Passwd = "", ""
	if passwdChanged || !reflect.DeepEqual(om, nm) || (oldCfg.Mail == nil) != (newCfg.Mail == nil) {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.Bool("mail.enabled", newCfg.Mail != nil),
			logx.String("mail.imap_service", nm.IMAPService),
			logx.Int("mail.filter_count", len(nm.FilterUsers)),
			logx.Bool("mail.passwd_changed", passwdChanged),
		)
	}

	if oldCfg.Hub != newCfg.Hub {
		changed = append(changed, "hub")
		attrs = append(attrs, logx.Int("hub.capacity", newCfg.Hub.Capacity))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	// Nil means disabled.
	var oDriver, nDriver string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oPathSet != nPathSet || !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.Bool("debug.enabled", newCfg.Debug != nil))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefMail(m *MailConfig) MailConfig {
	if m == nil {
		return MailConfig{}
	}
	return *m
}
