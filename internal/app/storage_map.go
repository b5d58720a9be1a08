package app

import (
	"context"
	"strings"
	"time"

	"botte/internal/config"
	"botte/internal/mailbox"
	"botte/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: config.Duration(sc.BusyTimeout, time.Second),
	}, true
}

// emailRecorder persists accepted emails from the poller.
func emailRecorder(st storage.Store) mailbox.Recorder {
	return mailbox.RecorderFunc(func(ctx context.Context, r mailbox.Record) error {
		return st.AppendEmail(ctx, storage.EmailEntry{
			At:      r.SeenAt,
			TraceID: r.TraceID,
			Sender:  r.Key.Sender,
			SentAt:  r.Key.Unix,
			From:    r.From,
			To:      r.To,
			Subject: r.Subject,
			Date:    r.Date,
			Body:    r.Body,
		})
	})
}
