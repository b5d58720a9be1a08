package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EmailEntry is one accepted email as broadcast by the mailbox poller.
type EmailEntry struct {
	At      time.Time `json:"at"`
	TraceID string    `json:"trace_id"`
	Sender  string    `json:"sender"`
	SentAt  int64     `json:"sent_at"` // unix seconds, the dedup key
	From    string    `json:"from"`
	To      string    `json:"to,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Date    string    `json:"date,omitempty"`
	Body    string    `json:"body"`
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       string    `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        string    `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	Error         string    `json:"error,omitempty"`
}
