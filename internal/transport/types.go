package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound chat message. Chat identifiers are opaque strings.
type Message struct {
	ID           int
	ChatID       string
	FromID       string
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID string
}

type MessageRef struct {
	ChatID    string
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the "send text to identifier" capability used by the chat sink.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that expose a command menu.
type CommandMenuUpdater interface {
	SetCommands(cmds []BotCommand) error
}
