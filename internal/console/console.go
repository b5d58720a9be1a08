// Package console is the operator command surface of the relay. Commands arrive as
// transport updates (Telegram messages) and replies go back through the same sender.
package console

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"botte/internal/hub"
	"botte/internal/mailbox"
	rtsup "botte/internal/runtime/supervisor"
	"botte/internal/storage"
	kit "botte/internal/transport"
	logx "botte/pkg/logx"
)

// Access controls who may run a command.
type Access int

const (
	AccessEveryone Access = iota
	// AccessOperator: the admin or any subscribed chat.
	AccessOperator
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Audit records each invocation in the audit store.
	Audit  bool
	Handle HandlerFunc
}

type Request struct {
	Chat         kit.ChatTarget
	FromID       string
	FromUsername string
	Command      string
	// Text is everything after the command word, trimmed.
	Text    string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Console *Console

	cmd Command
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Console.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type AuditEntry = storage.AuditEntry

type Auditor interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Publisher is the hub side of /mock.
type Publisher interface {
	Publish(ctx context.Context, msg string) error
}

type Config struct {
	// AdminChatID may run admin commands. Empty disables them.
	AdminChatID string
	// Operators are the subscribed chats; they may run operator commands.
	Operators []string
	// Timeout bounds a single command. 0 means 30s.
	Timeout time.Duration
}

// Deps are the relay components the commands read from. Nil fields disable the
// commands that need them.
type Deps struct {
	Sender    kit.Sender
	Publisher Publisher
	Hub       func() hub.Stats
	Tasks     func() rtsup.Snapshot
	Mails     func() []mailbox.Record
	// Events returns delivery outcome totals keyed by event type.
	Events func() map[string]uint64
	Audit  Auditor
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
}

type Console struct {
	cfg       Config
	log       logx.Logger
	sender    kit.Sender
	deps      Deps
	operators map[string]struct{}
	startedAt time.Time

	cmds  []Command
	index map[string]Command
}

func New(cfg Config, deps Deps, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if deps.Exit == nil {
		deps.Exit = osExit
	}
	c := &Console{
		cfg:       cfg,
		log:       log,
		sender:    deps.Sender,
		deps:      deps,
		operators: make(map[string]struct{}, len(cfg.Operators)),
		startedAt: time.Now(),
		index:     map[string]Command{},
	}
	for _, id := range cfg.Operators {
		if id = strings.TrimSpace(id); id != "" {
			c.operators[id] = struct{}{}
		}
	}
	c.register(c.builtins()...)
	return c
}

func (c *Console) register(cmds ...Command) {
	for _, cmd := range cmds {
		if cmd.Name == "" || cmd.Handle == nil {
			continue
		}
		c.cmds = append(c.cmds, cmd)
		c.index[cmd.Name] = cmd
		for _, a := range cmd.Aliases {
			if _, taken := c.index[a]; !taken {
				c.index[a] = cmd
			}
		}
	}
}

// Commands returns the registered commands in registration order.
func (c *Console) Commands() []Command { return append([]Command(nil), c.cmds...) }

// Menu lists commands for the chat client's command menu.
func (c *Console) Menu() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(c.cmds))
	for _, cmd := range c.cmds {
		out = append(out, kit.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	return out
}

func (c *Console) isAdmin(chatID string) bool {
	return c.cfg.AdminChatID != "" && chatID == c.cfg.AdminChatID
}

func (c *Console) allowed(a Access, chatID string) bool {
	switch a {
	case AccessAdmin:
		return c.isAdmin(chatID)
	case AccessOperator:
		if c.isAdmin(chatID) {
			return true
		}
		_, ok := c.operators[chatID]
		return ok
	default:
		return true
	}
}

// Run handles updates one at a time until ctx ends or updates is closed.
func (c *Console) Run(ctx context.Context, updates <-chan kit.Update) error {
	c.log.Info("console started", logx.Int("commands", len(c.cmds)), logx.Bool("admin_set", c.cfg.AdminChatID != ""))
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				c.log.Info("console stopped (updates channel closed)")
				return nil
			}
			c.Handle(ctx, up)
		}
	}
}

// Handle routes one update. Non-command text is ignored.
func (c *Console) Handle(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, rest, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID}

	cmd, found := c.index[word]
	if !found {
		c.reply(ctx, chat, "unknown command. try /help")
		return
	}
	if !c.allowed(cmd.Access, msg.ChatID) {
		c.log.Warn("unauthorized command",
			logx.String("cmd", cmd.Name),
			logx.String("chat_id", msg.ChatID),
			logx.String("from_id", msg.FromID),
		)
		c.reply(ctx, chat, "You are not authorized to use this command.")
		return
	}

	rid := newReqID()
	req := &Request{
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      cmd.Name,
		Text:         rest,
		Args:         strings.Fields(rest),
		ReqID:        rid,
		Logger: c.log.With(
			logx.String("rid", rid),
			logx.String("chat_id", msg.ChatID),
			logx.String("cmd", cmd.Name),
		),
		Console: c,
		cmd:     cmd,
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(c.log),
		MWRequestLog(c.log),
		MWAudit(c),
		MWTimeout(c.cfg.Timeout),
	)
	if err := final(ctx, req); err != nil {
		c.reply(ctx, chat, "error: "+err.Error())
	}
}

func (c *Console) audit(ctx context.Context, req *Request, err error) {
	if c.deps.Audit == nil {
		return
	}
	e := AuditEntry{
		At:            time.Now(),
		ActorID:       req.FromID,
		ActorUsername: req.FromUsername,
		ChatID:        req.Chat.ChatID,
		Action:        req.Command,
		Target:        shorten(req.Text, 200),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := c.deps.Audit.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}

func (c *Console) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if c.sender == nil {
		return
	}
	if _, err := c.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		c.log.Warn("console reply failed", logx.String("chat_id", to.ChatID), logx.Err(err))
	}
}

// parseCommand splits "/cmd@bot rest of text" into ("cmd", "rest of text").
func parseCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	text = text[1:]
	word = text
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		word, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	return word, rest, word != ""
}

func newReqID() string {
	id := uuid.New()
	return id.String()[:8]
}
