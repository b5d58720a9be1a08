package console

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	logx "botte/pkg/logx"
)

var osExit = os.Exit

const maxMailsShown = 10

func (c *Console) builtins() []Command {
	return []Command{
		{Name: "help", Aliases: []string{"h"}, Description: "display this text", Handle: c.cmdHelp},
		{Name: "chatid", Description: "display current chat id", Handle: c.cmdChatID},
		{Name: "start", Description: "start the bot", Handle: c.cmdStart},
		{Name: "uptime", Description: "up time", Handle: c.cmdUptime},
		{
			Name:        "mock",
			Description: "mock an incoming alert and broadcast it",
			Usage:       "/mock <text>",
			Access:      AccessOperator,
			Audit:       true,
			Handle:      c.cmdMock,
		},
		{Name: "mails", Description: "recently relayed emails", Access: AccessOperator, Handle: c.cmdMails},
		{Name: "status", Description: "relay queue and task status", Access: AccessOperator, Handle: c.cmdStatus},
		{Name: "exit", Description: "exit the botte process", Access: AccessAdmin, Handle: c.cmdExit},
	}
}

func (c *Console) cmdHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("These commands are supported:\n")
	for _, cmd := range c.cmds {
		if !c.allowed(cmd.Access, req.Chat.ChatID) {
			continue
		}
		name := "/" + cmd.Name
		if cmd.Usage != "" {
			name = cmd.Usage
		}
		fmt.Fprintf(&b, "%s - %s\n", name, cmd.Description)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (c *Console) cmdChatID(ctx context.Context, req *Request) error {
	return req.Reply(ctx, "Your chat id is: "+req.Chat.ChatID)
}

func (c *Console) cmdStart(ctx context.Context, req *Request) error {
	return req.Reply(ctx, "This is Botte, your chat id is: "+req.Chat.ChatID)
}

func (c *Console) cmdUptime(ctx context.Context, req *Request) error {
	return req.Reply(ctx, "Up time: "+durRel(time.Since(c.startedAt)))
}

func (c *Console) cmdMock(ctx context.Context, req *Request) error {
	if c.deps.Publisher == nil {
		return errors.New("relay is not running")
	}
	if req.Text == "" {
		return req.Reply(ctx, "Please provide a message to mock.")
	}
	req.Logger.Info("mock alert received", logx.Int("bytes", len(req.Text)))
	if err := c.deps.Publisher.Publish(ctx, req.Text); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (c *Console) cmdMails(ctx context.Context, req *Request) error {
	if c.deps.Mails == nil {
		return req.Reply(ctx, "mail polling is disabled")
	}
	recs := c.deps.Mails()
	if len(recs) == 0 {
		return req.Reply(ctx, "no emails relayed yet")
	}
	if len(recs) > maxMailsShown {
		recs = recs[len(recs)-maxMailsShown:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Email history (last %d):\n", len(recs))
	for _, r := range recs {
		fmt.Fprintf(&b, "\nFrom: %s\tTo: %s\tDate: %s\nSubject: %s\n%s\n",
			r.From, r.To, r.Date, r.Subject, shorten(r.Body, 300))
	}
	return req.Reply(ctx, b.String())
}

func (c *Console) cmdStatus(ctx context.Context, req *Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var b strings.Builder
	b.WriteString("botte status\n")
	fmt.Fprintf(&b, "uptime: %s\n", durRel(time.Since(c.startedAt)))
	fmt.Fprintf(&b, "goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(&b, "heap: %s\n", humanize.IBytes(m.HeapAlloc))

	if c.deps.Hub != nil {
		s := c.deps.Hub()
		state := "running"
		switch {
		case s.Closed:
			state = "closed"
		case !s.Running:
			state = "stopped"
		}
		b.WriteString("\nhub\n")
		fmt.Fprintf(&b, "  state: %s\n", state)
		fmt.Fprintf(&b, "  queue: %d/%d\n", s.QueueLen, s.QueueCap)
		fmt.Fprintf(&b, "  published: %s dispatched: %s\n", humanize.Comma(int64(s.Published)), humanize.Comma(int64(s.Dispatched)))
		fmt.Fprintf(&b, "  sinks: %s\n", strings.Join(s.Dispatchers, ", "))
	}
	if c.deps.Events != nil {
		if counts := c.deps.Events(); len(counts) > 0 {
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			b.WriteString("\nevents\n")
			for _, k := range keys {
				fmt.Fprintf(&b, "  %s: %s\n", k, humanize.Comma(int64(counts[k])))
			}
		}
	}
	if c.deps.Tasks != nil {
		snap := c.deps.Tasks()
		fmt.Fprintf(&b, "\ntasks (active=%d started=%d)\n", snap.Active, snap.Started)
		for _, t := range snap.Tasks {
			line := fmt.Sprintf("  %s active=%d restarts=%d", t.Name, t.Active, t.Restarts)
			if t.LastErr != "" {
				line += fmt.Sprintf(" last_err=%q (%s)", shorten(t.LastErr, 80), humanize.Time(t.LastErrAt))
			}
			b.WriteString(line + "\n")
		}
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

// cmdExit terminates the process immediately. In-flight deliveries are not drained.
func (c *Console) cmdExit(ctx context.Context, req *Request) error {
	req.Logger.Warn("exit command received, shutting down", logx.String("from_id", req.FromID))
	_ = req.Reply(ctx, "Shutting down...")
	c.audit(ctx, req, nil)
	c.deps.Exit(0)
	return nil
}

func shorten(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}
