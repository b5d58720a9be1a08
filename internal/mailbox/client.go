package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ErrNotConnected is returned by client methods called before Dial succeeded.
var ErrNotConnected = errors.New("imap: not connected")

const defaultIMAPPort = 993

// Client is the IMAP surface the poller drives. Sequence numbers are session-scoped.
type Client interface {
	Login(user, password string) error
	Select(mailbox string) error
	SearchUnseen() ([]uint32, error)
	// Fetch returns the raw RFC 822 message without setting \Seen.
	Fetch(seq uint32) ([]byte, error)
	MarkSeen(seqs []uint32) error
	Logout() error
	// Close drops the connection without a LOGOUT exchange.
	Close() error
}

// Dialer opens a new IMAP connection.
type Dialer func(ctx context.Context, addr string) (Client, error)

// SplitAddr parses "host[:port]", defaulting to the IMAPS port.
func SplitAddr(service string) (host string, port int, err error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return "", 0, errors.New("imap service address is empty")
	}
	if !strings.Contains(service, ":") {
		return service, defaultIMAPPort, nil
	}
	h, p, err := net.SplitHostPort(service)
	if err != nil {
		return "", 0, fmt.Errorf("imap service %q: %w", service, err)
	}
	port, err = strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("imap service %q: invalid port", service)
	}
	return h, port, nil
}

// DialTLS connects over implicit TLS using go-imap.
func DialTLS(ctx context.Context, addr string) (Client, error) {
	host, port, err := SplitAddr(addr)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cl, err := client.DialTLS(net.JoinHostPort(host, strconv.Itoa(port)), nil)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	cl.Timeout = 30 * time.Second
	return &tlsClient{c: cl}, nil
}

type tlsClient struct {
	c *client.Client
}

func (t *tlsClient) Login(user, password string) error {
	if t.c == nil {
		return ErrNotConnected
	}
	return t.c.Login(user, password)
}

func (t *tlsClient) Select(mailbox string) error {
	if t.c == nil {
		return ErrNotConnected
	}
	_, err := t.c.Select(mailbox, false)
	return err
}

func (t *tlsClient) SearchUnseen() ([]uint32, error) {
	if t.c == nil {
		return nil, ErrNotConnected
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqs, err := t.c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	return seqs, nil
}

func (t *tlsClient) Fetch(seq uint32) ([]byte, error) {
	if t.c == nil {
		return nil, ErrNotConnected
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seq)

	// PEEK keeps filtered messages unread.
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- t.c.Fetch(seqSet, items, messages)
	}()

	var raw []byte
	var readErr error
	for m := range messages {
		body := m.GetBody(section)
		if body == nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %d: %w", seq, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("fetch %d: %w", seq, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("fetch %d: no body returned", seq)
	}
	return raw, nil
}

func (t *tlsClient) MarkSeen(seqs []uint32) error {
	if t.c == nil {
		return ErrNotConnected
	}
	if len(seqs) == 0 {
		return nil
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqs...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return t.c.Store(seqSet, item, []interface{}{imap.SeenFlag}, nil)
}

func (t *tlsClient) Logout() error {
	if t.c == nil {
		return nil
	}
	return t.c.Logout()
}

func (t *tlsClient) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Terminate()
}
