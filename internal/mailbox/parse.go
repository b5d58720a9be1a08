package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Parsed is the result of parsing one raw message.
type Parsed struct {
	Subject    string
	From       string // raw From header
	Sender     string // normalized sender address
	To         string
	DateHeader string
	Date       time.Time // zero when DateHeader is missing or unparseable
	DateErr    error
	Body       string
}

// Parse decodes headers and extracts the first text/plain or text/html part.
// A message without subparts yields its top-level body.
func Parse(raw []byte) (*Parsed, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	p := &Parsed{
		From:       h.Get("From"),
		To:         h.Get("To"),
		DateHeader: h.Get("Date"),
	}
	p.Sender = NormalizeSender(p.From)
	if subj, err := h.Subject(); err == nil {
		p.Subject = subj
	} else {
		p.Subject = h.Get("Subject")
	}
	if strings.TrimSpace(p.DateHeader) == "" {
		p.DateErr = errors.New("missing Date header")
	} else if d, err := h.Date(); err != nil {
		p.DateErr = err
	} else {
		p.Date = d
	}

	body, err := extractBody(mr)
	if err != nil {
		return nil, fmt.Errorf("parse mail body: %w", err)
	}
	p.Body = strings.TrimSpace(body)
	return p, nil
}

func extractBody(mr *mail.Reader) (string, error) {
	var fallback []byte
	parts := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		parts++
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil {
			ct = "text/plain"
		}
		b, err := io.ReadAll(part.Body)
		if err != nil {
			return "", err
		}
		switch strings.ToLower(ct) {
		case "text/plain", "text/html":
			return string(b), nil
		}
		if parts == 1 {
			fallback = b
		}
	}
	return string(fallback), nil
}

// NormalizeSender returns the address between '<' and '>' in a From header,
// or the trimmed header itself. The result is lower-cased.
func NormalizeSender(from string) string {
	s := strings.TrimSpace(from)
	if i := strings.IndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i+1:], '>'); j >= 0 {
			s = s[i+1 : i+1+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}
