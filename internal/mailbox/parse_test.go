package mailbox

import (
	"strings"
	"testing"
	"time"
)

func rawMail(from, date, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: bot@example.com\r\n")
	if date != "" {
		b.WriteString("Date: " + date + "\r\n")
	}
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body + "\r\n")
	return []byte(b.String())
}

const multipartMail = "From: Alerts <Alerts@Example.com>\r\n" +
	"To: bot@example.com\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Subject: =?utf-8?q?caf=C3=A9?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain body\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html</p>\r\n" +
	"--XYZ--\r\n"

const htmlAfterBinaryMail = "From: ops@example.com\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Subject: report\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=B\r\n" +
	"\r\n" +
	"--B\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"\r\n" +
	"binary\r\n" +
	"--B\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<b>up</b>\r\n" +
	"--B--\r\n"

func TestParseMultipartPrefersFirstTextPart(t *testing.T) {
	p, err := Parse([]byte(multipartMail))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Body != "plain body" {
		t.Fatalf("body = %q", p.Body)
	}
	if p.Subject != "café" {
		t.Fatalf("subject = %q", p.Subject)
	}
	if p.Sender != "alerts@example.com" {
		t.Fatalf("sender = %q", p.Sender)
	}
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	if p.DateErr != nil || p.Date.Unix() != want.Unix() {
		t.Fatalf("date = %v (%v), want %v", p.Date, p.DateErr, want)
	}
}

func TestParseSkipsNonTextParts(t *testing.T) {
	p, err := Parse([]byte(htmlAfterBinaryMail))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Body != "<b>up</b>" {
		t.Fatalf("body = %q", p.Body)
	}
}

func TestParseSinglePart(t *testing.T) {
	p, err := Parse(rawMail("a@example.com", "", "hi", "CPU high"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Body != "CPU high" {
		t.Fatalf("body = %q", p.Body)
	}
	if p.DateErr == nil {
		t.Fatal("missing Date header should be reported")
	}
	if !p.Date.IsZero() {
		t.Fatalf("date = %v, want zero", p.Date)
	}
}

func TestParseBadDate(t *testing.T) {
	p, err := Parse(rawMail("a@example.com", "yesterday-ish", "hi", "x"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.DateErr == nil {
		t.Fatal("expected a date error")
	}
}

func TestNormalizeSender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice <Alice@Example.com>", "alice@example.com"},
		{"<bob@example.com>", "bob@example.com"},
		{"  carol@example.com ", "carol@example.com"},
		{"broken <dave@example.com", "broken <dave@example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSender(tt.in); got != tt.want {
			t.Errorf("NormalizeSender(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
