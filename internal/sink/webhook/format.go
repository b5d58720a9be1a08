package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"botte/internal/sink"
)

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeJSON = "application/json"
)

// Payload is a transport-ready request body.
type Payload struct {
	Body        []byte
	ContentType string
}

// structuredChat is the vendor envelope used by DingTalk-style robots.
type structuredChat struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
	At struct {
		IsAtAll bool `json:"isAtAll"`
	} `json:"at"`
}

// Format selects the formatter for the target variant. It runs at dispatch time.
func Format(t sink.HookTarget, msg string) (Payload, error) {
	switch v := t.(type) {
	case sink.Simple:
		return formatPlain(msg), nil
	case sink.Detailed:
		switch v.Type {
		case sink.HookPlainText:
			return formatPlain(withKeyword(v.Keyword, msg)), nil
		case sink.HookStructuredChat:
			return formatStructured(v.Keyword, msg)
		default:
			return Payload{}, fmt.Errorf("unsupported hook type %s", v.Type)
		}
	default:
		return Payload{}, fmt.Errorf("unsupported hook target %T", t)
	}
}

func formatPlain(msg string) Payload {
	return Payload{Body: []byte(msg), ContentType: contentTypeText}
}

func formatStructured(keyword, msg string) (Payload, error) {
	var env structuredChat
	env.MsgType = "text"
	env.Text.Content = withKeyword(keyword, msg)
	env.At.IsAtAll = true
	b, err := json.Marshal(env)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Body: b, ContentType: contentTypeJSON}, nil
}

// withKeyword prefixes msg with the source keyword on its own line.
func withKeyword(keyword, msg string) string {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return msg
	}
	return keyword + "\n" + msg
}
