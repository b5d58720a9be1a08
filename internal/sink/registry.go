// Package sink holds the outbound delivery targets shared by every dispatcher.
//
// A Registry is built once at startup and never mutated afterwards, so
// dispatchers read it without locking.
package sink

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names an outbound sink category.
type Kind string

const (
	KindChat    Kind = "chat"
	KindWebhook Kind = "webhook"
)

// HookType selects the payload format of a Detailed webhook target.
type HookType int

const (
	HookPlainText HookType = iota
	HookStructuredChat
)

func (t HookType) String() string {
	switch t {
	case HookPlainText:
		return "plain"
	case HookStructuredChat:
		return "dingtalk"
	default:
		return fmt.Sprintf("HookType(%d)", int(t))
	}
}

// ParseHookType maps a config value to a HookType. Empty means plain text.
func ParseHookType(s string) (HookType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain", "text":
		return HookPlainText, nil
	case "dingtalk", "structured", "json":
		return HookStructuredChat, nil
	default:
		return 0, fmt.Errorf("unknown hook type %q", s)
	}
}

// HookTarget is one webhook destination. The concrete variants are Simple and Detailed.
type HookTarget interface {
	URL() string
	isHookTarget()
}

// Simple posts the raw message text.
type Simple struct {
	Endpoint string
}

func (s Simple) URL() string  { return s.Endpoint }
func (Simple) isHookTarget() {}

// Detailed posts a payload formatted according to Type, tagged with Keyword.
type Detailed struct {
	Endpoint string
	Keyword  string
	Type     HookType
}

func (d Detailed) URL() string  { return d.Endpoint }
func (Detailed) isHookTarget() {}

// ChatTargetSet is the ordered list of chat identifiers that receive every broadcast.
type ChatTargetSet struct {
	ids []string
}

// NewChatTargetSet keeps the first occurrence of each non-empty identifier, in order.
func NewChatTargetSet(ids ...string) ChatTargetSet {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return ChatTargetSet{ids: out}
}

// IDs returns a copy of the identifiers in delivery order.
func (s ChatTargetSet) IDs() []string { return append([]string(nil), s.ids...) }

func (s ChatTargetSet) Len() int { return len(s.ids) }

// Contains reports whether id is subscribed.
func (s ChatTargetSet) Contains(id string) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Registry maps sink kinds to their targets.
type Registry struct {
	chats ChatTargetSet
	hooks []HookTarget
}

var errEmptyURL = errors.New("webhook target url is empty")

// NewRegistry validates and freezes the targets.
func NewRegistry(chats ChatTargetSet, hooks []HookTarget) (*Registry, error) {
	frozen := make([]HookTarget, 0, len(hooks))
	for i, h := range hooks {
		if h == nil || strings.TrimSpace(h.URL()) == "" {
			return nil, fmt.Errorf("webhook target #%d: %w", i, errEmptyURL)
		}
		frozen = append(frozen, h)
	}
	return &Registry{chats: chats, hooks: frozen}, nil
}

func (r *Registry) Chats() ChatTargetSet { return r.chats }

// Hooks returns a copy of the webhook targets.
func (r *Registry) Hooks() []HookTarget { return append([]HookTarget(nil), r.hooks...) }

// Count returns the number of targets registered for kind.
func (r *Registry) Count(kind Kind) int {
	switch kind {
	case KindChat:
		return r.chats.Len()
	case KindWebhook:
		return len(r.hooks)
	default:
		return 0
	}
}
