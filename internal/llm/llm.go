// Package llm adapts chat-completion providers to a single
// "ask model, get text" interface.
package llm

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrEmptyResponse = errors.New("model returned an empty response")
	ErrNoMessages    = errors.New("no messages to send")
)

// Role of a conversational message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn sent to a model.
type Message struct {
	Role    Role
	Content string
}

// Model answers a conversation under a system instruction.
type Model interface {
	Name() string
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Config selects and configures a Model.
type Config struct {
	APIKey string
	Model  string
}

// New returns a GenAI-backed model when an API key is configured and
// the static fallback otherwise.
func New(ctx context.Context, cfg Config) (Model, error) {
	if cfg.APIKey == "" {
		return NewFallback(), nil
	}
	return NewGenAI(ctx, cfg.APIKey, cfg.Model)
}
