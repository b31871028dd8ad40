package mock

import (
	"context"
	"sync"

	"github.com/benchroom/benchroom/internal/llm"
)

// Call records one Complete invocation.
type Call struct {
	System   string
	Messages []llm.Message
}

// Model satisfies llm.Model for testing.
type Model struct {
	mu           sync.Mutex
	Calls        []Call
	CompleteFunc func(ctx context.Context, system string, messages []llm.Message) (string, error)
}

func (m *Model) Name() string { return "mock" }

func (m *Model) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{System: system, Messages: append([]llm.Message(nil), messages...)})
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, messages)
	}
	return "", nil
}

// LastCall returns the most recent invocation.
func (m *Model) LastCall() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Call{}
	}
	return m.Calls[len(m.Calls)-1]
}

// NewReplying returns a Model that answers each call with the next
// reply in order, repeating the last one when exhausted.
func NewReplying(replies ...string) *Model {
	var (
		mu sync.Mutex
		i  int
	)
	return &Model{
		CompleteFunc: func(_ context.Context, _ string, _ []llm.Message) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(replies) == 0 {
				return "", nil
			}
			r := replies[i]
			if i < len(replies)-1 {
				i++
			}
			return r, nil
		},
	}
}

// NewFailing returns a Model that always returns err.
func NewFailing(err error) *Model {
	return &Model{
		CompleteFunc: func(_ context.Context, _ string, _ []llm.Message) (string, error) {
			return "", err
		},
	}
}

var _ llm.Model = (*Model)(nil)
