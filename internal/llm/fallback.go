package llm

import "context"

// FallbackReply is returned by the fallback model.
const FallbackReply = "I'm a simulated interviewer response because no model credentials were configured. " +
	"In a configured environment I would respond to your message based on the conversation so far."

// Fallback answers every request with a fixed reply. It keeps the
// interview flow usable in development without credentials.
type Fallback struct {
	Reply string
}

func NewFallback() *Fallback {
	return &Fallback{Reply: FallbackReply}
}

func (f *Fallback) Name() string { return "fallback" }

func (f *Fallback) Complete(_ context.Context, _ string, _ []Message) (string, error) {
	return f.Reply, nil
}
