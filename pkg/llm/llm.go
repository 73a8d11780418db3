// Package llm is the chat-completion boundary used by the tutor chat and the
// answer grader.
package llm

import (
	"context"

	"github.com/examprep/examprep/pkg/errors"
)

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. ImageURL may be an https URL or a data
// URL and is only honoured on user turns.
type Message struct {
	Role     string
	Content  string
	ImageURL string
}

// Request is a single completion call.
type Request struct {
	Model    string // empty uses the client's default
	System   string
	Messages []Message
}

// HasImage reports whether any message carries an image.
func (r Request) HasImage() bool {
	for _, m := range r.Messages {
		if m.ImageURL != "" {
			return true
		}
	}
	return false
}

// Client completes a conversation and returns the assistant's reply.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Disabled is the Client used when no provider is configured. Every call
// fails with UPSTREAM_ERROR.
var Disabled Client = Func(func(context.Context, Request) (string, error) {
	return "", errors.New(errors.ErrCodeUpstream, "no llm provider configured")
})
