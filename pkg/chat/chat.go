// Package chat is the tutor assistant: a per-user conversation persisted in
// the store and answered by the LLM.
package chat

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/llm"
	"github.com/examprep/examprep/pkg/store"
)

// MaxMessageRunes bounds a single user message.
const MaxMessageRunes = 8000

// DefaultSystemPrompt frames the assistant as a tutor.
const DefaultSystemPrompt = `You are a patient exam tutor for secondary school students.
Guide the student towards the answer with hints and questions before giving full solutions.
Show working step by step, use SI units, and keep answers concise.
When a diagram helps, describe it in words or give TikZ code inside a code block.`

// Options configures an Assistant.
type Options struct {
	History      int    // prior messages sent with each prompt; zero means 20
	SystemPrompt string // empty uses DefaultSystemPrompt
}

// Assistant answers chat messages.
type Assistant struct {
	chats   store.Chats
	client  llm.Client
	history int
	system  string
	logger  *log.Logger
}

// NewAssistant creates an assistant. A nil client uses llm.Disabled and a nil
// logger discards output.
func NewAssistant(chats store.Chats, client llm.Client, opts Options, logger *log.Logger) *Assistant {
	if client == nil {
		client = llm.Disabled
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.History <= 0 {
		opts.History = 20
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Assistant{chats: chats, client: client, history: opts.History, system: opts.SystemPrompt, logger: logger}
}

// Send stores the user's message, asks the LLM with the recent history and
// stores and returns the reply. When the LLM fails the user message is kept
// so the conversation shows what was asked.
func (a *Assistant) Send(ctx context.Context, userID, content string) (*store.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "content is required")
	}
	if utf8.RuneCountInString(content) > MaxMessageRunes {
		return nil, errors.New(errors.ErrCodeBadRequest, "content exceeds %d characters", MaxMessageRunes)
	}

	prior, err := a.chats.RecentMessages(ctx, userID, a.history)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load history")
	}
	if err := a.chats.AppendMessage(ctx, &store.ChatMessage{UserID: userID, Role: store.RoleUser, Content: content}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "save message")
	}

	msgs := make([]llm.Message, 0, len(prior)+1)
	for _, m := range prior {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: content})

	reply, err := a.client.Complete(ctx, llm.Request{System: a.system, Messages: msgs})
	if err != nil {
		a.logger.Warn("assistant reply failed", "user", userID, "err", err)
		if errors.GetCode(err) == "" {
			err = errors.Wrap(errors.ErrCodeUpstream, err, "assistant unavailable")
		}
		return nil, err
	}

	out := &store.ChatMessage{UserID: userID, Role: store.RoleAssistant, Content: reply}
	if err := a.chats.AppendMessage(ctx, out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "save reply")
	}
	a.logger.Debug("assistant replied", "user", userID, "history", len(prior), "chars", len(reply))
	return out, nil
}

// History returns up to limit of the user's latest messages, oldest first.
func (a *Assistant) History(ctx context.Context, userID string, limit int) ([]store.ChatMessage, error) {
	msgs, err := a.chats.RecentMessages(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load history")
	}
	return msgs, nil
}

// Clear deletes the user's conversation and returns how many messages went.
func (a *Assistant) Clear(ctx context.Context, userID string) (int, error) {
	n, err := a.chats.ClearMessages(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, err, "clear history")
	}
	return n, nil
}
