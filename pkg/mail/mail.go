// Package mail sends account emails.
//
// [Sender] has three implementations:
//   - [LogSender] writes messages to the log, for development
//   - [SendGrid] posts to the SendGrid v3 API
//   - [SES] sends through Amazon SES
//
// Message bodies come from Markdown templates rendered to HTML (see
// [VerificationEmail] and [PasswordResetEmail]).
package mail

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

// Message is one outgoing email. Text is the plain-text alternative of HTML.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs each message instead of delivering it. The plain-text body
// is logged so links can be copied during development.
type LogSender struct {
	Logger *log.Logger
}

// NewLogSender returns a LogSender. A nil logger discards output.
func NewLogSender(logger *log.Logger) *LogSender {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &LogSender{Logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.Logger.Info("email", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return nil
}

// Func adapts a function to Sender.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
