package accounts

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Message is an outgoing email.  Content is HTML.
type Message struct {
	To      []string
	Subject string
	Content string
}

// EmailSender allows applications to provide their own email transport
type EmailSender interface {
	Send(ctx context.Context, msg *Message) error
}

// ConsoleEmailSender is a development implementation that logs emails instead of sending them
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) Send(ctx context.Context, msg *Message) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "=== EMAIL ===",
		"to", strings.Join(msg.To, ", "),
		"subject", msg.Subject,
		"body", msg.Content)
	return nil
}

// RecordingEmailSender keeps every message it is handed.  Useful in tests and demos.
type RecordingEmailSender struct {
	// When set, Send fails with this error and records nothing
	Err error

	mu       sync.Mutex
	messages []*Message
}

func (r *RecordingEmailSender) Send(ctx context.Context, msg *Message) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages
func (r *RecordingEmailSender) Messages() []*Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Last returns the most recent message or nil
func (r *RecordingEmailSender) Last() *Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return nil
	}
	return r.messages[len(r.messages)-1]
}
