package notification

import (
	"context"
	"log/slog"

	"github.com/plantify-account/internal/domain"
)

// Channel is one way of delivering an email.
type Channel interface {
	Send(ctx context.Context, msg domain.Email) error
}

// NamedChannel labels a Channel for logs.
type NamedChannel struct {
	Name    string
	Channel Channel
}

// Dispatcher tries each channel in order until one accepts the message.
// It never returns an error: callers only learn whether delivery happened.
type Dispatcher struct {
	channels []NamedChannel
	echo     bool
}

// NewDispatcher builds a dispatcher. With echo set, every message is also
// written to the log, which is how codes are read in local development.
func NewDispatcher(echo bool, channels ...NamedChannel) *Dispatcher {
	return &Dispatcher{channels: channels, echo: echo}
}

func (d *Dispatcher) Send(ctx context.Context, msg domain.Email) bool {
	if d.echo {
		slog.Info("outbound email", "to", msg.To, "subject", msg.Subject, "body", msg.PlainBody)
	}
	for _, ch := range d.channels {
		if err := ch.Channel.Send(ctx, msg); err != nil {
			slog.Warn("email channel failed", "channel", ch.Name, "to", msg.To, "err", err)
			continue
		}
		slog.Info("email sent", "channel", ch.Name, "to", msg.To, "subject", msg.Subject)
		return true
	}
	slog.Error("email not delivered", "to", msg.To, "subject", msg.Subject, "err", domain.ErrNotifierUnavailable)
	return false
}
