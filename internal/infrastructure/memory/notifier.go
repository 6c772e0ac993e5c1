package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/ports"
)

type Reaction struct {
	Channel  string
	Thread   string
	Reaction string
}

// Notifier records messages and reactions. With logging enabled it also writes
// them to the context logger, which makes it usable without a chat workspace.
type Notifier struct {
	mu        sync.Mutex
	messages  []ports.Message
	reactions []Reaction
	seq       int
	logged    bool
}

var _ ports.Notifier = (*Notifier)(nil)

func NewNotifier() *Notifier {
	return &Notifier{}
}

func NewLogNotifier() *Notifier {
	return &Notifier{logged: true}
}

func (n *Notifier) Post(ctx context.Context, msg ports.Message) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}

	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.seq++
	ts := fmt.Sprintf("1000000000.%06d", n.seq)
	n.mu.Unlock()

	if n.logged {
		logging.Info(
			logging.WithAttrs(ctx, slog.String("component", "infrastructure.memory")),
			"notification",
			slog.String("channel", msg.Channel),
			slog.String("thread", msg.Thread),
			slog.Bool("ephemeral", msg.Ephemeral),
			slog.String("text", msg.Text),
		)
	}
	return ts, nil
}

func (n *Notifier) Flag(ctx context.Context, channel string, thread string, reaction string) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.reactions {
		if existing.Channel == channel && existing.Thread == thread && existing.Reaction == reaction {
			return nil
		}
	}
	n.reactions = append(n.reactions, Reaction{Channel: channel, Thread: thread, Reaction: reaction})
	return nil
}

func (n *Notifier) Messages() []ports.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Message(nil), n.messages...)
}

func (n *Notifier) Reactions() []Reaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Reaction(nil), n.reactions...)
}
