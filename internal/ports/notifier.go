package ports

import "context"

type Message struct {
	Channel string
	// Thread is empty for a top-level post.
	Thread    string
	Text      string
	Broadcast bool
	// Ephemeral messages are shown to User only.
	Ephemeral bool
	User      string
}

// Notifier is the chat-facing sink. Post returns the platform reference of the
// posted message; Flag adds a reaction and treats "already reacted" as success.
type Notifier interface {
	Post(ctx context.Context, msg Message) (string, error)
	Flag(ctx context.Context, channel string, thread string, reaction string) error
}
