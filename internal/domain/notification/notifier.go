package notification

import "context"

// Notifier delivers a pre-formatted text block to the user's channel.
// This decouples the watch logic from the messaging library.
type Notifier interface {
	Send(ctx context.Context, message, title string) error
}
