package notify

import (
	"context"
	"errors"
)

// ErrNoRecipients is returned when Send is called with an empty recipient list
var ErrNoRecipients = errors.New("no recipients")

// Channel delivers alarm notifications. Implementations must accept
// concurrent Send calls.
type Channel interface {
	// Initialize checks connectivity. Failures are logged, never returned.
	Initialize(ctx context.Context)

	// Send dispatches body with subject to recipients. There is no delivery confirmation.
	Send(ctx context.Context, recipients []string, body, subject string) error

	// Shutdown releases the channel's resources
	Shutdown()
}
