package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Notification is the payload NATSChannel publishes
type Notification struct {
	ID         string    `json:"id"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// NATSChannel publishes notifications to a JetStream subject for an
// external delivery service
type NATSChannel struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	subject string
}

// NewNATSChannel creates a channel publishing on subject
func NewNATSChannel(logger *zap.Logger, js nats.JetStreamContext, subject string) *NATSChannel {
	return &NATSChannel{
		logger:  logger.Named("nats-channel"),
		js:      js,
		subject: subject,
	}
}

// Initialize implements Channel.Initialize
func (c *NATSChannel) Initialize(ctx context.Context) {
	if _, err := c.js.AccountInfo(); err != nil {
		c.logger.Error("JetStream not reachable", zap.Error(err))
		return
	}
	c.logger.Info("Notification channel ready", zap.String("subject", c.subject))
}

// Send implements Channel.Send
func (c *NATSChannel) Send(ctx context.Context, recipients []string, body, subject string) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	data, err := json.Marshal(Notification{
		ID:         uuid.New().String(),
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if _, err := c.js.Publish(c.subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Shutdown implements Channel.Shutdown
func (c *NATSChannel) Shutdown() {}
