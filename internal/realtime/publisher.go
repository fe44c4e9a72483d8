package realtime

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/tandem-social/tandem/internal/database/types"
)

// Publisher publishes chat events to the room's Redis channel so every
// gateway instance can forward them.
type Publisher struct {
	client rueidis.Client
}

// NewPublisher creates a Publisher.
func NewPublisher(client rueidis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish encodes the event and publishes it to the chat room.
func (p *Publisher) Publish(ctx context.Context, chatID uuid.UUID, event types.EventType, payload any) error {
	data, err := sonic.Marshal(Event{Type: event, ChatID: chatID, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	err = p.client.Do(ctx,
		p.client.B().Publish().Channel(Channel(chatID)).Message(rueidis.BinaryString(data)).Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event, err)
	}
	return nil
}
