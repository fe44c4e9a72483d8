package realtime_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/tandem-social/tandem/internal/realtime"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, rueidis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestPublisherPublishesToRoomChannel(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	chatID := uuid.New()

	sub := mr.NewSubscriber()
	sub.Subscribe(realtime.Channel(chatID))

	// The subscriber channel is unbuffered, so read it while publishing
	received := make(chan miniredis.PubsubMessage, 1)
	go func() {
		received <- <-sub.Messages()
	}()

	msg := &types.Message{ID: uuid.New(), ChatID: chatID, Body: "hello", Ready: true}
	publisher := realtime.NewPublisher(client)
	require.NoError(t, publisher.Publish(t.Context(), chatID, types.EventMessageCreated, msg))

	select {
	case got := <-received:
		assert.Equal(t, "chat:"+chatID.String(), got.Channel)

		var event struct {
			Type    types.EventType `json:"type"`
			ChatID  uuid.UUID       `json:"chatId"`
			Payload types.Message   `json:"payload"`
		}
		require.NoError(t, sonic.UnmarshalString(got.Message, &event))
		assert.Equal(t, types.EventMessageCreated, event.Type)
		assert.Equal(t, chatID, event.ChatID)
		assert.Equal(t, msg.ID, event.Payload.ID)
		assert.Equal(t, "hello", event.Payload.Body)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
}
