package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandem-social/tandem/internal/database/types"
)

func TestMarkUpToDateThenMessageMarksStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	chat, err := h.chats.GetOrCreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// Fetching the newest page marks bob up to date
	_, err = h.chats.ListMessages(ctx, chat.ID, bob.ID, 20, 0)
	require.NoError(t, err)
	assert.True(t, h.db.chat(chat.ID).IsUpToDate(bob.ID))

	_, err = h.chats.SendMessage(ctx, chat.ID, alice.ID, "hi bob", nil, false)
	require.NoError(t, err)
	assert.False(t, h.db.chat(chat.ID).IsUpToDate(bob.ID))

	// Older pages do not count as catching up
	_, err = h.chats.ListMessages(ctx, chat.ID, bob.ID, 20, 5)
	require.NoError(t, err)
	assert.False(t, h.db.chat(chat.ID).IsUpToDate(bob.ID))

	_, err = h.chats.ListMessages(ctx, chat.ID, bob.ID, 20, 0)
	require.NoError(t, err)
	assert.True(t, h.db.chat(chat.ID).IsUpToDate(bob.ID))

	// Set semantics: marking twice keeps a single entry
	_, err = h.chats.ListMessages(ctx, chat.ID, bob.ID, 20, 0)
	require.NoError(t, err)
	assert.Len(t, h.db.chat(chat.ID).UpToDateUsers, 1)
}

func TestSendMessagePublishesThenNotifies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	msg, err := h.chats.SendMessageToUser(ctx, alice.ID, bob.ID, "  see you soon  ", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "see you soon", msg.Body)
	assert.True(t, msg.Ready)

	events := h.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventMessageCreated, events[0].event)
	assert.Equal(t, msg.ChatID, events[0].chatID)
	assert.Equal(t, msg.ID, events[0].message.ID)

	assert.Equal(t, []uuid.UUID{msg.ChatID}, h.notifier.messages())

	chats, err := h.chats.ListChats(ctx, bob.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.True(t, chats[0].Unread)
	assert.Equal(t, alice.ID, chats[0].Other.ID)

	chats, err = h.chats.ListChats(ctx, alice.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, bob.ID, chats[0].Other.ID)
}

func TestSendMessageRejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")
	carol := h.addUser(t, "carol")

	chat, err := h.chats.GetOrCreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		chatID   uuid.UUID
		senderID uuid.UUID
		body     string
		media    *types.Media
		wantErr  error
	}{
		{
			name:     "empty body without media",
			chatID:   chat.ID,
			senderID: alice.ID,
			body:     "   ",
			wantErr:  types.ErrEmptyMessage,
		},
		{
			name:     "unsupported media",
			chatID:   chat.ID,
			senderID: alice.ID,
			media:    &types.Media{URL: "https://media.example.com/a.pdf", Type: "document"},
			wantErr:  types.ErrInvalidMedia,
		},
		{
			name:     "not a participant",
			chatID:   chat.ID,
			senderID: carol.ID,
			body:     "hello",
			wantErr:  types.ErrNotParticipant,
		},
		{
			name:     "missing chat",
			chatID:   uuid.New(),
			senderID: alice.ID,
			body:     "hello",
			wantErr:  types.ErrChatNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.chats.SendMessage(ctx, tt.chatID, tt.senderID, tt.body, tt.media, false)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, h.publisher.published())
	assert.Empty(t, h.notifier.messages())
}

func TestCompleteMediaRepublishesSameMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	chat, err := h.chats.GetOrCreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	pending, err := h.chats.SendMessage(ctx, chat.ID, alice.ID, "", nil, true)
	require.NoError(t, err)
	assert.False(t, pending.Ready)

	media := types.Media{URL: "https://media.example.com/beach.jpg", Type: types.MediaImage}

	_, err = h.chats.CompleteMedia(ctx, pending.ID, bob.ID, media)
	require.ErrorIs(t, err, types.ErrNotAuthor)

	done, err := h.chats.CompleteMedia(ctx, pending.ID, alice.ID, media)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, done.ID)
	assert.True(t, done.Ready)
	assert.Equal(t, media.URL, done.MediaURL)

	_, err = h.chats.CompleteMedia(ctx, pending.ID, alice.ID, media)
	require.ErrorIs(t, err, types.ErrMediaCompleted)

	events := h.publisher.published()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventMessageCreated, events[0].event)
	assert.Equal(t, types.EventMessageUpdated, events[1].event)
	assert.Equal(t, events[0].message.ID, events[1].message.ID)

	// Only the first phase notifies
	assert.Len(t, h.notifier.messages(), 1)
}

func TestGetOrCreateChat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")
	carol := h.addUser(t, "carol")

	first, err := h.chats.GetOrCreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	second, err := h.chats.GetOrCreateChat(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, h.connections.Block(ctx, carol.ID, alice.ID))
	_, err = h.chats.GetOrCreateChat(ctx, alice.ID, carol.ID)
	require.ErrorIs(t, err, types.ErrForbidden)

	_, err = h.chats.GetOrCreateChat(ctx, alice.ID, alice.ID)
	require.ErrorIs(t, err, types.ErrSelfRequest)
}

func TestListMessagesNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	bob := h.addUser(t, "bob")

	chat, err := h.chats.GetOrCreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	for _, body := range []string{"one", "two", "three"} {
		_, err := h.chats.SendMessage(ctx, chat.ID, alice.ID, body, nil, false)
		require.NoError(t, err)
	}

	msgs, err := h.chats.ListMessages(ctx, chat.ID, bob.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Body)
	assert.Equal(t, "two", msgs[1].Body)
	assert.Equal(t, types.AgeMinutes, msgs[0].Age.Unit)

	_, err = h.chats.ListMessages(ctx, chat.ID, uuid.New(), 2, 0)
	require.ErrorIs(t, err, types.ErrNotParticipant)
}
