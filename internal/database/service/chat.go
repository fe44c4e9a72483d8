package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
	"go.uber.org/zap"
)

// ChatService handles chats and the message delivery pipeline.
type ChatService struct {
	users     UserStore
	chats     ChatStore
	messages  MessageStore
	blocks    BlockStore
	readState ReadState
	publisher Publisher
	notifier  Notifier
	logger    *zap.Logger
}

// NewChat creates a new chat service.
func NewChat(
	users UserStore,
	chats ChatStore,
	messages MessageStore,
	blocks BlockStore,
	readState ReadState,
	publisher Publisher,
	notifier Notifier,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		users:     users,
		chats:     chats,
		messages:  messages,
		blocks:    blocks,
		readState: readState,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.Named("chat_service"),
	}
}

// GetOrCreateChat returns the chat between two users, creating it on first use.
func (s *ChatService) GetOrCreateChat(ctx context.Context, userID, otherID uuid.UUID) (*types.Chat, error) {
	if userID == otherID {
		return nil, types.ErrSelfRequest
	}

	// Make sure the other user can still be reached
	other, err := s.users.GetByID(ctx, otherID)
	if err != nil {
		return nil, err
	}
	if !other.Active() {
		return nil, types.ErrUserNotFound
	}

	// Check blocks in either direction
	blocked, err := s.blocks.IsBlockedEither(ctx, userID, otherID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blocks: %w", err)
	}
	if blocked {
		return nil, types.ErrBlocked
	}

	// Get existing chat if any
	chat, err := s.chats.GetByParticipants(ctx, userID, otherID)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, types.ErrChatNotFound) {
		return nil, err
	}

	// Create the chat, a concurrent creator may win the pair index
	chat = types.NewChat(userID, otherID, time.Now())
	inserted, err := s.chats.Insert(ctx, chat)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	if !inserted {
		return s.chats.GetByParticipants(ctx, userID, otherID)
	}

	return chat, nil
}

// SendMessage persists a message, marks the other participant stale,
// publishes it to the chat room and notifies absent participants.
//
// Everything after persistence runs detached from ctx so a caller that goes
// away cannot undo a stored message. Publish and notification failures are
// logged and never returned.
func (s *ChatService) SendMessage(
	ctx context.Context, chatID, senderID uuid.UUID, body string, media *types.Media, mediaPending bool,
) (*types.Message, error) {
	// Validate the content before touching storage
	body = strings.TrimSpace(body)
	if body == "" && media.Empty() && !mediaPending {
		return nil, types.ErrEmptyMessage
	}
	if !media.Empty() && !media.Type.Valid() {
		return nil, types.ErrInvalidMedia
	}

	chat, err := s.participantChat(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}

	// Refuse delivery across a block
	recipientID := chat.Other(senderID)
	blocked, err := s.blocks.IsBlockedEither(ctx, senderID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to check blocks: %w", err)
	}
	if blocked {
		return nil, types.ErrBlocked
	}

	// Build the message row
	msg := &types.Message{
		ID:        uuid.New(),
		ChatID:    chat.ID,
		SenderID:  senderID,
		Body:      body,
		Ready:     !mediaPending,
		CreatedAt: time.Now(),
	}
	if !media.Empty() {
		msg.MediaURL = media.URL
		msg.MediaType = media.Type
	}

	// Persist first, everything after is best effort
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	// Detach follow-up work from the caller
	bg := context.WithoutCancel(ctx)

	if err := s.chats.Touch(bg, chat.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("Failed to update chat activity", zap.String("chat", chat.ID.String()), zap.Error(err))
	}

	if err := s.readState.MarkStale(bg, chat.ID, recipientID); err != nil {
		s.logger.Warn("Failed to mark recipient stale",
			zap.String("chat", chat.ID.String()),
			zap.String("user", recipientID.String()),
			zap.Error(err))
	}

	// Publish to the room then push to absent participants
	s.publish(bg, types.EventMessageCreated, msg)
	s.notifier.ChatMessage(bg, senderID, chat.ID, notificationBody(msg))

	return msg, nil
}

// SendMessageToUser sends a message to another user, creating their chat first if needed.
func (s *ChatService) SendMessageToUser(
	ctx context.Context, senderID, receiverID uuid.UUID, body string, media *types.Media, mediaPending bool,
) (*types.Message, error) {
	chat, err := s.GetOrCreateChat(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return s.SendMessage(ctx, chat.ID, senderID, body, media, mediaPending)
}

// CompleteMedia attaches uploaded media to a pending message and republishes
// it as an update of the same message. No second notification is sent.
func (s *ChatService) CompleteMedia(
	ctx context.Context, messageID, senderID uuid.UUID, media types.Media,
) (*types.Message, error) {
	if media.Empty() || !media.Type.Valid() {
		return nil, types.ErrInvalidMedia
	}

	// Only the sender may finish a pending upload
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != senderID {
		return nil, types.ErrNotAuthor
	}
	if msg.Ready {
		return nil, types.ErrMediaCompleted
	}

	// Flip ready atomically so a racing call sees ErrMediaCompleted
	updated, err := s.messages.CompleteMedia(ctx, messageID, media)
	if err != nil {
		return nil, err
	}

	s.publish(context.WithoutCancel(ctx), types.EventMessageUpdated, updated)

	return updated, nil
}

// ListMessages returns a page of a chat's messages, newest first. Fetching the
// newest page marks the caller up to date.
func (s *ChatService) ListMessages(
	ctx context.Context, chatID, userID uuid.UUID, limit, offset int,
) ([]*types.MessageView, error) {
	limit, offset = pageBounds(limit, offset)

	chat, err := s.participantChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}

	// Fetch the page
	msgs, err := s.messages.List(ctx, chat.ID, limit, offset)
	if err != nil {
		return nil, err
	}

	// Reading the newest page clears the unread state
	if offset == 0 {
		if err := s.readState.MarkUpToDate(ctx, chat.ID, userID); err != nil {
			s.logger.Warn("Failed to mark chat up to date",
				zap.String("chat", chat.ID.String()),
				zap.String("user", userID.String()),
				zap.Error(err))
		}
	}

	// Attach age buckets
	now := time.Now()
	views := make([]*types.MessageView, len(msgs))
	for i, msg := range msgs {
		views[i] = &types.MessageView{Message: msg, Age: types.AgeOf(msg.CreatedAt, now)}
	}
	return views, nil
}

// ListChats returns the user's chats with the other participant resolved.
func (s *ChatService) ListChats(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.ChatView, error) {
	limit, offset = pageBounds(limit, offset)

	chats, err := s.chats.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	// Resolve the other participants in one query
	otherIDs := make([]uuid.UUID, len(chats))
	for i, chat := range chats {
		otherIDs[i] = chat.Other(userID)
	}

	users, err := s.users.GetByIDs(ctx, otherIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve participants: %w", err)
	}

	// Skip chats whose other participant is gone
	views := make([]*types.ChatView, 0, len(chats))
	for _, chat := range chats {
		other, ok := users[chat.Other(userID)]
		if !ok {
			continue
		}
		views = append(views, &types.ChatView{
			Chat:   chat,
			Other:  other.Summary(),
			Unread: !chat.LastMessageAt.IsZero() && !chat.IsUpToDate(userID),
		})
	}
	return views, nil
}

// GetChat returns the chat when the user is one of its participants.
func (s *ChatService) GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error) {
	return s.participantChat(ctx, chatID, userID)
}

// participantChat loads a chat the user belongs to.
func (s *ChatService) participantChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		return nil, types.ErrNotParticipant
	}
	return chat, nil
}

// publish sends a message event to the chat room, logging failures.
func (s *ChatService) publish(ctx context.Context, event types.EventType, msg *types.Message) {
	if err := s.publisher.Publish(ctx, msg.ChatID, event, msg); err != nil {
		s.logger.Warn("Failed to publish message event",
			zap.String("event", string(event)),
			zap.String("message", msg.ID.String()),
			zap.Error(err))
	}
}

// notificationBody is the text previewed in a push for the message.
func notificationBody(msg *types.Message) string {
	if msg.Body != "" {
		return msg.Body
	}

	switch msg.MediaType {
	case types.MediaVideo:
		return "Sent a video"
	case types.MediaImage:
		return "Sent a photo"
	default:
		return "Sent an attachment"
	}
}
