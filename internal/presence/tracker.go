// Package presence tracks which users are looking at which chat and which
// participants have caught up on a chat.
package presence

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// ChatSessionsPrefix keys the set of sessions joined to a chat room.
	// Members are "{userID}:{sessionID}".
	ChatSessionsPrefix = "chat_sessions:"
	// UserSessionsPrefix keys the set of rooms one session joined, as
	// "user_sessions:{userID}:{sessionID}".
	UserSessionsPrefix = "user_sessions:"

	// DefaultSessionTTL bounds how long a session outlives its last join.
	DefaultSessionTTL = 24 * time.Hour
)

// Session identifies one connection of a user. A user with several open
// sockets holds one session per socket and stays present in a chat while any
// of them is joined.
type Session struct {
	UserID uuid.UUID
	ID     string
}

// NewSession starts a session with a fresh id for the user.
func NewSession(userID uuid.UUID) Session {
	return Session{UserID: userID, ID: uuid.NewString()}
}

func (s Session) member() string {
	return s.UserID.String() + ":" + s.ID
}

// ChatReadState is the persistent half of the tracker: the up-to-date set
// stored with each chat.
type ChatReadState interface {
	AddUpToDate(ctx context.Context, chatID, userID uuid.UUID) error
	RemoveUpToDate(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID) error
}

// Tracker keeps ephemeral chat sessions in Redis and delegates read state to
// the chat store. Sessions only suppress notifications; they are not read receipts.
type Tracker struct {
	client rueidis.Client
	chats  ChatReadState
	ttl    time.Duration
	logger *zap.Logger
}

// NewTracker creates a presence tracker. A non-positive ttl uses DefaultSessionTTL.
func NewTracker(client rueidis.Client, chats ChatReadState, ttl time.Duration, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Tracker{
		client: client,
		chats:  chats,
		ttl:    ttl,
		logger: logger.Named("presence"),
	}
}

func chatKey(chatID uuid.UUID) string {
	return ChatSessionsPrefix + chatID.String()
}

func sessionKey(session Session) string {
	return UserSessionsPrefix + session.member()
}

// JoinChat records that the session is viewing the chat. Joining again only
// refreshes the session lifetime.
func (t *Tracker) JoinChat(ctx context.Context, session Session, chatID uuid.UUID) error {
	seconds := int64(t.ttl / time.Second)

	cmds := rueidis.Commands{
		t.client.B().Sadd().Key(chatKey(chatID)).Member(session.member()).Build(),
		t.client.B().Expire().Key(chatKey(chatID)).Seconds(seconds).Build(),
		t.client.B().Sadd().Key(sessionKey(session)).Member(chatID.String()).Build(),
		t.client.B().Expire().Key(sessionKey(session)).Seconds(seconds).Build(),
	}

	for _, resp := range t.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to join chat session: %w", err)
		}
	}
	return nil
}

// LeaveChat ends the session's presence in the chat. Other sessions of the
// same user are untouched. Leaving a chat the session never joined is not an
// error.
func (t *Tracker) LeaveChat(ctx context.Context, session Session, chatID uuid.UUID) error {
	cmds := rueidis.Commands{
		t.client.B().Srem().Key(chatKey(chatID)).Member(session.member()).Build(),
		t.client.B().Srem().Key(sessionKey(session)).Member(chatID.String()).Build(),
	}

	for _, resp := range t.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to leave chat session: %w", err)
		}
	}
	return nil
}

// Disconnect ends every chat presence held by the session.
func (t *Tracker) Disconnect(ctx context.Context, session Session) error {
	// Rooms this session joined
	chatIDs, err := t.client.Do(ctx, t.client.B().Smembers().Key(sessionKey(session)).Build()).AsStrSlice()
	if err != nil {
		return fmt.Errorf("failed to list session rooms: %w", err)
	}

	// Leave each of them, then drop the session's own set
	cmds := make(rueidis.Commands, 0, len(chatIDs)+1)
	for _, chatID := range chatIDs {
		cmds = append(cmds, t.client.B().Srem().Key(ChatSessionsPrefix+chatID).Member(session.member()).Build())
	}
	cmds = append(cmds, t.client.B().Del().Key(sessionKey(session)).Build())

	for _, resp := range t.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to clear session rooms: %w", err)
		}
	}

	t.logger.Debug("Cleared chat sessions",
		zap.String("user", session.UserID.String()),
		zap.String("session", session.ID),
		zap.Int("rooms", len(chatIDs)))
	return nil
}

// IsPresent reports whether any session of the user is joined to the chat.
func (t *Tracker) IsPresent(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	users, err := t.PresentUsers(ctx, chatID)
	if err != nil {
		return false, err
	}
	return slices.Contains(users, userID), nil
}

// PresentUsers returns every user with at least one session joined to the chat.
func (t *Tracker) PresentUsers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	members, err := t.client.Do(ctx, t.client.B().Smembers().Key(chatKey(chatID)).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}

	users := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		userPart, _, _ := strings.Cut(member, ":")
		id, err := uuid.Parse(userPart)
		if err != nil {
			t.logger.Warn("Skipping malformed session member",
				zap.String("chat", chatID.String()),
				zap.String("member", member))
			continue
		}

		// Several sessions of one user count once
		if !slices.Contains(users, id) {
			users = append(users, id)
		}
	}
	return users, nil
}

// MarkUpToDate adds the user to the chat's up-to-date set.
func (t *Tracker) MarkUpToDate(ctx context.Context, chatID, userID uuid.UUID) error {
	return t.chats.AddUpToDate(ctx, chatID, userID)
}

// MarkStale removes the users from the chat's up-to-date set.
func (t *Tracker) MarkStale(ctx context.Context, chatID uuid.UUID, userIDs ...uuid.UUID) error {
	return t.chats.RemoveUpToDate(ctx, chatID, userIDs)
}
