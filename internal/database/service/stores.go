package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/models"
	"github.com/tandem-social/tandem/internal/database/types"
)

// The store interfaces below are the atomic primitives each service relies on.
// They are satisfied by the bun models in internal/database/models.

// UserStore reads and deletes users. Friend counters move with the edges in
// ConnectionStore.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.User, error)
	Search(ctx context.Context, query string, excludeIDs []uuid.UUID, limit int) ([]*types.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ConnectionStore holds friend edges. Every mutation credits or reverses the
// edge's counter weight on both endpoints atomically with the edge change.
type ConnectionStore interface {
	GetBetween(ctx context.Context, a, b uuid.UUID) (*types.Connection, error)
	Insert(ctx context.Context, conn *types.Connection) (bool, error)
	Accept(ctx context.Context, requesterID, receiverID uuid.UUID, step int) (*types.Connection, error)
	DeletePending(ctx context.Context, requesterID, receiverID uuid.UUID) (*types.Connection, error)
	DeleteBetween(ctx context.Context, a, b uuid.UUID) (*types.Connection, error)
	List(
		ctx context.Context, userID uuid.UUID, kind models.ConnectionKind, excludeIDs []uuid.UUID, limit, offset int,
	) ([]*types.Connection, error)
	ListAll(ctx context.Context, userID uuid.UUID) ([]*types.Connection, error)
	FriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// BlockStore holds directed block edges.
type BlockStore interface {
	IsBlockedEither(ctx context.Context, a, b uuid.UUID) (bool, error)
	Block(ctx context.Context, userID, targetID uuid.UUID) (bool, error)
	Unblock(ctx context.Context, userID, targetID uuid.UUID) error
	RelatedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListBlocked(ctx context.Context, userID uuid.UUID) ([]*types.BlockedUser, error)
}

// ChatStore holds chats.
type ChatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Chat, error)
	GetByParticipants(ctx context.Context, a, b uuid.UUID) (*types.Chat, error)
	Insert(ctx context.Context, chat *types.Chat) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Chat, error)
	Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error
}

// MessageStore holds chat messages.
type MessageStore interface {
	Insert(ctx context.Context, msg *types.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.Message, error)
	CompleteMedia(ctx context.Context, id uuid.UUID, media types.Media) (*types.Message, error)
	List(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*types.Message, error)
}

// PostStore holds posts and post likes.
type PostStore interface {
	Insert(ctx context.Context, post *types.Post) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.Post, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Post, error)
	Delete(ctx context.Context, id, authorID uuid.UUID) error
	ListByAuthors(ctx context.Context, authorIDs []uuid.UUID, limit, offset int) ([]*types.Post, error)
	AddLike(ctx context.Context, postID, userID uuid.UUID) (bool, error)
	RemoveLike(ctx context.Context, postID, userID uuid.UUID) (bool, error)
	LikedPostIDs(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	ListLikesBy(
		ctx context.Context, likerIDs, excludePostIDs []uuid.UUID, limit, offset int,
	) ([]*types.PostLike, error)
}

// CommentStore holds comments and comment likes.
type CommentStore interface {
	Insert(ctx context.Context, comment *types.Comment) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.Comment, error)
	Delete(ctx context.Context, id, authorID uuid.UUID) error
	ListByPost(ctx context.Context, postID uuid.UUID, limit, offset int) ([]*types.Comment, error)
	AddLike(ctx context.Context, commentID, userID uuid.UUID) (bool, error)
	RemoveLike(ctx context.Context, commentID, userID uuid.UUID) (bool, error)
	LikedCommentIDs(ctx context.Context, userID uuid.UUID, commentIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// ReadState tracks which chat participants have no unread messages.
type ReadState interface {
	MarkUpToDate(ctx context.Context, chatID, userID uuid.UUID) error
	MarkStale(ctx context.Context, chatID uuid.UUID, userIDs ...uuid.UUID) error
}

// Publisher pushes events to everyone joined to a chat room.
type Publisher interface {
	Publish(ctx context.Context, chatID uuid.UUID, event types.EventType, payload any) error
}

// Notifier dispatches push notifications in the background.
// Implementations never block the caller and never report failures.
type Notifier interface {
	ChatMessage(ctx context.Context, senderID, chatID uuid.UUID, body string)
	FriendRequest(ctx context.Context, requester *types.User, receiverID uuid.UUID)
}
