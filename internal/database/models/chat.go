package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/dbretry"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"
)

// ChatModel handles database operations for chats and their read state.
type ChatModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewChat creates a new chat model.
func NewChat(db *bun.DB, logger *zap.Logger) *ChatModel {
	return &ChatModel{
		db:     db,
		logger: logger.Named("db_chat"),
	}
}

// GetByID retrieves one chat.
func (r *ChatModel) GetByID(ctx context.Context, id uuid.UUID) (*types.Chat, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Chat, error) {
		var chat types.Chat
		err := r.db.NewSelect().
			Model(&chat).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrChatNotFound
			}
			return nil, fmt.Errorf("failed to get chat: %w", err)
		}
		return &chat, nil
	})
}

// GetByParticipants retrieves the chat between two users.
func (r *ChatModel) GetByParticipants(ctx context.Context, a, b uuid.UUID) (*types.Chat, error) {
	// Pairs are stored in sorted order
	low, high := types.SortPair(a, b)

	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Chat, error) {
		var chat types.Chat
		err := r.db.NewSelect().
			Model(&chat).
			Where("participant_low = ?", low).
			Where("participant_high = ?", high).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrChatNotFound
			}
			return nil, fmt.Errorf("failed to get chat by participants: %w", err)
		}
		return &chat, nil
	})
}

// Insert creates the chat unless the pair already has one.
func (r *ChatModel) Insert(ctx context.Context, chat *types.Chat) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		res, err := r.db.NewInsert().
			Model(chat).
			On("CONFLICT (participant_low, participant_high) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to insert chat: %w", err)
		}

		// A conflict means another caller created the pair first
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read affected rows: %w", err)
		}
		return n == 1, nil
	})
}

// ListForUser returns the user's chats, most recently active first.
func (r *ChatModel) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Chat, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Chat, error) {
		var chats []*types.Chat
		err := r.db.NewSelect().
			Model(&chats).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("participant_low = ?", userID).WhereOr("participant_high = ?", userID)
			}).
			OrderExpr("COALESCE(last_message_at, created_at) DESC").
			Order("id").
			Limit(limit).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list chats: %w", err)
		}
		return chats, nil
	})
}

// AddUpToDate adds the user to the chat's up-to-date set. Adding a member
// already in the set is a no-op.
func (r *ChatModel) AddUpToDate(ctx context.Context, chatID, userID uuid.UUID) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.Chat)(nil)).
			Set("up_to_date_users = array_append(up_to_date_users, ?::uuid)", userID).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", chatID).
			Where("NOT (?::uuid = ANY(up_to_date_users))", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark chat up to date: %w", err)
		}
		return nil
	})
}

// RemoveUpToDate removes the given users from the chat's up-to-date set.
func (r *ChatModel) RemoveUpToDate(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}

	// Pass ids as a uuid[] literal
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewUpdate().
			Model((*types.Chat)(nil)).
			Set("up_to_date_users = ARRAY(SELECT u FROM unnest(up_to_date_users) AS u WHERE u <> ALL(?::uuid[]))",
				pgdialect.Array(ids)).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", chatID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark chat stale: %w", err)
		}
		return nil
	})
}

// Touch records the time of the latest message in the chat.
func (r *ChatModel) Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		res, err := r.db.NewUpdate().
			Model((*types.Chat)(nil)).
			Set("last_message_at = GREATEST(COALESCE(last_message_at, ?), ?)", at, at).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", chatID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to touch chat: %w", err)
		}
		return requireAffected(res, types.ErrChatNotFound)
	})
}
