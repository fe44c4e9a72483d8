package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/dbretry"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// MessageModel handles database operations for chat messages.
type MessageModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewMessage creates a new message model.
func NewMessage(db *bun.DB, logger *zap.Logger) *MessageModel {
	return &MessageModel{
		db:     db,
		logger: logger.Named("db_message"),
	}
}

// Insert persists a message.
func (r *MessageModel) Insert(ctx context.Context, msg *types.Message) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(msg).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetByID retrieves one message.
func (r *MessageModel) GetByID(ctx context.Context, id uuid.UUID) (*types.Message, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Message, error) {
		var msg types.Message
		err := r.db.NewSelect().
			Model(&msg).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrMessageNotFound
			}
			return nil, fmt.Errorf("failed to get message: %w", err)
		}
		return &msg, nil
	})
}

// CompleteMedia attaches uploaded media to a pending message and marks it
// ready. A message that is already ready cannot be completed again.
func (r *MessageModel) CompleteMedia(ctx context.Context, id uuid.UUID, media types.Media) (*types.Message, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Message, error) {
		var msg types.Message
		err := r.db.NewUpdate().
			Model(&msg).
			Set("media_url = ?", media.URL).
			Set("media_type = ?", media.Type).
			Set("ready = true").
			Where("id = ?", id).
			Where("ready = false").
			Returning("*").
			Scan(ctx)
		if err != nil {
			// Nothing matched, either missing or already ready
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrMediaCompleted
			}
			return nil, fmt.Errorf("failed to complete message media: %w", err)
		}
		return &msg, nil
	})
}

// List returns a page of a chat's messages, newest first.
func (r *MessageModel) List(ctx context.Context, chatID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Message, error) {
		var msgs []*types.Message
		err := r.db.NewSelect().
			Model(&msgs).
			Where("chat_id = ?", chatID).
			Order("created_at DESC", "id DESC").
			Limit(limit).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		return msgs, nil
	})
}
