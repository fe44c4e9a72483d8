package models

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/dbretry"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// BlockModel handles database operations for block records.
type BlockModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewBlock creates a new block model.
func NewBlock(db *bun.DB, logger *zap.Logger) *BlockModel {
	return &BlockModel{
		db:     db,
		logger: logger.Named("db_block"),
	}
}

// IsBlockedEither reports whether either user has blocked the other.
func (r *BlockModel) IsBlockedEither(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		exists, err := r.db.NewSelect().
			Model((*types.BlockedUser)(nil)).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("user_id = ? AND blocked_user_id = ?", a, b).
					WhereOr("user_id = ? AND blocked_user_id = ?", b, a)
			}).
			Exists(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to check block: %w", err)
		}
		return exists, nil
	})
}

// Block records that userID blocked targetID. Returns false if already blocked.
func (r *BlockModel) Block(ctx context.Context, userID, targetID uuid.UUID) (bool, error) {
	record := &types.BlockedUser{
		UserID:        userID,
		BlockedUserID: targetID,
		CreatedAt:     time.Now(),
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (bool, error) {
		res, err := r.db.NewInsert().
			Model(record).
			On("CONFLICT (user_id, blocked_user_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to block user: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read affected rows: %w", err)
		}
		return n == 1, nil
	})
}

// Unblock removes the block userID placed on targetID.
func (r *BlockModel) Unblock(ctx context.Context, userID, targetID uuid.UUID) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewDelete().
			Model((*types.BlockedUser)(nil)).
			Where("user_id = ?", userID).
			Where("blocked_user_id = ?", targetID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to unblock user: %w", err)
		}
		return nil
	})
}

// RelatedIDs returns every user the given user blocked or was blocked by.
func (r *BlockModel) RelatedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]uuid.UUID, error) {
		var ids []uuid.UUID
		err := r.db.NewSelect().
			Model((*types.BlockedUser)(nil)).
			ColumnExpr("CASE WHEN user_id = ? THEN blocked_user_id ELSE user_id END", userID).
			Where("user_id = ?", userID).
			WhereOr("blocked_user_id = ?", userID).
			Scan(ctx, &ids)
		if err != nil {
			return nil, fmt.Errorf("failed to get block relations: %w", err)
		}
		return ids, nil
	})
}

// ListBlocked returns the users blocked by userID, newest first.
func (r *BlockModel) ListBlocked(ctx context.Context, userID uuid.UUID) ([]*types.BlockedUser, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.BlockedUser, error) {
		var blocks []*types.BlockedUser
		err := r.db.NewSelect().
			Model(&blocks).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blocked users: %w", err)
		}
		return blocks, nil
	})
}
