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
	"github.com/tandem-social/tandem/pkg/utils"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// UserModel handles database operations for user records.
type UserModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewUser creates a new user model.
func NewUser(db *bun.DB, logger *zap.Logger) *UserModel {
	return &UserModel{
		db:     db,
		logger: logger.Named("db_user"),
	}
}

// Create inserts a user with normalized username and email.
func (r *UserModel) Create(ctx context.Context, user *types.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	// Normalize identifiers so lookups and uniqueness ignore case and width
	user.Username = utils.NormalizeIdentifier(user.Username)
	user.Email = utils.NormalizeIdentifier(user.Email)

	// Set timestamps
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(user).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

// GetByID retrieves one user.
func (r *UserModel) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.User, error) {
		var user types.User
		err := r.db.NewSelect().
			Model(&user).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrUserNotFound
			}
			return nil, fmt.Errorf("failed to get user: %w", err)
		}
		return &user, nil
	})
}

// GetByUsername retrieves one user by normalized username.
func (r *UserModel) GetByUsername(ctx context.Context, username string) (*types.User, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.User, error) {
		var user types.User
		err := r.db.NewSelect().
			Model(&user).
			Where("username = ?", utils.NormalizeIdentifier(username)).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrUserNotFound
			}
			return nil, fmt.Errorf("failed to get user by username: %w", err)
		}
		return &user, nil
	})
}

// GetByIDs retrieves users keyed by ID. Missing IDs are absent from the map.
func (r *UserModel) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.User, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*types.User{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]*types.User, error) {
		var users []*types.User
		err := r.db.NewSelect().
			Model(&users).
			Where("id IN (?)", bun.In(ids)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get users: %w", err)
		}

		// Index by ID
		result := make(map[uuid.UUID]*types.User, len(users))
		for _, user := range users {
			result[user.ID] = user
		}
		return result, nil
	})
}

// Search finds active users whose username or name starts with the query.
func (r *UserModel) Search(
	ctx context.Context, query string, excludeIDs []uuid.UUID, limit int,
) ([]*types.User, error) {
	// Build a prefix pattern from the normalized query
	pattern := escapeLike(utils.NormalizeIdentifier(query)) + "%"

	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.User, error) {
		var users []*types.User
		q := r.db.NewSelect().
			Model(&users).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("username LIKE ?", pattern).
					WhereOr("lower(name) LIKE ?", pattern)
			}).
			Where("suspended = false").
			Where("terminated = false").
			Order("username ASC").
			Limit(limit)

		// Exclude the caller and block relations
		if len(excludeIDs) > 0 {
			q = q.Where("id NOT IN (?)", bun.In(excludeIDs))
		}

		if err := q.Scan(ctx); err != nil {
			return nil, fmt.Errorf("failed to search users: %w", err)
		}
		return users, nil
	})
}

// SetPushToken stores the push destination for a user.
func (r *UserModel) SetPushToken(ctx context.Context, id uuid.UUID, token string) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		res, err := r.db.NewUpdate().
			Model((*types.User)(nil)).
			Set("push_token = ?", token).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set push token: %w", err)
		}
		return requireAffected(res, types.ErrUserNotFound)
	})
}

// adjustFriendCounters moves the requester's as-requester counter and the
// receiver's as-receiver counter by delta in one statement. Counters never
// drop below zero. It runs inside the caller's transaction.
func adjustFriendCounters(ctx context.Context, db bun.IDB, requesterID, receiverID uuid.UUID, delta int) error {
	if delta == 0 {
		return nil
	}

	_, err := db.NewUpdate().
		Model((*types.User)(nil)).
		Set("as_requester_count = CASE WHEN id = ? THEN GREATEST(as_requester_count + ?, 0) "+
			"ELSE as_requester_count END", requesterID, delta).
		Set("as_receiver_count = CASE WHEN id = ? THEN GREATEST(as_receiver_count + ?, 0) "+
			"ELSE as_receiver_count END", receiverID, delta).
		Set("updated_at = ?", time.Now()).
		Where("id IN (?)", bun.In([]uuid.UUID{requesterID, receiverID})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to adjust friend counters: %w", err)
	}
	return nil
}

// Delete removes a user. Edges, likes and comments referencing the user
// cascade, so the like and comment counts they contributed to other rows are
// taken back first in the same transaction.
func (r *UserModel) Delete(ctx context.Context, id uuid.UUID) error {
	return dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		// Take back the user's likes on posts
		_, err := tx.NewUpdate().
			Model((*types.Post)(nil)).
			Set("like_count = GREATEST(like_count - 1, 0)").
			Where("id IN (?)", tx.NewSelect().
				Model((*types.PostLike)(nil)).
				Column("post_id").
				Where("liked_by = ?", id)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to lower post like counts: %w", err)
		}

		// Take back the user's likes on comments
		_, err = tx.NewUpdate().
			Model((*types.Comment)(nil)).
			Set("like_count = GREATEST(like_count - 1, 0)").
			Where("id IN (?)", tx.NewSelect().
				Model((*types.CommentLike)(nil)).
				Column("comment_id").
				Where("liked_by = ?", id)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to lower comment like counts: %w", err)
		}

		// The user's comments cascade together with every reply to them
		_, err = tx.NewRaw(`UPDATE posts AS p
			SET comment_count = GREATEST(p.comment_count - c.removed, 0)
			FROM (
				SELECT post_id, count(*) AS removed FROM comments
				WHERE author_id = ? OR parent_id IN (SELECT id FROM comments WHERE author_id = ?)
				GROUP BY post_id
			) AS c
			WHERE p.id = c.post_id`, id, id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to lower comment counts: %w", err)
		}

		// Delete the user, remaining rows cascade
		res, err := tx.NewDelete().
			Model((*types.User)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return requireAffected(res, types.ErrUserNotFound)
	})
}
