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
	"go.uber.org/zap"
)

// PostModel handles database operations for posts and post likes.
type PostModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewPost creates a new post model.
func NewPost(db *bun.DB, logger *zap.Logger) *PostModel {
	return &PostModel{
		db:     db,
		logger: logger.Named("db_post"),
	}
}

// Insert persists a post.
func (r *PostModel) Insert(ctx context.Context, post *types.Post) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(post).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert post: %w", err)
		}
		return nil
	})
}

// GetByID retrieves one post.
func (r *PostModel) GetByID(ctx context.Context, id uuid.UUID) (*types.Post, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Post, error) {
		var post types.Post
		err := r.db.NewSelect().
			Model(&post).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrPostNotFound
			}
			return nil, fmt.Errorf("failed to get post: %w", err)
		}
		return &post, nil
	})
}

// GetByIDs retrieves posts keyed by ID. Missing IDs are absent from the map.
func (r *PostModel) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Post, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*types.Post{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]*types.Post, error) {
		var posts []*types.Post
		err := r.db.NewSelect().
			Model(&posts).
			Where("id IN (?)", bun.In(ids)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get posts: %w", err)
		}

		// Index by ID
		result := make(map[uuid.UUID]*types.Post, len(posts))
		for _, post := range posts {
			result[post.ID] = post
		}
		return result, nil
	})
}

// Delete removes a post owned by authorID. Comments and likes cascade.
func (r *PostModel) Delete(ctx context.Context, id, authorID uuid.UUID) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		res, err := r.db.NewDelete().
			Model((*types.Post)(nil)).
			Where("id = ?", id).
			Where("author_id = ?", authorID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete post: %w", err)
		}
		return requireAffected(res, types.ErrPostNotFound)
	})
}

// ListByAuthors returns a page of posts written by any of the authors, newest first.
func (r *PostModel) ListByAuthors(
	ctx context.Context, authorIDs []uuid.UUID, limit, offset int,
) ([]*types.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Post, error) {
		var posts []*types.Post
		err := r.db.NewSelect().
			Model(&posts).
			Where("author_id IN (?)", bun.In(authorIDs)).
			Order("created_at DESC", "id").
			Limit(limit).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list posts by authors: %w", err)
		}
		return posts, nil
	})
}

// AddLike records a like and bumps the post's like count in one transaction.
// Returns false when the user already liked the post.
func (r *PostModel) AddLike(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	var added bool
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		added = false

		// Insert the like, a duplicate is a no-op
		res, err := tx.NewInsert().
			Model(&types.PostLike{PostID: postID, LikedBy: userID, CreatedAt: time.Now()}).
			On("CONFLICT (post_id, liked_by) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert post like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		// Bump the count only when a like row was added
		res, err = tx.NewUpdate().
			Model((*types.Post)(nil)).
			Set("like_count = like_count + 1").
			Where("id = ?", postID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to bump like count: %w", err)
		}
		if err := requireAffected(res, types.ErrPostNotFound); err != nil {
			return err
		}

		added = true
		return nil
	})
	return added, err
}

// RemoveLike deletes a like and lowers the post's like count in one transaction.
// Returns false when the user had not liked the post.
func (r *PostModel) RemoveLike(ctx context.Context, postID, userID uuid.UUID) (bool, error) {
	var removed bool
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		removed = false

		// Delete the like if present
		res, err := tx.NewDelete().
			Model((*types.PostLike)(nil)).
			Where("post_id = ?", postID).
			Where("liked_by = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete post like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		// Lower the count only when a like row was removed
		_, err = tx.NewUpdate().
			Model((*types.Post)(nil)).
			Set("like_count = GREATEST(like_count - 1, 0)").
			Where("id = ?", postID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to lower like count: %w", err)
		}

		removed = true
		return nil
	})
	return removed, err
}

// LikedPostIDs returns which of postIDs the user has liked.
func (r *PostModel) LikedPostIDs(
	ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID,
) (map[uuid.UUID]bool, error) {
	if len(postIDs) == 0 {
		return map[uuid.UUID]bool{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]bool, error) {
		var ids []uuid.UUID
		err := r.db.NewSelect().
			Model((*types.PostLike)(nil)).
			Column("post_id").
			Where("liked_by = ?", userID).
			Where("post_id IN (?)", bun.In(postIDs)).
			Scan(ctx, &ids)
		if err != nil {
			return nil, fmt.Errorf("failed to get liked posts: %w", err)
		}

		// Convert to a lookup set
		result := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			result[id] = true
		}
		return result, nil
	})
}

// ListLikesBy returns a page of like edges made by any of the likers, newest
// first, skipping likes on the excluded posts.
func (r *PostModel) ListLikesBy(
	ctx context.Context, likerIDs, excludePostIDs []uuid.UUID, limit, offset int,
) ([]*types.PostLike, error) {
	if len(likerIDs) == 0 {
		return nil, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.PostLike, error) {
		var likes []*types.PostLike
		q := r.db.NewSelect().
			Model(&likes).
			Where("liked_by IN (?)", bun.In(likerIDs))
		// Skip posts already on the timeline page
		if len(excludePostIDs) > 0 {
			q = q.Where("post_id NOT IN (?)", bun.In(excludePostIDs))
		}

		err := q.Order("created_at DESC", "post_id", "liked_by").
			Limit(limit).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list likes: %w", err)
		}
		return likes, nil
	})
}
