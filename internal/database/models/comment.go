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

// CommentModel handles database operations for comments.
type CommentModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewComment creates a new comment model.
func NewComment(db *bun.DB, logger *zap.Logger) *CommentModel {
	return &CommentModel{
		db:     db,
		logger: logger.Named("db_comment"),
	}
}

// Insert persists a comment and bumps the post's comment count.
func (r *CommentModel) Insert(ctx context.Context, comment *types.Comment) error {
	return dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		// Bump the count first, which also fails on a missing post
		res, err := tx.NewUpdate().
			Model((*types.Post)(nil)).
			Set("comment_count = comment_count + 1").
			Where("id = ?", comment.PostID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to bump comment count: %w", err)
		}
		if err := requireAffected(res, types.ErrPostNotFound); err != nil {
			return err
		}

		// Insert the comment
		if _, err := tx.NewInsert().Model(comment).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}
		return nil
	})
}

// GetByID retrieves one comment.
func (r *CommentModel) GetByID(ctx context.Context, id uuid.UUID) (*types.Comment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.Comment, error) {
		var comment types.Comment
		err := r.db.NewSelect().
			Model(&comment).
			Where("id = ?", id).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, types.ErrCommentNotFound
			}
			return nil, fmt.Errorf("failed to get comment: %w", err)
		}
		return &comment, nil
	})
}

// Delete removes a comment owned by authorID along with its replies and
// lowers the post's comment count by the number of removed rows.
func (r *CommentModel) Delete(ctx context.Context, id, authorID uuid.UUID) error {
	return dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		// Delete the comment and, when the caller wrote it, its replies
		var removed []*types.Comment
		err := tx.NewDelete().
			Model(&removed).
			WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
				return q.Where("id = ? AND author_id = ?", id, authorID).
					WhereOr("parent_id = ? AND EXISTS (SELECT 1 FROM comments p WHERE p.id = ? AND p.author_id = ?)",
						id, id, authorID)
			}).
			Returning("*").
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to delete comment: %w", err)
		}
		if len(removed) == 0 {
			return types.ErrCommentNotFound
		}

		// Lower the count by every removed row
		_, err = tx.NewUpdate().
			Model((*types.Post)(nil)).
			Set("comment_count = GREATEST(comment_count - ?, 0)", len(removed)).
			Where("id = ?", removed[0].PostID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to lower comment count: %w", err)
		}
		return nil
	})
}

// ListByPost returns a page of a post's comments, oldest first.
func (r *CommentModel) ListByPost(ctx context.Context, postID uuid.UUID, limit, offset int) ([]*types.Comment, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.Comment, error) {
		var comments []*types.Comment
		err := r.db.NewSelect().
			Model(&comments).
			Where("post_id = ?", postID).
			Order("created_at ASC", "id").
			Limit(limit).
			Offset(offset).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}
		return comments, nil
	})
}

// AddLike records a like on a comment and bumps its like count.
func (r *CommentModel) AddLike(ctx context.Context, commentID, userID uuid.UUID) (bool, error) {
	var added bool
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		added = false

		// Insert the like, a duplicate is a no-op
		res, err := tx.NewInsert().
			Model(&types.CommentLike{CommentID: commentID, LikedBy: userID, CreatedAt: time.Now()}).
			On("CONFLICT (comment_id, liked_by) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert comment like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		// Bump the count only when a like row was added
		_, err = tx.NewUpdate().
			Model((*types.Comment)(nil)).
			Set("like_count = like_count + 1").
			Where("id = ?", commentID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to bump comment like count: %w", err)
		}

		added = true
		return nil
	})
	return added, err
}

// RemoveLike deletes a like on a comment and lowers its like count.
func (r *CommentModel) RemoveLike(ctx context.Context, commentID, userID uuid.UUID) (bool, error) {
	var removed bool
	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		removed = false

		// Delete the like if present
		res, err := tx.NewDelete().
			Model((*types.CommentLike)(nil)).
			Where("comment_id = ?", commentID).
			Where("liked_by = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete comment like: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		// Lower the count only when a like row was removed
		_, err = tx.NewUpdate().
			Model((*types.Comment)(nil)).
			Set("like_count = GREATEST(like_count - 1, 0)").
			Where("id = ?", commentID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to lower comment like count: %w", err)
		}

		removed = true
		return nil
	})
	return removed, err
}

// LikedCommentIDs returns which of commentIDs the user has liked.
func (r *CommentModel) LikedCommentIDs(
	ctx context.Context, userID uuid.UUID, commentIDs []uuid.UUID,
) (map[uuid.UUID]bool, error) {
	if len(commentIDs) == 0 {
		return map[uuid.UUID]bool{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[uuid.UUID]bool, error) {
		var ids []uuid.UUID
		err := r.db.NewSelect().
			Model((*types.CommentLike)(nil)).
			Column("comment_id").
			Where("liked_by = ?", userID).
			Where("comment_id IN (?)", bun.In(commentIDs)).
			Scan(ctx, &ids)
		if err != nil {
			return nil, fmt.Errorf("failed to get liked comments: %w", err)
		}

		// Convert to a lookup set
		result := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			result[id] = true
		}
		return result, nil
	})
}
