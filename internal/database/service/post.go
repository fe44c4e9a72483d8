package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
	"go.uber.org/zap"
)

// PostService handles posts, reposts, likes and comments.
type PostService struct {
	users    UserStore
	posts    PostStore
	comments CommentStore
	blocks   BlockStore
	logger   *zap.Logger
}

// NewPost creates a new post service.
func NewPost(
	users UserStore, posts PostStore, comments CommentStore, blocks BlockStore, logger *zap.Logger,
) *PostService {
	return &PostService{
		users:    users,
		posts:    posts,
		comments: comments,
		blocks:   blocks,
		logger:   logger.Named("post_service"),
	}
}

// CreatePost publishes a post with a body, media or both.
func (s *PostService) CreatePost(
	ctx context.Context, authorID uuid.UUID, body string, media *types.Media,
) (*types.Post, error) {
	// Validate the content
	body = strings.TrimSpace(body)
	if body == "" && media.Empty() {
		return nil, types.ErrEmptyPost
	}
	if !media.Empty() && !media.Type.Valid() {
		return nil, types.ErrInvalidMedia
	}

	// Make sure the author exists
	if _, err := s.users.GetByID(ctx, authorID); err != nil {
		return nil, err
	}

	post := &types.Post{
		ID:        uuid.New(),
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if !media.Empty() {
		post.MediaURL = media.URL
		post.MediaType = media.Type
	}

	if err := s.posts.Insert(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return post, nil
}

// Repost shares an original post. Reposts of reposts are rejected so chains
// never form.
func (s *PostService) Repost(ctx context.Context, userID, postID uuid.UUID, body string) (*types.Post, error) {
	original, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	// Reposts only point at originals
	if original.IsRepost() {
		return nil, types.ErrRepostChain
	}
	if err := s.checkBlocked(ctx, userID, original.AuthorID); err != nil {
		return nil, err
	}

	post := &types.Post{
		ID:        uuid.New(),
		AuthorID:  userID,
		Body:      strings.TrimSpace(body),
		RepostOf:  &original.ID,
		CreatedAt: time.Now(),
	}

	if err := s.posts.Insert(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to create repost: %w", err)
	}
	return post, nil
}

// DeletePost removes one of the user's own posts.
func (s *PostService) DeletePost(ctx context.Context, userID, postID uuid.UUID) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != userID {
		return types.ErrNotAuthor
	}
	return s.posts.Delete(ctx, postID, userID)
}

// LikePost records a like. Liking twice leaves the count unchanged.
func (s *PostService) LikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return false, err
	}
	if err := s.checkBlocked(ctx, userID, post.AuthorID); err != nil {
		return false, err
	}
	return s.posts.AddLike(ctx, postID, userID)
}

// UnlikePost removes a like if present.
func (s *PostService) UnlikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error) {
	return s.posts.RemoveLike(ctx, postID, userID)
}

// AddComment comments on a post or replies to one of its top-level comments.
func (s *PostService) AddComment(
	ctx context.Context, userID, postID uuid.UUID, parentID *uuid.UUID, body string,
) (*types.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, types.ErrEmptyComment
	}

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := s.checkBlocked(ctx, userID, post.AuthorID); err != nil {
		return nil, err
	}

	// Replies attach to a top-level comment of the same post
	if parentID != nil {
		parent, err := s.comments.GetByID(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.PostID != postID {
			return nil, types.ErrCommentNotFound
		}
		if parent.ParentID != nil {
			return nil, types.ErrNestedReply
		}
	}

	comment := &types.Comment{
		ID:        uuid.New(),
		PostID:    postID,
		ParentID:  parentID,
		AuthorID:  userID,
		Body:      body,
		CreatedAt: time.Now(),
	}

	if err := s.comments.Insert(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}
	return comment, nil
}

// DeleteComment removes one of the user's own comments and its replies.
func (s *PostService) DeleteComment(ctx context.Context, userID, commentID uuid.UUID) error {
	comment, err := s.comments.GetByID(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.AuthorID != userID {
		return types.ErrNotAuthor
	}
	return s.comments.Delete(ctx, commentID, userID)
}

// LikeComment records a like on a comment.
func (s *PostService) LikeComment(ctx context.Context, userID, commentID uuid.UUID) (bool, error) {
	comment, err := s.comments.GetByID(ctx, commentID)
	if err != nil {
		return false, err
	}
	if err := s.checkBlocked(ctx, userID, comment.AuthorID); err != nil {
		return false, err
	}
	return s.comments.AddLike(ctx, commentID, userID)
}

// UnlikeComment removes a like on a comment if present.
func (s *PostService) UnlikeComment(ctx context.Context, userID, commentID uuid.UUID) (bool, error) {
	return s.comments.RemoveLike(ctx, commentID, userID)
}

// ListComments returns a page of a post's comments annotated for the caller.
func (s *PostService) ListComments(
	ctx context.Context, userID, postID uuid.UUID, limit, offset int,
) ([]*types.CommentView, error) {
	limit, offset = pageBounds(limit, offset)

	// Make sure the post exists
	if _, err := s.posts.GetByID(ctx, postID); err != nil {
		return nil, err
	}

	comments, err := s.comments.ListByPost(ctx, postID, limit, offset)
	if err != nil {
		return nil, err
	}

	// Annotate the page with like flags and authors
	commentIDs := make([]uuid.UUID, len(comments))
	authorIDs := make([]uuid.UUID, len(comments))
	for i, comment := range comments {
		commentIDs[i] = comment.ID
		authorIDs[i] = comment.AuthorID
	}

	liked, err := s.comments.LikedCommentIDs(ctx, userID, commentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to annotate comments: %w", err)
	}

	authors, err := s.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve comment authors: %w", err)
	}

	// Skip comments whose author is gone
	now := time.Now()
	views := make([]*types.CommentView, 0, len(comments))
	for _, comment := range comments {
		author, ok := authors[comment.AuthorID]
		if !ok {
			continue
		}
		views = append(views, &types.CommentView{
			Comment: comment,
			Author:  author.Summary(),
			Liked:   liked[comment.ID],
			Age:     types.AgeOf(comment.CreatedAt, now),
		})
	}
	return views, nil
}

// checkBlocked fails with ErrBlocked when either user blocked the other.
func (s *PostService) checkBlocked(ctx context.Context, userID, otherID uuid.UUID) error {
	if userID == otherID {
		return nil
	}

	blocked, err := s.blocks.IsBlockedEither(ctx, userID, otherID)
	if err != nil {
		return fmt.Errorf("failed to check blocks: %w", err)
	}
	if blocked {
		return types.ErrBlocked
	}
	return nil
}
