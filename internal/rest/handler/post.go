package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
	restTypes "github.com/tandem-social/tandem/internal/rest/types"
	"github.com/uptrace/bunrouter"
)

// PostService covers posts, comments and likes.
type PostService interface {
	CreatePost(ctx context.Context, authorID uuid.UUID, body string, media *types.Media) (*types.Post, error)
	Repost(ctx context.Context, userID, postID uuid.UUID, body string) (*types.Post, error)
	DeletePost(ctx context.Context, userID, postID uuid.UUID) error
	LikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error)
	UnlikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error)
	AddComment(ctx context.Context, userID, postID uuid.UUID, parentID *uuid.UUID, body string) (*types.Comment, error)
	DeleteComment(ctx context.Context, userID, commentID uuid.UUID) error
	LikeComment(ctx context.Context, userID, commentID uuid.UUID) (bool, error)
	UnlikeComment(ctx context.Context, userID, commentID uuid.UUID) (bool, error)
	ListComments(ctx context.Context, userID, postID uuid.UUID, limit, offset int) ([]*types.CommentView, error)
}

// PostHandler handles post and comment endpoints.
type PostHandler struct {
	posts PostService
}

// NewPostHandler creates a new post handler.
func NewPostHandler(posts PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// CreatePost handles POST /posts.
func (h *PostHandler) CreatePost(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	var body restTypes.PostRequest
	if err := decode(req, &body); err != nil {
		return err
	}

	post, err := h.posts.CreatePost(req.Context(), userID, body.Body, body.Media)
	if err != nil {
		return err
	}
	return Render(w, http.StatusCreated, post)
}

// Repost handles POST /posts/:id/repost.
func (h *PostHandler) Repost(w http.ResponseWriter, req bunrouter.Request) error {
	userID, postID, err := h.target(req)
	if err != nil {
		return err
	}

	var body restTypes.PostRequest
	if req.ContentLength != 0 {
		if err := decode(req, &body); err != nil {
			return err
		}
	}

	post, err := h.posts.Repost(req.Context(), userID, postID, body.Body)
	if err != nil {
		return err
	}
	return Render(w, http.StatusCreated, post)
}

// DeletePost handles DELETE /posts/:id.
func (h *PostHandler) DeletePost(w http.ResponseWriter, req bunrouter.Request) error {
	userID, postID, err := h.target(req)
	if err != nil {
		return err
	}

	if err := h.posts.DeletePost(req.Context(), userID, postID); err != nil {
		return err
	}
	return noContent(w)
}

// LikePost handles PUT /posts/:id/like.
func (h *PostHandler) LikePost(w http.ResponseWriter, req bunrouter.Request) error {
	return h.toggle(w, req, h.posts.LikePost)
}

// UnlikePost handles DELETE /posts/:id/like.
func (h *PostHandler) UnlikePost(w http.ResponseWriter, req bunrouter.Request) error {
	return h.toggle(w, req, h.posts.UnlikePost)
}

// LikeComment handles PUT /comments/:id/like.
func (h *PostHandler) LikeComment(w http.ResponseWriter, req bunrouter.Request) error {
	return h.toggle(w, req, h.posts.LikeComment)
}

// UnlikeComment handles DELETE /comments/:id/like.
func (h *PostHandler) UnlikeComment(w http.ResponseWriter, req bunrouter.Request) error {
	return h.toggle(w, req, h.posts.UnlikeComment)
}

// ListComments handles GET /posts/:id/comments.
func (h *PostHandler) ListComments(w http.ResponseWriter, req bunrouter.Request) error {
	userID, postID, err := h.target(req)
	if err != nil {
		return err
	}
	limit, offset, err := pageQuery(req)
	if err != nil {
		return err
	}

	comments, err := h.posts.ListComments(req.Context(), userID, postID, limit, offset)
	if err != nil {
		return err
	}
	return list(w, comments, limit, offset)
}

// AddComment handles POST /posts/:id/comments.
func (h *PostHandler) AddComment(w http.ResponseWriter, req bunrouter.Request) error {
	userID, postID, err := h.target(req)
	if err != nil {
		return err
	}

	var body restTypes.CommentRequest
	if err := decode(req, &body); err != nil {
		return err
	}

	comment, err := h.posts.AddComment(req.Context(), userID, postID, body.ParentID, body.Body)
	if err != nil {
		return err
	}
	return Render(w, http.StatusCreated, comment)
}

// DeleteComment handles DELETE /comments/:id.
func (h *PostHandler) DeleteComment(w http.ResponseWriter, req bunrouter.Request) error {
	userID, commentID, err := h.target(req)
	if err != nil {
		return err
	}

	if err := h.posts.DeleteComment(req.Context(), userID, commentID); err != nil {
		return err
	}
	return noContent(w)
}

func (h *PostHandler) target(req bunrouter.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := currentUser(req)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := idParam(req, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, id, nil
}

type toggleFunc func(ctx context.Context, userID, targetID uuid.UUID) (bool, error)

func (h *PostHandler) toggle(w http.ResponseWriter, req bunrouter.Request, fn toggleFunc) error {
	userID, targetID, err := h.target(req)
	if err != nil {
		return err
	}

	changed, err := fn(req.Context(), userID, targetID)
	if err != nil {
		return err
	}
	return ok(w, restTypes.LikeResponse{Changed: changed})
}
