package types

import (
	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
)

// TargetRequest names the other user of a graph or chat operation.
type TargetRequest struct {
	UserID uuid.UUID `json:"userId"`
}

// ConnectionResponse is returned by a friend request.
type ConnectionResponse struct {
	Connection *types.Connection `json:"connection"`
	// Created is false when an edge already existed in either direction.
	Created bool `json:"created"`
}

// PostRequest creates a post or a repost.
type PostRequest struct {
	Body  string       `json:"body"`
	Media *types.Media `json:"media,omitempty"`
}

// CommentRequest adds a comment or a reply.
type CommentRequest struct {
	Body     string     `json:"body"`
	ParentID *uuid.UUID `json:"parentId,omitempty"`
}

// MessageRequest sends a chat message.
type MessageRequest struct {
	Body         string       `json:"body"`
	Media        *types.Media `json:"media,omitempty"`
	MediaPending bool         `json:"mediaPending,omitempty"`
}

// LikeResponse reports whether a like edge changed.
type LikeResponse struct {
	Changed bool `json:"changed"`
}

// ListResponse wraps a page of results.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
