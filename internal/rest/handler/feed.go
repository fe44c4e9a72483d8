package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/uptrace/bunrouter"
)

// FeedService builds feed pages.
type FeedService interface {
	BuildFeed(ctx context.Context, userID uuid.UUID, timelineOffset, interestsOffset int) (*types.FeedPage, error)
}

// FeedHandler serves the home feed.
type FeedHandler struct {
	feed FeedService
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(feed FeedService) *FeedHandler {
	return &FeedHandler{feed: feed}
}

// GetFeed handles GET /feed. Clients pass back the offsets of the previous page.
func (h *FeedHandler) GetFeed(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	timelineOffset, err := intQuery(req, "timelineOffset")
	if err != nil {
		return err
	}
	interestsOffset, err := intQuery(req, "interestsOffset")
	if err != nil {
		return err
	}

	page, err := h.feed.BuildFeed(req.Context(), userID, timelineOffset, interestsOffset)
	if err != nil {
		return err
	}
	return ok(w, page)
}
