package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
	restTypes "github.com/tandem-social/tandem/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// ConnectionService is the connection graph as seen by the REST API.
type ConnectionService interface {
	SendRequest(ctx context.Context, requesterID, receiverID uuid.UUID) (*types.Connection, bool, error)
	AcceptRequest(ctx context.Context, userID, requesterID uuid.UUID) (*types.Connection, error)
	RejectRequest(ctx context.Context, userID, requesterID uuid.UUID) error
	RecallRequest(ctx context.Context, userID, receiverID uuid.UUID) error
	RemoveConnection(ctx context.Context, userID, friendID uuid.UUID, skipStrict bool) error
	Block(ctx context.Context, userID, targetID uuid.UUID) error
	Unblock(ctx context.Context, userID, targetID uuid.UUID) error
	ListBlocked(ctx context.Context, userID uuid.UUID) ([]types.UserSummary, error)
	ListFriends(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.ConnectionView, error)
	ListPendingRequests(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.ConnectionView, error)
	ListSentRequests(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.ConnectionView, error)
	Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]types.UserSummary, error)
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

// ConnectionHandler handles friend graph endpoints.
type ConnectionHandler struct {
	connections ConnectionService
	logger      *zap.Logger
}

// NewConnectionHandler creates a new connection handler.
func NewConnectionHandler(connections ConnectionService, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		logger:      logger.Named("connection_handler"),
	}
}

// SendRequest handles POST /connections/requests.
// Responds 201 when a new edge was created and 200 when one already existed.
func (h *ConnectionHandler) SendRequest(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	var body restTypes.TargetRequest
	if err := decode(req, &body); err != nil {
		return err
	}

	conn, created, err := h.connections.SendRequest(req.Context(), userID, body.UserID)
	if err != nil {
		return err
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return Render(w, status, restTypes.ConnectionResponse{Connection: conn, Created: created})
}

// AcceptRequest handles POST /connections/requests/:userId/accept.
func (h *ConnectionHandler) AcceptRequest(w http.ResponseWriter, req bunrouter.Request) error {
	userID, otherID, err := h.pair(req)
	if err != nil {
		return err
	}

	conn, err := h.connections.AcceptRequest(req.Context(), userID, otherID)
	if err != nil {
		return err
	}
	return ok(w, conn)
}

// RejectRequest handles POST /connections/requests/:userId/reject.
func (h *ConnectionHandler) RejectRequest(w http.ResponseWriter, req bunrouter.Request) error {
	userID, otherID, err := h.pair(req)
	if err != nil {
		return err
	}

	if err := h.connections.RejectRequest(req.Context(), userID, otherID); err != nil {
		return err
	}
	return noContent(w)
}

// RecallRequest handles DELETE /connections/requests/:userId.
func (h *ConnectionHandler) RecallRequest(w http.ResponseWriter, req bunrouter.Request) error {
	userID, otherID, err := h.pair(req)
	if err != nil {
		return err
	}

	if err := h.connections.RecallRequest(req.Context(), userID, otherID); err != nil {
		return err
	}
	return noContent(w)
}

// RemoveConnection handles DELETE /connections/:userId.
func (h *ConnectionHandler) RemoveConnection(w http.ResponseWriter, req bunrouter.Request) error {
	userID, otherID, err := h.pair(req)
	if err != nil {
		return err
	}

	if err := h.connections.RemoveConnection(req.Context(), userID, otherID, false); err != nil {
		return err
	}
	return noContent(w)
}

// Block handles PUT /blocks/:userId.
func (h *ConnectionHandler) Block(w http.ResponseWriter, req bunrouter.Request) error {
	userID, otherID, err := h.pair(req)
	if err != nil {
		return err
	}

	if err := h.connections.Block(req.Context(), userID, otherID); err != nil {
		return err
	}
	return noContent(w)
}

// Unblock handles DELETE /blocks/:userId.
func (h *ConnectionHandler) Unblock(w http.ResponseWriter, req bunrouter.Request) error {
	userID, otherID, err := h.pair(req)
	if err != nil {
		return err
	}

	if err := h.connections.Unblock(req.Context(), userID, otherID); err != nil {
		return err
	}
	return noContent(w)
}

// ListBlocked handles GET /blocks.
func (h *ConnectionHandler) ListBlocked(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	blocked, err := h.connections.ListBlocked(req.Context(), userID)
	if err != nil {
		return err
	}
	return list(w, blocked, len(blocked), 0)
}

// ListFriends handles GET /connections.
func (h *ConnectionHandler) ListFriends(w http.ResponseWriter, req bunrouter.Request) error {
	return h.listViews(w, req, h.connections.ListFriends)
}

// ListPendingRequests handles GET /connections/pending.
func (h *ConnectionHandler) ListPendingRequests(w http.ResponseWriter, req bunrouter.Request) error {
	return h.listViews(w, req, h.connections.ListPendingRequests)
}

// ListSentRequests handles GET /connections/sent.
func (h *ConnectionHandler) ListSentRequests(w http.ResponseWriter, req bunrouter.Request) error {
	return h.listViews(w, req, h.connections.ListSentRequests)
}

// Search handles GET /users/search?q=.
func (h *ConnectionHandler) Search(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	limit, err := intQuery(req, "limit")
	if err != nil {
		return err
	}

	users, err := h.connections.Search(req.Context(), userID, req.URL.Query().Get("q"), limit)
	if err != nil {
		return err
	}
	return list(w, users, limit, 0)
}

// DeleteAccount handles DELETE /me.
func (h *ConnectionHandler) DeleteAccount(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	if err := h.connections.DeleteAccount(req.Context(), userID); err != nil {
		return err
	}

	h.logger.Info("Account deleted", zap.String("user", userID.String()))
	return noContent(w)
}

func (h *ConnectionHandler) pair(req bunrouter.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := currentUser(req)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	otherID, err := idParam(req, "userId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, otherID, nil
}

type listFunc func(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.ConnectionView, error)

func (h *ConnectionHandler) listViews(w http.ResponseWriter, req bunrouter.Request, fetch listFunc) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	limit, offset, err := pageQuery(req)
	if err != nil {
		return err
	}

	views, err := fetch(req.Context(), userID, limit, offset)
	if err != nil {
		return err
	}
	return list(w, views, limit, offset)
}
