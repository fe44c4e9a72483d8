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

// ChatService is the messaging surface exposed over REST.
type ChatService interface {
	GetOrCreateChat(ctx context.Context, userID, otherID uuid.UUID) (*types.Chat, error)
	GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error)
	SendMessage(
		ctx context.Context, chatID, senderID uuid.UUID, body string, media *types.Media, mediaPending bool,
	) (*types.Message, error)
	SendMessageToUser(
		ctx context.Context, senderID, receiverID uuid.UUID, body string, media *types.Media, mediaPending bool,
	) (*types.Message, error)
	CompleteMedia(ctx context.Context, messageID, senderID uuid.UUID, media types.Media) (*types.Message, error)
	ListMessages(ctx context.Context, chatID, userID uuid.UUID, limit, offset int) ([]*types.MessageView, error)
	ListChats(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.ChatView, error)
}

// ChatHandler handles chat and message endpoints.
type ChatHandler struct {
	chats  ChatService
	logger *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chats ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chats:  chats,
		logger: logger.Named("chat_handler"),
	}
}

// ListChats handles GET /chats.
func (h *ChatHandler) ListChats(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	limit, offset, err := pageQuery(req)
	if err != nil {
		return err
	}

	chats, err := h.chats.ListChats(req.Context(), userID, limit, offset)
	if err != nil {
		return err
	}
	return list(w, chats, limit, offset)
}

// OpenChat handles POST /chats.
func (h *ChatHandler) OpenChat(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}

	var body restTypes.TargetRequest
	if err := decode(req, &body); err != nil {
		return err
	}

	chat, err := h.chats.GetOrCreateChat(req.Context(), userID, body.UserID)
	if err != nil {
		return err
	}
	return ok(w, chat)
}

// GetChat handles GET /chats/:id.
func (h *ChatHandler) GetChat(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	chatID, err := idParam(req, "id")
	if err != nil {
		return err
	}

	chat, err := h.chats.GetChat(req.Context(), chatID, userID)
	if err != nil {
		return err
	}
	return ok(w, chat)
}

// ListMessages handles GET /chats/:id/messages.
func (h *ChatHandler) ListMessages(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	chatID, err := idParam(req, "id")
	if err != nil {
		return err
	}
	limit, offset, err := pageQuery(req)
	if err != nil {
		return err
	}

	messages, err := h.chats.ListMessages(req.Context(), chatID, userID, limit, offset)
	if err != nil {
		return err
	}
	return list(w, messages, limit, offset)
}

// SendMessage handles POST /chats/:id/messages.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	chatID, err := idParam(req, "id")
	if err != nil {
		return err
	}

	var body restTypes.MessageRequest
	if err := decode(req, &body); err != nil {
		return err
	}

	msg, err := h.chats.SendMessage(req.Context(), chatID, userID, body.Body, body.Media, body.MediaPending)
	if err != nil {
		return err
	}
	return Render(w, http.StatusCreated, msg)
}

// SendMessageToUser handles POST /users/:id/messages.
func (h *ChatHandler) SendMessageToUser(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	receiverID, err := idParam(req, "id")
	if err != nil {
		return err
	}

	var body restTypes.MessageRequest
	if err := decode(req, &body); err != nil {
		return err
	}

	msg, err := h.chats.SendMessageToUser(req.Context(), userID, receiverID, body.Body, body.Media, body.MediaPending)
	if err != nil {
		return err
	}
	return Render(w, http.StatusCreated, msg)
}

// CompleteMedia handles PUT /messages/:id/media.
func (h *ChatHandler) CompleteMedia(w http.ResponseWriter, req bunrouter.Request) error {
	userID, err := currentUser(req)
	if err != nil {
		return err
	}
	messageID, err := idParam(req, "id")
	if err != nil {
		return err
	}

	var media types.Media
	if err := decode(req, &media); err != nil {
		return err
	}

	msg, err := h.chats.CompleteMedia(req.Context(), messageID, userID, media)
	if err != nil {
		return err
	}
	return ok(w, msg)
}
