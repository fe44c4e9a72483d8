package realtime

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/rueidis"
	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/tandem-social/tandem/internal/presence"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 64
)

// Sessions records which chats each socket has open.
type Sessions interface {
	JoinChat(ctx context.Context, session presence.Session, chatID uuid.UUID) error
	LeaveChat(ctx context.Context, session presence.Session, chatID uuid.UUID) error
	Disconnect(ctx context.Context, session presence.Session) error
}

// Chats is the part of the chat service reachable over the socket.
type Chats interface {
	GetChat(ctx context.Context, chatID, userID uuid.UUID) (*types.Chat, error)
	SendMessage(
		ctx context.Context, chatID, senderID uuid.UUID, body string, media *types.Media, mediaPending bool,
	) (*types.Message, error)
}

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Verify(token string) (uuid.UUID, error)
}

// Gateway upgrades authenticated requests to WebSockets, handles room
// commands and forwards chat events published on Redis to joined sockets.
type Gateway struct {
	client   rueidis.Client
	rooms    *Rooms
	sessions Sessions
	chats    Chats
	auth     Authenticator
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewGateway creates a Gateway. An empty allowedOrigins accepts any origin.
func NewGateway(
	client rueidis.Client, sessions Sessions, chats Chats, authenticator Authenticator,
	allowedOrigins []string, logger *zap.Logger,
) *Gateway {
	return &Gateway{
		client:   client,
		rooms:    NewRooms(),
		sessions: sessions,
		chats:    chats,
		auth:     authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		logger: logger.Named("gateway"),
	}
}

// Rooms exposes the local room registry.
func (g *Gateway) Rooms() *Rooms {
	return g.rooms
}

// Run subscribes to every chat channel and forwards events until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("Subscribing to chat events", zap.String("pattern", ChannelPattern))

	err := g.client.Receive(ctx, g.client.B().Psubscribe().Pattern(ChannelPattern).Build(),
		func(msg rueidis.PubSubMessage) {
			chatID, ok := chatFromChannel(msg.Channel)
			if !ok {
				g.logger.Warn("Ignoring event on unexpected channel", zap.String("channel", msg.Channel))
				return
			}
			g.rooms.Broadcast(chatID, []byte(msg.Message))
		})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// ServeHTTP authenticates the handshake and serves the socket until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = auth.BearerToken(r.Header.Get("Authorization")); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	userID, err := g.auth.Verify(token)
	if err != nil {
		http.Error(w, auth.ErrInvalidToken.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	session := presence.NewSession(userID)
	c := &conn{
		gateway: g,
		ws:      ws,
		userID:  userID,
		session: session,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		logger: g.logger.With(
			zap.String("user", userID.String()),
			zap.String("session", session.ID)),
	}

	c.logger.Debug("Client connected")
	go c.writePump()
	c.readPump(auth.WithUser(r.Context(), userID))
}

// conn is one authenticated socket.
type conn struct {
	gateway   *Gateway
	ws        *websocket.Conn
	userID    uuid.UUID
	session   presence.Session
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// Send queues data for the socket, dropping it when the client is too slow.
func (c *conn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Dropping event for slow client")
		return false
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.gateway.rooms.LeaveAll(c)

		// Only this socket's rooms; other sockets of the user stay present
		if err := c.gateway.sessions.Disconnect(context.WithoutCancel(ctx), c.session); err != nil {
			c.logger.Warn("Failed to clear chat sessions", zap.Error(err))
		}
		c.logger.Debug("Client disconnected")
	}()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Unexpected socket close", zap.Error(err))
			}
			return
		}

		var frame InboundFrame
		if err := sonic.Unmarshal(data, &frame); err != nil {
			c.reply(OutboundFrame{Type: FrameError, Error: "malformed frame"})
			continue
		}

		c.handle(ctx, &frame)
	}
}

func (c *conn) handle(ctx context.Context, frame *InboundFrame) {
	reply := OutboundFrame{ChatID: frame.ChatID, Ref: frame.Ref}

	switch frame.Type {
	case FrameJoin:
		if _, err := c.gateway.chats.GetChat(ctx, frame.ChatID, c.userID); err != nil {
			c.replyError(reply, err)
			return
		}
		c.gateway.rooms.Join(frame.ChatID, c)
		if err := c.gateway.sessions.JoinChat(ctx, c.session, frame.ChatID); err != nil {
			c.logger.Warn("Failed to record chat session", zap.Error(err))
		}
		reply.Type = FrameJoined

	case FrameLeave:
		c.gateway.rooms.Leave(frame.ChatID, c)
		if err := c.gateway.sessions.LeaveChat(ctx, c.session, frame.ChatID); err != nil {
			c.logger.Warn("Failed to clear chat session", zap.Error(err))
		}
		reply.Type = FrameLeft

	case FrameSendMessage:
		msg, err := c.gateway.chats.SendMessage(ctx, frame.ChatID, c.userID, frame.Body, frame.Media, frame.MediaPending)
		if err != nil {
			c.replyError(reply, err)
			return
		}
		reply.Type = FrameAck
		reply.Message = msg

	default:
		reply.Type = FrameError
		reply.Error = "unknown frame type"
	}

	c.reply(reply)
}

func (c *conn) replyError(reply OutboundFrame, err error) {
	reply.Type = FrameError
	reply.Error = "internal error"
	if types.IsRequestFailure(err) {
		reply.Error = err.Error()
	} else {
		c.logger.Error("Socket command failed", zap.Error(err))
	}
	c.reply(reply)
}

func (c *conn) reply(frame OutboundFrame) {
	data, err := sonic.Marshal(frame)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.Error(err))
		return
	}
	c.Send(data)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("Socket write failed", zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
