package realtime_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/tandem-social/tandem/internal/presence"
	"github.com/tandem-social/tandem/internal/realtime"
	"go.uber.org/zap"
)

var errBadToken = errors.New("bad token")

type tokenAuth map[string]uuid.UUID

func (a tokenAuth) Verify(token string) (uuid.UUID, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return uuid.Nil, errBadToken
}

// nopReadState satisfies the tracker's read state without storing anything.
type nopReadState struct{}

func (nopReadState) AddUpToDate(context.Context, uuid.UUID, uuid.UUID) error { return nil }

func (nopReadState) RemoveUpToDate(context.Context, uuid.UUID, []uuid.UUID) error { return nil }

type fakeChats struct {
	chat *types.Chat
}

func (c *fakeChats) GetChat(_ context.Context, chatID, userID uuid.UUID) (*types.Chat, error) {
	if chatID != c.chat.ID {
		return nil, types.ErrChatNotFound
	}
	if !c.chat.HasParticipant(userID) {
		return nil, types.ErrNotParticipant
	}
	return c.chat, nil
}

func (c *fakeChats) SendMessage(
	ctx context.Context, chatID, senderID uuid.UUID, body string, _ *types.Media, _ bool,
) (*types.Message, error) {
	if _, err := c.GetChat(ctx, chatID, senderID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, types.ErrEmptyMessage
	}
	return &types.Message{ID: uuid.New(), ChatID: chatID, SenderID: senderID, Body: body, Ready: true}, nil
}

type gatewayFixture struct {
	gateway  *realtime.Gateway
	tracker  *presence.Tracker
	server   *httptest.Server
	alice    uuid.UUID
	chat     *types.Chat
}

func newGatewayFixture(t *testing.T) (*gatewayFixture, func(channel, message string)) {
	t.Helper()

	mr, client := setupRedis(t)

	alice, bob := uuid.New(), uuid.New()
	chat := types.NewChat(alice, bob, time.Now())
	tracker := presence.NewTracker(client, nopReadState{}, time.Hour, zap.NewNop())

	gateway := realtime.NewGateway(client, tracker, &fakeChats{chat: chat},
		tokenAuth{"alice-token": alice}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gateway.Run(ctx) }()

	server := httptest.NewServer(gateway)
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, 2*time.Second, 10*time.Millisecond)

	return &gatewayFixture{
		gateway:  gateway,
		tracker:  tracker,
		server:   server,
		alice:    alice,
		chat:     chat,
	}, func(channel, message string) { mr.Publish(channel, message) }
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, frame realtime.InboundFrame) {
	t.Helper()

	data, err := sonic.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return data
}

func readOutbound(t *testing.T, ws *websocket.Conn) realtime.OutboundFrame {
	t.Helper()

	var frame realtime.OutboundFrame
	require.NoError(t, sonic.Unmarshal(readFrame(t, ws), &frame))
	return frame
}

func TestGatewayRejectsUnauthenticatedHandshake(t *testing.T) {
	t.Parallel()

	f, _ := newGatewayFixture(t)

	for _, url := range []string{f.server.URL, f.server.URL + "/?token=forged"} {
		resp, err := http.Get(url)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestGatewayJoinForwardsRoomEvents(t *testing.T) {
	t.Parallel()

	f, publish := newGatewayFixture(t)
	ws := f.dial(t, "alice-token")

	send(t, ws, realtime.InboundFrame{Type: realtime.FrameJoin, ChatID: f.chat.ID, Ref: "1"})
	joined := readOutbound(t, ws)
	assert.Equal(t, realtime.FrameJoined, joined.Type)
	assert.Equal(t, "1", joined.Ref)
	assert.Equal(t, 1, f.gateway.Rooms().Size(f.chat.ID))

	event := `{"type":"message.created","chatId":"` + f.chat.ID.String() + `"}`
	publish(realtime.Channel(uuid.New()), `{"type":"message.created"}`)
	publish(realtime.Channel(f.chat.ID), event)
	assert.JSONEq(t, event, string(readFrame(t, ws)))

	send(t, ws, realtime.InboundFrame{Type: realtime.FrameLeave, ChatID: f.chat.ID})
	assert.Equal(t, realtime.FrameLeft, readOutbound(t, ws).Type)
	assert.Equal(t, 0, f.gateway.Rooms().Size(f.chat.ID))
}

func TestGatewayCommands(t *testing.T) {
	t.Parallel()

	f, _ := newGatewayFixture(t)
	ws := f.dial(t, "alice-token")

	send(t, ws, realtime.InboundFrame{Type: realtime.FrameSendMessage, ChatID: f.chat.ID, Body: "hi", Ref: "m1"})
	ack := readOutbound(t, ws)
	assert.Equal(t, realtime.FrameAck, ack.Type)
	assert.Equal(t, "m1", ack.Ref)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hi", ack.Message.Body)

	send(t, ws, realtime.InboundFrame{Type: realtime.FrameSendMessage, ChatID: f.chat.ID, Body: " "})
	rejected := readOutbound(t, ws)
	assert.Equal(t, realtime.FrameError, rejected.Type)
	assert.Contains(t, rejected.Error, "message needs a body or media")

	send(t, ws, realtime.InboundFrame{Type: realtime.FrameJoin, ChatID: uuid.New()})
	assert.Equal(t, realtime.FrameError, readOutbound(t, ws).Type)

	send(t, ws, realtime.InboundFrame{Type: "dance"})
	assert.Equal(t, "unknown frame type", readOutbound(t, ws).Error)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "malformed frame", readOutbound(t, ws).Error)
}

func TestGatewayDisconnectClearsPresence(t *testing.T) {
	t.Parallel()

	f, _ := newGatewayFixture(t)
	ws := f.dial(t, "alice-token")

	send(t, ws, realtime.InboundFrame{Type: realtime.FrameJoin, ChatID: f.chat.ID})
	require.Equal(t, realtime.FrameJoined, readOutbound(t, ws).Type)

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		present, err := f.tracker.IsPresent(context.Background(), f.chat.ID, f.alice)
		return err == nil && !present && f.gateway.Rooms().Size(f.chat.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func (f *gatewayFixture) present(t *testing.T) bool {
	t.Helper()

	present, err := f.tracker.IsPresent(context.Background(), f.chat.ID, f.alice)
	require.NoError(t, err)
	return present
}

func TestGatewaySecondSocketKeepsPresence(t *testing.T) {
	t.Parallel()

	f, _ := newGatewayFixture(t)
	phone := f.dial(t, "alice-token")
	laptop := f.dial(t, "alice-token")

	for _, ws := range []*websocket.Conn{phone, laptop} {
		send(t, ws, realtime.InboundFrame{Type: realtime.FrameJoin, ChatID: f.chat.ID})
		require.Equal(t, realtime.FrameJoined, readOutbound(t, ws).Type)
	}
	require.True(t, f.present(t))

	// Leaving on one device keeps the user present through the other
	send(t, phone, realtime.InboundFrame{Type: realtime.FrameLeave, ChatID: f.chat.ID})
	require.Equal(t, realtime.FrameLeft, readOutbound(t, phone).Type)
	assert.True(t, f.present(t))

	send(t, phone, realtime.InboundFrame{Type: realtime.FrameJoin, ChatID: f.chat.ID})
	require.Equal(t, realtime.FrameJoined, readOutbound(t, phone).Type)

	// So does disconnecting it
	require.NoError(t, phone.Close())
	require.Eventually(t, func() bool {
		return f.gateway.Rooms().Size(f.chat.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.present(t))

	require.NoError(t, laptop.Close())
	require.Eventually(t, func() bool {
		present, err := f.tracker.IsPresent(context.Background(), f.chat.ID, f.alice)
		return err == nil && !present
	}, 2*time.Second, 10*time.Millisecond)
}
