package rest_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tandem-social/tandem/internal/auth"
	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/tandem-social/tandem/internal/rest"
	"github.com/tandem-social/tandem/internal/rest/handler"
	restTypes "github.com/tandem-social/tandem/internal/rest/types"
	"github.com/tandem-social/tandem/internal/setup/config"
	"go.uber.org/zap"
)

// Unused methods of the embedded interfaces panic if called.
type fakeConnections struct {
	handler.ConnectionService

	sendErr error
	created bool
}

func (f *fakeConnections) SendRequest(_ context.Context, requesterID, receiverID uuid.UUID) (*types.Connection, bool, error) {
	if f.sendErr != nil {
		return nil, false, f.sendErr
	}
	return &types.Connection{ID: uuid.New(), RequesterID: requesterID, ReceiverID: receiverID}, f.created, nil
}

func (f *fakeConnections) RemoveConnection(context.Context, uuid.UUID, uuid.UUID, bool) error {
	return types.ErrConnectionNotFound
}

func (f *fakeConnections) ListFriends(context.Context, uuid.UUID, int, int) ([]*types.ConnectionView, error) {
	return nil, nil
}

type fakeFeed struct {
	mu             sync.Mutex
	timeline       int
	interests      int
	requestingUser uuid.UUID
}

func (f *fakeFeed) BuildFeed(_ context.Context, userID uuid.UUID, timelineOffset, interestsOffset int) (*types.FeedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestingUser, f.timeline, f.interests = userID, timelineOffset, interestsOffset
	return &types.FeedPage{Items: []*types.FeedItem{}, NextTimelineOffset: timelineOffset + 10}, nil
}

type fakePosts struct {
	handler.PostService
}

func (fakePosts) LikePost(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return true, nil
}

func (fakePosts) DeletePost(context.Context, uuid.UUID, uuid.UUID) error {
	return errors.New("connection reset by peer")
}

func (fakePosts) AddComment(context.Context, uuid.UUID, uuid.UUID, *uuid.UUID, string) (*types.Comment, error) {
	return nil, types.ErrNestedReply
}

type fakeChats struct {
	handler.ChatService
}

func (fakeChats) SendMessage(
	_ context.Context, chatID, senderID uuid.UUID, body string, _ *types.Media, _ bool,
) (*types.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, types.ErrEmptyMessage
	}
	return &types.Message{ID: uuid.New(), ChatID: chatID, SenderID: senderID, Body: body, Ready: true}, nil
}

func (fakeChats) GetChat(context.Context, uuid.UUID, uuid.UUID) (*types.Chat, error) {
	return nil, types.ErrNotParticipant
}

type serverFixture struct {
	server      *httptest.Server
	connections *fakeConnections
	feed        *fakeFeed
	user        uuid.UUID
	token       string
}

func newServerFixture(t *testing.T, limits config.RateLimit) *serverFixture {
	t.Helper()

	verifier, err := auth.NewVerifier("test-secret", "")
	require.NoError(t, err)

	user := uuid.New()
	token, err := verifier.Issue(user, time.Hour)
	require.NoError(t, err)

	connections := &fakeConnections{}
	feed := &fakeFeed{}
	socket := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := rest.NewServer(rest.Services{
		Connections: connections,
		Chats:       fakeChats{},
		Posts:       fakePosts{},
		Feed:        feed,
	}, verifier, socket, &config.API{RateLimit: limits}, zap.NewNop())

	server := httptest.NewServer(srv)
	t.Cleanup(func() {
		server.Close()
		srv.Close()
	})

	return &serverFixture{
		server:      server,
		connections: connections,
		feed:        feed,
		user:        user,
		token:       token,
	}
}

func relaxedLimits() config.RateLimit {
	return config.RateLimit{RequestsPerSecond: 1000, BurstSize: 1000, StrikeLimit: 100, BlockDuration: 1}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorOf(t *testing.T, data []byte) string {
	t.Helper()

	var body restTypes.ErrorResponse
	require.NoError(t, sonic.Unmarshal(data, &body))
	return body.Error
}

func TestServerRequiresBearerToken(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, relaxedLimits())

	for _, header := range []string{"", "Bearer forged", "Basic abc"} {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, f.server.URL+"/v1/feed", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, header)
		assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	}
}

func TestServerHealthAndSocketMount(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, relaxedLimits())

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/v1/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestServerSendRequestStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		created    bool
		sendErr    error
		body       string
		wantStatus int
	}{
		{name: "new edge", created: true, wantStatus: http.StatusCreated},
		{name: "existing edge", created: false, wantStatus: http.StatusOK},
		{name: "blocked", sendErr: types.ErrBlocked, wantStatus: http.StatusForbidden},
		{name: "self request", sendErr: types.ErrSelfRequest, wantStatus: http.StatusConflict},
		{name: "timeout", sendErr: types.ErrTimeout, wantStatus: http.StatusGatewayTimeout},
		{name: "malformed body", body: "{", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newServerFixture(t, relaxedLimits())
			f.connections.created = tt.created
			f.connections.sendErr = tt.sendErr

			body := tt.body
			if body == "" {
				body = `{"userId":"` + uuid.NewString() + `"}`
			}

			resp, data := f.do(t, http.MethodPost, "/v1/connections/requests", body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(data))

			if tt.sendErr == nil && tt.body == "" {
				var out restTypes.ConnectionResponse
				require.NoError(t, sonic.Unmarshal(data, &out))
				assert.Equal(t, tt.created, out.Created)
				assert.Equal(t, f.user, out.Connection.RequesterID)
			}
		})
	}
}

func TestServerErrorMapping(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, relaxedLimits())
	id := uuid.NewString()

	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		wantStatus  int
		wantMessage string
	}{
		{
			name: "not found", method: http.MethodDelete, path: "/v1/connections/" + id,
			wantStatus: http.StatusNotFound, wantMessage: types.ErrConnectionNotFound.Error(),
		},
		{
			name: "forbidden", method: http.MethodGet, path: "/v1/chats/" + id,
			wantStatus: http.StatusForbidden, wantMessage: types.ErrNotParticipant.Error(),
		},
		{
			name: "conflict", method: http.MethodPost, path: "/v1/posts/" + id + "/comments", body: `{"body":"hi"}`,
			wantStatus: http.StatusConflict, wantMessage: types.ErrNestedReply.Error(),
		},
		{
			name: "validation", method: http.MethodPost, path: "/v1/chats/" + id + "/messages", body: `{"body":"  "}`,
			wantStatus: http.StatusBadRequest, wantMessage: types.ErrEmptyMessage.Error(),
		},
		{
			name: "bad path id", method: http.MethodDelete, path: "/v1/connections/not-a-uuid",
			wantStatus: http.StatusBadRequest, wantMessage: "bad request: invalid userId",
		},
		{
			name: "bad query", method: http.MethodGet, path: "/v1/connections?limit=-1",
			wantStatus: http.StatusBadRequest, wantMessage: "bad request: invalid limit",
		},
		{
			name: "internal failure is hidden", method: http.MethodDelete, path: "/v1/posts/" + id,
			wantStatus: http.StatusInternalServerError, wantMessage: http.StatusText(http.StatusInternalServerError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, data := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantMessage, errorOf(t, data))
		})
	}
}

func TestServerResponses(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, relaxedLimits())

	t.Run("feed offsets", func(t *testing.T) {
		t.Parallel()

		resp, data := f.do(t, http.MethodGet, "/v1/feed?timelineOffset=20&interestsOffset=7", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var page types.FeedPage
		require.NoError(t, sonic.Unmarshal(data, &page))
		assert.Equal(t, 30, page.NextTimelineOffset)

		f.feed.mu.Lock()
		defer f.feed.mu.Unlock()
		assert.Equal(t, f.user, f.feed.requestingUser)
		assert.Equal(t, 20, f.feed.timeline)
		assert.Equal(t, 7, f.feed.interests)
	})

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()

		resp, data := f.do(t, http.MethodGet, "/v1/connections?limit=5&offset=10", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"items":[],"limit":5,"offset":10}`, string(data))
	})

	t.Run("like", func(t *testing.T) {
		t.Parallel()

		resp, data := f.do(t, http.MethodPut, "/v1/posts/"+uuid.NewString()+"/like", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"changed":true}`, string(data))
	})

	t.Run("message created", func(t *testing.T) {
		t.Parallel()

		chatID := uuid.New()
		resp, data := f.do(t, http.MethodPost, "/v1/chats/"+chatID.String()+"/messages", `{"body":"hey"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var msg types.Message
		require.NoError(t, sonic.Unmarshal(data, &msg))
		assert.Equal(t, chatID, msg.ChatID)
		assert.Equal(t, f.user, msg.SenderID)
	})
}

func TestServerRateLimit(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, config.RateLimit{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		StrikeLimit:       2,
		BlockDuration:     60,
	})

	resp, _ := f.do(t, http.MethodGet, "/v1/feed", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := f.do(t, http.MethodGet, "/v1/feed", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", errorOf(t, data))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, data = f.do(t, http.MethodGet, "/v1/feed", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, errorOf(t, data), "temporarily blocked")
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}
