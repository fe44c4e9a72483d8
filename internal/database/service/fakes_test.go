package service_test

import (
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tandem-social/tandem/internal/database/models"
	"github.com/tandem-social/tandem/internal/database/service"
	"github.com/tandem-social/tandem/internal/database/types"
	"go.uber.org/zap"
)

// memDB is an in-memory stand-in for the bun models. Every method holds the
// lock for its whole body so conditional writes behave like single statements.
type memDB struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*types.User
	conns        []*types.Connection
	blocks       []*types.BlockedUser
	chats        map[uuid.UUID]*types.Chat
	messages     []*types.Message
	posts        map[uuid.UUID]*types.Post
	postLikes    []*types.PostLike
	comments     []*types.Comment
	commentLikes []*types.CommentLike
	clock        time.Time
}

func newMemDB() *memDB {
	return &memDB{
		users: make(map[uuid.UUID]*types.User),
		chats: make(map[uuid.UUID]*types.Chat),
		posts: make(map[uuid.UUID]*types.Post),
		clock: time.Now().Add(-time.Hour),
	}
}

// tick returns a strictly increasing timestamp so ordering is deterministic.
func (m *memDB) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memDB) findConn(a, b uuid.UUID) (int, *types.Connection) {
	low, high := types.SortPair(a, b)
	for i, c := range m.conns {
		if c.UserLow == low && c.UserHigh == high {
			return i, c
		}
	}
	return -1, nil
}

func (m *memDB) user(id uuid.UUID) *types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *m.users[id]
	return &u
}

func (m *memDB) edgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *memDB) chat(id uuid.UUID) *types.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.chats[id]
	c.UpToDateUsers = slices.Clone(c.UpToDateUsers)
	return &c
}

func (m *memDB) post(id uuid.UUID) *types.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *m.posts[id]
	return &p
}

// fakeUsers implements service.UserStore.
type fakeUsers struct{ *memDB }

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, types.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (f fakeUsers) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[uuid.UUID]*types.User)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			c := *u
			result[id] = &c
		}
	}
	return result, nil
}

func (f fakeUsers) Search(_ context.Context, query string, excludeIDs []uuid.UUID, limit int) ([]*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	query = strings.ToLower(query)
	var result []*types.User
	for _, u := range f.users {
		if slices.Contains(excludeIDs, u.ID) || !u.Active() {
			continue
		}
		if strings.HasPrefix(u.Username, query) || strings.HasPrefix(strings.ToLower(u.Name), query) {
			c := *u
			result = append(result, &c)
		}
	}
	slices.SortFunc(result, func(a, b *types.User) int { return strings.Compare(a.Username, b.Username) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Delete mirrors the cascade of the schema, including the counts the user's
// likes and comments contributed to other rows.
func (f fakeUsers) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return types.ErrUserNotFound
	}

	f.postLikes = slices.DeleteFunc(f.postLikes, func(l *types.PostLike) bool {
		if l.LikedBy != id {
			return false
		}
		if p, ok := f.posts[l.PostID]; ok {
			p.LikeCount = max(p.LikeCount-1, 0)
		}
		return true
	})

	f.commentLikes = slices.DeleteFunc(f.commentLikes, func(l *types.CommentLike) bool {
		if l.LikedBy != id {
			return false
		}
		for _, c := range f.comments {
			if c.ID == l.CommentID {
				c.LikeCount = max(c.LikeCount-1, 0)
			}
		}
		return true
	})

	var owned []uuid.UUID
	for _, c := range f.comments {
		if c.AuthorID == id {
			owned = append(owned, c.ID)
		}
	}
	f.comments = slices.DeleteFunc(f.comments, func(c *types.Comment) bool {
		hit := c.AuthorID == id || (c.ParentID != nil && slices.Contains(owned, *c.ParentID))
		if hit {
			if p, ok := f.posts[c.PostID]; ok {
				p.CommentCount = max(p.CommentCount-1, 0)
			}
		}
		return hit
	})

	for postID, p := range f.posts {
		if p.AuthorID == id {
			delete(f.posts, postID)
		}
	}
	f.conns = slices.DeleteFunc(f.conns, func(c *types.Connection) bool { return c.Involves(id) })
	delete(f.users, id)
	return nil
}

// creditCounters moves both endpoints' friend counters. Callers hold the lock.
func (m *memDB) creditCounters(requesterID, receiverID uuid.UUID, delta int) {
	if u, ok := m.users[requesterID]; ok {
		u.AsRequesterCount = max(u.AsRequesterCount+delta, 0)
	}
	if u, ok := m.users[receiverID]; ok {
		u.AsReceiverCount = max(u.AsReceiverCount+delta, 0)
	}
}

// fakeConns implements service.ConnectionStore.
type fakeConns struct{ *memDB }

func (f fakeConns) GetBetween(_ context.Context, a, b uuid.UUID) (*types.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, c := f.findConn(a, b)
	if c == nil {
		return nil, types.ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (f fakeConns) Insert(_ context.Context, conn *types.Connection) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, c := f.findConn(conn.RequesterID, conn.ReceiverID); c != nil {
		return false, nil
	}
	cp := *conn
	cp.UpdatedAt = f.tick()
	f.conns = append(f.conns, &cp)
	f.creditCounters(conn.RequesterID, conn.ReceiverID, conn.CounterWeight)
	return true, nil
}

func (f fakeConns) Accept(_ context.Context, requesterID, receiverID uuid.UUID, step int) (*types.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, c := f.findConn(requesterID, receiverID)
	if c == nil || c.RequesterID != requesterID || c.Accepted {
		return nil, types.ErrConnectionNotFound
	}
	c.Accepted = true
	c.CounterWeight += step
	c.UpdatedAt = f.tick()
	f.creditCounters(requesterID, receiverID, step)
	cp := *c
	return &cp, nil
}

func (f fakeConns) DeletePending(_ context.Context, requesterID, receiverID uuid.UUID) (*types.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, c := f.findConn(requesterID, receiverID)
	if c == nil || c.RequesterID != requesterID || c.Accepted {
		return nil, types.ErrConnectionNotFound
	}
	f.conns = slices.Delete(f.conns, i, i+1)
	f.creditCounters(c.RequesterID, c.ReceiverID, -c.CounterWeight)
	return c, nil
}

func (f fakeConns) DeleteBetween(_ context.Context, a, b uuid.UUID) (*types.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, c := f.findConn(a, b)
	if c == nil {
		return nil, types.ErrConnectionNotFound
	}
	f.conns = slices.Delete(f.conns, i, i+1)
	f.creditCounters(c.RequesterID, c.ReceiverID, -c.CounterWeight)
	return c, nil
}

func (f fakeConns) List(
	_ context.Context, userID uuid.UUID, kind models.ConnectionKind, excludeIDs []uuid.UUID, limit, offset int,
) ([]*types.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.Connection
	for i := len(f.conns) - 1; i >= 0; i-- {
		c := f.conns[i]
		var match bool
		switch kind {
		case models.ConnectionFriends:
			match = c.Accepted && c.Involves(userID)
		case models.ConnectionIncoming:
			match = !c.Accepted && c.ReceiverID == userID
		case models.ConnectionOutgoing:
			match = !c.Accepted && c.RequesterID == userID
		}
		if match && !slices.Contains(excludeIDs, c.Other(userID)) {
			cp := *c
			result = append(result, &cp)
		}
	}
	return page(result, limit, offset), nil
}

func (f fakeConns) ListAll(_ context.Context, userID uuid.UUID) ([]*types.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.Connection
	for _, c := range f.conns {
		if c.Involves(userID) {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (f fakeConns) FriendIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, c := range f.conns {
		if c.Accepted && c.Involves(userID) {
			ids = append(ids, c.Other(userID))
		}
	}
	return ids, nil
}

// fakeBlocks implements service.BlockStore.
type fakeBlocks struct{ *memDB }

func (f fakeBlocks) IsBlockedEither(_ context.Context, a, b uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bl := range f.blocks {
		if (bl.UserID == a && bl.BlockedUserID == b) || (bl.UserID == b && bl.BlockedUserID == a) {
			return true, nil
		}
	}
	return false, nil
}

func (f fakeBlocks) Block(_ context.Context, userID, targetID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bl := range f.blocks {
		if bl.UserID == userID && bl.BlockedUserID == targetID {
			return false, nil
		}
	}
	f.blocks = append(f.blocks, &types.BlockedUser{UserID: userID, BlockedUserID: targetID, CreatedAt: f.tick()})
	return true, nil
}

func (f fakeBlocks) Unblock(_ context.Context, userID, targetID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = slices.DeleteFunc(f.blocks, func(bl *types.BlockedUser) bool {
		return bl.UserID == userID && bl.BlockedUserID == targetID
	})
	return nil
}

func (f fakeBlocks) RelatedIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, bl := range f.blocks {
		switch userID {
		case bl.UserID:
			ids = append(ids, bl.BlockedUserID)
		case bl.BlockedUserID:
			ids = append(ids, bl.UserID)
		}
	}
	return ids, nil
}

func (f fakeBlocks) ListBlocked(_ context.Context, userID uuid.UUID) ([]*types.BlockedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.BlockedUser
	for _, bl := range f.blocks {
		if bl.UserID == userID {
			result = append(result, bl)
		}
	}
	return result, nil
}

// fakeChats implements service.ChatStore and service.ReadState.
type fakeChats struct{ *memDB }

func (f fakeChats) GetByID(_ context.Context, id uuid.UUID) (*types.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, types.ErrChatNotFound
	}
	cp := *c
	cp.UpToDateUsers = slices.Clone(c.UpToDateUsers)
	return &cp, nil
}

func (f fakeChats) GetByParticipants(_ context.Context, a, b uuid.UUID) (*types.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	low, high := types.SortPair(a, b)
	for _, c := range f.chats {
		if c.ParticipantLow == low && c.ParticipantHigh == high {
			cp := *c
			cp.UpToDateUsers = slices.Clone(c.UpToDateUsers)
			return &cp, nil
		}
	}
	return nil, types.ErrChatNotFound
}

func (f fakeChats) Insert(_ context.Context, chat *types.Chat) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chats {
		if c.ParticipantLow == chat.ParticipantLow && c.ParticipantHigh == chat.ParticipantHigh {
			return false, nil
		}
	}
	cp := *chat
	f.chats[chat.ID] = &cp
	return true, nil
}

func (f fakeChats) ListForUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*types.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.Chat
	for _, c := range f.chats {
		if c.HasParticipant(userID) {
			cp := *c
			cp.UpToDateUsers = slices.Clone(c.UpToDateUsers)
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *types.Chat) int { return b.LastMessageAt.Compare(a.LastMessageAt) })
	return page(result, limit, offset), nil
}

func (f fakeChats) Touch(_ context.Context, chatID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return types.ErrChatNotFound
	}
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	return nil
}

func (f fakeChats) MarkUpToDate(_ context.Context, chatID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return types.ErrChatNotFound
	}
	if !slices.Contains(c.UpToDateUsers, userID) {
		c.UpToDateUsers = append(c.UpToDateUsers, userID)
	}
	return nil
}

func (f fakeChats) MarkStale(_ context.Context, chatID uuid.UUID, userIDs ...uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[chatID]
	if !ok {
		return types.ErrChatNotFound
	}
	c.UpToDateUsers = slices.DeleteFunc(c.UpToDateUsers, func(id uuid.UUID) bool {
		return slices.Contains(userIDs, id)
	})
	return nil
}

// fakeMessages implements service.MessageStore.
type fakeMessages struct{ *memDB }

func (f fakeMessages) Insert(_ context.Context, msg *types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *msg
	f.messages = append(f.messages, &cp)
	return nil
}

func (f fakeMessages) GetByID(_ context.Context, id uuid.UUID) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, types.ErrMessageNotFound
}

func (f fakeMessages) CompleteMedia(_ context.Context, id uuid.UUID, media types.Media) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			if m.Ready {
				return nil, types.ErrMediaCompleted
			}
			m.Ready = true
			m.MediaURL = media.URL
			m.MediaType = media.Type
			cp := *m
			return &cp, nil
		}
	}
	return nil, types.ErrMediaCompleted
}

func (f fakeMessages) List(_ context.Context, chatID uuid.UUID, limit, offset int) ([]*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.Message
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].ChatID == chatID {
			cp := *f.messages[i]
			result = append(result, &cp)
		}
	}
	return page(result, limit, offset), nil
}

// fakePosts implements service.PostStore.
type fakePosts struct{ *memDB }

func (f fakePosts) Insert(_ context.Context, post *types.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *post
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = f.tick()
	}
	f.posts[post.ID] = &cp
	return nil
}

func (f fakePosts) GetByID(_ context.Context, id uuid.UUID) (*types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return nil, types.ErrPostNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakePosts) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[uuid.UUID]*types.Post)
	for _, id := range ids {
		if p, ok := f.posts[id]; ok {
			cp := *p
			result[id] = &cp
		}
	}
	return result, nil
}

func (f fakePosts) Delete(_ context.Context, id, authorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.AuthorID != authorID {
		return types.ErrPostNotFound
	}
	delete(f.posts, id)
	return nil
}

func (f fakePosts) ListByAuthors(_ context.Context, authorIDs []uuid.UUID, limit, offset int) ([]*types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.Post
	for _, p := range f.posts {
		if slices.Contains(authorIDs, p.AuthorID) {
			cp := *p
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *types.Post) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(result, limit, offset), nil
}

func (f fakePosts) AddLike(_ context.Context, postID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[postID]
	if !ok {
		return false, types.ErrPostNotFound
	}
	for _, l := range f.postLikes {
		if l.PostID == postID && l.LikedBy == userID {
			return false, nil
		}
	}
	f.postLikes = append(f.postLikes, &types.PostLike{PostID: postID, LikedBy: userID, CreatedAt: f.tick()})
	p.LikeCount++
	return true, nil
}

func (f fakePosts) RemoveLike(_ context.Context, postID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.postLikes)
	f.postLikes = slices.DeleteFunc(f.postLikes, func(l *types.PostLike) bool {
		return l.PostID == postID && l.LikedBy == userID
	})
	if len(f.postLikes) == before {
		return false, nil
	}
	if p, ok := f.posts[postID]; ok {
		p.LikeCount = max(p.LikeCount-1, 0)
	}
	return true, nil
}

func (f fakePosts) LikedPostIDs(_ context.Context, userID uuid.UUID, postIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[uuid.UUID]bool)
	for _, l := range f.postLikes {
		if l.LikedBy == userID && slices.Contains(postIDs, l.PostID) {
			result[l.PostID] = true
		}
	}
	return result, nil
}

func (f fakePosts) ListLikesBy(
	_ context.Context, likerIDs, excludePostIDs []uuid.UUID, limit, offset int,
) ([]*types.PostLike, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.PostLike
	for i := len(f.postLikes) - 1; i >= 0; i-- {
		l := f.postLikes[i]
		if slices.Contains(likerIDs, l.LikedBy) && !slices.Contains(excludePostIDs, l.PostID) {
			cp := *l
			result = append(result, &cp)
		}
	}
	return page(result, limit, offset), nil
}

// fakeComments implements service.CommentStore.
type fakeComments struct{ *memDB }

func (f fakeComments) Insert(_ context.Context, comment *types.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[comment.PostID]
	if !ok {
		return types.ErrPostNotFound
	}
	p.CommentCount++
	cp := *comment
	f.comments = append(f.comments, &cp)
	return nil
}

func (f fakeComments) GetByID(_ context.Context, id uuid.UUID) (*types.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.comments {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, types.ErrCommentNotFound
}

func (f fakeComments) Delete(_ context.Context, id, authorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var postID uuid.UUID
	removed := 0
	f.comments = slices.DeleteFunc(f.comments, func(c *types.Comment) bool {
		hit := (c.ID == id && c.AuthorID == authorID) || (c.ParentID != nil && *c.ParentID == id)
		if hit {
			postID = c.PostID
			removed++
		}
		return hit
	})
	if removed == 0 {
		return types.ErrCommentNotFound
	}
	if p, ok := f.posts[postID]; ok {
		p.CommentCount = max(p.CommentCount-removed, 0)
	}
	return nil
}

func (f fakeComments) ListByPost(_ context.Context, postID uuid.UUID, limit, offset int) ([]*types.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.Comment
	for _, c := range f.comments {
		if c.PostID == postID {
			cp := *c
			result = append(result, &cp)
		}
	}
	return page(result, limit, offset), nil
}

func (f fakeComments) AddLike(_ context.Context, commentID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.commentLikes {
		if l.CommentID == commentID && l.LikedBy == userID {
			return false, nil
		}
	}
	f.commentLikes = append(f.commentLikes, &types.CommentLike{CommentID: commentID, LikedBy: userID})
	for _, c := range f.comments {
		if c.ID == commentID {
			c.LikeCount++
		}
	}
	return true, nil
}

func (f fakeComments) RemoveLike(_ context.Context, commentID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	before := len(f.commentLikes)
	f.commentLikes = slices.DeleteFunc(f.commentLikes, func(l *types.CommentLike) bool {
		return l.CommentID == commentID && l.LikedBy == userID
	})
	if len(f.commentLikes) == before {
		return false, nil
	}
	for _, c := range f.comments {
		if c.ID == commentID {
			c.LikeCount = max(c.LikeCount-1, 0)
		}
	}
	return true, nil
}

func (f fakeComments) LikedCommentIDs(
	_ context.Context, userID uuid.UUID, commentIDs []uuid.UUID,
) (map[uuid.UUID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[uuid.UUID]bool)
	for _, l := range f.commentLikes {
		if l.LikedBy == userID && slices.Contains(commentIDs, l.CommentID) {
			result[l.CommentID] = true
		}
	}
	return result, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	chatID  uuid.UUID
	event   types.EventType
	message *types.Message
}

func (p *fakePublisher) Publish(_ context.Context, chatID uuid.UUID, event types.EventType, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, _ := payload.(*types.Message)
	p.events = append(p.events, publishedEvent{chatID: chatID, event: event, message: msg})
	return nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

// fakeNotifier records notification requests.
type fakeNotifier struct {
	mu             sync.Mutex
	chatMessages   []uuid.UUID
	friendRequests []uuid.UUID
}

func (n *fakeNotifier) ChatMessage(_ context.Context, _, chatID uuid.UUID, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chatMessages = append(n.chatMessages, chatID)
}

func (n *fakeNotifier) FriendRequest(_ context.Context, _ *types.User, receiverID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.friendRequests = append(n.friendRequests, receiverID)
}

func (n *fakeNotifier) requests() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.friendRequests)
}

func (n *fakeNotifier) messages() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.chatMessages)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// harness wires every service to one shared memDB.
type harness struct {
	db          *memDB
	publisher   *fakePublisher
	notifier    *fakeNotifier
	connections *service.ConnectionService
	chats       *service.ChatService
	feed        *service.FeedService
	posts       *service.PostService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := newMemDB()
	logger := zap.NewNop()
	publisher := &fakePublisher{}
	notifier := &fakeNotifier{}

	users := fakeUsers{db}
	conns := fakeConns{db}
	blocks := fakeBlocks{db}
	chats := fakeChats{db}
	posts := fakePosts{db}

	return &harness{
		db:          db,
		publisher:   publisher,
		notifier:    notifier,
		connections: service.NewConnection(users, conns, blocks, notifier, logger),
		chats:       service.NewChat(users, chats, fakeMessages{db}, blocks, chats, publisher, notifier, logger),
		feed: service.NewFeed(
			users, conns, posts, blocks, service.DefaultFeedPageSize, rand.New(rand.NewPCG(1, 2)), logger,
		),
		posts: service.NewPost(users, posts, fakeComments{db}, blocks, logger),
	}
}

type userOpt func(*types.User)

func private(u *types.User) { u.Private = true }

func noProfile(u *types.User) { u.ProfileMedia = "" }

// addUser stores an active user with a complete profile.
func (h *harness) addUser(t *testing.T, username string, opts ...userOpt) *types.User {
	t.Helper()

	u := &types.User{
		ID:           uuid.New(),
		Name:         strings.ToUpper(username[:1]) + username[1:],
		Username:     username,
		Email:        username + "@example.com",
		ProfileMedia: "https://media.example.com/" + username + ".jpg",
	}
	for _, opt := range opts {
		opt(u)
	}

	h.db.mu.Lock()
	h.db.users[u.ID] = u
	h.db.mu.Unlock()

	cp := *u
	return &cp
}

// addPost stores a post created at the next tick.
func (h *harness) addPost(t *testing.T, authorID uuid.UUID, body string) *types.Post {
	t.Helper()

	h.db.mu.Lock()
	p := &types.Post{ID: uuid.New(), AuthorID: authorID, Body: body, CreatedAt: h.db.tick()}
	h.db.posts[p.ID] = p
	h.db.mu.Unlock()

	cp := *p
	return &cp
}

// befriend creates an accepted edge through the public API.
func (h *harness) befriend(t *testing.T, a, b *types.User) {
	t.Helper()

	ctx := context.Background()
	conn, _, err := h.connections.SendRequest(ctx, a.ID, b.ID)
	require.NoError(t, err)
	if !conn.Accepted {
		_, err = h.connections.AcceptRequest(ctx, b.ID, a.ID)
		require.NoError(t, err)
	}
}
