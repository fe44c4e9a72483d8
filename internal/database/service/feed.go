package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultFeedPageSize is the number of rows taken from each feed source.
const DefaultFeedPageSize = 10

// FeedService assembles feed pages from the connection graph.
type FeedService struct {
	users    UserStore
	conns    ConnectionStore
	posts    PostStore
	blocks   BlockStore
	pageSize int
	rng      *rand.Rand
	rngMu    sync.Mutex
	logger   *zap.Logger
}

// NewFeed creates a new feed service. The random source decides the order of
// every page; pass a seeded one for reproducible pages.
func NewFeed(
	users UserStore,
	conns ConnectionStore,
	posts PostStore,
	blocks BlockStore,
	pageSize int,
	rng *rand.Rand,
	logger *zap.Logger,
) *FeedService {
	if pageSize <= 0 {
		pageSize = DefaultFeedPageSize
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // ordering only
	}

	return &FeedService{
		users:    users,
		conns:    conns,
		posts:    posts,
		blocks:   blocks,
		pageSize: pageSize,
		rng:      rng,
		logger:   logger.Named("feed_service"),
	}
}

// BuildFeed returns one shuffled page combining posts written by the user's
// connections with posts those connections liked. Each source pages
// independently through its own offset.
func (s *FeedService) BuildFeed(
	ctx context.Context, userID uuid.UUID, timelineOffset, interestsOffset int,
) (*types.FeedPage, error) {
	timelineOffset = max(timelineOffset, 0)
	interestsOffset = max(interestsOffset, 0)

	page := &types.FeedPage{
		Items:               []*types.FeedItem{},
		NextTimelineOffset:  timelineOffset,
		NextInterestsOffset: interestsOffset,
	}

	var (
		friendIDs []uuid.UUID
		blocked   []uuid.UUID
	)

	// Load connections and block relations in parallel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		friendIDs, err = s.conns.FriendIDs(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		blocked, err = s.blocks.RelatedIDs(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load feed graph: %w", err)
	}

	// No connections means an empty page
	if len(friendIDs) == 0 {
		return page, nil
	}

	// Source (a): posts written by connections
	timeline, err := s.posts.ListByAuthors(ctx, friendIDs, s.pageSize, timelineOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline posts: %w", err)
	}

	timelineIDs := make([]uuid.UUID, len(timeline))
	for i, post := range timeline {
		timelineIDs[i] = post.ID
	}

	// Source (b): posts liked by connections that are not on this timeline page
	likes, err := s.posts.ListLikesBy(ctx, friendIDs, timelineIDs, s.pageSize, interestsOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to load liked posts: %w", err)
	}

	// Keep the first like per post
	likedBy := make(map[uuid.UUID]uuid.UUID, len(likes))
	interestIDs := make([]uuid.UUID, 0, len(likes))
	for _, like := range likes {
		if _, seen := likedBy[like.PostID]; seen {
			continue
		}
		likedBy[like.PostID] = like.LikedBy
		interestIDs = append(interestIDs, like.PostID)
	}

	interestPosts, err := s.posts.GetByIDs(ctx, interestIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load liked posts: %w", err)
	}

	items, err := s.assemble(ctx, userID, timeline, interestIDs, interestPosts, likedBy, blocked)
	if err != nil {
		return nil, err
	}

	// Shuffle and advance both offsets
	s.shuffle(items)

	page.Items = items
	page.NextTimelineOffset = timelineOffset + len(timeline)
	page.NextInterestsOffset = interestsOffset + len(likes)

	s.logger.Debug("Feed built",
		zap.String("user", userID.String()),
		zap.Int("timeline", len(timeline)),
		zap.Int("interests", len(interestIDs)),
		zap.Int("items", len(items)))

	return page, nil
}

// assemble resolves authors, likes and repost originals in batches and builds
// the unshuffled items, timeline first.
func (s *FeedService) assemble(
	ctx context.Context,
	userID uuid.UUID,
	timeline []*types.Post,
	interestIDs []uuid.UUID,
	interestPosts map[uuid.UUID]*types.Post,
	likedBy map[uuid.UUID]uuid.UUID,
	blocked []uuid.UUID,
) ([]*types.FeedItem, error) {
	// Merge both sources, timeline first
	posts := make([]*types.Post, 0, len(timeline)+len(interestIDs))
	posts = append(posts, timeline...)
	for _, id := range interestIDs {
		if post, ok := interestPosts[id]; ok {
			posts = append(posts, post)
		}
	}

	// Collect ids for the batched lookups
	postIDs := make([]uuid.UUID, 0, len(posts))
	var originalIDs []uuid.UUID
	for _, post := range posts {
		postIDs = append(postIDs, post.ID)
		if post.IsRepost() {
			originalIDs = append(originalIDs, *post.RepostOf)
		}
	}

	var (
		liked     map[uuid.UUID]bool
		originals map[uuid.UUID]*types.Post
	)

	// Fetch like flags and repost originals in parallel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		liked, err = s.posts.LikedPostIDs(gctx, userID, postIDs)
		return err
	})
	g.Go(func() error {
		var err error
		originals, err = s.posts.GetByIDs(gctx, originalIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to annotate feed: %w", err)
	}

	// Resolve every author and liker in one query
	userIDs := make([]uuid.UUID, 0, len(posts)+len(originals)+len(likedBy))
	for _, post := range posts {
		userIDs = append(userIDs, post.AuthorID)
	}
	for _, original := range originals {
		userIDs = append(userIDs, original.AuthorID)
	}
	for _, likerID := range likedBy {
		userIDs = append(userIDs, likerID)
	}

	users, err := s.users.GetByIDs(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve feed authors: %w", err)
	}

	hidden := make(map[uuid.UUID]struct{}, len(blocked))
	for _, id := range blocked {
		hidden[id] = struct{}{}
	}

	now := time.Now()
	view := func(post *types.Post) *types.PostView {
		author, ok := users[post.AuthorID]
		if !ok || !author.Active() {
			return nil
		}
		if _, ok := hidden[post.AuthorID]; ok {
			return nil
		}
		return &types.PostView{Post: post, Author: author.Summary(), Age: types.AgeOf(post.CreatedAt, now)}
	}

	// Build the items, dropping hidden authors
	items := make([]*types.FeedItem, 0, len(posts))
	for i, post := range posts {
		pv := view(post)
		if pv == nil {
			continue
		}

		item := &types.FeedItem{
			PostView: *pv,
			Source:   types.FeedSourceTimeline,
			Liked:    liked[post.ID],
		}

		if i >= len(timeline) {
			item.Source = types.FeedSourceInterests
			if liker, ok := users[likedBy[post.ID]]; ok {
				summary := liker.Summary()
				item.LikedBy = &summary
			}
		}

		if post.IsRepost() {
			if original, ok := originals[*post.RepostOf]; ok {
				item.Original = view(original)
			}
		}

		items = append(items, item)
	}

	return items, nil
}

// shuffle randomizes the page order in place.
func (s *FeedService) shuffle(items []*types.FeedItem) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	s.rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
