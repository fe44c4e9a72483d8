package database

import (
	"math/rand/v2"

	"github.com/tandem-social/tandem/internal/database/service"
	"github.com/tandem-social/tandem/internal/setup/config"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	connection *service.ConnectionService
	chat       *service.ChatService
	feed       *service.FeedService
	post       *service.PostService
}

// NewService creates a new service instance with all services. The read state
// tracker, publisher and notifier live outside the database layer and are
// passed in by the caller.
func NewService(
	repository *Repository,
	readState service.ReadState,
	publisher service.Publisher,
	notifier service.Notifier,
	cfg *config.Config,
	logger *zap.Logger,
) *Service {
	userModel := repository.User()
	connectionModel := repository.Connection()
	blockModel := repository.Block()
	chatModel := repository.Chat()
	messageModel := repository.Message()
	postModel := repository.Post()
	commentModel := repository.Comment()

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // feed ordering only

	return &Service{
		connection: service.NewConnection(userModel, connectionModel, blockModel, notifier, logger),
		chat: service.NewChat(
			userModel, chatModel, messageModel, blockModel, readState, publisher, notifier, logger,
		),
		feed: service.NewFeed(userModel, connectionModel, postModel, blockModel, cfg.Feed.PageSize, rng, logger),
		post: service.NewPost(userModel, postModel, commentModel, blockModel, logger),
	}
}

// Connection returns the connection service.
func (s *Service) Connection() *service.ConnectionService {
	return s.connection
}

// Chat returns the chat service.
func (s *Service) Chat() *service.ChatService {
	return s.chat
}

// Feed returns the feed service.
func (s *Service) Feed() *service.FeedService {
	return s.feed
}

// Post returns the post service.
func (s *Service) Post() *service.PostService {
	return s.post
}
