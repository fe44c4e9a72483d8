package rest

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/tandem-social/tandem/internal/rest/handler"
	"github.com/tandem-social/tandem/internal/rest/middleware"
	"github.com/tandem-social/tandem/internal/setup/config"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Services groups the domain services served over HTTP.
type Services struct {
	Connections handler.ConnectionService
	Chats       handler.ChatService
	Posts       handler.PostService
	Feed        handler.FeedService
}

// Server implements the REST API service.
type Server struct {
	connectionHandler *handler.ConnectionHandler
	chatHandler       *handler.ChatHandler
	postHandler       *handler.PostHandler
	feedHandler       *handler.FeedHandler
	rateLimiter       *middleware.RateLimit
	handler           http.Handler
}

// NewServer creates a new REST API server. The socket handler, when given,
// is mounted at /v1/ws outside of compression.
func NewServer(
	services Services, verifier middleware.TokenVerifier, socket http.Handler,
	cfg *config.API, logger *zap.Logger,
) *Server {
	server := &Server{
		connectionHandler: handler.NewConnectionHandler(services.Connections, logger),
		chatHandler:       handler.NewChatHandler(services.Chats, logger),
		postHandler:       handler.NewPostHandler(services.Posts),
		feedHandler:       handler.NewFeedHandler(services.Feed),
		rateLimiter:       middleware.NewRateLimit(&cfg.RateLimit, logger),
	}

	authMiddleware := middleware.NewAuth(verifier, logger)

	router := bunrouter.New()

	router.GET("/healthz", func(w http.ResponseWriter, _ bunrouter.Request) error {
		w.WriteHeader(http.StatusOK)
		return nil
	})

	router.Use(
		errorHandler(logger.Named("rest")),
		authMiddleware.AsRESTMiddleware,
		server.rateLimiter.AsRESTMiddleware,
	).WithGroup("/v1", server.routes)

	mux := http.NewServeMux()
	if socket != nil {
		mux.Handle("/v1/ws", socket)
	}
	mux.Handle("/", gzhttp.GzipHandler(router))
	server.handler = mux

	return server
}

func (s *Server) routes(g *bunrouter.Group) {
	ch := s.connectionHandler
	g.GET("/connections", ch.ListFriends)
	g.GET("/connections/pending", ch.ListPendingRequests)
	g.GET("/connections/sent", ch.ListSentRequests)
	g.POST("/connections/requests", ch.SendRequest)
	g.POST("/connections/requests/:userId/accept", ch.AcceptRequest)
	g.POST("/connections/requests/:userId/reject", ch.RejectRequest)
	g.DELETE("/connections/requests/:userId", ch.RecallRequest)
	g.DELETE("/connections/:userId", ch.RemoveConnection)
	g.GET("/blocks", ch.ListBlocked)
	g.PUT("/blocks/:userId", ch.Block)
	g.DELETE("/blocks/:userId", ch.Unblock)
	g.GET("/users/search", ch.Search)
	g.DELETE("/me", ch.DeleteAccount)

	g.GET("/feed", s.feedHandler.GetFeed)

	ph := s.postHandler
	g.POST("/posts", ph.CreatePost)
	g.DELETE("/posts/:id", ph.DeletePost)
	g.POST("/posts/:id/repost", ph.Repost)
	g.PUT("/posts/:id/like", ph.LikePost)
	g.DELETE("/posts/:id/like", ph.UnlikePost)
	g.GET("/posts/:id/comments", ph.ListComments)
	g.POST("/posts/:id/comments", ph.AddComment)
	g.DELETE("/comments/:id", ph.DeleteComment)
	g.PUT("/comments/:id/like", ph.LikeComment)
	g.DELETE("/comments/:id/like", ph.UnlikeComment)

	mh := s.chatHandler
	g.GET("/chats", mh.ListChats)
	g.POST("/chats", mh.OpenChat)
	g.GET("/chats/:id", mh.GetChat)
	g.GET("/chats/:id/messages", mh.ListMessages)
	g.POST("/chats/:id/messages", mh.SendMessage)
	g.POST("/users/:id/messages", mh.SendMessageToUser)
	g.PUT("/messages/:id/media", mh.CompleteMedia)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases background resources held by the middleware.
func (s *Server) Close() {
	s.rateLimiter.Close()
}
