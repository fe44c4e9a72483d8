package database

import (
	"github.com/tandem-social/tandem/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	user       *models.UserModel
	connection *models.ConnectionModel
	block      *models.BlockModel
	chat       *models.ChatModel
	message    *models.MessageModel
	post       *models.PostModel
	comment    *models.CommentModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		user:       models.NewUser(db, logger),
		connection: models.NewConnection(db, logger),
		block:      models.NewBlock(db, logger),
		chat:       models.NewChat(db, logger),
		message:    models.NewMessage(db, logger),
		post:       models.NewPost(db, logger),
		comment:    models.NewComment(db, logger),
	}
}

// User returns the user model repository.
func (r *Repository) User() *models.UserModel {
	return r.user
}

// Connection returns the connection model repository.
func (r *Repository) Connection() *models.ConnectionModel {
	return r.connection
}

// Block returns the block model repository.
func (r *Repository) Block() *models.BlockModel {
	return r.block
}

// Chat returns the chat model repository.
func (r *Repository) Chat() *models.ChatModel {
	return r.chat
}

// Message returns the message model repository.
func (r *Repository) Message() *models.MessageModel {
	return r.message
}

// Post returns the post model repository.
func (r *Repository) Post() *models.PostModel {
	return r.post
}

// Comment returns the comment model repository.
func (r *Repository) Comment() *models.CommentModel {
	return r.comment
}
