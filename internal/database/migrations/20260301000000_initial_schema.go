package migrations

import (
	"context"
	"fmt"

	"github.com/tandem-social/tandem/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		tables := []struct {
			model       any
			foreignKeys []string
		}{
			{(*types.User)(nil), nil},
			{(*types.BlockedUser)(nil), []string{
				`("user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
				`("blocked_user_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
			{(*types.Connection)(nil), []string{
				`("requester_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
				`("receiver_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
			{(*types.Chat)(nil), []string{
				`("participant_low") REFERENCES "users" ("id") ON DELETE CASCADE`,
				`("participant_high") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
			{(*types.Message)(nil), []string{
				`("chat_id") REFERENCES "chats" ("id") ON DELETE CASCADE`,
				`("sender_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
			{(*types.Post)(nil), []string{
				`("author_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
				`("repost_of") REFERENCES "posts" ("id") ON DELETE SET NULL`,
			}},
			{(*types.PostLike)(nil), []string{
				`("post_id") REFERENCES "posts" ("id") ON DELETE CASCADE`,
				`("liked_by") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
			{(*types.Comment)(nil), []string{
				`("post_id") REFERENCES "posts" ("id") ON DELETE CASCADE`,
				`("parent_id") REFERENCES "comments" ("id") ON DELETE CASCADE`,
				`("author_id") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
			{(*types.CommentLike)(nil), []string{
				`("comment_id") REFERENCES "comments" ("id") ON DELETE CASCADE`,
				`("liked_by") REFERENCES "users" ("id") ON DELETE CASCADE`,
			}},
		}

		for _, table := range tables {
			q := db.NewCreateTable().
				Model(table.model).
				IfNotExists()
			for _, fk := range table.foreignKeys {
				q = q.ForeignKey(fk)
			}
			if _, err := q.Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table %T: %w", table.model, err)
			}
		}

		indexes := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users (username)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
			`CREATE INDEX IF NOT EXISTS idx_users_name_lower ON users (lower(name) text_pattern_ops)`,
			`CREATE INDEX IF NOT EXISTS idx_blocked_users_blocked ON blocked_users (blocked_user_id)`,

			// One edge per unordered pair regardless of direction
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_pair ON connections (user_low, user_high)`,
			`CREATE INDEX IF NOT EXISTS idx_connections_requester ON connections (requester_id, accepted)`,
			`CREATE INDEX IF NOT EXISTS idx_connections_receiver ON connections (receiver_id, accepted)`,

			`CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_pair ON chats (participant_low, participant_high)`,
			`CREATE INDEX IF NOT EXISTS idx_chats_high ON chats (participant_high)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages (chat_id, created_at DESC)`,

			`CREATE INDEX IF NOT EXISTS idx_posts_author_created ON posts (author_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_post_likes_liker_created ON post_likes (liked_by, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_comments_post_created ON comments (post_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments (parent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_comment_likes_liker ON comment_likes (liked_by)`,
		}

		for _, stmt := range indexes {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.CommentLike)(nil),
			(*types.Comment)(nil),
			(*types.PostLike)(nil),
			(*types.Post)(nil),
			(*types.Message)(nil),
			(*types.Chat)(nil),
			(*types.Connection)(nil),
			(*types.BlockedUser)(nil),
			(*types.User)(nil),
		}

		for _, model := range models {
			_, err := db.NewDropTable().
				Model(model).
				IfExists().
				Cascade().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to drop table %T: %w", model, err)
			}
		}

		return nil
	})
}
