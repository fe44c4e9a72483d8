package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Post is a piece of content authored by one user.
// RepostOf points at the original when the post is a repost.
type Post struct {
	bun.BaseModel `bun:"table:posts"`

	ID           uuid.UUID  `bun:",pk,type:uuid"          json:"id"`
	AuthorID     uuid.UUID  `bun:",notnull,type:uuid"     json:"authorId"`
	Body         string     `bun:",notnull,default:''"    json:"body"`
	MediaURL     string     `bun:",notnull,default:''"    json:"mediaUrl,omitempty"`
	MediaType    MediaType  `bun:",notnull,default:''"    json:"mediaType,omitempty"`
	RepostOf     *uuid.UUID `bun:",type:uuid"             json:"repostOf,omitempty"`
	LikeCount    int        `bun:",notnull,default:0"     json:"likeCount"`
	CommentCount int        `bun:",notnull,default:0"     json:"commentCount"`
	CreatedAt    time.Time  `bun:",notnull,default:now()" json:"createdAt"`
}

// IsRepost reports whether the post reposts another post.
func (p *Post) IsRepost() bool {
	return p.RepostOf != nil
}

// PostLike is one like edge on a post.
type PostLike struct {
	bun.BaseModel `bun:"table:post_likes"`

	PostID    uuid.UUID `bun:",pk,type:uuid"          json:"postId"`
	LikedBy   uuid.UUID `bun:",pk,type:uuid"          json:"likedBy"`
	CreatedAt time.Time `bun:",notnull,default:now()" json:"createdAt"`
}

// Comment belongs to a post and optionally replies to a top-level comment.
type Comment struct {
	bun.BaseModel `bun:"table:comments"`

	ID        uuid.UUID  `bun:",pk,type:uuid"          json:"id"`
	PostID    uuid.UUID  `bun:",notnull,type:uuid"     json:"postId"`
	ParentID  *uuid.UUID `bun:",type:uuid"             json:"parentId,omitempty"`
	AuthorID  uuid.UUID  `bun:",notnull,type:uuid"     json:"authorId"`
	Body      string     `bun:",notnull"               json:"body"`
	LikeCount int        `bun:",notnull,default:0"     json:"likeCount"`
	CreatedAt time.Time  `bun:",notnull,default:now()" json:"createdAt"`
}

// CommentLike is one like edge on a comment.
type CommentLike struct {
	bun.BaseModel `bun:"table:comment_likes"`

	CommentID uuid.UUID `bun:",pk,type:uuid"          json:"commentId"`
	LikedBy   uuid.UUID `bun:",pk,type:uuid"          json:"likedBy"`
	CreatedAt time.Time `bun:",notnull,default:now()" json:"createdAt"`
}

// CommentView is a comment annotated for the requesting user.
type CommentView struct {
	*Comment
	Author UserSummary `json:"author"`
	Liked  bool        `json:"liked"`
	Age    Age         `json:"age"`
}
