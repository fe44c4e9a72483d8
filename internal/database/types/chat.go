package types

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MediaType classifies a stored media reference.
type MediaType string

const (
	MediaNone  MediaType = ""
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Valid reports whether the media type is one the media collaborator produces.
func (m MediaType) Valid() bool {
	return m == MediaImage || m == MediaVideo
}

// Media is a durable reference returned by the media collaborator.
type Media struct {
	URL  string    `json:"url"`
	Type MediaType `json:"type"`
}

// Empty reports whether no media is attached.
func (m *Media) Empty() bool {
	return m == nil || strings.TrimSpace(m.URL) == ""
}

// Chat is a one-to-one conversation.
//
// ParticipantLow and ParticipantHigh hold the sorted participant pair.
// UpToDateUsers is the set of participants without unread messages.
type Chat struct {
	bun.BaseModel `bun:"table:chats"`

	ID              uuid.UUID   `bun:",pk,type:uuid"                json:"id"`
	ParticipantLow  uuid.UUID   `bun:",notnull,type:uuid"           json:"-"`
	ParticipantHigh uuid.UUID   `bun:",notnull,type:uuid"           json:"-"`
	UpToDateUsers   []uuid.UUID `bun:",array,type:uuid[],notnull"   json:"upToDateUsers"`
	CreatedAt       time.Time   `bun:",notnull,default:now()"       json:"createdAt"`
	UpdatedAt       time.Time   `bun:",notnull,default:now()"       json:"updatedAt"`
	LastMessageAt   time.Time   `bun:",nullzero"                    json:"lastMessageAt"`
}

// NewChat builds a chat between two users with its participants sorted.
func NewChat(a, b uuid.UUID, now time.Time) *Chat {
	low, high := SortPair(a, b)
	return &Chat{
		ID:              uuid.New(),
		ParticipantLow:  low,
		ParticipantHigh: high,
		UpToDateUsers:   []uuid.UUID{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Participants returns both participant identifiers.
func (c *Chat) Participants() []uuid.UUID {
	return []uuid.UUID{c.ParticipantLow, c.ParticipantHigh}
}

// HasParticipant reports whether the user belongs to the chat.
func (c *Chat) HasParticipant(userID uuid.UUID) bool {
	return c.ParticipantLow == userID || c.ParticipantHigh == userID
}

// IsUpToDate reports whether the user has no unread messages.
func (c *Chat) IsUpToDate(userID uuid.UUID) bool {
	return slices.Contains(c.UpToDateUsers, userID)
}

// Other returns the participant that is not userID.
func (c *Chat) Other(userID uuid.UUID) uuid.UUID {
	if c.ParticipantLow == userID {
		return c.ParticipantHigh
	}
	return c.ParticipantLow
}

// Message belongs to exactly one chat. It is immutable once ready.
type Message struct {
	bun.BaseModel `bun:"table:messages"`

	ID        uuid.UUID `bun:",pk,type:uuid"          json:"id"`
	ChatID    uuid.UUID `bun:",notnull,type:uuid"     json:"chatId"`
	SenderID  uuid.UUID `bun:",notnull,type:uuid"     json:"senderId"`
	Body      string    `bun:",notnull,default:''"    json:"body"`
	MediaURL  string    `bun:",notnull,default:''"    json:"mediaUrl,omitempty"`
	MediaType MediaType `bun:",notnull,default:''"    json:"mediaType,omitempty"`
	Ready     bool      `bun:",notnull,default:true"  json:"ready"`
	CreatedAt time.Time `bun:",notnull,default:now()" json:"createdAt"`
}

// ChatView is a chat projected for one participant.
type ChatView struct {
	Chat   *Chat       `json:"chat"`
	Other  UserSummary `json:"other"`
	Unread bool        `json:"unread"`
}

// MessageView is a message with its derived age.
type MessageView struct {
	*Message
	Age Age `json:"age"`
}

// EventType names a real-time event published to a chat room.
type EventType string

const (
	// EventMessageCreated carries a newly persisted message.
	EventMessageCreated EventType = "message.created"
	// EventMessageUpdated carries a message whose media completed. Consumers
	// upsert it by message ID.
	EventMessageUpdated EventType = "message.updated"
)
