// Package notify delivers best-effort push notifications to chat participants
// and single users.
package notify

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
)

// DefaultChunkSize is the largest batch the Expo push API accepts.
const DefaultChunkSize = 100

// TicketOK marks a message the provider accepted.
const TicketOK = "ok"

var tokenPattern = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\]]+\]$`)

// ValidToken reports whether token is a well-formed Expo push token.
func ValidToken(token string) bool {
	return tokenPattern.MatchString(strings.TrimSpace(token))
}

// Message is one push notification addressed to a device token.
type Message struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

// Ticket is the provider's receipt for one message, in request order.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// OK reports whether the provider accepted the message.
func (t Ticket) OK() bool {
	return t.Status == TicketOK
}

// Provider sends a batch of messages to a push service.
type Provider interface {
	Dispatch(ctx context.Context, batch []Message) ([]Ticket, error)
}

// UserStore resolves recipients and their tokens.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.User, error)
}

// ChatStore resolves chat participants.
type ChatStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Chat, error)
}

// Presence reports who currently has a chat open.
type Presence interface {
	PresentUsers(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
}

// Report summarizes one NotifyParticipants run.
type Report struct {
	// Recipients is the number of participants that were not the sender and not present.
	Recipients int
	// Sent counts messages the provider accepted.
	Sent int
	// Failed counts messages the provider rejected or that were in a failed chunk.
	Failed int
	// Skipped counts recipients without a usable token.
	Skipped int
}
