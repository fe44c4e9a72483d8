package types

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AcceptCounterStep is how far both endpoint counters move when a pending
// request is accepted. Creating the request already moved them by one, so an
// accepted-after-pending edge carries a weight of two.
//
// TODO: confirm with product whether accept should credit the counters again;
// setting this to 0 makes counters track edge existence only.
const AcceptCounterStep = 1

// CreateCounterStep is how far both endpoint counters move when an edge is created.
const CreateCounterStep = 1

// Connection is a friend edge between two users.
//
// UserLow and UserHigh hold the unordered pair so that a unique index rejects
// a second edge in either direction. CounterWeight records the total credit
// this edge has applied to both endpoints' counters.
type Connection struct {
	bun.BaseModel `bun:"table:connections"`

	ID            uuid.UUID `bun:",pk,type:uuid"          json:"id"`
	RequesterID   uuid.UUID `bun:",notnull,type:uuid"     json:"requesterId"`
	ReceiverID    uuid.UUID `bun:",notnull,type:uuid"     json:"receiverId"`
	UserLow       uuid.UUID `bun:",notnull,type:uuid"     json:"-"`
	UserHigh      uuid.UUID `bun:",notnull,type:uuid"     json:"-"`
	Accepted      bool      `bun:",notnull,default:false" json:"accepted"`
	CounterWeight int       `bun:",notnull,default:0"     json:"-"`
	CreatedAt     time.Time `bun:",notnull,default:now()" json:"createdAt"`
	UpdatedAt     time.Time `bun:",notnull,default:now()" json:"updatedAt"`
}

// NewConnection builds an edge from requester to receiver with its pair key set.
func NewConnection(requesterID, receiverID uuid.UUID, accepted bool, now time.Time) *Connection {
	low, high := SortPair(requesterID, receiverID)
	return &Connection{
		ID:          uuid.New(),
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		UserLow:     low,
		UserHigh:    high,
		Accepted:    accepted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Involves reports whether the user is an endpoint of the edge.
func (c *Connection) Involves(userID uuid.UUID) bool {
	return c.RequesterID == userID || c.ReceiverID == userID
}

// Other returns the endpoint that is not userID.
func (c *Connection) Other(userID uuid.UUID) uuid.UUID {
	if c.RequesterID == userID {
		return c.ReceiverID
	}
	return c.RequesterID
}

// SortPair orders two identifiers so an unordered pair has one canonical form.
func SortPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return a, b
	}
	return b, a
}

// ConnectionView is a connection projected for the caller with the other party resolved.
type ConnectionView struct {
	Connection *Connection `json:"connection"`
	User       UserSummary `json:"user"`
}
