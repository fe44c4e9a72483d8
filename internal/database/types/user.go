package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the identity record of a member.
//
// AsRequesterCount and AsReceiverCount are denormalized caches of connection
// graph transitions and are only ever moved by atomic increments.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID               uuid.UUID `bun:",pk,type:uuid"              json:"id"`
	Name             string    `bun:",notnull"                   json:"name"`
	Username         string    `bun:",notnull,unique"            json:"username"`
	Email            string    `bun:",notnull,unique"            json:"email"`
	ProfileMedia     string    `bun:",notnull,default:''"        json:"profileMedia"`
	AsRequesterCount int       `bun:",notnull,default:0"         json:"asRequesterCount"`
	AsReceiverCount  int       `bun:",notnull,default:0"         json:"asReceiverCount"`
	Private          bool      `bun:",notnull,default:false"     json:"private"`
	FollowersMode    bool      `bun:",notnull,default:false"     json:"followersMode"`
	PushToken        string    `bun:",notnull,default:''"        json:"-"`
	Suspended        bool      `bun:",notnull,default:false"     json:"suspended"`
	Terminated       bool      `bun:",notnull,default:false"     json:"terminated"`
	CreatedAt        time.Time `bun:",notnull,default:now()"     json:"createdAt"`
	UpdatedAt        time.Time `bun:",notnull,default:now()"     json:"updatedAt"`
}

// HasCompleteProfile reports whether the user uploaded profile media.
func (u *User) HasCompleteProfile() bool {
	return u.ProfileMedia != ""
}

// Active reports whether the account is neither suspended nor terminated.
func (u *User) Active() bool {
	return !u.Suspended && !u.Terminated
}

// FriendCount is the number of graph transitions credited to the user in either role.
func (u *User) FriendCount() int {
	return u.AsRequesterCount + u.AsReceiverCount
}

// Summary projects the user into its public view.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		ProfileMedia: u.ProfileMedia,
		Private:      u.Private,
	}
}

// UserSummary is the public projection of a user embedded in other views.
type UserSummary struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Username     string    `json:"username"`
	ProfileMedia string    `json:"profileMedia"`
	Private      bool      `json:"private"`
}

// BlockedUser is a directed block edge: UserID blocks BlockedUserID.
type BlockedUser struct {
	bun.BaseModel `bun:"table:blocked_users"`

	UserID        uuid.UUID `bun:",pk,type:uuid"          json:"userId"`
	BlockedUserID uuid.UUID `bun:",pk,type:uuid"          json:"blockedUserId"`
	CreatedAt     time.Time `bun:",notnull,default:now()" json:"createdAt"`
}
