package types

import (
	"time"
)

// FeedSource tells which query surfaced a feed item.
type FeedSource string

const (
	// FeedSourceTimeline items were authored by one of the user's connections.
	FeedSourceTimeline FeedSource = "timeline"
	// FeedSourceInterests items were liked by one of the user's connections.
	FeedSourceInterests FeedSource = "interests"
)

// AgeUnit is the granularity of a derived age.
type AgeUnit string

const (
	AgeMinutes AgeUnit = "minutes"
	AgeHours   AgeUnit = "hours"
	AgeDays    AgeUnit = "days"
)

// Age is the display age of a record, derived at read time and never stored.
type Age struct {
	Value int     `json:"value"`
	Unit  AgeUnit `json:"unit"`
}

// AgeOf buckets the elapsed time between created and now.
func AgeOf(created, now time.Time) Age {
	elapsed := max(now.Sub(created), 0)

	switch {
	case elapsed < time.Hour:
		return Age{Value: int(elapsed / time.Minute), Unit: AgeMinutes}
	case elapsed < 24*time.Hour:
		return Age{Value: int(elapsed / time.Hour), Unit: AgeHours}
	default:
		return Age{Value: int(elapsed / (24 * time.Hour)), Unit: AgeDays}
	}
}

// PostView is a post with its author resolved.
type PostView struct {
	*Post
	Author UserSummary `json:"author"`
	Age    Age         `json:"age"`
}

// FeedItem is one entry of a feed page.
// Original is set only for reposts and is resolved one level deep.
type FeedItem struct {
	PostView
	Source   FeedSource   `json:"source"`
	Liked    bool         `json:"liked"`
	LikedBy  *UserSummary `json:"likedBy,omitempty"`
	Original *PostView    `json:"original,omitempty"`
}

// FeedPage is one shuffled batch of feed items plus the offsets for the next page.
type FeedPage struct {
	Items               []*FeedItem `json:"items"`
	NextTimelineOffset  int         `json:"nextTimelineOffset"`
	NextInterestsOffset int         `json:"nextInterestsOffset"`
}
