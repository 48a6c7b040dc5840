package models

import (
	"time"
)

// Placement says where a newly discovered video should land.
type Placement string

const (
	PlacementInbox   Placement = "inbox"
	PlacementQueue   Placement = "queue"
	PlacementNothing Placement = "nothing"
	// PlacementDefault defers to the caller-supplied default placement.
	PlacementDefault Placement = "default"
)

// ValidPlacement reports whether p is one of the known placement values.
func ValidPlacement(p Placement) bool {
	switch p {
	case PlacementInbox, PlacementQueue, PlacementNothing, PlacementDefault:
		return true
	}
	return false
}

// Subscription is a followed channel or playlist. Exactly one of
// ChannelID/PlaylistID is set. Archived subscriptions are soft-deleted
// and excluded from polling, but kept around for reactivation.
type Subscription struct {
	ID                  int        `json:"id" db:"id"`
	ChannelID           *string    `json:"channel_id" db:"channel_id"`
	PlaylistID          *string    `json:"playlist_id" db:"playlist_id"`
	Title               string     `json:"title" db:"title"`
	FeedURL             string     `json:"feed_url" db:"feed_url"`
	Username            *string    `json:"username" db:"username"`
	ThumbnailURL        *string    `json:"thumbnail_url" db:"thumbnail_url"`
	Archived            bool       `json:"archived" db:"archived"`
	Placement           Placement  `json:"placement" db:"placement"`
	MostRecentVideoDate *time.Time `json:"most_recent_video_date" db:"most_recent_video_date"`
	PlaybackSpeed       *float64   `json:"playback_speed" db:"playback_speed"`
	SubscribedAt        time.Time  `json:"subscribed_at" db:"subscribed_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Video is a discovered video, unique by its platform video id.
// SubscriptionID is a weak back-reference: a video survives its
// subscription being archived or deleted.
type Video struct {
	ID              int       `json:"id" db:"id"`
	VideoID         string    `json:"video_id" db:"video_id"`
	SubscriptionID  *int      `json:"subscription_id" db:"subscription_id"`
	Title           string    `json:"title" db:"title"`
	URL             string    `json:"url" db:"url"`
	ThumbnailURL    string    `json:"thumbnail_url" db:"thumbnail_url"`
	Description     string    `json:"description" db:"description"`
	PublishedAt     time.Time `json:"published_at" db:"published_at"`
	DurationSeconds *int      `json:"duration_seconds" db:"duration_seconds"`
	Watched         bool      `json:"watched" db:"watched"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`

	Chapters []Chapter `json:"chapters,omitempty" db:"-"`
}

// Chapter is one navigable segment of a video. End/Duration are unset
// for an open-ended final chapter. Active can be cleared by the user to
// mute low-confidence chapters such as sponsor segments.
type Chapter struct {
	ID              int    `json:"id" db:"id"`
	VideoID         int    `json:"video_id" db:"video_id"`
	Position        int    `json:"position" db:"position"`
	Title           string `json:"title" db:"title"`
	StartSeconds    int    `json:"start_seconds" db:"start_seconds"`
	EndSeconds      *int   `json:"end_seconds" db:"end_seconds"`
	DurationSeconds *int   `json:"duration_seconds" db:"duration_seconds"`
	Active          bool   `json:"active" db:"active"`
}

// QueueEntry wraps a video with its play-queue position. Positions are
// always a dense 0-based sequence.
type QueueEntry struct {
	ID       int   `json:"id" db:"id"`
	VideoID  int   `json:"video_id" db:"video_id"`
	Position int   `json:"position" db:"position"`
	Video    Video `json:"video" db:"-"`
}

// InboxEntry wraps a video awaiting triage. Unordered beyond AddedAt.
type InboxEntry struct {
	ID      int       `json:"id" db:"id"`
	VideoID int       `json:"video_id" db:"video_id"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
	Video   Video     `json:"video" db:"-"`
}

// WatchEntry records that a video was watched.
type WatchEntry struct {
	ID        int       `json:"id" db:"id"`
	VideoID   int       `json:"video_id" db:"video_id"`
	WatchedAt time.Time `json:"watched_at" db:"watched_at"`
}

// SubscriptionState is the per-request outcome of a subscribe call.
type SubscriptionState string

const (
	StateAdded        SubscriptionState = "added"
	StateAlreadyAdded SubscriptionState = "already_added"
	StateError        SubscriptionState = "error"
)

// SubscriptionRequest identifies one channel or playlist to subscribe to.
type SubscriptionRequest struct {
	URL        string `json:"url"`
	Username   string `json:"username,omitempty"`
	PlaylistID string `json:"playlist_id,omitempty"`
}

// SubscriptionResult carries one request's outcome back to the caller.
// Not persisted.
type SubscriptionResult struct {
	Request      SubscriptionRequest `json:"request"`
	State        SubscriptionState   `json:"state"`
	Subscription *Subscription       `json:"subscription,omitempty"`
	Error        string              `json:"error,omitempty"`
}

type Stats struct {
	TotalSubscriptions int `json:"total_subscriptions"`
	TotalVideos        int `json:"total_videos"`
	InboxCount         int `json:"inbox_count"`
	QueueCount         int `json:"queue_count"`
	WatchedVideos      int `json:"watched_videos"`
}

type User struct {
	ID        int        `json:"id" db:"id"`
	Username  string     `json:"username" db:"username"`
	Password  string     `json:"-" db:"password"` // Never return password in JSON
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	LastLogin *time.Time `json:"last_login" db:"last_login"`
}

type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}
