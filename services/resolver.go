package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"tubefeed/models"
)

const (
	channelFeedURLFormat  = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"
	playlistFeedURLFormat = "https://www.youtube.com/feeds/videos.xml?playlist_id=%s"
)

// feedURLPattern matches YouTube's canonical machine feed URLs.
var feedURLPattern = regexp.MustCompile(`^https?://(www\.)?youtube\.com/feeds/videos\.xml\?(channel_id|playlist_id)=`)

// ErrUnresolved means no identifying info was usable: no canonical URL,
// no playlist id, and no username that the lookup API could resolve.
var ErrUnresolved = errors.New("could not resolve channel from username")

// ResolverService turns user-supplied channel identifiers into
// canonical feed URLs, falling back to the remote lookup API.
type ResolverService struct {
	yt *YouTubeService
}

func NewResolverService(yt *YouTubeService) *ResolverService {
	return &ResolverService{yt: yt}
}

// Resolve returns the canonical feed URL for a subscription request.
// Resolution order: canonical URL passthrough, playlist id, username
// lookup. First success wins.
func (rs *ResolverService) Resolve(ctx context.Context, req models.SubscriptionRequest) (string, error) {
	if feedURLPattern.MatchString(req.URL) {
		return req.URL, nil
	}

	if req.PlaylistID != "" {
		return fmt.Sprintf(playlistFeedURLFormat, req.PlaylistID), nil
	}

	if req.Username != "" {
		channelID, err := rs.yt.ChannelIDForUsername(ctx, req.Username)
		if err != nil {
			if errors.Is(err, ErrChannelNotFound) {
				return "", ErrUnresolved
			}
			return "", err
		}
		return fmt.Sprintf(channelFeedURLFormat, channelID), nil
	}

	return "", ErrUnresolved
}

// IdentityFromURL pulls a channel or playlist id out of a canonical
// feed URL, when present. Used to dedup before any network round trip.
func IdentityFromURL(rawURL string) (channelID, playlistID string) {
	if !feedURLPattern.MatchString(rawURL) {
		return "", ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ""
	}
	q := u.Query()
	return q.Get("channel_id"), q.Get("playlist_id")
}
