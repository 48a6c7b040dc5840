package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"
)

var (
	// ErrChannelNotFound means the lookup API returned no matching
	// channel. A resolution failure, not a transport error.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrVideoNotFound means the metadata API returned no such video.
	ErrVideoNotFound = errors.New("video not found")
)

// YouTubeService wraps the Data API v3 calls used for username
// resolution and single-video metadata.
type YouTubeService struct {
	svc *youtube.Service
}

// NewYouTubeService builds the Data API client. The key is required;
// callers treat its absence as fatal misconfiguration. Extra options
// (custom endpoint, HTTP client) are for tests.
func NewYouTubeService(ctx context.Context, apiKey string, opts ...option.ClientOption) (*YouTubeService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube api key is required")
	}

	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := youtube.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create youtube client: %w", err)
	}
	return &YouTubeService{svc: svc}, nil
}

// ChannelIDForUsername resolves a username/handle to a channel id via
// the search API. The first matching item wins.
func (ys *YouTubeService) ChannelIDForUsername(ctx context.Context, username string) (string, error) {
	resp, err := ys.svc.Search.List([]string{"id"}).
		Q(username).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("channel lookup for %q: %w", username, err)
	}

	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.ChannelId == "" {
		return "", ErrChannelNotFound
	}
	return resp.Items[0].Id.ChannelId, nil
}

// ChannelThumbnail fetches a channel's thumbnail URL, preferring the
// medium size. Returns "" without error when the channel has none.
func (ys *YouTubeService) ChannelThumbnail(ctx context.Context, channelID string) (string, error) {
	resp, err := ys.svc.Channels.List([]string{"snippet"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("channel snippet for %s: %w", channelID, err)
	}

	if len(resp.Items) == 0 {
		return "", ErrChannelNotFound
	}

	snippet := resp.Items[0].Snippet
	if snippet == nil || snippet.Thumbnails == nil {
		return "", nil
	}
	if snippet.Thumbnails.Medium != nil {
		return snippet.Thumbnails.Medium.Url, nil
	}
	if snippet.Thumbnails.Default != nil {
		return snippet.Thumbnails.Default.Url, nil
	}
	return "", nil
}

// VideoMetadata is what the metadata API knows about a single video.
type VideoMetadata struct {
	VideoID         string
	Title           string
	Description     string
	ThumbnailURL    string
	ChannelTitle    string
	ChannelID       string
	PublishedAt     time.Time
	DurationSeconds int
}

// FetchVideoMetadata fetches snippet and duration for one video id.
func (ys *YouTubeService) FetchVideoMetadata(ctx context.Context, videoID string) (*VideoMetadata, error) {
	resp, err := ys.svc.Videos.List([]string{"snippet", "contentDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("video metadata for %s: %w", videoID, err)
	}

	if len(resp.Items) == 0 {
		return nil, ErrVideoNotFound
	}

	item := resp.Items[0]
	meta := &VideoMetadata{VideoID: videoID}

	if item.Snippet != nil {
		meta.Title = item.Snippet.Title
		meta.Description = item.Snippet.Description
		meta.ChannelTitle = item.Snippet.ChannelTitle
		meta.ChannelID = item.Snippet.ChannelId
		if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.Medium != nil {
			meta.ThumbnailURL = item.Snippet.Thumbnails.Medium.Url
		}
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			meta.PublishedAt = t
		}
	}

	if item.ContentDetails != nil && item.ContentDetails.Duration != "" {
		seconds, err := ParseISODuration(item.ContentDetails.Duration)
		if err != nil {
			return nil, fmt.Errorf("video %s: %w", videoID, err)
		}
		meta.DurationSeconds = seconds
	}

	return meta, nil
}

// ParseISODuration parses an ISO-8601 duration of the form PT#H#M#S by
// summing whichever components are present. Anything outside that shape
// fails the whole string.
func ParseISODuration(s string) (int, error) {
	rest, found := strings.CutPrefix(s, "PT")
	if !found {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	total := 0
	digits := ""
	for _, r := range rest {
		if r >= '0' && r <= '9' {
			digits += string(r)
			continue
		}
		if digits == "" {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
		}
		switch r {
		case 'H':
			total += n * 3600
		case 'M':
			total += n * 60
		case 'S':
			total += n
		default:
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
		}
		digits = ""
	}

	if digits != "" {
		// Trailing digits without a unit suffix.
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	return total, nil
}
