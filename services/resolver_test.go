package services

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/api/option"

	"tubefeed/models"
)

func TestResolveCanonicalURLPassthrough(t *testing.T) {
	rs := NewResolverService(nil)

	url := "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc123"
	got, err := rs.Resolve(context.Background(), models.SubscriptionRequest{URL: url})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != url {
		t.Errorf("feed url = %q, want passthrough", got)
	}
}

func TestResolvePlaylistID(t *testing.T) {
	rs := NewResolverService(nil)

	got, err := rs.Resolve(context.Background(), models.SubscriptionRequest{PlaylistID: "PLxyz"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "https://www.youtube.com/feeds/videos.xml?playlist_id=PLxyz"
	if got != want {
		t.Errorf("feed url = %q, want %q", got, want)
	}
}

func TestResolveUsername(t *testing.T) {
	srv := fakeDataAPI(t, "UClookup99")
	ys, err := NewYouTubeService(context.Background(), "test-key", option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewYouTubeService: %v", err)
	}

	rs := NewResolverService(ys)
	got, err := rs.Resolve(context.Background(), models.SubscriptionRequest{Username: "somecreator"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := "https://www.youtube.com/feeds/videos.xml?channel_id=UClookup99"
	if got != want {
		t.Errorf("feed url = %q, want %q", got, want)
	}
}

func TestResolveUnknownUsername(t *testing.T) {
	srv := fakeDataAPI(t, "")
	ys, err := NewYouTubeService(context.Background(), "test-key", option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewYouTubeService: %v", err)
	}

	rs := NewResolverService(ys)
	if _, err := rs.Resolve(context.Background(), models.SubscriptionRequest{Username: "ghost"}); !errors.Is(err, ErrUnresolved) {
		t.Errorf("err = %v, want ErrUnresolved", err)
	}
}

func TestResolveNothingUsable(t *testing.T) {
	rs := NewResolverService(nil)

	// A plain watch URL is not a canonical feed URL.
	req := models.SubscriptionRequest{URL: "https://www.youtube.com/watch?v=abcdefghijk"}
	if _, err := rs.Resolve(context.Background(), req); !errors.Is(err, ErrUnresolved) {
		t.Errorf("err = %v, want ErrUnresolved", err)
	}
}

func TestIdentityFromURL(t *testing.T) {
	tests := []struct {
		url          string
		wantChannel  string
		wantPlaylist string
	}{
		{"https://www.youtube.com/feeds/videos.xml?channel_id=UCabc", "UCabc", ""},
		{"https://www.youtube.com/feeds/videos.xml?playlist_id=PLxyz", "", "PLxyz"},
		{"https://youtube.com/feeds/videos.xml?channel_id=UCdef", "UCdef", ""},
		{"https://www.youtube.com/watch?v=abcdefghijk", "", ""},
		{"not a url", "", ""},
	}

	for _, tt := range tests {
		channel, playlist := IdentityFromURL(tt.url)
		if channel != tt.wantChannel || playlist != tt.wantPlaylist {
			t.Errorf("IdentityFromURL(%q) = %q, %q; want %q, %q",
				tt.url, channel, playlist, tt.wantChannel, tt.wantPlaylist)
		}
	}
}
