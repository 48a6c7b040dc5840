package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type feedEntry struct {
	videoID     string
	channelID   string
	title       string
	published   string
	link        string
	thumbnail   string
	description string
}

func buildFeed(title, channelID, link string, entries []feedEntry) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<feed xmlns="http://www.w3.org/2005/Atom" xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/">`)
	if channelID != "" {
		fmt.Fprintf(&b, `<yt:channelId>%s</yt:channelId>`, channelID)
	}
	if title != "" {
		fmt.Fprintf(&b, `<title>%s</title>`, title)
	}
	if link != "" {
		fmt.Fprintf(&b, `<link rel="alternate" href="%s"/>`, link)
	}

	for _, e := range entries {
		b.WriteString(`<entry>`)
		fmt.Fprintf(&b, `<yt:videoId>%s</yt:videoId>`, e.videoID)
		if e.channelID != "" {
			fmt.Fprintf(&b, `<yt:channelId>%s</yt:channelId>`, e.channelID)
		}
		fmt.Fprintf(&b, `<title>%s</title>`, e.title)
		if e.published != "" {
			fmt.Fprintf(&b, `<published>%s</published>`, e.published)
		}
		if e.link != "" {
			fmt.Fprintf(&b, `<link rel="alternate" href="%s"/>`, e.link)
		}
		b.WriteString(`<media:group>`)
		fmt.Fprintf(&b, `<media:description>%s</media:description>`, e.description)
		if e.thumbnail != "" {
			fmt.Fprintf(&b, `<media:thumbnail url="%s" width="480" height="360"/>`, e.thumbnail)
		}
		b.WriteString(`</media:group>`)
		b.WriteString(`</entry>`)
	}

	b.WriteString(`</feed>`)
	return b.String()
}

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func validEntry(n int, published string) feedEntry {
	id := fmt.Sprintf("video%06d", n)
	return feedEntry{
		videoID:   id,
		title:     fmt.Sprintf("Video %d", n),
		published: published,
		link:      "https://www.youtube.com/watch?v=" + id,
		thumbnail: fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", id),
	}
}

func TestFetchParsesFeed(t *testing.T) {
	entries := []feedEntry{
		validEntry(1, "2026-08-20T10:00:00+00:00"),
		validEntry(2, "2026-08-19T10:00:00+00:00"),
	}
	entries[0].description = "0:00 Intro\n2:00 Main"
	srv := serveFeed(t, buildFeed("Test Channel", "UCabc", "https://www.youtube.com/channel/UCabc", entries))

	fp := NewFeedParser()
	info, err := fp.Fetch(context.Background(), srv.URL, 0, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if info.Title != "Test Channel" {
		t.Errorf("title = %q", info.Title)
	}
	if info.ChannelID != "UCabc" {
		t.Errorf("channel id = %q", info.ChannelID)
	}
	if info.Link != "https://www.youtube.com/channel/UCabc" {
		t.Errorf("link = %q", info.Link)
	}
	if len(info.Videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(info.Videos))
	}

	first := info.Videos[0]
	if first.VideoID != "video000001" {
		t.Errorf("video id = %q", first.VideoID)
	}
	if first.URL != "https://www.youtube.com/watch?v=video000001" {
		t.Errorf("url = %q", first.URL)
	}
	if len(first.Chapters) != 2 {
		t.Errorf("expected 2 chapters, got %d", len(first.Chapters))
	}
	want := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if !first.Published.Equal(want) {
		t.Errorf("published = %v, want %v", first.Published, want)
	}
}

func TestFetchLimit(t *testing.T) {
	entries := []feedEntry{
		validEntry(1, "2026-08-20T10:00:00+00:00"),
		validEntry(2, "2026-08-19T10:00:00+00:00"),
		validEntry(3, "2026-08-18T10:00:00+00:00"),
		validEntry(4, "2026-08-17T10:00:00+00:00"),
	}
	srv := serveFeed(t, buildFeed("Test Channel", "UCabc", "", entries))

	fp := NewFeedParser()
	info, err := fp.Fetch(context.Background(), srv.URL, 2, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(info.Videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(info.Videos))
	}
	if info.Videos[0].VideoID != "video000001" || info.Videos[1].VideoID != "video000002" {
		t.Errorf("unexpected videos %q, %q", info.Videos[0].VideoID, info.Videos[1].VideoID)
	}
}

func TestFetchCutoff(t *testing.T) {
	entries := []feedEntry{
		validEntry(1, "2026-08-20T10:00:00+00:00"),
		validEntry(2, "2026-08-19T10:00:00+00:00"),
		validEntry(3, "2026-08-18T10:00:00+00:00"),
	}
	srv := serveFeed(t, buildFeed("Test Channel", "UCabc", "", entries))

	// Cutoff equals entry 2's date: only entries strictly newer come back.
	cutoff := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)

	fp := NewFeedParser()
	info, err := fp.Fetch(context.Background(), srv.URL, 0, &cutoff)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(info.Videos) != 1 {
		t.Fatalf("expected 1 video, got %d", len(info.Videos))
	}
	if info.Videos[0].VideoID != "video000001" {
		t.Errorf("video id = %q", info.Videos[0].VideoID)
	}
}

func TestFetchSkipsIncompleteEntries(t *testing.T) {
	broken := validEntry(2, "2026-08-19T10:00:00+00:00")
	broken.thumbnail = ""
	noDate := validEntry(3, "")

	entries := []feedEntry{
		validEntry(1, "2026-08-20T10:00:00+00:00"),
		broken,
		noDate,
		validEntry(4, "2026-08-17T10:00:00+00:00"),
	}
	srv := serveFeed(t, buildFeed("Test Channel", "UCabc", "", entries))

	fp := NewFeedParser()
	info, err := fp.Fetch(context.Background(), srv.URL, 2, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	// Skipped entries do not count toward the limit.
	if len(info.Videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(info.Videos))
	}
	if info.Videos[1].VideoID != "video000004" {
		t.Errorf("second video = %q, want video000004", info.Videos[1].VideoID)
	}
}

func TestFetchChannelIDRefreshedFromEntry(t *testing.T) {
	entry := validEntry(1, "2026-08-20T10:00:00+00:00")
	entry.channelID = "UCauthoritative"
	srv := serveFeed(t, buildFeed("Test Channel", "UCstale", "", []feedEntry{entry}))

	fp := NewFeedParser()
	info, err := fp.Fetch(context.Background(), srv.URL, 1, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if info.ChannelID != "UCauthoritative" {
		t.Errorf("channel id = %q, want UCauthoritative", info.ChannelID)
	}
}

func TestFetchNoMetadata(t *testing.T) {
	srv := serveFeed(t, `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`)

	fp := NewFeedParser()
	if _, err := fp.Fetch(context.Background(), srv.URL, 0, nil); !errors.Is(err, ErrFeedInfoNotFound) {
		t.Errorf("err = %v, want ErrFeedInfoNotFound", err)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	fp := NewFeedParser()
	if _, err := fp.Fetch(context.Background(), srv.URL, 0, nil); err == nil {
		t.Fatal("expected error for HTTP 404")
	}
}
