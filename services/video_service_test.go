package services

import (
	"context"
	"testing"
	"time"

	"tubefeed/database"
	"tubefeed/models"
)

func seedSubscription(t *testing.T, db *database.DB, channelID, feedURL string) int {
	t.Helper()
	result, err := db.Exec(`
		INSERT INTO subscriptions (channel_id, title, feed_url)
		VALUES (?, ?, ?)
	`, channelID, "Channel "+channelID, feedURL)
	if err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("seed subscription id: %v", err)
	}
	return int(id)
}

func newTestVideoService(t *testing.T, db *database.DB) *VideoService {
	t.Helper()
	queue := NewQueueService(db)
	return NewVideoService(db, NewFeedParser(), nil, queue)
}

func countRows(t *testing.T, db *database.DB, query string, args ...interface{}) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

func TestLoadVideosFirstPollCap(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	entries := make([]feedEntry, 8)
	for i := range entries {
		published := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Hour)
		entries[i] = validEntry(i+1, published.Format(time.RFC3339))
	}
	srv := serveFeed(t, buildFeed("Test Channel", "UCcap", "", entries))
	subID := seedSubscription(t, db, "UCcap", srv.URL)

	added, err := vs.LoadVideos(ctx, nil, models.PlacementDefault)
	if err != nil {
		t.Fatalf("LoadVideos: %v", err)
	}
	if added != 5 {
		t.Fatalf("first poll added %d videos, want 5", added)
	}

	// Watermark advances to the newest ingested entry.
	var watermark *time.Time
	if err := db.QueryRow(`SELECT most_recent_video_date FROM subscriptions WHERE id = ?`, subID).Scan(&watermark); err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if watermark == nil {
		t.Fatal("watermark not set after first poll")
	}
	newest := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	if !watermark.Equal(newest) {
		t.Errorf("watermark = %v, want %v", watermark, newest)
	}

	// Second poll: nothing newer than the watermark, nothing added.
	added, err = vs.LoadVideos(ctx, nil, models.PlacementDefault)
	if err != nil {
		t.Fatalf("second LoadVideos: %v", err)
	}
	if added != 0 {
		t.Errorf("second poll added %d videos, want 0", added)
	}
}

func TestLoadVideosIncrementalPoll(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	old := []feedEntry{
		validEntry(1, "2026-08-18T10:00:00Z"),
		validEntry(2, "2026-08-17T10:00:00Z"),
	}
	srv := serveFeed(t, buildFeed("Test Channel", "UCinc", "", old))
	subID := seedSubscription(t, db, "UCinc", srv.URL)

	if _, err := vs.LoadVideos(ctx, []int{subID}, models.PlacementDefault); err != nil {
		t.Fatalf("LoadVideos: %v", err)
	}

	// New upload appears at the top of the feed.
	fresh := append([]feedEntry{validEntry(3, "2026-08-19T10:00:00Z")}, old...)
	srv2 := serveFeed(t, buildFeed("Test Channel", "UCinc", "", fresh))
	if _, err := db.Exec(`UPDATE subscriptions SET feed_url = ? WHERE id = ?`, srv2.URL, subID); err != nil {
		t.Fatalf("update feed url: %v", err)
	}

	added, err := vs.LoadVideos(ctx, []int{subID}, models.PlacementDefault)
	if err != nil {
		t.Fatalf("LoadVideos: %v", err)
	}
	if added != 1 {
		t.Fatalf("incremental poll added %d videos, want 1", added)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM videos`); n != 3 {
		t.Errorf("video count = %d, want 3", n)
	}
}

func TestLoadVideosWatermarkMonotonic(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	entries := []feedEntry{validEntry(1, "2026-08-18T10:00:00Z")}
	srv := serveFeed(t, buildFeed("Test Channel", "UCmono", "", entries))
	subID := seedSubscription(t, db, "UCmono", srv.URL)

	future := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if _, err := db.Exec(`UPDATE subscriptions SET most_recent_video_date = ? WHERE id = ?`, future, subID); err != nil {
		t.Fatalf("set watermark: %v", err)
	}

	if _, err := vs.LoadVideos(ctx, []int{subID}, models.PlacementDefault); err != nil {
		t.Fatalf("LoadVideos: %v", err)
	}

	var watermark time.Time
	if err := db.QueryRow(`SELECT most_recent_video_date FROM subscriptions WHERE id = ?`, subID).Scan(&watermark); err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if !watermark.Equal(future) {
		t.Errorf("watermark moved backward: %v", watermark)
	}
}

func TestLoadVideosDefaultPlacementInbox(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	entries := []feedEntry{validEntry(1, "2026-08-18T10:00:00Z")}
	srv := serveFeed(t, buildFeed("Test Channel", "UCdef", "", entries))
	seedSubscription(t, db, "UCdef", srv.URL)

	if _, err := vs.LoadVideos(ctx, nil, models.PlacementDefault); err != nil {
		t.Fatalf("LoadVideos: %v", err)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM inbox_entries`); n != 1 {
		t.Errorf("inbox count = %d, want 1", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM queue_entries`); n != 0 {
		t.Errorf("queue count = %d, want 0", n)
	}
}

func TestLoadVideosSubscriptionPlacementQueue(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	entries := []feedEntry{
		validEntry(1, "2026-08-18T10:00:00Z"),
		validEntry(2, "2026-08-17T10:00:00Z"),
	}
	srv := serveFeed(t, buildFeed("Test Channel", "UCq", "", entries))
	subID := seedSubscription(t, db, "UCq", srv.URL)
	if _, err := db.Exec(`UPDATE subscriptions SET placement = 'queue' WHERE id = ?`, subID); err != nil {
		t.Fatalf("set placement: %v", err)
	}

	if _, err := vs.LoadVideos(ctx, nil, models.PlacementDefault); err != nil {
		t.Fatalf("LoadVideos: %v", err)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM queue_entries`); n != 2 {
		t.Errorf("queue count = %d, want 2", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM inbox_entries`); n != 0 {
		t.Errorf("inbox count = %d, want 0", n)
	}

	// Positions stay dense for feed-ingested videos too.
	qs := NewQueueService(db)
	queueOrder(t, qs)
}

func TestPlaceVideoMutualExclusion(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	v1 := seedVideo(t, db, 1)

	if err := vs.PlaceVideo(ctx, v1, models.PlacementInbox); err != nil {
		t.Fatalf("place inbox: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM inbox_entries WHERE video_id = ?`, v1); n != 1 {
		t.Fatal("video not in inbox")
	}

	if err := vs.PlaceVideo(ctx, v1, models.PlacementQueue); err != nil {
		t.Fatalf("place queue: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM inbox_entries WHERE video_id = ?`, v1); n != 0 {
		t.Error("video still in inbox after queueing")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM queue_entries WHERE video_id = ?`, v1); n != 1 {
		t.Error("video not in queue")
	}

	if err := vs.PlaceVideo(ctx, v1, models.PlacementInbox); err != nil {
		t.Fatalf("place inbox again: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM queue_entries WHERE video_id = ?`, v1); n != 0 {
		t.Error("video still in queue after moving to inbox")
	}

	if err := vs.PlaceVideo(ctx, v1, models.PlacementNothing); err != nil {
		t.Fatalf("place nothing: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM inbox_entries WHERE video_id = ?`, v1); n != 0 {
		t.Error("video still in inbox after clearing placement")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM queue_entries WHERE video_id = ?`, v1); n != 0 {
		t.Error("video still in queue after clearing placement")
	}
}

func TestMarkWatched(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	v1 := seedVideo(t, db, 1)
	if err := vs.PlaceVideo(ctx, v1, models.PlacementQueue); err != nil {
		t.Fatalf("place queue: %v", err)
	}

	if err := vs.MarkWatched(ctx, v1, true); err != nil {
		t.Fatalf("MarkWatched: %v", err)
	}

	video, err := vs.GetVideoByID(ctx, v1)
	if err != nil {
		t.Fatalf("GetVideoByID: %v", err)
	}
	if !video.Watched {
		t.Error("watched flag not set")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM watch_entries WHERE video_id = ?`, v1); n != 1 {
		t.Error("no watch history entry")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM queue_entries WHERE video_id = ?`, v1); n != 0 {
		t.Error("watched video still queued")
	}

	// Un-watching resets the flag but keeps the history entry.
	if err := vs.MarkWatched(ctx, v1, false); err != nil {
		t.Fatalf("MarkWatched false: %v", err)
	}
	video, err = vs.GetVideoByID(ctx, v1)
	if err != nil {
		t.Fatalf("GetVideoByID: %v", err)
	}
	if video.Watched {
		t.Error("watched flag not cleared")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM watch_entries WHERE video_id = ?`, v1); n != 1 {
		t.Error("history entry removed on un-watch")
	}
}

func TestVideoChaptersStored(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	entry := validEntry(1, "2026-08-18T10:00:00Z")
	entry.description = "0:00 Intro\n1:00 Main\n3:00 Outro"
	srv := serveFeed(t, buildFeed("Test Channel", "UCch", "", []feedEntry{entry}))
	subID := seedSubscription(t, db, "UCch", srv.URL)

	if _, err := vs.LoadVideos(ctx, []int{subID}, models.PlacementDefault); err != nil {
		t.Fatalf("LoadVideos: %v", err)
	}

	var videoID int
	if err := db.QueryRow(`SELECT id FROM videos WHERE video_id = 'video000001'`).Scan(&videoID); err != nil {
		t.Fatalf("find video: %v", err)
	}

	video, err := vs.GetVideoByID(ctx, videoID)
	if err != nil {
		t.Fatalf("GetVideoByID: %v", err)
	}
	if len(video.Chapters) != 3 {
		t.Fatalf("chapter count = %d, want 3", len(video.Chapters))
	}
	if video.Chapters[1].StartSeconds != 60 {
		t.Errorf("chapter 1 start = %d, want 60", video.Chapters[1].StartSeconds)
	}

	// Toggle one chapter off.
	if err := vs.SetChapterActive(ctx, video.Chapters[1].ID, false); err != nil {
		t.Fatalf("SetChapterActive: %v", err)
	}
	video, err = vs.GetVideoByID(ctx, videoID)
	if err != nil {
		t.Fatalf("GetVideoByID: %v", err)
	}
	if video.Chapters[1].Active {
		t.Error("chapter still active after toggle")
	}
}

func TestCleanupOldVideos(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	oldWatched := seedVideo(t, db, 1)
	oldQueued := seedVideo(t, db, 2)
	recentWatched := seedVideo(t, db, 3)

	stale := time.Now().AddDate(0, 0, -60)
	for _, id := range []int{oldWatched, oldQueued} {
		if _, err := db.Exec(`UPDATE videos SET watched = TRUE, created_at = ? WHERE id = ?`, stale, id); err != nil {
			t.Fatalf("age video: %v", err)
		}
	}
	if _, err := db.Exec(`UPDATE videos SET watched = TRUE WHERE id = ?`, recentWatched); err != nil {
		t.Fatalf("mark watched: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO queue_entries (video_id, position) VALUES (?, 0)`, oldQueued); err != nil {
		t.Fatalf("queue video: %v", err)
	}

	if err := vs.CleanupOldVideos(ctx, 30); err != nil {
		t.Fatalf("CleanupOldVideos: %v", err)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM videos WHERE id = ?`, oldWatched); n != 0 {
		t.Error("old watched video not cleaned up")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM videos WHERE id = ?`, oldQueued); n != 1 {
		t.Error("queued video was cleaned up")
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM videos WHERE id = ?`, recentWatched); n != 1 {
		t.Error("recent video was cleaned up")
	}
}

func TestCleanupRetentionDays(t *testing.T) {
	db := newTestDB(t)
	vs := newTestVideoService(t, db)
	ctx := context.Background()

	if got := vs.CleanupRetentionDays(ctx); got != 30 {
		t.Errorf("default retention = %d, want 30", got)
	}

	if _, err := db.Exec(`UPDATE settings SET value = '7' WHERE key = 'cleanup_after_days'`); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	if got := vs.CleanupRetentionDays(ctx); got != 7 {
		t.Errorf("retention = %d, want 7", got)
	}

	if _, err := db.Exec(`UPDATE settings SET value = 'bogus' WHERE key = 'cleanup_after_days'`); err != nil {
		t.Fatalf("update setting: %v", err)
	}
	if got := vs.CleanupRetentionDays(ctx); got != 30 {
		t.Errorf("retention with bad value = %d, want 30", got)
	}
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/abcdefghijk", "abcdefghijk", true},
		{"https://www.youtube.com/embed/abcdefghijk", "abcdefghijk", true},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://example.com/page", "", false},
		{"short", "", false},
	}

	for _, tt := range tests {
		got, ok := extractVideoID(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("extractVideoID(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
