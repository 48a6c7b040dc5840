package services

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tubefeed/database"
	"tubefeed/models"
)

// firstPollLimit caps the very first poll of a subscription that has no
// watermark yet, so a fresh subscription doesn't flood the inbox with
// its whole back catalog. It always wins over any caller limit.
const firstPollLimit = 5

var videoIDPattern = regexp.MustCompile(`(?:v=|youtu\.be/|/shorts/|/embed/|/live/)([A-Za-z0-9_-]{11})`)
var bareVideoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoService ingests videos from subscription feeds and maintains
// their placement (inbox, queue, watched, none).
type VideoService struct {
	db     *database.DB
	parser *FeedParser
	yt     *YouTubeService
	queue  *QueueService
}

func NewVideoService(db *database.DB, parser *FeedParser, yt *YouTubeService, queue *QueueService) *VideoService {
	return &VideoService{db: db, parser: parser, yt: yt, queue: queue}
}

type loadResult struct {
	subscription string
	added        int
	err          error
}

// LoadVideos polls the targeted subscriptions (all non-archived ones
// when subscriptionIDs is empty) and places newly discovered videos.
// Pass models.PlacementDefault to use the configured default placement.
// One subscription's failure doesn't abort the others.
func (vs *VideoService) LoadVideos(ctx context.Context, subscriptionIDs []int, defaultPlacement models.Placement) (int, error) {
	subs, err := vs.targetSubscriptions(ctx, subscriptionIDs)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	fallback, err := vs.resolveDefaultPlacement(ctx, defaultPlacement)
	if err != nil {
		return 0, err
	}

	results := make(chan loadResult, len(subs))
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub models.Subscription) {
			defer wg.Done()
			added, err := vs.loadSubscriptionVideos(ctx, sub, fallback)
			results <- loadResult{subscription: sub.Title, added: added, err: err}
		}(sub)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	total := 0
	for res := range results {
		if res.err != nil {
			log.WithField("subscription", res.subscription).Errorf("video load failed: %v", res.err)
			continue
		}
		total += res.added
	}

	log.WithFields(log.Fields{"subscriptions": len(subs), "new_videos": total}).Info("video load complete")
	return total, nil
}

func (vs *VideoService) targetSubscriptions(ctx context.Context, ids []int) ([]models.Subscription, error) {
	query := `
		SELECT id, channel_id, playlist_id, title, feed_url, username, thumbnail_url,
		       archived, placement, most_recent_video_date, playback_speed,
		       subscribed_at, created_at, updated_at
		FROM subscriptions
	`
	var args []interface{}
	if len(ids) == 0 {
		query += " WHERE archived = FALSE"
	} else {
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
	}

	rows, err := vs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub := models.Subscription{}
		err := rows.Scan(
			&sub.ID, &sub.ChannelID, &sub.PlaylistID, &sub.Title, &sub.FeedURL,
			&sub.Username, &sub.ThumbnailURL, &sub.Archived, &sub.Placement,
			&sub.MostRecentVideoDate, &sub.PlaybackSpeed,
			&sub.SubscribedAt, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// loadSubscriptionVideos fetches one subscription's feed since its
// watermark, persists genuinely-new videos, and advances the watermark.
func (vs *VideoService) loadSubscriptionVideos(ctx context.Context, sub models.Subscription, fallback models.Placement) (int, error) {
	limit := 0
	if sub.MostRecentVideoDate == nil {
		limit = firstPollLimit
	}

	info, err := vs.parser.Fetch(ctx, sub.FeedURL, limit, sub.MostRecentVideoDate)
	if err != nil {
		return 0, err
	}

	placement := sub.Placement
	if placement == models.PlacementDefault || placement == "" {
		placement = fallback
	}

	added := 0
	var newest time.Time
	for _, fv := range info.Videos {
		if fv.Published.After(newest) {
			newest = fv.Published
		}

		exists, err := vs.videoExists(ctx, fv.VideoID)
		if err != nil {
			return added, err
		}
		if exists {
			continue
		}

		if err := vs.insertVideo(ctx, fv, &sub.ID, placement); err != nil {
			log.WithField("video", fv.VideoID).Errorf("failed to store video: %v", err)
			continue
		}
		added++
	}

	// Watermark is monotonic: it never moves backward, even if a later
	// poll returns only older entries.
	if !newest.IsZero() && (sub.MostRecentVideoDate == nil || newest.After(*sub.MostRecentVideoDate)) {
		_, err = vs.db.ExecContext(ctx, `
			UPDATE subscriptions
			SET most_recent_video_date = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, newest, sub.ID)
		if err != nil {
			return added, fmt.Errorf("update watermark: %v", err)
		}
	}

	return added, nil
}

func (vs *VideoService) videoExists(ctx context.Context, platformID string) (bool, error) {
	var count int
	err := vs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE video_id = ?`, platformID).Scan(&count)
	return count > 0, err
}

// insertVideo stores a video with its chapters and places it in one
// transaction.
func (vs *VideoService) insertVideo(ctx context.Context, fv FeedVideo, subscriptionID *int, placement models.Placement) error {
	tx, err := vs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO videos (video_id, subscription_id, title, url, thumbnail_url, description, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fv.VideoID, subscriptionID, fv.Title, fv.URL, fv.ThumbnailURL, fv.Description, fv.Published)
	if err != nil {
		return err
	}

	videoID64, err := result.LastInsertId()
	if err != nil {
		return err
	}
	videoID := int(videoID64)

	for _, ch := range fv.Chapters {
		if err := insertChapter(ctx, tx, videoID, ch); err != nil {
			return err
		}
	}

	if err := vs.placeVideoTx(ctx, tx, videoID, placement); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChapter(ctx context.Context, tx dbtx, videoID int, ch models.Chapter) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chapters (video_id, position, title, start_seconds, end_seconds, duration_seconds, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, videoID, ch.Position, ch.Title, ch.StartSeconds, ch.EndSeconds, ch.DurationSeconds, ch.Active)
	return err
}

// PlaceVideo is the single placement transition: it atomically clears
// the prior placement as part of moving a video into inbox, queue, or
// nothing. Callers never clear the other slot themselves.
func (vs *VideoService) PlaceVideo(ctx context.Context, videoID int, placement models.Placement) error {
	if placement == models.PlacementDefault {
		resolved, err := vs.resolveDefaultPlacement(ctx, placement)
		if err != nil {
			return err
		}
		placement = resolved
	}

	tx, err := vs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := vs.placeVideoTx(ctx, tx, videoID, placement); err != nil {
		return err
	}
	return tx.Commit()
}

func (vs *VideoService) placeVideoTx(ctx context.Context, tx dbtx, videoID int, placement models.Placement) error {
	switch placement {
	case models.PlacementInbox:
		if err := vs.queue.removeTx(ctx, tx, videoID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO inbox_entries (video_id) VALUES (?)`, videoID)
		return err
	case models.PlacementQueue:
		return vs.queue.appendTx(ctx, tx, videoID)
	case models.PlacementNothing:
		if err := vs.queue.removeTx(ctx, tx, videoID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM inbox_entries WHERE video_id = ?`, videoID)
		return err
	}
	return fmt.Errorf("unknown placement %q", placement)
}

// resolveDefaultPlacement maps PlacementDefault to the configured
// default, falling back to the inbox.
func (vs *VideoService) resolveDefaultPlacement(ctx context.Context, placement models.Placement) (models.Placement, error) {
	if placement != models.PlacementDefault && placement != "" {
		return placement, nil
	}

	var value string
	err := vs.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'default_placement'`).Scan(&value)
	if err == sql.ErrNoRows {
		return models.PlacementInbox, nil
	}
	if err != nil {
		return "", err
	}

	p := models.Placement(value)
	if !models.ValidPlacement(p) || p == models.PlacementDefault {
		return models.PlacementInbox, nil
	}
	return p, nil
}

// MarkWatched sets the watched flag. Watching records a history entry
// and clears any placement; un-watching only resets the flag.
func (vs *VideoService) MarkWatched(ctx context.Context, videoID int, watched bool) error {
	tx, err := vs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE videos SET watched = ? WHERE id = ?`, watched, videoID); err != nil {
		return err
	}

	if watched {
		if _, err := tx.ExecContext(ctx, `INSERT INTO watch_entries (video_id) VALUES (?)`, videoID); err != nil {
			return err
		}
		if err := vs.placeVideoTx(ctx, tx, videoID, models.PlacementNothing); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadVideoData ingests manually pasted or shared video URLs. Existing
// videos are reused; new ones get full metadata from the remote API and
// are associated with a matching subscription when one exists.
func (vs *VideoService) LoadVideoData(ctx context.Context, urls []string, defaultPlacement models.Placement) ([]models.Video, error) {
	placement, err := vs.resolveDefaultPlacement(ctx, defaultPlacement)
	if err != nil {
		return nil, err
	}

	var videos []models.Video
	for _, rawURL := range urls {
		platformID, ok := extractVideoID(rawURL)
		if !ok {
			log.WithField("url", rawURL).Warn("could not extract video id")
			continue
		}

		existing, err := vs.videoByPlatformID(ctx, platformID)
		if err != nil && err != sql.ErrNoRows {
			return videos, err
		}
		if err == nil {
			videos = append(videos, *existing)
			continue
		}

		meta, err := vs.yt.FetchVideoMetadata(ctx, platformID)
		if err != nil {
			log.WithField("video", platformID).Errorf("metadata fetch failed: %v", err)
			continue
		}

		subID, err := vs.subscriptionForChannel(ctx, meta.ChannelID)
		if err != nil {
			return videos, err
		}

		duration := meta.DurationSeconds
		fv := FeedVideo{
			VideoID:      platformID,
			Title:        meta.Title,
			URL:          "https://www.youtube.com/watch?v=" + platformID,
			ThumbnailURL: meta.ThumbnailURL,
			Description:  meta.Description,
			Published:    meta.PublishedAt,
			Chapters:     ExtractChapters(meta.Description, duration),
		}
		if err := vs.insertVideo(ctx, fv, subID, placement); err != nil {
			return videos, err
		}
		if duration > 0 {
			if _, err := vs.db.ExecContext(ctx, `UPDATE videos SET duration_seconds = ? WHERE video_id = ?`, duration, platformID); err != nil {
				return videos, err
			}
		}

		video, err := vs.videoByPlatformID(ctx, platformID)
		if err != nil {
			return videos, err
		}
		videos = append(videos, *video)
	}
	return videos, nil
}

// subscriptionForChannel finds the subscription owning a channel id,
// tolerating the UC→UU uploads-playlist prefix variant.
func (vs *VideoService) subscriptionForChannel(ctx context.Context, channelID string) (*int, error) {
	if channelID == "" {
		return nil, nil
	}

	uploadsVariant := ""
	if strings.HasPrefix(channelID, "UC") {
		uploadsVariant = "UU" + channelID[2:]
	}

	var id int
	err := vs.db.QueryRowContext(ctx, `
		SELECT id FROM subscriptions WHERE channel_id = ? OR playlist_id = ?
	`, channelID, uploadsVariant).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func extractVideoID(rawURL string) (string, bool) {
	if m := videoIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1], true
	}
	if bareVideoIDPattern.MatchString(rawURL) {
		return rawURL, true
	}
	return "", false
}

func (vs *VideoService) videoByPlatformID(ctx context.Context, platformID string) (*models.Video, error) {
	video := &models.Video{}
	err := vs.db.QueryRowContext(ctx, `
		SELECT id, video_id, subscription_id, title, url, thumbnail_url, description,
		       published_at, duration_seconds, watched, created_at
		FROM videos WHERE video_id = ?
	`, platformID).Scan(
		&video.ID, &video.VideoID, &video.SubscriptionID, &video.Title, &video.URL,
		&video.ThumbnailURL, &video.Description, &video.PublishedAt,
		&video.DurationSeconds, &video.Watched, &video.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return video, nil
}

// GetVideoByID returns one video with its chapters.
func (vs *VideoService) GetVideoByID(ctx context.Context, id int) (*models.Video, error) {
	video := &models.Video{}
	err := vs.db.QueryRowContext(ctx, `
		SELECT id, video_id, subscription_id, title, url, thumbnail_url, description,
		       published_at, duration_seconds, watched, created_at
		FROM videos WHERE id = ?
	`, id).Scan(
		&video.ID, &video.VideoID, &video.SubscriptionID, &video.Title, &video.URL,
		&video.ThumbnailURL, &video.Description, &video.PublishedAt,
		&video.DurationSeconds, &video.Watched, &video.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rows, err := vs.db.QueryContext(ctx, `
		SELECT id, video_id, position, title, start_seconds, end_seconds, duration_seconds, active
		FROM chapters WHERE video_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ch := models.Chapter{}
		err := rows.Scan(&ch.ID, &ch.VideoID, &ch.Position, &ch.Title,
			&ch.StartSeconds, &ch.EndSeconds, &ch.DurationSeconds, &ch.Active)
		if err != nil {
			return nil, err
		}
		video.Chapters = append(video.Chapters, ch)
	}
	return video, rows.Err()
}

// SetChapterActive toggles a chapter, e.g. to mute a sponsor segment.
func (vs *VideoService) SetChapterActive(ctx context.Context, chapterID int, active bool) error {
	result, err := vs.db.ExecContext(ctx, `UPDATE chapters SET active = ? WHERE id = ?`, active, chapterID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListInbox returns inbox entries newest-first.
func (vs *VideoService) ListInbox(ctx context.Context) ([]models.InboxEntry, error) {
	rows, err := vs.db.QueryContext(ctx, `
		SELECT i.id, i.video_id, i.added_at,
		       v.id, v.video_id, v.subscription_id, v.title, v.url, v.thumbnail_url,
		       v.description, v.published_at, v.duration_seconds, v.watched, v.created_at
		FROM inbox_entries i
		JOIN videos v ON v.id = i.video_id
		ORDER BY i.added_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.InboxEntry
	for rows.Next() {
		entry := models.InboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.VideoID, &entry.AddedAt,
			&entry.Video.ID, &entry.Video.VideoID, &entry.Video.SubscriptionID,
			&entry.Video.Title, &entry.Video.URL, &entry.Video.ThumbnailURL,
			&entry.Video.Description, &entry.Video.PublishedAt, &entry.Video.DurationSeconds,
			&entry.Video.Watched, &entry.Video.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ClearInbox drops every inbox entry. The videos themselves remain.
func (vs *VideoService) ClearInbox(ctx context.Context) error {
	_, err := vs.db.ExecContext(ctx, `DELETE FROM inbox_entries`)
	return err
}

// ListHistory returns watch entries newest-first.
func (vs *VideoService) ListHistory(ctx context.Context, limit int) ([]models.WatchEntry, error) {
	query := `SELECT id, video_id, watched_at FROM watch_entries ORDER BY watched_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := vs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.WatchEntry
	for rows.Next() {
		entry := models.WatchEntry{}
		if err := rows.Scan(&entry.ID, &entry.VideoID, &entry.WatchedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (vs *VideoService) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM subscriptions WHERE archived = FALSE`, &stats.TotalSubscriptions},
		{`SELECT COUNT(*) FROM videos`, &stats.TotalVideos},
		{`SELECT COUNT(*) FROM inbox_entries`, &stats.InboxCount},
		{`SELECT COUNT(*) FROM queue_entries`, &stats.QueueCount},
		{`SELECT COUNT(*) FROM videos WHERE watched = TRUE`, &stats.WatchedVideos},
	}
	for _, c := range counts {
		if err := vs.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// CleanupRetentionDays returns the configured cleanup age in days.
func (vs *VideoService) CleanupRetentionDays(ctx context.Context) int {
	var value string
	err := vs.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'cleanup_after_days'`).Scan(&value)
	if err != nil {
		return 30
	}
	days, err := strconv.Atoi(value)
	if err != nil || days <= 0 {
		return 30
	}
	return days
}

// CleanupOldVideos deletes watched, unqueued videos older than daysOld.
func (vs *VideoService) CleanupOldVideos(ctx context.Context, daysOld int) error {
	result, err := vs.db.ExecContext(ctx, `
		DELETE FROM videos
		WHERE watched = TRUE
		AND id NOT IN (SELECT video_id FROM queue_entries)
		AND created_at < datetime('now', '-' || ? || ' days')
	`, daysOld)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		log.Infof("cleaned up %d old videos", rowsAffected)
	}
	return nil
}
