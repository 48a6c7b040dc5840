package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"tubefeed/database"
	"tubefeed/models"
)

// ErrSubscriptionNotFound is returned when no subscription matches the
// given identity.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionService creates, reactivates, and archives subscriptions.
type SubscriptionService struct {
	db       *database.DB
	resolver *ResolverService
	parser   *FeedParser
	yt       *YouTubeService
}

func NewSubscriptionService(db *database.DB, resolver *ResolverService, parser *FeedParser, yt *YouTubeService) *SubscriptionService {
	return &SubscriptionService{db: db, resolver: resolver, parser: parser, yt: yt}
}

// resolved carries one request's network-phase outcome into the
// persistence phase.
type resolved struct {
	req        models.SubscriptionRequest
	feedURL    string
	channelID  string
	playlistID string
	title      string
	thumbnail  string
	err        error
}

// Subscribe idempotently ensures an active subscription exists for the
// request's identity.
func (ss *SubscriptionService) Subscribe(ctx context.Context, req models.SubscriptionRequest) models.SubscriptionResult {
	return ss.AddSubscriptions(ctx, []models.SubscriptionRequest{req})[0]
}

// AddSubscriptions resolves every request concurrently, then persists
// all outcomes in a single commit. One request's failure is captured as
// its own error result and never aborts the siblings.
func (ss *SubscriptionService) AddSubscriptions(ctx context.Context, reqs []models.SubscriptionRequest) []models.SubscriptionResult {
	resolvedByIndex := make([]resolved, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req models.SubscriptionRequest) {
			defer wg.Done()
			resolvedByIndex[i] = ss.resolveRequest(ctx, req)
		}(i, req)
	}
	wg.Wait()

	results, err := ss.persistResolved(ctx, reqs, resolvedByIndex)
	if err != nil {
		// The commit itself failed; every otherwise-successful item
		// becomes an error result.
		results = make([]models.SubscriptionResult, len(reqs))
		for i, req := range reqs {
			results[i] = models.SubscriptionResult{
				Request: req,
				State:   models.StateError,
				Error:   err.Error(),
			}
		}
	}
	return results
}

// resolveRequest performs the network phase for one request: feed URL
// resolution, feed metadata fetch, and thumbnail lookup. No writes.
func (ss *SubscriptionService) resolveRequest(ctx context.Context, req models.SubscriptionRequest) resolved {
	res := resolved{req: req}

	// Identity known up front lets persist dedup without any network
	// round trip, so check it before resolving.
	channelID, playlistID := IdentityFromURL(req.URL)
	if req.PlaylistID != "" {
		playlistID = req.PlaylistID
	}
	res.channelID, res.playlistID = channelID, playlistID

	if existing, err := ss.findExisting(ctx, channelID, playlistID, req.Username); err != nil {
		res.err = err
		return res
	} else if existing != nil {
		// Persistence phase handles reactivation; nothing to fetch.
		return res
	}

	feedURL, err := ss.resolver.Resolve(ctx, req)
	if err != nil {
		res.err = err
		return res
	}
	res.feedURL = feedURL
	if channelID == "" && playlistID == "" {
		res.channelID, res.playlistID = IdentityFromURL(feedURL)
	}

	info, err := ss.parser.Fetch(ctx, feedURL, 1, nil)
	if err != nil {
		res.err = err
		return res
	}
	res.title = info.Title
	// The feed's in-entry channel id outranks whatever key the request
	// arrived under: a username can resolve to an already-known channel.
	if info.ChannelID != "" && res.playlistID == "" {
		res.channelID = info.ChannelID
	}

	if res.channelID != "" {
		thumb, err := ss.yt.ChannelThumbnail(ctx, res.channelID)
		if err != nil {
			log.WithField("channel", res.channelID).Debugf("thumbnail lookup failed: %v", err)
		} else {
			res.thumbnail = thumb
		}
	}

	return res
}

// persistResolved applies all resolved requests inside one transaction.
func (ss *SubscriptionService) persistResolved(ctx context.Context, reqs []models.SubscriptionRequest, items []resolved) ([]models.SubscriptionResult, error) {
	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	results := make([]models.SubscriptionResult, len(reqs))
	for i, item := range items {
		results[i] = ss.persistOne(ctx, tx, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

func (ss *SubscriptionService) persistOne(ctx context.Context, tx dbtx, item resolved) models.SubscriptionResult {
	result := models.SubscriptionResult{Request: item.req}

	if item.err != nil {
		result.State = models.StateError
		result.Error = item.err.Error()
		return result
	}

	// Re-check under the authoritative channel id: a username lookup
	// can land on a channel that already exists under another key.
	existing, err := ss.findExistingTx(ctx, tx, item.channelID, item.playlistID, item.req.Username)
	if err != nil {
		result.State = models.StateError
		result.Error = err.Error()
		return result
	}

	if existing != nil {
		if existing.Archived {
			if err := ss.reactivateTx(ctx, tx, existing.ID); err != nil {
				result.State = models.StateError
				result.Error = err.Error()
				return result
			}
			existing.Archived = false
		}
		result.State = models.StateAlreadyAdded
		result.Subscription = existing
		return result
	}

	if item.feedURL == "" {
		// Pre-checked as existing during resolution, but gone by
		// commit time and never resolved. Terminal for this item.
		result.State = models.StateError
		result.Error = ErrUnresolved.Error()
		return result
	}

	sub, err := ss.insertTx(ctx, tx, item)
	if err != nil {
		result.State = models.StateError
		result.Error = err.Error()
		return result
	}

	result.State = models.StateAdded
	result.Subscription = sub
	return result
}

func (ss *SubscriptionService) insertTx(ctx context.Context, tx dbtx, item resolved) (*models.Subscription, error) {
	title := item.title
	if title == "" {
		title = item.req.Username
	}

	var channelID, playlistID, username, thumbnail *string
	if item.channelID != "" {
		channelID = &item.channelID
	}
	if item.playlistID != "" {
		playlistID = &item.playlistID
	}
	if item.req.Username != "" {
		username = &item.req.Username
	}
	if item.thumbnail != "" {
		thumbnail = &item.thumbnail
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (channel_id, playlist_id, title, feed_url, username, thumbnail_url)
		VALUES (?, ?, ?, ?, ?, ?)
	`, channelID, playlistID, title, item.feedURL, username, thumbnail)
	if err != nil {
		return nil, err
	}

	id64, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return ss.getTx(ctx, tx, int(id64))
}

func (ss *SubscriptionService) reactivateTx(ctx context.Context, tx dbtx, id int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET archived = FALSE, subscribed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}

func (ss *SubscriptionService) findExisting(ctx context.Context, channelID, playlistID, username string) (*models.Subscription, error) {
	return ss.findExistingTx(ctx, ss.db, channelID, playlistID, username)
}

// findExistingTx looks a subscription up by any of its identity keys.
func (ss *SubscriptionService) findExistingTx(ctx context.Context, tx dbtx, channelID, playlistID, username string) (*models.Subscription, error) {
	clauses := []string{}
	args := []interface{}{}
	if channelID != "" {
		clauses = append(clauses, "channel_id = ?")
		args = append(args, channelID)
	}
	if playlistID != "" {
		clauses = append(clauses, "playlist_id = ?")
		args = append(args, playlistID)
	}
	if username != "" {
		clauses = append(clauses, "username = ?")
		args = append(args, username)
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := subscriptionColumns + " FROM subscriptions WHERE "
	for i, c := range clauses {
		if i > 0 {
			query += " OR "
		}
		query += c
	}

	sub, err := scanSubscription(tx.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

const subscriptionColumns = `
	SELECT id, channel_id, playlist_id, title, feed_url, username, thumbnail_url,
	       archived, placement, most_recent_video_date, playback_speed,
	       subscribed_at, created_at, updated_at`

func scanSubscription(row *sql.Row) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := row.Scan(
		&sub.ID, &sub.ChannelID, &sub.PlaylistID, &sub.Title, &sub.FeedURL,
		&sub.Username, &sub.ThumbnailURL, &sub.Archived, &sub.Placement,
		&sub.MostRecentVideoDate, &sub.PlaybackSpeed,
		&sub.SubscribedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (ss *SubscriptionService) getTx(ctx context.Context, tx dbtx, id int) (*models.Subscription, error) {
	return scanSubscription(tx.QueryRowContext(ctx, subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
}

// GetByID returns one subscription.
func (ss *SubscriptionService) GetByID(ctx context.Context, id int) (*models.Subscription, error) {
	sub, err := ss.getTx(ctx, ss.db, id)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

// GetAll lists subscriptions, ordered by title. Archived ones are
// excluded unless includeArchived is set.
func (ss *SubscriptionService) GetAll(ctx context.Context, includeArchived bool) ([]models.Subscription, error) {
	query := subscriptionColumns + ` FROM subscriptions`
	if !includeArchived {
		query += ` WHERE archived = FALSE`
	}
	query += ` ORDER BY title`

	rows, err := ss.db.QueryContext(ctx, query)
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

// UpdateSettings changes a subscription's placement policy and custom
// playback speed.
func (ss *SubscriptionService) UpdateSettings(ctx context.Context, id int, placement *models.Placement, playbackSpeed *float64) (*models.Subscription, error) {
	if placement != nil {
		if _, err := ss.db.ExecContext(ctx, `
			UPDATE subscriptions SET placement = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, string(*placement), id); err != nil {
			return nil, err
		}
	}
	if playbackSpeed != nil {
		if _, err := ss.db.ExecContext(ctx, `
			UPDATE subscriptions SET playback_speed = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, *playbackSpeed, id); err != nil {
			return nil, err
		}
	}
	return ss.GetByID(ctx, id)
}

// Unsubscribe archives a subscription. Videos with no queue placement
// and no watched flag are deleted together with their inbox entries;
// anything with user-visible history survives. The watermark is cleared
// so a reactivation re-polls from scratch.
func (ss *SubscriptionService) Unsubscribe(ctx context.Context, id int) error {
	sub, err := ss.GetByID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := ss.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Inbox entries cascade with their videos.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM videos
		WHERE subscription_id = ?
		AND watched = FALSE
		AND id NOT IN (SELECT video_id FROM queue_entries)
	`, sub.ID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET archived = TRUE, most_recent_video_date = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, sub.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// UnsubscribeByIdentity archives the subscription matching a channel or
// playlist id.
func (ss *SubscriptionService) UnsubscribeByIdentity(ctx context.Context, channelID, playlistID string) error {
	sub, err := ss.findExisting(ctx, channelID, playlistID, "")
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	return ss.Unsubscribe(ctx, sub.ID)
}
