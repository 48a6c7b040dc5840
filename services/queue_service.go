package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"tubefeed/database"
	"tubefeed/models"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting placement transitions run inside a caller's transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// QueueService maintains the play queue's order invariant: positions
// are always exactly 0..count-1, no gaps, no duplicates.
type QueueService struct {
	db *database.DB
}

func NewQueueService(db *database.DB) *QueueService {
	return &QueueService{db: db}
}

func (qs *QueueService) List(ctx context.Context) ([]models.QueueEntry, error) {
	query := `
		SELECT q.id, q.video_id, q.position,
		       v.id, v.video_id, v.subscription_id, v.title, v.url, v.thumbnail_url,
		       v.description, v.published_at, v.duration_seconds, v.watched, v.created_at
		FROM queue_entries q
		JOIN videos v ON v.id = q.video_id
		ORDER BY q.position
	`

	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		entry := models.QueueEntry{}
		err := rows.Scan(
			&entry.ID, &entry.VideoID, &entry.Position,
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

// InsertAt splices videos into the queue at index and renumbers the
// whole sequence. Videos already queued are moved rather than
// duplicated; inbox entries for the videos are cleared.
func (qs *QueueService) InsertAt(ctx context.Context, index int, videoIDs []int) error {
	tx, err := qs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := qs.insertAtTx(ctx, tx, index, videoIDs); err != nil {
		return err
	}
	return tx.Commit()
}

func (qs *QueueService) insertAtTx(ctx context.Context, tx dbtx, index int, videoIDs []int) error {
	if len(videoIDs) == 0 {
		return nil
	}

	// Placement is exclusive: entering the queue leaves the inbox.
	for _, id := range videoIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM inbox_entries WHERE video_id = ?`, id); err != nil {
			return fmt.Errorf("clear inbox entry: %v", err)
		}
	}

	current, err := queuedVideoIDs(ctx, tx)
	if err != nil {
		return err
	}

	inserting := make(map[int]bool, len(videoIDs))
	for _, id := range videoIDs {
		inserting[id] = true
	}
	remaining := current[:0:0]
	for _, id := range current {
		if !inserting[id] {
			remaining = append(remaining, id)
		}
	}

	if index < 0 {
		index = 0
	}
	if index > len(remaining) {
		index = len(remaining)
	}

	final := make([]int, 0, len(remaining)+len(videoIDs))
	final = append(final, remaining[:index]...)
	final = append(final, videoIDs...)
	final = append(final, remaining[index:]...)

	return renumberQueue(ctx, tx, final)
}

// appendTx puts one video at the end of the queue; a no-op when it is
// already queued.
func (qs *QueueService) appendTx(ctx context.Context, tx dbtx, videoID int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM inbox_entries WHERE video_id = ?`, videoID); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_entries WHERE video_id = ?`, videoID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO queue_entries (video_id, position)
		VALUES (?, (SELECT COUNT(*) FROM queue_entries))
	`, videoID)
	return err
}

// Move relocates the entries at fromOffsets so they sit before
// toOffset, both interpreted against the current order, then renumbers.
func (qs *QueueService) Move(ctx context.Context, fromOffsets []int, toOffset int) error {
	tx, err := qs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := queuedVideoIDs(ctx, tx)
	if err != nil {
		return err
	}

	final := moveOffsets(current, fromOffsets, toOffset)
	if err := renumberQueue(ctx, tx, final); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes one entry and closes the gap by decrementing every
// position beyond it. Equivalent to a renumber for the single-delete
// case without rewriting the whole table.
func (qs *QueueService) Remove(ctx context.Context, videoID int) error {
	tx, err := qs.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := qs.removeTx(ctx, tx, videoID); err != nil {
		return err
	}
	return tx.Commit()
}

func (qs *QueueService) removeTx(ctx context.Context, tx dbtx, videoID int) error {
	var position int
	err := tx.QueryRowContext(ctx, `SELECT position FROM queue_entries WHERE video_id = ?`, videoID).Scan(&position)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries WHERE video_id = ?`, videoID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE queue_entries SET position = position - 1 WHERE position > ?`, position)
	return err
}

func queuedVideoIDs(ctx context.Context, tx dbtx) ([]int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT video_id FROM queue_entries ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// renumberQueue rewrites the queue as the given sequence with positions
// 0..n-1. O(n), chosen over gap-based numbering to keep the invariant
// trivially checkable.
func renumberQueue(ctx context.Context, tx dbtx, videoIDs []int) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_entries`); err != nil {
		return err
	}
	for i, id := range videoIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO queue_entries (video_id, position) VALUES (?, ?)`, id, i); err != nil {
			return fmt.Errorf("renumber queue at %d: %v", i, err)
		}
	}
	return nil
}

// moveOffsets applies a move of the items at fromOffsets to sit before
// toOffset, with both offset sets relative to the original slice.
func moveOffsets(ids []int, fromOffsets []int, toOffset int) []int {
	from := append([]int(nil), fromOffsets...)
	sort.Ints(from)

	moving := make(map[int]bool, len(from))
	for _, i := range from {
		if i >= 0 && i < len(ids) {
			moving[i] = true
		}
	}

	insert := toOffset
	var moved, remaining []int
	for i, id := range ids {
		if moving[i] {
			moved = append(moved, id)
			if i < toOffset {
				insert--
			}
		} else {
			remaining = append(remaining, id)
		}
	}

	if insert < 0 {
		insert = 0
	}
	if insert > len(remaining) {
		insert = len(remaining)
	}

	out := make([]int, 0, len(ids))
	out = append(out, remaining[:insert]...)
	out = append(out, moved...)
	out = append(out, remaining[insert:]...)
	return out
}
