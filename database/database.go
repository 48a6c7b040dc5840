package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

type DB struct {
	*sql.DB
}

// NewDatabase opens the store under dataDir, creating it if needed.
func NewDatabase(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}
	return Open(filepath.Join(dataDir, "tubefeed.db"))
}

// Open opens a store at the given path. Pass ":memory:" for tests.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Single connection: SQLite is single-writer anyway, and this
	// serializes all store mutation across background goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	database := &DB{db}
	if err := database.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	log.Debug("database initialized")
	return database, nil
}

func (db *DB) createTables() error {
	schema := `
	-- Subscriptions table. channel_id and playlist_id are mutually
	-- exclusive; an archived row is reused on re-subscribe, so the
	-- unique indexes hold for active and archived rows alike.
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT UNIQUE,
		playlist_id TEXT UNIQUE,
		title TEXT NOT NULL,
		feed_url TEXT NOT NULL,
		username TEXT,
		thumbnail_url TEXT,
		archived BOOLEAN DEFAULT FALSE,
		placement TEXT DEFAULT 'default' CHECK (placement IN ('inbox', 'queue', 'nothing', 'default')),
		most_recent_video_date DATETIME,
		playback_speed REAL,
		subscribed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Videos table. subscription_id is a weak back-reference: videos
	-- outlive their subscription.
	CREATE TABLE IF NOT EXISTS videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id TEXT UNIQUE NOT NULL,
		subscription_id INTEGER,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		thumbnail_url TEXT,
		description TEXT,
		published_at DATETIME NOT NULL,
		duration_seconds INTEGER,
		watched BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (subscription_id) REFERENCES subscriptions(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS chapters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		start_seconds INTEGER NOT NULL,
		end_seconds INTEGER,
		duration_seconds INTEGER,
		active BOOLEAN DEFAULT TRUE,
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
	);

	-- A video has at most one placement: queue XOR inbox.
	CREATE TABLE IF NOT EXISTS queue_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id INTEGER UNIQUE NOT NULL,
		position INTEGER NOT NULL,
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS inbox_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id INTEGER UNIQUE NOT NULL,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS watch_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id INTEGER NOT NULL,
		watched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_login DATETIME
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	-- Indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_videos_subscription_id ON videos(subscription_id);
	CREATE INDEX IF NOT EXISTS idx_videos_published_at ON videos(published_at);
	CREATE INDEX IF NOT EXISTS idx_videos_watched ON videos(watched);
	CREATE INDEX IF NOT EXISTS idx_chapters_video_id ON chapters(video_id);
	CREATE INDEX IF NOT EXISTS idx_queue_entries_position ON queue_entries(position);
	CREATE INDEX IF NOT EXISTS idx_inbox_entries_added_at ON inbox_entries(added_at);
	CREATE INDEX IF NOT EXISTS idx_watch_entries_video_id ON watch_entries(video_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_archived ON subscriptions(archived);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

	-- Insert default settings
	INSERT OR IGNORE INTO settings (key, value) VALUES
		('default_placement', 'inbox'),
		('cleanup_after_days', '30');
	`

	_, err := db.Exec(schema)
	return err
}
