package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ewintr.nl/vidfeed/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed width, so text comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return &SQLite{}, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return &SQLite{}, fmt.Errorf("opening database: %w", err)
	}
	// one writer, which also serializes quota reservations
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return &SQLite{}, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	m := migrator{
		db:     db,
		create: `CREATE TABLE IF NOT EXISTS migration (id INTEGER PRIMARY KEY AUTOINCREMENT, query TEXT)`,
		insert: `INSERT INTO migration (query) VALUES (?)`,
	}
	if err := m.migrate(sqliteMigration); err != nil {
		db.Close()
		return &SQLite{}, fmt.Errorf("migrating schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

var sqliteMigration = []string{
	`CREATE TABLE source_types (
id INTEGER PRIMARY KEY AUTOINCREMENT,
source_name TEXT NOT NULL UNIQUE
)`,
	`INSERT INTO source_types (source_name) VALUES
('Youtube'), ('Vimeo'), ('Dailymotion'), ('Facebook')`,
	`CREATE TABLE videos (
id INTEGER PRIMARY KEY AUTOINCREMENT,
video_id TEXT NOT NULL UNIQUE,
title TEXT,
source TEXT NOT NULL REFERENCES source_types(source_name),
tags TEXT NOT NULL DEFAULT '[]',
user_id TEXT,
category TEXT,
view_count INTEGER NOT NULL DEFAULT 0,
created_at TEXT NOT NULL
)`,
	`CREATE INDEX videos_created_at_idx ON videos (created_at DESC)`,
	`CREATE TABLE video_daily_counts (
date TEXT PRIMARY KEY,
count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0)
)`,
	`CREATE TABLE user_roles (
user_id TEXT NOT NULL,
role TEXT NOT NULL,
PRIMARY KEY (user_id, role)
)`,
}

const sqliteVideoColumns = `id, video_id, title, source, tags, user_id, category, view_count, created_at`

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) VideoIDs(ctx context.Context) (map[model.CandidateID]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT video_id FROM videos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := map[model.CandidateID]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[model.CandidateID(id)] = struct{}{}
	}

	return ids, rows.Err()
}

func (s *SQLite) InsertVideo(ctx context.Context, video *model.Video) error {
	if err := validate(video); err != nil {
		return err
	}
	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	createdAt := video.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO videos (video_id, title, source, tags, user_id, category, view_count, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(video.VideoID),
		nullString(video.Title),
		string(video.Source),
		string(tagsJSON),
		nullString(video.UserID),
		nullString(video.Category),
		video.ViewCount,
		createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, video.VideoID)
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	video.ID = id

	return nil
}

func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch code := sqlErr.Code(); {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case code&0xff == sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqlErr.Error(), "UNIQUE")
	}
	return false
}

func (s *SQLite) ListVideos(ctx context.Context, limit int) ([]*model.Video, error) {
	query := `SELECT ` + sqliteVideoColumns + ` FROM videos ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.queryVideos(ctx, query, limit)
}

func (s *SQLite) SearchVideos(ctx context.Context, q string, limit int) ([]*model.Video, error) {
	query := `SELECT ` + sqliteVideoColumns + ` FROM videos
WHERE title LIKE ? ESCAPE '\'
ORDER BY created_at DESC, id DESC LIMIT ?`
	return s.queryVideos(ctx, query, likePattern(q), limit)
}

func (s *SQLite) queryVideos(ctx context.Context, query string, args ...any) ([]*model.Video, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := []*model.Video{}
	for rows.Next() {
		var (
			v                                model.Video
			videoID, source, tags, createdAt string
			title, userID, category          sql.NullString
		)
		if err := rows.Scan(&v.ID, &videoID, &title, &source, &tags, &userID, &category, &v.ViewCount, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &v.Tags); err != nil {
			return nil, fmt.Errorf("tags of %s: %w", videoID, err)
		}
		if v.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("created_at of %s: %w", videoID, err)
		}
		v.VideoID = model.CandidateID(videoID)
		v.Source = model.Source(source)
		v.Title = stringPtr(title)
		v.UserID = stringPtr(userID)
		v.Category = stringPtr(category)
		videos = append(videos, &v)
	}

	return videos, rows.Err()
}

func (s *SQLite) IsDuplicate(ctx context.Context, id model.CandidateID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE video_id = ?)`, string(id)).Scan(&exists)
	return exists, err
}

func (s *SQLite) GetVideo(ctx context.Context, id model.CandidateID) (*model.Video, error) {
	videos, err := s.queryVideos(ctx, `SELECT `+sqliteVideoColumns+` FROM videos WHERE video_id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, ErrNotFound
	}

	return videos[0], nil
}

func (s *SQLite) DeleteVideo(ctx context.Context, id model.CandidateID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE video_id = ?`, string(id))
	if err != nil {
		return err
	}
	return affected(res)
}

func (s *SQLite) TodaysVideoCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count FROM video_daily_counts WHERE date = date('now')`).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return count, err
}

func (s *SQLite) LastFetchTime(ctx context.Context) (*time.Time, error) {
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM videos WHERE user_id IS NULL`).Scan(&last); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, last.String)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func (s *SQLite) SetDailyCount(ctx context.Context, date time.Time, count int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO video_daily_counts (date, count) VALUES (?, ?)
ON CONFLICT (date) DO UPDATE SET count = excluded.count`, date.UTC().Format(dateLayout), count)
	return err
}

func (s *SQLite) ReserveDaily(ctx context.Context, date time.Time, want, ceiling int) (int, int, error) {
	day := date.UTC().Format(dateLayout)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO video_daily_counts (date, count) VALUES (?, 0)
ON CONFLICT (date) DO NOTHING`, day); err != nil {
		return 0, 0, err
	}
	var current int
	if err := tx.QueryRowContext(ctx, `SELECT count FROM video_daily_counts WHERE date = ?`, day).Scan(&current); err != nil {
		return 0, 0, err
	}
	granted := grant(current, want, ceiling)
	if granted > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE video_daily_counts SET count = count + ? WHERE date = ?`, granted, day); err != nil {
			return 0, 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	return granted, current + granted, nil
}

func (s *SQLite) ReleaseDaily(ctx context.Context, date time.Time, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE video_daily_counts SET count = MAX(count - ?, 0) WHERE date = ?`,
		n, date.UTC().Format(dateLayout))
	return err
}

func (s *SQLite) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = ? AND role = 'admin')`, userID).Scan(&exists)
	return exists, err
}

func (s *SQLite) GrantAdmin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_roles (user_id, role) VALUES (?, 'admin')
ON CONFLICT DO NOTHING`, userID)
	return err
}
