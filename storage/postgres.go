package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ewintr.nl/vidfeed/model"
	"github.com/lib/pq"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) (*Postgres, error) {
	p := &Postgres{db: db}
	m := migrator{
		db: db,
		create: `CREATE TABLE IF NOT EXISTS migration
("id" SERIAL PRIMARY KEY, "query" TEXT)`,
		insert: `INSERT INTO migration (query) VALUES ($1)`,
	}
	if err := m.migrate(pgMigration); err != nil {
		return &Postgres{}, err
	}

	return p, nil
}

// OpenPostgres connects with a lib/pq connection string.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return &Postgres{}, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return &Postgres{}, fmt.Errorf("could not connect: %w", err)
	}
	p, err := NewPostgres(db)
	if err != nil {
		db.Close()
		return &Postgres{}, err
	}

	return p, nil
}

var pgMigration = []string{
	`CREATE TABLE source_types (
id SERIAL PRIMARY KEY,
source_name VARCHAR(50) NOT NULL UNIQUE
)`,
	`INSERT INTO source_types (source_name) VALUES
('Youtube'), ('Vimeo'), ('Dailymotion'), ('Facebook')`,
	`CREATE TABLE videos (
id SERIAL PRIMARY KEY,
video_id VARCHAR(255) NOT NULL UNIQUE,
title TEXT,
source VARCHAR(50) NOT NULL REFERENCES source_types(source_name),
tags TEXT[] NOT NULL DEFAULT '{}',
user_id VARCHAR(255),
category VARCHAR(50),
view_count INTEGER NOT NULL DEFAULT 0,
created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX videos_created_at_idx ON videos (created_at DESC)`,
	`CREATE TABLE video_daily_counts (
date DATE PRIMARY KEY,
count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0)
)`,
	`CREATE TABLE user_roles (
user_id VARCHAR(255) NOT NULL,
role VARCHAR(50) NOT NULL,
PRIMARY KEY (user_id, role)
)`,
}

const pgVideoColumns = `id, video_id, title, source, tags, user_id, category, view_count, created_at`

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) VideoIDs(ctx context.Context) (map[model.CandidateID]struct{}, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT video_id FROM videos`)
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

func (p *Postgres) InsertVideo(ctx context.Context, video *model.Video) error {
	if err := validate(video); err != nil {
		return err
	}
	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}
	createdAt := video.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO videos (video_id, title, source, tags, user_id, category, view_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`
	err := p.db.QueryRowContext(ctx, query,
		string(video.VideoID),
		nullString(video.Title),
		string(video.Source),
		pq.Array(tags),
		nullString(video.UserID),
		nullString(video.Category),
		video.ViewCount,
		createdAt.UTC(),
	).Scan(&video.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, video.VideoID)
	}

	return err
}

func (p *Postgres) ListVideos(ctx context.Context, limit int) ([]*model.Video, error) {
	query := `SELECT ` + pgVideoColumns + ` FROM videos ORDER BY created_at DESC, id DESC LIMIT $1`
	return p.queryVideos(ctx, query, limit)
}

func (p *Postgres) SearchVideos(ctx context.Context, q string, limit int) ([]*model.Video, error) {
	query := `SELECT ` + pgVideoColumns + ` FROM videos
WHERE title ILIKE $1
ORDER BY created_at DESC, id DESC LIMIT $2`
	return p.queryVideos(ctx, query, likePattern(q), limit)
}

func (p *Postgres) queryVideos(ctx context.Context, query string, args ...any) ([]*model.Video, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	videos := []*model.Video{}
	for rows.Next() {
		var (
			v                       model.Video
			videoID, source         string
			title, userID, category sql.NullString
			tags                    []string
		)
		if err := rows.Scan(&v.ID, &videoID, &title, &source, pq.Array(&tags), &userID, &category, &v.ViewCount, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.VideoID = model.CandidateID(videoID)
		v.Source = model.Source(source)
		v.Title = stringPtr(title)
		v.UserID = stringPtr(userID)
		v.Category = stringPtr(category)
		v.Tags = tags
		v.CreatedAt = v.CreatedAt.UTC()
		videos = append(videos, &v)
	}

	return videos, rows.Err()
}

func (p *Postgres) IsDuplicate(ctx context.Context, id model.CandidateID) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE video_id = $1)`, string(id)).Scan(&exists)
	return exists, err
}

func (p *Postgres) GetVideo(ctx context.Context, id model.CandidateID) (*model.Video, error) {
	videos, err := p.queryVideos(ctx, `SELECT `+pgVideoColumns+` FROM videos WHERE video_id = $1`, string(id))
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, ErrNotFound
	}

	return videos[0], nil
}

func (p *Postgres) DeleteVideo(ctx context.Context, id model.CandidateID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM videos WHERE video_id = $1`, string(id))
	if err != nil {
		return err
	}
	return affected(res)
}

func (p *Postgres) TodaysVideoCount(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `SELECT count FROM video_daily_counts
WHERE date = (now() AT TIME ZONE 'UTC')::date`).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return count, err
}

func (p *Postgres) LastFetchTime(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM videos WHERE user_id IS NULL`).Scan(&last); err != nil {
		return nil, err
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()

	return &t, nil
}

func (p *Postgres) SetDailyCount(ctx context.Context, date time.Time, count int) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO video_daily_counts (date, count) VALUES ($1, $2)
ON CONFLICT (date) DO UPDATE SET count = EXCLUDED.count`, date.UTC().Format(dateLayout), count)
	return err
}

func (p *Postgres) ReserveDaily(ctx context.Context, date time.Time, want, ceiling int) (int, int, error) {
	day := date.UTC().Format(dateLayout)
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO video_daily_counts (date, count) VALUES ($1, 0)
ON CONFLICT (date) DO NOTHING`, day); err != nil {
		return 0, 0, err
	}
	var current int
	if err := tx.QueryRowContext(ctx, `SELECT count FROM video_daily_counts WHERE date = $1 FOR UPDATE`, day).Scan(&current); err != nil {
		return 0, 0, err
	}
	granted := grant(current, want, ceiling)
	if granted > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE video_daily_counts SET count = count + $2 WHERE date = $1`, day, granted); err != nil {
			return 0, 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}

	return granted, current + granted, nil
}

func (p *Postgres) ReleaseDaily(ctx context.Context, date time.Time, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `UPDATE video_daily_counts SET count = GREATEST(count - $2, 0)
WHERE date = $1`, date.UTC().Format(dateLayout), n)
	return err
}

func (p *Postgres) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = 'admin')`, userID).Scan(&exists)
	return exists, err
}

func (p *Postgres) GrantAdmin(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, 'admin')
ON CONFLICT DO NOTHING`, userID)
	return err
}

type PostgresInfo struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

func (pi PostgresInfo) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", pi.Host, pi.Port, pi.User, pi.Password, pi.Database)
}
