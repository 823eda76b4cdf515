package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ewintr.nl/vidfeed/model"
)

var (
	ErrDuplicate = errors.New("video already exists")
	ErrInvalid   = errors.New("invalid video")
	ErrNotFound  = errors.New("video not found")
)

const dateLayout = "2006-01-02"

type CatalogStore interface {
	// VideoIDs returns the ids of all videos in the catalog.
	VideoIDs(ctx context.Context) (map[model.CandidateID]struct{}, error)
	// InsertVideo stores video and sets its ID. An existing video id gives
	// ErrDuplicate.
	InsertVideo(ctx context.Context, video *model.Video) error
	ListVideos(ctx context.Context, limit int) ([]*model.Video, error)
	SearchVideos(ctx context.Context, query string, limit int) ([]*model.Video, error)
	IsDuplicate(ctx context.Context, id model.CandidateID) (bool, error)
	GetVideo(ctx context.Context, id model.CandidateID) (*model.Video, error)
	DeleteVideo(ctx context.Context, id model.CandidateID) error
}

// QuotaStore keeps the number of aggregated videos per UTC calendar day.
type QuotaStore interface {
	TodaysVideoCount(ctx context.Context) (int, error)
	// LastFetchTime is the creation time of the newest aggregated video, nil
	// if there is none.
	LastFetchTime(ctx context.Context) (*time.Time, error)
	SetDailyCount(ctx context.Context, date time.Time, count int) error
	// ReserveDaily atomically adds up to want to the count of date without
	// exceeding ceiling. It returns the number of slots granted and the new
	// count.
	ReserveDaily(ctx context.Context, date time.Time, want, ceiling int) (int, int, error)
	ReleaseDaily(ctx context.Context, date time.Time, n int) error
}

type RoleStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	GrantAdmin(ctx context.Context, userID string) error
}

type Store interface {
	CatalogStore
	QuotaStore
	RoleStore
	Close() error
}

func validate(video *model.Video) error {
	switch {
	case video == nil:
		return ErrInvalid
	case video.VideoID == "":
		return errors.Join(ErrInvalid, errors.New("empty video id"))
	}
	return nil
}

func grant(current, want, ceiling int) int {
	free := ceiling - current
	if free < 0 {
		free = 0
	}
	if want < free {
		return want
	}
	return free
}

// likePattern escapes the LIKE wildcards in q and wraps it in %.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
