package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ewintr.nl/vidfeed/model"
)

// Memory is a Store that keeps everything in process. It is used for dry
// runs and tests.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	videos []*model.Video
	daily  map[string]int
	admins map[string]bool
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:    now,
		daily:  map[string]int{},
		admins: map[string]bool{},
	}
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) VideoIDs(_ context.Context) (map[model.CandidateID]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[model.CandidateID]struct{}, len(m.videos))
	for _, v := range m.videos {
		ids[v.VideoID] = struct{}{}
	}

	return ids, nil
}

func (m *Memory) InsertVideo(_ context.Context, video *model.Video) error {
	if err := validate(video); err != nil {
		return err
	}
	if !video.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalid, video.Source)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.videos {
		if v.VideoID == video.VideoID {
			return fmt.Errorf("%w: %s", ErrDuplicate, video.VideoID)
		}
	}
	m.nextID++
	video.ID = m.nextID
	if video.CreatedAt.IsZero() {
		video.CreatedAt = m.now()
	}
	stored := *video
	stored.CreatedAt = stored.CreatedAt.UTC()
	stored.Tags = append([]string{}, video.Tags...)
	m.videos = append(m.videos, &stored)

	return nil
}

func (m *Memory) ListVideos(_ context.Context, limit int) ([]*model.Video, error) {
	return m.filter(func(*model.Video) bool { return true }, limit), nil
}

func (m *Memory) SearchVideos(_ context.Context, query string, limit int) ([]*model.Video, error) {
	query = strings.ToLower(query)
	return m.filter(func(v *model.Video) bool {
		return v.Title != nil && strings.Contains(strings.ToLower(*v.Title), query)
	}, limit), nil
}

func (m *Memory) filter(keep func(*model.Video) bool, limit int) []*model.Video {
	m.mu.Lock()
	defer m.mu.Unlock()

	videos := []*model.Video{}
	for _, v := range m.videos {
		if keep(v) {
			c := *v
			c.Tags = append([]string{}, v.Tags...)
			videos = append(videos, &c)
		}
	}
	sort.SliceStable(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		}
		return videos[i].ID > videos[j].ID
	})
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}

	return videos
}

func (m *Memory) IsDuplicate(_ context.Context, id model.CandidateID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.videos {
		if v.VideoID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) GetVideo(_ context.Context, id model.CandidateID) (*model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.videos {
		if v.VideoID == id {
			c := *v
			c.Tags = append([]string{}, v.Tags...)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteVideo(_ context.Context, id model.CandidateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, v := range m.videos {
		if v.VideoID == id {
			m.videos = append(m.videos[:i], m.videos[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) TodaysVideoCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.daily[m.now().UTC().Format(dateLayout)], nil
}

func (m *Memory) LastFetchTime(_ context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last *time.Time
	for _, v := range m.videos {
		if v.UserID != nil {
			continue
		}
		if last == nil || v.CreatedAt.After(*last) {
			t := v.CreatedAt
			last = &t
		}
	}

	return last, nil
}

func (m *Memory) SetDailyCount(_ context.Context, date time.Time, count int) error {
	if count < 0 {
		return fmt.Errorf("negative count %d", count)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.daily[date.UTC().Format(dateLayout)] = count
	return nil
}

func (m *Memory) ReserveDaily(_ context.Context, date time.Time, want, ceiling int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := date.UTC().Format(dateLayout)
	granted := grant(m.daily[day], want, ceiling)
	m.daily[day] += granted

	return granted, m.daily[day], nil
}

func (m *Memory) ReleaseDaily(_ context.Context, date time.Time, n int) error {
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	day := date.UTC().Format(dateLayout)
	m.daily[day] -= n
	if m.daily[day] < 0 {
		m.daily[day] = 0
	}

	return nil
}

func (m *Memory) IsAdmin(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.admins[userID], nil
}

func (m *Memory) GrantAdmin(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.admins[userID] = true
	return nil
}
