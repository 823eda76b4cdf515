package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ewintr.nl/vidfeed/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func testStores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": openTestSQLite(t),
		"memory": NewMemory(time.Now),
	}
}

func newVideo(id string, source model.Source, title string, createdAt time.Time) *model.Video {
	return &model.Video{
		VideoID:   model.CandidateID(id),
		Title:     ptr(title),
		Source:    source,
		Tags:      []string{"firearm", "training"},
		CreatedAt: createdAt,
	}
}

func TestInsertAndList(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := newVideo("youtube:aaa", model.SourceYoutube, "Range safety", base)
			second := newVideo("vimeo:1", model.SourceVimeo, "Cleaning a rifle", base.Add(time.Hour))
			require.NoError(t, store.InsertVideo(ctx, first))
			require.NoError(t, store.InsertVideo(ctx, second))
			assert.NotZero(t, first.ID)
			assert.NotEqual(t, first.ID, second.ID)

			videos, err := store.ListVideos(ctx, 10)
			require.NoError(t, err)
			require.Len(t, videos, 2)
			assert.Equal(t, model.CandidateID("vimeo:1"), videos[0].VideoID)
			assert.Equal(t, model.CandidateID("youtube:aaa"), videos[1].VideoID)
			assert.Equal(t, []string{"firearm", "training"}, videos[1].Tags)
			assert.Equal(t, "Range safety", *videos[1].Title)
			assert.True(t, base.Equal(videos[1].CreatedAt))
			assert.Nil(t, videos[1].UserID)

			limited, err := store.ListVideos(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			ids, err := store.VideoIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[model.CandidateID]struct{}{"youtube:aaa": {}, "vimeo:1": {}}, ids)
		})
	}
}

func TestInsertDuplicate(t *testing.T) {
	now := time.Now()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.InsertVideo(ctx, newVideo("youtube:dup", model.SourceYoutube, "One", now)))
			err := store.InsertVideo(ctx, newVideo("youtube:dup", model.SourceYoutube, "Two", now))
			assert.ErrorIs(t, err, ErrDuplicate)

			dup, err := store.IsDuplicate(ctx, "youtube:dup")
			require.NoError(t, err)
			assert.True(t, dup)
			dup, err = store.IsDuplicate(ctx, "youtube:other")
			require.NoError(t, err)
			assert.False(t, dup)
		})
	}
}

func TestInsertRejected(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.Error(t, store.InsertVideo(ctx, newVideo("tiktok:1", model.Source("TikTok"), "x", time.Now())))
			assert.ErrorIs(t, store.InsertVideo(ctx, newVideo("", model.SourceYoutube, "x", time.Now())), ErrInvalid)

			ids, err := store.VideoIDs(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestNilTitleAndUser(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			v := &model.Video{VideoID: "facebook:9", Source: model.SourceFacebook, UserID: ptr("u1"), Category: ptr("general"), CreatedAt: time.Now()}
			require.NoError(t, store.InsertVideo(ctx, v))

			videos, err := store.ListVideos(ctx, 10)
			require.NoError(t, err)
			require.Len(t, videos, 1)
			assert.Nil(t, videos[0].Title)
			assert.Equal(t, "u1", *videos[0].UserID)
			assert.Equal(t, "general", *videos[0].Category)
			assert.Empty(t, videos[0].Tags)
		})
	}
}

func TestGetAndDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			v := newVideo("youtube:gone", model.SourceYoutube, "Going away", time.Now())
			v.UserID = ptr("owner")
			require.NoError(t, store.InsertVideo(ctx, v))

			got, err := store.GetVideo(ctx, "youtube:gone")
			require.NoError(t, err)
			assert.Equal(t, v.ID, got.ID)
			assert.Equal(t, "owner", *got.UserID)

			require.NoError(t, store.DeleteVideo(ctx, "youtube:gone"))
			_, err = store.GetVideo(ctx, "youtube:gone")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.DeleteVideo(ctx, "youtube:gone"), ErrNotFound)
		})
	}
}

func TestSearchVideos(t *testing.T) {
	now := time.Now()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.InsertVideo(ctx, newVideo("youtube:a", model.SourceYoutube, "Gun Safety basics", now)))
			require.NoError(t, store.InsertVideo(ctx, newVideo("youtube:b", model.SourceYoutube, "Marksmanship 100%", now.Add(time.Second))))
			require.NoError(t, store.InsertVideo(ctx, newVideo("youtube:c", model.SourceYoutube, "Holster draw", now.Add(2*time.Second))))

			found, err := store.SearchVideos(ctx, "safety", 10)
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, model.CandidateID("youtube:a"), found[0].VideoID)

			found, err = store.SearchVideos(ctx, "100%", 10)
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, model.CandidateID("youtube:b"), found[0].VideoID)

			found, err = store.SearchVideos(ctx, "%", 10)
			require.NoError(t, err)
			assert.Len(t, found, 1)

			found, err = store.SearchVideos(ctx, "nothing here", 10)
			require.NoError(t, err)
			assert.Empty(t, found)
		})
	}
}

func TestDailyCounts(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			today := time.Now().UTC()

			count, err := store.TodaysVideoCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			require.NoError(t, store.SetDailyCount(ctx, today, 2))
			require.NoError(t, store.SetDailyCount(ctx, today, 3))
			require.NoError(t, store.SetDailyCount(ctx, today.AddDate(0, 0, -1), 5))
			count, err = store.TodaysVideoCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			granted, total, err := store.ReserveDaily(ctx, today, 4, 5)
			require.NoError(t, err)
			assert.Equal(t, 2, granted)
			assert.Equal(t, 5, total)

			granted, total, err = store.ReserveDaily(ctx, today, 1, 5)
			require.NoError(t, err)
			assert.Equal(t, 0, granted)
			assert.Equal(t, 5, total)

			require.NoError(t, store.ReleaseDaily(ctx, today, 1))
			count, err = store.TodaysVideoCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, count)

			require.NoError(t, store.ReleaseDaily(ctx, today, 10))
			count, err = store.TodaysVideoCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestReserveConcurrent(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			today := time.Now().UTC()

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				total int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					granted, _, err := store.ReserveDaily(ctx, today, 2, 5)
					assert.NoError(t, err)
					mu.Lock()
					total += granted
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Equal(t, 5, total)
			count, err := store.TodaysVideoCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, count)
		})
	}
}

func TestLastFetchTime(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			last, err := store.LastFetchTime(ctx)
			require.NoError(t, err)
			assert.Nil(t, last)

			require.NoError(t, store.InsertVideo(ctx, newVideo("youtube:1", model.SourceYoutube, "a", base)))
			require.NoError(t, store.InsertVideo(ctx, newVideo("youtube:2", model.SourceYoutube, "b", base.Add(time.Minute))))
			manual := newVideo("youtube:3", model.SourceYoutube, "c", base.Add(time.Hour))
			manual.UserID = ptr("someone")
			require.NoError(t, store.InsertVideo(ctx, manual))

			last, err = store.LastFetchTime(ctx)
			require.NoError(t, err)
			require.NotNil(t, last)
			assert.True(t, base.Add(time.Minute).Equal(*last))
		})
	}
}

func TestRoles(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			admin, err := store.IsAdmin(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, admin)

			require.NoError(t, store.GrantAdmin(ctx, "u1"))
			require.NoError(t, store.GrantAdmin(ctx, "u1"))
			admin, err = store.IsAdmin(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, admin)
		})
	}
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "vidfeed.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.InsertVideo(context.Background(), newVideo("youtube:keep", model.SourceYoutube, "kept", time.Now())))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	dup, err := db.IsDuplicate(context.Background(), "youtube:keep")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestCompareMigrations(t *testing.T) {
	for _, tc := range []struct {
		name     string
		wanted   []string
		existing []string
		exp      []string
		expErr   bool
	}{
		{
			name:   "empty",
			wanted: []string{},
			exp:    []string{},
		},
		{
			name:   "all new",
			wanted: []string{"one", "two"},
			exp:    []string{"one", "two"},
		},
		{
			name:     "some new",
			wanted:   []string{"one", "two", "three"},
			existing: []string{"one"},
			exp:      []string{"two", "three"},
		},
		{
			name:     "up to date",
			wanted:   []string{"one"},
			existing: []string{"one"},
			exp:      []string{},
		},
		{
			name:     "changed",
			wanted:   []string{"one", "two"},
			existing: []string{"uno"},
			expErr:   true,
		},
		{
			name:     "missing",
			wanted:   []string{"one"},
			existing: []string{"one", "two"},
			expErr:   true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			act, err := compareMigrations(tc.wanted, tc.existing)
			if tc.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, act)
		})
	}
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%gun%`, likePattern("gun"))
	assert.Equal(t, `%100\%%`, likePattern("100%"))
	assert.Equal(t, `%a\_b%`, likePattern("a_b"))
}
