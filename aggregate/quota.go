package aggregate

import (
	"context"
	"time"

	"ewintr.nl/vidfeed/storage"
)

// QuotaTracker enforces the maximum number of aggregated videos per UTC
// calendar day. The day itself is determined by the store.
type QuotaTracker struct {
	store   storage.QuotaStore
	ceiling int
}

func NewQuotaTracker(store storage.QuotaStore, ceiling int) *QuotaTracker {
	return &QuotaTracker{store: store, ceiling: ceiling}
}

func (q *QuotaTracker) Ceiling() int {
	return q.ceiling
}

func (q *QuotaTracker) TodayCount(ctx context.Context) (int, error) {
	return q.store.TodaysVideoCount(ctx)
}

func (q *QuotaTracker) LastFetchTime(ctx context.Context) (*time.Time, error) {
	return q.store.LastFetchTime(ctx)
}

// Record sets the count of date to total.
func (q *QuotaTracker) Record(ctx context.Context, date time.Time, total int) error {
	return q.store.SetDailyCount(ctx, date, total)
}

func (q *QuotaTracker) Remaining(todayCount int) int {
	if r := q.ceiling - todayCount; r > 0 {
		return r
	}
	return 0
}

// Reserve claims up to want slots of the quota of date in one store
// operation. It returns the granted number of slots and the day's total
// including them.
func (q *QuotaTracker) Reserve(ctx context.Context, date time.Time, want int) (int, int, error) {
	return q.store.ReserveDaily(ctx, date, want, q.ceiling)
}

// Release returns n unused slots.
func (q *QuotaTracker) Release(ctx context.Context, date time.Time, n int) error {
	return q.store.ReleaseDaily(ctx, date, n)
}

// NextReset is the start of the UTC day after now.
func NextReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
