package aggregate

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"ewintr.nl/vidfeed/auth"
	"ewintr.nl/vidfeed/fetcher"
	"ewintr.nl/vidfeed/model"
	"ewintr.nl/vidfeed/storage"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Keywords      []string
	MaxRounds     int
	MinCandidates int
	RequireAdmin  bool
}

type Aggregator struct {
	conf      Config
	providers []fetcher.Provider
	catalog   storage.CatalogStore
	roles     storage.RoleStore
	quota     *QuotaTracker
	resolver  auth.Resolver
	logger    *slog.Logger

	now   func() time.Time
	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewAggregator(conf Config, providers []fetcher.Provider, store storage.Store, quota *QuotaTracker, resolver auth.Resolver, logger *slog.Logger) *Aggregator {
	if conf.MaxRounds <= 0 {
		conf.MaxRounds = 1
	}
	return &Aggregator{
		conf:      conf,
		providers: providers,
		catalog:   store,
		roles:     store,
		quota:     quota,
		resolver:  resolver,
		logger:    logger,
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run performs one complete aggregation on behalf of the owner of token.
func (a *Aggregator) Run(ctx context.Context, token string) Outcome {
	logger := a.logger.With(slog.String("run", uuid.New().String()))

	if token == "" {
		logger.Warn("no token")
		return Outcome{Reason: ReasonUnauthorized, Message: MessageMissingToken}
	}
	userID, err := a.resolver.Resolve(ctx, token)
	if err != nil {
		logger.Warn("could not resolve token", slog.String("err", err.Error()))
		return Outcome{Reason: ReasonUnauthorized, Message: MessageInvalidToken, Err: err}
	}
	logger = logger.With(slog.String("user", userID))
	if a.conf.RequireAdmin {
		isAdmin, err := a.roles.IsAdmin(ctx, userID)
		if err != nil {
			return a.internal(logger, "could not check role", err)
		}
		if !isAdmin {
			logger.Warn("user is not an admin")
			return Outcome{Reason: ReasonForbidden, Message: MessageForbidden}
		}
	}

	return a.run(ctx, logger)
}

// RunAs performs an aggregation for a trusted caller, without token or role
// checks.
func (a *Aggregator) RunAs(ctx context.Context, caller string) Outcome {
	logger := a.logger.With(slog.String("run", uuid.New().String()), slog.String("user", caller))
	return a.run(ctx, logger)
}

func (a *Aggregator) run(ctx context.Context, logger *slog.Logger) Outcome {
	todayCount, err := a.quota.TodayCount(ctx)
	if err != nil {
		return a.internal(logger, "could not read today's count", err)
	}
	remaining := a.quota.Remaining(todayCount)
	if remaining == 0 {
		logger.Info("daily limit reached", slog.Int("today", todayCount))
		return Outcome{Reason: ReasonQuotaExceeded, Message: MessageQuotaExceeded, DailyTotal: todayCount}
	}

	candidates := a.fetch(ctx, logger)
	if len(candidates) == 0 {
		logger.Warn("no videos from any provider")
		return Outcome{Reason: ReasonNoSources, Message: MessageNoSources}
	}

	existing, err := a.catalog.VideoIDs(ctx)
	if err != nil {
		return a.internal(logger, "could not load existing video ids", err)
	}
	unique := Dedup(candidates, existing)
	logger.Info("deduplicated", slog.Int("fetched", len(candidates)), slog.Int("unique", len(unique)))
	if len(unique) == 0 {
		return Outcome{Reason: ReasonNoNewVideos, Message: MessageNoNewVideos}
	}

	a.shuffle(unique)
	want := len(unique)
	if want > remaining {
		want = remaining
	}

	now := a.now().UTC()
	reserved := true
	granted, total, err := a.quota.Reserve(ctx, now, want)
	switch {
	case err != nil:
		logger.Error("could not reserve quota, falling back to recording afterwards", slog.String("err", err.Error()))
		reserved = false
		granted = want
	case granted == 0:
		logger.Info("quota taken by a concurrent run")
		return Outcome{Reason: ReasonQuotaExceeded, Message: MessageQuotaExceeded, DailyTotal: total}
	}

	success := a.persist(ctx, logger, unique[:granted])

	var dailyTotal int
	if reserved {
		unused := granted - success
		dailyTotal = total - unused
		if unused > 0 {
			if err := a.quota.Release(ctx, now, unused); err != nil {
				logger.Error("could not release unused quota", slog.Int("unused", unused), slog.String("err", err.Error()))
			}
		}
	} else {
		dailyTotal = todayCount + success
		if success > 0 {
			if err := a.quota.Record(ctx, now, dailyTotal); err != nil {
				logger.Error("could not record daily count", slog.Int("total", dailyTotal), slog.String("err", err.Error()))
			}
		}
	}

	if success == 0 {
		logger.Error("no video could be inserted", slog.Int("attempted", granted))
		return Outcome{Reason: ReasonAllInsertsFailed, Message: MessageAllInsertsFailed}
	}

	lastFetch, err := a.quota.LastFetchTime(ctx)
	if err != nil {
		logger.Error("could not read last fetch time", slog.String("err", err.Error()))
		lastFetch = nil
	}
	var next *time.Time
	if dailyTotal >= a.quota.Ceiling() {
		reset := NextReset(now)
		next = &reset
	}
	logger.Info("aggregation complete", slog.Int("count", success), slog.Int("dailyTotal", dailyTotal))

	return Outcome{
		Reason:             ReasonCompleted,
		Count:              success,
		DailyTotal:         dailyTotal,
		LastFetchTime:      lastFetch,
		NextFetchAvailable: next,
	}
}

// fetch runs all providers in parallel, repeating the round until enough
// candidates are collected or the maximum number of rounds is reached.
func (a *Aggregator) fetch(ctx context.Context, logger *slog.Logger) []model.Candidate {
	all := []model.Candidate{}
	for round := 1; round <= a.conf.MaxRounds; round++ {
		results := make([][]model.Candidate, len(a.providers))
		g, gctx := errgroup.WithContext(ctx)
		for i, p := range a.providers {
			i, p := i, p
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("provider panicked", slog.String("provider", string(p.Name())), slog.Any("panic", r))
						results[i] = nil
					}
				}()
				results[i] = p.Fetch(gctx, a.conf.Keywords)
				return nil
			})
		}
		g.Wait()

		count := 0
		for _, r := range results {
			all = append(all, r...)
			count += len(r)
		}
		logger.Info("fetch round done", slog.Int("round", round), slog.Int("fetched", count), slog.Int("total", len(all)))
		if len(all) >= a.conf.MinCandidates || ctx.Err() != nil {
			break
		}
	}

	return all
}

func (a *Aggregator) persist(ctx context.Context, logger *slog.Logger, candidates []model.Candidate) int {
	success := 0
	for _, c := range candidates {
		if err := a.catalog.InsertVideo(ctx, c.Video()); err != nil {
			logger.Error("could not insert video", slog.String("video", string(c.ID)), slog.String("err", err.Error()))
			continue
		}
		success++
	}

	return success
}

func (a *Aggregator) shuffle(candidates []model.Candidate) {
	a.rndMu.Lock()
	defer a.rndMu.Unlock()

	a.rnd.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
}

func (a *Aggregator) internal(logger *slog.Logger, msg string, err error) Outcome {
	logger.Error(msg, slog.String("err", err.Error()))
	return Outcome{Reason: ReasonInternal, Message: fmt.Sprintf("%s: %v", msg, err), Err: err}
}
