package aggregate

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// Scheduler runs an aggregation every interval until its context is done.
type Scheduler struct {
	aggregator *Aggregator
	interval   time.Duration
	logger     *slog.Logger
}

func NewScheduler(aggregator *Aggregator, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		aggregator: aggregator,
		interval:   interval,
		logger:     logger,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("started scheduled aggregation", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped scheduled aggregation")
			return
		case <-ticker.C:
			out := s.aggregator.RunAs(ctx, "scheduler")
			s.logger.Info("scheduled aggregation done", slog.String("reason", string(out.Reason)), slog.Int("count", out.Count), slog.Int("dailyTotal", out.DailyTotal))
		}
	}
}
