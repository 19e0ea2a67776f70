package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs the planner for due campaigns on a fixed interval.
type Scheduler struct {
	planner  *Planner
	interval time.Duration
	log      zerolog.Logger

	// one pass at a time, whether from the ticker or an on-demand trigger
	mu sync.Mutex
}

func NewScheduler(planner *Planner, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		planner:  planner,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Msgf("starting scheduler with interval %v", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("failed to process due campaigns")
			}
		case <-ctx.Done():
			s.log.Info().Msg("stopping scheduler")
			return
		}
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) (*DueSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planner.ProcessDue(ctx)
}
