package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/services/forge"
)

// Service runs the periodic maintenance sweeps on a cron schedule: job
// expiry and stale-running cancellation. Crash recovery runs exactly once at
// startup, before the cron loop begins, so jobs orphaned by a prior process
// crash are reclassified before anything else reads them.
type Service struct {
	cfg     *common.SchedulerConfig
	sweeper *forge.Sweeper
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a new scheduler service
func NewService(cfg *common.SchedulerConfig, sweeper *forge.Sweeper, logger arbor.ILogger) *Service {
	return &Service{
		cfg:     cfg,
		sweeper: sweeper,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start runs crash recovery once, then begins the periodic sweep loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	recovered, err := s.sweeper.RecoverInterruptedJobs(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Crash recovery sweep failed at startup")
	} else if recovered > 0 {
		s.logger.Info().Int("recovered", recovered).Msg("Crash recovery sweep completed")
	}

	if !s.cfg.Enabled {
		s.logger.Info().Msg("Scheduler disabled - periodic sweeps will not run")
		return nil
	}

	schedule := s.cfg.SweepSchedule
	if schedule == "" {
		schedule = "*/1 * * * *"
	}

	if _, err := s.cron.AddFunc(schedule, s.runSweeps); err != nil {
		return fmt.Errorf("failed to add sweep cron job: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Msg("Scheduler started")

	return nil
}

// runSweeps executes one maintenance pass. Each sweep is independent; a
// failure in one never blocks the other.
func (s *Service) runSweeps() {
	ctx := context.Background()

	if _, err := s.sweeper.ExpireJobs(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Expiry sweep failed")
	}
	if _, err := s.sweeper.CancelStaleJobs(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Stale job sweep failed")
	}
}

// Stop halts the periodic sweep loop, waiting for an in-flight sweep to
// finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
}
