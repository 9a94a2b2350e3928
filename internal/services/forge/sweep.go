// -----------------------------------------------------------------------
// Recovery Sweeps - expiry, stale cancellation, crash recovery
// -----------------------------------------------------------------------

package forge

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

// Sweeper runs the periodic maintenance passes over the job store. Every
// sweep is idempotent: a second run over the same state changes nothing.
type Sweeper struct {
	cfg     *common.ForgeConfig
	storage interfaces.JobStorage
	events  interfaces.EventService
	logger  arbor.ILogger
}

// NewSweeper creates the maintenance sweeper.
func NewSweeper(cfg *common.ForgeConfig, storage interfaces.JobStorage, events interfaces.EventService, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		storage: storage,
		events:  events,
		logger:  logger,
	}
}

// ExpireJobs removes jobs whose retention window has passed, freeing their
// storage and evicting them from the completed-job cache.
func (s *Sweeper) ExpireJobs(ctx context.Context) (int, error) {
	removed, err := s.storage.DeleteExpiredJobs(ctx, time.Now().UTC())
	if err != nil {
		return removed, fmt.Errorf("expiry sweep failed: %w", err)
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Expired jobs removed")
		s.publishSweep("expiry", removed)
	}
	return removed, nil
}

// CancelStaleJobs transitions running jobs that exceeded the maximum runtime
// to the timeout state. This is the backstop for executor deadlines that
// never fired, so the runtime bound holds even across executor bugs.
func (s *Sweeper) CancelStaleJobs(ctx context.Context) (int, error) {
	running, err := s.storage.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("stale sweep failed: %w", err)
	}

	now := time.Now().UTC()
	cancelled := 0
	for _, job := range running {
		if job.Runtime(now) <= s.cfg.MaxRuntime {
			continue
		}
		job.MarkTimeout(fmt.Sprintf("exceeded maximum runtime of %s", s.cfg.MaxRuntime))
		if err := s.storage.SaveJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to cancel stale job")
			continue
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Dur("runtime", job.Runtime(now)).
			Msg("Stale running job cancelled")
		cancelled++
	}

	if cancelled > 0 {
		s.publishSweep("stale", cancelled)
	}
	return cancelled, nil
}

// RecoverInterruptedJobs reclassifies jobs left running by a prior process
// crash. It runs once at startup; the grace period spares jobs that a live
// executor may still legitimately own.
func (s *Sweeper) RecoverInterruptedJobs(ctx context.Context) (int, error) {
	running, err := s.storage.GetJobsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("crash recovery sweep failed: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.RecoveryGrace)
	recovered := 0
	for _, job := range running {
		if job.StartedAt == nil || job.StartedAt.After(cutoff) {
			continue
		}
		job.MarkFailed(models.SyntheticFailure(models.CategoryInterrupted,
			"execution interrupted by engine restart"))
		if err := s.storage.SaveJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to reclassify interrupted job")
			continue
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Msg("Interrupted job reclassified as failed")
		recovered++
	}

	if recovered > 0 {
		s.publishSweep("recovery", recovered)
	}
	return recovered, nil
}

func (s *Sweeper) publishSweep(name string, affected int) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventSweepRan,
		Payload: map[string]interface{}{
			"sweep":    name,
			"affected": affected,
		},
	}); err != nil {
		s.logger.Warn().Err(err).Str("sweep", name).Msg("Failed to publish sweep event")
	}
}
