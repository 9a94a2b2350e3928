// -----------------------------------------------------------------------
// Forge Service - job submission and the per-job state machine
// -----------------------------------------------------------------------

package forge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

// Service drives the job lifecycle: validate, hash, cache lookup, queue,
// detached execution, terminal transition. Execution is fully decoupled from
// the submitting request; Submit returns as soon as a job record exists.
type Service struct {
	cfg       *common.Config
	validator *Validator
	storage   interfaces.JobStorage
	runner    interfaces.SandboxRunner
	events    interfaces.EventService
	logger    arbor.ILogger
}

// NewService creates the forge job service.
func NewService(cfg *common.Config, storage interfaces.JobStorage, runner interfaces.SandboxRunner, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		cfg:       cfg,
		validator: NewValidator(&cfg.Forge, &cfg.Chains),
		storage:   storage,
		runner:    runner,
		events:    events,
		logger:    logger,
	}
}

// Submit validates a submission, short-circuits on a cache hit, and
// otherwise persists a queued job and hands it to asynchronous execution.
// The returned job is either the cached completed record or the new queued
// one; callers never block on execution.
func (s *Service) Submit(ctx context.Context, owner string, sub *models.JobSubmission) (*models.Job, error) {
	if !sub.Kind.Valid() {
		return nil, newValidationError(CodeInvalidKind, "unknown job kind: %s", sub.Kind)
	}
	if err := s.validator.Validate(sub); err != nil {
		return nil, err
	}

	inputHash := HashFiles(sub.Files)

	// Opportunistic cache: identical submissions racing before either
	// completes may both execute; that duplication is tolerated.
	cached, err := s.storage.FindCachedJob(ctx, inputHash, sub.Kind)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Cache lookup failed - executing anyway")
	}
	if cached != nil {
		s.logger.Info().
			Str("job_id", cached.ID).
			Str("input_hash", inputHash).
			Msg("Cache hit - returning prior completed job")
		return cached, nil
	}

	job := models.NewJob(owner, sub, inputHash, s.cfg.Forge.JobTTL)
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int("files", len(job.Files)).
		Msg("Job queued")

	s.publish(interfaces.EventJobCreated, job)

	common.SafeGo(s.logger, "forge.execute:"+job.ID, func() {
		s.Execute(context.Background(), job.ID)
	})

	return job, nil
}

// Execute runs one queued job to a terminal state. It races the sandbox
// invocation against the kind-specific wall-clock timeout; on timeout the
// container is killed, not merely abandoned.
func (s *Service) Execute(ctx context.Context, jobID string) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Cannot execute - job not found")
		return
	}
	if job.Status != models.JobStatusQueued {
		s.logger.Warn().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Skipping execution - job is not queued")
		return
	}

	job.MarkRunning()
	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job running")
		return
	}
	s.publish(interfaces.EventJobStarted, job)

	timeout := s.cfg.Forge.ExecutionTimeout(string(job.Kind))
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Output is persisted chunk by chunk as the tool produces it, so pollers
	// and stream watchers observe log growth while the job is still running.
	sink := newJobLogSink(ctx, s.storage, job.ID, s.cfg.Forge.MaxLogBytes, s.logger)
	spec := s.buildRunSpec(job, timeout)
	spec.Output = sink

	out, runErr := s.runner.Run(runCtx, spec)

	// A backend that never wrote to the sink still gets its output persisted.
	if out != nil && sink.written() == 0 && out.CombinedOutput != "" {
		if err := s.storage.AppendJobLog(ctx, job.ID, out.CombinedOutput, s.cfg.Forge.MaxLogBytes); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist output log")
		}
	}

	// Re-read before the terminal transition: the log grew through the sink,
	// and a maintenance sweep may have reclassified the job mid-run. A sweep's
	// terminal record is authoritative and is never overwritten here.
	if fresh, err := s.storage.GetJob(ctx, job.ID); err == nil {
		job = fresh
	}
	if job.IsTerminal() {
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Job reached a terminal state mid-run - keeping that record")
		return
	}

	if out != nil {
		job.Simulated = out.Simulated
		s.publish(interfaces.EventJobLog, job)
	}

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		job.MarkTimeout(fmt.Sprintf("execution timed out after %s", timeout))
		s.logger.Warn().
			Str("job_id", job.ID).
			Dur("timeout", timeout).
			Msg("Job timed out")

	case runErr != nil:
		// The sandbox itself could not run: an execution fault, reported
		// distinctly from user-code failures for operator triage.
		job.MarkFailed(models.SyntheticFailure(models.CategorySandbox, runErr.Error()))
		s.logger.Error().Err(runErr).Str("job_id", job.ID).Msg("Sandbox fault")

	default:
		result := ParseOutput(job.Kind, out.CombinedOutput)
		result.Success = result.Success && out.Success && result.TestsPassed()

		// Compile errors fail the job; a test run that completed its
		// analysis stays completed even when individual tests failed.
		if len(result.Errors) > 0 {
			job.MarkFailed(result)
		} else {
			job.MarkCompleted(result)
		}
	}

	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist terminal job state")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Dur("runtime", job.Runtime(time.Now())).
		Msg("Job finished")

	s.publish(interfaces.EventJobCompleted, job)
}

// buildRunSpec resolves the job into a sandbox invocation, narrowing network
// access to the single allow-listed endpoint when fork mode is requested.
func (s *Service) buildRunSpec(job *models.Job, timeout time.Duration) interfaces.RunSpec {
	spec := interfaces.RunSpec{
		JobID:      job.ID,
		Kind:       job.Kind,
		Files:      job.Files,
		TestMatch:  job.TestMatch,
		ScriptPath: job.ScriptPath,
		Timeout:    timeout,
	}
	if job.ForkConfig != nil {
		if url, ok := s.cfg.Chains.EndpointFor(job.ForkConfig.ChainID); ok {
			spec.ForkURL = url
			spec.ForkBlock = job.ForkConfig.BlockNumber
		}
	}
	return spec
}

// GetJob returns a job by ID, optionally scoped to an owner.
func (s *Service) GetJob(ctx context.Context, jobID, owner string) (*models.Job, error) {
	if owner != "" {
		return s.storage.GetJobForOwner(ctx, jobID, owner)
	}
	return s.storage.GetJob(ctx, jobID)
}

// ListJobs returns jobs matching the given options.
func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return s.storage.ListJobs(ctx, opts)
}

// jobLogSink appends sandbox output chunks to the job's stored log as they
// arrive. Writes never fail the tool run; a dropped chunk costs log fidelity,
// not the job.
type jobLogSink struct {
	ctx     context.Context
	storage interfaces.JobStorage
	jobID   string
	max     int
	logger  arbor.ILogger

	mu sync.Mutex
	n  int
}

func newJobLogSink(ctx context.Context, storage interfaces.JobStorage, jobID string, max int, logger arbor.ILogger) *jobLogSink {
	return &jobLogSink{
		ctx:     ctx,
		storage: storage,
		jobID:   jobID,
		max:     max,
		logger:  logger,
	}
}

func (w *jobLogSink) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.n += len(p)
	w.mu.Unlock()

	if err := w.storage.AppendJobLog(w.ctx, w.jobID, string(p), w.max); err != nil {
		w.logger.Warn().Err(err).Str("job_id", w.jobID).Msg("Failed to append output log chunk")
	}
	return len(p), nil
}

// written returns how many bytes have passed through the sink.
func (w *jobLogSink) written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (s *Service) publish(eventType interfaces.EventType, job *models.Job) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: job,
	}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
}
