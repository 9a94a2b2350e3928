package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) GetJobForOwner(ctx context.Context, jobID, owner string) (*models.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		// Ownership mismatch is reported as not-found to avoid leaking job IDs
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(models.JobStatus(opts.Status))
		}
		if opts.Kind != "" {
			query = query.And("Kind").Eq(models.JobKind(opts.Kind))
		}
		if opts.Owner != "" {
			query = query.And("Owner").Eq(opts.Owner)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.OrderBy != "" {
			if opts.OrderDir == "DESC" {
				query = query.SortBy(opts.OrderBy).Reverse()
			} else {
				query = query.SortBy(opts.OrderBy)
			}
		} else {
			query = query.SortBy("CreatedAt").Reverse()
		}
	} else {
		query = query.SortBy("CreatedAt").Reverse()
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(status)); err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

func (s *JobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return int(count), nil
}

// FindCachedJob returns a completed, non-expired job matching the input hash
// and kind, or nil when none exists. The lookup is opportunistic: concurrent
// identical submissions may both miss and both execute, which is tolerated.
func (s *JobStorage) FindCachedJob(ctx context.Context, inputHash string, kind models.JobKind) (*models.Job, error) {
	var jobs []models.Job
	query := badgerhold.Where("InputHash").Eq(inputHash).
		And("Kind").Eq(kind).
		And("Status").Eq(models.JobStatusCompleted).
		SortBy("CreatedAt").Reverse()

	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query cached jobs: %w", err)
	}

	now := time.Now().UTC()
	for i := range jobs {
		if !jobs[i].IsExpired(now) {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

func (s *JobStorage) AppendJobLog(ctx context.Context, jobID, chunk string, maxBytes int) error {
	if chunk == "" {
		return nil
	}

	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	job.AppendOutput(chunk, maxBytes)
	return s.SaveJob(ctx, &job)
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) DeleteExpiredJobs(ctx context.Context, now time.Time) (int, error) {
	var expired []models.Job
	if err := s.db.Store().Find(&expired, badgerhold.Where("ExpiresAt").Lt(now)); err != nil {
		return 0, fmt.Errorf("failed to query expired jobs: %w", err)
	}

	deleted := 0
	for i := range expired {
		if err := s.db.Store().Delete(expired[i].ID, &models.Job{}); err != nil {
			s.logger.Warn().Err(err).Str("job_id", expired[i].ID).Msg("Failed to delete expired job")
			continue
		}
		deleted++
	}

	return deleted, nil
}
