package forge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

// memJobStorage is an in-memory JobStorage for exercising the engine without
// a database.
type memJobStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobStorage() *memJobStorage {
	return &memJobStorage{jobs: make(map[string]*models.Job)}
}

func (m *memJobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memJobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	clone := *job
	return &clone, nil
}

func (m *memJobStorage) GetJobForOwner(ctx context.Context, jobID, owner string) (*models.Job, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Owner != owner {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

func (m *memJobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if opts != nil && opts.Status != "" && string(job.Status) != opts.Status {
			continue
		}
		clone := *job
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memJobStorage) GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		if job.Status == status {
			clone := *job
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memJobStorage) CountJobs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}

func (m *memJobStorage) CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	jobs, _ := m.GetJobsByStatus(ctx, status)
	return len(jobs), nil
}

func (m *memJobStorage) FindCachedJob(ctx context.Context, inputHash string, kind models.JobKind) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, job := range m.jobs {
		if job.InputHash == inputHash && job.Kind == kind &&
			job.Status == models.JobStatusCompleted && !job.IsExpired(now) {
			clone := *job
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memJobStorage) AppendJobLog(ctx context.Context, jobID, chunk string, maxBytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	job.AppendOutput(chunk, maxBytes)
	return nil
}

func (m *memJobStorage) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memJobStorage) DeleteExpiredJobs(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.IsExpired(now) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}
