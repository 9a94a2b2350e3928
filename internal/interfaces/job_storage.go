package interfaces

import (
	"context"
	"time"

	"github.com/chainwright/forge/internal/models"
)

// JobListOptions filters and pages job listings.
type JobListOptions struct {
	Status   string
	Kind     string
	Owner    string
	Limit    int
	Offset   int
	OrderBy  string
	OrderDir string
}

// JobStorage is the persistence contract for forge jobs. The engine reads
// and writes records through this interface; badgerhold provides the default
// implementation.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// GetJobForOwner scopes the lookup to jobs owned by the given identity.
	GetJobForOwner(ctx context.Context, jobID, owner string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	GetJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	CountJobs(ctx context.Context) (int, error)
	CountJobsByStatus(ctx context.Context, status models.JobStatus) (int, error)
	// FindCachedJob returns a completed, non-expired job with the same input
	// hash and kind, or nil when no cache hit exists.
	FindCachedJob(ctx context.Context, inputHash string, kind models.JobKind) (*models.Job, error)
	// AppendJobLog appends raw output to the job's monotonically growing log,
	// discarding the oldest output once maxBytes is exceeded (zero or less
	// means unbounded).
	AppendJobLog(ctx context.Context, jobID, chunk string, maxBytes int) error
	DeleteJob(ctx context.Context, jobID string) error
	// DeleteExpiredJobs removes every job whose ExpiresAt precedes now and
	// returns how many were deleted.
	DeleteExpiredJobs(ctx context.Context, now time.Time) (int, error)
}

// StorageManager owns the database connection and the typed stores.
type StorageManager interface {
	JobStorage() JobStorage
	Close() error
}
