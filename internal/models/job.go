// -----------------------------------------------------------------------
// Forge Job - durable record of one compile/test/script execution
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind selects the tool invocation and output-parsing path.
type JobKind string

const (
	JobKindCompile JobKind = "compile"
	JobKindTest    JobKind = "test"
	JobKindScript  JobKind = "script"
)

// Valid returns true for a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindCompile, JobKindTest, JobKindScript:
		return true
	}
	return false
}

// JobStatus tracks the job state machine:
// queued -> running -> completed | failed | timeout.
// No terminal state ever transitions again; the crash recovery sweep performs
// a one-time running -> failed reclassification.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimeout   JobStatus = "timeout"
)

// IsTerminal returns true once a job can no longer change status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimeout
}

// SourceFile is one (path, content) pair of a submitted bundle.
type SourceFile struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// ForkConfig requests fork-mode execution against a live chain's state.
type ForkConfig struct {
	ChainID     int64  `json:"chain_id" validate:"required"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// JobSubmission is the request body accepted by the submission endpoint.
// Files are immutable for the job once resolved; ProjectRef optionally names
// the external project the bundle was resolved from.
type JobSubmission struct {
	Kind       JobKind      `json:"kind" validate:"required"`
	Files      []SourceFile `json:"files" validate:"required,min=1,dive"`
	ForkConfig *ForkConfig  `json:"fork_config,omitempty"`
	TestMatch  string       `json:"test_match,omitempty"`
	ScriptPath string       `json:"script_path,omitempty"`
	ProjectRef string       `json:"project_ref,omitempty"`
}

// Job is the central entity of the engine. Mutated only by the executor
// (status, result, log) and the recovery sweeps (status, on staleness or a
// prior process crash).
type Job struct {
	ID         string  `json:"id" badgerhold:"key"`
	Owner      string  `json:"owner"`
	Kind       JobKind `json:"kind"`
	ProjectRef string  `json:"project_ref,omitempty"`

	// InputHash is a pure function of the sorted (path, content) pairs and
	// keys the completed-job cache.
	InputHash string `json:"input_hash" badgerhold:"index"`

	Files      []SourceFile `json:"files"`
	ForkConfig *ForkConfig  `json:"fork_config,omitempty"`
	TestMatch  string       `json:"test_match,omitempty"`
	ScriptPath string       `json:"script_path,omitempty"`

	Status JobStatus    `json:"status" badgerhold:"index"`
	Result *ForgeResult `json:"result,omitempty"`

	// OutputLog grows monotonically while running; raw combined stdout/stderr.
	OutputLog string `json:"output_log,omitempty"`

	// Simulated marks results produced by the development fallback runner
	// rather than a real sandbox backend.
	Simulated bool `json:"simulated,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// NewJob creates a queued job from a validated submission.
func NewJob(owner string, sub *JobSubmission, inputHash string, ttl time.Duration) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         "job_" + uuid.New().String(),
		Owner:      owner,
		Kind:       sub.Kind,
		ProjectRef: sub.ProjectRef,
		InputHash:  inputHash,
		Files:      sub.Files,
		ForkConfig: sub.ForkConfig,
		TestMatch:  sub.TestMatch,
		ScriptPath: sub.ScriptPath,
		Status:     JobStatusQueued,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// IsTerminal returns true once the job reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsExpired returns true once the job's retention window has passed.
func (j *Job) IsExpired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

// MarkRunning transitions queued -> running and stamps StartedAt.
func (j *Job) MarkRunning() {
	j.Status = JobStatusRunning
	now := time.Now().UTC()
	j.StartedAt = &now
}

// MarkCompleted records a terminal completed state with its parsed result.
func (j *Job) MarkCompleted(result *ForgeResult) {
	j.Status = JobStatusCompleted
	j.Result = result
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// MarkFailed records a terminal failed state. The result may carry either
// parsed user-code errors or a single synthetic execution-fault error.
func (j *Job) MarkFailed(result *ForgeResult) {
	j.Status = JobStatusFailed
	j.Result = result
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// MarkTimeout records the distinct timeout terminal state with a single
// synthetic error.
func (j *Job) MarkTimeout(message string) {
	j.Status = JobStatusTimeout
	j.Result = SyntheticFailure(CategoryTimeout, message)
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// AppendOutput grows the output log, discarding the oldest output once the
// cap is exceeded. A cap of zero or less means unbounded.
func (j *Job) AppendOutput(chunk string, maxBytes int) {
	j.OutputLog += chunk
	if maxBytes > 0 && len(j.OutputLog) > maxBytes {
		j.OutputLog = j.OutputLog[len(j.OutputLog)-maxBytes:]
	}
}

// Runtime returns how long the job has been (or was) running.
func (j *Job) Runtime(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return now.Sub(*j.StartedAt)
}
