package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/chainwright/forge/internal/models"
)

// RunSpec describes one sandboxed tool invocation: the resolved file set,
// the kind-specific invocation, and the wall-clock bound.
type RunSpec struct {
	JobID      string
	Kind       models.JobKind
	Files      []models.SourceFile
	TestMatch  string
	ScriptPath string
	// ForkURL is the single allow-listed RPC endpoint the sandbox may reach.
	// Empty means no network access at all.
	ForkURL   string
	ForkBlock uint64
	Timeout   time.Duration
	// Output, when set, receives combined tool output as it is produced so
	// callers can observe log growth while the job is still running.
	Output io.Writer
}

// RunOutput is the raw outcome of a sandbox invocation. Success mirrors the
// tool's exit signal; the output parser makes the final call.
type RunOutput struct {
	CombinedOutput string
	Success        bool
	// Simulated is true when produced by the development fallback rather
	// than a real sandbox backend.
	Simulated bool
}

// SandboxRunner is the execution port of the engine. A returned error is a
// fault (the sandbox itself could not run), never a user-code failure.
type SandboxRunner interface {
	Run(ctx context.Context, spec RunSpec) (*RunOutput, error)
	// Name identifies the backend in logs and job records.
	Name() string
}
