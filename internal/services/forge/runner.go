// -----------------------------------------------------------------------
// Sandbox Runner - isolated execution of untrusted source bundles
// -----------------------------------------------------------------------

package forge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

const defaultBuildConfigName = "foundry.toml"

// killGrace bounds how long the docker client may linger after the container
// has been killed on a deadline.
const killGrace = 10 * time.Second

// NewRunner selects the sandbox backend from configuration. The simulated
// backend is the development fallback when no real sandbox is available.
func NewRunner(cfg *common.SandboxConfig, logger arbor.ILogger) interfaces.SandboxRunner {
	if cfg.Backend == "docker" {
		return NewDockerRunner(cfg, logger)
	}
	return NewSimulatedRunner(logger)
}

// DockerRunner executes the toolchain inside a disposable container with a
// fixed memory ceiling, CPU share, process-count ceiling, read-only root
// filesystem and a small noexec scratch area. No network by default; fork
// jobs get egress to the single allow-listed RPC endpoint only. The
// container never holds signing material, so fork mode can only issue read
// queries.
type DockerRunner struct {
	cfg    *common.SandboxConfig
	logger arbor.ILogger
}

// NewDockerRunner creates a docker-backed sandbox runner.
func NewDockerRunner(cfg *common.SandboxConfig, logger arbor.ILogger) *DockerRunner {
	return &DockerRunner{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *DockerRunner) Name() string {
	return "docker"
}

func (r *DockerRunner) Run(ctx context.Context, spec interfaces.RunSpec) (*interfaces.RunOutput, error) {
	root, err := r.materialize(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare execution root: %w", err)
	}
	defer os.RemoveAll(root)

	name := "forge-" + uuid.New().String()
	args := r.containerArgs(root, name, spec)
	args = append(args, toolArgs(spec)...)

	r.logger.Debug().
		Str("job_id", spec.JobID).
		Str("container", name).
		Str("kind", string(spec.Kind)).
		Str("root", root).
		Msg("Starting sandbox container")

	cmd := r.command(ctx, name, args)

	var buf bytes.Buffer
	var sink io.Writer = &buf
	if spec.Output != nil {
		sink = io.MultiWriter(&buf, spec.Output)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	runErr := cmd.Run()
	output := buf.String()

	// A cancelled context means the deadline won; the container has been
	// killed on the daemon rather than left running.
	if ctx.Err() != nil {
		return &interfaces.RunOutput{CombinedOutput: output}, ctx.Err()
	}

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			// The tool ran and reported failure: a user-code outcome, not
			// a sandbox fault.
			return &interfaces.RunOutput{
				CombinedOutput: output,
				Success:        false,
			}, nil
		}
		// Anything else means the sandbox itself could not start.
		return nil, fmt.Errorf("sandbox backend unavailable: %w", runErr)
	}

	return &interfaces.RunOutput{
		CombinedOutput: output,
		Success:        true,
	}, nil
}

// command prepares the docker client invocation. The client is only a proxy
// for the daemon: cancelling it would leave the container running, so on
// deadline the container itself is killed by name, and the client gets a
// short grace to drain before it is force-stopped.
func (r *DockerRunner) command(ctx context.Context, name string, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Cancel = func() error {
		return exec.Command("docker", "kill", name).Run()
	}
	cmd.WaitDelay = killGrace
	return cmd
}

// materialize writes the job's files into a disposable execution root,
// synthesizing a default build configuration when the submitter omitted one.
func (r *DockerRunner) materialize(spec interfaces.RunSpec) (string, error) {
	root, err := os.MkdirTemp(r.cfg.WorkDir, "forge-job-")
	if err != nil {
		return "", err
	}

	hasBuildConfig := false
	for _, f := range spec.Files {
		if filepath.Base(f.Path) == defaultBuildConfigName && !strings.Contains(f.Path, "/") {
			hasBuildConfig = true
		}
		dest := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			os.RemoveAll(root)
			return "", err
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0644); err != nil {
			os.RemoveAll(root)
			return "", err
		}
	}

	if !hasBuildConfig {
		data, err := defaultBuildConfig()
		if err != nil {
			os.RemoveAll(root)
			return "", err
		}
		if err := os.WriteFile(filepath.Join(root, defaultBuildConfigName), data, 0644); err != nil {
			os.RemoveAll(root)
			return "", err
		}
	}

	return root, nil
}

// defaultBuildConfig renders the synthesized build-tool configuration.
func defaultBuildConfig() ([]byte, error) {
	return toml.Marshal(map[string]interface{}{
		"profile": map[string]interface{}{
			"default": map[string]interface{}{
				"src":  "src",
				"test": "test",
				"out":  "out",
				"libs": []string{"lib"},
			},
		},
	})
}

// containerArgs builds the constraint set applied to every invocation,
// independent of job kind. The container is named so a timed-out run can be
// killed on the daemon.
func (r *DockerRunner) containerArgs(root, name string, spec interfaces.RunSpec) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
		"--memory", r.cfg.MemoryLimit,
		"--cpus", r.cfg.CPULimit,
		"--pids-limit", strconv.Itoa(r.cfg.PidsLimit),
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=" + r.cfg.ScratchSize,
		"-v", root + ":/work",
		"-w", "/work",
	}
	if spec.ForkURL == "" {
		args = append(args, "--network", "none")
	}
	args = append(args, r.cfg.Image)
	return args
}

// toolArgs selects the invocation by job kind, always requesting
// machine-readable output.
func toolArgs(spec interfaces.RunSpec) []string {
	switch spec.Kind {
	case models.JobKindCompile:
		return []string{"forge", "build", "--format-json"}
	case models.JobKindScript:
		return []string{"forge", "script", spec.ScriptPath, "--json"}
	default:
		args := []string{"forge", "test", "--json"}
		if spec.TestMatch != "" {
			args = append(args, "--match-test", spec.TestMatch)
		}
		if spec.ForkURL != "" {
			args = append(args, "--fork-url", spec.ForkURL)
			if spec.ForkBlock > 0 {
				args = append(args, "--fork-block-number", strconv.FormatUint(spec.ForkBlock, 10))
			}
		}
		return args
	}
}

// SimulatedRunner is the development fallback when no sandbox backend is
// configured. It approximates success heuristically and its output is
// clearly flagged so job records never pass simulated results off as real
// execution.
type SimulatedRunner struct {
	logger arbor.ILogger
}

// NewSimulatedRunner creates the development fallback runner.
func NewSimulatedRunner(logger arbor.ILogger) *SimulatedRunner {
	return &SimulatedRunner{logger: logger}
}

func (r *SimulatedRunner) Name() string {
	return "simulate"
}

func (r *SimulatedRunner) Run(ctx context.Context, spec interfaces.RunSpec) (*interfaces.RunOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.logger.Warn().
		Str("job_id", spec.JobID).
		Msg("No sandbox backend configured - simulating execution")

	sources := 0
	for _, f := range spec.Files {
		if strings.HasSuffix(f.Path, ".sol") {
			sources++
		}
	}

	var out strings.Builder
	out.WriteString("[simulated execution - no sandbox backend configured]\n")

	success := true
	if sources == 0 {
		out.WriteString("Error: no source files found in submission\n")
		success = false
	} else {
		switch spec.Kind {
		case models.JobKindCompile:
			fmt.Fprintf(&out, "Compiler run successful, %d file(s) compiled\n", sources)
		case models.JobKindScript:
			fmt.Fprintf(&out, "Script %s simulated\n", spec.ScriptPath)
		default:
			out.WriteString("Test run simulated, 0 tests executed\n")
		}
	}

	combined := out.String()
	if spec.Output != nil {
		io.WriteString(spec.Output, combined)
	}

	return &interfaces.RunOutput{
		CombinedOutput: combined,
		Success:        success,
		Simulated:      true,
	}, nil
}
