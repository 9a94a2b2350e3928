package forge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/common"
	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
)

func testDockerRunner(t *testing.T) *DockerRunner {
	cfg := common.DefaultConfig().Sandbox
	cfg.WorkDir = t.TempDir()
	return NewDockerRunner(&cfg, arbor.NewLogger())
}

func TestContainerArgsConstraints(t *testing.T) {
	r := testDockerRunner(t)

	args := r.containerArgs("/tmp/root", "forge-abc", interfaces.RunSpec{})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--name forge-abc")
	assert.Contains(t, joined, "--memory")
	assert.Contains(t, joined, "--cpus")
	assert.Contains(t, joined, "--pids-limit")
	assert.Contains(t, joined, "--read-only")
	assert.Contains(t, joined, "noexec")
	assert.Contains(t, joined, "--network none", "no fork means no network at all")

	forked := r.containerArgs("/tmp/root", "forge-abc", interfaces.RunSpec{ForkURL: "https://rpc.example"})
	assert.NotContains(t, strings.Join(forked, " "), "--network none",
		"fork mode narrows egress instead of blocking it")
}

func TestCommandKillsContainerOnDeadline(t *testing.T) {
	r := testDockerRunner(t)

	cmd := r.command(context.Background(), "forge-abc", []string{"run"})

	// The docker client alone cannot stop a daemon-side container, so the
	// prepared command must carry a daemon-side kill and a drain grace.
	require.NotNil(t, cmd.Cancel, "deadline expiry must kill the container, not just the client")
	assert.Equal(t, killGrace, cmd.WaitDelay)
}

func TestToolArgsByKind(t *testing.T) {
	tests := []struct {
		name string
		spec interfaces.RunSpec
		want []string
	}{
		{
			name: "compile",
			spec: interfaces.RunSpec{Kind: models.JobKindCompile},
			want: []string{"forge", "build", "--format-json"},
		},
		{
			name: "script",
			spec: interfaces.RunSpec{Kind: models.JobKindScript, ScriptPath: "script/Deploy.s.sol"},
			want: []string{"forge", "script", "script/Deploy.s.sol", "--json"},
		},
		{
			name: "test with filter and fork",
			spec: interfaces.RunSpec{
				Kind:      models.JobKindTest,
				TestMatch: "testTransfer",
				ForkURL:   "https://rpc.example",
				ForkBlock: 123,
			},
			want: []string{
				"forge", "test", "--json",
				"--match-test", "testTransfer",
				"--fork-url", "https://rpc.example",
				"--fork-block-number", "123",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toolArgs(tt.spec))
		})
	}
}

func TestMaterializeSynthesizesBuildConfig(t *testing.T) {
	r := testDockerRunner(t)

	root, err := r.materialize(interfaces.RunSpec{
		Files: []models.SourceFile{{Path: "src/Token.sol", Content: "contract Token {}"}},
	})
	require.NoError(t, err)
	defer os.RemoveAll(root)

	data, err := os.ReadFile(filepath.Join(root, defaultBuildConfigName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "src")

	written, err := os.ReadFile(filepath.Join(root, "src", "Token.sol"))
	require.NoError(t, err)
	assert.Equal(t, "contract Token {}", string(written))
}

func TestMaterializeKeepsSubmittedBuildConfig(t *testing.T) {
	r := testDockerRunner(t)

	root, err := r.materialize(interfaces.RunSpec{
		Files: []models.SourceFile{
			{Path: "foundry.toml", Content: "[profile.custom]\n"},
			{Path: "src/Token.sol", Content: "contract Token {}"},
		},
	})
	require.NoError(t, err)
	defer os.RemoveAll(root)

	data, err := os.ReadFile(filepath.Join(root, defaultBuildConfigName))
	require.NoError(t, err)
	assert.Equal(t, "[profile.custom]\n", string(data))
}

func TestSimulatedRunnerStreamsOutput(t *testing.T) {
	r := NewSimulatedRunner(arbor.NewLogger())

	var streamed strings.Builder
	out, err := r.Run(context.Background(), interfaces.RunSpec{
		Kind:   models.JobKindCompile,
		Files:  []models.SourceFile{{Path: "src/A.sol", Content: "contract A {}"}},
		Output: &streamed,
	})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.Simulated)
	assert.Equal(t, out.CombinedOutput, streamed.String(), "streamed output matches the returned output")
}

func TestSimulatedRunnerRequiresSources(t *testing.T) {
	r := NewSimulatedRunner(arbor.NewLogger())

	out, err := r.Run(context.Background(), interfaces.RunSpec{
		Kind:  models.JobKindCompile,
		Files: []models.SourceFile{{Path: "README.md", Content: "docs"}},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.True(t, out.Simulated)
	assert.Contains(t, out.CombinedOutput, "Error: no source files")
}
