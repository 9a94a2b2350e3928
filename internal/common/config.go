package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration. All engine ceilings and
// allowlists live here so tests can substitute smaller limits.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Forge       ForgeConfig     `toml:"forge"`
	Sandbox     SandboxConfig   `toml:"sandbox"`
	Chains      ChainsConfig    `toml:"chains"`
	RPCProxy    RPCProxyConfig  `toml:"rpc_proxy"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// ForgeConfig bounds job submissions and the job lifecycle.
type ForgeConfig struct {
	MaxFiles     int   `toml:"max_files"`      // Max files per submission
	MaxFileSize  int64 `toml:"max_file_size"`  // Per-file byte ceiling
	MaxTotalSize int64 `toml:"max_total_size"` // Whole-bundle byte ceiling

	CompileTimeout time.Duration `toml:"compile_timeout"` // Wall clock for compile jobs
	TestTimeout    time.Duration `toml:"test_timeout"`    // Wall clock for test/script jobs

	// MaxRuntime is the stale-job ceiling enforced by the sweep. It is
	// deliberately longer than the execution timeouts to allow for
	// scheduling delay.
	MaxRuntime time.Duration `toml:"max_runtime"`

	// RecoveryGrace is how old a running job's StartedAt must be before the
	// startup sweep reclassifies it as interrupted. Long enough that a fast
	// restart does not kill jobs that are still legitimately executing.
	RecoveryGrace time.Duration `toml:"recovery_grace"`

	JobTTL time.Duration `toml:"job_ttl"` // Retention window, set at creation

	// MaxLogBytes caps the stored output log per job; older output is
	// discarded head-first once exceeded.
	MaxLogBytes int `toml:"max_log_bytes"`
}

// SandboxConfig constrains every sandbox invocation, independent of job kind.
type SandboxConfig struct {
	Backend     string `toml:"backend"`      // "docker" or "simulate" (dev fallback)
	Image       string `toml:"image"`        // Toolchain image for the docker backend
	MemoryLimit string `toml:"memory_limit"` // e.g. "512m"
	CPULimit    string `toml:"cpu_limit"`    // e.g. "0.5"
	PidsLimit   int    `toml:"pids_limit"`
	ScratchSize string `toml:"scratch_size"` // Writable noexec tmpfs size, e.g. "64m"
	WorkDir     string `toml:"work_dir"`     // Host directory for execution roots
}

// ChainsConfig is the static table mapping chain identifiers to RPC
// endpoints. A chain absent from this table is unsupported everywhere:
// validation, fork mode and the proxy.
type ChainsConfig struct {
	Endpoints map[string]string `toml:"endpoints"` // chain id (decimal string) -> RPC URL
}

// EndpointFor returns the RPC endpoint for a chain id, if supported.
func (c *ChainsConfig) EndpointFor(chainID int64) (string, bool) {
	url, ok := c.Endpoints[strconv.FormatInt(chainID, 10)]
	return url, ok
}

// RPCProxyConfig bounds the restricted chain-query proxy.
type RPCProxyConfig struct {
	// AllowedMethods is the closed set of read-only methods the proxy will
	// forward. Unknown methods are rejected, never passed through.
	AllowedMethods []string      `toml:"allowed_methods"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	RateLimit      time.Duration `toml:"rate_limit"` // Min interval between upstream calls per chain
}

type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	SweepSchedule string `toml:"sweep_schedule"` // Cron expression for expiry + stale sweeps
}

// WebSocketConfig bounds the job output stream.
type WebSocketConfig struct {
	PollInterval time.Duration `toml:"poll_interval"` // Log/status snapshot cadence
	MaxWatch     time.Duration `toml:"max_watch"`     // Hard ceiling before a stream self-terminates
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/forge",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Forge: ForgeConfig{
			MaxFiles:       50,
			MaxFileSize:    500 * 1024,
			MaxTotalSize:   5 * 1024 * 1024,
			CompileTimeout: 2 * time.Minute,
			TestTimeout:    5 * time.Minute,
			MaxRuntime:     15 * time.Minute,
			RecoveryGrace:  2 * time.Minute,
			JobTTL:         24 * time.Hour,
			MaxLogBytes:    1024 * 1024,
		},
		Sandbox: SandboxConfig{
			Backend:     "simulate",
			Image:       "ghcr.io/foundry-rs/foundry:latest",
			MemoryLimit: "512m",
			CPULimit:    "0.5",
			PidsLimit:   64,
			ScratchSize: "64m",
			WorkDir:     os.TempDir(),
		},
		Chains: ChainsConfig{
			Endpoints: map[string]string{
				"1":        "https://eth.llamarpc.com",
				"10":       "https://mainnet.optimism.io",
				"137":      "https://polygon-rpc.com",
				"8453":     "https://mainnet.base.org",
				"42161":    "https://arb1.arbitrum.io/rpc",
				"11155111": "https://ethereum-sepolia-rpc.publicnode.com",
			},
		},
		RPCProxy: RPCProxyConfig{
			AllowedMethods: []string{
				"eth_call",
				"eth_getBalance",
				"eth_getStorageAt",
				"eth_getCode",
				"eth_getLogs",
				"eth_getBlockByNumber",
				"eth_getBlockByHash",
				"eth_blockNumber",
				"eth_chainId",
				"eth_gasPrice",
				"eth_getTransactionByHash",
				"eth_getTransactionReceipt",
				"eth_getTransactionCount",
				"net_version",
			},
			RequestTimeout: 15 * time.Second,
			RateLimit:      100 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			SweepSchedule: "*/1 * * * *",
		},
		WebSocket: WebSocketConfig{
			PollInterval: 500 * time.Millisecond,
			MaxWatch:     10 * time.Minute,
		},
	}
}

// LoadFromFiles loads configuration from defaults, then each TOML file in
// order (later files override earlier ones), then environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides maps a small set of environment variables over the
// loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FORGE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("FORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FORGE_DB_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("FORGE_SANDBOX_BACKEND"); v != "" {
		cfg.Sandbox.Backend = v
	}
	if v := os.Getenv("FORGE_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
}

// ApplyFlagOverrides applies command-line overrides (highest priority).
func ApplyFlagOverrides(cfg *Config, port int, host string) {
	if port > 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}

// ExecutionTimeout returns the kind-specific wall-clock timeout: shorter for
// compile, longer for test and script runs.
func (f *ForgeConfig) ExecutionTimeout(kind string) time.Duration {
	if kind == "compile" {
		return f.CompileTimeout
	}
	return f.TestTimeout
}
