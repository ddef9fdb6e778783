// Package config loads the kernel's typed configuration from a YAML file
// overlaid with environment variables, mirroring the precedence used
// throughout this codebase: defaults, then an optional YAML file, then
// env-var overrides. A local .env file, if present, is loaded into the
// environment first and does not replace variables that are already set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// BudgetConfig bounds the global and per-agent LLM spend.
type BudgetConfig struct {
	GlobalMicrosPerTick  int64 `json:"global_micros_per_tick" yaml:"global_micros_per_tick" env:"BUDGET_GLOBAL_MICROS_PER_TICK"`
	PerAgentMicrosPerDay int64 `json:"per_agent_micros_per_day" yaml:"per_agent_micros_per_day" env:"BUDGET_PER_AGENT_MICROS_PER_DAY"`
}

// ExecutorConfig controls the sandbox and action-dispatch behaviour.
type ExecutorConfig struct {
	ScriptTimeout      time.Duration `json:"script_timeout" yaml:"script_timeout" env:"EXECUTOR_SCRIPT_TIMEOUT"`
	MaxInvocationDepth int           `json:"max_invocation_depth" yaml:"max_invocation_depth" env:"EXECUTOR_MAX_INVOCATION_DEPTH"`
	CompiledCacheSize  int           `json:"compiled_cache_size" yaml:"compiled_cache_size" env:"EXECUTOR_COMPILED_CACHE_SIZE"`
}

// RateLimitingConfig sizes the default renewable-resource windows.
type RateLimitingConfig struct {
	DefaultWindow   time.Duration `json:"default_window" yaml:"default_window" env:"RATE_LIMITING_DEFAULT_WINDOW"`
	DefaultCapacity int64         `json:"default_capacity" yaml:"default_capacity" env:"RATE_LIMITING_DEFAULT_CAPACITY"`
}

// SchedulerConfig controls the agent-loop supervisor.
type SchedulerConfig struct {
	MaxConsecutiveCrashes int           `json:"max_consecutive_crashes" yaml:"max_consecutive_crashes" env:"SCHEDULER_MAX_CONSECUTIVE_CRASHES"`
	CrashWindow           time.Duration `json:"crash_window" yaml:"crash_window" env:"SCHEDULER_CRASH_WINDOW"`
	BackoffInitial        time.Duration `json:"backoff_initial" yaml:"backoff_initial" env:"SCHEDULER_BACKOFF_INITIAL"`
	BackoffMax            time.Duration `json:"backoff_max" yaml:"backoff_max" env:"SCHEDULER_BACKOFF_MAX"`
}

// MintConfig controls the sealed-bid auction clock.
type MintConfig struct {
	TickInterval     time.Duration `json:"tick_interval" yaml:"tick_interval" env:"MINT_TICK_INTERVAL"`
	AuctionPeriod    time.Duration `json:"auction_period" yaml:"auction_period" env:"MINT_AUCTION_PERIOD"`
	BiddingDuration  time.Duration `json:"bidding_duration" yaml:"bidding_duration" env:"MINT_BIDDING_DURATION"`
	FirstAuctionTick time.Duration `json:"first_auction_tick" yaml:"first_auction_tick" env:"MINT_FIRST_AUCTION_TICK"`
	MinBid           int64         `json:"min_bid" yaml:"min_bid" env:"MINT_MIN_BID"`
	MintRatio        int64         `json:"mint_ratio" yaml:"mint_ratio" env:"MINT_MINT_RATIO"`
	UBISinkPrincipal string        `json:"ubi_sink_principal" yaml:"ubi_sink_principal" env:"MINT_UBI_SINK_PRINCIPAL"`
}

// KernelConfig groups the config keys owned by the domain core.
type KernelConfig struct {
	Budget       BudgetConfig       `json:"budget" yaml:"budget"`
	Executor     ExecutorConfig     `json:"executor" yaml:"executor"`
	RateLimiting RateLimitingConfig `json:"rate_limiting" yaml:"rate_limiting"`
	Scheduler    SchedulerConfig    `json:"scheduler" yaml:"scheduler"`
	Mint         MintConfig         `json:"mint" yaml:"mint"`
}

// DashboardConfig controls the read-only HTTP/WS surface.
type DashboardConfig struct {
	Host              string `json:"host" yaml:"host" env:"DASHBOARD_HOST"`
	Port              int    `json:"port" yaml:"port" env:"DASHBOARD_PORT"`
	RequestsPerSecond int    `json:"requests_per_second" yaml:"requests_per_second" env:"DASHBOARD_REQUESTS_PER_SECOND"`
	Burst             int    `json:"burst" yaml:"burst" env:"DASHBOARD_BURST"`
}

// LoggingConfig controls the structured application logger.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// EventLogConfig controls the JSONL audit sink.
type EventLogConfig struct {
	Path          string        `json:"path" yaml:"path" env:"EVENT_LOG_PATH"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval" env:"EVENT_LOG_FLUSH_INTERVAL"`
}

// CheckpointConfig controls snapshot persistence.
type CheckpointConfig struct {
	Path string `json:"path" yaml:"path" env:"CHECKPOINT_PATH"`
}

// GenesisConfig points at the manifest directory loaded at boot.
type GenesisConfig struct {
	Dir string `json:"dir" yaml:"dir" env:"GENESIS_DIR"`
}

// Config is the top-level configuration structure for kerneld.
type Config struct {
	Kernel     KernelConfig     `json:"kernel" yaml:"kernel"`
	Dashboard  DashboardConfig  `json:"dashboard" yaml:"dashboard"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	EventLog   EventLogConfig   `json:"event_log" yaml:"event_log"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
	Genesis    GenesisConfig    `json:"genesis" yaml:"genesis"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Kernel: KernelConfig{
			Budget: BudgetConfig{
				GlobalMicrosPerTick:  1_000_000,
				PerAgentMicrosPerDay: 50_000,
			},
			Executor: ExecutorConfig{
				ScriptTimeout:      5 * time.Second,
				MaxInvocationDepth: 5,
				CompiledCacheSize:  256,
			},
			RateLimiting: RateLimitingConfig{
				DefaultWindow:   time.Minute,
				DefaultCapacity: 60,
			},
			Scheduler: SchedulerConfig{
				MaxConsecutiveCrashes: 5,
				CrashWindow:           time.Minute,
				BackoffInitial:        time.Second,
				BackoffMax:            60 * time.Second,
			},
			Mint: MintConfig{
				TickInterval:     time.Second,
				AuctionPeriod:    5 * time.Minute,
				BiddingDuration:  30 * time.Second,
				FirstAuctionTick: 5 * time.Second,
				MinBid:           1,
				MintRatio:        10,
				UBISinkPrincipal: "",
			},
		},
		Dashboard: DashboardConfig{
			Host:              "0.0.0.0",
			Port:              8090,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "agent-kernel",
		},
		EventLog: EventLogConfig{
			Path:          "data/events.jsonl",
			FlushInterval: time.Second,
		},
		Checkpoint: CheckpointConfig{
			Path: "data/checkpoint.json",
		},
		Genesis: GenesisConfig{
			Dir: "genesis",
		},
	}
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors out when none of the tagged fields were present in
		// the environment; treat that as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, starting from defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
