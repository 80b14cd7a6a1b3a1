package config

import (
	"fmt"
	"os"
	"strings"

	lconfig "github.com/lixenwraith/config"
)

const envPrefix = "FORWARDER_"

type Config struct {
	Destination DestinationConfig `toml:"destination"`
	Batch       BatchConfig       `toml:"batch"`
	Sources     SourcesConfig     `toml:"sources"`
	Logging     LogConfig         `toml:"logging"`
	Shutdown    ShutdownConfig    `toml:"shutdown"`
}

type DestinationConfig struct {
	// "dynamodb" or "http"
	Kind string `toml:"kind"`

	// DynamoDB; empty credentials and region fall back to the default AWS chain
	Table       string `toml:"table"`
	Region      string `toml:"region"`
	AccessKey   string `toml:"access_key"`
	SecretKey   string `toml:"secret_key"`
	Endpoint    string `toml:"endpoint"`
	ReuseClient bool   `toml:"reuse_client"`

	// HTTP bulk endpoint
	URL        string `toml:"url"`
	Collection string `toml:"collection"`
	Compress   bool   `toml:"compress"`
	TimeoutMs  int64  `toml:"timeout_ms"`
}

type BatchConfig struct {
	Size           int64  `toml:"size"`
	PeriodMs       int64  `toml:"period_ms"`
	QueueCapacity  int64  `toml:"queue_capacity"`
	Overflow       string `toml:"overflow"`
	BlockTimeoutMs int64  `toml:"block_timeout_ms"`
	WriteTimeoutMs int64  `toml:"write_timeout_ms"`
}

type SourcesConfig struct {
	Tail TailConfig `toml:"tail"`
	HTTP HTTPConfig `toml:"http"`
}

type TailConfig struct {
	Enabled        bool   `toml:"enabled"`
	Root           string `toml:"root"`
	Pattern        string `toml:"pattern"`
	Workers        int64  `toml:"workers"`
	QueueSize      int64  `toml:"queue_size"`
	ScanIntervalMs int64  `toml:"scan_interval_ms"`
	IdleTimeoutMs  int64  `toml:"idle_timeout_ms"`
	FromStart      bool   `toml:"from_start"`
	NodeName       string `toml:"node_name"`
}

type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	// Max request body in bytes
	MaxBodyBytes int64 `toml:"max_body_bytes"`
}

type LogConfig struct {
	// "debug", "info", "warn", "error"
	Level string `toml:"level"`
	// "stdout", "stderr", "none"
	Output string `toml:"output"`
	// Diagnostic messages allowed per second before throttling kicks in
	DiagPerSecond int64 `toml:"diag_per_second"`
	DiagBurst     int64 `toml:"diag_burst"`
}

type ShutdownConfig struct {
	TimeoutMs int64 `toml:"timeout_ms"`
}

func defaults() *Config {
	return &Config{
		Destination: DestinationConfig{
			Kind:        "dynamodb",
			Table:       "Logs",
			ReuseClient: true,
			TimeoutMs:   5000,
		},
		Batch: BatchConfig{
			Size:           1000,
			PeriodMs:       5000,
			Overflow:       "drop_oldest",
			BlockTimeoutMs: 50,
			WriteTimeoutMs: 30000,
		},
		Sources: SourcesConfig{
			Tail: TailConfig{
				Enabled:        false,
				Root:           "/var/log/pods",
				Pattern:        "*.log",
				Workers:        4,
				QueueSize:      100,
				ScanIntervalMs: 10000,
			},
			HTTP: HTTPConfig{
				Enabled:      true,
				Listen:       ":8080",
				MaxBodyBytes: 4 << 20,
			},
		},
		Logging: LogConfig{
			Level:         "info",
			Output:        "stderr",
			DiagPerSecond: 10,
			DiagBurst:     20,
		},
		Shutdown: ShutdownConfig{
			TimeoutMs: 10000,
		},
	}
}

// Load merges CLI args, FORWARDER_* env, the TOML file at path and defaults,
// in that order of precedence. A missing file is not an error.
func Load(path string, cliArgs []string) (*Config, error) {
	cfg, err := lconfig.NewBuilder().
		WithDefaults(defaults()).
		WithEnvPrefix(envPrefix).
		WithFile(path).
		WithArgs(cliArgs).
		WithEnvTransform(customEnvTransform).
		WithSources(
			lconfig.SourceCLI,
			lconfig.SourceEnv,
			lconfig.SourceFile,
			lconfig.SourceDefault,
		).
		Build()

	if err != nil {
		if !strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	finalConfig := &Config{}
	if err := cfg.Scan("", finalConfig); err != nil {
		return nil, fmt.Errorf("failed to scan config: %w", err)
	}

	return finalConfig, finalConfig.Validate()
}

func customEnvTransform(path string) string {
	env := strings.ReplaceAll(path, ".", "_")
	env = strings.ToUpper(env)
	return envPrefix + env
}

// GetConfigPath honours FORWARDER_CONFIG_FILE, then falls back to ./forwarder.toml.
func GetConfigPath() string {
	if configFile := os.Getenv(envPrefix + "CONFIG_FILE"); configFile != "" {
		return configFile
	}
	return "forwarder.toml"
}
