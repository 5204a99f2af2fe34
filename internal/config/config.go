// Package config captures the recognised runtime options. Parsing an
// on-disk document (YAML/TOML/etc.) is explicitly out of scope — that's
// the external configuration-file parser's job — but the ambient
// pieces (logging, engine bounds, rate limiting) still need a
// concrete, validated struct to run standalone and in tests, loaded
// from the environment in a Load()-collects-all-problems style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLogLevel    = "info"
	DefaultLogPath     = "watchtower.log"
	DefaultLogMaxSizeMB = 100
	DefaultLogMaxBackups = 10
	DefaultLogMaxAgeDays = 7
	DefaultLogCompress  = true

	DefaultMaxHistoryEvents       = 100_000
	DefaultMaxHistoryAgeSeconds   = 3600
	DefaultMaxConcurrentEvals     = 64
	DefaultRuleTimeoutSeconds     = 5
	DefaultEventBufferSize        = 10_000
	DefaultMaxReconnectAttempts   = 10
	DefaultReconnectDelaySeconds  = 1
	DefaultMaxMessagesPerMinute   = 20
	DefaultBurstSize              = 5
	DefaultBatchSize              = 10
	DefaultBatchTimeoutSeconds    = 30
	DefaultResolvedRetentionSecs  = 3600
	DefaultAutoResolveAfterHours  = 24
	DefaultPrometheusPort         = 9090
)

// NetworkConfig holds the upstream endpoint and reconnect tunables.
type NetworkConfig struct {
	RPCURL                string
	WSURL                 string
	TimeoutSeconds        int
	MaxReconnectAttempts  int
	ReconnectDelaySeconds int
}

// ProgramConfig describes one monitored program subscription.
type ProgramConfig struct {
	ID                  string
	Name                string
	MonitorAccounts     bool
	MonitorTransactions bool
	MonitorLogs         bool
}

// FilterConfig holds ingress-level transaction filters.
type FilterConfig struct {
	IncludeFailed                 bool
	IncludeVotes                  bool
	MaxTransactionsPerNotification int
	Commitment                    string
}

// RateLimitConfig holds the global token bucket settings.
type RateLimitConfig struct {
	Enabled            bool
	MaxMessagesPerMinute int
	BurstSize           int
}

// AlertFilterConfig is one entry of the global alert-routing filter list.
type AlertFilterConfig struct {
	Name       string
	Severities []string
	Channels   []string
	Include    bool
}

// GlobalConfig holds notification fan-out policy.
type GlobalConfig struct {
	MinSeverity          string
	EnableBatching       bool
	BatchSize            int
	BatchTimeoutSeconds  int
	Filters              []AlertFilterConfig
}

// EngineConfig bounds the history store and rule evaluation engine.
type EngineConfig struct {
	MaxHistoryEvents         int
	MaxHistoryAgeSeconds     int
	MaxConcurrentEvaluations int
	RuleTimeoutSeconds       int
	EventBufferSize          int
}

// MetricsConfig controls the Prometheus exposition surface.
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config captures every runtime tunable the core engine needs. An
// external loader (out of scope here) is responsible for populating
// this from whatever document format operators prefer; Load() below
// only reads environment variables, mirroring the ambient defaults a
// developer or test run needs without a config file.
type Config struct {
	Network  NetworkConfig
	Programs []ProgramConfig
	Filters  FilterConfig
	Rate     RateLimitConfig
	Global   GlobalConfig
	Engine   EngineConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// Load reads ambient configuration from environment variables, applying
// sane defaults and returning one aggregated error for every invalid
// override.
func Load() (*Config, error) {
	cfg := &Config{
		Network: NetworkConfig{
			RPCURL:                getString("WATCHTOWER_RPC_URL", ""),
			WSURL:                 getString("WATCHTOWER_WS_URL", ""),
			TimeoutSeconds:        30,
			MaxReconnectAttempts:  DefaultMaxReconnectAttempts,
			ReconnectDelaySeconds: DefaultReconnectDelaySeconds,
		},
		Filters: FilterConfig{
			MaxTransactionsPerNotification: 50,
			Commitment:                     getString("WATCHTOWER_COMMITMENT", "confirmed"),
		},
		Rate: RateLimitConfig{
			Enabled:              true,
			MaxMessagesPerMinute: DefaultMaxMessagesPerMinute,
			BurstSize:            DefaultBurstSize,
		},
		Global: GlobalConfig{
			MinSeverity:         "Info",
			BatchSize:           DefaultBatchSize,
			BatchTimeoutSeconds: DefaultBatchTimeoutSeconds,
		},
		Engine: EngineConfig{
			MaxHistoryEvents:         DefaultMaxHistoryEvents,
			MaxHistoryAgeSeconds:     DefaultMaxHistoryAgeSeconds,
			MaxConcurrentEvaluations: DefaultMaxConcurrentEvals,
			RuleTimeoutSeconds:       DefaultRuleTimeoutSeconds,
			EventBufferSize:          DefaultEventBufferSize,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			PrometheusPort: DefaultPrometheusPort,
		},
		Logging: LoggingConfig{
			Level:      getString("WATCHTOWER_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("WATCHTOWER_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	intEnv("WATCHTOWER_NETWORK_TIMEOUT_SECONDS", &cfg.Network.TimeoutSeconds, 1, &problems)
	intEnv("WATCHTOWER_MAX_RECONNECT_ATTEMPTS", &cfg.Network.MaxReconnectAttempts, 0, &problems)
	intEnv("WATCHTOWER_RECONNECT_DELAY_SECONDS", &cfg.Network.ReconnectDelaySeconds, 1, &problems)

	intEnv("WATCHTOWER_MAX_MESSAGES_PER_MINUTE", &cfg.Rate.MaxMessagesPerMinute, 1, &problems)
	intEnv("WATCHTOWER_BURST_SIZE", &cfg.Rate.BurstSize, 1, &problems)
	boolEnv("WATCHTOWER_RATE_LIMITING_ENABLED", &cfg.Rate.Enabled, &problems)

	boolEnv("WATCHTOWER_ENABLE_BATCHING", &cfg.Global.EnableBatching, &problems)
	intEnv("WATCHTOWER_BATCH_SIZE", &cfg.Global.BatchSize, 1, &problems)
	intEnv("WATCHTOWER_BATCH_TIMEOUT_SECONDS", &cfg.Global.BatchTimeoutSeconds, 1, &problems)
	if v := getString("WATCHTOWER_MIN_SEVERITY", ""); v != "" {
		cfg.Global.MinSeverity = v
	}

	intEnv("WATCHTOWER_MAX_HISTORY_EVENTS", &cfg.Engine.MaxHistoryEvents, 1, &problems)
	intEnv("WATCHTOWER_MAX_HISTORY_AGE_SECONDS", &cfg.Engine.MaxHistoryAgeSeconds, 1, &problems)
	intEnv("WATCHTOWER_MAX_CONCURRENT_EVALUATIONS", &cfg.Engine.MaxConcurrentEvaluations, 1, &problems)
	intEnv("WATCHTOWER_RULE_TIMEOUT_SECONDS", &cfg.Engine.RuleTimeoutSeconds, 1, &problems)
	intEnv("WATCHTOWER_EVENT_BUFFER_SIZE", &cfg.Engine.EventBufferSize, 1, &problems)

	boolEnv("WATCHTOWER_METRICS_ENABLED", &cfg.Metrics.Enabled, &problems)
	intEnv("WATCHTOWER_PROMETHEUS_PORT", &cfg.Metrics.PrometheusPort, 1, &problems)

	intEnv("WATCHTOWER_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB, 1, &problems)
	intEnv("WATCHTOWER_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups, 0, &problems)
	intEnv("WATCHTOWER_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays, 0, &problems)
	boolEnv("WATCHTOWER_LOG_COMPRESS", &cfg.Logging.Compress, &problems)

	boolEnv("WATCHTOWER_INCLUDE_FAILED", &cfg.Filters.IncludeFailed, &problems)
	boolEnv("WATCHTOWER_INCLUDE_VOTES", &cfg.Filters.IncludeVotes, &problems)
	intEnv("WATCHTOWER_MAX_TRANSACTIONS_PER_NOTIFICATION", &cfg.Filters.MaxTransactionsPerNotification, 1, &problems)

	ids := parseList(os.Getenv("WATCHTOWER_PROGRAM_IDS"))
	names := parseList(os.Getenv("WATCHTOWER_PROGRAM_NAMES"))
	for i, id := range ids {
		name := id
		if i < len(names) {
			name = names[i]
		}
		cfg.Programs = append(cfg.Programs, ProgramConfig{
			ID:                  id,
			Name:                name,
			MonitorAccounts:     true,
			MonitorTransactions: true,
			MonitorLogs:         true,
		})
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Validate performs the cross-field checks an external loader should
// also run before handing a Config to the engine: a configuration
// error here is fatal at startup, with no partial operation.
func (c *Config) Validate() error {
	var problems []string
	if c.Network.WSURL == "" {
		problems = append(problems, "network.ws_url must be set")
	}
	if len(c.Programs) == 0 {
		problems = append(problems, "at least one program must be configured")
	}
	if c.Engine.MaxConcurrentEvaluations <= 0 {
		problems = append(problems, "engine.max_concurrent_evaluations must be positive")
	}
	if c.Engine.RuleTimeoutSeconds <= 0 {
		problems = append(problems, "engine.rule_timeout_seconds must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, target *int, min int, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min {
		*problems = append(*problems, fmt.Sprintf("%s must be an integer >= %d, got %q", key, min, raw))
		return
	}
	*target = value
}

func boolEnv(key string, target *bool, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be a boolean, got %q", key, raw))
		return
	}
	*target = value
}

// parseList splits a comma-separated environment value into trimmed,
// non-empty entries.
func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReconnectDelay returns the base reconnect delay as a Duration.
func (n NetworkConfig) ReconnectDelay() time.Duration {
	return time.Duration(n.ReconnectDelaySeconds) * time.Second
}
