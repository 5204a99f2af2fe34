package config

import (
	"strings"
	"testing"
)

func clearWatchtowerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WATCHTOWER_RPC_URL",
		"WATCHTOWER_WS_URL",
		"WATCHTOWER_COMMITMENT",
		"WATCHTOWER_NETWORK_TIMEOUT_SECONDS",
		"WATCHTOWER_MAX_RECONNECT_ATTEMPTS",
		"WATCHTOWER_RECONNECT_DELAY_SECONDS",
		"WATCHTOWER_MAX_MESSAGES_PER_MINUTE",
		"WATCHTOWER_BURST_SIZE",
		"WATCHTOWER_RATE_LIMITING_ENABLED",
		"WATCHTOWER_ENABLE_BATCHING",
		"WATCHTOWER_BATCH_SIZE",
		"WATCHTOWER_BATCH_TIMEOUT_SECONDS",
		"WATCHTOWER_MIN_SEVERITY",
		"WATCHTOWER_MAX_HISTORY_EVENTS",
		"WATCHTOWER_MAX_HISTORY_AGE_SECONDS",
		"WATCHTOWER_MAX_CONCURRENT_EVALUATIONS",
		"WATCHTOWER_RULE_TIMEOUT_SECONDS",
		"WATCHTOWER_EVENT_BUFFER_SIZE",
		"WATCHTOWER_METRICS_ENABLED",
		"WATCHTOWER_PROMETHEUS_PORT",
		"WATCHTOWER_LOG_LEVEL",
		"WATCHTOWER_LOG_PATH",
		"WATCHTOWER_LOG_MAX_SIZE_MB",
		"WATCHTOWER_LOG_MAX_BACKUPS",
		"WATCHTOWER_LOG_MAX_AGE_DAYS",
		"WATCHTOWER_LOG_COMPRESS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearWatchtowerEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Network.TimeoutSeconds != 30 {
		t.Fatalf("expected default timeout 30, got %d", cfg.Network.TimeoutSeconds)
	}
	if cfg.Network.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Fatalf("expected default max reconnect attempts %d, got %d", DefaultMaxReconnectAttempts, cfg.Network.MaxReconnectAttempts)
	}
	if cfg.Filters.Commitment != "confirmed" {
		t.Fatalf("expected default commitment confirmed, got %q", cfg.Filters.Commitment)
	}
	if cfg.Rate.MaxMessagesPerMinute != DefaultMaxMessagesPerMinute {
		t.Fatalf("expected default max messages per minute %d, got %d", DefaultMaxMessagesPerMinute, cfg.Rate.MaxMessagesPerMinute)
	}
	if !cfg.Rate.Enabled {
		t.Fatalf("expected rate limiting enabled by default")
	}
	if cfg.Global.MinSeverity != "Info" {
		t.Fatalf("expected default min severity Info, got %q", cfg.Global.MinSeverity)
	}
	if cfg.Engine.MaxHistoryEvents != DefaultMaxHistoryEvents {
		t.Fatalf("expected default max history events %d, got %d", DefaultMaxHistoryEvents, cfg.Engine.MaxHistoryEvents)
	}
	if cfg.Engine.MaxConcurrentEvaluations != DefaultMaxConcurrentEvals {
		t.Fatalf("expected default max concurrent evaluations %d, got %d", DefaultMaxConcurrentEvals, cfg.Engine.MaxConcurrentEvaluations)
	}
	if !cfg.Metrics.Enabled {
		t.Fatalf("expected metrics enabled by default")
	}
	if cfg.Metrics.PrometheusPort != DefaultPrometheusPort {
		t.Fatalf("expected default prometheus port %d, got %d", DefaultPrometheusPort, cfg.Metrics.PrometheusPort)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("expected default log max size %d, got %d", DefaultLogMaxSizeMB, cfg.Logging.MaxSizeMB)
	}
	if !cfg.Logging.Compress {
		t.Fatalf("expected log compression enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearWatchtowerEnv(t)
	t.Setenv("WATCHTOWER_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("WATCHTOWER_WS_URL", "wss://api.mainnet-beta.solana.com")
	t.Setenv("WATCHTOWER_COMMITMENT", "finalized")
	t.Setenv("WATCHTOWER_NETWORK_TIMEOUT_SECONDS", "15")
	t.Setenv("WATCHTOWER_MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("WATCHTOWER_RECONNECT_DELAY_SECONDS", "2")
	t.Setenv("WATCHTOWER_MAX_MESSAGES_PER_MINUTE", "40")
	t.Setenv("WATCHTOWER_BURST_SIZE", "8")
	t.Setenv("WATCHTOWER_RATE_LIMITING_ENABLED", "false")
	t.Setenv("WATCHTOWER_ENABLE_BATCHING", "true")
	t.Setenv("WATCHTOWER_BATCH_SIZE", "25")
	t.Setenv("WATCHTOWER_BATCH_TIMEOUT_SECONDS", "10")
	t.Setenv("WATCHTOWER_MIN_SEVERITY", "Medium")
	t.Setenv("WATCHTOWER_MAX_HISTORY_EVENTS", "50000")
	t.Setenv("WATCHTOWER_MAX_HISTORY_AGE_SECONDS", "1800")
	t.Setenv("WATCHTOWER_MAX_CONCURRENT_EVALUATIONS", "128")
	t.Setenv("WATCHTOWER_RULE_TIMEOUT_SECONDS", "2")
	t.Setenv("WATCHTOWER_EVENT_BUFFER_SIZE", "5000")
	t.Setenv("WATCHTOWER_METRICS_ENABLED", "false")
	t.Setenv("WATCHTOWER_PROMETHEUS_PORT", "9999")
	t.Setenv("WATCHTOWER_LOG_LEVEL", "debug")
	t.Setenv("WATCHTOWER_LOG_PATH", "/var/log/watchtower.log")
	t.Setenv("WATCHTOWER_LOG_MAX_SIZE_MB", "250")
	t.Setenv("WATCHTOWER_LOG_MAX_BACKUPS", "3")
	t.Setenv("WATCHTOWER_LOG_MAX_AGE_DAYS", "14")
	t.Setenv("WATCHTOWER_LOG_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Network.RPCURL != "https://api.mainnet-beta.solana.com" {
		t.Fatalf("unexpected rpc url %q", cfg.Network.RPCURL)
	}
	if cfg.Network.WSURL != "wss://api.mainnet-beta.solana.com" {
		t.Fatalf("unexpected ws url %q", cfg.Network.WSURL)
	}
	if cfg.Filters.Commitment != "finalized" {
		t.Fatalf("unexpected commitment %q", cfg.Filters.Commitment)
	}
	if cfg.Network.TimeoutSeconds != 15 {
		t.Fatalf("expected overridden timeout 15, got %d", cfg.Network.TimeoutSeconds)
	}
	if cfg.Network.MaxReconnectAttempts != 3 {
		t.Fatalf("expected overridden max reconnect attempts 3, got %d", cfg.Network.MaxReconnectAttempts)
	}
	if cfg.Rate.MaxMessagesPerMinute != 40 {
		t.Fatalf("expected overridden max messages per minute 40, got %d", cfg.Rate.MaxMessagesPerMinute)
	}
	if cfg.Rate.Enabled {
		t.Fatalf("expected rate limiting disabled")
	}
	if !cfg.Global.EnableBatching {
		t.Fatalf("expected batching enabled")
	}
	if cfg.Global.MinSeverity != "Medium" {
		t.Fatalf("expected overridden min severity Medium, got %q", cfg.Global.MinSeverity)
	}
	if cfg.Engine.MaxHistoryEvents != 50000 {
		t.Fatalf("expected overridden max history events 50000, got %d", cfg.Engine.MaxHistoryEvents)
	}
	if cfg.Engine.RuleTimeoutSeconds != 2 {
		t.Fatalf("expected overridden rule timeout 2, got %d", cfg.Engine.RuleTimeoutSeconds)
	}
	if cfg.Metrics.Enabled {
		t.Fatalf("expected metrics disabled")
	}
	if cfg.Metrics.PrometheusPort != 9999 {
		t.Fatalf("expected overridden prometheus port 9999, got %d", cfg.Metrics.PrometheusPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB != 250 {
		t.Fatalf("expected overridden log max size 250, got %d", cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected log compression disabled")
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	clearWatchtowerEnv(t)
	t.Setenv("WATCHTOWER_NETWORK_TIMEOUT_SECONDS", "0")
	t.Setenv("WATCHTOWER_MAX_MESSAGES_PER_MINUTE", "-5")
	t.Setenv("WATCHTOWER_RATE_LIMITING_ENABLED", "notabool")
	t.Setenv("WATCHTOWER_MAX_CONCURRENT_EVALUATIONS", "abc")
	t.Setenv("WATCHTOWER_LOG_MAX_SIZE_MB", "-1")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"WATCHTOWER_NETWORK_TIMEOUT_SECONDS",
		"WATCHTOWER_MAX_MESSAGES_PER_MINUTE",
		"WATCHTOWER_RATE_LIMITING_ENABLED",
		"WATCHTOWER_MAX_CONCURRENT_EVALUATIONS",
		"WATCHTOWER_LOG_MAX_SIZE_MB",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestValidateRequiresWSURLAndPrograms(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error on empty config")
	}
	for _, want := range []string{"network.ws_url", "program"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %q, got %q", want, err.Error())
		}
	}
}

func TestValidatePassesWithMinimalValidConfig(t *testing.T) {
	cfg := &Config{
		Network: NetworkConfig{WSURL: "wss://api.mainnet-beta.solana.com"},
		Programs: []ProgramConfig{
			{ID: "11111111111111111111111111111111", Name: "system"},
		},
		Engine: EngineConfig{MaxConcurrentEvaluations: 16, RuleTimeoutSeconds: 5},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}
