package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearResolverEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"RESOLVER_CONFIG_FILE", "SERVICE_NAME", "SERVICE_VERSION", "DEBUG", "LOG_LEVEL",
		"NETWORK", "STORE_URL", "CHAIN_A_ENDPOINT", "CHAIN_B_ENDPOINT", "ESCROW_CONTRACT_A",
		"SUI_PACKAGE_ID", "SUI_REGISTRY_OBJECT", "FINALITY_DEPTH_A", "FINALITY_DEPTH_B",
		"POLL_INTERVAL_A_MS", "POLL_INTERVAL_B_MS", "RATE_LIMIT_A_RPS", "RATE_LIMIT_B_RPS",
		"MAX_ATTEMPTS", "BASE_BACKOFF_MS", "MAX_BACKOFF_MS", "RETENTION_MS",
		"RESOLVER_STAKE_A", "RESOLVER_STAKE_B", "KEY_REF_A", "KEY_REF_B",
		"HEALTH_PORT", "CONTROL_PORT", "WORKER_COUNT", "CHANNEL_BUFFER_SIZE",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearResolverEnv(t)
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, NetworkTestnet, cfg.Network)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearResolverEnv(t)
	os.Setenv("NETWORK", "mainnet")
	os.Setenv("MAX_ATTEMPTS", "3")
	os.Setenv("HEALTH_PORT", "9999")
	defer clearResolverEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Network != NetworkMainnet {
		t.Errorf("network = %s, want mainnet", cfg.Network)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.HealthPort != 9999 {
		t.Errorf("health port = %d, want 9999", cfg.HealthPort)
	}
}

func TestLoadFromEnvInvalidInt(t *testing.T) {
	clearResolverEnv(t)
	os.Setenv("MAX_ATTEMPTS", "not-a-number")
	defer clearResolverEnv(t)

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected an error for a non-numeric MAX_ATTEMPTS")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Network:        NetworkTestnet,
			StoreURL:       "memory",
			ChainAEndpoint: "http://localhost:8545",
			ChainBEndpoint: "http://localhost:9000",
			MaxAttempts:    5,
			BaseBackoffMs:  100,
			MaxBackoffMs:   1000,
			WorkerCount:    4,
			HealthPort:     8080,
			ControlPort:    8081,
			RateLimitARPS:  5,
			RateLimitBRPS:  5,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad network", func(c *Config) { c.Network = "" }},
		{"missing store url", func(c *Config) { c.StoreURL = "" }},
		{"missing chain endpoint", func(c *Config) { c.ChainBEndpoint = "" }},
		{"zero max attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"backoff bounds inverted", func(c *Config) { c.MaxBackoffMs = 10 }},
		{"zero worker count", func(c *Config) { c.WorkerCount = 0 }},
		{"bad health port", func(c *Config) { c.HealthPort = 0 }},
		{"bad control port", func(c *Config) { c.ControlPort = 70000 }},
		{"zero rate limit", func(c *Config) { c.RateLimitARPS = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected Validate to reject: %s", tt.name)
			}
		})
	}
}

func TestTimeoutProfilePerNetwork(t *testing.T) {
	for _, n := range []Network{NetworkMainnet, NetworkTestnet, NetworkDevnet} {
		cfg := &Config{Network: n}
		p, err := cfg.TimeoutProfile()
		if err != nil {
			t.Fatalf("TimeoutProfile(%s): %v", n, err)
		}
		if p.SafetyMargin <= 0 || p.MinTimeout <= 0 {
			t.Errorf("network %s has a non-positive profile field: %+v", n, p)
		}
	}

	if _, err := (&Config{Network: "unknown"}).TimeoutProfile(); err == nil {
		t.Fatal("expected an error for an unknown network")
	}
}
