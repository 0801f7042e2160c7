package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustscore/internal/errors"
	"trustscore/internal/retry"
)

const sampleYAML = `
providers:
  - name: etherscan
    base_url: https://api.etherscan.io/v2/api
    chain_id: "1"
    rate_limit: 5
    use_proxy: true
    api_keys: ["k1", "k2"]
    proxies:
      - name: p1
        uri: http://proxy-1:3128
        api_keys: ["pk1"]
    retry:
      enabled: true
      max_retries: 3
      default_backoff: 250ms
      status_backoff:
        429: 2s
chains:
  ethereum:
    provider: etherscan
    native_price_usd: 3000
cache:
  ttl: 5m
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func validConfig() *Config {
	cfg := GetDefaultConfig()
	cfg.Providers = []*ProviderConfig{{
		Name:    "etherscan",
		Kind:    "explorer",
		BaseURL: "https://api.etherscan.io/v2/api",
		APIKeys: []string{"k1"},
	}}
	cfg.Chains["ethereum"] = &ChainConfig{Provider: "etherscan", NativePriceUSD: 3000}
	return cfg
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	require.NotNil(t, cfg.Scoring)
	require.NotNil(t, cfg.Cache)
	require.NotNil(t, cfg.Server)
	require.NotNil(t, cfg.Logging)

	assert.Equal(t, "wallet", cfg.Scoring.Model)
	assert.Len(t, cfg.Scoring.Weights, 6)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfigFromFile(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	p := cfg.Providers[0]
	assert.Equal(t, "etherscan", p.Name)
	assert.Equal(t, "explorer", p.Kind) // 默认类型
	assert.Equal(t, 30*time.Second, p.Timeout)
	assert.Equal(t, 5.0, p.RateLimit)
	assert.True(t, p.UseProxy)
	assert.Equal(t, []string{"k1", "k2"}, p.APIKeys)
	require.Len(t, p.Proxies, 1)
	assert.Equal(t, []string{"pk1"}, p.Proxies[0].APIKeys)

	require.NotNil(t, p.Retry)
	assert.Equal(t, 3, p.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, p.Retry.DefaultBackoff)
	assert.Equal(t, 2*time.Second, p.Retry.StatusBackoff[429])

	assert.Equal(t, 3000.0, cfg.Chains["ethereum"].NativePriceUSD)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	// 文件未覆盖的字段保留默认值
	assert.Equal(t, "wallet", cfg.Scoring.Model)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaults_Retry(t *testing.T) {
	cfg := &Config{Providers: []*ProviderConfig{{Name: "x"}}}
	cfg.applyDefaults()
	assert.Same(t, retry.DefaultRetryConfig, cfg.Providers[0].Retry)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
		valid  bool
	}{
		{"valid", func(cfg *Config) {}, true},
		{"no providers", func(cfg *Config) { cfg.Providers = nil }, false},
		{"empty name", func(cfg *Config) { cfg.Providers[0].Name = "" }, false},
		{"bad url", func(cfg *Config) { cfg.Providers[0].BaseURL = "invalid-url" }, false},
		{"bad kind", func(cfg *Config) { cfg.Providers[0].Kind = "graphql" }, false},
		{"negative rate", func(cfg *Config) { cfg.Providers[0].RateLimit = -1 }, false},
		{"retry without attempts", func(cfg *Config) {
			cfg.Providers[0].Retry = &retry.RetryConfig{Enabled: true, MaxRetries: 0}
		}, false},
		{"duplicate provider", func(cfg *Config) {
			cfg.Providers = append(cfg.Providers, cfg.Providers[0])
		}, false},
		{"unknown chain provider", func(cfg *Config) { cfg.Chains["ethereum"].Provider = "nope" }, false},
		{"unknown balance provider", func(cfg *Config) { cfg.Chains["ethereum"].BalanceProvider = "nope" }, false},
		{"negative price", func(cfg *Config) { cfg.Chains["ethereum"].NativePriceUSD = -1 }, false},
		{"zero ttl", func(cfg *Config) { cfg.Cache.TTL = 0 }, false},
		{"bolt without path", func(cfg *Config) { cfg.Cache.Backend = "bolt" }, false},
		{"unknown backend", func(cfg *Config) { cfg.Cache.Backend = "redis" }, false},
		{"unknown chain", func(cfg *Config) {
			cfg.Chains["dogecoin"] = &ChainConfig{Provider: cfg.Chains["ethereum"].Provider}
		}, false},
		{"unknown model", func(cfg *Config) { cfg.Scoring.Model = "defi" }, false},
		{"median model", func(cfg *Config) { cfg.Scoring.Model = "wallet_median" }, true},
		{"unnamed proxy", func(cfg *Config) {
			cfg.Providers[0].Proxies = []*ProxyConfig{{URI: "http://p:1"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrConfigInvalid), "err=%v", err)
		})
	}
}

func TestMergeCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Proxies = []*ProxyConfig{
		{Name: "p1", URI: "http://old:1"},
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	mergeCredentials(cfg,
		map[string][]string{"etherscan": {"db1", "db2"}, "ghost": {"x"}},
		map[string][]*ProxyConfig{"etherscan": {
			{Name: "p1", URI: "http://new:1"},
			{Name: "p2", URI: "http://p2:1", APIKeys: []string{"pk"}},
		}},
		logger,
	)

	p := cfg.Providers[0]
	assert.Equal(t, []string{"k1", "db1", "db2"}, p.APIKeys)
	require.Len(t, p.Proxies, 2)
	assert.Equal(t, "http://new:1", p.Proxies[0].URI)
	assert.Equal(t, "p2", p.Proxies[1].Name)
}

func TestProviderLookup(t *testing.T) {
	cfg := validConfig()

	p, ok := cfg.Provider("etherscan")
	assert.True(t, ok)
	assert.Equal(t, "etherscan", p.Name)

	_, ok = cfg.Provider("missing")
	assert.False(t, ok)
}

func BenchmarkValidate(b *testing.B) {
	cfg := validConfig()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.Validate()
	}
}
