package containerobjects

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONTAINEROBJECTS_DOCKER_HOST",
		"CONTAINEROBJECTS_PROXY_TYPE",
		"CONTAINEROBJECTS_PROXY_HOST",
		"CONTAINEROBJECTS_PROXY_PORT",
		"CONTAINEROBJECTS_LOG_LEVEL",
		"CONTAINEROBJECTS_LOG_FORMAT",
		"CONTAINEROBJECTS_LEDGER_PATH",
		"CONTAINEROBJECTS_READINESS_MAX_TIMEOUT",
		"CONTAINEROBJECTS_READINESS_CHECK_INTERVAL",
		"DOCKER_NETWORKPROXY_TYPE",
		"DOCKER_NETWORKPROXY_HOSTNAME",
		"DOCKER_NETWORKPROXY_PORT",
	} {
		t.Setenv(key, "")
	}
}

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ProxyDirect, cfg.Proxy.Type)
	assert.Empty(t, cfg.Docker.Host)
	assert.Empty(t, cfg.Ledger.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 5*time.Minute, cfg.Readiness.MaxTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Readiness.CheckInterval)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
docker:
  host: "unix:///var/run/docker.sock"

proxy:
  type: http
  host: proxy.internal

ledger:
  path: "/tmp/ledger.db"

readiness:
  max_timeout: 30s
  check_interval: 100ms

log:
  level: "debug"
  format: "json"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "unix:///var/run/docker.sock", cfg.Docker.Host)
	assert.Equal(t, ProxyHTTP, cfg.Proxy.Type)
	assert.Equal(t, "proxy.internal", cfg.Proxy.Host)
	assert.Equal(t, 8080, cfg.Proxy.Port)
	assert.Equal(t, "/tmp/ledger.db", cfg.Ledger.Path)
	assert.Equal(t, 30*time.Second, cfg.Readiness.MaxTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Readiness.CheckInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_LegacyProxyVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCKER_NETWORKPROXY_TYPE", "SOCKS")
	t.Setenv("DOCKER_NETWORKPROXY_HOSTNAME", "bastion")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ProxySOCKS, cfg.Proxy.Type)
	assert.Equal(t, "bastion", cfg.Proxy.Host)
	assert.Equal(t, 1080, cfg.Proxy.Port)
	assert.Equal(t, "bastion:1080", cfg.Proxy.Address())
}

func TestLoadConfig_PrefixedVariablesWin(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCKER_NETWORKPROXY_TYPE", "socks")
	t.Setenv("DOCKER_NETWORKPROXY_HOSTNAME", "bastion")
	t.Setenv("CONTAINEROBJECTS_PROXY_TYPE", "http")
	t.Setenv("CONTAINEROBJECTS_PROXY_PORT", "3128")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ProxyHTTP, cfg.Proxy.Type)
	assert.Equal(t, "bastion", cfg.Proxy.Host)
	assert.Equal(t, 3128, cfg.Proxy.Port)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTAINEROBJECTS_LOG_LEVEL", "warn")
	t.Setenv("CONTAINEROBJECTS_LEDGER_PATH", "/var/lib/containerobjects.db")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/var/lib/containerobjects.db", cfg.Ledger.Path)
}

func TestLoadConfig_InvalidProxy(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown type", env: map[string]string{"DOCKER_NETWORKPROXY_TYPE": "ftp"}},
		{name: "missing host", env: map[string]string{"DOCKER_NETWORKPROXY_TYPE": "http"}},
		{name: "port out of range", env: map[string]string{
			"DOCKER_NETWORKPROXY_TYPE":     "http",
			"DOCKER_NETWORKPROXY_HOSTNAME": "proxy",
			"DOCKER_NETWORKPROXY_PORT":     "70000",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ProxyDirect, cfg.Proxy.Type)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Network Proxy Tests
// =============================================================================

func TestNewEnvironment_NetworkProxy(t *testing.T) {
	tests := []struct {
		name    string
		proxy   ProxyConfig
		wantURL string
	}{
		{name: "direct", proxy: ProxyConfig{Type: ProxyDirect}},
		{name: "http", proxy: ProxyConfig{Type: ProxyHTTP, Host: "proxy"}, wantURL: "http://proxy:8080"},
		{name: "socks", proxy: ProxyConfig{Type: ProxySOCKS, Host: "bastion", Port: 1081}, wantURL: "socks5://bastion:1081"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Proxy = tt.proxy
			env, _ := newTestEnvironment(t, WithConfig(&cfg))

			if tt.wantURL == "" {
				assert.Nil(t, env.ProxyURL())
			} else {
				require.NotNil(t, env.ProxyURL())
				assert.Equal(t, tt.wantURL, env.ProxyURL().String())
			}
			assert.NotNil(t, env.Dialer())
			require.NotNil(t, env.HTTPClient())
		})
	}
}

func TestNewEnvironment_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy = ProxyConfig{Type: ProxySOCKS}

	_, err := NewEnvironment(context.Background(), WithConfig(&cfg), WithLogger(testLogger()))
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger(t *testing.T) {
	for _, tc := range []struct{ level, format string }{
		{"info", "json"},
		{"info", "text"},
		{"debug", "json"},
		{"warn", "text"},
		{"error", "json"},
		{"invalid", "json"},
	} {
		logger := SetupLogger(&Config{Log: LogConfig{Level: tc.level, Format: tc.format}})
		assert.NotNil(t, logger, "%s/%s", tc.level, tc.format)
	}
}
