package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/conneroisu/assetpipe/internal/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "", cfg.ProxyURL)
	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "localhost:3000", cfg.Server.Address())
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.True(t, cfg.Watch.BuildFirst)
	assert.Equal(t, "sass", cfg.Styles.Compiler)
	assert.True(t, cfg.Styles.SourceMap)
	assert.Equal(t, 85, cfg.Images.JPEGQuality)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "proxyUrl": "http://localhost:8000",
  "server": {"port": 4000},
  "watch": {"debounce": "250ms"},
  "styles": {"loadPaths": ["node_modules"]}
}`), 0644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.ProxyURL)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, []string{"node_modules"}, cfg.Styles.LoadPaths)
	require.NoError(t, cfg.ValidateForWatch())

	u, err := cfg.Upstream()
	require.NoError(t, err)
	assert.Equal(t, "localhost:8000", u.Host)
}

func TestValidateForWatch(t *testing.T) {
	testCases := []struct {
		name     string
		proxyURL string
		code     string
	}{
		{"missing", "", apperrors.CodeMissingProxyURL},
		{"bad scheme", "ftp://localhost", apperrors.CodeInvalidProxyURL},
		{"no host", "http://", apperrors.CodeInvalidProxyURL},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{ProxyURL: tc.proxyURL}
			err := cfg.ValidateForWatch()
			require.Error(t, err)
			assert.True(t, apperrors.IsConfigError(err))
			assert.ErrorIs(t, err, apperrors.NewConfigError(tc.code, ""))
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"port too high", "server.port", 70000},
		{"host injection", "server.host", "localhost;rm"},
		{"negative debounce", "watch.debounce", "-1s"},
		{"compiler not allowed", "styles.compiler", "bash"},
		{"load path traversal", "styles.loadPaths", []string{"../outside"}},
		{"jpeg quality", "images.jpegQuality", 0},
		{"log format", "logging.format", "xml"},
		{"proxy url", "proxyUrl", "localhost:8000"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tc.key, tc.value)
			_, err := LoadFrom(v)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ASSETPIPE_PROXYURL", "http://127.0.0.1:9000")
	t.Setenv("ASSETPIPE_SERVER_PORT", "3100")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	// AutomaticEnv only resolves keys viper already knows about.
	SetDefaults(v)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.ProxyURL)
	assert.Equal(t, 3100, cfg.Server.Port)
}
