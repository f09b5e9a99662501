package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Batch.Concurrency)
	assert.Equal(t, 2, cfg.Batch.RetryConcurrency)
	assert.Equal(t, 90*time.Second, cfg.Auth.ManualLoginTimeout)
	assert.Equal(t, 300*time.Second, cfg.Auth.TwoFactorTimeout)
	assert.Equal(t, 300*time.Second, cfg.Auth.InputTimeout)
	assert.Equal(t, StoreNone, cfg.Store.Driver)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stockpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://staging.oblio.eu/
batch:
  concurrency: 3
  force: true
  decimal_separator: ","
auth:
  two_factor_timeout: 2m
transfer:
  source: Depozit
  destination: Magazin Online
  decant_patterns: ["*-[0-9]"]
store:
  driver: sqlite
  path: processed.db
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Batch.Concurrency)
	assert.True(t, cfg.Batch.Force)
	assert.Equal(t, ",", cfg.Batch.DecimalSeparator)
	assert.Equal(t, 2*time.Minute, cfg.Auth.TwoFactorTimeout)
	assert.Equal(t, "Magazin Online", cfg.Transfer.Destination)
	assert.Equal(t, []string{"*-[0-9]"}, cfg.Transfer.DecantPatterns)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)

	// untouched values keep their defaults
	assert.Equal(t, 2, cfg.Batch.RetryConcurrency)
	assert.Equal(t, "/stock/production/", cfg.Routes.Production)
	assert.Equal(t, "https://staging.oblio.eu/stock/production/", cfg.URL(cfg.Routes.Production))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("batch: [1, 2"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "failed to parse config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("batch:\n  concurrency: 0\n"), 0o600))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "batch.concurrency")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "relative base url", mutate: func(c *Config) { c.BaseURL = "oblio.eu" }, wantErr: "base_url"},
		{name: "route without slash", mutate: func(c *Config) { c.Routes.Ledger = "report" }, wantErr: "routes.ledger"},
		{name: "bad glob", mutate: func(c *Config) { c.Routes.LoginPattern = "*/login[" }, wantErr: "login_pattern"},
		{name: "preview without group", mutate: func(c *Config) { c.Routes.PreviewPattern = `/preview/\d+` }, wantErr: "capture group"},
		{name: "retry concurrency", mutate: func(c *Config) { c.Batch.RetryConcurrency = 0 }, wantErr: "retry_concurrency"},
		{name: "too few tabs", mutate: func(c *Config) { c.Browser.MaxTabs = 5 }, wantErr: "max_tabs"},
		{name: "separator", mutate: func(c *Config) { c.Batch.DecimalSeparator = ";" }, wantErr: "decimal_separator"},
		{name: "zero timeout", mutate: func(c *Config) { c.Auth.TwoFactorTimeout = 0 }, wantErr: "auth.two_factor_timeout"},
		{name: "same locations", mutate: func(c *Config) { c.Transfer.Destination = c.Transfer.Source }, wantErr: "must differ"},
		{name: "zero price", mutate: func(c *Config) { c.Transfer.DefaultUnitPrice = 0 }, wantErr: "default_unit_price"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store.Driver = StoreSQLite }, wantErr: "store.path"},
		{name: "redis without addr", mutate: func(c *Config) { c.Store.Driver = StoreRedis }, wantErr: "store.addr"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "store.driver"},
		{name: "negative pacing", mutate: func(c *Config) { c.Pacing.ActionsPerSecond = -1 }, wantErr: "pacing"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: "logging.level"},
		{name: "disabled transfer skips its checks", mutate: func(c *Config) {
			c.Transfer.Enabled = false
			c.Transfer.Source = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = ""
	cfg.Logging.Level = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreNone, cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
}
