package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhbiyani/crossfed/pkg/cloudauth"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cloudauth.DefaultDescriptorPath, cfg.DescriptorPath)
	assert.Equal(t, "ACCOUNTS_API_KEY", cfg.Accounts.APIKeySecret)
	assert.Equal(t, "AWS_SAMA_PROD", cfg.AWS.KeysSecret)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crossfed.yaml")
	doc := `
log:
  level: debug
  format: json
http:
  timeout: 5s
secrets:
  source: env
accounts:
  url: https://accounts.example.com
federation:
  pool_id: other-pool
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "env", cfg.Secrets.Source)
	assert.Equal(t, "https://accounts.example.com", cfg.Accounts.URL)
	assert.Equal(t, "other-pool", cfg.Federation.PoolID)
	// Unset keys keep their defaults.
	assert.Equal(t, "1024378210460", cfg.Federation.PoolProjectNumber)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, cloudauth.IsConfiguration(err))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log: [unclosed"), 0o600))
	_, err = Load(bad)
	require.Error(t, err)
	assert.True(t, cloudauth.IsConfiguration(err))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CROSSFED_LOG_LEVEL":      "warn",
		"CROSSFED_SECRETS_SOURCE": "env",
		"CROSSFED_AWS_PROFILE":    "prod",
		"CROSSFED_DEBUG":          "true",
		"CROSSFED_HTTP_TIMEOUT":   "2s",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "env", cfg.Secrets.Source)
	assert.Equal(t, "prod", cfg.AWS.Profile)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 2*time.Second, cfg.HTTP.Timeout)

	env["CROSSFED_DEBUG"] = "sometimes"
	err := Default().applyEnv(lookup)
	require.Error(t, err)
	assert.True(t, cloudauth.IsConfiguration(err))

	env["CROSSFED_DEBUG"] = "false"
	env["CROSSFED_HTTP_TIMEOUT"] = "soon"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero timeout", mutate: func(c *Config) { c.HTTP.Timeout = 0 }},
		{name: "missing pool", mutate: func(c *Config) { c.Federation.PoolID = "" }},
		{name: "bad internal sa", mutate: func(c *Config) { c.Federation.InternalServiceAccount = "sa" }},
		{name: "bad bridge sa", mutate: func(c *Config) { c.Federation.BridgeServiceAccount = "sa@example.com" }},
		{name: "bad external audience", mutate: func(c *Config) { c.Federation.ExternalAudience = "aud" }},
		{name: "unknown secret source", mutate: func(c *Config) { c.Secrets.Source = "vault" }},
		{name: "plain http accounts", mutate: func(c *Config) { c.Accounts.URL = "http://accounts" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, cloudauth.IsConfiguration(err))
		})
	}
}
