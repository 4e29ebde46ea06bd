package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigNeedsOnlyASecret(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Verify(), "hybrid mode without a shared secret must not verify")

	cfg.Authn.JWT.SharedSecret = "secret"
	require.NoError(t, cfg.Verify())
}

func TestVerifyRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "bad_log_format",
			mutate:  func(c *Config) { c.Log.Format = "yaml" },
			wantMsg: "log.format",
		},
		{
			name:    "bad_log_level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantMsg: "log.level",
		},
		{
			name:    "bad_authn_method",
			mutate:  func(c *Config) { c.Authn.Method = "basic" },
			wantMsg: "authn.method",
		},
		{
			name:    "sqlite_without_uri",
			mutate:  func(c *Config) { c.Datastore.Engine = "sqlite" },
			wantMsg: "datastore.uri",
		},
		{
			name:    "bad_engine",
			mutate:  func(c *Config) { c.Datastore.Engine = "mysql" },
			wantMsg: "datastore.engine",
		},
		{
			name:    "zero_depth_limit",
			mutate:  func(c *Config) { c.GraphQL.MaxQueryDepth = 0 },
			wantMsg: "graphql.maxQueryDepth",
		},
		{
			name: "bad_sample_ratio",
			mutate: func(c *Config) {
				c.Trace.Enabled = true
				c.Trace.SampleRatio = 1.5
			},
			wantMsg: "trace.sampleRatio",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Authn.JWT.SharedSecret = "secret"
			test.mutate(cfg)
			err := cfg.Verify()
			require.Error(t, err)
			require.Contains(t, err.Error(), test.wantMsg)
		})
	}
}

func TestForwardedModeNeedsNoSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Authn.Method = "forwarded-headers"
	require.NoError(t, cfg.Verify())
}
