// Package config holds the server's run configuration. Values are populated
// from flags, environment, and config file through viper; mapstructure tags
// name the keys.
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/itemvault/itemvault/internal/authn"
	"github.com/itemvault/itemvault/internal/gql"
)

const (
	DefaultHTTPAddr = "0.0.0.0:8080"

	DefaultDatastoreEngine          = "memory"
	DefaultDatastoreMaxOpenConns    = 30
	DefaultDatastoreMaxIdleConns    = 10
	DefaultDatastoreConnMaxIdleTime = 30 * time.Second
	DefaultDatastoreConnMaxLifetime = 5 * time.Minute

	DefaultTraceSampleRatio = 0.2
)

type LogConfig struct {
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
	// Level is one of debug, info, warn, error, fatal, none.
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr               string        `mapstructure:"addr"`
	CORSAllowedOrigins []string      `mapstructure:"corsAllowedOrigins"`
	CORSAllowedHeaders []string      `mapstructure:"corsAllowedHeaders"`
	ReadTimeout        time.Duration `mapstructure:"readTimeout"`
	WriteTimeout       time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout        time.Duration `mapstructure:"idleTimeout"`
}

type JWTConfig struct {
	SharedSecret string `mapstructure:"sharedSecret"`
	Issuer       string `mapstructure:"issuer"`
	Audience     string `mapstructure:"audience"`
}

type ForwardedConfig struct {
	EmailHeader             string `mapstructure:"emailHeader"`
	UserHeader              string `mapstructure:"userHeader"`
	PreferredUsernameHeader string `mapstructure:"preferredUsernameHeader"`
	Provider                string `mapstructure:"provider"`
	// AllowAccountLinking permits attaching a proxy identity to an existing
	// password account matched by email.
	AllowAccountLinking bool `mapstructure:"allowAccountLinking"`
}

type AuthnConfig struct {
	// Method is jwt, forwarded-headers, or hybrid.
	Method    string          `mapstructure:"method"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Forwarded ForwardedConfig `mapstructure:"forwarded"`
	// LocalFallback resolves credential-less requests to a fixed local
	// development identity. Development only.
	LocalFallback bool `mapstructure:"localFallback"`
}

type DatastoreConfig struct {
	// Engine is memory, sqlite, or postgres.
	Engine          string        `mapstructure:"engine"`
	URI             string        `mapstructure:"uri"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxIdleTime time.Duration `mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	Metrics         bool          `mapstructure:"metrics"`
}

type GraphQLConfig struct {
	MaxQueryDepth  int  `mapstructure:"maxQueryDepth"`
	MaxQueryTokens int  `mapstructure:"maxQueryTokens"`
	Playground     bool `mapstructure:"playground"`
}

type TraceConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlpEndpoint"`
	SampleRatio  float64 `mapstructure:"sampleRatio"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Authn     AuthnConfig     `mapstructure:"authn"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	GraphQL   GraphQLConfig   `mapstructure:"graphql"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		HTTP: HTTPConfig{
			Addr:         DefaultHTTPAddr,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Authn: AuthnConfig{
			Method: authn.ModeHybrid,
		},
		Datastore: DatastoreConfig{
			Engine:          DefaultDatastoreEngine,
			MaxOpenConns:    DefaultDatastoreMaxOpenConns,
			MaxIdleConns:    DefaultDatastoreMaxIdleConns,
			ConnMaxIdleTime: DefaultDatastoreConnMaxIdleTime,
			ConnMaxLifetime: DefaultDatastoreConnMaxLifetime,
		},
		GraphQL: GraphQLConfig{
			MaxQueryDepth:  gql.DefaultMaxQueryDepth,
			MaxQueryTokens: gql.DefaultMaxQueryTokens,
		},
		Trace: TraceConfig{
			OTLPEndpoint: "localhost:4318",
			SampleRatio:  DefaultTraceSampleRatio,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Verify checks that the configuration is internally consistent before the
// server starts serving traffic.
func (c *Config) Verify() error {
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}
	if !slices.Contains([]string{"none", "debug", "info", "warn", "error", "fatal"}, c.Log.Level) {
		return fmt.Errorf("config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error', 'fatal']")
	}

	switch c.Authn.Method {
	case authn.ModeJWT, authn.ModeHybrid:
		if c.Authn.JWT.SharedSecret == "" {
			return fmt.Errorf("config 'authn.jwt.sharedSecret' is required when 'authn.method' is %q", c.Authn.Method)
		}
	case authn.ModeForwardedHeaders:
	default:
		return fmt.Errorf("config 'authn.method' must be one of ['jwt', 'forwarded-headers', 'hybrid']")
	}

	switch c.Datastore.Engine {
	case "memory":
	case "sqlite", "postgres":
		if c.Datastore.URI == "" {
			return fmt.Errorf("config 'datastore.uri' is required for the %q engine", c.Datastore.Engine)
		}
	default:
		return fmt.Errorf("config 'datastore.engine' must be one of ['memory', 'sqlite', 'postgres']")
	}

	if c.GraphQL.MaxQueryDepth <= 0 {
		return fmt.Errorf("config 'graphql.maxQueryDepth' must be greater than zero")
	}
	if c.GraphQL.MaxQueryTokens <= 0 {
		return fmt.Errorf("config 'graphql.maxQueryTokens' must be greater than zero")
	}
	if c.Trace.Enabled && (c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1) {
		return fmt.Errorf("config 'trace.sampleRatio' must be in the range [0, 1]")
	}

	return nil
}
