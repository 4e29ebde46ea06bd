package run

import (
	"github.com/spf13/cobra"

	"github.com/itemvault/itemvault/cmd/util"
	"github.com/itemvault/itemvault/pkg/server/config"
)

// bindRunFlags binds the cobra cmd flags to the equivalent config value being
// managed by viper. This bridges the config between cobra flags and viper
// flags.
func bindRunFlags(command *cobra.Command) {
	defaultConfig := config.DefaultConfig()
	flags := command.Flags()

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "ITEMVAULT_LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "ITEMVAULT_LOG_LEVEL")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP server on")
	util.MustBindPFlag("http.addr", flags.Lookup("http-addr"))
	util.MustBindEnv("http.addr", "ITEMVAULT_HTTP_ADDR")

	flags.StringSlice("http-cors-allowed-origins", defaultConfig.HTTP.CORSAllowedOrigins, "specifies the CORS allowed origins")
	util.MustBindPFlag("http.corsAllowedOrigins", flags.Lookup("http-cors-allowed-origins"))
	util.MustBindEnv("http.corsAllowedOrigins", "ITEMVAULT_HTTP_CORS_ALLOWED_ORIGINS")

	flags.StringSlice("http-cors-allowed-headers", defaultConfig.HTTP.CORSAllowedHeaders, "specifies the CORS allowed headers")
	util.MustBindPFlag("http.corsAllowedHeaders", flags.Lookup("http-cors-allowed-headers"))
	util.MustBindEnv("http.corsAllowedHeaders", "ITEMVAULT_HTTP_CORS_ALLOWED_HEADERS")

	flags.String("authn-method", defaultConfig.Authn.Method, "the authentication method to use (jwt, forwarded-headers, or hybrid)")
	util.MustBindPFlag("authn.method", flags.Lookup("authn-method"))
	util.MustBindEnv("authn.method", "ITEMVAULT_AUTHN_METHOD")

	flags.String("authn-jwt-shared-secret", defaultConfig.Authn.JWT.SharedSecret, "the symmetric key used to verify bearer token signatures")
	util.MustBindPFlag("authn.jwt.sharedSecret", flags.Lookup("authn-jwt-shared-secret"))
	util.MustBindEnv("authn.jwt.sharedSecret", "ITEMVAULT_AUTHN_JWT_SHARED_SECRET")

	flags.String("authn-jwt-issuer", defaultConfig.Authn.JWT.Issuer, "the issuer claim required on accepted bearer tokens, if set")
	util.MustBindPFlag("authn.jwt.issuer", flags.Lookup("authn-jwt-issuer"))
	util.MustBindEnv("authn.jwt.issuer", "ITEMVAULT_AUTHN_JWT_ISSUER")

	flags.String("authn-jwt-audience", defaultConfig.Authn.JWT.Audience, "the audience claim required on accepted bearer tokens, if set")
	util.MustBindPFlag("authn.jwt.audience", flags.Lookup("authn-jwt-audience"))
	util.MustBindEnv("authn.jwt.audience", "ITEMVAULT_AUTHN_JWT_AUDIENCE")

	flags.String("authn-forwarded-email-header", defaultConfig.Authn.Forwarded.EmailHeader, "the trusted proxy header carrying the authenticated email")
	util.MustBindPFlag("authn.forwarded.emailHeader", flags.Lookup("authn-forwarded-email-header"))
	util.MustBindEnv("authn.forwarded.emailHeader", "ITEMVAULT_AUTHN_FORWARDED_EMAIL_HEADER")

	flags.String("authn-forwarded-user-header", defaultConfig.Authn.Forwarded.UserHeader, "the trusted proxy header carrying the authenticated display name")
	util.MustBindPFlag("authn.forwarded.userHeader", flags.Lookup("authn-forwarded-user-header"))
	util.MustBindEnv("authn.forwarded.userHeader", "ITEMVAULT_AUTHN_FORWARDED_USER_HEADER")

	flags.String("authn-forwarded-preferred-username-header", defaultConfig.Authn.Forwarded.PreferredUsernameHeader, "the trusted proxy header carrying the preferred username")
	util.MustBindPFlag("authn.forwarded.preferredUsernameHeader", flags.Lookup("authn-forwarded-preferred-username-header"))
	util.MustBindEnv("authn.forwarded.preferredUsernameHeader", "ITEMVAULT_AUTHN_FORWARDED_PREFERRED_USERNAME_HEADER")

	flags.String("authn-forwarded-provider", defaultConfig.Authn.Forwarded.Provider, "the identity provider name recorded on rows provisioned from forwarded headers")
	util.MustBindPFlag("authn.forwarded.provider", flags.Lookup("authn-forwarded-provider"))
	util.MustBindEnv("authn.forwarded.provider", "ITEMVAULT_AUTHN_FORWARDED_PROVIDER")

	flags.Bool("authn-forwarded-allow-account-linking", defaultConfig.Authn.Forwarded.AllowAccountLinking, "permit linking a forwarded identity onto an existing password account matched by email")
	util.MustBindPFlag("authn.forwarded.allowAccountLinking", flags.Lookup("authn-forwarded-allow-account-linking"))
	util.MustBindEnv("authn.forwarded.allowAccountLinking", "ITEMVAULT_AUTHN_FORWARDED_ALLOW_ACCOUNT_LINKING")

	flags.Bool("authn-local-fallback", defaultConfig.Authn.LocalFallback, "resolve credential-less requests to a fixed local development identity (development only)")
	util.MustBindPFlag("authn.localFallback", flags.Lookup("authn-local-fallback"))
	util.MustBindEnv("authn.localFallback", "ITEMVAULT_AUTHN_LOCAL_FALLBACK")

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence")
	util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	util.MustBindEnv("datastore.engine", "ITEMVAULT_DATASTORE_ENGINE")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore (for any engine other than 'memory')")
	util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	util.MustBindEnv("datastore.uri", "ITEMVAULT_DATASTORE_URI")

	flags.String("datastore-username", defaultConfig.Datastore.Username, "the connection username to connect to the datastore (overwrites any username provided in the connection uri)")
	util.MustBindPFlag("datastore.username", flags.Lookup("datastore-username"))
	util.MustBindEnv("datastore.username", "ITEMVAULT_DATASTORE_USERNAME")

	flags.String("datastore-password", defaultConfig.Datastore.Password, "the connection password to connect to the datastore (overwrites any password provided in the connection uri)")
	util.MustBindPFlag("datastore.password", flags.Lookup("datastore-password"))
	util.MustBindEnv("datastore.password", "ITEMVAULT_DATASTORE_PASSWORD")

	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	util.MustBindPFlag("datastore.maxOpenConns", flags.Lookup("datastore-max-open-conns"))
	util.MustBindEnv("datastore.maxOpenConns", "ITEMVAULT_DATASTORE_MAX_OPEN_CONNS")

	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections to the datastore in the idle connection pool")
	util.MustBindPFlag("datastore.maxIdleConns", flags.Lookup("datastore-max-idle-conns"))
	util.MustBindEnv("datastore.maxIdleConns", "ITEMVAULT_DATASTORE_MAX_IDLE_CONNS")

	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection to the datastore may be idle")
	util.MustBindPFlag("datastore.connMaxIdleTime", flags.Lookup("datastore-conn-max-idle-time"))
	util.MustBindEnv("datastore.connMaxIdleTime", "ITEMVAULT_DATASTORE_CONN_MAX_IDLE_TIME")

	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection to the datastore may be reused")
	util.MustBindPFlag("datastore.connMaxLifetime", flags.Lookup("datastore-conn-max-lifetime"))
	util.MustBindEnv("datastore.connMaxLifetime", "ITEMVAULT_DATASTORE_CONN_MAX_LIFETIME")

	flags.Bool("datastore-metrics-enabled", defaultConfig.Datastore.Metrics, "enable/disable sql metrics")
	util.MustBindPFlag("datastore.metrics", flags.Lookup("datastore-metrics-enabled"))
	util.MustBindEnv("datastore.metrics", "ITEMVAULT_DATASTORE_METRICS_ENABLED")

	flags.Int("graphql-max-query-depth", defaultConfig.GraphQL.MaxQueryDepth, "the maximum selection depth allowed in a GraphQL query, fragments included")
	util.MustBindPFlag("graphql.maxQueryDepth", flags.Lookup("graphql-max-query-depth"))
	util.MustBindEnv("graphql.maxQueryDepth", "ITEMVAULT_GRAPHQL_MAX_QUERY_DEPTH")

	flags.Int("graphql-max-query-tokens", defaultConfig.GraphQL.MaxQueryTokens, "the maximum number of lexical tokens allowed in a GraphQL query")
	util.MustBindPFlag("graphql.maxQueryTokens", flags.Lookup("graphql-max-query-tokens"))
	util.MustBindEnv("graphql.maxQueryTokens", "ITEMVAULT_GRAPHQL_MAX_QUERY_TOKENS")

	flags.Bool("graphql-playground-enabled", defaultConfig.GraphQL.Playground, "enable/disable the GraphQL playground on GET /graphql")
	util.MustBindPFlag("graphql.playground", flags.Lookup("graphql-playground-enabled"))
	util.MustBindEnv("graphql.playground", "ITEMVAULT_GRAPHQL_PLAYGROUND_ENABLED")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
	util.MustBindEnv("trace.enabled", "ITEMVAULT_TRACE_ENABLED")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.OTLPEndpoint, "the endpoint of the trace collector")
	util.MustBindPFlag("trace.otlpEndpoint", flags.Lookup("trace-otlp-endpoint"))
	util.MustBindEnv("trace.otlpEndpoint", "ITEMVAULT_TRACE_OTLP_ENDPOINT")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none.")
	util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
	util.MustBindEnv("trace.sampleRatio", "ITEMVAULT_TRACE_SAMPLE_RATIO")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable prometheus metrics on the '/metrics' endpoint")
	util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
	util.MustBindEnv("metrics.enabled", "ITEMVAULT_METRICS_ENABLED")
}
