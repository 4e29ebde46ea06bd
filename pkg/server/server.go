// Package server exposes the REST and GraphQL surface over a configured
// datastore.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/itemvault/itemvault/internal/authn"
	"github.com/itemvault/itemvault/internal/authn/bearer"
	"github.com/itemvault/itemvault/internal/authn/forwarded"
	"github.com/itemvault/itemvault/internal/authz"
	"github.com/itemvault/itemvault/internal/gql"
	"github.com/itemvault/itemvault/internal/provision"
	"github.com/itemvault/itemvault/pkg/logger"
	"github.com/itemvault/itemvault/pkg/server/config"
	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
	"github.com/itemvault/itemvault/pkg/storage"
)

type Server struct {
	cfg        *config.Config
	ds         storage.Datastore
	logger     logger.Logger
	resolver   *authn.Resolver
	authorizer *authz.Authorizer
	handler    http.Handler
}

func New(cfg *config.Config, ds storage.Datastore, log logger.Logger) *Server {
	provisionOpts := []provision.Option{}
	if cfg.Authn.Forwarded.AllowAccountLinking {
		provisionOpts = append(provisionOpts, provision.WithAccountLinking())
	}
	provisioner := provision.NewService(ds, log, provisionOpts...)

	resolverOpts := []authn.ResolverOption{}
	if cfg.Authn.LocalFallback {
		resolverOpts = append(resolverOpts, authn.WithLocalFallback(provisioner))
	}
	resolver := authn.NewResolver(
		cfg.Authn.Method,
		bearer.NewAuthenticator(bearer.Config{
			SharedSecret: cfg.Authn.JWT.SharedSecret,
			Issuer:       cfg.Authn.JWT.Issuer,
			Audience:     cfg.Authn.JWT.Audience,
		}, ds),
		forwarded.NewAuthenticator(forwarded.Config{
			EmailHeader:             cfg.Authn.Forwarded.EmailHeader,
			UserHeader:              cfg.Authn.Forwarded.UserHeader,
			PreferredUsernameHeader: cfg.Authn.Forwarded.PreferredUsernameHeader,
			Provider:                cfg.Authn.Forwarded.Provider,
		}, provisioner),
		log,
		resolverOpts...,
	)

	s := &Server{
		cfg:        cfg,
		ds:         ds,
		logger:     log,
		resolver:   resolver,
		authorizer: authz.NewAuthorizer(log),
	}
	s.handler = s.buildHandler()
	return s
}

func (s *Server) buildHandler() http.Handler {
	gqlOpts := []gql.HandlerOption{}
	if s.cfg.GraphQL.Playground {
		gqlOpts = append(gqlOpts, gql.WithPlayground())
	}
	if s.cfg.Metrics.Enabled {
		gqlOpts = append(gqlOpts, gql.WithMetrics(prometheus.DefaultRegisterer))
	}
	graphql := gql.NewHandler(s.ds, s.authorizer,
		gql.NewGuard(s.cfg.GraphQL.MaxQueryDepth, s.cfg.GraphQL.MaxQueryTokens),
		s.logger, gqlOpts...)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.Handle("/graphql", s.authenticate(graphql))

	api := http.NewServeMux()
	s.registerItemRoutes(api)
	s.registerUserRoutes(api)
	s.registerTagRoutes(api)
	mux.Handle("/api/v1/", s.authenticate(api))

	var handler http.Handler = mux
	if len(s.cfg.HTTP.CORSAllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   s.cfg.HTTP.CORSAllowedOrigins,
			AllowedHeaders:   s.cfg.HTTP.CORSAllowedHeaders,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowCredentials: true,
		}).Handler(handler)
	}
	return s.requestID(s.logRequests(handler))
}

// Handler returns the fully assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.HTTP.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.WriteTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.ds.Ready(r.Context()); err != nil {
		s.logger.Warn("datastore not ready", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps storage sentinel errors to their API equivalents and hides
// everything unrecognized behind a generic internal error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = serverErrors.ErrNotFound
	case errors.Is(err, storage.ErrCollision):
		err = serverErrors.Conflict("resource already exists")
	case errors.Is(err, storage.ErrIntegrityViolation):
		s.logger.Error("relational integrity violation", zap.Error(err))
		err = serverErrors.IntegrityViolation("relational integrity violation")
	}

	encoded := serverErrors.Encode(err)
	if encoded.Code() == serverErrors.CodeInternal {
		s.logger.Error("request failed", zap.Error(err))
	}
	serverErrors.WriteJSON(w, encoded)
}
