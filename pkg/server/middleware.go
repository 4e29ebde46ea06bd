package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/itemvault/itemvault/internal/provision"
	"github.com/itemvault/itemvault/pkg/authclaims"
	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
)

const requestIDHeader = "X-Request-Id"

type requestIDKey struct{}

var registerAuthFailures = sync.OnceValue(func() *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "itemvault_authn_failures_total",
		Help: "Number of requests whose credentials could not be resolved, by mode.",
	}, []string{"mode"})
})

// requestID assigns each request a ulid, echoed in the response headers and
// attached to every log line for the request.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request handled",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// authenticate resolves the request principal and stores it in the context.
// A denied account link is a 403; every other resolution failure is a 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.resolver.Resolve(r)
		if err != nil {
			if s.cfg.Metrics.Enabled {
				registerAuthFailures().WithLabelValues(s.cfg.Authn.Method).Inc()
			}
			if errors.Is(err, provision.ErrAccountLinkingDenied) {
				serverErrors.WriteJSON(w, serverErrors.ErrForbidden)
				return
			}
			serverErrors.WriteJSON(w, serverErrors.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(authclaims.ContextWithPrincipal(r.Context(), principal)))
	})
}
