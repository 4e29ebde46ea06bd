package gql

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	"go.uber.org/zap"

	"github.com/itemvault/itemvault/internal/authz"
	"github.com/itemvault/itemvault/internal/loader"
	"github.com/itemvault/itemvault/pkg/authclaims"
	"github.com/itemvault/itemvault/pkg/logger"
	serverErrors "github.com/itemvault/itemvault/pkg/server/errors"
	"github.com/itemvault/itemvault/pkg/storage"
)

// Handler serves the /graphql endpoint. Authentication happens in middleware
// before the request reaches it; the handler enforces the safety guard, then
// executes with a fresh loader collection per request.
type Handler struct {
	schema   *ast.Schema
	guard    *Guard
	resolver *Resolver
	ds       storage.Datastore
	logger   logger.Logger

	playground bool
	rejected   *prometheus.CounterVec
}

type HandlerOption func(*Handler)

// WithPlayground serves an interactive query editor on GET requests.
func WithPlayground() HandlerOption {
	return func(h *Handler) {
		h.playground = true
	}
}

// WithMetrics counts guard rejections by reason.
func WithMetrics(registerer prometheus.Registerer) HandlerOption {
	return func(h *Handler) {
		h.rejected = promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "itemvault_graphql_rejected_queries_total",
			Help: "Number of queries refused by the safety guard, by reason.",
		}, []string{"reason"})
	}
}

func NewHandler(ds storage.Datastore, authorizer *authz.Authorizer, guard *Guard, logger logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		schema:   Schema(),
		guard:    guard,
		resolver: NewResolver(ds, authorizer),
		ds:       ds,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   any           `json:"data"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && h.playground {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(playgroundHTML))
		return
	}
	if r.Method != http.MethodPost {
		serverErrors.WriteJSON(w, serverErrors.Validation("graphql requests must be POSTed"))
		return
	}

	principal, ok := authclaims.PrincipalFromContext(r.Context())
	if !ok {
		serverErrors.WriteJSON(w, serverErrors.ErrUnauthenticated)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		serverErrors.WriteJSON(w, serverErrors.Validation("invalid request body"))
		return
	}

	if err := h.guard.CheckTokens(req.Query); err != nil {
		h.reject(w, "tokens", err)
		return
	}

	doc, listErr := gqlparser.LoadQuery(h.schema, req.Query)
	if len(listErr) > 0 {
		h.writeResponse(w, graphQLResponse{Errors: listErr})
		return
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		h.writeErrors(w, serverErrors.Validation("operation not found"))
		return
	}

	if err := h.guard.CheckDepth(op); err != nil {
		h.reject(w, "depth", err)
		return
	}

	if err := h.guard.CheckSelections(op); err != nil {
		h.reject(w, "tokens", err)
		return
	}

	vars, varErr := validator.VariableValues(h.schema, op, req.Variables)
	if varErr != nil {
		h.writeResponse(w, graphQLResponse{Errors: gqlerror.List{gqlerror.WrapPath(nil, varErr)}})
		return
	}

	result, err := h.resolver.ExecuteQuery(r.Context(), op, vars, principal, loader.NewCollection(h.ds))
	if err != nil {
		h.writeErrors(w, err)
		return
	}
	h.writeResponse(w, graphQLResponse{Data: result})
}

func (h *Handler) reject(w http.ResponseWriter, reason string, err error) {
	if h.rejected != nil {
		h.rejected.WithLabelValues(reason).Inc()
	}
	h.writeErrors(w, err)
}

// writeErrors encodes the failure into the response envelope with data null.
// Unknown errors collapse to a generic internal error so storage detail never
// reaches the client.
func (h *Handler) writeErrors(w http.ResponseWriter, err error) {
	encoded := serverErrors.Encode(err)
	if encoded.Code() == serverErrors.CodeInternal {
		h.logger.Error("graphql execution failed", zap.Error(err))
	}
	h.writeResponse(w, graphQLResponse{
		Errors: gqlerror.List{&gqlerror.Error{
			Message: encoded.Message,
			Extensions: map[string]any{
				"code": string(encoded.Code()),
			},
		}},
	})
}

func (h *Handler) writeResponse(w http.ResponseWriter, res graphQLResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.logger.Error("writing graphql response failed", zap.Error(err))
	}
}

const playgroundHTML = `<!DOCTYPE html>
<html>
<head>
  <title>ItemVault GraphQL</title>
  <link rel="stylesheet" href="https://unpkg.com/graphiql@3/graphiql.min.css" />
</head>
<body style="margin:0">
  <div id="graphiql" style="height:100vh"></div>
  <script crossorigin src="https://unpkg.com/react@18/umd/react.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/react-dom@18/umd/react-dom.production.min.js"></script>
  <script crossorigin src="https://unpkg.com/graphiql@3/graphiql.min.js"></script>
  <script>
    ReactDOM.createRoot(document.getElementById('graphiql')).render(
      React.createElement(GraphiQL, {
        fetcher: GraphiQL.createFetcher({ url: '/graphql' }),
      }),
    );
  </script>
</body>
</html>
`
