package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/becmacc/beyflow-chat-sub000/internal/adapters"
	"github.com/becmacc/beyflow-chat-sub000/internal/automation"
	"github.com/becmacc/beyflow-chat-sub000/internal/engine"
	"github.com/becmacc/beyflow-chat-sub000/internal/hub"
	"github.com/becmacc/beyflow-chat-sub000/internal/middleware"
	"github.com/becmacc/beyflow-chat-sub000/internal/observability"
	"github.com/becmacc/beyflow-chat-sub000/internal/ratelimit"
	"github.com/becmacc/beyflow-chat-sub000/internal/router"
	"github.com/becmacc/beyflow-chat-sub000/internal/store"
	"github.com/becmacc/beyflow-chat-sub000/internal/workflow"
)

const maxBody = 1 << 20

// Options carries the collaborators the HTTP surface exposes. Repo and
// Engine are optional; without them the stored-workflow routes are not
// mounted.
type Options struct {
	Hub      *hub.Hub
	Rules    *automation.Engine
	Executor *workflow.Executor
	Router   *router.Router
	Repo     *store.Repo
	Engine   *engine.Engine

	Limiter       *ratelimit.Limiter
	WebhookSecret string
	CORSOrigins   []string

	Metrics     http.Handler
	Tracer      oteltrace.Tracer
	ServiceName string
}

type Server struct {
	opts Options
}

func New(opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "beyflow-hub"
	}
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if s.opts.Tracer != nil {
		r.Use(observability.MetricsAndTracingMiddleware(s.opts.Tracer, s.opts.ServiceName))
	}
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	r.Route("/api/hub", func(r chi.Router) {
		r.Get("/components", s.handleComponents)
		r.Post("/events/{name}", s.handleEmit)
		r.Get("/events/ws", s.handleEventsWS)

		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleAddRule)
		r.Delete("/rules/{name}", s.handleDeleteRule)

		r.Route("/webhooks", func(r chi.Router) {
			r.Use(middleware.WebhookAuth(s.opts.WebhookSecret))
			if s.opts.Limiter != nil {
				r.Use(s.opts.Limiter.Middleware(ratelimit.KeyByIP))
			}
			r.Get("/", s.handleListEndpoints)
			r.Post("/", s.handleWebhookEnvelope)
			r.Post("/*", s.handleWebhook)
		})

		r.Post("/workflows/execute", s.handleExecute)
		r.Get("/workflows/templates", s.handleTemplates)
		r.Get("/nodes", s.handleNodes)

		if s.opts.Repo != nil && s.opts.Engine != nil {
			r.Get("/workflows", s.handleListWorkflows)
			r.Post("/workflows", s.handleCreateWorkflow)
			r.Route("/workflows/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Put("/", s.handleUpdateWorkflow)
				r.Delete("/", s.handleDeleteWorkflow)
				r.Post("/enable", s.handleEnableWorkflow(true))
				r.Post("/disable", s.handleEnableWorkflow(false))
				r.Post("/run", s.handleRunWorkflow)
				r.Get("/runs", s.handleListRuns)
			})
			r.Get("/runs/{run_id}", s.handleGetRun)
			r.Get("/runs/{run_id}/ws", s.handleRunEventsWS)
		}
	})

	return r
}

// decodeObject reads a JSON object body. An empty body decodes to an empty
// map.
func decodeObject(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.New("body must be a JSON object")
	}
	return out, nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		re *router.RoutingError
		ie *hub.InvocationError
		he *adapters.HTTPStatusError
		ce *workflow.CycleError
		se *workflow.StepError
	)
	switch {
	case errors.As(err, &re):
		return http.StatusNotFound
	case adapters.IsOffline(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &ie):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return http.StatusBadGateway
	case errors.As(err, &ce), errors.Is(err, workflow.ErrEmptyGraph):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
