// Package httpapi is the broker's HTTP transport (spec.md §6): one
// handler per surface operation, wired onto github.com/go-chi/chi/v5 with
// github.com/go-chi/cors for browser-facing deployments. Grounded on the
// teacher's internal/controlplane/server package — routes.go's
// handler-per-route registration, errors.go's structured APIError body,
// body_limit.go's 1MiB write-body cap, and duration.go's day-suffix
// duration parsing — restructured from net/http's ServeMux onto chi so
// route groups can carry the auth middleware once instead of per
// s.withPermission(...) call site.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/colliery-io/brokkr/internal/auth"
	"github.com/colliery-io/brokkr/internal/dal/agent"
	"github.com/colliery-io/brokkr/internal/dal/annotation"
	"github.com/colliery-io/brokkr/internal/dal/deploymentobject"
	"github.com/colliery-io/brokkr/internal/dal/generator"
	"github.com/colliery-io/brokkr/internal/dal/label"
	"github.com/colliery-io/brokkr/internal/dal/stack"
	"github.com/colliery-io/brokkr/internal/dal/template"
	"github.com/colliery-io/brokkr/internal/dal/webhookdelivery"
	"github.com/colliery-io/brokkr/internal/dal/webhooksubscription"
	"github.com/colliery-io/brokkr/internal/dal/workorder"
	"github.com/colliery-io/brokkr/internal/dal/workorderlog"
	"github.com/colliery-io/brokkr/internal/workqueue"
)

// Reloader is satisfied by internal/config.Watcher; kept as a narrow
// interface here so this package doesn't need to import internal/config
// just for the admin reload route.
type Reloader interface {
	Reload()
}

// CORSConfig mirrors the `cors` environment variable group (spec.md §6).
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAgeSeconds  int
}

// Config bundles everything a Server needs beyond the DAL stores.
type Config struct {
	CORS CORSConfig
	// WebhookMaxBackoff bounds the exponential backoff applied when an
	// agent reports a failed direct delivery attempt, matching
	// internal/webhook.Dispatcher's Config.MaxBackoff for the
	// broker-delivered path.
	WebhookMaxBackoff time.Duration
}

// Server holds references to every DAL store and orchestration component
// the HTTP surface touches — the same "one struct holding every
// subsystem" shape as the teacher's Server in
// internal/controlplane/server/server.go, narrowed to Brokkr's entities.
type Server struct {
	cfg Config

	pool *pgxpool.Pool

	agents       *agent.Store
	generators   *generator.Store
	stacks       *stack.Store
	deployments  *deploymentobject.Store
	workOrders   *workorder.Store
	workOrderLog *workorderlog.Store
	webhookSubs  *webhooksubscription.Store
	deliveries   *webhookdelivery.Store
	labels       *label.Store
	annotations  *annotation.Store
	templates    *template.Store
	instantiator *template.Instantiator

	resolver     *auth.Resolver
	reloader     Reloader
	orchestrator *workqueue.Orchestrator

	logger *zap.Logger
}

// Deps is the full set of collaborators a Server is built from.
type Deps struct {
	Pool         *pgxpool.Pool
	Agents       *agent.Store
	Generators   *generator.Store
	Stacks       *stack.Store
	Deployments  *deploymentobject.Store
	WorkOrders   *workorder.Store
	WorkOrderLog *workorderlog.Store
	WebhookSubs  *webhooksubscription.Store
	Deliveries   *webhookdelivery.Store
	Labels       *label.Store
	Annotations  *annotation.Store
	Templates    *template.Store
	Instantiator *template.Instantiator
	Resolver     *auth.Resolver
	Reloader     Reloader
	Orchestrator *workqueue.Orchestrator
	Logger       *zap.Logger
}

func New(cfg Config, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		pool:         d.Pool,
		agents:       d.Agents,
		generators:   d.Generators,
		stacks:       d.Stacks,
		deployments:  d.Deployments,
		workOrders:   d.WorkOrders,
		workOrderLog: d.WorkOrderLog,
		webhookSubs:  d.WebhookSubs,
		deliveries:   d.Deliveries,
		labels:       d.Labels,
		annotations:  d.Annotations,
		templates:    d.Templates,
		instantiator: d.Instantiator,
		resolver:     d.Resolver,
		reloader:     d.Reloader,
		orchestrator: d.Orchestrator,
		logger:       logger,
	}
}

// Router assembles the full chi.Router for the broker. Health and
// readiness are mounted outside the auth middleware group, per spec.md
// §6 "Health and readiness are unauthenticated".
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(maxBodySizeMiddleware)

	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		maxAge := s.cfg.CORS.MaxAgeSeconds
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORS.AllowedOrigins,
			AllowedMethods: s.cfg.CORS.AllowedMethods,
			AllowedHeaders: s.cfg.CORS.AllowedHeaders,
			MaxAge:         maxAge,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(authMiddleware(s.resolver))

		s.mountStackRoutes(api)
		s.mountAgentRoutes(api)
		s.mountGeneratorRoutes(api)
		s.mountWorkOrderRoutes(api)
		s.mountWebhookRoutes(api)
		s.mountTemplateRoutes(api)
		s.mountAdminRoutes(api)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) mountAdminRoutes(r chi.Router) {
	r.Post("/admin/config/reload", s.handleConfigReload)
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		renderError(w, err)
		return
	}
	if s.reloader == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "reload_unavailable", "hot reload is not configured")
		return
	}
	s.reloader.Reload()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload triggered"})
}

// resolveTargetSpec parses the common {agent_ids, labels, annotations}
// targeting payload of work order creation (spec.md §3 "Work Order
// Targets").
func resolveTargetSpec(agentIDs, labels []string, annotations map[string]string) workqueue.TargetSpec {
	spec := workqueue.TargetSpec{ExplicitAgentIDs: agentIDs, Labels: labels}
	for k, v := range annotations {
		spec.Annotations = append(spec.Annotations, annotation.Annotation{Key: k, Value: v})
	}
	return spec
}
