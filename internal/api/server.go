// Package api serves ranking over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/catalog"
	"github.com/sells-group/benefit-cli/internal/metrics"
	"github.com/sells-group/benefit-cli/internal/monitoring"
	"github.com/sells-group/benefit-cli/internal/push"
	"github.com/sells-group/benefit-cli/internal/store"
)

// maxBodyBytes bounds POST /rank payloads.
const maxBodyBytes = 32 << 20

// Options configures a Server.
type Options struct {
	Catalog *catalog.Catalog
	// Store is optional; run endpoints answer 503 without one.
	Store store.Store
	// Generator is optional; push texts are only produced with one.
	Generator      *push.Generator
	DefaultTopN    int
	Workers        int
	AllowedOrigins []string
	// StaleAfter marks running runs as stale in GET /runs/stats.
	StaleAfter time.Duration
}

// Server holds the handlers' dependencies.
type Server struct {
	catalog   *catalog.Catalog
	store     store.Store
	generator *push.Generator
	validate  *validator.Validate
	stats     *monitoring.Collector
	topN      int
	workers   int
	origins   []string
}

// New builds a Server. DefaultTopN falls back to 4.
func New(opts Options) *Server {
	s := &Server{
		catalog:   opts.Catalog,
		store:     opts.Store,
		generator: opts.Generator,
		validate:  validator.New(),
		topN:      opts.DefaultTopN,
		workers:   opts.Workers,
		origins:   opts.AllowedOrigins,
	}
	if s.topN <= 0 {
		s.topN = 4
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.store != nil {
		s.stats = monitoring.NewCollector(s.store, opts.StaleAfter)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/catalog", s.getCatalog)
	r.Post("/rank", s.rank)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/stats", s.runStats)
		r.Get("/{id}", s.getRun)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// requestLogger logs each request through zap and counts it by route pattern.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
