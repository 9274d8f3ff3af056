// Package api is the HTTP boundary: public valuation endpoints and the
// bearer-protected admin surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hartproperty/propsync/internal/config"
	"github.com/hartproperty/propsync/internal/market"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/internal/reconcile"
	"github.com/hartproperty/propsync/internal/store"
	"github.com/hartproperty/propsync/internal/valuation"
)

// Valuations is the valuation service surface the API serves.
type Valuations interface {
	Request(ctx context.Context, req valuation.Request) (*valuation.Response, error)
	CondoNames(ctx context.Context) ([]string, error)
	UnitInfo(ctx context.Context, condo, label string) (*valuation.UnitInfo, error)
}

// Trends serves condo PSF trends.
type Trends interface {
	Trend(ctx context.Context, condo string) (*market.Trend, error)
}

// Admin is the store access admin endpoints need.
type Admin interface {
	store.Admin
	ListRuns(ctx context.Context, limit int) ([]model.IngestRun, error)
}

// Runner reconciles a feed.
type Runner interface {
	Run(ctx context.Context, feed reconcile.Feed, units []string) (*reconcile.Report, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Valuations Valuations
	Trends     Trends
	Admin      Admin
	Runner     Runner
}

// Server routes requests to Deps.
type Server struct {
	deps Deps
	cfg  config.ServerConfig
	log  *zap.Logger
}

// New creates a Server.
func New(deps Deps, cfg config.ServerConfig) *Server {
	return &Server{deps: deps, cfg: cfg, log: zap.L().With(zap.String("component", "api"))}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/valuation", s.handleValuation)
		r.Get("/condos", s.handleCondos)
		r.Get("/condos/unit-info", s.handleUnitInfo)
		r.Get("/market/trend", s.handleTrend)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/transactions", s.handleListTransactions)
			r.Post("/transactions", s.handleUpsertTransaction)
			r.Get("/runs", s.handleRuns)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
