// Package webapi serves a read-only JSON surface over Store contents:
// home/category group listings, trending clusters and entities, and
// the CVE table. A chi router with a small middleware stack and
// Route-nested handler groups.
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/config"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/logging"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/model"
	"github.com/PersonalProjectsDsully/newsgrouping/internal/store"
)

var log = logging.For("webapi")

const (
	defaultHours = 48
	defaultLimit = 20
	maxLimit     = 200
	minTrending  = 6
)

// Server is the read-only JSON API over a Store.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	db         *store.Store
	cfg        config.ServerConfig
	now        func() time.Time
}

// New builds a Server, wiring its middleware and routes immediately so
// Router() is ready for both Start and tests.
func New(db *store.Store, cfg config.ServerConfig) *Server {
	s := &Server{db: db, cfg: cfg, now: time.Now}
	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// setupMiddleware configures the request pipeline. CORS is
// permissive-by-default for a read-only internal API rather than
// config-gated.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/home_groups", s.handleHomeGroups)
		r.Get("/category_groups", s.handleCategoryGroups)
		r.Get("/trending", s.handleTrending)
		r.Get("/trending_entities", s.handleTrendingEntities)
		r.Get("/category_entities", s.handleCategoryEntities)
		r.Get("/cve_table", s.handleCVETable)
	})
}

// Start runs the HTTP server until it's shut down or fails.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("webapi: starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webapi: server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("webapi: shutdown failed: %w", err)
	}
	return nil
}

// Router exposes the chi router for tests (httptest.NewServer).
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func hoursParam(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("hours")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func limitParam(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func (s *Server) sinceClause(r *http.Request, fallbackHours int) string {
	hours := hoursParam(r, fallbackHours)
	return model.FormatTime(s.now().Add(-time.Duration(hours) * time.Hour))
}

// handleHomeGroups backs /api/home_groups?hours=N: each fixed
// category's top-3 most recently active groups, with member counts and
// 300-char body previews of their most recent articles.
func (s *Server) handleHomeGroups(w http.ResponseWriter, r *http.Request) {
	since := s.sinceClause(r, defaultHours)

	groups, err := store.HomeGroupsSince(r.Context(), s.db.DB(), since)
	if err != nil {
		writeError(w, err, "home_groups")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// handleCategoryGroups backs /api/category_groups?category=X&hours=N.
func (s *Server) handleCategoryGroups(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		writeJSONError(w, http.StatusBadRequest, "category is required")
		return
	}
	since := s.sinceClause(r, defaultHours)

	groups, err := store.GroupsByCategorySince(r.Context(), s.db.DB(), model.NormalizeCategory(category), since)
	if err != nil {
		writeError(w, err, "category_groups")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// handleTrending backs /api/trending?category=X&limit=N&hours=N. The
// limit floors at 6, matching the Trend Synthesizer's own
// minimum-floor guarantee.
func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	since := s.sinceClause(r, defaultHours)
	limit := limitParam(r, defaultLimit)
	if limit < minTrending {
		limit = minTrending
	}

	category := r.URL.Query().Get("category")
	if category == "" {
		trends, err := store.TrendsSince(r.Context(), s.db.DB(), since)
		if err != nil {
			writeError(w, err, "trending")
			return
		}
		writeJSON(w, http.StatusOK, capTrends(trends, limit))
		return
	}

	trends, err := store.TrendsByCategorySince(r.Context(), s.db.DB(), model.NormalizeCategory(category), since, limit)
	if err != nil {
		writeError(w, err, "trending")
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func capTrends(trends []model.Trend, limit int) []model.Trend {
	if len(trends) > limit {
		return trends[:limit]
	}
	return trends
}

// handleTrendingEntities backs
// /api/trending_entities?hours=N&limit=N.
func (s *Server) handleTrendingEntities(w http.ResponseWriter, r *http.Request) {
	since := s.sinceClause(r, defaultHours)
	limit := limitParam(r, defaultLimit)

	counts, err := store.TrendEntityCountsRanked(r.Context(), s.db.DB(), since, limit)
	if err != nil {
		writeError(w, err, "trending_entities")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleCategoryEntities backs
// /api/category_entities?category=X&limit=N.
func (s *Server) handleCategoryEntities(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		writeJSONError(w, http.StatusBadRequest, "category is required")
		return
	}
	limit := limitParam(r, defaultLimit)

	counts, err := store.CategoryEntityCounts(r.Context(), s.db.DB(), model.NormalizeCategory(category), limit)
	if err != nil {
		writeError(w, err, "category_entities")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleCVETable backs /api/cve_table?hours=N.
func (s *Server) handleCVETable(w http.ResponseWriter, r *http.Request) {
	hours := hoursParam(r, 0)
	var rows []model.CVETableRow
	var err error
	if hours > 0 {
		since := model.FormatTime(s.now().Add(-time.Duration(hours) * time.Hour))
		rows, err = store.CVETableRowsSince(r.Context(), s.db.DB(), since)
	} else {
		rows, err = store.CVETableRows(r.Context(), s.db.DB())
	}
	if err != nil {
		writeError(w, err, "cve_table")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("webapi: encoding response failed")
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError logs the failure (Store data, never user input, can
// cause this) and reports a generic 500 — a query failure here means
// the background pipeline has a problem, not the caller.
func writeError(w http.ResponseWriter, err error, endpoint string) {
	log.Error().Err(err).Str("endpoint", endpoint).Msg("webapi: query failed")
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
