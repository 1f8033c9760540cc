// Package api serves published valuations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/blaze-intel/nil-valuation/internal/cache"
	"github.com/blaze-intel/nil-valuation/internal/config"
	"github.com/blaze-intel/nil-valuation/internal/metrics"
	"github.com/blaze-intel/nil-valuation/internal/store"
)

const (
	defaultLeaderboardLimit = 100
	maxLeaderboardLimit     = 1000
)

// Server handles the read endpoints.
type Server struct {
	store      store.Warehouse
	cache      cache.Cache
	metrics    *metrics.Registry
	disclaimer string
	rps        float64
	origins    []string
	now        func() time.Time
}

// New creates a Server. c and m may be nil.
func New(cfg *config.Config, st store.Warehouse, c cache.Cache, m *metrics.Registry) *Server {
	return &Server{
		store:      st,
		cache:      c,
		metrics:    m,
		disclaimer: cfg.Project.Disclaimer,
		rps:        cfg.Server.RateLimitRPS,
		origins:    cfg.Server.CORSOrigins,
		now:        time.Now,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.rps > 0 {
			r.Use(newRateLimiter(s.rps, int(s.rps)+1).Handler)
		}
		r.Use(s.instrument)

		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/athlete/{id}/value", s.handleAthleteValue)
		r.Get("/athlete/{id}/features", s.handleAthleteFeatures)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLeaderboardLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	key := cache.LeaderboardKey(limit)
	var cached LeaderboardResponse
	if s.cacheGet(r.Context(), key, &cached) {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	rows, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		zap.L().Error("api: leaderboard query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "Leaderboard unavailable")
		return
	}

	resp := buildLeaderboard(rows, s.now().UTC(), s.disclaimer)
	s.cacheSet(r.Context(), key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAthleteValue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	key := cache.AthleteKey(id)
	var cached AthleteValuationResponse
	if s.cacheGet(r.Context(), key, &cached) {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	av, err := s.store.LatestValuation(r.Context(), id)
	if err != nil {
		zap.L().Error("api: valuation lookup failed", zap.String("athlete_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if av == nil {
		writeError(w, http.StatusNotFound, "Athlete not found")
		return
	}

	resp := buildAthleteValuation(*av, s.disclaimer)
	s.cacheSet(r.Context(), key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAthleteFeatures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rows, err := s.store.AthleteFeatures(r.Context(), id)
	if err != nil {
		zap.L().Error("api: feature lookup failed", zap.String("athlete_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "Athlete not found")
		return
	}
	writeJSON(w, http.StatusOK, FeaturesResponse{AthleteID: id, Features: rows})
}

// cacheGet treats cache errors as misses.
func (s *Server) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		zap.L().Warn("api: cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}

func (s *Server) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		zap.L().Warn("api: cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
