package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"nftstorefront/internal/config"
	"nftstorefront/internal/market"
)

// Storefront is the part of the session the HTTP layer depends on.
type Storefront interface {
	Explore(ctx context.Context, sort market.SortKey, count int) (market.FeedView, error)
	NewItems(ctx context.Context) (market.FeedView, error)
	Item(ctx context.Context, id string) (market.ItemDetail, market.ListingView, error)
	Author(ctx context.Context, id string) (market.AuthorProfile, []market.ListingView, error)
	TopSellers(ctx context.Context) ([]market.Seller, error)
	HotCollections(ctx context.Context) ([]market.Collection, error)
}

type Server struct {
	store        Storefront
	initialCount int
	timeout      time.Duration
	metrics      http.Handler
	logger       *zap.Logger
}

func NewServer(store Storefront, cfg config.Config, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := 3 * cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		store:        store,
		initialCount: cfg.InitialCount,
		timeout:      timeout + cfg.MinLoading,
		metrics:      metrics,
		logger:       logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.health)
	mux.HandleFunc("/explore", s.handleExplore)
	mux.HandleFunc("/new-items", s.handleNewItems)
	mux.HandleFunc("/hot-collections", s.handleHotCollections)
	mux.HandleFunc("/top-sellers", s.handleTopSellers)
	mux.HandleFunc("/items/", s.handleItem)
	mux.HandleFunc("/authors/", s.handleAuthor)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc(specPath, serveSwaggerYAML)
	mux.HandleFunc("/swagger", serveSwaggerUI)
	mux.HandleFunc("/swagger/", serveSwaggerUI)
	return mux
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	values := r.URL.Query()

	sort, err := market.ParseSortKey(values.Get("sort"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unknown sort key")
		return
	}
	count := s.initialCount
	if v := values.Get("count"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			count = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	view, err := s.store.Explore(ctx, sort, count)
	s.writeFeed(w, view, err)
}

func (s *Server) handleNewItems(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	view, err := s.store.NewItems(ctx)
	s.writeFeed(w, view, err)
}

func (s *Server) writeFeed(w http.ResponseWriter, view market.FeedView, err error) {
	if err != nil {
		s.logger.Warn("feed request abandoned", zap.Error(err))
		s.writeError(w, http.StatusGatewayTimeout, "upstream did not answer in time")
		return
	}
	status := http.StatusOK
	if view.Status == market.StatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, view)
}

func (s *Server) handleHotCollections(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	collections, err := s.store.HotCollections(ctx)
	if err != nil {
		s.writeUpstreamError(w, err, "hot collections are unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

func (s *Server) handleTopSellers(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	sellers, err := s.store.TopSellers(ctx)
	if err != nil {
		s.writeUpstreamError(w, err, "top sellers are unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sellers": sellers})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	id := pathID(r.URL.Path, "/items/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "NFT not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	detail, view, err := s.store.Item(ctx, id)
	if err != nil {
		s.writeUpstreamError(w, err, "NFT not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"item":    view,
		"owner":   detail.Owner,
		"creator": detail.Creator,
		"owners":  detail.Owners,
		"as_of":   time.Now().UTC(),
	})
}

func (s *Server) handleAuthor(w http.ResponseWriter, r *http.Request) {
	if !s.allowGet(w, r) {
		return
	}
	id := pathID(r.URL.Path, "/authors/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "Author not found")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	profile, listings, err := s.store.Author(ctx, id)
	if err != nil {
		s.writeUpstreamError(w, err, "Author not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"author":    profile.Person,
		"tag":       profile.Tag,
		"followers": profile.Followers,
		"listings":  listings,
	})
}

func (s *Server) allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// writeUpstreamError maps a missing entity to 404 and any other upstream
// failure to 502, both with a user-facing message.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error, notFound string) {
	if market.IsNotFound(err) {
		s.writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.logger.Warn("upstream request failed", zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusGatewayTimeout, "upstream did not answer in time")
		return
	}
	s.writeError(w, http.StatusBadGateway, "upstream unavailable")
}

func pathID(path, prefix string) string {
	id := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
