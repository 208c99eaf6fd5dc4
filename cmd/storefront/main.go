package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nftstorefront/internal/config"
	"nftstorefront/internal/logger"
	"nftstorefront/internal/market"
	"nftstorefront/internal/metrics"
	transporthttp "nftstorefront/internal/transport/http"
	"nftstorefront/internal/upstream"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	reg := metrics.NewRegistry()
	client := upstream.NewClient(
		upstream.WithTimeout(cfg.UpstreamTimeout),
		upstream.WithLogger(lg.Named("upstream")),
	)

	session := market.NewSession(client, sessionConfig(cfg), lg.Named("market"), reg)
	defer session.Close()

	server := transporthttp.NewServer(session, cfg, reg.Handler(), lg.Named("http"))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      withLogging(lg, withCORS(server.Routes())),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3*cfg.UpstreamTimeout + cfg.MinLoading + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Info("storefront API listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("api_base", cfg.APIBase),
			zap.String("session", session.ID()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("listen", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("signal received, shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		lg.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// sessionConfig maps the environment onto the storefront's upstreams. Every
// explore path is one candidate, tried in the configured order.
func sessionConfig(cfg config.Config) market.SessionConfig {
	explore := make([]market.Candidate, 0, len(cfg.ExplorePaths))
	for _, p := range cfg.ExplorePaths {
		explore = append(explore, market.Candidate{
			Name:   p,
			URL:    cfg.Endpoint(p),
			Params: market.SortParam,
		})
	}

	return market.SessionConfig{
		ExploreCandidates:  explore,
		NewItemsCandidates: []market.Candidate{{Name: "newItems", URL: cfg.Endpoint("newItems")}},
		HotCollectionsURL:  cfg.Endpoint("hotCollections"),
		TopSellersURL:      cfg.Endpoint("topSellers"),
		ItemDetailsURL:     cfg.Endpoint("itemDetails"),
		AuthorsURL:         cfg.Endpoint("authors"),
		Fallbacks: market.Fallbacks{
			NFTImage:    cfg.FallbackNFTImage,
			AuthorImage: cfg.FallbackAuthorImage,
		},
		MinLoading:      cfg.MinLoading,
		RefreshInterval: cfg.RefreshInterval,
		InitialCount:    cfg.InitialCount,
		LoadMoreStep:    cfg.LoadMoreStep,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging tags every request with an id and logs it once it completes.
func withLogging(lg *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		}
		if r.Method == http.MethodOptions {
			lg.Debug("cors preflight", fields...)
			return
		}
		lg.Info("request", fields...)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
