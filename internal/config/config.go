package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultAPIBase = "https://us-central1-nft-cloud-functions.cloudfunctions.net"

// Config captures runtime configuration for the storefront service.
type Config struct {
	ListenAddr          string
	APIBase             string
	ExplorePaths        []string
	UpstreamTimeout     time.Duration
	MinLoading          time.Duration
	RefreshInterval     time.Duration
	InitialCount        int
	LoadMoreStep        int
	LogLevel            string
	FallbackNFTImage    string
	FallbackAuthorImage string
}

// FromEnv creates a configuration instance sourced from environment variables.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:          getEnv("STOREFRONT_LISTEN_ADDR", ":8080"),
		APIBase:             strings.TrimRight(getEnv("STOREFRONT_API_BASE", defaultAPIBase), "/"),
		ExplorePaths:        splitList(getEnv("STOREFRONT_EXPLORE_PATHS", "explore,marketplace,nfts")),
		UpstreamTimeout:     10 * time.Second,
		RefreshInterval:     30 * time.Second,
		InitialCount:        8,
		LoadMoreStep:        4,
		LogLevel:            getEnv("STOREFRONT_LOG_LEVEL", "info"),
		FallbackNFTImage:    getEnv("STOREFRONT_FALLBACK_NFT_IMAGE", "/images/nftImage.jpg"),
		FallbackAuthorImage: getEnv("STOREFRONT_FALLBACK_AUTHOR_IMAGE", "/images/author_thumbnail.jpg"),
	}

	if v := os.Getenv("STOREFRONT_UPSTREAM_TIMEOUT_S"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err != nil {
			return Config{}, fmt.Errorf("parse STOREFRONT_UPSTREAM_TIMEOUT_S: %w", err)
		}
		cfg.UpstreamTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("STOREFRONT_MIN_LOADING_MS"); v != "" {
		var ms int
		if _, err := fmt.Sscanf(v, "%d", &ms); err != nil {
			return Config{}, fmt.Errorf("parse STOREFRONT_MIN_LOADING_MS: %w", err)
		}
		cfg.MinLoading = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("STOREFRONT_REFRESH_S"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err != nil {
			return Config{}, fmt.Errorf("parse STOREFRONT_REFRESH_S: %w", err)
		}
		cfg.RefreshInterval = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("STOREFRONT_INITIAL_COUNT"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &cfg.InitialCount); err != nil {
			return Config{}, fmt.Errorf("parse STOREFRONT_INITIAL_COUNT: %w", err)
		}
	}

	if v := os.Getenv("STOREFRONT_LOAD_MORE_STEP"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &cfg.LoadMoreStep); err != nil {
			return Config{}, fmt.Errorf("parse STOREFRONT_LOAD_MORE_STEP: %w", err)
		}
	}

	if cfg.InitialCount <= 0 || cfg.LoadMoreStep <= 0 {
		return Config{}, fmt.Errorf("initial count and load-more step must be positive")
	}
	if len(cfg.ExplorePaths) == 0 {
		return Config{}, fmt.Errorf("STOREFRONT_EXPLORE_PATHS must name at least one endpoint")
	}

	return cfg, nil
}

// Endpoint resolves a path against the API base. Absolute URLs and file://
// references are returned unchanged.
func (c Config) Endpoint(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return c.APIBase + "/" + strings.TrimLeft(path, "/")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
