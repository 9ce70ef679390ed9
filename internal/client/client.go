package client

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/lessongate/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Config holds common client configuration
type Config struct {
	Timeout  time.Duration
	CacheDir string // empty keeps the cache in memory
	APIKey   string // optional bearer key for the directory API
	Logger   zerolog.Logger
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
		Logger:  zerolog.Nop(),
	}
}

// NewHTTPClient builds the client used for every directory call. Layers from the outside in:
// bearer auth when an API key is set, a revalidating cache, request logging and tracing.
// Timeout bounds each call.
func NewHTTPClient(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	transport = logger.NewRoundTripper(cfg.Logger, transport)
	transport = NewCachingTransport(cfg.CacheDir, transport)

	if cfg.APIKey != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}
