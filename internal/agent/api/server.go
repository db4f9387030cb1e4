package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/cors"

	"github.com/searchstack-dev/searchstack/internal/agent/config"
	"github.com/searchstack-dev/searchstack/internal/httpapi"
	"github.com/searchstack-dev/searchstack/internal/telemetry"
)

// Server represents the agent HTTP server.
type Server struct {
	config  *config.Config
	humaAPI huma.API
	mux     *http.ServeMux
	server  *http.Server
}

// HumaAPI returns the Huma API instance, allowing registration of new routes.
func (s *Server) HumaAPI() huma.API {
	return s.humaAPI
}

// NewServer creates the agent HTTP server with all routes registered.
func NewServer(cfg *config.Config, handlers *Handlers, metrics *telemetry.Metrics) *Server {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("Elasticsearch AI Agent", cfg.Version)
	humaConfig.Info.Description = "REST wrapper around an LLM agent with Elasticsearch MCP tools."
	// Disable $schema property in responses.
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	api := humago.New(mux, humaConfig)
	api.UseMiddleware(httpapi.MetricTelemetryMiddleware(metrics, "/health", "/metrics", "/docs"))

	handlers.Register(api)

	mux.Handle("/metrics", metrics.PrometheusHandler())

	handler := httpapi.TrailingSlashMiddleware(cors.New(httpapi.CORSOptions()).Handler(mux))

	return &Server{
		config:  cfg,
		humaAPI: api,
		mux:     mux,
		server: &http.Server{
			Addr:              cfg.ServerAddress,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	log.Printf("Agent API listening on %s", s.config.ServerAddress)
	log.Printf("API documentation at http://localhost%s/docs", s.config.ServerAddress)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
