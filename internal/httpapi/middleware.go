// Package httpapi holds middleware shared by the deployer and agent HTTP servers.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/searchstack-dev/searchstack/internal/telemetry"
)

// TrailingSlashMiddleware redirects requests with trailing slashes to their
// canonical form.
func TrailingSlashMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
			newURL := *r.URL
			newURL.Path = strings.TrimSuffix(r.URL.Path, "/")
			http.Redirect(w, r, newURL.String(), http.StatusPermanentRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MetricTelemetryMiddleware records request count, duration and error count
// for every operation except the given paths.
func MetricTelemetryMiddleware(metrics *telemetry.Metrics, skipPaths ...string) func(huma.Context, func(huma.Context)) {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		path := ctx.URL().Path
		if skip[path] {
			next(ctx)
			return
		}

		start := time.Now()
		method := ctx.Method()
		routePath := ctx.Operation().Path
		if routePath == "" {
			routePath = path
		}

		next(ctx)

		duration := time.Since(start).Seconds()
		statusCode := ctx.Status()

		attrs := []attribute.KeyValue{
			attribute.String("method", method),
			attribute.String("path", routePath),
			attribute.Int("status_code", statusCode),
		}
		metrics.Requests.Add(ctx.Context(), 1, metric.WithAttributes(attrs...))
		if statusCode >= 400 {
			metrics.ErrorCount.Add(ctx.Context(), 1, metric.WithAttributes(attrs...))
		}
		metrics.RequestDuration.Record(ctx.Context(), duration, metric.WithAttributes(attrs...))
	}
}

// CORSOptions returns the permissive CORS policy used by both services.
func CORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Type", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           86400,
	}
}
