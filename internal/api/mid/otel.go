// Package mid holds the HTTP middleware shared by the service APIs.
package mid

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Otel starts a server span per request, continuing any trace propagated in
// the request headers.
func Otel(service string, tp trace.TracerProvider) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(service,
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
