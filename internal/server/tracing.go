package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/hakbot/internal/logger"
	"github.com/wolfeidau/hakbot/internal/models"
)

// keyRoutePrefix is where access key values appear in request paths.
const keyRoutePrefix = "/v1/team/key/"

type originalTargetKey struct{}

type originalTarget struct {
	url        *url.URL
	requestURI string
}

// withTracing wraps h in an otelhttp handler that never sees a raw access key.
// The path is masked on the way in and restored before routing.
func withTracing(h http.Handler, tp trace.TracerProvider) http.Handler {
	var opts []otelhttp.Option
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}
	return maskKeyPath(otelhttp.NewHandler(restoreKeyPath(h), "hakbot", opts...))
}

func maskKeyPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, ok := strings.CutPrefix(r.URL.Path, keyRoutePrefix)
		if !ok || value == "" {
			next.ServeHTTP(w, r)
			return
		}

		masked := *r.URL
		masked.Path = keyRoutePrefix + models.MaskKey(value)
		masked.RawPath = ""

		orig := originalTarget{url: r.URL, requestURI: r.RequestURI}
		r = r.WithContext(context.WithValue(r.Context(), originalTargetKey{}, orig))
		r.URL = &masked
		r.RequestURI = masked.RequestURI()

		next.ServeHTTP(w, r)
	})
}

func restoreKeyPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if orig, ok := r.Context().Value(originalTargetKey{}).(originalTarget); ok {
			r = r.WithContext(r.Context())
			r.URL = orig.url
			r.RequestURI = orig.requestURI
		}
		next.ServeHTTP(w, r)
	})
}

// nameSpanByRoute renames the request span after the matched route template
// once routing has finished.
func nameSpanByRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		route := logger.RoutePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attribute.String("http.route", route))
	})
}
