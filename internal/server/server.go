package server

import (
	"net/http"

	"filippo.io/csrf"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/hakbot/internal/accesskey"
	"github.com/wolfeidau/hakbot/internal/auth"
	httpmiddleware "github.com/wolfeidau/hakbot/internal/http"
	"github.com/wolfeidau/hakbot/internal/logger"
	"github.com/wolfeidau/hakbot/internal/store"
)

// Config holds the HTTP surface options.
type Config struct {
	CORSOrigins []string
	Tracing     bool

	// TracerProvider overrides the global provider when Tracing is set.
	TracerProvider trace.TracerProvider
}

// Server wires authentication and the team resource onto an HTTP router.
type Server struct {
	cfg   Config
	authn *auth.Authenticator
	teams *TeamHandlers
}

// NewServer creates a server over the given authenticator, team store and lifecycle.
func NewServer(cfg Config, authn *auth.Authenticator, teams store.TeamStore, lifecycle *accesskey.Lifecycle) *Server {
	return &Server{
		cfg:   cfg,
		authn: authn,
		teams: NewTeamHandlers(teams, lifecycle),
	}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(httpmiddleware.ClientIPMiddleware)
	r.Use(logger.HTTPRequests(log))
	if s.cfg.Tracing {
		r.Use(nameSpanByRoute)
	}

	// Health check endpoint for load balancer
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(s.authn))

		r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, presentPrincipal(auth.PrincipalFromContext(r.Context())))
		})

		r.Route("/team", func(r chi.Router) {
			r.Use(auth.RequirePrivilegedMiddleware)
			s.teams.Routes(r)
		})
	})

	protection := csrf.New()
	for _, origin := range s.cfg.CORSOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, err
		}
	}

	var handler http.Handler = protection.Handler(r)
	handler = withCORS(s.cfg.CORSOrigins, handler)
	handler = gzhttp.GzipHandler(handler)

	if s.cfg.Tracing {
		handler = withTracing(handler, s.cfg.TracerProvider)
	}

	return handler, nil
}

// withCORS allows browser clients on the configured origins to send credentials headers.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", auth.AuthorizationHeader, auth.AccessKeyHeader},
	})
	return middleware.Handler(h)
}
