// Package portal implements the ControlPortal local HTTP server of
// spec.md §4.7: static dashboard assets plus the node's programmatic
// routes, the fleet-scoped bearer-secured subset, an SSE event stream,
// and a Prometheus exposition endpoint. Grounded on the teacher's
// internal/web package (ServerConfig-of-callbacks shape, auth middleware,
// Start/Stop via http.Server.Shutdown) but rebuilt on
// github.com/go-chi/chi/v5 for routing, the HTTP router the wider pack
// favors for services with this many small JSON routes.
package portal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sai-cam/agentd/internal/agentconfig"
	"github.com/sai-cam/agentd/internal/agentlog"
)

// Deps bridges the portal to the supervisor without importing it
// directly, mirroring the teacher's ServerConfig callback bundle.
type Deps struct {
	// NodeID, Version, StartedAt identify this node for /api/fleet/ping
	// and the composite status view.
	NodeID    string
	Version   string
	StartedAt time.Time

	// Config returns the live config; ConfigPath is where /api/cameras/{id}/position
	// and /api/fleet/config and /api/log_level write changes back.
	Config     func() *agentconfig.NodeConfig
	ConfigPath string

	// HealthSocketPath is where the portal proxies /api/health* and the
	// capture/restart POST routes.
	HealthSocketPath string

	// LatestImage returns the newest stored frame for a camera.
	LatestImage func(cameraID string) (data []byte, name string, err error)

	// StorageStats backs /api/status's "storage" field.
	StorageStats func() any

	// UpdateInfo backs /api/status's optional "update" field; the second
	// return reports whether update tracking is configured at all (so an
	// agent with no updates{} section simply omits the key rather than
	// serving a zeroed-out placeholder).
	UpdateInfo func() (info any, ok bool)

	// RecentLogs returns up to n of the most recent log lines, merged from
	// the agent's own log and the external update procedure's log, each
	// tagged with its source (spec.md §4.7).
	RecentLogs func(n int) []LogLine

	// SetLogLevel applies a new log level live; TriggerReload re-runs the
	// same config-reload path SIGHUP does, so /api/log_level's config
	// rewrite (below) is picked up the same way a restart would pick it
	// up. WifiAP shells out to the OS network manager. All are optional
	// external collaborators (spec.md §1).
	SetLogLevel   func(level string) error
	TriggerReload func() error
	WifiAP        func(enable bool) error

	// TriggerUpdate, RestartService, RebootHost, and WriteFleetConfigKey
	// back the /api/fleet/* write routes.
	TriggerUpdate       func() error
	UpdateInProgress    func() bool
	RestartService      func() error
	RebootHost          func() error
	WriteFleetConfigKey func(key, value string) error

	Logger *slog.Logger
}

// LogLine is one merged log line plus which log file it came from
// ("agent" or "update"), per spec.md §4.7's /api/logs and "log" SSE tier.
type LogLine struct {
	Source string `json:"source"`
	Line   string `json:"line"`
}

// Server is the ControlPortal HTTP listener.
type Server struct {
	deps    Deps
	router  chi.Router
	httpSrv *http.Server
	events  *eventStream
}

// New builds a Server with all routes registered. staticDir is the
// directory sibling to the service binary that static dashboard assets
// are served from (spec.md §6); it is an external collaborator the core
// never generates, so a missing directory simply yields 404s rather than
// a startup failure.
func New(deps Deps, staticDir string) *Server {
	s := &Server{deps: deps}
	s.events = newEventStream(deps)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationID)
	if deps.Logger != nil {
		r.Use(slogRequestLogger(deps.Logger))
	}

	r.Get("/*", http.FileServer(http.Dir(staticDir)).ServeHTTP)

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/status/cameras", s.handleStatusCameras)
	r.Get("/api/status/system", s.handleStatusSystem)
	r.Get("/api/status/network", s.handleStatusNetwork)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/health/cameras", s.handleHealthCameras)
	r.Get("/api/health/threads", s.handleHealthThreads)
	r.Get("/api/health/system", s.handleHealthSystem)

	r.Get("/api/logs", s.handleLogs)
	r.Get("/api/events", s.events.ServeHTTP)

	r.Get("/api/images/{camera_id}/latest", s.handleLatestImage)
	r.Get("/api/config", s.handleConfig)

	r.Post("/api/cameras/{id}/capture", s.handleCameraCapture)
	r.Post("/api/cameras/{id}/restart", s.handleCameraRestart)
	r.Post("/api/cameras/{id}/position", s.handleCameraPosition)

	r.Get("/api/log_level", s.handleGetLogLevel)
	r.Post("/api/log_level", s.handleSetLogLevel)

	r.Post("/api/wifi_ap/enable", s.handleWifiAP(true))
	r.Post("/api/wifi_ap/disable", s.handleWifiAP(false))

	r.Route("/api/fleet", func(fr chi.Router) {
		fr.Get("/ping", s.handleFleetPing) // public discovery, no bearer required
		fr.Group(func(gr chi.Router) {
			gr.Use(s.fleetAuth)
			gr.Post("/update/apply", s.handleFleetUpdateApply)
			gr.Post("/service/restart", s.handleFleetServiceRestart)
			gr.Post("/reboot", s.handleFleetReboot)
			gr.Post("/config", s.handleFleetConfig)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

// ServeHTTP lets Server be used directly with httptest or a custom
// listener without exposing the chi router type to callers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Start runs the HTTP server on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // /api/events is long-lived; per-route timeouts apply elsewhere
		IdleTimeout:  60 * time.Second,
	}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// correlationID stamps every request's context with a fresh id (grounded
// on SPEC_FULL.md's ambient-stack note to carry a correlation id through
// HTTP/IPC requests), so every log line emitted while handling it can be
// tied back to this one request via agentlog's correlationHandler.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(agentlog.WithCorrelationID(r.Context(), id)))
	})
}

func slogRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "portal request", "method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
		})
	}
}
