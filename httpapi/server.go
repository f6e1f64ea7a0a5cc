// Package httpapi is the HTTP gateway of fringd: menu and admin-access
// commands for the coordinator, publish and history endpoints for the event
// bus, metrics in JSON and Prometheus form and a WebSocket event stream.
package httpapi

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fring-app/fring-core/errors"
	"github.com/fring-app/fring-core/eventbus"
	"github.com/fring-app/fring-core/events"
	"github.com/fring-app/fring-core/metrics"
	"github.com/fring-app/fring-core/modulemenu"
)

// HealthFunc reports the health of each named dependency; nil means healthy.
type HealthFunc func(ctx context.Context) map[string]error

// Deps are the components the gateway serves.
type Deps struct {
	Bus         *eventbus.Bus
	Coordinator *modulemenu.Coordinator
	Metrics     *metrics.Service
	Registry    *events.Registry
	// Prometheus serves GET /metrics when set.
	Prometheus http.Handler
	Health     HealthFunc
	Logger     *zap.Logger
}

type Server struct {
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	mu      sync.Mutex
	srv     *http.Server
	addr    string
	streams map[*stream]struct{}
}

func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = events.DefaultRegistry()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		streams: make(map[*stream]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s
}

// Handler returns the routed gateway.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(TraceID())
	r.Use(Gateway(s.deps.Bus, s.logger))
	r.Use(Recover(s.logger))
	r.Use(SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", TraceIDHeader},
		ExposedHeaders:   []string{TraceIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, newError(ErrCodeRouteNotFound, "", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, newError(ErrCodeMethodNotAllowed, "", nil))
	})

	r.Get("/healthz", s.health)
	if s.deps.Prometheus != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Prometheus)
	}

	r.Route("/api", func(r chi.Router) {
		if s.deps.Coordinator != nil {
			r.Post("/menu/visibility", s.menuVisibility)
			r.Post("/menu/refresh", s.refreshMenu)
			r.Delete("/menu/cache", s.clearModuleCache)
			r.Post("/navigation", s.requestNavigation)

			r.Get("/admin-access", s.adminAccess)
			r.Put("/admin-access", s.enableAdminAccess)
			r.Delete("/admin-access", s.disableAdminAccess)
		}
		if s.deps.Bus != nil {
			r.Get("/events", s.listTopics)
			publish := r.With()
			if s.cfg.PublishRate > 0 {
				publish = r.With(newClientLimiter(s.cfg.PublishRate, s.cfg.PublishBurst).Middleware)
			}
			publish.Post("/events/{topic}", s.publishEvent)
			r.Get("/events/{topic}/history", s.eventHistory)
		}
		if s.deps.Metrics != nil {
			r.Get("/metrics", s.metricsSnapshot)
			r.Post("/metrics/report", s.reportMetrics)
		}
	})

	if s.deps.Bus != nil {
		r.Get("/ws/events", s.streamEvents)
	}
	return r
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned here; serve errors are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.NewConfig("listen on "+s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	s.srv = srv
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", s.addr))
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown closes open event streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	streams := make([]*stream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.close(websocket.CloseGoingAway, "server shutting down")
	}
	if srv == nil {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return srv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) track(st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[st] = struct{}{}
}

func (s *Server) untrack(st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, st)
}
