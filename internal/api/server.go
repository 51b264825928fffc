package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/minifc/internal/brain"
	"github.com/nerrad567/minifc/internal/controller"
	"github.com/nerrad567/minifc/internal/gate"
	"github.com/nerrad567/minifc/internal/hardware"
	"github.com/nerrad567/minifc/internal/infrastructure/config"
	"github.com/nerrad567/minifc/internal/infrastructure/logging"
	"github.com/nerrad567/minifc/internal/journal"
	"github.com/nerrad567/minifc/internal/metrics"
	"github.com/nerrad567/minifc/internal/shadow"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the device controller exposed by the server.
// *controller.Controller satisfies it.
type Controller interface {
	State() controller.State
	EmergencyStop(ctx context.Context) error
}

// Connection reports transport connectivity. *mqtt.Client satisfies it.
type Connection interface {
	IsConnected() bool
	SubscriptionCount() int
}

// DocumentReader returns shadow documents. *shadow.Service satisfies it.
type DocumentReader interface {
	Document(ctx context.Context, thing string) (*shadow.Document, error)
}

// Deps holds the dependencies required by the API server.
//
// Device processes set Controller, Gate and Group; the brain sets Shadow,
// Thing and Uploads. Everything but Logger is optional and the matching
// endpoints answer 404 when their dependency is missing.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	DeviceID string
	Kind     string
	Version  string

	Controller Controller
	Gate       *gate.Gate
	Group      *hardware.Group
	MQTT       Connection
	Journal    journal.Repository
	Metrics    *metrics.Metrics

	Shadow  DocumentReader
	Thing   string
	Uploads *brain.Uploads

	// Hub is shared with the event sinks. A new one is created when nil.
	Hub *Hub
}

// Server is the local HTTP status server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	deviceID   string
	kind       string
	version    string
	startedAt  time.Time
	controller Controller
	gate       *gate.Gate
	group      *hardware.Group
	mqtt       Connection
	journal    journal.Repository
	metrics    *metrics.Metrics
	shadow     DocumentReader
	thing      string
	uploads    *brain.Uploads
	hub        *Hub
	server     *http.Server
	listener   net.Listener
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger) and optional sources
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Logger)
	}
	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		deviceID:   deps.DeviceID,
		kind:       deps.Kind,
		version:    deps.Version,
		startedAt:  time.Now(),
		controller: deps.Controller,
		gate:       deps.Gate,
		group:      deps.Group,
		mqtt:       deps.MQTT,
		journal:    deps.Journal,
		metrics:    deps.Metrics,
		shadow:     deps.Shadow,
		thing:      deps.Thing,
		uploads:    deps.Uploads,
		hub:        hub,
	}, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in a background goroutine. The
// server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context of the hub loop
//
// Returns:
//   - error: If the listener cannot bind (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln
	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
