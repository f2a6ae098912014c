package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/brulejr/autohome/internal/bridge"
	"github.com/brulejr/autohome/internal/broker"
	"github.com/brulejr/autohome/internal/eventbus"
	"github.com/brulejr/autohome/internal/infrastructure/config"
	"github.com/brulejr/autohome/internal/infrastructure/logging"
	"github.com/brulejr/autohome/internal/supervisor"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Relay is the part of *broker.Service the API uses.
type Relay interface {
	Publish(topic string, payload any) error
	Stats() broker.Stats
}

// SupervisorStatus reports the restart state of the relay.
type SupervisorStatus interface {
	Stats() supervisor.Stats
}

// BridgeStatus reports MQTT bridge traffic.
type BridgeStatus interface {
	Stats() bridge.Stats
}

// ConnectionStatus is implemented by the optional infrastructure clients.
// HealthCheck is called on every /health request.
type ConnectionStatus interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Node       string
	Relay      Relay
	Bus        *eventbus.Bus
	Supervisor SupervisorStatus // optional
	Bridge     BridgeStatus     // optional
	MQTT       ConnectionStatus // optional
	InfluxDB   ConnectionStatus // optional
	Version    string
}

// Server is the HTTP API server for an autohome node.
//
// It manages the HTTP listener, routes, middleware, and live WebSocket feed.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	node       string
	relay      Relay
	bus        *eventbus.Bus
	supervisor SupervisorStatus
	bridge     BridgeStatus
	mqtt       ConnectionStatus
	influx     ConnectionStatus
	version    string
	startTime  time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	feed     *Feed
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, relay, bus)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		node:       deps.Node,
		relay:      deps.Relay,
		bus:        deps.Bus,
		supervisor: deps.Supervisor,
		bridge:     deps.Bridge,
		mqtt:       deps.MQTT,
		influx:     deps.InfluxDB,
		version:    deps.Version,
		feed:       NewFeed(deps.WS, deps.Logger),
	}, nil
}

// Start binds the listener and serves HTTP in a background goroutine.
//
// It also attaches the live feed to the event bus.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the live feed
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.feed.Run(srvCtx, s.bus)

	s.startTime = time.Now()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadDuration(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadDuration(),
		WriteTimeout:      s.cfg.Timeouts.WriteDuration(),
		IdleTimeout:       s.cfg.Timeouts.IdleDuration(),
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	// Stops the feed, which disconnects WebSocket viewers.
	if cancel != nil {
		cancel()
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelShutdown()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

