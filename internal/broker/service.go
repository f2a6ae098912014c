package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/brulejr/autohome/internal/infrastructure/config"
	"github.com/brulejr/autohome/internal/metrics"
)

// State is the lifecycle state of a Service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// stopGrace is how long Stop waits for the receive loop to observe
// cancellation before closing the sockets underneath it.
const stopGrace = 2 * time.Second

// Decode failure reasons recorded in metrics.DecodeErrors.
const (
	reasonUnknownType   = "unknown_type"
	reasonSerialization = "serialization"
)

// Publisher is the local event bus the relay delivers inbound messages to.
type Publisher interface {
	Publish(event any)
}

// Logger defines the logging interface for the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Service.
type Options struct {
	// Config is the broker section of the application config.
	Config config.BrokerConfig

	// Bus receives every inbound message. Required.
	Bus Publisher

	// Registry resolves type discriminators in structured mode.
	// If nil, DefaultRegistry() is used.
	Registry *Registry

	// Logger receives lifecycle and decode messages. If nil, nothing is logged.
	Logger Logger

	// TransportLogger, if set, is handed to the ZeroMQ sockets.
	TransportLogger *log.Logger
}

// Stats is a point-in-time snapshot of relay activity.
type Stats struct {
	State         State     `json:"state"`
	Role          string    `json:"role"`
	Structured    bool      `json:"structured"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	Received      uint64    `json:"received"`
	Typed         uint64    `json:"typed"`
	Raw           uint64    `json:"raw"`
	Published     uint64    `json:"published"`
	DecodeErrors  uint64    `json:"decode_errors"`
	PublishErrors uint64    `json:"publish_errors"`
	LastError     string    `json:"last_error,omitempty"`
}

// Service owns the publisher and subscriber sockets and the receive loop.
//
// Start, Stop and Publish are safe for concurrent use. Sends are serialised
// internally since ZeroMQ sockets tolerate only one writer at a time.
type Service struct {
	cfg    config.BrokerConfig
	codec  Codec
	bus    Publisher
	logger Logger
	zlog   *log.Logger

	mu        sync.RWMutex
	state     State
	pub       zmq4.Socket
	sub       zmq4.Socket
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   chan struct{}
	lastErr   error
	startedAt time.Time

	sendMu sync.Mutex

	typed         atomic.Uint64
	raw           atomic.Uint64
	published     atomic.Uint64
	decodeErrors  atomic.Uint64
	publishErrors atomic.Uint64
}

// New creates a stopped Service. The configuration is validated by Start,
// not here, so a misconfigured relay can still be constructed and inspected.
//
// Parameters:
//   - opts: Relay options; Bus is required
//
// Returns:
//   - *Service: The relay, in StateStopped
//   - error: If Bus is nil
func New(opts Options) (*Service, error) {
	if opts.Bus == nil {
		return nil, errors.New("broker: event bus is required")
	}

	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Service{
		cfg:     opts.Config,
		codec:   Codec{Separator: opts.Config.MessageSeparator, Registry: registry},
		bus:     opts.Bus,
		logger:  logger,
		zlog:    opts.TransportLogger,
		state:   StateStopped,
		done:    closedChan(),
		stopped: closedChan(),
	}, nil
}

// Registry returns the registry used to decode inbound messages.
func (s *Service) Registry() *Registry {
	return s.codec.Registry
}

// Start opens both sockets, applies the subscription filter and launches
// the receive loop.
//
// The lock is not held while sockets connect, so State, Stats and Publish
// stay responsive during a coordinator dial, and Stop can abort it.
// The sockets live until Stop is called, ctx is cancelled or the loop fails.
// On any error the service stays in StateStopped with nothing left open.
//
// Returns:
//   - error: ErrAlreadyRunning, ErrInvalidConfig, ErrTransport, or
//     ErrNotRunning if Stop was called before the sockets were up
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrAlreadyRunning, state)
	}
	if err := s.cfg.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	wiring, err := ResolveWiring(s.cfg.Role, s.cfg.PublisherAddress, s.cfg.SubscriberAddress)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	sockCtx, cancel := context.WithCancel(ctx)
	s.state = StateStarting
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	opts := s.socketOptions()
	pub := zmq4.NewPub(sockCtx, opts...)
	sub := zmq4.NewSub(sockCtx, opts...)
	err = connect(wiring, pub, sub, s.cfg.SubscriberTopicFilter)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && s.state == StateStopping {
		err = fmt.Errorf("%w: stopped during start", ErrNotRunning)
	}
	if err != nil {
		cancel()
		_ = pub.Close()
		_ = sub.Close()
		s.cancel = nil
		s.state = StateStopped
		close(s.stopped)
		return err
	}

	done := make(chan struct{})
	s.pub = pub
	s.sub = sub
	s.done = done
	s.lastErr = nil
	s.startedAt = time.Now()
	s.state = StateRunning
	metrics.RelayRunning.Set(1)

	go s.run(sockCtx, sub, done)

	s.logger.Info("relay started",
		"role", s.cfg.Role.String(),
		"publisher", wiring.Publisher.String(),
		"subscriber", wiring.Subscriber.String(),
		"structured", s.cfg.Structured(),
	)
	return nil
}

// connect binds or dials both sockets and installs the topic filter.
func connect(wiring Wiring, pub, sub zmq4.Socket, filter string) error {
	if err := wiring.Publisher.Apply(pub); err != nil {
		return fmt.Errorf("%w: publisher %s: %w", ErrTransport, wiring.Publisher, err)
	}
	if err := wiring.Subscriber.Apply(sub); err != nil {
		return fmt.Errorf("%w: subscriber %s: %w", ErrTransport, wiring.Subscriber, err)
	}
	// An empty filter subscribes to everything.
	if err := sub.SetOption(zmq4.OptionSubscribe, filter); err != nil {
		return fmt.Errorf("%w: subscribe %q: %w", ErrTransport, filter, err)
	}
	return nil
}

func (s *Service) socketOptions() []zmq4.Option {
	var opts []zmq4.Option
	if s.cfg.DialRetry > 0 {
		opts = append(opts, zmq4.WithDialerRetry(s.cfg.DialRetry))
	}
	if s.cfg.DialTimeout > 0 {
		opts = append(opts, zmq4.WithDialerTimeout(s.cfg.DialTimeout))
	}
	if s.zlog != nil {
		opts = append(opts, zmq4.WithLogger(s.zlog))
	}
	return opts
}

// Stop ends the receive loop and closes both sockets.
//
// Stop is idempotent and returns only once the service is back in
// StateStopped. It does not wait for another message to arrive: the
// socket context is cancelled, which unblocks a pending receive or dial.
func (s *Service) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
	case StateStarting:
		// Start rolls back and closes stopped once its dial returns.
		s.state = StateStopping
		s.cancel()
		stopped := s.stopped
		s.mu.Unlock()
		<-stopped
		return nil
	case StateStopping:
		stopped := s.stopped
		s.mu.Unlock()
		<-stopped
		return nil
	default:
		s.mu.Unlock()
		return nil
	}

	s.state = StateStopping
	done := s.done
	s.cancel()
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopGrace):
		s.logger.Warn("receive loop did not exit, closing sockets", "grace", stopGrace)
		s.mu.Lock()
		err := s.closeSockets()
		s.mu.Unlock()
		if err != nil {
			s.logger.Debug("closing sockets", "error", err)
		}
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.teardown()
	s.state = StateStopped
	close(s.stopped)
	s.logger.Info("relay stopped")
	if err != nil {
		return fmt.Errorf("%w: closing sockets: %w", ErrTransport, err)
	}
	return nil
}

// teardown releases both sockets. Caller must hold s.mu.
func (s *Service) teardown() error {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	err := s.closeSockets()
	metrics.RelayRunning.Set(0)
	return err
}

// closeSockets closes whichever sockets are open. Caller must hold s.mu.
func (s *Service) closeSockets() error {
	var errs []error
	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
		s.pub = nil
	}
	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("subscriber: %w", err))
		}
		s.sub = nil
	}
	return errors.Join(errs...)
}

// IsRunning reports whether the receive loop is active.
func (s *Service) IsRunning() bool {
	return s.State() == StateRunning
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done returns a channel closed when the current run's receive loop exits.
// Before the first Start it is already closed.
func (s *Service) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Err returns the error that ended the last run, or nil after a clean stop.
func (s *Service) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Publish packs topic and payload and sends them on the publisher socket.
//
// An empty topic sends the payload's plain text. Otherwise the payload is
// sent as topic + separator + JSON.
//
// Returns:
//   - error: ErrNotRunning, ErrInvalidTopic, ErrSerialization or ErrTransport
func (s *Service) Publish(topic string, payload any) error {
	s.mu.RLock()
	running := s.state == StateRunning
	pub := s.pub
	s.mu.RUnlock()

	if !running || pub == nil {
		return ErrNotRunning
	}

	wire, err := s.codec.Pack(topic, payload)
	if err != nil {
		s.publishErrors.Add(1)
		metrics.PublishErrors.Inc()
		return err
	}

	s.sendMu.Lock()
	err = pub.Send(zmq4.NewMsgString(wire))
	s.sendMu.Unlock()
	if err != nil {
		s.publishErrors.Add(1)
		metrics.PublishErrors.Inc()
		return fmt.Errorf("%w: send: %w", ErrTransport, err)
	}

	s.published.Add(1)
	metrics.MessagesPublished.Inc()
	return nil
}

// Stats returns a snapshot of relay counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		State:         s.state,
		Role:          s.cfg.Role.String(),
		Structured:    s.cfg.Structured(),
		Typed:         s.typed.Load(),
		Raw:           s.raw.Load(),
		Published:     s.published.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		PublishErrors: s.publishErrors.Load(),
	}
	st.Received = st.Typed + st.Raw
	if s.state == StateRunning {
		st.StartedAt = s.startedAt
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// run is the receive loop. It exits on cancellation, on a transport error,
// on a decode error when the decode policy is "stop", or when a decoder or
// bus handler panics.
func (s *Service) run(ctx context.Context, sub zmq4.Socket, done chan struct{}) {
	defer close(done)
	s.finish(s.safeReceive(ctx, sub))
}

// safeReceive turns a panic in the loop into ErrLoopPanic.
func (s *Service) safeReceive(ctx context.Context, sub zmq4.Socket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLoopPanic, r)
		}
	}()
	return s.receive(ctx, sub)
}

func (s *Service) receive(ctx context.Context, sub zmq4.Socket) error {
	structured := s.cfg.Structured()
	failStop := s.cfg.DecodeErrorPolicy == config.DecodePolicyStop

	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: receive: %w", ErrTransport, err)
		}

		raw := string(bytes.Join(msg.Frames, nil))
		value, err := s.codec.Unpack(raw, structured)
		if err != nil {
			s.decodeErrors.Add(1)
			metrics.DecodeErrors.WithLabelValues(decodeReason(err)).Inc()
			if failStop {
				return err
			}
			s.logger.Warn("dropping undecodable message", "error", err, "size", len(raw))
			continue
		}

		if _, ok := value.(string); ok {
			s.raw.Add(1)
			metrics.MessagesReceived.WithLabelValues(metrics.KindRaw).Inc()
		} else {
			s.typed.Add(1)
			metrics.MessagesReceived.WithLabelValues(metrics.KindTyped).Inc()
		}
		s.bus.Publish(value)
	}
}

// finish records how the loop ended. If nobody asked it to stop, the
// sockets are released here and the service drops back to StateStopped.
func (s *Service) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return
	}

	s.lastErr = err
	if cerr := s.teardown(); cerr != nil {
		s.logger.Debug("closing sockets", "error", cerr)
	}
	s.state = StateStopped
	close(s.stopped)

	if err != nil {
		s.logger.Error("receive loop terminated", "error", err)
	} else {
		s.logger.Info("receive loop ended", "reason", "context cancelled")
	}
}

func decodeReason(err error) string {
	if errors.Is(err, ErrUnknownType) {
		return reasonUnknownType
	}
	return reasonSerialization
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
