package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// Status represents the current state of a supervised component.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Default backoff settings applied to zero values.
const (
	defaultRestartDelay    = time.Second
	defaultMaxRestartDelay = time.Minute
	defaultStableThreshold = time.Minute
)

// Runnable is a component with a start/stop lifecycle whose run can end on
// its own. Done must return the channel for the run begun by the latest
// Start, and Err the reason that run ended (nil for a requested stop).
type Runnable interface {
	Start(ctx context.Context) error
	Stop() error
	Done() <-chan struct{}
	Err() error
}

// RecoverableError is implemented by errors that know whether a restart
// could help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err is worth restarting for.
// Errors that do not implement RecoverableError are assumed recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// Config holds supervision settings.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// RestartOnFailure enables automatic restart when the run ends unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the wait before the first restart attempt.
	RestartDelay time.Duration

	// MaxRestartDelay caps the exponential backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last before the backoff resets.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// Recoverable decides whether an error is worth a restart.
	// If nil, IsRecoverable is used.
	Recoverable func(error) bool

	// OnStart is called each time the component starts successfully.
	OnStart func()

	// OnStop is called when a run ends, with nil for a requested stop.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// FromConfig builds a Config from the supervisor section of the application
// config.
func FromConfig(name string, cfg config.SupervisorConfig) Config {
	return Config{
		Name:               name,
		RestartOnFailure:   cfg.RestartOnFailure,
		RestartDelay:       cfg.RestartDelay,
		MaxRestartDelay:    cfg.MaxRestartDelay,
		StableThreshold:    cfg.StableThreshold,
		MaxRestartAttempts: cfg.MaxRestartAttempts,
	}
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor manages the lifecycle of one Runnable.
type Supervisor struct {
	target Runnable
	config Config
	logger Logger

	mu            sync.RWMutex
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool

	stopCh chan struct{}
	done   chan struct{}
}

// New creates a supervisor for target.
func New(target Runnable, cfg Config) *Supervisor {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.Recoverable == nil {
		cfg.Recoverable = IsRecoverable
	}

	return &Supervisor{
		target: target,
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start starts the component and begins monitoring it.
// An error from the first start is returned as-is and nothing is monitored.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return fmt.Errorf("%s is already running", s.config.Name)
	}
	s.status = StatusStarting
	s.stopRequested = false
	s.restartCount = 0
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	runDone, err := s.startTarget(ctx)
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.monitor(ctx, runDone)
	return nil
}

func (s *Supervisor) startTarget(ctx context.Context) (<-chan struct{}, error) {
	s.logger.Debug("starting component", "name", s.config.Name)

	if err := s.target.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.config.Name, err)
	}
	runDone := s.target.Done()

	s.mu.Lock()
	s.status = StatusRunning
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("component started", "name", s.config.Name)
	if s.config.OnStart != nil {
		s.config.OnStart()
	}
	return runDone, nil
}

// monitor waits for each run to end and restarts it when appropriate.
func (s *Supervisor) monitor(ctx context.Context, runDone <-chan struct{}) {
	defer close(s.done)

	attempt := 0
	for {
		select {
		case <-runDone:
		case <-s.stopCh:
			// A restart may have raced with Stop; make sure this run ends too.
			if err := s.target.Stop(); err != nil {
				s.logger.Debug("stopping component", "name", s.config.Name, "error", err)
			}
			<-runDone
		}

		if s.stopping() || ctx.Err() != nil {
			s.setStatus(StatusStopped, nil)
			s.logger.Info("component stopped", "name", s.config.Name)
			if s.config.OnStop != nil {
				s.config.OnStop(nil)
			}
			return
		}

		err := s.target.Err()
		if err == nil {
			err = errors.New("run ended without error")
		}
		s.logger.Warn("component exited unexpectedly", "name", s.config.Name, "error", err)

		s.mu.Lock()
		if time.Since(s.startTime) >= s.config.StableThreshold {
			attempt = 0
		}
		s.mu.Unlock()
		s.setStatus(StatusFailed, err)
		if s.config.OnStop != nil {
			s.config.OnStop(err)
		}

		for {
			if !s.config.RestartOnFailure {
				s.logger.Info("restart disabled, not restarting", "name", s.config.Name)
				return
			}
			if !s.config.Recoverable(err) {
				s.logger.Error("error is not recoverable, not restarting", "name", s.config.Name, "error", err)
				return
			}

			attempt++
			if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
				s.logger.Error("max restart attempts reached", "name", s.config.Name, "attempts", attempt-1)
				return
			}

			delay := s.calculateBackoffDelay(attempt)
			s.logger.Info("restarting component", "name", s.config.Name, "attempt", attempt, "delay", delay)
			if s.config.OnRestart != nil {
				s.config.OnRestart(attempt)
			}

			select {
			case <-ctx.Done():
				s.logger.Info("context cancelled, not restarting", "name", s.config.Name)
				s.setStatus(StatusStopped, nil)
				return
			case <-s.stopCh:
				s.setStatus(StatusStopped, nil)
				return
			case <-time.After(delay):
			}

			s.mu.Lock()
			s.restartCount++
			s.mu.Unlock()

			next, startErr := s.startTarget(ctx)
			if startErr == nil {
				runDone = next
				break
			}
			s.logger.Error("failed to restart component", "name", s.config.Name, "error", startErr)
			err = startErr
			s.setStatus(StatusFailed, err)
		}
	}
}

// calculateBackoffDelay returns RestartDelay doubled per attempt, capped
// at MaxRestartDelay.
func (s *Supervisor) calculateBackoffDelay(attempt int) time.Duration {
	delay := s.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.MaxRestartDelay {
			return s.config.MaxRestartDelay
		}
	}
	return delay
}

func (s *Supervisor) stopping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopRequested
}

func (s *Supervisor) setStatus(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if err != nil {
		s.lastError = err
	}
}

// Stop stops the component and ends supervision. It waits for the monitor
// to exit, including one that is sleeping before a restart.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil || s.stopRequested {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	s.stopRequested = true
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	err := s.target.Stop()
	<-done

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stopping %s: %w", s.config.Name, err)
	}
	return nil
}

// Done returns a channel closed when supervision ends, either by Stop or
// because restarting gave up.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Status returns the current status of the supervised component.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning returns true if the component is currently running.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// LastError returns the last error that ended a run or failed a restart.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// RestartCount returns the number of restarts since Start.
func (s *Supervisor) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartCount
}

// Uptime returns how long the current run has lasted.
// Returns 0 if the component is not running.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning {
		return 0
	}
	return time.Since(s.startTime)
}

// Stats describes the supervised component.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the component.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Name:         s.config.Name,
		Status:       s.status,
		RestartCount: s.restartCount,
	}
	if s.status == StatusRunning {
		stats.Uptime = time.Since(s.startTime)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}
