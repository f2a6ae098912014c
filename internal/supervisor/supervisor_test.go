package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brulejr/autohome/internal/infrastructure/config"
)

// fakeRunnable is a Runnable whose runs end when the test says so.
type fakeRunnable struct {
	mu        sync.Mutex
	starts    int
	startErrs []error
	done      chan struct{}
	err       error
	running   bool
}

func newFake() *fakeRunnable {
	ch := make(chan struct{})
	close(ch)
	return &fakeRunnable{done: ch}
}

func (f *fakeRunnable) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return err
		}
	}
	f.done = make(chan struct{})
	f.err = nil
	f.running = true
	return nil
}

func (f *fakeRunnable) Stop() error {
	f.end(nil)
	return nil
}

// fail ends the current run with err.
func (f *fakeRunnable) fail(err error) {
	f.end(err)
}

func (f *fakeRunnable) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return
	}
	f.running = false
	f.err = err
	close(f.done)
}

func (f *fakeRunnable) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeRunnable) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeRunnable) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func fastConfig() Config {
	return Config{
		Name:             "relay",
		RestartOnFailure: true,
		RestartDelay:     5 * time.Millisecond,
		MaxRestartDelay:  20 * time.Millisecond,
		StableThreshold:  time.Hour,
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(newFake(), Config{Name: "relay"})

	if s.config.RestartDelay != time.Second {
		t.Errorf("RestartDelay = %v, want %v", s.config.RestartDelay, time.Second)
	}
	if s.config.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v, want %v", s.config.MaxRestartDelay, time.Minute)
	}
	if s.config.StableThreshold != time.Minute {
		t.Errorf("StableThreshold = %v, want %v", s.config.StableThreshold, time.Minute)
	}
	if s.config.Recoverable == nil {
		t.Error("Recoverable = nil, want IsRecoverable")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig("relay", config.SupervisorConfig{
		RestartOnFailure:   true,
		RestartDelay:       2 * time.Second,
		MaxRestartDelay:    time.Minute,
		StableThreshold:    30 * time.Second,
		MaxRestartAttempts: 5,
	})

	if cfg.Name != "relay" || !cfg.RestartOnFailure || cfg.MaxRestartAttempts != 5 {
		t.Errorf("FromConfig() = %+v", cfg)
	}
	if cfg.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v, want 2s", cfg.RestartDelay)
	}
}

func TestSupervisor_InitialState(t *testing.T) {
	s := New(newFake(), fastConfig())

	if s.Status() != StatusStopped {
		t.Errorf("initial Status() = %q, want %q", s.Status(), StatusStopped)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true, want false")
	}
	if s.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", s.RestartCount())
	}
	if s.Uptime() != 0 {
		t.Errorf("Uptime() = %v, want 0", s.Uptime())
	}
	if s.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", s.LastError())
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v, want nil", err)
	}
}

func TestSupervisor_StartAndStop(t *testing.T) {
	f := newFake()
	started := 0
	var stopErr error = errors.New("unset")
	cfg := fastConfig()
	cfg.OnStart = func() { started++ }
	cfg.OnStop = func(err error) { stopErr = err }
	s := New(f, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() expected error, got nil")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	if started != 1 {
		t.Errorf("OnStart calls = %d, want 1", started)
	}
	if stopErr != nil {
		t.Errorf("OnStop error = %v, want nil", stopErr)
	}
	if f.startCount() != 1 {
		t.Errorf("starts = %d, want 1", f.startCount())
	}
}

func TestSupervisor_StartError(t *testing.T) {
	f := newFake()
	f.startErrs = []error{errors.New("bind failed")}
	s := New(f, fastConfig())

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error, got nil")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSupervisor_RestartsAfterFailure(t *testing.T) {
	f := newFake()
	var attempts []int
	var mu sync.Mutex
	cfg := fastConfig()
	cfg.OnRestart = func(attempt int) {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
	}
	s := New(f, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	f.fail(errors.New("recv: connection reset"))
	waitUntil(t, "restart", func() bool { return f.startCount() == 2 && s.IsRunning() })

	if s.RestartCount() != 1 {
		t.Errorf("RestartCount() = %d, want 1", s.RestartCount())
	}
	if s.LastError() == nil {
		t.Error("LastError() = nil after failure")
	}

	f.fail(errors.New("again"))
	waitUntil(t, "second restart", func() bool { return f.startCount() == 3 && s.IsRunning() })

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("restart attempts = %v, want [1 2]", attempts)
	}
}

func TestSupervisor_RetriesFailedRestart(t *testing.T) {
	f := newFake()
	s := New(f, fastConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	f.mu.Lock()
	f.startErrs = []error{errors.New("dial refused"), errors.New("dial refused")}
	f.mu.Unlock()
	f.fail(errors.New("recv failed"))

	waitUntil(t, "recovery", func() bool { return f.startCount() == 4 && s.IsRunning() })
	if s.RestartCount() != 3 {
		t.Errorf("RestartCount() = %d, want 3", s.RestartCount())
	}
}

func TestSupervisor_MaxRestartAttempts(t *testing.T) {
	f := newFake()
	cfg := fastConfig()
	cfg.MaxRestartAttempts = 2
	s := New(f, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	f.mu.Lock()
	f.startErrs = []error{errors.New("x"), errors.New("y"), errors.New("z")}
	f.mu.Unlock()
	f.fail(errors.New("recv failed"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not give up")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
	if f.startCount() != 3 {
		t.Errorf("starts = %d, want 3", f.startCount())
	}
}

func TestSupervisor_RestartDisabled(t *testing.T) {
	f := newFake()
	cfg := fastConfig()
	cfg.RestartOnFailure = false
	s := New(f, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	f.fail(errors.New("recv failed"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit")
	}
	if f.startCount() != 1 {
		t.Errorf("starts = %d, want 1", f.startCount())
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusFailed)
	}
}

func TestSupervisor_NonRecoverable(t *testing.T) {
	f := newFake()
	s := New(f, fastConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	f.fail(&testRecoverableError{recoverable: false})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit")
	}
	if f.startCount() != 1 {
		t.Errorf("starts = %d, want 1", f.startCount())
	}
}

func TestSupervisor_StopDuringBackoff(t *testing.T) {
	f := newFake()
	cfg := fastConfig()
	cfg.RestartDelay = time.Hour
	cfg.MaxRestartDelay = time.Hour
	s := New(f, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	f.fail(errors.New("recv failed"))
	waitUntil(t, "failure", func() bool { return s.Status() == StatusFailed })

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop() blocked during backoff")
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", s.Status(), StatusStopped)
	}
}

func TestSupervisor_ContextCancelled(t *testing.T) {
	f := newFake()
	s := New(f, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	cancel()
	f.end(nil)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit on cancellation")
	}
	if f.startCount() != 1 {
		t.Errorf("starts = %d, want 1", f.startCount())
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	s := New(newFake(), Config{
		Name:            "test",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
	}

	for _, tt := range tests {
		got := s.calculateBackoffDelay(tt.attempt)
		if got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Run("nil error is recoverable", func(t *testing.T) {
		if !IsRecoverable(nil) {
			t.Error("IsRecoverable(nil) = false, want true")
		}
	})

	t.Run("plain error is recoverable", func(t *testing.T) {
		if !IsRecoverable(context.DeadlineExceeded) {
			t.Error("plain error should be recoverable by default")
		}
	})

	t.Run("recoverable error interface", func(t *testing.T) {
		if !IsRecoverable(&testRecoverableError{recoverable: true}) {
			t.Error("recoverable error should return true")
		}
	})

	t.Run("wrapped non-recoverable error", func(t *testing.T) {
		err := errors.Join(errors.New("outer"), &testRecoverableError{recoverable: false})
		if IsRecoverable(err) {
			t.Error("non-recoverable error should return false")
		}
	})
}

// testRecoverableError implements RecoverableError for testing.
type testRecoverableError struct {
	recoverable bool
}

func (e *testRecoverableError) Error() string       { return "test error" }
func (e *testRecoverableError) IsRecoverable() bool { return e.recoverable }
