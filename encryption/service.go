package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"zvote/voteerr"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadyTimeout = 10 * time.Second
)

type engineState int

const (
	stateUninitialized engineState = iota
	stateInitializing
	stateReady
)

func (s engineState) String() string {
	switch s {
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

type initAttempt struct {
	done chan struct{}
	err  error
}

// Service owns the process-wide engine instance. The engine is bootstrapped
// once; callers arriving while a bootstrap is running share it. A failed
// bootstrap returns the service to uninitialized so a later call can retry.
type Service struct {
	engine       Engine
	logger       *slog.Logger
	pollInterval time.Duration
	readyTimeout time.Duration

	mu       sync.Mutex
	state    engineState
	attempt  *initAttempt
	attempts int
}

type ServiceOptionFunc func(*Service)

func WithLogger(logger *slog.Logger) ServiceOptionFunc {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithReadiness sets the polling interval between Init attempts and the
// overall bootstrap deadline.
func WithReadiness(pollInterval, readyTimeout time.Duration) ServiceOptionFunc {
	return func(s *Service) {
		if pollInterval > 0 {
			s.pollInterval = pollInterval
		}
		if readyTimeout > 0 {
			s.readyTimeout = readyTimeout
		}
	}
}

func NewService(engine Engine, opts ...ServiceOptionFunc) *Service {
	s := &Service{
		engine:       engine,
		pollInterval: DefaultPollInterval,
		readyTimeout: DefaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return s
}

// Engine returns the ready engine, bootstrapping it on first use. Failures
// are SdkUnavailable errors.
func (s *Service) Engine(ctx context.Context) (Engine, error) {
	s.mu.Lock()
	if s.state == stateReady {
		s.mu.Unlock()
		return s.engine, nil
	}
	attempt := s.startLocked()
	s.mu.Unlock()

	select {
	case <-attempt.done:
		if attempt.err != nil {
			return nil, voteerr.New(voteerr.KindSdkUnavailable, "engine-init", attempt.err)
		}
		return s.engine, nil
	case <-ctx.Done():
		return nil, voteerr.New(voteerr.KindSdkUnavailable, "engine-init", ctx.Err())
	}
}

// Warm starts a bootstrap in the background without waiting for it.
func (s *Service) Warm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateReady {
		return
	}
	s.startLocked()
}

func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.String()
}

// Attempts returns how many bootstraps have been started.
func (s *Service) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Service) startLocked() *initAttempt {
	if s.state == stateInitializing {
		return s.attempt
	}
	attempt := &initAttempt{done: make(chan struct{})}
	s.state = stateInitializing
	s.attempt = attempt
	s.attempts++
	go s.bootstrap(attempt)
	return attempt
}

func (s *Service) bootstrap(attempt *initAttempt) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.readyTimeout)
	defer cancel()
	err := s.pollInit(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = stateUninitialized
		attempt.err = err
		s.logger.Error(
			"encryption engine failed to initialize",
			"component", "encryption",
			"error", err,
			"elapsed", time.Since(start),
		)
	} else {
		s.state = stateReady
		s.logger.Info(
			"encryption engine ready",
			"component", "encryption",
			"elapsed", time.Since(start),
		)
	}
	s.attempt = nil
	s.mu.Unlock()
	close(attempt.done)
}

func (s *Service) pollInit(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		err := s.engine.Init(ctx)
		if err == nil {
			return nil
		}
		s.logger.Debug(
			"encryption engine not ready",
			"component", "encryption",
			"error", err,
		)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("engine not ready after %s: %w", s.readyTimeout, err)
			}
			return ctx.Err()
		}
	}
}
