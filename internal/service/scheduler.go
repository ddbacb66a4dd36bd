package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/approvalflow/internal/observability"
)

// SchedulerConfig holds configuration for the ExpirationScheduler.
type SchedulerConfig struct {
	// DefaultInterval is returned when no deadline is pending or a cycle fails.
	DefaultInterval time.Duration
}

// DefaultSchedulerConfig returns reasonable defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DefaultInterval: 10 * time.Minute,
	}
}

// ExpirationScheduler resolves steps whose time limit has passed and
// computes how long to sleep until the next deadline.
type ExpirationScheduler struct {
	service *WorkflowService
	config  SchedulerConfig
	logger  logrus.FieldLogger

	// cycleMu keeps cycles from overlapping.
	cycleMu sync.Mutex

	mu     sync.Mutex
	wakeAt time.Time
	wakeCh chan struct{}

	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewExpirationScheduler creates a scheduler that shares storage, clock,
// logger, metrics and instance locks with svc.
func NewExpirationScheduler(svc *WorkflowService, config SchedulerConfig) *ExpirationScheduler {
	if config.DefaultInterval <= 0 {
		config.DefaultInterval = DefaultSchedulerConfig().DefaultInterval
	}
	return &ExpirationScheduler{
		service: svc,
		config:  config,
		logger:  svc.logger.WithField("component", "expiration-scheduler"),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Now reports the scheduler's current time.
func (s *ExpirationScheduler) Now() time.Time {
	return s.service.clock.Now()
}

// RunExpirationCycle resolves every expired pending step as of now and
// returns the interval until the next deadline, or DefaultInterval when
// there is none. Errors are logged, never returned; a failed cycle reports
// DefaultInterval. Cycles never overlap: a caller waits for the one in
// flight to finish.
func (s *ExpirationScheduler) RunExpirationCycle(ctx context.Context, now time.Time) time.Duration {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.cycle(ctx, now)
}

// TriggerCycle runs one cycle as of the scheduler clock, read once the
// cycle lock is held. It returns the evaluation time and the next interval.
func (s *ExpirationScheduler) TriggerCycle(ctx context.Context) (time.Time, time.Duration) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	now := s.Now()
	return now, s.cycle(ctx, now)
}

func (s *ExpirationScheduler) cycle(ctx context.Context, now time.Time) time.Duration {
	ctx, span := s.service.tracer.Start(ctx, "ExpirationScheduler.RunExpirationCycle",
		trace.WithAttributes(attribute.String("now", now.Format(time.RFC3339Nano))))
	start := time.Now()

	next, resolved, err := s.runCycle(ctx, now)
	outcome := observability.OutcomeOK
	if err != nil {
		outcome = observability.OutcomeError
		next = s.config.DefaultInterval
		s.logger.WithError(err).Error("expiration cycle failed")
	}
	elapsed := time.Since(start)
	s.service.metrics.CycleCompleted(outcome, elapsed, resolved, next)
	endSpan(span, err)

	s.logger.WithFields(logrus.Fields{
		"resolved":    resolved,
		"next_wake":   now.Add(next),
		"duration_ms": elapsed.Milliseconds(),
	}).Info("expiration cycle completed")
	return next
}

func (s *ExpirationScheduler) runCycle(ctx context.Context, now time.Time) (time.Duration, int, error) {
	ids, err := s.listExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	var errs []error
	resolved := 0
	for _, instanceID := range ids {
		ok, err := s.service.resolveExpired(ctx, instanceID, now)
		if err != nil {
			s.logger.WithError(err).WithField("instance_id", instanceID).Error("failed to resolve expired step")
			errs = append(errs, fmt.Errorf("instance %s: %w", instanceID, err))
			continue
		}
		if ok {
			resolved++
		}
	}

	next, err := s.nextExpiration(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return 0, resolved, errors.Join(errs...)
	}
	if next == nil {
		return s.config.DefaultInterval, resolved, nil
	}
	return next.Sub(now), resolved, nil
}

// listExpired and nextExpiration run in their own read transactions so no
// connection is held while instances are resolved.
func (s *ExpirationScheduler) listExpired(ctx context.Context, now time.Time) ([]string, error) {
	uow, err := s.service.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	ids, err := uow.Instances().ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired instances: %w", err)
	}
	return ids, nil
}

func (s *ExpirationScheduler) nextExpiration(ctx context.Context, now time.Time) (*time.Time, error) {
	uow, err := s.service.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	next, err := uow.Instances().NextExpiration(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query next expiration: %w", err)
	}
	return next, nil
}

// Run executes cycles back to back, sleeping for the interval each one
// returns. Cancelling ctx interrupts the sleep; a cycle already running
// finishes first. Run returns ctx.Err() on cancellation and nil after Stop.
func (s *ExpirationScheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}

		// Any Notify during the cycle must wake the loop again.
		s.setWakeAt(time.Time{})

		now, interval := s.TriggerCycle(context.WithoutCancel(ctx))
		wakeAt := now.Add(interval)
		s.setWakeAt(wakeAt)

		sleep := interval - s.service.clock.Now().Sub(now)
		if sleep < 0 {
			sleep = 0
		}
		s.logger.WithField("next_wake", wakeAt).Debugf("sleeping until next deadline (%s)", sleep)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.stopCh:
			timer.Stop()
			return nil
		case <-s.wakeCh:
			timer.Stop()
			s.logger.Debug("woken early by a new deadline")
		case <-timer.C:
		}
	}
}

// Notify wakes the loop when expiresAt falls before the current sleep target.
func (s *ExpirationScheduler) Notify(expiresAt time.Time) {
	s.mu.Lock()
	wake := s.wakeAt.IsZero() || expiresAt.Before(s.wakeAt)
	if wake {
		s.wakeAt = expiresAt
	}
	s.mu.Unlock()

	if !wake {
		return
	}
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *ExpirationScheduler) setWakeAt(t time.Time) {
	s.mu.Lock()
	s.wakeAt = t
	s.mu.Unlock()
}

// Start runs the loop in the background until Stop is called. Only the
// first call starts a loop; Start after Stop is a no-op.
func (s *ExpirationScheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Run(context.Background())
		}()
	})
}

// Stop signals the loop to exit and waits for the in-flight cycle.
func (s *ExpirationScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
