package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/approvalflow/internal/domain"
	applog "github.com/example/approvalflow/internal/log"
	"github.com/example/approvalflow/internal/observability"
	"github.com/example/approvalflow/internal/storage"
	"github.com/example/approvalflow/pkg/clock"
	"github.com/example/approvalflow/pkg/id"
)

// ExpiryNotifier is told about deadlines attached by committed transitions.
type ExpiryNotifier interface {
	Notify(expiresAt time.Time)
}

// WorkflowService creates workflow instances and moves them between steps.
type WorkflowService struct {
	storage  storage.Storage
	clock    clock.Clock
	newID    func() string
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	locks    *keyedMutex
	notifier ExpiryNotifier
}

// Option configures a WorkflowService.
type Option func(*WorkflowService)

// WithClock sets the time source used for every "now" snapshot.
func WithClock(c clock.Clock) Option {
	return func(s *WorkflowService) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *WorkflowService) { s.logger = l }
}

// WithMetrics enables metrics collection.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *WorkflowService) { s.metrics = m }
}

// WithIDGenerator replaces the uuid generator used for instance and step IDs.
func WithIDGenerator(gen func() string) Option {
	return func(s *WorkflowService) { s.newID = gen }
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store storage.Storage, opts ...Option) *WorkflowService {
	s := &WorkflowService{
		storage: store,
		clock:   clock.System(),
		newID:   id.Generate,
		logger:  applog.Discard(),
		tracer:  observability.Tracer(),
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetExpiryNotifier sets the receiver of newly attached deadlines, normally
// the ExpirationScheduler, so it can wake before its planned sleep ends.
func (s *WorkflowService) SetExpiryNotifier(n ExpiryNotifier) {
	s.notifier = n
}

// ListDefinitions returns all workflow definitions ordered by name.
func (s *WorkflowService) ListDefinitions(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Definitions().List(ctx)
}

// GetDefinition retrieves a workflow definition by ID.
func (s *WorkflowService) GetDefinition(ctx context.Context, definitionID string) (*domain.WorkflowDefinition, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Definitions().Get(ctx, definitionID)
}

// CreateInstance materializes and starts a new instance of a definition.
func (s *WorkflowService) CreateInstance(ctx context.Context, definitionID string) (inst *domain.WorkflowInstance, err error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.CreateInstance",
		trace.WithAttributes(attribute.String("definition_id", definitionID)))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() { s.metrics.ObserveTransaction("create_instance", time.Since(start)) }()

	now := s.clock.Now()

	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, persistenceError(domain.ErrCreationFailed, "begin transaction", err)
	}
	defer uow.Rollback()

	def, err := uow.Definitions().Get(ctx, definitionID)
	if err != nil {
		return nil, persistenceError(domain.ErrCreationFailed, "load definition", err)
	}

	inst, err = def.NewInstance(s.newID(), s.newID, now)
	if err != nil {
		return nil, err
	}
	if err := inst.Start(); err != nil {
		return nil, err
	}

	if err := uow.Instances().Create(ctx, inst); err != nil {
		return nil, persistenceError(domain.ErrCreationFailed, "create instance", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, persistenceError(domain.ErrCreationFailed, "commit", err)
	}

	s.metrics.InstanceCreated()
	s.logger.WithFields(logrus.Fields{
		"instance_id":   inst.ID,
		"definition_id": def.ID,
		"steps":         len(inst.Steps),
	}).Info("workflow instance created")

	return inst, nil
}

// GetInstanceRequest is the request for GetInstance.
type GetInstanceRequest struct {
	InstanceID string
	// DefinitionID, when set, must match the instance's definition.
	DefinitionID string
}

// GetInstance retrieves an instance with its definition attached.
func (s *WorkflowService) GetInstance(ctx context.Context, req *GetInstanceRequest) (*domain.WorkflowInstance, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	inst, err := s.loadInstance(ctx, uow, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if err := checkScope(inst, req.DefinitionID); err != nil {
		return nil, err
	}
	return inst, nil
}

// ListInstancesRequest is the request for ListInstances.
type ListInstancesRequest struct {
	DefinitionID string
	Completed    *bool
	Limit        int
	Offset       int
}

// ListInstances lists instances ordered by start time.
func (s *WorkflowService) ListInstances(ctx context.Context, req *ListInstancesRequest) ([]*domain.WorkflowInstance, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if req.DefinitionID != "" {
		if _, err := uow.Definitions().Get(ctx, req.DefinitionID); err != nil {
			return nil, err
		}
	}

	return uow.Instances().List(ctx, storage.ListOptions{
		DefinitionID: req.DefinitionID,
		Completed:    req.Completed,
		Limit:        req.Limit,
		Offset:       req.Offset,
	})
}

// DecisionRequest is the request for ApproveCurrentStep and RejectCurrentStep.
type DecisionRequest struct {
	InstanceID string
	// DefinitionID, when set, must match the instance's definition.
	DefinitionID string
	Actor        string
	Comments     string
}

// ApproveCurrentStep records an approval on the instance's current step.
func (s *WorkflowService) ApproveCurrentStep(ctx context.Context, req *DecisionRequest) (*domain.WorkflowInstance, error) {
	return s.decide(ctx, req, domain.DecisionApproved)
}

// RejectCurrentStep records a rejection on the instance's current step.
func (s *WorkflowService) RejectCurrentStep(ctx context.Context, req *DecisionRequest) (*domain.WorkflowInstance, error) {
	return s.decide(ctx, req, domain.DecisionRejected)
}

func (s *WorkflowService) decide(ctx context.Context, req *DecisionRequest, decision domain.Decision) (inst *domain.WorkflowInstance, err error) {
	ctx, span := s.tracer.Start(ctx, "WorkflowService.ApplyDecision", trace.WithAttributes(
		attribute.String("instance_id", req.InstanceID),
		attribute.String("decision", decision.String()),
	))
	defer func() { endSpan(span, err) }()

	if req.InstanceID == "" {
		return nil, fmt.Errorf("%w: instance ID is required", domain.ErrInvalidArgument)
	}

	inst, _, err = s.mutateInstance(ctx, "apply_decision", req.InstanceID, func(inst *domain.WorkflowInstance) (bool, error) {
		if err := checkScope(inst, req.DefinitionID); err != nil {
			return false, err
		}
		// Read under the instance lock so DecidedAt never precedes the
		// transition that made this step current.
		if err := inst.ApplyDecision(decision, req.Actor, req.Comments, s.clock.Now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		entry := s.logger.WithError(err).WithFields(logrus.Fields{
			"instance_id": req.InstanceID,
			"decision":    decision,
		})
		if errors.Is(err, domain.ErrInvalidTransitionTarget) {
			entry.Error("workflow definition branches to a missing step")
		} else {
			entry.Debug("decision not applied")
		}
		return nil, err
	}

	s.metrics.DecisionApplied(decision.String(), observability.SourceActor)
	s.logger.WithFields(logrus.Fields{
		"instance_id":     inst.ID,
		"decision":        decision,
		"actor":           req.Actor,
		"current_step_id": inst.CurrentStepID,
		"completed":       inst.IsCompleted,
	}).Info("decision applied")

	if tl := inst.PendingDeadline(); tl != nil && s.notifier != nil {
		s.notifier.Notify(tl.ExpiresAt)
	}
	return inst, nil
}

// resolveExpired applies the automatic decision to an instance whose current
// step deadline has passed. It reports false when the freshly loaded
// instance no longer has an expired pending deadline.
func (s *WorkflowService) resolveExpired(ctx context.Context, instanceID string, now time.Time) (bool, error) {
	var decision domain.Decision
	_, changed, err := s.mutateInstance(ctx, "resolve_expired", instanceID, func(inst *domain.WorkflowInstance) (bool, error) {
		tl := inst.PendingDeadline()
		if tl == nil || !tl.Expired(now) {
			return false, nil
		}
		decision = tl.Decision()
		if err := inst.ApplyDecision(decision, "", "", now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil || !changed {
		return false, err
	}

	s.metrics.DecisionApplied(decision.String(), observability.SourceScheduler)
	s.logger.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"decision":    decision,
	}).Info("expired step resolved")
	return true, nil
}

// mutateInstance loads the aggregate under the instance lock, lets apply
// mutate it and saves it in the same transaction. When apply reports no
// change nothing is written.
func (s *WorkflowService) mutateInstance(
	ctx context.Context,
	operation string,
	instanceID string,
	apply func(*domain.WorkflowInstance) (bool, error),
) (*domain.WorkflowInstance, bool, error) {
	unlock := s.locks.Lock(instanceID)
	defer unlock()

	start := time.Now()
	defer func() { s.metrics.ObserveTransaction(operation, time.Since(start)) }()

	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, false, persistenceError(domain.ErrTransitionFailed, "begin transaction", err)
	}
	defer uow.Rollback()

	inst, err := s.loadInstance(ctx, uow, instanceID)
	if err != nil {
		return nil, false, persistenceError(domain.ErrTransitionFailed, "load instance", err)
	}

	changed, err := apply(inst)
	if err != nil || !changed {
		return inst, false, err
	}

	if err := uow.Instances().Update(ctx, inst); err != nil {
		return nil, false, persistenceError(domain.ErrTransitionFailed, "update instance", err)
	}
	if err := uow.Commit(); err != nil {
		return nil, false, persistenceError(domain.ErrTransitionFailed, "commit", err)
	}
	return inst, true, nil
}

// loadInstance reads an instance and attaches its definition.
func (s *WorkflowService) loadInstance(ctx context.Context, uow storage.UnitOfWork, instanceID string) (*domain.WorkflowInstance, error) {
	inst, err := uow.Instances().Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	def, err := uow.Definitions().Get(ctx, inst.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", inst.DefinitionID, err)
	}
	inst.Definition = def
	return inst, nil
}

func checkScope(inst *domain.WorkflowInstance, definitionID string) error {
	if definitionID != "" && inst.DefinitionID != definitionID {
		return fmt.Errorf("%w: instance %s does not belong to workflow %s", domain.ErrNotFound, inst.ID, definitionID)
	}
	return nil
}

// persistenceError wraps storage failures in kind. Not-found and optimistic
// lock conflicts keep their own classification.
func persistenceError(kind error, op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConcurrentModify) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", kind, op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}
