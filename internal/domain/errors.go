package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an instance cannot accept a decision,
	// either because it is completed or because it has no current step.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConcurrentModify is returned when optimistic locking fails.
	ErrConcurrentModify = errors.New("concurrent modification")

	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when trying to create a duplicate entity.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDefinitionInvalid is the parent of every definition validation error.
	ErrDefinitionInvalid = errors.New("invalid workflow definition")

	// ErrNoSteps is returned when a definition declares no steps.
	ErrNoSteps = fmt.Errorf("%w: workflow has no steps", ErrDefinitionInvalid)

	// ErrMissingRequiredApprovals is returned when at least one step declares
	// no required approval roles.
	ErrMissingRequiredApprovals = fmt.Errorf("%w: every step must require at least one approval role", ErrDefinitionInvalid)

	// ErrInvalidTransitionTarget is returned when a branch points at a step
	// that has no instance in the workflow instance.
	ErrInvalidTransitionTarget = errors.New("invalid transition target")

	// ErrCreationFailed wraps persistence failures while creating an instance.
	ErrCreationFailed = errors.New("failed to create workflow instance")

	// ErrTransitionFailed wraps persistence failures while applying a decision.
	ErrTransitionFailed = errors.New("failed to change workflow step status")
)
