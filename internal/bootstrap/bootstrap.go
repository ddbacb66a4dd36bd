// Package bootstrap loads workflow definitions from YAML files into storage.
// It is the only writer of roles and definitions.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/storage"
	"github.com/example/approvalflow/pkg/id"
)

// File is a parsed definitions file.
type File struct {
	Roles     []RoleSpec     `yaml:"roles"`
	Workflows []WorkflowSpec `yaml:"workflows"`
}

// RoleSpec declares an approver role.
type RoleSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// WorkflowSpec declares a workflow definition.
type WorkflowSpec struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Steps       []StepSpec `yaml:"steps"`
}

// StepSpec declares one step. Key identifies the step within its workflow
// and is what approvedNext and rejectedNext refer to.
type StepSpec struct {
	Key          string         `yaml:"key"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Order        *int           `yaml:"order"`
	Roles        []string       `yaml:"roles"`
	TimeLimit    *TimeLimitSpec `yaml:"timeLimit"`
	ApprovedNext string         `yaml:"approvedNext"`
	RejectedNext string         `yaml:"rejectedNext"`
}

// TimeLimitSpec declares a step deadline.
type TimeLimitSpec struct {
	MaxMinutes             int  `yaml:"maxMinutes"`
	AutoApproveOnThreshold bool `yaml:"autoApproveOnThreshold"`
}

// Result reports what Apply inserted.
type Result struct {
	RolesCreated     int
	WorkflowsCreated int
	WorkflowsSkipped int
}

// LoadFile reads and validates the definitions file at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open %s: %w", path, err)
	}
	defer f.Close()

	file, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %s: %w", path, err)
	}
	return file, nil
}

// Load parses a definitions file and checks every cross reference.
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: definitions file is empty", domain.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("%w: decode definitions: %v", domain.ErrInvalidArgument, err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks names, step keys, role references and branch targets.
func (f *File) Validate() error {
	roles := make(map[string]bool, len(f.Roles))
	for _, r := range f.Roles {
		name := roleName(r.Name)
		if name == "" {
			return invalid("role name is required")
		}
		if roles[name] {
			return invalid("duplicate role %q", name)
		}
		roles[name] = true
	}

	workflows := make(map[string]bool, len(f.Workflows))
	for _, w := range f.Workflows {
		if strings.TrimSpace(w.Name) == "" {
			return invalid("workflow name is required")
		}
		if workflows[w.Name] {
			return invalid("duplicate workflow %q", w.Name)
		}
		workflows[w.Name] = true

		keys := make(map[string]bool, len(w.Steps))
		for _, s := range w.Steps {
			if s.Key == "" {
				return invalid("workflow %q: step key is required", w.Name)
			}
			if keys[s.Key] {
				return invalid("workflow %q: duplicate step %q", w.Name, s.Key)
			}
			keys[s.Key] = true
		}

		for _, s := range w.Steps {
			if s.Name == "" {
				return invalid("workflow %q: step %q has no name", w.Name, s.Key)
			}
			stepRoles := make(map[string]bool, len(s.Roles))
			for _, raw := range s.Roles {
				role := roleName(raw)
				if !roles[role] {
					return invalid("workflow %q: step %q references unknown role %q", w.Name, s.Key, role)
				}
				if stepRoles[role] {
					return invalid("workflow %q: step %q lists role %q twice", w.Name, s.Key, role)
				}
				stepRoles[role] = true
			}
			if s.TimeLimit != nil && s.TimeLimit.MaxMinutes <= 0 {
				return invalid("workflow %q: step %q time limit must be positive", w.Name, s.Key)
			}
			for _, next := range []string{s.ApprovedNext, s.RejectedNext} {
				if next != "" && !keys[next] {
					return invalid("workflow %q: step %q branches to unknown step %q", w.Name, s.Key, next)
				}
			}
		}
	}
	return nil
}

// roleName is the canonical form of a role name wherever it is declared,
// referenced or stored.
func roleName(name string) string {
	return strings.TrimSpace(name)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Apply inserts the roles and workflows of file that are not yet stored,
// matching existing ones by name, in a single transaction.
func Apply(ctx context.Context, store storage.Storage, file *File, actor string, now time.Time) (*Result, error) {
	uow, err := store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	result := &Result{}
	roles := make(map[string]domain.Role, len(file.Roles))
	for _, spec := range file.Roles {
		name := roleName(spec.Name)
		role, err := uow.Roles().GetByName(ctx, name)
		switch {
		case err == nil:
			roles[name] = *role
		case errors.Is(err, domain.ErrNotFound):
			r := domain.Role{
				ID:          id.Generate(),
				Name:        name,
				Description: spec.Description,
				Audit:       domain.NewAudit(actor, now),
			}
			if err := uow.Roles().Create(ctx, &r); err != nil {
				return nil, fmt.Errorf("failed to create role %q: %w", name, err)
			}
			roles[name] = r
			result.RolesCreated++
		default:
			return nil, fmt.Errorf("failed to look up role %q: %w", name, err)
		}
	}

	for _, spec := range file.Workflows {
		_, err := uow.Definitions().GetByName(ctx, spec.Name)
		if err == nil {
			result.WorkflowsSkipped++
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up workflow %q: %w", spec.Name, err)
		}

		def, err := buildDefinition(spec, roles, actor, now)
		if err != nil {
			return nil, err
		}
		if err := uow.Definitions().Create(ctx, def); err != nil {
			return nil, fmt.Errorf("failed to create workflow %q: %w", spec.Name, err)
		}
		result.WorkflowsCreated++
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return result, nil
}

func buildDefinition(spec WorkflowSpec, roles map[string]domain.Role, actor string, now time.Time) (*domain.WorkflowDefinition, error) {
	def := domain.NewWorkflowDefinition(id.Generate(), spec.Name, spec.Description)
	def.Audit = domain.NewAudit(actor, now)
	def.Steps = make([]domain.StepDefinition, 0, len(spec.Steps))
	for _, s := range spec.Steps {
		step := domain.StepDefinition{
			ID:                 s.Key,
			Name:               s.Name,
			Description:        s.Description,
			Order:              s.Order,
			RequiredRoles:      make([]domain.Role, 0, len(s.Roles)),
			ApprovedNextStepID: s.ApprovedNext,
			RejectedNextStepID: s.RejectedNext,
		}
		for _, raw := range s.Roles {
			role, ok := roles[roleName(raw)]
			if !ok {
				return nil, invalid("workflow %q: step %q references unknown role %q", spec.Name, s.Key, roleName(raw))
			}
			step.RequiredRoles = append(step.RequiredRoles, role)
		}
		if s.TimeLimit != nil {
			step.TimeLimit = &domain.TimeLimitConfig{
				MaxMinutes:             s.TimeLimit.MaxMinutes,
				AutoApproveOnThreshold: s.TimeLimit.AutoApproveOnThreshold,
			}
		}
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}
