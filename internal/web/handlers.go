package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/service"
)

const maxListLimit = 500

// Handlers contains HTTP handlers for the workflow API.
type Handlers struct {
	workflows *service.WorkflowService
}

// NewHandlers creates new API handlers.
func NewHandlers(workflows *service.WorkflowService) *Handlers {
	return &Handlers{workflows: workflows}
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c echo.Context) error {
	defs, err := h.workflows.ListDefinitions(c.Request().Context())
	if err != nil {
		return err
	}
	items := make([]WorkflowListItem, 0, len(defs))
	for _, d := range defs {
		items = append(items, workflowListItem(d))
	}
	return c.JSON(http.StatusOK, items)
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c echo.Context) error {
	def, err := h.workflows.GetDefinition(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, workflowDetail(def))
}

// CreateInstance handles POST /api/workflows/:id/create-new-instance
func (h *Handlers) CreateInstance(c echo.Context) error {
	inst, err := h.workflows.CreateInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, instanceDetail(inst))
}

// ListInstances handles GET /api/workflows/:id/instances
func (h *Handlers) ListInstances(c echo.Context) error {
	ctx := c.Request().Context()
	req := &service.ListInstancesRequest{DefinitionID: c.Param("id")}

	if v := c.QueryParam("completed"); v != "" {
		completed, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "completed must be a boolean")
		}
		req.Completed = &completed
	}
	var err error
	if req.Limit, err = intQuery(c, "limit"); err != nil {
		return err
	}
	if req.Offset, err = intQuery(c, "offset"); err != nil {
		return err
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}

	def, err := h.workflows.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return err
	}
	instances, err := h.workflows.ListInstances(ctx, req)
	if err != nil {
		return err
	}

	items := make([]WorkflowInstanceListItem, 0, len(instances))
	for _, inst := range instances {
		items = append(items, instanceListItem(def, inst))
	}
	return c.JSON(http.StatusOK, items)
}

// GetInstance handles GET /api/workflows/:id/instances/:instanceId
func (h *Handlers) GetInstance(c echo.Context) error {
	inst, err := h.workflows.GetInstance(c.Request().Context(), &service.GetInstanceRequest{
		DefinitionID: c.Param("id"),
		InstanceID:   c.Param("instanceId"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instanceDetail(inst))
}

// Approve handles POST /api/workflows/:id/instances/:instanceId/approve
func (h *Handlers) Approve(c echo.Context) error {
	return h.decide(c, h.workflows.ApproveCurrentStep)
}

// Reject handles POST /api/workflows/:id/instances/:instanceId/reject
func (h *Handlers) Reject(c echo.Context) error {
	return h.decide(c, h.workflows.RejectCurrentStep)
}

type decideFunc func(ctx context.Context, req *service.DecisionRequest) (*domain.WorkflowInstance, error)

func (h *Handlers) decide(c echo.Context, fn decideFunc) error {
	var body DecisionBody
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	inst, err := fn(c.Request().Context(), &service.DecisionRequest{
		DefinitionID: c.Param("id"),
		InstanceID:   c.Param("instanceId"),
		Actor:        body.Actor,
		Comments:     body.Comments,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, instanceDetail(inst))
}

func intQuery(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrDefinitionInvalid):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrConcurrentModify),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
