package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veritrail/veritrail/internal/application/service"
	"github.com/veritrail/veritrail/internal/application/workflow"
	"github.com/veritrail/veritrail/internal/domain/entity"
	domainwf "github.com/veritrail/veritrail/internal/domain/workflow"
)

// Identity headers. Authentication happens upstream; these carry the
// already-authenticated caller into the engine.
const (
	headerTenantID  = "X-Tenant-ID"
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine            workflow.Engine
	definitionService service.DefinitionService
	logger            Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine workflow.Engine,
	definitionService service.DefinitionService,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine:            engine,
		definitionService: definitionService,
		logger:            logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StartWorkflowRequest is the body for POST /api/v1/workflows
type StartWorkflowRequest struct {
	DefinitionID int64  `json:"definition_id" binding:"required"`
	EntityType   string `json:"entity_type" binding:"required"`
	EntityID     string `json:"entity_id" binding:"required"`
}

// StepActionRequest is the body for approve and reject actions
type StepActionRequest struct {
	StepOrder int    `json:"step_order" binding:"required"`
	Comments  string `json:"comments"`
}

// ListRequest represents query parameters for list endpoints
type ListRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (r *ListRequest) normalize() {
	if r.Limit <= 0 || r.Limit > 100 {
		r.Limit = 20
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
}

// caller holds the identity extracted from request headers
type caller struct {
	TenantID int64
	ActorID  string
	Role     string
}

func (h *Handlers) callerFrom(c *gin.Context) (caller, bool) {
	tenantStr := c.GetHeader(headerTenantID)
	tenantID, err := strconv.ParseInt(tenantStr, 10, 64)
	if err != nil || tenantID <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "missing or invalid " + headerTenantID + " header"})
		return caller{}, false
	}

	actorID := c.GetHeader(headerActorID)
	if actorID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "missing " + headerActorID + " header"})
		return caller{}, false
	}

	return caller{
		TenantID: tenantID,
		ActorID:  actorID,
		Role:     c.GetHeader(headerActorRole),
	}, true
}

// statusForError maps domain errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrInstanceNotFound),
		errors.Is(err, domainwf.ErrStepNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrDuplicateActiveWorkflow),
		errors.Is(err, domainwf.ErrAlreadyTerminal),
		errors.Is(err, domainwf.ErrWrongStep),
		errors.Is(err, service.ErrDefinitionInUse):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrInvalidDefinition),
		errors.Is(err, domainwf.ErrUnknownActor),
		errors.Is(err, service.ErrInvalidSteps):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error, msg string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
		c.JSON(status, Response{Success: false, Error: msg})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// StartWorkflow handles POST /api/v1/workflows
func (h *Handlers) StartWorkflow(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	inst, err := h.engine.StartWorkflow(c.Request.Context(), workflow.StartRequest{
		DefinitionID: req.DefinitionID,
		TenantID:     who.TenantID,
		EntityType:   req.EntityType,
		EntityID:     req.EntityID,
		ActorID:      who.ActorID,
		ActorRole:    who.Role,
	})
	if err != nil {
		h.fail(c, err, "failed to start workflow")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// GetActiveWorkflow handles GET /api/v1/workflows/active
func (h *Handlers) GetActiveWorkflow(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	entityType := c.Query("entity_type")
	entityID := c.Query("entity_id")
	if entityType == "" || entityID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "entity_type and entity_id are required"})
		return
	}

	inst, err := h.engine.ActiveInstanceForEntity(c.Request.Context(), who.TenantID, entityType, entityID)
	if err != nil {
		h.fail(c, err, "failed to get active workflow")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// ListInstances handles GET /api/v1/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}
	req.normalize()

	instances, err := h.engine.ListInstances(c.Request.Context(), who.TenantID, req.Limit, req.Offset)
	if err != nil {
		h.fail(c, err, "failed to retrieve instances")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	inst, err := h.engine.GetInstance(c.Request.Context(), who.TenantID, id)
	if err != nil {
		h.fail(c, err, "failed to get instance")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// ApproveStep handles POST /api/v1/instances/:id/approve
func (h *Handlers) ApproveStep(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	var req StepActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	inst, err := h.engine.ApproveStep(c.Request.Context(), id, req.StepOrder, who.ActorID, req.Comments)
	if err != nil {
		h.fail(c, err, "failed to approve step")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// RejectStep handles POST /api/v1/instances/:id/reject
func (h *Handlers) RejectStep(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	var req StepActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	inst, err := h.engine.RejectStep(c.Request.Context(), id, req.StepOrder, who.ActorID, req.Comments)
	if err != nil {
		h.fail(c, err, "failed to reject step")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// CancelWorkflow handles POST /api/v1/instances/:id/cancel
func (h *Handlers) CancelWorkflow(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.instanceID(c)
	if !ok {
		return
	}

	if err := h.engine.CancelWorkflow(c.Request.Context(), id, who.ActorID); err != nil {
		h.fail(c, err, "failed to cancel workflow")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// CreateDefinition handles POST /api/v1/definitions
func (h *Handlers) CreateDefinition(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	var def entity.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	def.TenantID = who.TenantID

	if err := h.definitionService.CreateDefinition(c.Request.Context(), &def); err != nil {
		h.fail(c, err, "failed to create definition")
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: def})
}

// ListDefinitions handles GET /api/v1/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}
	req.normalize()

	defs, err := h.definitionService.ListDefinitions(c.Request.Context(), who.TenantID, req.Limit, req.Offset)
	if err != nil {
		h.fail(c, err, "failed to list definitions")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: defs})
}

// GetDefinition handles GET /api/v1/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.definitionID(c)
	if !ok {
		return
	}

	def, err := h.definitionService.GetDefinition(c.Request.Context(), who.TenantID, id)
	if err != nil {
		h.fail(c, err, "failed to get definition")
		return
	}
	if def == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "definition not found"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}

// UpdateDefinition handles PUT /api/v1/definitions/:id
func (h *Handlers) UpdateDefinition(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.definitionID(c)
	if !ok {
		return
	}

	var def entity.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	def.ID = id
	def.TenantID = who.TenantID

	if err := h.definitionService.UpdateDefinition(c.Request.Context(), &def); err != nil {
		h.fail(c, err, "failed to update definition")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: def})
}

// DeactivateDefinition handles POST /api/v1/definitions/:id/deactivate
func (h *Handlers) DeactivateDefinition(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.definitionID(c)
	if !ok {
		return
	}

	if err := h.definitionService.DeactivateDefinition(c.Request.Context(), who.TenantID, id); err != nil {
		h.fail(c, err, "failed to deactivate definition")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// DeleteDefinition handles DELETE /api/v1/definitions/:id
func (h *Handlers) DeleteDefinition(c *gin.Context) {
	who, ok := h.callerFrom(c)
	if !ok {
		return
	}

	id, ok := h.definitionID(c)
	if !ok {
		return
	}

	if err := h.definitionService.DeleteDefinition(c.Request.Context(), who.TenantID, id); err != nil {
		h.fail(c, err, "failed to delete definition")
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

func (h *Handlers) instanceID(c *gin.Context) (int64, bool) {
	return h.pathID(c, "invalid instance ID")
}

func (h *Handlers) definitionID(c *gin.Context) (int64, bool) {
	return h.pathID(c, "invalid definition ID")
}

func (h *Handlers) pathID(c *gin.Context, errMsg string) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: errMsg})
		return 0, false
	}
	return id, true
}
