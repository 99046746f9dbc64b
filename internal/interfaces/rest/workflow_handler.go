package rest

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/application/services"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/interfaces/middleware"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
)

// TraceReader reads a record's trace events.
type TraceReader interface {
	ListByRecord(ctx context.Context, recordID string) ([]*models.WorkflowTrace, error)
}

// WorkflowHandler exposes the workflow trigger surfaces over HTTP.
type WorkflowHandler struct {
	service *services.WorkflowService
	store   ports.RecordStore
	traces  TraceReader
}

func NewWorkflowHandler(service *services.WorkflowService, store ports.RecordStore, traces TraceReader) *WorkflowHandler {
	return &WorkflowHandler{service: service, store: store, traces: traces}
}

// RegisterRoutes mounts the trigger endpoints. All of them require an
// authenticated caller.
func (h *WorkflowHandler) RegisterRoutes(router *gin.RouterGroup) {
	records := router.Group("/records", middleware.RequireAuth())
	records.POST("/:workflow/:id/jump/trigger/:name", h.TriggerJump)
	records.POST("/:workflow/:id/hooks/:identifier", h.TriggerWebservice)
	records.POST("/:workflow/:id/actions/:action", h.TriggerGlobalAction)
	records.GET("/:workflow/:id", h.GetRecord)
	records.GET("/:workflow/:id/traces", h.ListTraces)
}

// ListTraces returns the record's workflow trace, oldest first, with
// the operator-facing event labels.
func (h *WorkflowHandler) ListTraces(c *gin.Context) {
	record, ok := h.loadRecord(c)
	if !ok {
		return
	}
	traces, err := h.traces.ListByRecord(c.Request.Context(), record.ID)
	if err != nil {
		RespondAppError(c, errors.NewInternalError("failed to load traces", err))
		return
	}
	views := make([]gin.H, 0, len(traces))
	for _, trace := range traces {
		views = append(views, gin.H{
			"id":             trace.ID,
			"event":          trace.Event,
			"label":          trace.EventLabel(),
			"global":         trace.IsGlobalEvent(),
			"status_id":      trace.StatusID,
			"action_item_id": trace.ActionItemID,
			"event_args":     trace.EventArgs,
			"timestamp":      trace.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"traces": views})
}

func (h *WorkflowHandler) loadRecord(c *gin.Context) (*models.Record, bool) {
	record, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err == ports.ErrNotFound {
		RespondAppError(c, errors.NewNotFoundError("record", c.Param("id")))
		return nil, false
	}
	if err != nil {
		RespondAppError(c, errors.NewInternalError("failed to load record", err))
		return nil, false
	}
	if record.WorkflowID != c.Param("workflow") {
		RespondAppError(c, errors.NewNotFoundError("record", c.Param("id")))
		return nil, false
	}
	return record, true
}

func triggerPayload(c *gin.Context) map[string]interface{} {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		return nil
	}
	return payload
}

// TriggerJump fires a trigger-mode jump of the record's current status.
func (h *WorkflowHandler) TriggerJump(c *gin.Context) {
	record, ok := h.loadRecord(c)
	if !ok {
		return
	}
	url, err := h.service.TriggerJump(c.Request.Context(), record,
		c.Param("name"), middleware.GetCaller(c), triggerPayload(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondTriggered(c, record, url)
}

// TriggerWebservice fires a global action's webservice trigger.
func (h *WorkflowHandler) TriggerWebservice(c *gin.Context) {
	record, ok := h.loadRecord(c)
	if !ok {
		return
	}
	url, err := h.service.TriggerGlobalActionByIdentifier(c.Request.Context(), record,
		c.Param("identifier"), middleware.GetCaller(c), triggerPayload(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondTriggered(c, record, url)
}

// TriggerGlobalAction runs a global action on behalf of the caller.
// The mass query flag selects the mass-action trigger path.
func (h *WorkflowHandler) TriggerGlobalAction(c *gin.Context) {
	record, ok := h.loadRecord(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	caller := middleware.GetCaller(c)
	actionID := c.Param("action")

	var url string
	var err error
	if c.Query("mass") == "true" {
		url, err = h.service.TriggerGlobalActionMass(ctx, record, actionID, caller)
	} else {
		url, err = h.service.TriggerGlobalAction(ctx, record, actionID, caller)
	}
	if err != nil {
		RespondAppError(c, err)
		return
	}
	respondTriggered(c, record, url)
}

// GetRecord returns the record's current workflow position.
func (h *WorkflowHandler) GetRecord(c *gin.Context) {
	record, ok := h.loadRecord(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                record.ID,
		"workflow_id":       record.WorkflowID,
		"status":            record.Status,
		"criticality_level": record.CriticalityLevel,
		"evolution":         record.Evolution,
	})
}

func respondTriggered(c *gin.Context, record *models.Record, url string) {
	response := gin.H{
		"id":     record.ID,
		"status": record.Status,
	}
	if url != "" {
		response["url"] = url
	}
	c.JSON(http.StatusOK, response)
}

// RespondAppError sends a standardised JSON error response.
func RespondAppError(c *gin.Context, err error) {
	code := errors.GetHTTPStatus(err)

	if code >= 500 {
		log.Printf("❌ ERROR [%d] %s %s: %s", code, c.Request.Method, c.Request.URL.Path, err.Error())
	}

	c.JSON(code, gin.H{
		"error":   err.Error(),
		"message": err.Error(),
		"code":    errors.GetErrorCode(err),
		"data":    nil,
	})
}
