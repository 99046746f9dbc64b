package services

import (
	"context"
	"log"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
)

// TraceRecorder appends workflow trace events to the audit log. Traces
// are best-effort: a failing sink is logged and never fails the run.
type TraceRecorder struct {
	sink ports.TraceSink
}

func NewTraceRecorder(sink ports.TraceSink) *TraceRecorder {
	return &TraceRecorder{sink: sink}
}

// RecordWorkflowEvent appends one event for the record's current
// position in its workflow.
func (t *TraceRecorder) RecordWorkflowEvent(ctx context.Context, record *models.Record, event string, args map[string]interface{}) {
	if t == nil || t.sink == nil {
		return
	}
	trace := models.NewWorkflowTrace(record, event)
	if args != nil {
		trace.EventArgs = args
		if id, ok := args["action_item_id"].(string); ok {
			trace.ActionItemID = id
		}
	}
	if err := t.sink.Append(ctx, trace); err != nil {
		log.Printf("⚠️ failed to record workflow trace %s for record %s: %v", event, record.ID, err)
	}
}
