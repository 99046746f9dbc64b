package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowTrace is one row of the operator-facing execution log. It is
// distinct from the record's Evolution history and never drives
// behavior.
type WorkflowTrace struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflow_id"`
	RecordID     string                 `json:"record_id"`
	StatusID     string                 `json:"status_id,omitempty"`
	ActionItemID string                 `json:"action_item_id,omitempty"`
	Event        string                 `json:"event"`
	EventArgs    map[string]interface{} `json:"event_args,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NewWorkflowTrace builds a trace row for the given record and event.
func NewWorkflowTrace(record *Record, event string) *WorkflowTrace {
	trace := &WorkflowTrace{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now(),
	}
	if record != nil {
		trace.WorkflowID = record.WorkflowID
		trace.RecordID = record.ID
		trace.StatusID = record.Status
	}
	return trace
}

// EventLabel returns the operator-facing label for a trace event.
func (t *WorkflowTrace) EventLabel() string {
	labels := map[string]string{
		"aborted-too-many-jumps":   "Aborted (too many jumps)",
		"api-trigger":              "API Trigger",
		"button":                   "Action button",
		"continuation":             "Continuation",
		"global-action":            "Global action",
		"global-action-timeout":    "Global action timeout",
		"global-api-trigger":       "API Trigger",
		"global-external-workflow": "Trigger by external workflow",
		"mass-jump":                "Mass jump action",
		"timeout-jump":             "Timeout jump",
		"unstall":                  "Unblock stalled processing",
		"workflow-created":         "Created (by workflow action)",
	}
	if label, ok := labels[t.Event]; ok {
		return label
	}
	return t.Event
}

// IsGlobalEvent reports whether the trace comes from a global action.
func (t *WorkflowTrace) IsGlobalEvent() bool {
	return len(t.Event) > 7 && t.Event[:7] == "global-"
}
