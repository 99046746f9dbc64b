package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

// Record is one form/card submission moving through a workflow.
type Record struct {
	ID               string                 `json:"id"`
	WorkflowID       string                 `json:"workflow_id"`
	Status           string                 `json:"status"` // empty = draft
	CriticalityLevel int                    `json:"criticality_level"`
	WorkflowData     map[string]interface{} `json:"workflow_data,omitempty"`
	Data             map[string]interface{} `json:"data,omitempty"`
	Evolution        []*Evolution           `json:"evolution,omitempty"`
	SubmitterID      string                 `json:"submitter_id,omitempty"`
	ReceiptTime      time.Time              `json:"receipt_time"`
	LastUpdateTime   time.Time              `json:"last_update_time"`
	Anonymised       *time.Time             `json:"anonymised,omitempty"`

	// Processing markers let a monitoring pass detect stalled
	// asynchronous executions (job died without clearing them).
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessingJobID     string     `json:"processing_job_id,omitempty"`

	// Version is the optimistic-locking counter managed by the store.
	Version int64 `json:"version"`
}

// NewRecord creates a draft record for the given workflow.
func NewRecord(workflowID string) *Record {
	now := time.Now()
	return &Record{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		ReceiptTime:    now,
		LastUpdateTime: now,
	}
}

// Evolution is one entry of the record's append-only history.
type Evolution struct {
	Time    time.Time       `json:"time"`
	Status  string          `json:"status,omitempty"` // set only when status changed
	Who     string          `json:"who,omitempty"`    // actor id, constants.ActorSubmitter, or empty
	Comment string          `json:"comment,omitempty"`
	Parts   []EvolutionPart `json:"parts,omitempty"`
	// LastJumpTime is refreshed in place by same-status jumps instead of
	// growing the history.
	LastJumpTime *time.Time `json:"last_jump_time,omitempty"`
}

// EvolutionPart is a polymorphic attachment on an evolution entry.
type EvolutionPart interface {
	PartKind() string
}

// CommentPart holds a comment rendered by a workflow action.
type CommentPart struct {
	Content string `json:"content"`
}

func (p *CommentPart) PartKind() string { return "comment" }

// AttachmentPart references a stored file attached to the history.
type AttachmentPart struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Digest      string `json:"digest,omitempty"`
}

func (p *AttachmentPart) PartKind() string { return "attachment" }

// TriggeredPart records a trigger invocation and its caller payload.
// It carries its own timestamp and is invisible when deciding whether a
// same-status jump may coalesce.
type TriggeredPart struct {
	TriggerName string      `json:"trigger_name"`
	Content     interface{} `json:"content,omitempty"`
	TriggerKind string      `json:"trigger_kind,omitempty"` // jump, global
	Time        time.Time   `json:"time"`
}

func (p *TriggeredPart) PartKind() string { return "triggered" }

// ContentSnapshotPart captures the record data at a point in time.
type ContentSnapshotPart struct {
	Data map[string]interface{} `json:"data"`
	Time time.Time              `json:"time"`
}

func (p *ContentSnapshotPart) PartKind() string { return "content-snapshot" }

// JumpPart marks an executed jump action, for inspection.
type JumpPart struct {
	Identifier string `json:"identifier"`
}

func (p *JumpPart) PartKind() string { return "jump" }

// TimeoutTriggerMarkerPart marks a global-action timeout trigger as
// already applied for this record. The trigger id is the epoch: a new
// id re-arms the trigger.
type TimeoutTriggerMarkerPart struct {
	TriggerID string `json:"trigger_id"`
}

func (p *TimeoutTriggerMarkerPart) PartKind() string { return "timeout-trigger-marker" }

// AddPart appends a part to this evolution entry.
func (e *Evolution) AddPart(part EvolutionPart) {
	e.Parts = append(e.Parts, part)
}

// isCoalescible reports whether a part may be ignored when deciding to
// reuse the last evolution entry for a same-status jump. Parts carrying
// their own timestamps do not count as visible changes.
func isCoalescible(part EvolutionPart) bool {
	switch part.(type) {
	case *ContentSnapshotPart, *TriggeredPart, *JumpPart, *TimeoutTriggerMarkerPart:
		return true
	}
	return false
}

// LastEvolution returns the latest history entry, or nil.
func (r *Record) LastEvolution() *Evolution {
	if len(r.Evolution) == 0 {
		return nil
	}
	return r.Evolution[len(r.Evolution)-1]
}

// ApplyStatus moves the record to statusID, appending an evolution
// entry. When the record is already in that status and the last entry
// carries no visible change, only its last-jump timestamp is refreshed,
// keeping the history from growing on repeated same-status jumps.
// Returns true when an entry was appended, false when coalesced.
func (r *Record) ApplyStatus(statusID, who string, now time.Time) bool {
	if last := r.LastEvolution(); last != nil &&
		r.Status == statusID && last.Status == statusID && last.Comment == "" {
		visible := false
		for _, part := range last.Parts {
			if !isCoalescible(part) {
				visible = true
				break
			}
		}
		if !visible {
			jumpTime := now
			last.LastJumpTime = &jumpTime
			r.LastUpdateTime = now
			return false
		}
	}
	r.Evolution = append(r.Evolution, &Evolution{Time: now, Status: statusID, Who: who})
	r.Status = statusID
	r.LastUpdateTime = now
	return true
}

// ArrivalTime returns when the record entered its current status,
// taking in-place jump refreshes into account. Zero time for drafts.
func (r *Record) ArrivalTime() time.Time {
	last := r.LastEvolution()
	if last == nil {
		return r.ReceiptTime
	}
	if last.LastJumpTime != nil {
		return *last.LastJumpTime
	}
	return last.Time
}

// PushMarker pushes the given status on the marker stack kept in the
// workflow data namespace, for later "_previous" jumps.
func (r *Record) PushMarker(statusID string) {
	if r.WorkflowData == nil {
		r.WorkflowData = make(map[string]interface{})
	}
	stack, _ := r.WorkflowData[constants.MarkersStackKey].([]interface{})
	stack = append(stack, map[string]interface{}{"status_id": statusID})
	r.WorkflowData[constants.MarkersStackKey] = stack
}

// PopMarker pops the latest marked status id. ok is false on an empty
// or missing stack.
func (r *Record) PopMarker() (statusID string, ok bool) {
	stack, _ := r.WorkflowData[constants.MarkersStackKey].([]interface{})
	if len(stack) == 0 {
		return "", false
	}
	top := stack[len(stack)-1]
	r.WorkflowData[constants.MarkersStackKey] = stack[:len(stack)-1]
	marker, _ := top.(map[string]interface{})
	statusID, _ = marker["status_id"].(string)
	if statusID == "" {
		return "", false
	}
	return statusID, true
}

// UpdateWorkflowData merges values into the record's scratch namespace.
func (r *Record) UpdateWorkflowData(values map[string]interface{}) {
	if r.WorkflowData == nil {
		r.WorkflowData = make(map[string]interface{})
	}
	for k, v := range values {
		r.WorkflowData[k] = v
	}
}

// Criticality levels are stored as 0 (baseline) or 100+index, which
// groups uncritical records together when sorting.

// CurrentCriticalityLevel returns the stored level re-clamped to the
// workflow's current scale, in case the scale shrank since it was set.
func (r *Record) CurrentCriticalityLevel(workflow *Workflow) int {
	levels := len(workflow.CriticalityLevels)
	if levels == 0 {
		levels = 1
	}
	current := r.CriticalityLevel
	if current >= 100+levels {
		current = 100 + levels - 1
	}
	return current
}

// IncreaseCriticality raises the level by one step, saturating at the
// top of the scale.
func (r *Record) IncreaseCriticality(workflow *Workflow) {
	levels := len(workflow.CriticalityLevels)
	if levels == 0 {
		levels = 1
	}
	current := r.CurrentCriticalityLevel(workflow)
	if current == 0 {
		current = 100
	}
	if current < 100+levels-1 {
		r.CriticalityLevel = current + 1
	}
}

// DecreaseCriticality lowers the level by one step, down to baseline.
func (r *Record) DecreaseCriticality(workflow *Workflow) {
	current := r.CurrentCriticalityLevel(workflow)
	if current == 0 {
		return
	}
	current--
	if current <= 100 {
		current = 0
	}
	r.CriticalityLevel = current
}

// SetCriticality sets the level to the given index of the scale.
func (r *Record) SetCriticality(workflow *Workflow, level int) {
	levels := len(workflow.CriticalityLevels)
	if levels == 0 {
		levels = 1
	}
	if level > levels-1 {
		level = levels - 1
	}
	if level > 0 {
		r.CriticalityLevel = 100 + level
	} else {
		r.CriticalityLevel = 0
	}
}

// IterParts visits every evolution part of the given kind, oldest first.
func (r *Record) IterParts(kind string, visit func(part EvolutionPart) bool) {
	for _, evolution := range r.Evolution {
		for _, part := range evolution.Parts {
			if part.PartKind() != kind {
				continue
			}
			if !visit(part) {
				return
			}
		}
	}
}

// HasTimeoutTriggerMarker reports whether the given global-action
// timeout trigger was already applied to this record.
func (r *Record) HasTimeoutTriggerMarker(triggerID string) bool {
	found := false
	r.IterParts((&TimeoutTriggerMarkerPart{}).PartKind(), func(part EvolutionPart) bool {
		if marker, ok := part.(*TimeoutTriggerMarkerPart); ok && marker.TriggerID == triggerID {
			found = true
			return false
		}
		return true
	})
	return found
}

// partEnvelope is the serialized form of an EvolutionPart.
type partEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func newPartOfKind(kind string) (EvolutionPart, error) {
	switch kind {
	case "comment":
		return &CommentPart{}, nil
	case "attachment":
		return &AttachmentPart{}, nil
	case "triggered":
		return &TriggeredPart{}, nil
	case "content-snapshot":
		return &ContentSnapshotPart{}, nil
	case "jump":
		return &JumpPart{}, nil
	case "timeout-trigger-marker":
		return &TimeoutTriggerMarkerPart{}, nil
	}
	return nil, fmt.Errorf("unknown evolution part kind: %s", kind)
}

type evolutionAlias struct {
	Time         time.Time       `json:"time"`
	Status       string          `json:"status,omitempty"`
	Who          string          `json:"who,omitempty"`
	Comment      string          `json:"comment,omitempty"`
	Parts        []partEnvelope  `json:"parts,omitempty"`
	LastJumpTime *time.Time      `json:"last_jump_time,omitempty"`
}

// MarshalJSON writes the evolution with kind-tagged part envelopes.
func (e *Evolution) MarshalJSON() ([]byte, error) {
	alias := evolutionAlias{
		Time:         e.Time,
		Status:       e.Status,
		Who:          e.Who,
		Comment:      e.Comment,
		LastJumpTime: e.LastJumpTime,
	}
	for _, part := range e.Parts {
		data, err := json.Marshal(part)
		if err != nil {
			return nil, err
		}
		alias.Parts = append(alias.Parts, partEnvelope{Kind: part.PartKind(), Data: data})
	}
	return json.Marshal(alias)
}

// UnmarshalJSON restores an evolution written by MarshalJSON.
func (e *Evolution) UnmarshalJSON(data []byte) error {
	var alias evolutionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	e.Time = alias.Time
	e.Status = alias.Status
	e.Who = alias.Who
	e.Comment = alias.Comment
	e.LastJumpTime = alias.LastJumpTime
	e.Parts = nil
	for _, envelope := range alias.Parts {
		part, err := newPartOfKind(envelope.Kind)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(envelope.Data, part); err != nil {
			return err
		}
		e.Parts = append(e.Parts, part)
	}
	return nil
}
