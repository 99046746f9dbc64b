package models

import (
	"fmt"

	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

// Workflow is one immutable version of a user-authored workflow: an
// ordered set of statuses, the global actions reachable from any of
// them, the role-function mapping and the criticality scale.
type Workflow struct {
	ID                string              `json:"id" yaml:"id"`
	Name              string              `json:"name" yaml:"name"`
	Statuses          []*Status           `json:"statuses" yaml:"statuses"`
	GlobalActions     []*GlobalAction     `json:"global_actions,omitempty" yaml:"global_actions,omitempty"`
	Roles             map[string]string   `json:"roles,omitempty" yaml:"roles,omitempty"` // function name -> role id
	CriticalityLevels []CriticalityLevel  `json:"criticality_levels,omitempty" yaml:"criticality_levels,omitempty"`
}

// CriticalityLevel is one step of the workflow's criticality scale.
type CriticalityLevel struct {
	Name   string `json:"name" yaml:"name"`
	Colour string `json:"colour,omitempty" yaml:"colour,omitempty"`
}

// Status is a node of the workflow graph, owning an ordered action list.
type Status struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Items          []Action `json:"items,omitempty" yaml:"items,omitempty"`
	ForcedEndpoint bool     `json:"forced_endpoint,omitempty" yaml:"forced_endpoint,omitempty"`
	VisibleBy      []string `json:"visible_by,omitempty" yaml:"visible_by,omitempty"` // functions/roles; empty = everyone
}

// GlobalAction is an action list reachable independent of the current
// status, fired by one of its triggers.
type GlobalAction struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Items    []Action  `json:"items,omitempty" yaml:"items,omitempty"`
	Triggers []Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// Trigger fires a global action. Kind selects the variant; only the
// matching field group is meaningful.
type Trigger struct {
	ID   string `json:"id" yaml:"id"`
	Kind string `json:"kind" yaml:"kind"` // constants.TriggerKind*

	// manual
	Roles             []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	AllowAsMassAction bool     `json:"allow_as_mass_action,omitempty" yaml:"allow_as_mass_action,omitempty"`

	// timeout
	Anchor         string `json:"anchor,omitempty" yaml:"anchor,omitempty"` // constants.Anchor*
	AnchorStatusID string `json:"anchor_status_id,omitempty" yaml:"anchor_status_id,omitempty"`
	AnchorTemplate string `json:"anchor_template,omitempty" yaml:"anchor_template,omitempty"`
	Timeout        string `json:"timeout,omitempty" yaml:"timeout,omitempty"` // days; literal number or template

	// webservice
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty"`
}

// GetStatus returns the status with the given id. A missing status is a
// data error for any record pointing at it, so the error carries both ids.
func (w *Workflow) GetStatus(id string) (*Status, error) {
	for _, s := range w.Statuses {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("workflow %s: unknown status %q", w.ID, id)
}

// HasStatus reports whether a status exists in this workflow version.
func (w *Workflow) HasStatus(id string) bool {
	_, err := w.GetStatus(id)
	return err == nil
}

// GetGlobalAction returns the global action with the given id, or nil.
func (w *Workflow) GetGlobalAction(id string) *GlobalAction {
	for _, a := range w.GlobalActions {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// EndpointStatusIDs returns the ids of all endpoint statuses.
func (w *Workflow) EndpointStatusIDs() []string {
	var ids []string
	for _, s := range w.Statuses {
		if s.IsEndpoint() {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// NotEndpointStatusIDs returns the ids of all non-endpoint statuses.
func (w *Workflow) NotEndpointStatusIDs() []string {
	var ids []string
	for _, s := range w.Statuses {
		if !s.IsEndpoint() {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// ResolveFunction maps a role-function name (e.g. "_receiver") to the
// configured role id, falling back to the name itself so concrete role
// ids can be used directly in action definitions.
func (w *Workflow) ResolveFunction(name string) string {
	if id, ok := w.Roles[name]; ok && id != "" {
		return id
	}
	return name
}

// IsEndpoint reports whether this status marks the end of the workflow:
// either forced, or there is no way out of it.
func (s *Status) IsEndpoint() bool {
	if s.ForcedEndpoint {
		return true
	}
	for _, item := range s.Items {
		if !item.IsEndpoint() {
			return false
		}
	}
	return true
}

// IsWaitpoint reports whether a record in this status waits for an
// external event (trigger, timeout, or nothing at all) rather than
// progressing on its own. An endpoint is also a waitpoint: the record
// waits there forever.
func (s *Status) IsWaitpoint() bool {
	waitpoint := false
	endpoint := true
	if s.ForcedEndpoint {
		return true
	}
	for _, item := range s.Items {
		endpoint = endpoint && item.IsEndpoint()
		waitpoint = waitpoint || item.IsWaitpoint()
	}
	return endpoint || waitpoint
}

// TimeoutJumps returns the timeout-mode jumps of this status.
func (s *Status) TimeoutJumps() []*JumpAction {
	var jumps []*JumpAction
	for _, item := range s.Items {
		if jump, ok := item.(*JumpAction); ok && jump.Mode == constants.JumpModeTimeout && jump.TargetStatusID != "" && jump.Timeout != "" {
			jumps = append(jumps, jump)
		}
	}
	return jumps
}

// TriggerJump returns the trigger-mode jump with the given trigger id,
// or nil.
func (s *Status) TriggerJump(triggerID string) *JumpAction {
	for _, item := range s.Items {
		if jump, ok := item.(*JumpAction); ok && jump.Mode == constants.JumpModeTrigger && jump.TriggerID == triggerID {
			return jump
		}
	}
	return nil
}
