package models

import (
	"encoding/json"
	"fmt"

	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

// Action is one unit of behavior attached to a status or global action.
// Concrete variants are dispatched by Kind; every variant carries the
// shared by/condition fields through ActionBase.
type Action interface {
	Kind() string
	Base() *ActionBase

	// IsEndpoint reports whether this action keeps the owning status an
	// endpoint (i.e. it never moves the record out of it on its own).
	IsEndpoint() bool

	// IsWaitpoint reports whether this action makes the owning status a
	// waitpoint (progress needs an external trigger or a timeout).
	IsWaitpoint() bool
}

// ActionBase holds the fields shared by every action variant.
type ActionBase struct {
	ID        string   `json:"id" yaml:"id"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	By        []string `json:"by,omitempty" yaml:"by,omitempty"`
}

func (b *ActionBase) Base() *ActionBase { return b }
func (b *ActionBase) IsEndpoint() bool  { return true }
func (b *ActionBase) IsWaitpoint() bool { return false }

// Action kind tags.
const (
	KindJump              = "jump"
	KindModifyCriticality = "modify-criticality"
	KindRemove            = "remove"
	KindRegisterComment   = "register-comment"
	KindSendMessage       = "sendmail"
	KindExternalWorkflow  = "external-workflow"
)

// JumpAction moves the record to another status. Mode selects when:
// immediately during dispatch, on an explicit external trigger, or once
// a timeout delay has elapsed (applied by the scheduler).
type JumpAction struct {
	ActionBase     `yaml:",inline"`
	TargetStatusID string `json:"target_status_id" yaml:"target_status_id"`
	Mode           string `json:"mode" yaml:"mode"`
	TriggerID      string `json:"trigger_id,omitempty" yaml:"trigger_id,omitempty"`
	// Timeout is a duration in seconds, either a literal number or a
	// template rendered at evaluation time.
	Timeout   string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	SetMarker bool   `json:"set_marker,omitempty" yaml:"set_marker,omitempty"`
}

func (a *JumpAction) Kind() string { return KindJump }

func (a *JumpAction) IsEndpoint() bool { return false }

func (a *JumpAction) IsWaitpoint() bool {
	return a.Mode == constants.JumpModeTrigger || a.Mode == constants.JumpModeTimeout
}

// ModifyCriticalityAction raises, lowers or sets the record's
// criticality level.
type ModifyCriticalityAction struct {
	ActionBase `yaml:",inline"`
	Mode       string `json:"mode" yaml:"mode"` // increase, decrease, set
	// Level is only read in "set" mode; it may be a template.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

// Criticality modification modes.
const (
	CriticalityIncrease = "increase"
	CriticalityDecrease = "decrease"
	CriticalitySet      = "set"
)

func (a *ModifyCriticalityAction) Kind() string { return KindModifyCriticality }

// RemoveAction deletes the record and aborts further processing with a
// redirect.
type RemoveAction struct {
	ActionBase  `yaml:",inline"`
	RedirectURL string `json:"redirect_url,omitempty" yaml:"redirect_url,omitempty"`
}

func (a *RemoveAction) Kind() string     { return KindRemove }
func (a *RemoveAction) IsEndpoint() bool { return false }

// RegisterCommentAction appends a rendered comment to the record's
// history.
type RegisterCommentAction struct {
	ActionBase `yaml:",inline"`
	Comment    string `json:"comment" yaml:"comment"`
}

func (a *RegisterCommentAction) Kind() string { return KindRegisterComment }

// SendMessageAction resolves recipients and hands the rendered message
// to the delivery collaborator. Delivery mechanics are external.
type SendMessageAction struct {
	ActionBase `yaml:",inline"`
	To         []string `json:"to,omitempty" yaml:"to,omitempty"` // functions/roles
	Subject    string   `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body       string   `json:"body" yaml:"body"`
}

func (a *SendMessageAction) Kind() string { return KindSendMessage }

// ExternalWorkflowAction fires a webservice trigger of a global action
// in another workflow, against manually-selected target records.
type ExternalWorkflowAction struct {
	ActionBase `yaml:",inline"`
	// WorkflowID names the target workflow definition.
	WorkflowID string `json:"workflow_id" yaml:"workflow_id"`
	// TriggerID is the webservice trigger identifier, in "action:<id>" form.
	TriggerID string `json:"trigger_id" yaml:"trigger_id"`
	// TargetMode is "all", "manual".
	TargetMode string `json:"target_mode,omitempty" yaml:"target_mode,omitempty"`
	// TargetID, in manual mode, is a template yielding a record id or a
	// comma-separated id list.
	TargetID string `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	// TargetQuery, in manual mode, is a condition evaluated against each
	// candidate record.
	TargetQuery string `json:"target_query,omitempty" yaml:"target_query,omitempty"`
}

func (a *ExternalWorkflowAction) Kind() string { return KindExternalWorkflow }

// External workflow target modes.
const (
	ExternalTargetAll    = "all"
	ExternalTargetManual = "manual"
)

// actionEnvelope is the serialized form of an Action: the kind tag next
// to the variant's own fields.
type actionEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewActionOfKind returns a zero value of the variant named by kind.
func NewActionOfKind(kind string) (Action, error) {
	switch kind {
	case KindJump:
		return &JumpAction{}, nil
	case KindModifyCriticality:
		return &ModifyCriticalityAction{}, nil
	case KindRemove:
		return &RemoveAction{}, nil
	case KindRegisterComment:
		return &RegisterCommentAction{}, nil
	case KindSendMessage:
		return &SendMessageAction{}, nil
	case KindExternalWorkflow:
		return &ExternalWorkflowAction{}, nil
	}
	return nil, fmt.Errorf("unknown action kind: %s", kind)
}

// statusAlias avoids marshal recursion for Status.
type statusAlias struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Items          json.RawMessage `json:"items,omitempty"`
	ForcedEndpoint bool            `json:"forced_endpoint,omitempty"`
	VisibleBy      []string        `json:"visible_by,omitempty"`
}

// MarshalJSON writes the status with kind-tagged action envelopes.
func (s *Status) MarshalJSON() ([]byte, error) {
	items, err := MarshalActions(s.Items)
	if err != nil {
		return nil, err
	}
	return json.Marshal(statusAlias{
		ID:             s.ID,
		Name:           s.Name,
		Items:          items,
		ForcedEndpoint: s.ForcedEndpoint,
		VisibleBy:      s.VisibleBy,
	})
}

// UnmarshalJSON restores a status written by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var alias statusAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	s.ID = alias.ID
	s.Name = alias.Name
	s.ForcedEndpoint = alias.ForcedEndpoint
	s.VisibleBy = alias.VisibleBy
	if len(alias.Items) > 0 {
		items, err := UnmarshalActions(alias.Items)
		if err != nil {
			return err
		}
		s.Items = items
	}
	return nil
}

type globalActionAlias struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Items    json.RawMessage `json:"items,omitempty"`
	Triggers []Trigger       `json:"triggers,omitempty"`
}

// MarshalJSON writes the global action with kind-tagged action envelopes.
func (g *GlobalAction) MarshalJSON() ([]byte, error) {
	items, err := MarshalActions(g.Items)
	if err != nil {
		return nil, err
	}
	return json.Marshal(globalActionAlias{ID: g.ID, Name: g.Name, Items: items, Triggers: g.Triggers})
}

// UnmarshalJSON restores a global action written by MarshalJSON.
func (g *GlobalAction) UnmarshalJSON(data []byte) error {
	var alias globalActionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	g.ID = alias.ID
	g.Name = alias.Name
	g.Triggers = alias.Triggers
	if len(alias.Items) > 0 {
		items, err := UnmarshalActions(alias.Items)
		if err != nil {
			return err
		}
		g.Items = items
	}
	return nil
}

// MarshalActions serializes an action list with kind tags.
func MarshalActions(items []Action) ([]byte, error) {
	envelopes := make([]actionEnvelope, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, actionEnvelope{Kind: item.Kind(), Data: data})
	}
	return json.Marshal(envelopes)
}

// UnmarshalActions restores an action list serialized by MarshalActions.
func UnmarshalActions(data []byte) ([]Action, error) {
	var envelopes []actionEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return nil, err
	}
	items := make([]Action, 0, len(envelopes))
	for _, envelope := range envelopes {
		item, err := NewActionOfKind(envelope.Kind)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(envelope.Data, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
