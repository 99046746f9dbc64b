package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/auth"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
	wferrors "github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
)

// TriggerGlobalAction runs a global action on a record for a user who
// clicked it. The user must hold a role listed on one of the action's
// manual triggers.
func (s *WorkflowService) TriggerGlobalAction(ctx context.Context, record *models.Record, actionID string, session *auth.CallerSession) (string, error) {
	return s.triggerManualAction(ctx, record, actionID, session, false)
}

// TriggerGlobalActionMass is the mass-action variant: only triggers
// flagged for mass use qualify, and the run is traced as a mass jump.
func (s *WorkflowService) TriggerGlobalActionMass(ctx context.Context, record *models.Record, actionID string, session *auth.CallerSession) (string, error) {
	return s.triggerManualAction(ctx, record, actionID, session, true)
}

func (s *WorkflowService) triggerManualAction(ctx context.Context, record *models.Record, actionID string, session *auth.CallerSession, mass bool) (string, error) {
	workflow, err := s.workflows.GetWorkflow(ctx, record.WorkflowID)
	if err != nil {
		return "", err
	}
	action := workflow.GetGlobalAction(actionID)
	if action == nil {
		return "", wferrors.NewNotFoundError("global action", actionID)
	}
	trigger := s.matchManualTrigger(ctx, workflow, action, session, mass)
	if trigger == nil {
		return "", wferrors.NewPermissionError("global action", actionID)
	}

	event := constants.EventGlobalAction
	if mass {
		event = constants.EventMassJump
	}
	s.traces.RecordWorkflowEvent(ctx, record, event, map[string]interface{}{
		"global_action_id": action.ID,
	})

	ec := &ActionContext{
		Ctx:          ctx,
		Workflow:     workflow,
		Record:       record,
		GlobalAction: true,
	}
	if session != nil {
		ec.User = session.ID
	}
	return s.PerformItems(ctx, action.Items, ec)
}

// matchManualTrigger returns the first manual trigger the caller may
// use, honoring the mass-action flag.
func (s *WorkflowService) matchManualTrigger(ctx context.Context, workflow *models.Workflow, action *models.GlobalAction, session *auth.CallerSession, mass bool) *models.Trigger {
	for i := range action.Triggers {
		trigger := &action.Triggers[i]
		if trigger.Kind != constants.TriggerKindManual {
			continue
		}
		if mass && !trigger.AllowAsMassAction {
			continue
		}
		if s.checkTriggerAuth(ctx, workflow, &models.Record{}, trigger.Roles, session) == nil {
			return trigger
		}
	}
	return nil
}

// TriggerGlobalActionByIdentifier fires a global action's webservice
// trigger on a record. The caller must be a signed machine call; the
// caller identity and payload are exposed to the action's templates.
func (s *WorkflowService) TriggerGlobalActionByIdentifier(ctx context.Context, record *models.Record, identifier string, session *auth.CallerSession, payload map[string]interface{}) (string, error) {
	workflow, err := s.workflows.GetWorkflow(ctx, record.WorkflowID)
	if err != nil {
		return "", err
	}
	action, trigger := findWebserviceTrigger(workflow, identifier)
	if action == nil {
		return "", wferrors.NewNotFoundError("trigger", identifier)
	}
	if len(trigger.Roles) > 0 {
		if err := s.checkTriggerAuth(ctx, workflow, record, trigger.Roles, session); err != nil {
			return "", err
		}
	} else if session == nil || !session.Signed {
		return "", wferrors.NewUnauthorizedError("webservice triggers require a signed call")
	}

	s.traces.RecordWorkflowEvent(ctx, record, constants.EventGlobalAPITrigger, map[string]interface{}{
		"global_action_id": action.ID,
		"trigger_id":       trigger.ID,
	})

	ec := &ActionContext{
		Ctx:          ctx,
		Workflow:     workflow,
		Record:       record,
		GlobalAction: true,
	}
	if session != nil {
		ec.User = session.ID
		ec.Caller = session.ToMap()
	}
	if payload != nil {
		record.UpdateWorkflowData(payload)
		if err := s.store.Put(ctx, record); err != nil {
			return "", err
		}
	}
	return s.PerformItems(ctx, action.Items, ec)
}

// findWebserviceTrigger looks a webservice trigger up by identifier
// across the workflow's global actions.
func findWebserviceTrigger(workflow *models.Workflow, identifier string) (*models.GlobalAction, *models.Trigger) {
	for _, action := range workflow.GlobalActions {
		for j := range action.Triggers {
			trigger := &action.Triggers[j]
			if trigger.Kind == constants.TriggerKindWebservice && trigger.Identifier == identifier {
				return action, trigger
			}
		}
	}
	return nil, nil
}

// performExternalAction fires a webservice trigger of a global action
// in another workflow, against the records the action targets. Target
// resolution failures are recoverable: they are reported and the action
// is a no-op.
func (s *WorkflowService) performExternalAction(action *models.ExternalWorkflowAction, ec *ActionContext) error {
	target, err := s.workflows.GetWorkflow(ec.Ctx, action.WorkflowID)
	if err != nil {
		s.recordTargetError(action, ec, fmt.Errorf("unknown workflow %q: %w", action.WorkflowID, err))
		return nil
	}
	identifier := strings.TrimPrefix(action.TriggerID, "action:")
	globalAction, _ := findWebserviceTrigger(target, identifier)
	if globalAction == nil {
		s.recordTargetError(action, ec, fmt.Errorf("workflow %q has no webservice trigger %q", action.WorkflowID, identifier))
		return nil
	}

	records, err := s.selectExternalTargets(action, target, ec)
	if err != nil {
		s.recordTargetError(action, ec, err)
		return nil
	}
	if len(records) == 0 {
		s.recordTargetError(action, ec, fmt.Errorf("no target records matched"))
		return nil
	}

	for _, record := range records {
		s.traces.RecordWorkflowEvent(ec.Ctx, record, constants.EventGlobalExternal, map[string]interface{}{
			"global_action_id": globalAction.ID,
			"origin_record_id": ec.Record.ID,
		})
		targetCtx := &ActionContext{
			Ctx:          ec.Ctx,
			Workflow:     target,
			Record:       record,
			User:         ec.User,
			GlobalAction: true,
		}
		if _, err := s.PerformItems(ec.Ctx, globalAction.Items, targetCtx); err != nil {
			s.recorder.Record(&wferrors.WorkflowError{
				Kind:       wferrors.KindTargetResolution,
				WorkflowID: target.ID,
				StatusID:   record.Status,
				ActionID:   action.ID,
				Summary:    "external workflow action failed on target record",
				Err:        err,
			})
		}
	}
	return nil
}

// selectExternalTargets resolves the records an external workflow
// action applies to: every live record of the target workflow, or the
// ones named by the id template and matching the target condition.
func (s *WorkflowService) selectExternalTargets(action *models.ExternalWorkflowAction, target *models.Workflow, ec *ActionContext) ([]*models.Record, error) {
	criteria := ports.Criteria{
		NotDraft:      true,
		NotAnonymised: true,
	}
	candidates, err := s.store.Select(ec.Ctx, target.ID, criteria)
	if err != nil {
		return nil, err
	}

	var wanted map[string]bool
	if action.TargetMode == models.ExternalTargetManual && action.TargetID != "" {
		rendered, err := s.templates.Render(action.TargetID, s.templateEnv(ec))
		if err != nil {
			return nil, &ports.TemplateError{Expression: action.TargetID, Err: err}
		}
		wanted = make(map[string]bool)
		for _, id := range strings.Split(rendered, ",") {
			if id = strings.TrimSpace(id); id != "" {
				wanted[id] = true
			}
		}
		if len(wanted) == 0 {
			return nil, fmt.Errorf("target id template %q yielded no ids", action.TargetID)
		}
	}

	var records []*models.Record
	for _, record := range candidates {
		if wanted != nil && !wanted[record.ID] {
			continue
		}
		if action.TargetQuery != "" {
			env := s.templateEnv(&ActionContext{Ctx: ec.Ctx, Workflow: target, Record: record})
			ok, err := s.templates.EvalBool(action.TargetQuery, env)
			if err != nil {
				return nil, &ports.TemplateError{Expression: action.TargetQuery, Err: err}
			}
			if !ok {
				continue
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *WorkflowService) recordTargetError(action *models.ExternalWorkflowAction, ec *ActionContext, err error) {
	s.recorder.Record(&wferrors.WorkflowError{
		Kind:       wferrors.KindTargetResolution,
		WorkflowID: ec.Workflow.ID,
		StatusID:   ec.Record.Status,
		ActionID:   action.ID,
		Summary:    "failed to resolve external workflow targets",
		Err:        err,
	})
}
