package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/auth"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
	wferrors "github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
)

// ErrEmptyMarkerStack is returned when a "_previous" jump finds no
// marked status to return to. The jump does not occur.
var ErrEmptyMarkerStack = fmt.Errorf("jump to previous status: marker stack is empty")

// resolveJumpTarget resolves a jump's target status id, popping the
// marker stack for "_previous" targets.
func (s *WorkflowService) resolveJumpTarget(jump *models.JumpAction, ec *ActionContext) (string, error) {
	target := jump.TargetStatusID
	if target == constants.TargetPreviousStatus {
		statusID, ok := ec.Record.PopMarker()
		if !ok {
			return "", ErrEmptyMarkerStack
		}
		target = statusID
	}
	if !ec.Workflow.HasStatus(target) {
		return "", fmt.Errorf("workflow %s: jump %s targets unknown status %q", ec.Workflow.ID, jump.ID, target)
	}
	return target, nil
}

// applyJump moves the record through a jump action: marker handling,
// status application with same-status coalescing, jump part, store.
// Returns false when the target could not be resolved (recorded as a
// recoverable error, record untouched).
func (s *WorkflowService) applyJump(jump *models.JumpAction, ec *ActionContext) (bool, error) {
	record := ec.Record
	origin := record.Status

	target, err := s.resolveJumpTarget(jump, ec)
	if err != nil {
		s.recorder.Record(&wferrors.WorkflowError{
			Kind:       wferrors.KindTargetResolution,
			WorkflowID: ec.Workflow.ID,
			StatusID:   origin,
			ActionID:   jump.ID,
			Summary:    "failed to resolve jump target",
			Err:        err,
		})
		return false, nil
	}

	if jump.SetMarker && origin != "" {
		record.PushMarker(origin)
	}

	appended := record.ApplyStatus(target, ec.User, time.Now())
	if appended && jump.ID != "" {
		record.LastEvolution().AddPart(&models.JumpPart{Identifier: jump.ID})
	}
	if err := s.store.Put(ec.Ctx, record); err != nil {
		return false, err
	}
	return true, nil
}

// TriggerJump fires a trigger-mode jump of the record's current status
// on behalf of an external caller. The caller must satisfy the jump's
// "by" role list (signed machine calls pass when the list is empty) and
// the jump's condition. The trigger payload is kept in the history and
// merged into the record's scratch data.
func (s *WorkflowService) TriggerJump(ctx context.Context, record *models.Record, triggerName string, session *auth.CallerSession, payload map[string]interface{}) (string, error) {
	workflow, err := s.workflows.GetWorkflow(ctx, record.WorkflowID)
	if err != nil {
		return "", err
	}
	status, err := workflow.GetStatus(record.Status)
	if err != nil {
		return "", err
	}
	jump := status.TriggerJump(triggerName)
	if jump == nil {
		return "", wferrors.NewNotFoundError("trigger", triggerName)
	}
	if !workflow.HasStatus(jump.TargetStatusID) && jump.TargetStatusID != constants.TargetPreviousStatus {
		return "", wferrors.NewValidationError("trigger", "broken jump or missing target status")
	}
	if record.ProcessingStartedAt != nil {
		return "", wferrors.NewPermissionError("trigger", "record currently processing actions")
	}
	if err := s.checkTriggerAuth(ctx, workflow, record, jump.By, session); err != nil {
		return "", err
	}

	ec := &ActionContext{
		Ctx:         ctx,
		Workflow:    workflow,
		Record:      record,
		TriggerName: triggerName,
	}
	if session != nil {
		ec.User = session.ID
	}
	ok, err := s.CheckCondition(jump, ec)
	if err != nil {
		s.recordTemplateError(ec, jump, err)
		return "", wferrors.NewPermissionError("trigger", "unmet condition")
	}
	if !ok {
		return "", wferrors.NewPermissionError("trigger", "unmet condition")
	}

	if last := record.LastEvolution(); last != nil {
		last.AddPart(&models.TriggeredPart{
			TriggerName: triggerName,
			Content:     payload,
			TriggerKind: "jump",
			Time:        time.Now(),
		})
	}
	if payload != nil {
		record.UpdateWorkflowData(payload)
	}
	if err := s.store.Put(ctx, record); err != nil {
		return "", err
	}
	s.traces.RecordWorkflowEvent(ctx, record, constants.EventAPITrigger, map[string]interface{}{
		"action_item_id": jump.ID,
	})
	return s.jumpAndPerform(jump, ec)
}

// jumpAndPerform applies a jump then runs the workflow from the new
// status. Shared by the trigger surface and the timeout scheduler.
func (s *WorkflowService) jumpAndPerform(jump *models.JumpAction, ec *ActionContext) (string, error) {
	moved, err := s.applyJump(jump, ec)
	if err != nil || !moved {
		return "", err
	}
	return s.PerformWorkflow(ec.Ctx, ec.Record)
}

// checkTriggerAuth verifies the caller against a "by" role-function
// list. Signed machine calls with no role restriction pass outright.
func (s *WorkflowService) checkTriggerAuth(ctx context.Context, workflow *models.Workflow, record *models.Record, by []string, session *auth.CallerSession) error {
	if session != nil && session.Signed && len(by) == 0 {
		return nil
	}
	if session == nil {
		return wferrors.NewUnauthorizedError("user not authenticated")
	}
	for _, function := range by {
		if function == constants.ActorSubmitter {
			if session.ID != "" && session.ID == record.SubmitterID {
				return nil
			}
			continue
		}
		actorIDs, err := s.roles.ResolveFunction(ctx, workflow, function)
		if err != nil {
			continue
		}
		for _, actorID := range actorIDs {
			if actorID == session.ID || session.HasRole(actorID) {
				return nil
			}
		}
		if session.HasRole(workflow.ResolveFunction(function)) {
			return nil
		}
	}
	return wferrors.NewPermissionError("trigger", "insufficient roles")
}

// timeoutSeconds resolves a jump's timeout expression for a record: a
// literal number of seconds, a Go duration string, or a template
// rendering to either. Empty, unparsable or non-numeric values are
// recoverable errors.
func (s *WorkflowService) timeoutSeconds(jump *models.JumpAction, ec *ActionContext) (float64, error) {
	rendered, err := s.templates.Render(jump.Timeout, s.templateEnv(ec))
	if err != nil {
		return 0, &ports.TemplateError{Expression: jump.Timeout, Err: err}
	}
	seconds, err := parseDurationSeconds(rendered)
	if err != nil {
		return 0, &ports.TemplateError{Expression: jump.Timeout, Err: err}
	}
	return seconds, nil
}

// parseDurationSeconds accepts "1800", "1800.5" or "30m".
func parseDurationSeconds(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timeout value")
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return seconds, nil
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration.Seconds(), nil
	}
	return 0, fmt.Errorf("invalid timeout value %q", value)
}

// timeoutJumpDue reports whether a timeout jump is due for a record,
// measured from its arrival in the current status.
func (s *WorkflowService) timeoutJumpDue(jump *models.JumpAction, ec *ActionContext, now time.Time) (bool, error) {
	seconds, err := s.timeoutSeconds(jump, ec)
	if err != nil {
		return false, err
	}
	if seconds <= 0 {
		return false, fmt.Errorf("timeout value must be positive")
	}
	arrival := ec.Record.ArrivalTime()
	if arrival.IsZero() {
		return false, nil
	}
	return now.Sub(arrival).Seconds() >= seconds, nil
}
