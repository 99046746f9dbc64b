package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	wferrors "github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

// AbortActionError stops action processing immediately and carries a
// redirect URL up through any nested jump loop.
type AbortActionError struct {
	URL string
}

func (e *AbortActionError) Error() string {
	return fmt.Sprintf("action aborted (redirect: %s)", e.URL)
}

// ActionContext carries per-invocation state through the recursive
// dispatch. Depth is the remaining jump budget; threading it explicitly
// keeps the executor reentrant across goroutines.
type ActionContext struct {
	Ctx          context.Context
	Workflow     *models.Workflow
	Record       *models.Record
	User         string // actor id, constants.ActorSubmitter, or empty
	Caller       map[string]interface{}
	Depth        int
	GlobalAction bool
	TriggerName  string // set when dispatch comes from an explicit trigger
	FromScheduler bool  // set when dispatch comes from the timeout scheduler
}

// WorkflowService executes workflow actions against records: status
// action dispatch, jumps, global actions. The timeout scheduler and the
// REST trigger surface both call into it.
type WorkflowService struct {
	store     ports.RecordStore
	workflows ports.WorkflowProvider
	templates ports.TemplateEvaluator
	roles     ports.RoleResolver
	sender    ports.MessageSender
	traces    *TraceRecorder
	recorder  *wferrors.Recorder
	registry  *ActionRegistry
	maxJumps  int
}

// NewWorkflowService wires the executor with its collaborators.
func NewWorkflowService(
	store ports.RecordStore,
	workflows ports.WorkflowProvider,
	templates ports.TemplateEvaluator,
	roles ports.RoleResolver,
	sender ports.MessageSender,
	traces *TraceRecorder,
	recorder *wferrors.Recorder,
) *WorkflowService {
	s := &WorkflowService{
		store:     store,
		workflows: workflows,
		templates: templates,
		roles:     roles,
		sender:    sender,
		traces:    traces,
		recorder:  recorder,
		maxJumps:  constants.MaxJumps(),
	}
	s.registry = newDefaultRegistry(s)
	return s
}

// Recorder exposes the error recorder, mainly for inspection surfaces.
func (s *WorkflowService) Recorder() *wferrors.Recorder { return s.recorder }

// PerformWorkflow runs the current status's actions for a record, then
// follows automatic jumps until no more work remains or the jump
// ceiling aborts the invocation. Returns a redirect URL when an action
// requested one.
func (s *WorkflowService) PerformWorkflow(ctx context.Context, record *models.Record) (string, error) {
	workflow, err := s.workflows.GetWorkflow(ctx, record.WorkflowID)
	if err != nil {
		return "", err
	}
	status, err := workflow.GetStatus(record.Status)
	if err != nil {
		// A record pointing at a removed status is a data error, not
		// something to repair silently.
		return "", err
	}

	s.markProcessing(ctx, record)
	defer s.clearProcessing(ctx, record)

	ec := &ActionContext{
		Ctx:      ctx,
		Workflow: workflow,
		Record:   record,
		Depth:    s.maxJumps,
	}
	url, err := s.performItems(status.Items, ec)
	return url, stripAbort(err)
}

// stripAbort resolves an abort at the outermost level: the redirect has
// been captured, the abort itself is not an error for the caller.
func stripAbort(err error) error {
	var abort *AbortActionError
	if errors.As(err, &abort) {
		return nil
	}
	return err
}

// PerformItems executes an action list for a record with a fresh jump
// budget. Used by trigger surfaces and the scheduler for global
// actions.
func (s *WorkflowService) PerformItems(ctx context.Context, items []models.Action, ec *ActionContext) (string, error) {
	if ec.Ctx == nil {
		ec.Ctx = ctx
	}
	if ec.Depth == 0 {
		ec.Depth = s.maxJumps
	}
	s.markProcessing(ctx, ec.Record)
	defer s.clearProcessing(ctx, ec.Record)
	url, err := s.performItems(items, ec)
	return url, stripAbort(err)
}

// performItems is the dispatch loop: each action in authoring order,
// condition-gated, with one failing action isolated from the rest. A
// status change breaks the loop and recurses into the new status with a
// decremented jump budget.
func (s *WorkflowService) performItems(items []models.Action, ec *ActionContext) (string, error) {
	record := ec.Record
	if ec.Depth <= 0 {
		// User-authored graphs can contain accidental cycles; this is
		// the safeguard.
		s.traces.RecordWorkflowEvent(ec.Ctx, record, constants.EventAbortedTooManyJumps, nil)
		s.recorder.Record(&wferrors.WorkflowError{
			Kind:       wferrors.KindCycle,
			WorkflowID: record.WorkflowID,
			StatusID:   record.Status,
			Summary:    "too many jumps in workflow",
		})
		return "", nil
	}

	url := ""
	oldStatus := record.Status

	for _, item := range items {
		runnable, err := s.isRunnable(item, ec)
		if err != nil {
			s.recordTemplateError(ec, item, err)
			continue
		}
		if !runnable {
			continue
		}
		handler := s.registry.Get(item.Kind())
		if handler == nil {
			log.Printf("⚠️ no handler for action kind %q (workflow %s)", item.Kind(), ec.Workflow.ID)
			continue
		}
		redirect, err := handler.Perform(item, ec)
		if redirect != "" && url == "" {
			url = redirect
		}
		if err != nil {
			var abort *AbortActionError
			if errors.As(err, &abort) {
				if abort.URL != "" && url == "" {
					url = abort.URL
				}
				// Aborts discard the remaining actions and propagate
				// through nested jump loops.
				return url, err
			}
			// Recoverable: report and continue with the next action.
			s.recordActionError(ec, item, err)
			continue
		}
		if record.Status != oldStatus {
			break
		}
	}

	if record.Status != oldStatus {
		s.traces.RecordWorkflowEvent(ec.Ctx, record, constants.EventContinuation, nil)
		status, err := ec.Workflow.GetStatus(record.Status)
		if err != nil {
			return url, err
		}
		next := &ActionContext{
			Ctx:      ec.Ctx,
			Workflow: ec.Workflow,
			Record:   record,
			User:     ec.User,
			Caller:   ec.Caller,
			Depth:    ec.Depth - 1,
		}
		redirect, err := s.performItems(status.Items, next)
		if redirect != "" && url == "" {
			url = redirect
		}
		if err != nil {
			return url, err
		}
	}
	return url, nil
}

// isRunnable gates an action on its execution mode and condition.
// Trigger- and timeout-mode jumps never auto-fire during dispatch.
func (s *WorkflowService) isRunnable(item models.Action, ec *ActionContext) (bool, error) {
	if jump, ok := item.(*models.JumpAction); ok {
		switch jump.Mode {
		case constants.JumpModeTrigger:
			if ec.TriggerName == "" || ec.TriggerName != jump.TriggerID {
				return false, nil
			}
		case constants.JumpModeTimeout:
			if !ec.FromScheduler {
				return false, nil
			}
		}
	}
	return s.CheckCondition(item, ec)
}

// CheckCondition evaluates an action's condition against the record
// context. Rendering errors are recoverable and default to false.
func (s *WorkflowService) CheckCondition(item models.Action, ec *ActionContext) (bool, error) {
	condition := item.Base().Condition
	if condition == "" {
		return true, nil
	}
	return s.templates.EvalBool(condition, s.templateEnv(ec))
}

// templateEnv builds the variable context for conditions and templates:
// the record data flattened at top level, plus structured namespaces.
func (s *WorkflowService) templateEnv(ec *ActionContext) map[string]interface{} {
	env := make(map[string]interface{})
	record := ec.Record
	for k, v := range record.Data {
		env[k] = v
	}
	env["record"] = record.Data
	env["status"] = record.Status
	env["criticality_level"] = record.CurrentCriticalityLevel(ec.Workflow)
	env["workflow_data"] = record.WorkflowData
	env["receipt_time"] = record.ReceiptTime
	if ec.User != "" {
		env["user"] = ec.User
	}
	for k, v := range ec.Caller {
		env["caller_"+k] = v
	}
	return env
}

// markProcessing stamps the record so a monitoring pass can detect a
// crashed job that never finished. The marker is persisted right away;
// crash recovery depends on it being visible in the store.
func (s *WorkflowService) markProcessing(ctx context.Context, record *models.Record) {
	if record.ProcessingStartedAt != nil {
		return
	}
	now := time.Now()
	record.ProcessingStartedAt = &now
	record.ProcessingJobID = fmt.Sprintf("perform-%d", now.UnixNano())
	if record.ID == "" {
		return
	}
	if err := s.store.Put(ctx, record); err != nil {
		log.Printf("⚠️ failed to store processing marker for record %s: %v", record.ID, err)
	}
}

// clearProcessing removes the processing markers and persists them for
// stored records.
func (s *WorkflowService) clearProcessing(ctx context.Context, record *models.Record) {
	record.ProcessingStartedAt = nil
	record.ProcessingJobID = ""
	if record.ID == "" {
		return
	}
	// The record may have been removed by a Remove action; do not
	// resurrect it just to clear the marker.
	if _, err := s.store.Get(ctx, record.ID); errors.Is(err, ports.ErrNotFound) {
		return
	}
	if err := s.store.Put(ctx, record); err != nil {
		log.Printf("⚠️ failed to clear processing marker for record %s: %v", record.ID, err)
	}
}

func (s *WorkflowService) recordTemplateError(ec *ActionContext, item models.Action, err error) {
	s.recorder.Record(&wferrors.WorkflowError{
		Kind:       wferrors.KindTemplate,
		WorkflowID: ec.Workflow.ID,
		StatusID:   ec.Record.Status,
		ActionID:   item.Base().ID,
		Summary:    "condition evaluation failed",
		Err:        &ports.TemplateError{Expression: item.Base().Condition, Err: err},
	})
}

func (s *WorkflowService) recordActionError(ec *ActionContext, item models.Action, err error) {
	kind := wferrors.KindTemplate
	var templateErr *ports.TemplateError
	if !errors.As(err, &templateErr) {
		kind = wferrors.KindStore
	}
	s.recorder.Record(&wferrors.WorkflowError{
		Kind:       kind,
		WorkflowID: ec.Workflow.ID,
		StatusID:   ec.Record.Status,
		ActionID:   item.Base().ID,
		Summary:    fmt.Sprintf("action %s failed", item.Kind()),
		Err:        err,
	})
}
