package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
	wferrors "github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
)

// SchedulerService runs the periodic workflow passes: timeout jumps,
// global-action timeout triggers and stalled-record recovery. Each pass
// is idempotent; running it twice in a row performs no extra work.
type SchedulerService struct {
	service    *WorkflowService
	workflows  ports.WorkflowProvider
	store      ports.RecordStore
	budget     time.Duration
	stalledAge time.Duration
	window     Window

	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// Window restricts scheduler passes to records whose last change falls
// inside it. Zero bounds are open. Operator runs use it for recovery
// and backfill.
type Window struct {
	Since time.Time
	Until time.Time
}

func (w Window) contains(t time.Time) bool {
	if !w.Since.IsZero() && t.Before(w.Since) {
		return false
	}
	if !w.Until.IsZero() && t.After(w.Until) {
		return false
	}
	return true
}

func NewSchedulerService(service *WorkflowService, workflows ports.WorkflowProvider, store ports.RecordStore) *SchedulerService {
	return &SchedulerService{
		service:    service,
		workflows:  workflows,
		store:      store,
		budget:     constants.DefaultSchedulerBudget,
		stalledAge: constants.DefaultStalledProcessingAge,
		cron:       cron.New(),
	}
}

// SetWindow bounds subsequent passes to records last changed inside
// the window.
func (s *SchedulerService) SetWindow(window Window) {
	s.window = window
}

// DueNow reports whether a run is due at the configured cadence.
// Operator runs bypass it with a force flag.
func (s *SchedulerService) DueNow(now time.Time) bool {
	step := int(constants.JumpTimeoutInterval().Minutes())
	if step <= 1 {
		return true
	}
	return now.Minute()%step == 0
}

// Start schedules periodic runs at the configured timeout interval.
func (s *SchedulerService) Start() error {
	if s.running {
		return nil
	}
	interval := constants.JumpTimeoutInterval()
	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("❌ scheduler run panicked: %v", r)
			}
		}()
		if err := s.RunAll(context.Background()); err != nil {
			log.Printf("⚠️ scheduler run failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.entryID = entryID
	s.cron.Start()
	s.running = true
	log.Printf("⏰ workflow scheduler started (every %s)", interval)
	return nil
}

func (s *SchedulerService) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	log.Println("⏰ workflow scheduler stopped")
}

// RunAll runs the periodic passes over every workflow that can react to
// the passage of time.
func (s *SchedulerService) RunAll(ctx context.Context) error {
	workflows, err := s.workflows.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, workflow := range workflows {
		// Workflows with no time-based behaviour can still hold stalled
		// records, so they keep the unstall pass.
		if !workflowHasTimeBasedBehaviour(workflow) {
			if err := s.unstallRecords(ctx, workflow, time.Now().Add(s.budget)); err != nil {
				log.Printf("⚠️ unstall pass failed for workflow %s: %v", workflow.ID, err)
			}
			continue
		}
		if err := s.RunWorkflow(ctx, workflow.ID); err != nil {
			log.Printf("⚠️ scheduler pass failed for workflow %s: %v", workflow.ID, err)
		}
	}
	return nil
}

// Scheduler pass names, for RunPass.
const (
	PassTimeoutJumps   = "timeout-jumps"
	PassGlobalTimeouts = "global-timeouts"
	PassUnstall        = "unstall"
)

// RunPass runs a single named pass for one workflow.
func (s *SchedulerService) RunPass(ctx context.Context, workflowID, pass string) error {
	workflow, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(s.budget)
	switch pass {
	case PassTimeoutJumps:
		return s.runTimeoutJumps(ctx, workflow, deadline)
	case PassGlobalTimeouts:
		return s.runGlobalTimeouts(ctx, workflow, deadline)
	case PassUnstall:
		return s.unstallRecords(ctx, workflow, deadline)
	}
	return fmt.Errorf("unknown scheduler pass %q", pass)
}

// RunWorkflow runs all periodic passes for one workflow, bounded by the
// per-workflow wall-clock budget. Work left over runs on the next tick.
func (s *SchedulerService) RunWorkflow(ctx context.Context, workflowID string) error {
	workflow, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(s.budget)

	if err := s.runTimeoutJumps(ctx, workflow, deadline); err != nil {
		return err
	}
	if err := s.runGlobalTimeouts(ctx, workflow, deadline); err != nil {
		return err
	}
	return s.unstallRecords(ctx, workflow, deadline)
}

// overBudget records a budget overrun once and reports it.
func (s *SchedulerService) overBudget(workflow *models.Workflow, deadline time.Time, pass string) bool {
	if time.Now().Before(deadline) {
		return false
	}
	s.service.Recorder().Record(&wferrors.WorkflowError{
		Kind:       wferrors.KindBudget,
		WorkflowID: workflow.ID,
		Summary:    "scheduler budget exhausted during " + pass,
	})
	log.Printf("⏰ scheduler budget exhausted for workflow %s (%s pass), deferring rest", workflow.ID, pass)
	return true
}

// runTimeoutJumps fires due timeout-mode jumps, status by status. A
// cheap select prefilter skips records that cannot possibly be due yet;
// the due time is then re-checked on the fresh record.
func (s *SchedulerService) runTimeoutJumps(ctx context.Context, workflow *models.Workflow, deadline time.Time) error {
	now := time.Now()
	for _, status := range workflow.Statuses {
		jumps := s.liveTimeoutJumps(status)
		if len(jumps) == 0 {
			continue
		}
		criteria := ports.Criteria{
			Statuses:      []string{status.ID},
			NotAnonymised: true,
			NotProcessing: true,
		}
		if minDelay := s.minJumpDelay(jumps); minDelay > 0 {
			before := now.Add(-minDelay)
			criteria.UpdatedBefore = &before
		}
		records, err := s.store.Select(ctx, workflow.ID, criteria)
		if err != nil {
			return err
		}
		for _, stale := range records {
			if s.overBudget(workflow, deadline, "timeout-jump") {
				return nil
			}
			if !s.window.contains(stale.LastUpdateTime) {
				continue
			}
			// Refresh: the prefilter snapshot may be behind.
			record, err := s.store.Get(ctx, stale.ID)
			if err != nil || record.Status != status.ID || record.ProcessingStartedAt != nil {
				continue
			}
			s.fireTimeoutJump(ctx, workflow, status, jumps, record)
		}
	}
	return nil
}

// liveTimeoutJumps returns the status's timeout jumps whose condition
// can ever hold.
func (s *SchedulerService) liveTimeoutJumps(status *models.Status) []*models.JumpAction {
	var jumps []*models.JumpAction
	for _, jump := range status.TimeoutJumps() {
		if s.service.templates.IsAlwaysFalse(jump.Condition) {
			continue
		}
		jumps = append(jumps, jump)
	}
	return jumps
}

// minJumpDelay computes the smallest literal timeout across jumps.
// Template timeouts cannot be prefiltered and force a zero delay.
func (s *SchedulerService) minJumpDelay(jumps []*models.JumpAction) time.Duration {
	min := time.Duration(0)
	for _, jump := range jumps {
		seconds, err := parseDurationSeconds(jump.Timeout)
		if err != nil {
			return 0
		}
		delay := time.Duration(seconds * float64(time.Second))
		if min == 0 || delay < min {
			min = delay
		}
	}
	return min
}

// fireTimeoutJump applies the first due jump of the status, if any.
func (s *SchedulerService) fireTimeoutJump(ctx context.Context, workflow *models.Workflow, status *models.Status, jumps []*models.JumpAction, record *models.Record) {
	ec := &ActionContext{
		Ctx:           ctx,
		Workflow:      workflow,
		Record:        record,
		FromScheduler: true,
	}
	for _, jump := range jumps {
		due, err := s.service.timeoutJumpDue(jump, ec, time.Now())
		if err != nil {
			s.service.recordTemplateError(ec, jump, err)
			continue
		}
		if !due {
			continue
		}
		ok, err := s.service.CheckCondition(jump, ec)
		if err != nil {
			s.service.recordTemplateError(ec, jump, err)
			continue
		}
		if !ok {
			continue
		}
		s.service.traces.RecordWorkflowEvent(ctx, record, constants.EventTimeoutJump, map[string]interface{}{
			"action_item_id": jump.ID,
		})
		log.Printf("⏰ timeout jump %s for record %s (%s -> %s)", jump.ID, record.ID, status.ID, jump.TargetStatusID)
		if _, err := s.service.jumpAndPerform(jump, ec); err != nil {
			log.Printf("⚠️ timeout jump %s failed for record %s: %v", jump.ID, record.ID, err)
		}
		return
	}
}

// runGlobalTimeouts fires global actions whose timeout triggers are
// due. A marker part in the record history keeps each (trigger, anchor)
// pair from firing twice; a new anchor re-arms the trigger.
func (s *SchedulerService) runGlobalTimeouts(ctx context.Context, workflow *models.Workflow, deadline time.Time) error {
	type armed struct {
		action  *models.GlobalAction
		trigger *models.Trigger
	}
	var triggers []armed
	for _, action := range workflow.GlobalActions {
		for j := range action.Triggers {
			trigger := &action.Triggers[j]
			if trigger.Kind == constants.TriggerKindTimeout {
				triggers = append(triggers, armed{action, trigger})
			}
		}
	}
	if len(triggers) == 0 {
		return nil
	}

	records, err := s.store.Select(ctx, workflow.ID, ports.Criteria{
		NotDraft:      true,
		NotProcessing: true,
	})
	if err != nil {
		return err
	}
	for _, stale := range records {
		if !s.window.contains(stale.LastUpdateTime) {
			continue
		}
		for _, t := range triggers {
			if s.overBudget(workflow, deadline, "global-timeout") {
				return nil
			}
			record, err := s.store.Get(ctx, stale.ID)
			if err != nil {
				break
			}
			s.fireGlobalTimeout(ctx, workflow, t.action, t.trigger, record)
		}
	}
	return nil
}

func (s *SchedulerService) fireGlobalTimeout(ctx context.Context, workflow *models.Workflow, action *models.GlobalAction, trigger *models.Trigger, record *models.Record) {
	if !s.triggerStillRelevant(workflow, trigger, record) {
		return
	}
	anchor, ok := s.triggerAnchor(ctx, workflow, trigger, record)
	if !ok {
		return
	}
	days, err := s.triggerDays(workflow, trigger, record)
	if err != nil {
		s.service.Recorder().Record(&wferrors.WorkflowError{
			Kind:       wferrors.KindTemplate,
			WorkflowID: workflow.ID,
			ActionID:   action.ID,
			Summary:    "invalid global action timeout value",
			Err:        err,
		})
		return
	}
	due := anchor.Add(time.Duration(days * 24 * float64(time.Hour)))
	if time.Now().Before(due) {
		return
	}
	// The marker id carries the anchor epoch: a later arrival produces
	// a fresh id and re-arms the trigger.
	markerID := fmt.Sprintf("%s-%d", trigger.ID, anchor.Unix())
	if record.HasTimeoutTriggerMarker(markerID) {
		return
	}
	last := record.LastEvolution()
	if last == nil {
		return
	}
	last.AddPart(&models.TimeoutTriggerMarkerPart{TriggerID: markerID})
	if err := s.store.Put(ctx, record); err != nil {
		log.Printf("⚠️ cannot mark global timeout trigger on record %s: %v", record.ID, err)
		return
	}
	s.service.traces.RecordWorkflowEvent(ctx, record, constants.EventGlobalActionTimeout, map[string]interface{}{
		"global_action_id": action.ID,
		"trigger_id":       trigger.ID,
	})
	log.Printf("⏰ global action %s timeout trigger fired for record %s", action.ID, record.ID)
	ec := &ActionContext{
		Ctx:           ctx,
		Workflow:      workflow,
		Record:        record,
		GlobalAction:  true,
		FromScheduler: true,
	}
	if _, err := s.service.PerformItems(ctx, action.Items, ec); err != nil {
		log.Printf("⚠️ global action %s failed for record %s: %v", action.ID, record.ID, err)
	}
}

// triggerStillRelevant reports whether the trigger can still affect
// the record: anonymised records only react to anonymisation anchors,
// a latest-arrival trigger stops applying once the record leaves its
// anchor status, and non-final anchors stop applying once the record
// reaches an endpoint, unless the anchor status itself is one.
func (s *SchedulerService) triggerStillRelevant(workflow *models.Workflow, trigger *models.Trigger, record *models.Record) bool {
	if record.Anonymised != nil && trigger.Anchor != constants.AnchorAnonymisation {
		return false
	}
	if trigger.Anchor == constants.AnchorLatestArrival &&
		trigger.AnchorStatusID != "" && record.Status != trigger.AnchorStatusID {
		return false
	}
	switch trigger.Anchor {
	case constants.AnchorFinalized, constants.AnchorAnonymisation:
		return true
	}
	status, err := workflow.GetStatus(record.Status)
	if err != nil {
		return false
	}
	if !status.IsEndpoint() {
		return true
	}
	if trigger.AnchorStatusID != "" {
		if anchorStatus, err := workflow.GetStatus(trigger.AnchorStatusID); err == nil && anchorStatus.IsEndpoint() {
			return true
		}
	}
	return false
}

// triggerAnchor resolves a timeout trigger's anchor time for a record.
// A false return means the anchor does not apply to this record yet.
func (s *SchedulerService) triggerAnchor(ctx context.Context, workflow *models.Workflow, trigger *models.Trigger, record *models.Record) (time.Time, bool) {
	switch trigger.Anchor {
	case constants.AnchorCreation:
		return record.ReceiptTime, !record.ReceiptTime.IsZero()
	case constants.AnchorFirstArrival:
		anchor := s.arrivalInStatus(record, trigger.AnchorStatusID, false)
		return anchor, !anchor.IsZero()
	case constants.AnchorLatestArrival:
		anchor := s.arrivalInStatus(record, trigger.AnchorStatusID, true)
		return anchor, !anchor.IsZero()
	case constants.AnchorFinalized:
		anchor := s.finalizedTime(workflow, record)
		return anchor, !anchor.IsZero()
	case constants.AnchorAnonymisation:
		if record.Anonymised == nil {
			return time.Time{}, false
		}
		return *record.Anonymised, true
	case constants.AnchorTemplate:
		rendered, err := s.service.templates.Render(trigger.AnchorTemplate, s.service.templateEnv(&ActionContext{Ctx: ctx, Workflow: workflow, Record: record}))
		if err != nil {
			return time.Time{}, false
		}
		anchor, err := parseAnchorTime(rendered)
		if err != nil {
			return time.Time{}, false
		}
		return anchor, true
	default:
		return time.Time{}, false
	}
}

// arrivalInStatus returns the first or latest time the record entered
// the given status. An empty status id means any arrival.
func (s *SchedulerService) arrivalInStatus(record *models.Record, statusID string, latest bool) time.Time {
	var anchor time.Time
	for _, evo := range record.Evolution {
		if evo.Status == "" {
			continue
		}
		if statusID != "" && evo.Status != statusID {
			continue
		}
		at := evo.Time
		if evo.LastJumpTime != nil && evo.LastJumpTime.After(at) {
			at = *evo.LastJumpTime
		}
		if anchor.IsZero() || (latest && at.After(anchor)) {
			anchor = at
		}
		if !latest && !anchor.IsZero() && (statusID == "" || evo.Status == statusID) {
			return anchor
		}
	}
	return anchor
}

// finalizedTime returns the time the record last became finalized: the
// start of its trailing run of endpoint statuses. A record that was
// re-opened and finalized again anchors on the later finalization.
func (s *SchedulerService) finalizedTime(workflow *models.Workflow, record *models.Record) time.Time {
	endpoints := make(map[string]bool)
	for _, id := range workflow.EndpointStatusIDs() {
		endpoints[id] = true
	}
	var anchor time.Time
	for i := len(record.Evolution) - 1; i >= 0; i-- {
		evo := record.Evolution[i]
		if evo.Status == "" {
			continue
		}
		if !endpoints[evo.Status] {
			break
		}
		anchor = evo.Time
	}
	return anchor
}

// triggerDays resolves the trigger's timeout expressed in days.
func (s *SchedulerService) triggerDays(workflow *models.Workflow, trigger *models.Trigger, record *models.Record) (float64, error) {
	value := trigger.Timeout
	if strings.Contains(value, "{{") {
		rendered, err := s.service.templates.Render(value, s.service.templateEnv(&ActionContext{Ctx: context.Background(), Workflow: workflow, Record: record}))
		if err != nil {
			return 0, err
		}
		value = rendered
	}
	days, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout days %q", trigger.Timeout)
	}
	if days < 0 {
		return 0, fmt.Errorf("timeout days must not be negative")
	}
	return days, nil
}

// parseAnchorTime accepts RFC 3339 timestamps and plain dates.
func parseAnchorTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid anchor time %q", value)
}

// unstallRecords recovers records whose processing marker is older than
// the stall threshold: an earlier run crashed mid-dispatch. The marker
// is cleared and the current status's actions run again.
func (s *SchedulerService) unstallRecords(ctx context.Context, workflow *models.Workflow, deadline time.Time) error {
	since := time.Now().Add(-s.stalledAge)
	records, err := s.store.Select(ctx, workflow.ID, ports.Criteria{
		ProcessingSince: &since,
	})
	if err != nil {
		return err
	}
	for _, record := range records {
		if s.overBudget(workflow, deadline, "unstall") {
			return nil
		}
		if !s.window.contains(record.LastUpdateTime) {
			continue
		}
		record.ProcessingStartedAt = nil
		record.ProcessingJobID = ""
		if err := s.store.Put(ctx, record); err != nil {
			log.Printf("⚠️ cannot clear stalled marker on record %s: %v", record.ID, err)
			continue
		}
		s.service.traces.RecordWorkflowEvent(ctx, record, constants.EventUnstall, nil)
		log.Printf("🔄 unstalled record %s, resuming workflow", record.ID)
		if _, err := s.service.PerformWorkflow(ctx, record); err != nil {
			log.Printf("⚠️ resume failed for record %s: %v", record.ID, err)
		}
	}
	return nil
}

// workflowHasTimeBasedBehaviour reports whether the scheduler has any
// work to do for a workflow.
func workflowHasTimeBasedBehaviour(workflow *models.Workflow) bool {
	for _, status := range workflow.Statuses {
		if len(status.TimeoutJumps()) > 0 {
			return true
		}
	}
	for _, action := range workflow.GlobalActions {
		for _, trigger := range action.Triggers {
			if trigger.Kind == constants.TriggerKindTimeout {
				return true
			}
		}
	}
	return false
}
