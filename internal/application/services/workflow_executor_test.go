package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

func recordInStatus(workflowID, statusID string) *models.Record {
	record := models.NewRecord(workflowID)
	record.ApplyStatus(statusID, "", time.Now())
	return record
}

func TestPerformWorkflowFollowsImmediateJumps(t *testing.T) {
	workflow := &models.Workflow{
		ID: "wf",
		Statuses: []*models.Status{
			{ID: "received", Items: []models.Action{
				&models.JumpAction{ActionBase: models.ActionBase{ID: "j1"}, TargetStatusID: "reviewing"},
			}},
			{ID: "reviewing", Items: []models.Action{
				&models.RegisterCommentAction{ActionBase: models.ActionBase{ID: "c1"}, Comment: "under review"},
				&models.JumpAction{ActionBase: models.ActionBase{ID: "j2"}, TargetStatusID: "done"},
			}},
			{ID: "done"},
		},
	}
	record := recordInStatus("wf", "received")
	env := newTestEnv(newStaticWorkflows(workflow), record)

	url, err := env.service.PerformWorkflow(context.Background(), record)
	require.NoError(t, err)
	assert.Empty(t, url)
	assert.Equal(t, "done", record.Status)
	assert.Nil(t, record.ProcessingStartedAt)

	// One continuation per executed jump.
	assert.Len(t, env.traces.events(constants.EventContinuation), 2)

	var comments []string
	record.IterParts("comment", func(part models.EvolutionPart) bool {
		comments = append(comments, part.(*models.CommentPart).Content)
		return true
	})
	assert.Equal(t, []string{"under review"}, comments)
}

func TestPerformWorkflowStopsOnJumpCycle(t *testing.T) {
	workflow := &models.Workflow{
		ID: "wf",
		Statuses: []*models.Status{
			{ID: "ping", Items: []models.Action{
				&models.JumpAction{ActionBase: models.ActionBase{ID: "j1"}, TargetStatusID: "pong"},
			}},
			{ID: "pong", Items: []models.Action{
				&models.JumpAction{ActionBase: models.ActionBase{ID: "j2"}, TargetStatusID: "ping"},
			}},
		},
	}
	record := recordInStatus("wf", "ping")
	env := newTestEnv(newStaticWorkflows(workflow), record)

	_, err := env.service.PerformWorkflow(context.Background(), record)
	require.NoError(t, err)

	aborted := env.traces.events(constants.EventAbortedTooManyJumps)
	assert.Len(t, aborted, 1)
	assert.Contains(t, []string{"ping", "pong"}, record.Status)
	assert.NotEmpty(t, env.service.Recorder().Entries())
}

func TestPerformWorkflowRemoveAbortsRun(t *testing.T) {
	workflow := &models.Workflow{
		ID: "wf",
		Statuses: []*models.Status{
			{ID: "discard", Items: []models.Action{
				&models.RemoveAction{ActionBase: models.ActionBase{ID: "rm"}, RedirectURL: "/bye"},
				&models.JumpAction{ActionBase: models.ActionBase{ID: "never"}, TargetStatusID: "after"},
			}},
			{ID: "after"},
		},
	}
	record := recordInStatus("wf", "discard")
	env := newTestEnv(newStaticWorkflows(workflow), record)

	url, err := env.service.PerformWorkflow(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "/bye", url)

	_, err = env.store.Get(context.Background(), record.ID)
	assert.Equal(t, ports.ErrNotFound, err)
	// The aborted jump never ran.
	assert.Equal(t, "discard", record.Status)
}

func TestPerformWorkflowIsolatesFailingAction(t *testing.T) {
	workflow := &models.Workflow{
		ID: "wf",
		Statuses: []*models.Status{
			{ID: "start", Items: []models.Action{
				&models.JumpAction{
					ActionBase:     models.ActionBase{ID: "broken", Condition: "1 +"},
					TargetStatusID: "wrong",
				},
				&models.JumpAction{ActionBase: models.ActionBase{ID: "ok"}, TargetStatusID: "done"},
			}},
			{ID: "wrong"},
			{ID: "done"},
		},
	}
	record := recordInStatus("wf", "start")
	env := newTestEnv(newStaticWorkflows(workflow), record)

	_, err := env.service.PerformWorkflow(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "done", record.Status)
	assert.NotEmpty(t, env.service.Recorder().Entries())
}

func TestPerformWorkflowSkipsFalseConditions(t *testing.T) {
	workflow := &models.Workflow{
		ID: "wf",
		Statuses: []*models.Status{
			{ID: "start", Items: []models.Action{
				&models.JumpAction{
					ActionBase:     models.ActionBase{ID: "gated", Condition: "false"},
					TargetStatusID: "skipped",
				},
			}},
			{ID: "skipped"},
		},
	}
	record := recordInStatus("wf", "start")
	env := newTestEnv(newStaticWorkflows(workflow), record)

	_, err := env.service.PerformWorkflow(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "start", record.Status)
}

func TestPerformWorkflowNeverAutoFiresWaitpoints(t *testing.T) {
	workflow := &models.Workflow{
		ID: "wf",
		Statuses: []*models.Status{
			{ID: "waiting", Items: []models.Action{
				&models.JumpAction{
					ActionBase:     models.ActionBase{ID: "by-trigger"},
					Mode:           constants.JumpModeTrigger,
					TriggerID:      "approve",
					TargetStatusID: "approved",
				},
				&models.JumpAction{
					ActionBase:     models.ActionBase{ID: "by-timeout"},
					Mode:           constants.JumpModeTimeout,
					Timeout:        "1s",
					TargetStatusID: "expired",
				},
			}},
			{ID: "approved"},
			{ID: "expired"},
		},
	}
	record := recordInStatus("wf", "waiting")
	env := newTestEnv(newStaticWorkflows(workflow), record)

	_, err := env.service.PerformWorkflow(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "waiting", record.Status)
}

func TestConditionSeesRecordContext(t *testing.T) {
	workflow := &models.Workflow{
		ID: "wf",
		Statuses: []*models.Status{
			{ID: "start", Items: []models.Action{
				&models.JumpAction{
					ActionBase:     models.ActionBase{ID: "j", Condition: `amount > 100`},
					TargetStatusID: "big",
				},
			}},
			{ID: "big"},
		},
	}
	record := recordInStatus("wf", "start")
	record.Data = map[string]interface{}{"amount": 250}
	env := newTestEnv(newStaticWorkflows(workflow), record)

	_, err := env.service.PerformWorkflow(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, "big", record.Status)
}
