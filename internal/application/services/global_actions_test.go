package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/auth"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

func globalActionWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:    "wf",
		Roles: map[string]string{"_receiver": "role-receiver"},
		CriticalityLevels: []models.CriticalityLevel{
			{Name: "Normal"}, {Name: "Urgent"},
		},
		Statuses: []*models.Status{{ID: "active"}},
		GlobalActions: []*models.GlobalAction{
			{
				ID: "escalate",
				Triggers: []models.Trigger{
					{ID: "button", Kind: constants.TriggerKindManual, Roles: []string{"_receiver"}},
					{ID: "hook", Kind: constants.TriggerKindWebservice, Identifier: "escalate-now"},
				},
				Items: []models.Action{
					&models.ModifyCriticalityAction{
						ActionBase: models.ActionBase{ID: "raise"},
						Mode:       models.CriticalityIncrease,
					},
				},
			},
		},
	}
}

func TestTriggerGlobalActionChecksRoles(t *testing.T) {
	workflow := globalActionWorkflow()
	record := recordInStatus("wf", "active")
	env := newTestEnv(newStaticWorkflows(workflow), record)
	env.roles.members = map[string][]string{"_receiver": {"user-1"}}

	_, err := env.service.TriggerGlobalAction(context.Background(), record, "escalate",
		&auth.CallerSession{ID: "user-2"})
	assert.Error(t, err)
	assert.Equal(t, 0, record.CurrentCriticalityLevel(workflow))

	_, err = env.service.TriggerGlobalAction(context.Background(), record, "escalate",
		&auth.CallerSession{ID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 101, record.CurrentCriticalityLevel(workflow))
	assert.Len(t, env.traces.events(constants.EventGlobalAction), 1)
}

func TestTriggerGlobalActionMassNeedsFlag(t *testing.T) {
	workflow := globalActionWorkflow()
	record := recordInStatus("wf", "active")
	env := newTestEnv(newStaticWorkflows(workflow), record)
	env.roles.members = map[string][]string{"_receiver": {"user-1"}}
	session := &auth.CallerSession{ID: "user-1"}

	_, err := env.service.TriggerGlobalActionMass(context.Background(), record, "escalate", session)
	assert.Error(t, err)

	workflow.GlobalActions[0].Triggers[0].AllowAsMassAction = true
	_, err = env.service.TriggerGlobalActionMass(context.Background(), record, "escalate", session)
	require.NoError(t, err)
	assert.Len(t, env.traces.events(constants.EventMassJump), 1)
}

func TestTriggerGlobalActionByIdentifierNeedsSignedCall(t *testing.T) {
	workflow := globalActionWorkflow()
	record := recordInStatus("wf", "active")
	env := newTestEnv(newStaticWorkflows(workflow), record)

	_, err := env.service.TriggerGlobalActionByIdentifier(context.Background(), record,
		"escalate-now", &auth.CallerSession{ID: "svc", Signed: false}, nil)
	assert.Error(t, err)

	_, err = env.service.TriggerGlobalActionByIdentifier(context.Background(), record,
		"escalate-now", &auth.CallerSession{ID: "svc", Signed: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 101, record.CurrentCriticalityLevel(workflow))
	assert.Len(t, env.traces.events(constants.EventGlobalAPITrigger), 1)
}

func TestExternalWorkflowActionTargetsRecords(t *testing.T) {
	target := globalActionWorkflow()
	source := &models.Workflow{
		ID: "src",
		Statuses: []*models.Status{
			{ID: "start", Items: []models.Action{
				&models.ExternalWorkflowAction{
					ActionBase: models.ActionBase{ID: "ext"},
					WorkflowID: "wf",
					TriggerID:  "action:escalate-now",
					TargetMode: models.ExternalTargetAll,
				},
			}},
		},
	}
	sourceRecord := recordInStatus("src", "start")
	targetRecord := recordInStatus("wf", "active")
	env := newTestEnv(newStaticWorkflows(source, target), sourceRecord, targetRecord)

	_, err := env.service.PerformWorkflow(context.Background(), sourceRecord)
	require.NoError(t, err)
	assert.Equal(t, 101, targetRecord.CurrentCriticalityLevel(target))
	assert.Len(t, env.traces.events(constants.EventGlobalExternal), 1)
}

func TestExternalWorkflowActionManualTargetFilter(t *testing.T) {
	target := globalActionWorkflow()
	wanted := recordInStatus("wf", "active")
	unwanted := recordInStatus("wf", "active")
	source := &models.Workflow{
		ID: "src",
		Statuses: []*models.Status{
			{ID: "start", Items: []models.Action{
				&models.ExternalWorkflowAction{
					ActionBase: models.ActionBase{ID: "ext"},
					WorkflowID: "wf",
					TriggerID:  "action:escalate-now",
					TargetMode: models.ExternalTargetManual,
					TargetID:   "{{ linked_id }}",
				},
			}},
		},
	}
	sourceRecord := recordInStatus("src", "start")
	sourceRecord.Data = map[string]interface{}{"linked_id": wanted.ID}
	env := newTestEnv(newStaticWorkflows(source, target), sourceRecord, wanted, unwanted)

	_, err := env.service.PerformWorkflow(context.Background(), sourceRecord)
	require.NoError(t, err)
	assert.Equal(t, 101, wanted.CurrentCriticalityLevel(target))
	assert.Equal(t, 0, unwanted.CurrentCriticalityLevel(target))
}

func TestExternalWorkflowActionNoTargetsIsNoOp(t *testing.T) {
	target := globalActionWorkflow()
	source := &models.Workflow{
		ID: "src",
		Statuses: []*models.Status{
			{ID: "start", Items: []models.Action{
				&models.ExternalWorkflowAction{
					ActionBase: models.ActionBase{ID: "ext"},
					WorkflowID: "wf",
					TriggerID:  "action:escalate-now",
					TargetMode: models.ExternalTargetAll,
				},
			}},
		},
	}
	sourceRecord := recordInStatus("src", "start")
	env := newTestEnv(newStaticWorkflows(source, target), sourceRecord)

	_, err := env.service.PerformWorkflow(context.Background(), sourceRecord)
	require.NoError(t, err)
	assert.NotEmpty(t, env.service.Recorder().Entries())
}
