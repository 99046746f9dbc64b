package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/constants"
)

func TestParseBuiltinWorkflow(t *testing.T) {
	workflow, err := ParseWorkflow(defaultWorkflowYAML)
	require.NoError(t, err)

	assert.Equal(t, "default", workflow.ID)
	require.NotEmpty(t, workflow.Statuses)

	first := workflow.Statuses[0]
	require.NotEmpty(t, first.Items)
	jump, ok := first.Items[0].(*models.JumpAction)
	require.True(t, ok, "first action of %s should decode as a jump, got %T", first.ID, first.Items[0])
	assert.True(t, workflow.HasStatus(jump.TargetStatusID))

	require.NotEmpty(t, workflow.GlobalActions)
	escalate := workflow.GlobalActions[0]
	require.NotEmpty(t, escalate.Triggers)
	assert.Equal(t, constants.TriggerKindTimeout, escalate.Triggers[0].Kind)
	require.NotEmpty(t, escalate.Items)
	_, ok = escalate.Items[0].(*models.ModifyCriticalityAction)
	assert.True(t, ok, "escalate action should decode as modify-criticality, got %T", escalate.Items[0])
}

func TestParseWorkflowRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing id",
			yaml: `
name: Nameless
statuses:
  - id: new
`,
		},
		{
			name: "no statuses",
			yaml: `
id: empty
name: Empty
`,
		},
		{
			name: "duplicate status id",
			yaml: `
id: dup
statuses:
  - id: new
  - id: new
`,
		},
		{
			name: "unknown jump target",
			yaml: `
id: broken
statuses:
  - id: new
    items:
      - kind: jump
        id: j1
        target_status_id: nowhere
`,
		},
		{
			name: "trigger jump without trigger id",
			yaml: `
id: broken
statuses:
  - id: new
  - id: done
    items: []
  - id: waiting
    items:
      - kind: jump
        id: j1
        target_status_id: done
        mode: trigger
`,
		},
		{
			name: "timeout jump without timeout",
			yaml: `
id: broken
statuses:
  - id: new
  - id: done
    items:
      - kind: jump
        id: j1
        target_status_id: new
        mode: timeout
`,
		},
		{
			name: "unknown action kind",
			yaml: `
id: broken
statuses:
  - id: new
    items:
      - kind: explode
        id: b1
`,
		},
		{
			name: "unknown trigger kind",
			yaml: `
id: broken
statuses:
  - id: new
global_actions:
  - id: ga
    triggers:
      - id: t1
        kind: telepathy
`,
		},
		{
			name: "timeout trigger without anchor",
			yaml: `
id: broken
statuses:
  - id: new
global_actions:
  - id: ga
    triggers:
      - id: t1
        kind: timeout
        timeout: "30"
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkflow([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseWorkflowKeepsActionOrder(t *testing.T) {
	workflow, err := ParseWorkflow([]byte(`
id: ordered
statuses:
  - id: new
    items:
      - kind: register-comment
        id: c1
        comment: first
      - kind: sendmail
        id: m1
        to: [_receiver]
        body: reminder
      - kind: jump
        id: j1
        target_status_id: done
  - id: done
`))
	require.NoError(t, err)

	items := workflow.Statuses[0].Items
	require.Len(t, items, 3)
	assert.IsType(t, &models.RegisterCommentAction{}, items[0])
	assert.IsType(t, &models.SendMessageAction{}, items[1])
	assert.IsType(t, &models.JumpAction{}, items[2])
	assert.Equal(t, "done", items[2].(*models.JumpAction).TargetStatusID)
}
