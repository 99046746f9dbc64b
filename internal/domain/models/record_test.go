package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyStatusAppendsAndCoalesces(t *testing.T) {
	record := NewRecord("wf")
	now := time.Now()

	require.True(t, record.ApplyStatus("new", "alice", now))
	assert.Equal(t, "new", record.Status)
	require.Len(t, record.Evolution, 1)

	// Same status, nothing visible since: refresh in place.
	later := now.Add(time.Hour)
	require.False(t, record.ApplyStatus("new", "alice", later))
	require.Len(t, record.Evolution, 1)
	require.NotNil(t, record.LastEvolution().LastJumpTime)
	assert.Equal(t, later, *record.LastEvolution().LastJumpTime)
	assert.Equal(t, later, record.ArrivalTime())

	// A comment makes the entry visible: next same-status jump appends.
	record.LastEvolution().AddPart(&CommentPart{Content: "checked"})
	require.True(t, record.ApplyStatus("new", "alice", later.Add(time.Hour)))
	assert.Len(t, record.Evolution, 2)

	// A different status always appends.
	require.True(t, record.ApplyStatus("done", "alice", later.Add(2*time.Hour)))
	assert.Len(t, record.Evolution, 3)
	assert.Equal(t, "done", record.Status)
}

func TestApplyStatusIgnoresInvisibleParts(t *testing.T) {
	record := NewRecord("wf")
	now := time.Now()
	require.True(t, record.ApplyStatus("new", "", now))
	record.LastEvolution().AddPart(&JumpPart{Identifier: "j1"})
	record.LastEvolution().AddPart(&TriggeredPart{TriggerName: "ping"})

	require.False(t, record.ApplyStatus("new", "", now.Add(time.Minute)))
	assert.Len(t, record.Evolution, 1)
}

func TestMarkerStack(t *testing.T) {
	record := NewRecord("wf")

	_, ok := record.PopMarker()
	assert.False(t, ok)

	record.PushMarker("first")
	record.PushMarker("second")

	status, ok := record.PopMarker()
	require.True(t, ok)
	assert.Equal(t, "second", status)

	status, ok = record.PopMarker()
	require.True(t, ok)
	assert.Equal(t, "first", status)

	_, ok = record.PopMarker()
	assert.False(t, ok)
}

func TestCriticalityScale(t *testing.T) {
	workflow := &Workflow{
		ID: "wf",
		CriticalityLevels: []CriticalityLevel{
			{Name: "Normal"}, {Name: "High"}, {Name: "Urgent"},
		},
	}
	record := NewRecord("wf")

	assert.Equal(t, 0, record.CurrentCriticalityLevel(workflow))

	record.IncreaseCriticality(workflow)
	assert.Equal(t, 101, record.CurrentCriticalityLevel(workflow))

	record.IncreaseCriticality(workflow)
	assert.Equal(t, 102, record.CurrentCriticalityLevel(workflow))

	// Saturates at the top of the scale.
	record.IncreaseCriticality(workflow)
	assert.Equal(t, 102, record.CurrentCriticalityLevel(workflow))

	record.DecreaseCriticality(workflow)
	assert.Equal(t, 101, record.CurrentCriticalityLevel(workflow))

	record.DecreaseCriticality(workflow)
	assert.Equal(t, 0, record.CurrentCriticalityLevel(workflow))

	record.DecreaseCriticality(workflow)
	assert.Equal(t, 0, record.CurrentCriticalityLevel(workflow))

	record.SetCriticality(workflow, 2)
	assert.Equal(t, 102, record.CriticalityLevel)

	// Out-of-scale input clamps.
	record.SetCriticality(workflow, 9)
	assert.Equal(t, 102, record.CriticalityLevel)
	record.SetCriticality(workflow, 0)
	assert.Equal(t, 0, record.CriticalityLevel)
}

func TestCriticalityReclampsWhenScaleShrinks(t *testing.T) {
	big := &Workflow{CriticalityLevels: []CriticalityLevel{{}, {}, {}, {}}}
	record := NewRecord("wf")
	record.SetCriticality(big, 3)
	require.Equal(t, 103, record.CriticalityLevel)

	small := &Workflow{CriticalityLevels: []CriticalityLevel{{}, {}}}
	assert.Equal(t, 101, record.CurrentCriticalityLevel(small))
}

func TestTimeoutTriggerMarkerLookup(t *testing.T) {
	record := NewRecord("wf")
	record.ApplyStatus("new", "", time.Now())

	assert.False(t, record.HasTimeoutTriggerMarker("t-100"))
	record.LastEvolution().AddPart(&TimeoutTriggerMarkerPart{TriggerID: "t-100"})
	assert.True(t, record.HasTimeoutTriggerMarker("t-100"))
	assert.False(t, record.HasTimeoutTriggerMarker("t-200"))
}

func TestEvolutionJSONRoundTrip(t *testing.T) {
	record := NewRecord("wf")
	now := time.Now().Truncate(time.Second)
	record.ApplyStatus("new", "alice", now)
	record.LastEvolution().AddPart(&CommentPart{Content: "hello"})
	record.LastEvolution().AddPart(&TriggeredPart{
		TriggerName: "approve",
		Content:     map[string]interface{}{"invoice": "F-1"},
		TriggerKind: "jump",
		Time:        now,
	})
	record.LastEvolution().AddPart(&TimeoutTriggerMarkerPart{TriggerID: "t-1"})

	data, err := json.Marshal(record.Evolution)
	require.NoError(t, err)

	var restored []*Evolution
	require.NoError(t, json.Unmarshal(data, &restored))
	require.Len(t, restored, 1)
	require.Len(t, restored[0].Parts, 3)
	assert.Equal(t, "hello", restored[0].Parts[0].(*CommentPart).Content)
	assert.Equal(t, "approve", restored[0].Parts[1].(*TriggeredPart).TriggerName)
	assert.Equal(t, "t-1", restored[0].Parts[2].(*TimeoutTriggerMarkerPart).TriggerID)
}
