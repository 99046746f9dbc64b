package constants

import (
	"os"
	"strconv"
	"time"
)

// Jump execution modes
const (
	JumpModeImmediate = "immediate"
	JumpModeTrigger   = "trigger"
	JumpModeTimeout   = "timeout"
)

// Special jump targets
const (
	TargetPreviousStatus = "_previous"
)

// Actor sentinel for the original submitter of a record
const ActorSubmitter = "_submitter"

// Global action trigger kinds
const (
	TriggerKindManual     = "manual"
	TriggerKindTimeout    = "timeout"
	TriggerKindWebservice = "webservice"
)

// Timeout trigger anchors
const (
	AnchorCreation      = "creation"
	AnchorFirstArrival  = "1st-arrival"
	AnchorLatestArrival = "latest-arrival"
	AnchorFinalized     = "finalized"
	AnchorAnonymisation = "anonymisation"
	AnchorTemplate      = "template"
)

// Workflow trace event names
const (
	EventAbortedTooManyJumps = "aborted-too-many-jumps"
	EventAPITrigger          = "api-trigger"
	EventButton              = "button"
	EventContinuation        = "continuation"
	EventGlobalAction        = "global-action"
	EventGlobalActionTimeout = "global-action-timeout"
	EventGlobalAPITrigger    = "global-api-trigger"
	EventGlobalExternal      = "global-external-workflow"
	EventMassJump            = "mass-jump"
	EventTimeoutJump         = "timeout-jump"
	EventUnstall             = "unstall"
	EventWorkflowCreated     = "workflow-created"
)

// Workflow data key holding the LIFO stack of marked statuses used by
// jumps targeting TargetPreviousStatus.
const MarkersStackKey = "_markers_stack"

// DefaultMaxJumps is the ceiling on chained automatic jumps within a
// single workflow invocation before processing is aborted.
const DefaultMaxJumps = 20

// DefaultTimeoutChecksPerHour drives the timeout scheduler cadence:
// the hour is divided in this many passes.
const DefaultTimeoutChecksPerHour = 3

// DefaultSchedulerBudget is the wall-clock budget granted to a single
// workflow within one scheduler pass.
const DefaultSchedulerBudget = 5 * time.Minute

// DefaultStalledProcessingAge is how old a processing marker must be
// before the record is considered stalled and recovered.
const DefaultStalledProcessingAge = 6 * time.Hour

// MaxJumps returns the jump ceiling, overridable through WF_MAX_JUMPS.
func MaxJumps() int {
	if v, err := strconv.Atoi(os.Getenv("WF_MAX_JUMPS")); err == nil && v > 0 {
		return v
	}
	return DefaultMaxJumps
}

// JumpTimeoutInterval returns the scheduler cadence, derived from the
// WF_JUMP_TIMEOUT_CHECKS hourly check count. Minimum one minute.
func JumpTimeoutInterval() time.Duration {
	checks := DefaultTimeoutChecksPerHour
	if v, err := strconv.Atoi(os.Getenv("WF_JUMP_TIMEOUT_CHECKS")); err == nil && v > 0 {
		checks = v
	}
	minutes := 60 / checks
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}
