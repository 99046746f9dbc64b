// Package services contains the workflow execution engine.
//
// WorkflowService drives records through their workflow definition:
// dispatching status action lists, applying jumps (immediate, trigger
// and timeout modes), running global actions from manual, timeout and
// webservice triggers, and appending history and audit traces along
// the way. SchedulerService is the periodic companion that fires due
// timeout jumps and global-action timeouts and recovers records left
// with stale processing markers.
//
// Services depend on the interfaces in internal/domain/ports and are
// wired together in cmd/server.
package services
