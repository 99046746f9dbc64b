package ports

import (
	"context"
	"fmt"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
)

// TemplateError distinguishes rendering failures from other errors and
// carries the offending expression for error reports.
type TemplateError struct {
	Expression string
	Err        error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error in %q: %v", e.Expression, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// TemplateEvaluator renders templates and evaluates conditions against
// a variable context.
type TemplateEvaluator interface {
	// Render resolves a string that may embed {{ ... }} expressions.
	// Plain strings come back unchanged.
	Render(template string, vars map[string]interface{}) (string, error)

	// EvalBool evaluates a boolean condition expression. An empty
	// condition is true.
	EvalBool(condition string, vars map[string]interface{}) (bool, error)

	// IsAlwaysFalse reports whether a condition can be proven false
	// without evaluation, letting callers skip per-record work. A false
	// return proves nothing.
	IsAlwaysFalse(condition string) bool
}

// WorkflowProvider resolves workflow definitions.
type WorkflowProvider interface {
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
}

// RoleResolver expands a role-function name into concrete actor ids.
type RoleResolver interface {
	ResolveFunction(ctx context.Context, workflow *models.Workflow, functionName string) ([]string, error)
}

// TraceSink persists workflow trace rows.
type TraceSink interface {
	Append(ctx context.Context, trace *models.WorkflowTrace) error
}

// MessageSender delivers a message to resolved recipients. Delivery
// mechanics (email/SMS bodies, retries) live behind this port.
type MessageSender interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}
