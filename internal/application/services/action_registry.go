package services

import (
	"fmt"
	"sync"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
)

// ActionHandler executes one kind of workflow action against a record.
// Perform may return a redirect URL for the caller, an AbortActionError
// to stop the current run, or a recoverable error.
type ActionHandler interface {
	Kind() string
	Perform(item models.Action, ec *ActionContext) (string, error)
}

// ActionRegistry maps action kinds to their handlers.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]ActionHandler)}
}

func (r *ActionRegistry) Register(handler ActionHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := handler.Kind()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("action handler already registered for kind %q", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// Get returns the handler for a kind, or nil.
func (r *ActionRegistry) Get(kind string) ActionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

func (r *ActionRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// newDefaultRegistry wires the built-in action handlers.
func newDefaultRegistry(s *WorkflowService) *ActionRegistry {
	registry := NewActionRegistry()
	for _, handler := range []ActionHandler{
		&jumpHandler{service: s},
		&criticalityHandler{service: s},
		&removeHandler{service: s},
		&commentHandler{service: s},
		&sendMessageHandler{service: s},
		&externalWorkflowHandler{service: s},
	} {
		if err := registry.Register(handler); err != nil {
			panic(err)
		}
	}
	return registry
}
