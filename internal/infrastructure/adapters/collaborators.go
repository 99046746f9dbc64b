package adapters

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
)

// RoleDirectory resolves workflow role functions to actor ids through
// an in-memory membership table. The workflow maps its function names
// to role ids; the directory maps role ids to members. A role with no
// registered members resolves to itself, so a bare role id can be used
// directly as a recipient or caller id.
type RoleDirectory struct {
	mu      sync.RWMutex
	members map[string][]string
}

func NewRoleDirectory() *RoleDirectory {
	return &RoleDirectory{members: make(map[string][]string)}
}

// SetMembers replaces a role's membership.
func (d *RoleDirectory) SetMembers(roleID string, memberIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[roleID] = memberIDs
}

func (d *RoleDirectory) ResolveFunction(ctx context.Context, workflow *models.Workflow, function string) ([]string, error) {
	roleID := workflow.ResolveFunction(function)
	if roleID == "" {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if members, ok := d.members[roleID]; ok {
		return members, nil
	}
	return []string{roleID}, nil
}

// LogMessageSender records outgoing messages in the log. Actual
// delivery belongs to an external notification service.
type LogMessageSender struct{}

func (LogMessageSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	log.Printf("📧 message to [%s]: %s", strings.Join(recipients, ", "), subject)
	return nil
}
