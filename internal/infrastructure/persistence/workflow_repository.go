package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
)

// WorkflowRepository stores workflow definitions as JSON documents and
// serves them through a read cache. Definitions change rarely; the
// cache is invalidated on save.
type WorkflowRepository struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]*models.Workflow
}

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{
		db:    db,
		cache: make(map[string]*models.Workflow),
	}
}

// EnsureSchema creates the definition table when missing.
func (r *WorkflowRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS wf_workflow (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		definition JSON NOT NULL
	)`)
	return err
}

// GetWorkflow returns one definition, from cache when possible.
func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	if workflow, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return workflow, nil
	}
	r.mu.RUnlock()

	var definition []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT definition FROM wf_workflow WHERE id = ?", id).Scan(&definition)
	if err == sql.ErrNoRows {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	workflow := &models.Workflow{}
	if err := json.Unmarshal(definition, workflow); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = workflow
	r.mu.Unlock()
	return workflow, nil
}

// ListWorkflows returns every stored definition.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT definition FROM wf_workflow ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		workflow := &models.Workflow{}
		if err := json.Unmarshal(definition, workflow); err != nil {
			return nil, err
		}
		workflows = append(workflows, workflow)
	}
	return workflows, rows.Err()
}

// SaveWorkflow upserts a definition and refreshes the cache.
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	definition, err := json.Marshal(workflow)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO wf_workflow (id, name, definition)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), definition = VALUES(definition)`,
		workflow.ID, workflow.Name, definition)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[workflow.ID] = workflow
	r.mu.Unlock()
	return nil
}
