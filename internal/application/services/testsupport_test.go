package services

import (
	"context"
	"sync"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/errors"
	"github.com/LoganSeven/publik-famille-demo-sub009/pkg/expression"
)

// memStore is an in-memory RecordStore for executor and scheduler
// tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.Record
}

func newMemStore(records ...*models.Record) *memStore {
	store := &memStore{records: make(map[string]*models.Record)}
	for _, record := range records {
		if record.Version == 0 {
			record.Version = 1
		}
		store.records[record.ID] = record
	}
	return store
}

func (s *memStore) Get(ctx context.Context, id string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return record, nil
}

func (s *memStore) Put(ctx context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Version == 0 {
		record.Version = 1
	} else {
		record.Version++
	}
	s.records[record.ID] = record
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ports.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *memStore) Select(ctx context.Context, workflowID string, criteria ports.Criteria) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []*models.Record
	for _, record := range s.records {
		if record.WorkflowID != workflowID {
			continue
		}
		if !matchesCriteria(record, criteria) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *memStore) Keys(ctx context.Context, workflowID string, criteria ports.Criteria) ([]string, error) {
	records, err := s.Select(ctx, workflowID, criteria)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	return ids, nil
}

func matchesCriteria(record *models.Record, criteria ports.Criteria) bool {
	if len(criteria.Statuses) > 0 {
		found := false
		for _, status := range criteria.Statuses {
			if record.Status == status {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	for _, status := range criteria.ExcludeStatuses {
		if record.Status == status {
			return false
		}
	}
	if criteria.NotDraft && record.Status == "" {
		return false
	}
	if criteria.NotAnonymised && record.Anonymised != nil {
		return false
	}
	if criteria.NotProcessing && record.ProcessingStartedAt != nil {
		return false
	}
	if criteria.UpdatedBefore != nil && record.LastUpdateTime.After(*criteria.UpdatedBefore) {
		return false
	}
	if criteria.ReceivedBefore != nil && record.ReceiptTime.After(*criteria.ReceivedBefore) {
		return false
	}
	if criteria.ProcessingSince != nil {
		if record.ProcessingStartedAt == nil || record.ProcessingStartedAt.After(*criteria.ProcessingSince) {
			return false
		}
	}
	return true
}

// staticWorkflows serves definitions from a map.
type staticWorkflows struct {
	workflows map[string]*models.Workflow
}

func newStaticWorkflows(workflows ...*models.Workflow) *staticWorkflows {
	provider := &staticWorkflows{workflows: make(map[string]*models.Workflow)}
	for _, workflow := range workflows {
		provider.workflows[workflow.ID] = workflow
	}
	return provider
}

func (p *staticWorkflows) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, ok := p.workflows[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return workflow, nil
}

func (p *staticWorkflows) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	var workflows []*models.Workflow
	for _, workflow := range p.workflows {
		workflows = append(workflows, workflow)
	}
	return workflows, nil
}

// traceLog collects trace events in memory.
type traceLog struct {
	mu     sync.Mutex
	traces []*models.WorkflowTrace
}

func (l *traceLog) Append(ctx context.Context, trace *models.WorkflowTrace) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traces = append(l.traces, trace)
	return nil
}

func (l *traceLog) events(name string) []*models.WorkflowTrace {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []*models.WorkflowTrace
	for _, trace := range l.traces {
		if trace.Event == name {
			matched = append(matched, trace)
		}
	}
	return matched
}

// staticRoles resolves every function to a fixed member list.
type staticRoles struct {
	members map[string][]string
}

func (r *staticRoles) ResolveFunction(ctx context.Context, workflow *models.Workflow, function string) ([]string, error) {
	if r.members == nil {
		return nil, nil
	}
	return r.members[function], nil
}

// sentMessage records one delivery through the message sender fake.
type sentMessage struct {
	Recipients []string
	Subject    string
	Body       string
}

type messageLog struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (l *messageLog) Send(ctx context.Context, recipients []string, subject, body string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, sentMessage{Recipients: recipients, Subject: subject, Body: body})
	return nil
}

type testEnv struct {
	store    *memStore
	traces   *traceLog
	messages *messageLog
	roles    *staticRoles
	service  *WorkflowService
}

func newTestEnv(workflows *staticWorkflows, records ...*models.Record) *testEnv {
	env := &testEnv{
		store:    newMemStore(records...),
		traces:   &traceLog{},
		messages: &messageLog{},
		roles:    &staticRoles{},
	}
	env.service = NewWorkflowService(
		env.store,
		workflows,
		expression.NewEngine(),
		env.roles,
		env.messages,
		NewTraceRecorder(env.traces),
		errors.NewRecorder(),
	)
	return env
}
