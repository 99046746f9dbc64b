package ports

import (
	"context"
	"errors"
	"time"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
)

// ErrConflict is returned by RecordStore.Put when the record changed
// underneath the caller. It must be surfaced for retry, never dropped.
var ErrConflict = errors.New("record store: concurrent modification")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record store: not found")

// Criteria narrows record enumeration. Zero values mean "no filter".
type Criteria struct {
	Statuses        []string
	ExcludeStatuses []string
	NotDraft        bool
	NotAnonymised   bool
	NotProcessing   bool
	UpdatedBefore   *time.Time
	ReceivedBefore  *time.Time
	ProcessingSince *time.Time // processing marker older than this
}

// RecordStore persists records. Put is an atomic read-modify-write per
// record: concurrent writers are serialized here, not by the engine.
type RecordStore interface {
	Get(ctx context.Context, id string) (*models.Record, error)
	Put(ctx context.Context, record *models.Record) error
	Delete(ctx context.Context, id string) error
	Select(ctx context.Context, workflowID string, criteria Criteria) ([]*models.Record, error)
	Keys(ctx context.Context, workflowID string, criteria Criteria) ([]string, error)
}
