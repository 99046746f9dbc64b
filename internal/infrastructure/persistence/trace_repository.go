package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
)

// TraceRepository appends workflow trace events to the wf_trace table.
type TraceRepository struct {
	db *sql.DB
}

func NewTraceRepository(db *sql.DB) *TraceRepository {
	return &TraceRepository{db: db}
}

// EnsureSchema creates the trace table when missing.
func (r *TraceRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS wf_trace (
		id VARCHAR(64) PRIMARY KEY,
		workflow_id VARCHAR(64) NOT NULL,
		record_id VARCHAR(64) NOT NULL,
		status_id VARCHAR(128) NOT NULL DEFAULT '',
		action_item_id VARCHAR(64) NOT NULL DEFAULT '',
		event VARCHAR(64) NOT NULL,
		event_args JSON,
		timestamp DATETIME(6) NOT NULL,
		INDEX idx_wf_trace_record (record_id, timestamp)
	)`)
	return err
}

// Append stores one trace event. The log is append-only.
func (r *TraceRepository) Append(ctx context.Context, trace *models.WorkflowTrace) error {
	args, err := json.Marshal(trace.EventArgs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO wf_trace
		(id, workflow_id, record_id, status_id, action_item_id, event, event_args, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID, trace.WorkflowID, trace.RecordID, trace.StatusID,
		trace.ActionItemID, trace.Event, args, trace.Timestamp)
	return err
}

// ListByRecord returns a record's trace events in chronological order.
func (r *TraceRepository) ListByRecord(ctx context.Context, recordID string) ([]*models.WorkflowTrace, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT
		id, workflow_id, record_id, status_id, action_item_id, event, event_args, timestamp
		FROM wf_trace WHERE record_id = ? ORDER BY timestamp, id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var traces []*models.WorkflowTrace
	for rows.Next() {
		trace := &models.WorkflowTrace{}
		var args sql.NullString
		var timestamp time.Time
		if err := rows.Scan(&trace.ID, &trace.WorkflowID, &trace.RecordID,
			&trace.StatusID, &trace.ActionItemID, &trace.Event, &args, &timestamp); err != nil {
			return nil, err
		}
		trace.Timestamp = timestamp
		if args.Valid && args.String != "" && args.String != "null" {
			if err := json.Unmarshal([]byte(args.String), &trace.EventArgs); err != nil {
				return nil, fmt.Errorf("trace %s: invalid event_args: %w", trace.ID, err)
			}
		}
		traces = append(traces, trace)
	}
	return traces, rows.Err()
}
