package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
)

// RecordRepository persists workflow records in the wf_record table.
// Data, scratch data and history are JSON columns; writes use a version
// column for optimistic locking.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `id, workflow_id, status, criticality_level, submitter_id,
	receipt_time, last_update_time, anonymised, processing_started_at,
	processing_job_id, version, data, workflow_data, evolution`

// EnsureSchema creates the record table when missing.
func (r *RecordRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS wf_record (
		id VARCHAR(64) PRIMARY KEY,
		workflow_id VARCHAR(64) NOT NULL,
		status VARCHAR(128) NOT NULL DEFAULT '',
		criticality_level INT NOT NULL DEFAULT 0,
		submitter_id VARCHAR(64) NOT NULL DEFAULT '',
		receipt_time DATETIME(6) NULL,
		last_update_time DATETIME(6) NULL,
		anonymised DATETIME(6) NULL,
		processing_started_at DATETIME(6) NULL,
		processing_job_id VARCHAR(64) NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 1,
		data JSON,
		workflow_data JSON,
		evolution JSON,
		INDEX idx_wf_record_workflow_status (workflow_id, status),
		INDEX idx_wf_record_updated (workflow_id, last_update_time)
	)`)
	return err
}

// Get loads one record by id.
func (r *RecordRepository) Get(ctx context.Context, id string) (*models.Record, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM wf_record WHERE id = ?", recordColumns), id)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ports.ErrNotFound
	}
	return record, err
}

// Put writes a record. New records insert at version 1; updates match
// on the loaded version and report ports.ErrConflict when a concurrent
// writer got there first. The record's version is bumped on success.
func (r *RecordRepository) Put(ctx context.Context, record *models.Record) error {
	data, workflowData, evolution, err := encodeRecordJSON(record)
	if err != nil {
		return err
	}

	if record.Version == 0 {
		_, err := r.db.ExecContext(ctx, `INSERT INTO wf_record
			(id, workflow_id, status, criticality_level, submitter_id,
			 receipt_time, last_update_time, anonymised, processing_started_at,
			 processing_job_id, version, data, workflow_data, evolution)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			record.ID, record.WorkflowID, record.Status, record.CriticalityLevel,
			record.SubmitterID, record.ReceiptTime, record.LastUpdateTime,
			record.Anonymised, record.ProcessingStartedAt, record.ProcessingJobID,
			data, workflowData, evolution)
		if err != nil {
			return err
		}
		record.Version = 1
		return nil
	}

	result, err := r.db.ExecContext(ctx, `UPDATE wf_record SET
		workflow_id = ?, status = ?, criticality_level = ?, submitter_id = ?,
		receipt_time = ?, last_update_time = ?, anonymised = ?,
		processing_started_at = ?, processing_job_id = ?,
		version = version + 1, data = ?, workflow_data = ?, evolution = ?
		WHERE id = ? AND version = ?`,
		record.WorkflowID, record.Status, record.CriticalityLevel,
		record.SubmitterID, record.ReceiptTime, record.LastUpdateTime,
		record.Anonymised, record.ProcessingStartedAt, record.ProcessingJobID,
		data, workflowData, evolution,
		record.ID, record.Version)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrConflict
	}
	record.Version++
	return nil
}

func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM wf_record WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// Select returns the workflow's records matching the criteria.
func (r *RecordRepository) Select(ctx context.Context, workflowID string, criteria ports.Criteria) ([]*models.Record, error) {
	where, params := buildCriteria(workflowID, criteria)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM wf_record WHERE %s ORDER BY id", recordColumns, where),
		params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Keys returns matching record ids only.
func (r *RecordRepository) Keys(ctx context.Context, workflowID string, criteria ports.Criteria) ([]string, error) {
	where, params := buildCriteria(workflowID, criteria)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM wf_record WHERE %s ORDER BY id", where),
		params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// buildCriteria translates selection criteria into a WHERE clause.
func buildCriteria(workflowID string, criteria ports.Criteria) (string, []interface{}) {
	clauses := []string{"workflow_id = ?"}
	params := []interface{}{workflowID}

	if len(criteria.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(criteria.Statuses))+")")
		for _, status := range criteria.Statuses {
			params = append(params, status)
		}
	}
	if len(criteria.ExcludeStatuses) > 0 {
		clauses = append(clauses, "status NOT IN ("+placeholders(len(criteria.ExcludeStatuses))+")")
		for _, status := range criteria.ExcludeStatuses {
			params = append(params, status)
		}
	}
	if criteria.NotDraft {
		clauses = append(clauses, "status != ''")
	}
	if criteria.NotAnonymised {
		clauses = append(clauses, "anonymised IS NULL")
	}
	if criteria.NotProcessing {
		clauses = append(clauses, "processing_started_at IS NULL")
	}
	if criteria.UpdatedBefore != nil {
		clauses = append(clauses, "last_update_time <= ?")
		params = append(params, *criteria.UpdatedBefore)
	}
	if criteria.ReceivedBefore != nil {
		clauses = append(clauses, "receipt_time <= ?")
		params = append(params, *criteria.ReceivedBefore)
	}
	if criteria.ProcessingSince != nil {
		clauses = append(clauses, "processing_started_at IS NOT NULL AND processing_started_at <= ?")
		params = append(params, *criteria.ProcessingSince)
	}
	return strings.Join(clauses, " AND "), params
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	record := &models.Record{}
	var (
		receiptTime  sql.NullTime
		updateTime   sql.NullTime
		anonymised   sql.NullTime
		processing   sql.NullTime
		data         sql.NullString
		workflowData sql.NullString
		evolution    sql.NullString
	)
	err := row.Scan(&record.ID, &record.WorkflowID, &record.Status,
		&record.CriticalityLevel, &record.SubmitterID,
		&receiptTime, &updateTime, &anonymised, &processing,
		&record.ProcessingJobID, &record.Version,
		&data, &workflowData, &evolution)
	if err != nil {
		return nil, err
	}
	if receiptTime.Valid {
		record.ReceiptTime = receiptTime.Time
	}
	if updateTime.Valid {
		record.LastUpdateTime = updateTime.Time
	}
	if anonymised.Valid {
		t := anonymised.Time
		record.Anonymised = &t
	}
	if processing.Valid {
		t := processing.Time
		record.ProcessingStartedAt = &t
	}
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &record.Data); err != nil {
			return nil, fmt.Errorf("record %s: invalid data column: %w", record.ID, err)
		}
	}
	if workflowData.Valid && workflowData.String != "" {
		if err := json.Unmarshal([]byte(workflowData.String), &record.WorkflowData); err != nil {
			return nil, fmt.Errorf("record %s: invalid workflow_data column: %w", record.ID, err)
		}
	}
	if evolution.Valid && evolution.String != "" {
		if err := json.Unmarshal([]byte(evolution.String), &record.Evolution); err != nil {
			return nil, fmt.Errorf("record %s: invalid evolution column: %w", record.ID, err)
		}
	}
	return record, nil
}

func encodeRecordJSON(record *models.Record) (data, workflowData, evolution []byte, err error) {
	if data, err = json.Marshal(record.Data); err != nil {
		return nil, nil, nil, err
	}
	if workflowData, err = json.Marshal(record.WorkflowData); err != nil {
		return nil, nil, nil, err
	}
	if evolution, err = json.Marshal(record.Evolution); err != nil {
		return nil, nil, nil, err
	}
	return data, workflowData, evolution, nil
}
