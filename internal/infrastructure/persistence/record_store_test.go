package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/models"
	"github.com/LoganSeven/publik-famille-demo-sub009/internal/domain/ports"
)

var recordTestColumns = []string{
	"id", "workflow_id", "status", "criticality_level", "submitter_id",
	"receipt_time", "last_update_time", "anonymised", "processing_started_at",
	"processing_job_id", "version", "data", "workflow_data", "evolution",
}

func TestRecordGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRecordRepository(db)
	received := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows(recordTestColumns).AddRow(
			"rec-1", "default", "new", 0, "user-7",
			received, received, nil, nil,
			"", int64(3),
			`{"amount": 250}`, `{"checked": true}`,
			`[{"time": "2026-03-01T10:00:00Z", "status": "new"}]`,
		))

	record, err := repo.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "default", record.WorkflowID)
	assert.Equal(t, "new", record.Status)
	assert.Equal(t, int64(3), record.Version)
	assert.Equal(t, float64(250), record.Data["amount"])
	assert.Equal(t, true, record.WorkflowData["checked"])
	require.Len(t, record.Evolution, 1)
	assert.Equal(t, "new", record.Evolution[0].Status)
	assert.Nil(t, record.Anonymised)
	assert.Nil(t, record.ProcessingStartedAt)
}

func TestRecordGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRecordRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(recordTestColumns))

	_, err = repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRecordPutInsertsNewRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRecordRepository(db)
	record := models.NewRecord("default")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wf_record")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Put(context.Background(), record))
	assert.Equal(t, int64(1), record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPutBumpsVersionOnUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRecordRepository(db)
	record := models.NewRecord("default")
	record.Version = 3

	mock.ExpectExec(regexp.QuoteMeta("UPDATE wf_record SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Put(context.Background(), record))
	assert.Equal(t, int64(4), record.Version)
}

func TestRecordPutReportsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRecordRepository(db)
	record := models.NewRecord("default")
	record.Version = 3

	// A concurrent writer already moved the row past version 3.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wf_record SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Put(context.Background(), record)
	assert.ErrorIs(t, err, ports.ErrConflict)
	assert.Equal(t, int64(3), record.Version)
}

func TestRecordDeleteNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRecordRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM wf_record WHERE id = ?")).
		WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), "ghost"), ports.ErrNotFound)
}

func TestKeysAppliesCriteria(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewRecordRepository(db)
	cutoff := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	query := "SELECT id FROM wf_record WHERE workflow_id = ? AND status IN (?, ?) " +
		"AND anonymised IS NULL AND processing_started_at IS NULL AND last_update_time <= ? ORDER BY id"
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs("default", "new", "open", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1").AddRow("rec-2"))

	ids, err := repo.Keys(context.Background(), "default", ports.Criteria{
		Statuses:      []string{"new", "open"},
		NotAnonymised: true,
		NotProcessing: true,
		UpdatedBefore: &cutoff,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1", "rec-2"}, ids)
}

func TestBuildCriteria(t *testing.T) {
	since := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	where, params := buildCriteria("default", ports.Criteria{
		ExcludeStatuses: []string{"finished"},
		NotDraft:        true,
		ProcessingSince: &since,
	})
	assert.Equal(t, "workflow_id = ? AND status NOT IN (?) AND status != '' "+
		"AND processing_started_at IS NOT NULL AND processing_started_at <= ?", where)
	assert.Equal(t, []interface{}{"default", "finished", since}, params)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
