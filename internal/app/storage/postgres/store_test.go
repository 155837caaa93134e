package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/domain/execution"
	"github.com/flowforge/platform/internal/app/domain/flow"
	"github.com/flowforge/platform/internal/app/storage"
)

func newStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return New(db), mock, func() { db.Close() }
}

func TestCreateVersionComputesNextVersion(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO flow_versions")).
		WithArgs(sqlmock.AnyArg(), "flow-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	ver, err := store.CreateVersion(context.Background(), flow.Version{
		FlowID: "flow-1",
		Graph: flow.Graph{
			Nodes: []flow.Node{{ID: "start", Type: flow.NodeStart}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ver.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVersionMapsUniqueViolationToConflict(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO flow_versions")).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := store.CreateVersion(context.Background(), flow.Version{FlowID: "flow-1"})
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestGetUserMapsNoRowsToNotFound(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectQuery("FROM users").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteExecutionOrdersLogsStepsRow(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM execution_logs")).
		WithArgs("exec-1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM execution_steps")).
		WithArgs("exec-1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM flow_executions")).
		WithArgs("exec-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteExecution(context.Background(), "exec-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExecutionMissingRowRollsBack(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM execution_logs")).
		WithArgs("exec-404").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM execution_steps")).
		WithArgs("exec-404").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM flow_executions")).
		WithArgs("exec-404").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.DeleteExecution(context.Background(), "exec-404")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRateSamples(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM api_rate_samples")).
		WithArgs("u1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := store.CountRateSamples(context.Background(), "u1", since)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestScanExecutionRoundTripsNullables(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	started := time.Now().UTC()
	completed := started.Add(2 * time.Second)
	rows := sqlmock.NewRows([]string{
		"id", "flow_id", "flow_version", "status", "trigger_type",
		"trigger_data", "started_at", "completed_at", "error_message", "execution_time_ms",
	}).AddRow("e1", "f1", 2, "completed", "deploy",
		[]byte(`{"reason":"deploy"}`), started, completed, nil, int64(2000))

	mock.ExpectQuery("FROM flow_executions").
		WithArgs("e1").WillReturnRows(rows)

	exec, err := store.GetExecution(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, exec.Status)
	assert.Equal(t, "deploy", exec.TriggerData["reason"])
	require.NotNil(t, exec.CompletedAt)
	require.NotNil(t, exec.DurationMS)
	assert.EqualValues(t, 2000, *exec.DurationMS)
	assert.Empty(t, exec.ErrorMessage)
}

func TestAppendAuditToleratesMinimalEntry(t *testing.T) {
	store, mock, done := newStore(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendAudit(context.Background(), account.AuditEntry{Action: "POST /flows"})
	assert.NoError(t, err)
}
