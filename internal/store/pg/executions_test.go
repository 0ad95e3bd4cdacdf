package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
)

func sampleExecution() *model.Execution {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Execution{
		ID: "EXE-20260301-abcdef", PlaybookID: "pb-1", PlaybookName: "respond",
		PlaybookVersion: "1.0.0", State: model.ExecExecuting,
		TriggerData:       map[string]any{"severity": "high"},
		EventTime:         now,
		EventTimeSource:   "payload.event_time",
		Fingerprint:       "fp-1",
		WebhookReceivedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestSaveExecution_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO executions").WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewFromDB(db)
	require.NoError(t, store.SaveExecution(context.Background(), sampleExecution()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExecution_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM executions WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	store := NewFromDB(db)
	e, err := store.GetExecution(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, e)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimExecutions_NoneClaimable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM executions").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	store := NewFromDB(db)
	out, err := store.ClaimExecutions(context.Background(), "owner-1", 5, time.Now())
	require.NoError(t, err)
	require.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeat_NotOwned(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE executions SET heartbeat_at").
		WithArgs(sqlmock.AnyArg(), "EXE-1", "owner-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewFromDB(db)
	err = store.Heartbeat(context.Background(), "EXE-1", "owner-1", time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverOrphans(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE executions SET owner_token = NULL").
		WillReturnResult(sqlmock.NewResult(0, 2))

	store := NewFromDB(db)
	n, err := store.RecoverOrphans(context.Background(), time.Now(), 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
