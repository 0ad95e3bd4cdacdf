package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
)

func TestSaveAuditEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewFromDB(db)
	ev := &model.AuditEvent{
		ID: "AUD-1", At: time.Now(), Actor: "operator:alice", Action: "approval.decide",
		Resource: "EXE-1", Outcome: model.OutcomeSuccess, Detail: map[string]any{"decision": "approved"},
	}
	require.NoError(t, store.SaveAuditEvent(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditEventsOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "at", "actor", "action", "resource", "outcome", "detail"}).
		AddRow("AUD-1", now.Add(-100*24*time.Hour), "system", "execution.complete", "EXE-1", "success", []byte(`{}`))

	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE at <= \\$1").
		WithArgs(now, 500).
		WillReturnRows(rows)

	store := NewFromDB(db)
	out, err := store.ListAuditEventsOlderThan(context.Background(), now, 500)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAuditEvents_Empty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewFromDB(db)
	require.NoError(t, store.DeleteAuditEvents(context.Background(), nil))
}
