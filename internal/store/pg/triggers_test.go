package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
)

func TestListTriggersForWebhook(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	predicates := []byte(`[{"field":"severity","operator":"equals","value":"high"}]`)
	rows := sqlmock.NewRows([]string{"id", "webhook_id", "playbook_id", "version", "predicates", "match_mode", "enabled", "created_at", "updated_at"}).
		AddRow("trg-1", "wh-1", "pb-1", 2, predicates, "ALL", true, now, now)

	mock.ExpectQuery("SELECT DISTINCT ON \\(id\\) (.+) FROM triggers").
		WithArgs("wh-1").
		WillReturnRows(rows)

	store := NewFromDB(db)
	out, err := store.ListTriggersForWebhook(context.Background(), "wh-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, model.MatchAll, out[0].Match)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTrigger_NewVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO triggers").WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewFromDB(db)
	now := time.Now()
	tr := &model.Trigger{
		ID: "trg-1", WebhookID: "wh-1", PlaybookID: "pb-1", Version: 3,
		Predicates: []model.Predicate{{Field: "severity", Operator: model.OpEquals, Value: "high"}},
		Match:      model.MatchAll, Enabled: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.SaveTrigger(context.Background(), tr))
	require.NoError(t, mock.ExpectationsWereMet())
}
