package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
)

func TestGetPlaybook_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	steps := []byte(`[{"step_id":"s1","name":"Enrich","type":"enrichment"}]`)
	rows := sqlmock.NewRows([]string{"id", "name", "version", "enabled", "shadow_mode", "steps", "created_at", "updated_at"}).
		AddRow("pb-1", "respond", "1.0.0", true, false, steps, now, now)

	mock.ExpectQuery("SELECT (.+) FROM playbooks WHERE id = \\$1").
		WithArgs("pb-1").
		WillReturnRows(rows)

	store := NewFromDB(db)
	pb, err := store.GetPlaybook(context.Background(), "pb-1")
	require.NoError(t, err)
	require.NotNil(t, pb)
	require.Len(t, pb.Steps, 1)
	require.Equal(t, model.StepEnrichment, pb.Steps[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePlaybook_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO playbooks").WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewFromDB(db)
	now := time.Now()
	pb := &model.Playbook{
		ID: "pb-1", Name: "respond", Version: "1.0.0", Enabled: true,
		Steps:     []model.Step{{StepID: "s1", Name: "Enrich", Type: model.StepEnrichment}},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.SavePlaybook(context.Background(), pb))
	require.NoError(t, mock.ExpectationsWereMet())
}
