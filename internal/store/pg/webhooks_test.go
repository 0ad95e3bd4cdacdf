package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cyberguard/soar-engine/internal/model"
)

func TestGetWebhook_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM webhooks WHERE id = \\$1").
		WithArgs("wh-missing").
		WillReturnRows(sqlmock.NewRows(nil))

	store := NewFromDB(db)
	wh, err := store.GetWebhook(context.Background(), "wh-missing")
	require.NoError(t, err)
	require.Nil(t, wh)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWebhook_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "playbook_id", "secret_hash", "secret_prefix", "enabled", "rate_limit_per_min",
		"burst_limit", "rotation_count", "secret_rotated_at", "lifetime_requests",
		"lifetime_accepted", "lifetime_rejected", "created_at", "updated_at",
	}).AddRow("wh-1", "pb-1", "hash", "abcd1234", true, 100, 20, 1, now, int64(10), int64(9), int64(1), now, now)

	mock.ExpectQuery("SELECT (.+) FROM webhooks WHERE id = \\$1").
		WithArgs("wh-1").
		WillReturnRows(rows)

	store := NewFromDB(db)
	wh, err := store.GetWebhook(context.Background(), "wh-1")
	require.NoError(t, err)
	require.NotNil(t, wh)
	require.Equal(t, "pb-1", wh.PlaybookID)
	require.True(t, wh.Enabled)
	require.Equal(t, 1, wh.RotationCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWebhook_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO webhooks").WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewFromDB(db)
	wh := &model.Webhook{
		ID: "wh-1", PlaybookID: "pb-1", SecretHash: "hash", SecretPrefix: "abcd1234",
		Enabled: true, RateLimitPerMinute: 100, BurstLimit: 20,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.SaveWebhook(context.Background(), wh))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementWebhookCounters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE webhooks SET").
		WithArgs("wh-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewFromDB(db)
	require.NoError(t, store.IncrementWebhookCounters(context.Background(), "wh-1", true))
	require.NoError(t, mock.ExpectationsWereMet())
}
