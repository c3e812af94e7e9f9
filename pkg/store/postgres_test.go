package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdeck/agentgate/pkg/approvals"
)

func newMockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// Four tables plus two indexes from migrate().
	for i := 0; i < 6; i++ {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStore_InsertApproval(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approvals")).
		WithArgs("ap-1", "sess-1", "pending", sqlmock.AnyArg(), nil, "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.InsertApproval(ctx, &approvals.Approval{
		ID:        "ap-1",
		SessionID: "sess-1",
		Status:    approvals.StatusPending,
		CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetApprovalByID(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()

	cols := []string{"id", "session_id", "status", "created_at", "resolved_at", "resolved_by", "auto_reason", "feedback_text", "feedback_meta"}

	t.Run("found", func(t *testing.T) {
		resolved := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		rows := sqlmock.NewRows(cols).
			AddRow("ap-1", "sess-1", "auto_approved", resolved.Add(-time.Minute), resolved, "policy", "rule:tool", "", []byte(`{"k":"v"}`))

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, session_id, status, created_at, resolved_at, resolved_by, auto_reason, feedback_text, feedback_meta")).
			WithArgs("ap-1").
			WillReturnRows(rows)

		a, err := store.GetApprovalByID(ctx, "ap-1")
		require.NoError(t, err)
		assert.Equal(t, approvals.StatusAutoApproved, a.Status)
		assert.Equal(t, approvals.ResolvedByPolicy, a.ResolvedBy)
		assert.Equal(t, "rule:tool", a.AutoReason)
		require.NotNil(t, a.ResolvedAt)
		assert.Equal(t, resolved, a.ResolvedAt.UTC())
		assert.Equal(t, "v", a.FeedbackMeta["k"])
	})

	t.Run("missing wraps ErrNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, session_id, status")).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(cols))

		_, err := store.GetApprovalByID(ctx, "ghost")
		assert.True(t, errors.Is(err, approvals.ErrNotFound))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateApprovalStatus(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("updates one row", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE approvals SET status = $1, resolved_by = $2, auto_reason = $3, resolved_at = $4 WHERE id = $5")).
			WithArgs("applied", "user", "", sqlmock.AnyArg(), "ap-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateApprovalStatus(ctx, "ap-1", approvals.StatusApplied, approvals.ResolvedByUser, "", &now)
		assert.NoError(t, err)
	})

	t.Run("zero rows reports ErrNotFound", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE approvals SET status")).
			WithArgs("rejected", "user", "", sqlmock.AnyArg(), "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateApprovalStatus(ctx, "ghost", approvals.StatusRejected, approvals.ResolvedByUser, "", &now)
		assert.True(t, errors.Is(err, approvals.ErrNotFound))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Preferences(t *testing.T) {
	store, mock := newMockPostgres(t)
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM preferences WHERE session_id = $1 AND key = $2")).
			WithArgs("sess-1", "approvals.skipAll").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		_, ok, err := store.GetPreference(ctx, "sess-1", "approvals.skipAll")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hit", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM preferences")).
			WithArgs("sess-1", "approvals.skipAll").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("true"))

		raw, ok, err := store.GetPreference(ctx, "sess-1", "approvals.skipAll")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "true", string(raw))
	})

	t.Run("upsert", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO preferences")).
			WithArgs("sess-1", "approvals.autoRules", `[]`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.SetPreference(ctx, "sess-1", "approvals.autoRules", []byte(`[]`))
		assert.NoError(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
