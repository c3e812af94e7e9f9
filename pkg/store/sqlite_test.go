package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/preview"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePreview(t *testing.T, session string) *preview.Envelope {
	t.Helper()
	env, err := preview.NewEnvelope(session, preview.ToolFile, "write", "Write /tmp/a.txt",
		map[string]interface{}{"path": "/tmp/a.txt", "content": "hello"},
		map[string]interface{}{"path": "/tmp/a.txt", "state": "ready"})
	require.NoError(t, err)
	env.ToolExecutionID = "exec-" + env.ID[:8]
	return env
}

func TestSQLiteStore_PreviewRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	env := samplePreview(t, "sess-1")
	require.NoError(t, s.InsertPreview(ctx, env))

	got, err := s.GetPreviewByID(ctx, env.ID)
	require.NoError(t, err)

	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.SessionID, got.SessionID)
	assert.Equal(t, env.ToolExecutionID, got.ToolExecutionID)
	assert.Equal(t, env.Tool, got.Tool)
	assert.Equal(t, env.Action, got.Action)
	assert.Equal(t, env.Summary, got.Summary)
	assert.Equal(t, env.Hash, got.Hash)
	assert.Equal(t, "hello", got.OriginalArgs["content"])
	assert.Equal(t, "ready", got.Detail["state"])
	assert.WithinDuration(t, env.CreatedAt, got.CreatedAt, time.Millisecond)

	t.Run("missing preview wraps ErrNotFound", func(t *testing.T) {
		_, err := s.GetPreviewByID(ctx, "nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, approvals.ErrNotFound))
	})

	t.Run("re-insert is a no-op", func(t *testing.T) {
		dup := env.Clone()
		dup.Summary = "mutated copy"
		require.NoError(t, s.InsertPreview(ctx, dup))

		got, err := s.GetPreviewByID(ctx, env.ID)
		require.NoError(t, err)
		assert.Equal(t, env.Summary, got.Summary, "first write wins")
	})
}

func TestSQLiteStore_ApprovalLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := &approvals.Approval{
		ID:        "ap-1",
		SessionID: "sess-1",
		Status:    approvals.StatusPending,
		CreatedAt: created,
	}
	require.NoError(t, s.InsertApproval(ctx, a))

	got, err := s.GetApprovalByID(ctx, "ap-1")
	require.NoError(t, err)
	assert.Equal(t, approvals.StatusPending, got.Status)
	assert.Nil(t, got.ResolvedAt)
	assert.Empty(t, got.ResolvedBy)

	t.Run("status update stamps resolution", func(t *testing.T) {
		resolved := created.Add(time.Minute)
		require.NoError(t, s.UpdateApprovalStatus(ctx, "ap-1", approvals.StatusAutoApproved, approvals.ResolvedByPolicy, "rule:tool", &resolved))

		got, err := s.GetApprovalByID(ctx, "ap-1")
		require.NoError(t, err)
		assert.Equal(t, approvals.StatusAutoApproved, got.Status)
		assert.Equal(t, approvals.ResolvedByPolicy, got.ResolvedBy)
		assert.Equal(t, "rule:tool", got.AutoReason)
		require.NotNil(t, got.ResolvedAt)
		assert.WithinDuration(t, resolved, *got.ResolvedAt, time.Millisecond)
	})

	t.Run("feedback update keeps status", func(t *testing.T) {
		meta := map[string]interface{}{"choice": "too risky", "score": 2.0}
		require.NoError(t, s.UpdateApprovalFeedback(ctx, "ap-1", "use a dry run first", meta))

		got, err := s.GetApprovalByID(ctx, "ap-1")
		require.NoError(t, err)
		assert.Equal(t, approvals.StatusAutoApproved, got.Status)
		assert.Equal(t, "use a dry run first", got.FeedbackText)
		assert.Equal(t, "too risky", got.FeedbackMeta["choice"])
	})

	t.Run("updates of missing rows report ErrNotFound", func(t *testing.T) {
		now := time.Now()
		err := s.UpdateApprovalStatus(ctx, "ghost", approvals.StatusRejected, approvals.ResolvedByUser, "", &now)
		assert.True(t, errors.Is(err, approvals.ErrNotFound))

		err = s.UpdateApprovalFeedback(ctx, "ghost", "x", nil)
		assert.True(t, errors.Is(err, approvals.ErrNotFound))
	})

	t.Run("re-insert is a no-op", func(t *testing.T) {
		dup := &approvals.Approval{ID: "ap-1", SessionID: "sess-1", Status: approvals.StatusPending, CreatedAt: created}
		require.NoError(t, s.InsertApproval(ctx, dup))

		got, err := s.GetApprovalByID(ctx, "ap-1")
		require.NoError(t, err)
		assert.Equal(t, approvals.StatusAutoApproved, got.Status, "existing row untouched")
	})
}

func TestSQLiteStore_ListApprovalsForExport(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	// Two pairs in sess-1 inserted out of order, one in sess-2, and one
	// approval without a preview.
	for i, spec := range []struct {
		id      string
		session string
		offset  time.Duration
		preview bool
	}{
		{"b-second", "sess-1", time.Minute, true},
		{"a-first", "sess-1", 0, true},
		{"c-other", "sess-2", 2 * time.Minute, true},
		{"d-orphan", "sess-1", 3 * time.Minute, false},
	} {
		if spec.preview {
			env := samplePreview(t, spec.session)
			env.ID = spec.id
			require.NoError(t, s.InsertPreview(ctx, env), "case %d", i)
		}
		require.NoError(t, s.InsertApproval(ctx, &approvals.Approval{
			ID:        spec.id,
			SessionID: spec.session,
			Status:    approvals.StatusPending,
			CreatedAt: base.Add(spec.offset),
		}), "case %d", i)
	}

	t.Run("session filter and ordering", func(t *testing.T) {
		pairs, err := s.ListApprovalsForExport(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, pairs, 3)
		assert.Equal(t, "a-first", pairs[0].Approval.ID)
		assert.Equal(t, "b-second", pairs[1].Approval.ID)
		assert.Equal(t, "d-orphan", pairs[2].Approval.ID)

		require.NotNil(t, pairs[0].Preview)
		assert.Equal(t, "a-first", pairs[0].Preview.ID)
		assert.Nil(t, pairs[2].Preview, "orphan approval pairs with nil preview")
	})

	t.Run("empty session lists everything", func(t *testing.T) {
		pairs, err := s.ListApprovalsForExport(ctx, "")
		require.NoError(t, err)
		assert.Len(t, pairs, 4)
	})
}

func TestSQLiteStore_ToolExecutions(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	rec := approvals.ToolExecution{
		ID:        "exec-1",
		PreviewID: "pv-1",
		SessionID: "sess-1",
		Tool:      preview.ToolTerminal,
		Action:    "run",
		Args:      map[string]interface{}{"command": "ls"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertToolExecution(ctx, rec))
	// Idempotent on ID.
	require.NoError(t, s.InsertToolExecution(ctx, rec))
}

func TestSQLiteStore_Preferences(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, ok, err := s.GetPreference(ctx, "sess-1", "approvals.skipAll")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetPreference(ctx, "sess-1", "approvals.skipAll", []byte(`true`)))

	raw, ok, err := s.GetPreference(ctx, "sess-1", "approvals.skipAll")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `true`, string(raw))

	t.Run("set overwrites", func(t *testing.T) {
		require.NoError(t, s.SetPreference(ctx, "sess-1", "approvals.skipAll", []byte(`false`)))

		raw, ok, err := s.GetPreference(ctx, "sess-1", "approvals.skipAll")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `false`, string(raw))
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		_, ok, err := s.GetPreference(ctx, "sess-2", "approvals.skipAll")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("global scope uses the empty session", func(t *testing.T) {
		require.NoError(t, s.SetPreference(ctx, "", "approvals.autoRules", []byte(`[]`)))

		raw, ok, err := s.GetPreference(ctx, "", "approvals.autoRules")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `[]`, string(raw))
	})
}
