// Package store provides the persistence implementations behind the
// approvals service: SQLite for the single-process daemon, Postgres for
// shared deployments, and an in-memory store for tests and demo mode.
//
// All implementations satisfy approvals.Store and policy.PreferenceStore.
// Inserts are idempotent on primary key so retried proposals never fail
// on the unique constraint.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/preview"
)

// MemoryStore keeps everything in maps. Values are cloned on the way in
// and out so callers can never alias the stored state.
type MemoryStore struct {
	mu         sync.RWMutex
	previews   map[string]*preview.Envelope
	records    map[string]*approvals.Approval
	executions map[string]approvals.ToolExecution
	prefs      map[string]map[string][]byte
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		previews:   make(map[string]*preview.Envelope),
		records:    make(map[string]*approvals.Approval),
		executions: make(map[string]approvals.ToolExecution),
		prefs:      make(map[string]map[string][]byte),
	}
}

// InsertPreview implements approvals.Store.
func (m *MemoryStore) InsertPreview(_ context.Context, env *preview.Envelope) error {
	if env == nil || env.ID == "" {
		return fmt.Errorf("preview envelope is missing an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.previews[env.ID]; exists {
		return nil
	}
	m.previews[env.ID] = env.Clone()
	return nil
}

// GetPreviewByID implements approvals.Store.
func (m *MemoryStore) GetPreviewByID(_ context.Context, id string) (*preview.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.previews[id]
	if !ok {
		return nil, fmt.Errorf("preview %s: %w", id, approvals.ErrNotFound)
	}
	return env.Clone(), nil
}

// InsertApproval implements approvals.Store.
func (m *MemoryStore) InsertApproval(_ context.Context, a *approvals.Approval) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("approval is missing an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[a.ID]; exists {
		return nil
	}
	m.records[a.ID] = a.Clone()
	return nil
}

// GetApprovalByID implements approvals.Store.
func (m *MemoryStore) GetApprovalByID(_ context.Context, id string) (*approvals.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, approvals.ErrNotFound)
	}
	return a.Clone(), nil
}

// UpdateApprovalStatus implements approvals.Store.
func (m *MemoryStore) UpdateApprovalStatus(_ context.Context, id string, status approvals.Status, resolvedBy, autoReason string, resolvedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok {
		return fmt.Errorf("approval %s: %w", id, approvals.ErrNotFound)
	}
	a.Status = status
	a.ResolvedBy = resolvedBy
	a.AutoReason = autoReason
	if resolvedAt != nil {
		ts := *resolvedAt
		a.ResolvedAt = &ts
	} else {
		a.ResolvedAt = nil
	}
	return nil
}

// UpdateApprovalFeedback implements approvals.Store.
func (m *MemoryStore) UpdateApprovalFeedback(_ context.Context, id, feedbackText string, feedbackMeta map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok {
		return fmt.Errorf("approval %s: %w", id, approvals.ErrNotFound)
	}
	a.FeedbackText = feedbackText
	if feedbackMeta == nil {
		a.FeedbackMeta = nil
	} else {
		meta := make(map[string]interface{}, len(feedbackMeta))
		for k, v := range feedbackMeta {
			meta[k] = v
		}
		a.FeedbackMeta = meta
	}
	return nil
}

// ListApprovalsForExport implements approvals.Store.
func (m *MemoryStore) ListApprovalsForExport(_ context.Context, sessionID string) ([]approvals.Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pairs := make([]approvals.Pair, 0, len(m.records))
	for id, a := range m.records {
		if sessionID != "" && a.SessionID != sessionID {
			continue
		}
		var pv *preview.Envelope
		if stored, ok := m.previews[id]; ok {
			pv = stored.Clone()
		}
		pairs = append(pairs, approvals.Pair{Preview: pv, Approval: a.Clone()})
	}

	sort.Slice(pairs, func(i, j int) bool {
		ai, aj := pairs[i].Approval, pairs[j].Approval
		if !ai.CreatedAt.Equal(aj.CreatedAt) {
			return ai.CreatedAt.Before(aj.CreatedAt)
		}
		return ai.ID < aj.ID
	})
	return pairs, nil
}

// InsertToolExecution implements approvals.Store.
func (m *MemoryStore) InsertToolExecution(_ context.Context, rec approvals.ToolExecution) error {
	if rec.ID == "" {
		return fmt.Errorf("tool execution is missing an id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[rec.ID]; exists {
		return nil
	}
	m.executions[rec.ID] = rec
	return nil
}

// GetPreference implements policy.PreferenceSource.
func (m *MemoryStore) GetPreference(_ context.Context, sessionID, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.prefs[sessionID][key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true, nil
}

// SetPreference implements policy.PreferenceStore.
func (m *MemoryStore) SetPreference(_ context.Context, sessionID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs[sessionID] == nil {
		m.prefs[sessionID] = make(map[string][]byte)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.prefs[sessionID][key] = stored
	return nil
}
