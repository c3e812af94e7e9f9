// Package approvals implements the decision lifecycle for previewed tool
// actions: creation, manual and automatic resolution, and the guarded
// apply step that hands an approved action to its executor exactly once.
package approvals

import (
	"time"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// Status is the lifecycle state of an approval record.
type Status string

const (
	// StatusPending awaits a decision.
	StatusPending Status = "pending"
	// StatusApproved was granted by a human but not yet applied.
	StatusApproved Status = "approved"
	// StatusAutoApproved was granted by the policy engine.
	StatusAutoApproved Status = "auto_approved"
	// StatusRejected was declined. Terminal.
	StatusRejected Status = "rejected"
	// StatusFailed saw its tool execution fail, or was cancelled. Terminal.
	StatusFailed Status = "failed"
	// StatusApplied had its tool execution complete. Terminal and
	// absorbing: re-applying an applied approval is a no-op success.
	StatusApplied Status = "applied"
)

// Terminal reports whether no further transitions are allowed, apart
// from the absorbing re-apply of an applied record.
func (s Status) Terminal() bool {
	switch s {
	case StatusApplied, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// CanApply reports whether the apply step may run from this state.
func (s Status) CanApply() bool {
	switch s {
	case StatusPending, StatusApproved, StatusAutoApproved:
		return true
	}
	return false
}

// Resolver identities recorded on status transitions.
const (
	// ResolvedByUser marks decisions made by a human surface.
	ResolvedByUser = "user"
	// ResolvedByPolicy marks decisions made by the auto-approval engine.
	ResolvedByPolicy = "policy"
	// ResolvedBySystem marks transitions the service made itself, such
	// as marking a failed execution.
	ResolvedBySystem = "system"
)

// Approval is the mutable decision record paired one-to-one with a
// preview envelope. It shares the envelope's ID.
type Approval struct {
	// ID equals the preview envelope ID.
	ID string `json:"id"`

	// SessionID scopes the approval to one agent conversation.
	SessionID string `json:"session_id"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// CreatedAt is when the record was created, UTC.
	CreatedAt time.Time `json:"created_at"`

	// ResolvedAt is when the record left pending, nil while pending.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// ResolvedBy identifies who resolved: user, policy, or system.
	ResolvedBy string `json:"resolved_by,omitempty"`

	// AutoReason records why a non-human transition happened: the policy
	// match reason, a cancellation marker, or an execution error.
	AutoReason string `json:"auto_reason,omitempty"`

	// FeedbackText is optional prose attached on rejection.
	FeedbackText string `json:"feedback_text,omitempty"`

	// FeedbackMeta is optional structured feedback attached on rejection.
	FeedbackMeta map[string]interface{} `json:"feedback_meta,omitempty"`
}

// Clone returns a copy safe to hand to other goroutines.
func (a *Approval) Clone() *Approval {
	if a == nil {
		return nil
	}
	out := *a
	if a.ResolvedAt != nil {
		ts := *a.ResolvedAt
		out.ResolvedAt = &ts
	}
	if a.FeedbackMeta != nil {
		meta := make(map[string]interface{}, len(a.FeedbackMeta))
		for k, v := range a.FeedbackMeta {
			meta[k] = v
		}
		out.FeedbackMeta = meta
	}
	return &out
}

// Pair couples a preview with its approval for lists, events, and export.
// Preview may be nil when the envelope was never recorded.
type Pair struct {
	Preview  *preview.Envelope `json:"preview,omitempty"`
	Approval *Approval         `json:"approval"`
}

// ToolExecution is one journal entry linking a preview to the runtime
// execution that proposed it.
type ToolExecution struct {
	ID        string                 `json:"id"`
	PreviewID string                 `json:"preview_id"`
	SessionID string                 `json:"session_id"`
	Tool      preview.Tool           `json:"tool"`
	Action    string                 `json:"action"`
	Args      map[string]interface{} `json:"args,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
