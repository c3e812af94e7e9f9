package approvals

import (
	"context"
	"time"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// Store is the persistence boundary the service depends on.
// Implementations live in pkg/store (SQLite, Postgres, memory).
//
// Lookups return ErrNotFound (wrapped) for absent rows. Insert operations
// are idempotent on ID: re-inserting an existing row is a no-op success,
// which is what makes retried proposals safe.
type Store interface {
	// InsertPreview persists an envelope. Envelopes are immutable; a
	// duplicate ID leaves the stored row untouched.
	InsertPreview(ctx context.Context, env *preview.Envelope) error

	// GetPreviewByID loads an envelope.
	GetPreviewByID(ctx context.Context, id string) (*preview.Envelope, error)

	// InsertApproval persists a new approval record.
	InsertApproval(ctx context.Context, a *Approval) error

	// GetApprovalByID loads an approval record.
	GetApprovalByID(ctx context.Context, id string) (*Approval, error)

	// UpdateApprovalStatus moves a record to a new status and stamps the
	// resolution fields.
	UpdateApprovalStatus(ctx context.Context, id string, status Status, resolvedBy, autoReason string, resolvedAt *time.Time) error

	// UpdateApprovalFeedback attaches rejection feedback. Never changes
	// status.
	UpdateApprovalFeedback(ctx context.Context, id, feedbackText string, feedbackMeta map[string]interface{}) error

	// ListApprovalsForExport returns every preview/approval pair for a
	// session ordered by creation time, oldest first. An empty session
	// lists everything.
	ListApprovalsForExport(ctx context.Context, sessionID string) ([]Pair, error)

	// InsertToolExecution journals the runtime execution that proposed a
	// preview.
	InsertToolExecution(ctx context.Context, rec ToolExecution) error
}
