// Package client is the display-surface side of the approval flow: a
// Bridge abstracts where the approvals service lives (in-process or
// across the localhost HTTP surface), and a Controller maintains the
// pending-approval cache a renderer draws from.
package client

import (
	"context"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/policy"
)

// RejectOptions carries optional reviewer feedback on a rejection.
type RejectOptions struct {
	FeedbackText string                 `json:"feedback_text,omitempty"`
	FeedbackMeta map[string]interface{} `json:"feedback_meta,omitempty"`
}

// WatchHooks are the callbacks a Watch subscription drives. All hooks
// are optional. OnReady fires when the subscription is established (and
// again after a reconnect); OnError reports stream-level failures
// without terminating the watch.
type WatchHooks struct {
	OnNew    func(pair approvals.Pair)
	OnUpdate func(a approvals.Approval)
	OnReady  func()
	OnError  func(err error)
}

// Bridge is everything a display surface needs from the approvals
// service. Implementations: LocalBridge (in-process) and api.Client
// (HTTP). Constructors inject it so surfaces never reach for a global.
type Bridge interface {
	// List returns every preview/approval pair for the session.
	List(ctx context.Context, sessionID string) ([]approvals.Pair, error)

	// Apply executes an approved action with its original arguments.
	Apply(ctx context.Context, approvalID string) (*approvals.ApplyOutcome, error)

	// ApplyWithContent executes with reviewer edits overlaid on the
	// original arguments.
	ApplyWithContent(ctx context.Context, approvalID string, content map[string]interface{}) (*approvals.ApplyOutcome, error)

	// Reject declines an approval, optionally attaching feedback.
	Reject(ctx context.Context, approvalID string, opts RejectOptions) (*approvals.Approval, error)

	// Cancel withdraws an undecided preview.
	Cancel(ctx context.Context, previewID string) (*approvals.Approval, error)

	// GetRules reads the shared auto-approval rule list.
	GetRules(ctx context.Context) ([]policy.Rule, error)

	// SetRules replaces the shared auto-approval rule list.
	SetRules(ctx context.Context, rules []policy.Rule) error

	// Watch subscribes to approval lifecycle events. The returned stop
	// function tears the subscription down and is safe to call twice.
	Watch(ctx context.Context, hooks WatchHooks) (func(), error)
}

// errNoBridge is the coded error every operation returns when no bridge
// was injected, so surfaces degrade to read-only instead of panicking.
func errNoBridge() error {
	return approvals.Errf(approvals.CodeUnavailable, "approval bridge is not configured")
}
