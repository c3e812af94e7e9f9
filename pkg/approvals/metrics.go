package approvals

import (
	"context"
	"time"
)

// Metrics receives service-level counters. The observability package
// provides the OTel-backed implementation; the default discards all
// measurements.
type Metrics interface {
	// ApprovalCreated counts new approval records.
	ApprovalCreated(ctx context.Context)

	// ApprovalResolved counts records leaving pending, tagged with the
	// resulting status and who resolved them.
	ApprovalResolved(ctx context.Context, status Status, resolvedBy string)

	// ApplyBlocked counts applies denied by the capability gate.
	ApplyBlocked(ctx context.Context, reason string)

	// ApplyDuration measures executor wall time per outcome.
	ApplyDuration(ctx context.Context, d time.Duration, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ApprovalCreated(context.Context)                      {}
func (nopMetrics) ApprovalResolved(context.Context, Status, string)     {}
func (nopMetrics) ApplyBlocked(context.Context, string)                 {}
func (nopMetrics) ApplyDuration(context.Context, time.Duration, string) {}
