package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/promptdeck/agentgate/pkg/approvals"
)

// ApprovalMetrics is the OTel-backed implementation of the approval
// service's metrics sink.
type ApprovalMetrics struct {
	created       metric.Int64Counter
	resolved      metric.Int64Counter
	blocked       metric.Int64Counter
	applyDuration metric.Float64Histogram
}

var _ approvals.Metrics = (*ApprovalMetrics)(nil)

// NewApprovalMetrics registers the approval lifecycle instruments on
// meter. With a no-op meter every instrument is a no-op.
func NewApprovalMetrics(meter metric.Meter) (*ApprovalMetrics, error) {
	m := &ApprovalMetrics{}
	var err error

	m.created, err = meter.Int64Counter("agentgate.approvals.created",
		metric.WithDescription("Approval records created"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		return nil, err
	}

	m.resolved, err = meter.Int64Counter("agentgate.approvals.resolved",
		metric.WithDescription("Approval records leaving pending, by status and resolver"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		return nil, err
	}

	m.blocked, err = meter.Int64Counter("agentgate.approvals.blocked",
		metric.WithDescription("Applies denied by the capability gate"),
		metric.WithUnit("{apply}"),
	)
	if err != nil {
		return nil, err
	}

	m.applyDuration, err = meter.Float64Histogram("agentgate.apply.duration",
		metric.WithDescription("Executor wall time per outcome, in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ApprovalMetrics builds the lifecycle instruments on this provider's
// meter.
func (p *Provider) ApprovalMetrics() (*ApprovalMetrics, error) {
	return NewApprovalMetrics(p.Meter())
}

// ApprovalCreated implements approvals.Metrics.
func (m *ApprovalMetrics) ApprovalCreated(ctx context.Context) {
	m.created.Add(ctx, 1)
}

// ApprovalResolved implements approvals.Metrics.
func (m *ApprovalMetrics) ApprovalResolved(ctx context.Context, status approvals.Status, resolvedBy string) {
	m.resolved.Add(ctx, 1, metric.WithAttributes(
		AttrStatus.String(string(status)),
		AttrResolvedBy.String(resolvedBy),
	))
}

// ApplyBlocked implements approvals.Metrics.
func (m *ApprovalMetrics) ApplyBlocked(ctx context.Context, reason string) {
	m.blocked.Add(ctx, 1, metric.WithAttributes(
		AttrBlockReason.String(reason),
	))
}

// ApplyDuration implements approvals.Metrics.
func (m *ApprovalMetrics) ApplyDuration(ctx context.Context, d time.Duration, outcome string) {
	m.applyDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		AttrOutcome.String(outcome),
	))
}
