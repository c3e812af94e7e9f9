package approvals

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/promptdeck/agentgate/pkg/policy"
	"github.com/promptdeck/agentgate/pkg/preview"
	"github.com/promptdeck/agentgate/pkg/security"
	"github.com/promptdeck/agentgate/pkg/throttle"
	"github.com/promptdeck/agentgate/pkg/tools"
)

// ApplyOutcome statuses.
const (
	// OutcomeApplied means the executor ran and completed.
	OutcomeApplied = "applied"
	// OutcomeBlocked means the capability gate denied the tool family.
	// A block is a successful, deliberate outcome, not an error.
	OutcomeBlocked = "blocked"
)

// CancelReason is the AutoReason recorded when a preview is cancelled.
const CancelReason = "cancelled"

// ApplyOutcome is the result of a successful ApplyApproval call.
type ApplyOutcome struct {
	// Status is OutcomeApplied or OutcomeBlocked.
	Status string `json:"status"`

	// Reason carries the gate's block reason when Status is blocked.
	Reason string `json:"reason,omitempty"`

	// AlreadyApplied marks the absorbing re-apply of an applied record:
	// the executor did not run again.
	AlreadyApplied bool `json:"already_applied,omitempty"`

	// Result is the executor's return value, when it ran.
	Result interface{} `json:"result,omitempty"`
}

// Service owns the approval lifecycle. All status transitions go through
// it, and every transition is persisted before its event is published.
type Service struct {
	store    Store
	bus      Broadcaster
	gate     *security.Gate
	registry *tools.Registry

	policy  *policy.Engine
	limiter *throttle.SessionLimiter
	metrics Metrics
	clock   func() time.Time
	logger  *slog.Logger
	locks   *keyedMutex
}

// NewService wires the required collaborators. The policy engine and
// limiter are optional; without them AutoResolve is a no-op and nothing
// bounds automation (so the daemon always sets a limiter).
func NewService(store Store, bus Broadcaster, gate *security.Gate, registry *tools.Registry) *Service {
	if bus == nil {
		bus = NopBroadcaster{}
	}
	return &Service{
		store:    store,
		bus:      bus,
		gate:     gate,
		registry: registry,
		metrics:  nopMetrics{},
		clock:    time.Now,
		logger:   slog.Default(),
		locks:    newKeyedMutex(),
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithLogger overrides the default logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithPolicyEngine enables automatic resolution.
func (s *Service) WithPolicyEngine(engine *policy.Engine) *Service {
	s.policy = engine
	return s
}

// WithLimiter bounds automatic applies per session.
func (s *Service) WithLimiter(limiter *throttle.SessionLimiter) *Service {
	s.limiter = limiter
	return s
}

// WithMetrics attaches service counters.
func (s *Service) WithMetrics(m Metrics) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

// RecordPreview persists an envelope and journals its originating tool
// execution. The envelope's fingerprint is computed here if the proposer
// left it empty.
func (s *Service) RecordPreview(ctx context.Context, env *preview.Envelope) error {
	if env == nil || env.ID == "" {
		return Errf(CodePreviewPersistFailed, "preview envelope is missing an id")
	}
	if !env.Tool.Valid() {
		return Errf(CodePreviewPersistFailed, "unknown tool %q", env.Tool)
	}

	if env.Hash == "" {
		hash, err := preview.Fingerprint(env.Tool, env.Action, env.OriginalArgs, env.Detail)
		if err != nil {
			return Errf(CodePreviewPersistFailed, "fingerprint: %w", err)
		}
		env.Hash = hash
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = s.clock().UTC()
	}

	if err := s.store.InsertPreview(ctx, env); err != nil {
		return Errf(CodePreviewPersistFailed, "persist preview %s: %w", env.ID, err)
	}

	if env.ToolExecutionID != "" {
		rec := ToolExecution{
			ID:        env.ToolExecutionID,
			PreviewID: env.ID,
			SessionID: env.SessionID,
			Tool:      env.Tool,
			Action:    env.Action,
			Args:      env.OriginalArgs,
			CreatedAt: env.CreatedAt,
		}
		// The journal is advisory; a failed entry never blocks the preview.
		if err := s.store.InsertToolExecution(ctx, rec); err != nil {
			s.logger.Warn("tool execution journal write failed",
				"preview_id", env.ID, "tool_execution_id", env.ToolExecutionID, "error", err)
		}
	}

	s.logger.Debug("preview recorded", "preview_id", env.ID, "tool", env.Tool, "action", env.Action)
	return nil
}

// CreateApproval creates the pending decision record for a preview.
// Creation is idempotent: a second call for the same preview returns the
// existing record without publishing a second event.
func (s *Service) CreateApproval(ctx context.Context, previewID, sessionID string) (*Approval, error) {
	if previewID == "" {
		return nil, Errf(CodeApprovalCreateFailed, "preview id is required")
	}

	unlock := s.locks.lock(previewID)
	defer unlock()

	existing, err := s.store.GetApprovalByID(ctx, previewID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, Errf(CodeApprovalCreateFailed, "approval lookup %s: %w", previewID, err)
	}

	a := &Approval{
		ID:        previewID,
		SessionID: sessionID,
		Status:    StatusPending,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.store.InsertApproval(ctx, a); err != nil {
		return nil, Errf(CodeApprovalCreateFailed, "persist approval %s: %w", previewID, err)
	}

	pv, perr := s.store.GetPreviewByID(ctx, previewID)
	if perr != nil {
		pv = nil
	}
	s.publish(ctx, TopicNew, pv, a)
	s.metrics.ApprovalCreated(ctx)

	s.logger.Info("approval created", "approval_id", a.ID, "session_id", sessionID)
	return a.Clone(), nil
}

// Propose runs the full ingestion path: record the preview, create its
// approval, then attempt automatic resolution. Auto-resolution failures
// do not fail the proposal; the returned approval reflects whatever state
// the record landed in.
func (s *Service) Propose(ctx context.Context, env *preview.Envelope) (*Pair, *ApplyOutcome, error) {
	if err := s.RecordPreview(ctx, env); err != nil {
		return nil, nil, err
	}
	if _, err := s.CreateApproval(ctx, env.ID, env.SessionID); err != nil {
		return nil, nil, err
	}

	_, outcome, err := s.AutoResolve(ctx, env.ID)
	if err != nil {
		s.logger.Warn("automatic resolution failed", "preview_id", env.ID, "error", err)
	}

	pair, err := s.GetApproval(ctx, env.ID)
	if err != nil {
		return nil, outcome, err
	}
	return pair, outcome, nil
}

// GetApproval loads one preview/approval pair.
func (s *Service) GetApproval(ctx context.Context, id string) (*Pair, error) {
	a, err := s.store.GetApprovalByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, Errf(CodeNotFound, "approval %s not found", id)
	}
	if err != nil {
		return nil, Errf(CodeApprovalListFailed, "approval lookup %s: %w", id, err)
	}

	pv, perr := s.store.GetPreviewByID(ctx, id)
	if perr != nil {
		pv = nil
	}
	return &Pair{Preview: pv, Approval: a}, nil
}

// ListApprovals returns every pair for a session, oldest first, without
// status filtering. Surfaces that only want actionable work filter on
// their side.
func (s *Service) ListApprovals(ctx context.Context, sessionID string) ([]Pair, error) {
	pairs, err := s.store.ListApprovalsForExport(ctx, sessionID)
	if err != nil {
		return nil, Errf(CodeApprovalListFailed, "list approvals: %w", err)
	}
	return pairs, nil
}

// ApplyApproval hands an approved action to its executor.
//
// The call is serialized per approval ID and the applied status is
// absorbing, which together give at-most-once execution: once a record is
// applied, any re-apply reports AlreadyApplied without touching the
// executor. The capability gate runs before the executor; a gate denial
// is a successful blocked outcome, and the record keeps its state so the
// operator can re-apply after granting the capability.
func (s *Service) ApplyApproval(ctx context.Context, id string, overrides map[string]interface{}) (*ApplyOutcome, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	a, err := s.store.GetApprovalByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, Errf(CodeNotFound, "approval %s not found", id)
	}
	if err != nil {
		return nil, Errf(CodeApplyFailed, "approval lookup %s: %w", id, err)
	}

	if a.Status == StatusApplied {
		s.logger.Info("approval already applied, skipping executor", "approval_id", id)
		return &ApplyOutcome{Status: OutcomeApplied, AlreadyApplied: true}, nil
	}
	if !a.Status.CanApply() {
		return nil, Errf(CodeInvalidState, "cannot apply approval in state %q", a.Status)
	}

	pv, err := s.store.GetPreviewByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, Errf(CodePreviewMissing, "preview for approval %s is missing", id)
	}
	if err != nil {
		return nil, Errf(CodeApplyFailed, "preview lookup %s: %w", id, err)
	}

	if reason, ok := s.gate.Check(pv.Tool); !ok {
		s.metrics.ApplyBlocked(ctx, reason)
		s.logger.Warn("apply blocked by capability gate",
			"approval_id", id, "tool", pv.Tool, "reason", reason)
		return &ApplyOutcome{Status: OutcomeBlocked, Reason: reason}, nil
	}

	if _, ok := s.registry.Resolve(pv.Tool); !ok {
		return nil, Errf(CodeToolNotFound, "no executor registered for tool %q", pv.Tool)
	}

	args := mergeArgs(pv.OriginalArgs, overrides)
	args[tools.CommitKey] = true

	started := s.clock()
	result, execErr := s.registry.Execute(ctx, pv.Tool, args)
	elapsed := s.clock().Sub(started)

	if execErr != nil {
		now := s.clock().UTC()
		if uerr := s.store.UpdateApprovalStatus(ctx, id, StatusFailed, ResolvedBySystem, execErr.Error(), &now); uerr != nil {
			s.logger.Error("could not record execution failure",
				"approval_id", id, "exec_error", execErr, "error", uerr)
		} else {
			failed := a.Clone()
			failed.Status = StatusFailed
			failed.ResolvedBy = ResolvedBySystem
			failed.AutoReason = execErr.Error()
			failed.ResolvedAt = &now
			s.publish(ctx, TopicUpdate, nil, failed)
		}
		s.metrics.ApplyDuration(ctx, elapsed, string(StatusFailed))
		s.metrics.ApprovalResolved(ctx, StatusFailed, ResolvedBySystem)
		return nil, Errf(CodeApplyFailed, "tool execution failed: %w", execErr)
	}

	resolvedBy := a.ResolvedBy
	if resolvedBy == "" {
		// Applying straight from pending is an implicit manual approval.
		resolvedBy = ResolvedByUser
	}
	now := s.clock().UTC()
	if err := s.store.UpdateApprovalStatus(ctx, id, StatusApplied, resolvedBy, a.AutoReason, &now); err != nil {
		// The executor already ran. Do not mark failed, that would claim
		// the effect never happened.
		s.logger.Error("execution succeeded but status persist failed",
			"approval_id", id, "error", err)
		return nil, Errf(CodeApplyFailed, "execution succeeded but status persist failed: %w", err)
	}

	applied := a.Clone()
	applied.Status = StatusApplied
	applied.ResolvedBy = resolvedBy
	applied.ResolvedAt = &now
	s.publish(ctx, TopicUpdate, nil, applied)

	if a.Status != StatusAutoApproved {
		// A human drove this apply; their attention resets the
		// automation budget.
		s.ResetAutoApply(a.SessionID)
	}

	s.metrics.ApplyDuration(ctx, elapsed, OutcomeApplied)
	s.metrics.ApprovalResolved(ctx, StatusApplied, resolvedBy)
	s.logger.Info("approval applied", "approval_id", id, "tool", pv.Tool, "elapsed", elapsed)
	return &ApplyOutcome{Status: OutcomeApplied, Result: result}, nil
}

// RejectApproval declines a non-terminal approval, optionally attaching
// feedback for the agent. Feedback is persisted before the transition so
// a rejected record never loses its context to a partial failure.
func (s *Service) RejectApproval(ctx context.Context, id, feedbackText string, feedbackMeta map[string]interface{}) (*Approval, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	a, err := s.store.GetApprovalByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, Errf(CodeNotFound, "approval %s not found", id)
	}
	if err != nil {
		return nil, Errf(CodeRejectFailed, "approval lookup %s: %w", id, err)
	}
	if a.Status.Terminal() {
		return nil, Errf(CodeInvalidState, "cannot reject approval in state %q", a.Status)
	}

	if feedbackText != "" || len(feedbackMeta) > 0 {
		if err := s.store.UpdateApprovalFeedback(ctx, id, feedbackText, feedbackMeta); err != nil {
			return nil, Errf(CodeRejectFailed, "persist feedback %s: %w", id, err)
		}
	}

	now := s.clock().UTC()
	if err := s.store.UpdateApprovalStatus(ctx, id, StatusRejected, ResolvedByUser, "", &now); err != nil {
		return nil, Errf(CodeRejectFailed, "persist rejection %s: %w", id, err)
	}

	rejected := a.Clone()
	rejected.Status = StatusRejected
	rejected.ResolvedBy = ResolvedByUser
	rejected.ResolvedAt = &now
	rejected.FeedbackText = feedbackText
	rejected.FeedbackMeta = feedbackMeta
	s.publish(ctx, TopicUpdate, nil, rejected)

	s.ResetAutoApply(a.SessionID)
	s.metrics.ApprovalResolved(ctx, StatusRejected, ResolvedByUser)
	s.logger.Info("approval rejected", "approval_id", id, "has_feedback", feedbackText != "" || len(feedbackMeta) > 0)
	return rejected, nil
}

// CancelPreview withdraws an undecided preview, typically because the
// proposing runtime gave up or the session ended. The record lands in
// failed with the cancellation marker so history distinguishes it from
// an execution failure by reason.
func (s *Service) CancelPreview(ctx context.Context, previewID string) (*Approval, error) {
	unlock := s.locks.lock(previewID)
	defer unlock()

	a, err := s.store.GetApprovalByID(ctx, previewID)
	if errors.Is(err, ErrNotFound) {
		return nil, Errf(CodeNotFound, "approval %s not found", previewID)
	}
	if err != nil {
		return nil, Errf(CodeCancelFailed, "approval lookup %s: %w", previewID, err)
	}
	if a.Status.Terminal() {
		return nil, Errf(CodeInvalidState, "cannot cancel approval in state %q", a.Status)
	}

	now := s.clock().UTC()
	if err := s.store.UpdateApprovalStatus(ctx, previewID, StatusFailed, ResolvedByUser, CancelReason, &now); err != nil {
		return nil, Errf(CodeCancelFailed, "persist cancellation %s: %w", previewID, err)
	}

	cancelled := a.Clone()
	cancelled.Status = StatusFailed
	cancelled.ResolvedBy = ResolvedByUser
	cancelled.AutoReason = CancelReason
	cancelled.ResolvedAt = &now
	s.publish(ctx, TopicUpdate, nil, cancelled)

	s.metrics.ApprovalResolved(ctx, StatusFailed, ResolvedByUser)
	s.logger.Info("preview cancelled", "preview_id", previewID)
	return cancelled, nil
}

// MarkAutoApproved records a policy grant on a pending approval. Marking
// an already auto-approved record again is a no-op success.
func (s *Service) MarkAutoApproved(ctx context.Context, id, reason, resolvedBy string) (*Approval, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	a, err := s.store.GetApprovalByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, Errf(CodeNotFound, "approval %s not found", id)
	}
	if err != nil {
		return nil, Errf(CodeAutoApproveFailed, "approval lookup %s: %w", id, err)
	}
	if a.Status == StatusAutoApproved {
		return a.Clone(), nil
	}
	if a.Status != StatusPending {
		return nil, Errf(CodeInvalidState, "cannot auto-approve approval in state %q", a.Status)
	}

	if resolvedBy == "" {
		resolvedBy = ResolvedByPolicy
	}
	now := s.clock().UTC()
	if err := s.store.UpdateApprovalStatus(ctx, id, StatusAutoApproved, resolvedBy, reason, &now); err != nil {
		return nil, Errf(CodeAutoApproveFailed, "persist auto-approval %s: %w", id, err)
	}

	granted := a.Clone()
	granted.Status = StatusAutoApproved
	granted.ResolvedBy = resolvedBy
	granted.AutoReason = reason
	granted.ResolvedAt = &now
	s.publish(ctx, TopicUpdate, nil, granted)

	s.metrics.ApprovalResolved(ctx, StatusAutoApproved, resolvedBy)
	s.logger.Info("approval auto-approved", "approval_id", id, "reason", reason)
	return granted, nil
}

// AutoResolve evaluates the policy engine for a recorded preview and, on
// a match with remaining automation budget, auto-approves and applies it.
// Without a policy engine, on no match, or with the budget exhausted the
// record simply stays pending.
func (s *Service) AutoResolve(ctx context.Context, previewID string) (*policy.Match, *ApplyOutcome, error) {
	if s.policy == nil {
		return nil, nil, nil
	}

	pv, err := s.store.GetPreviewByID(ctx, previewID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, Errf(CodePreviewMissing, "preview %s is missing", previewID)
	}
	if err != nil {
		return nil, nil, Errf(CodeAutoApproveFailed, "preview lookup %s: %w", previewID, err)
	}

	match := s.policy.Evaluate(ctx, pv)
	if match == nil {
		return nil, nil, nil
	}

	if !s.TrackAutoApply(pv.SessionID) {
		s.logger.Info("auto-apply budget exhausted, leaving approval for manual review",
			"preview_id", previewID, "session_id", pv.SessionID, "match", match.Reason)
		return nil, nil, nil
	}

	if _, err := s.MarkAutoApproved(ctx, previewID, match.Reason, ResolvedByPolicy); err != nil {
		return match, nil, err
	}

	outcome, err := s.ApplyApproval(ctx, previewID, nil)
	return match, outcome, err
}

// TrackAutoApply consumes one unit of the session's automation budget.
// With no limiter configured automation is unbounded.
func (s *Service) TrackAutoApply(sessionID string) bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Track(sessionID)
}

// ResetAutoApply restores the session's automation budget.
func (s *Service) ResetAutoApply(sessionID string) {
	if s.limiter != nil {
		s.limiter.Reset(sessionID)
	}
}

func (s *Service) publish(ctx context.Context, topic Topic, pv *preview.Envelope, a *Approval) {
	s.bus.Publish(ctx, Event{
		Topic:    topic,
		Preview:  pv,
		Approval: a.Clone(),
		At:       s.clock().UTC(),
	})
}

// mergeArgs overlays apply-time overrides on the proposed arguments. The
// stored envelope is never mutated.
func mergeArgs(original, overrides map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(original)+len(overrides)+1)
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
