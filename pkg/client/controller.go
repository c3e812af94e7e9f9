package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/policy"
)

// Controller keeps the renderer's cache of pending approvals for one
// session in sync with the service.
//
// The cache holds pending records only: anything that resolves, by any
// actor, drops out on the next update event. Session switches are
// guarded by an epoch counter so a list fetch that was in flight when
// the session changed resolves as a no-op instead of resurrecting stale
// rows.
type Controller struct {
	bridge Bridge
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	enabled   bool
	epoch     uint64
	cache     map[string]approvals.Pair
	stopWatch func()
	bannerErr error

	onChange func()
}

// NewController builds a controller over a bridge. A nil bridge is
// legal; every operation then reports UNAVAILABLE and the cache stays
// empty.
func NewController(bridge Bridge, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		bridge: bridge,
		logger: logger.With("component", "approval_controller"),
		cache:  make(map[string]approvals.Pair),
	}
}

// OnChange registers the redraw callback, invoked after every cache or
// banner mutation. It runs outside the controller lock.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// SetSession points the controller at a session. Disabling or passing
// an empty session tears down the watch and clears the cache. Otherwise
// the cache is rebuilt wholesale from a fresh list and a new watch is
// established.
func (c *Controller) SetSession(ctx context.Context, sessionID string, enabled bool) error {
	c.mu.Lock()
	c.epoch++
	myEpoch := c.epoch
	c.teardownLocked()
	c.sessionID = sessionID
	c.enabled = enabled

	if !enabled || sessionID == "" {
		c.cache = make(map[string]approvals.Pair)
		c.bannerErr = nil
		c.mu.Unlock()
		c.notify()
		return nil
	}
	if c.bridge == nil {
		c.mu.Unlock()
		c.notify()
		return errNoBridge()
	}
	c.mu.Unlock()

	pairs, err := c.bridge.List(ctx, sessionID)

	c.mu.Lock()
	if c.epoch != myEpoch {
		// The session moved on while the fetch was in flight.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.bannerErr = err
		c.mu.Unlock()
		c.notify()
		return err
	}

	cache := make(map[string]approvals.Pair)
	for _, p := range pairs {
		if p.Approval != nil && p.Approval.Status == approvals.StatusPending {
			cache[p.Approval.ID] = p
		}
	}
	c.cache = cache
	c.bannerErr = nil
	c.mu.Unlock()
	c.notify()

	stop, err := c.bridge.Watch(ctx, WatchHooks{
		OnNew:    func(pair approvals.Pair) { c.handleNew(myEpoch, pair) },
		OnUpdate: func(a approvals.Approval) { c.handleUpdate(myEpoch, a) },
		OnReady:  func() { c.handleReady(myEpoch) },
		OnError:  func(err error) { c.handleStreamError(myEpoch, err) },
	})

	c.mu.Lock()
	if c.epoch != myEpoch {
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		return nil
	}
	if err != nil {
		// The list succeeded, so keep showing it; the banner says the
		// cache may go stale.
		c.bannerErr = err
		c.mu.Unlock()
		c.notify()
		return err
	}
	c.stopWatch = stop
	c.mu.Unlock()
	return nil
}

// Close tears down the watch and clears the cache.
func (c *Controller) Close() {
	c.mu.Lock()
	c.epoch++
	c.teardownLocked()
	c.cache = make(map[string]approvals.Pair)
	c.bannerErr = nil
	c.mu.Unlock()
	c.notify()
}

// Pending returns the cached pending pairs, oldest first.
func (c *Controller) Pending() []approvals.Pair {
	c.mu.Lock()
	out := make([]approvals.Pair, 0, len(c.cache))
	for _, p := range c.cache {
		out = append(out, p)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Approval, out[j].Approval
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

// BannerError returns the current stream-level error, if any. A set
// banner means the cache may be stale but is still worth rendering.
func (c *Controller) BannerError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bannerErr
}

// Apply executes an approval with its original arguments.
func (c *Controller) Apply(ctx context.Context, approvalID string) (*approvals.ApplyOutcome, error) {
	if c.bridge == nil {
		return nil, errNoBridge()
	}
	return c.bridge.Apply(ctx, approvalID)
}

// ApplyWithContent executes an approval with reviewer edits.
func (c *Controller) ApplyWithContent(ctx context.Context, approvalID string, content map[string]interface{}) (*approvals.ApplyOutcome, error) {
	if c.bridge == nil {
		return nil, errNoBridge()
	}
	return c.bridge.ApplyWithContent(ctx, approvalID, content)
}

// Reject declines an approval.
func (c *Controller) Reject(ctx context.Context, approvalID string, opts RejectOptions) (*approvals.Approval, error) {
	if c.bridge == nil {
		return nil, errNoBridge()
	}
	return c.bridge.Reject(ctx, approvalID, opts)
}

// Cancel withdraws a preview.
func (c *Controller) Cancel(ctx context.Context, previewID string) (*approvals.Approval, error) {
	if c.bridge == nil {
		return nil, errNoBridge()
	}
	return c.bridge.Cancel(ctx, previewID)
}

// GetRules reads the shared auto-approval rules.
func (c *Controller) GetRules(ctx context.Context) ([]policy.Rule, error) {
	if c.bridge == nil {
		return nil, errNoBridge()
	}
	return c.bridge.GetRules(ctx)
}

// SetRules replaces the shared auto-approval rules.
func (c *Controller) SetRules(ctx context.Context, rules []policy.Rule) error {
	if c.bridge == nil {
		return errNoBridge()
	}
	return c.bridge.SetRules(ctx, rules)
}

func (c *Controller) handleNew(epoch uint64, pair approvals.Pair) {
	c.mu.Lock()
	if c.epoch != epoch || pair.Approval == nil {
		c.mu.Unlock()
		return
	}
	if pair.Approval.Status != approvals.StatusPending || pair.Approval.SessionID != c.sessionID {
		c.mu.Unlock()
		return
	}
	c.cache[pair.Approval.ID] = pair
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) handleUpdate(epoch uint64, a approvals.Approval) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	cur, ok := c.cache[a.ID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if a.Status != approvals.StatusPending {
		delete(c.cache, a.ID)
	} else {
		// Still pending: take the fresher approval fields, keep the
		// preview we already have (updates do not carry one).
		cur.Approval = a.Clone()
		c.cache[a.ID] = cur
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) handleReady(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	cleared := c.bannerErr != nil
	c.bannerErr = nil
	c.mu.Unlock()
	if cleared {
		c.notify()
	}
}

func (c *Controller) handleStreamError(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	// Keep the cache: stale pending rows beat an empty panel.
	c.bannerErr = err
	c.mu.Unlock()
	c.logger.Warn("approval watch degraded", "error", err)
	c.notify()
}

func (c *Controller) teardownLocked() {
	if c.stopWatch != nil {
		stop := c.stopWatch
		c.stopWatch = nil
		go stop()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
