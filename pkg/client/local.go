package client

import (
	"context"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/events"
	"github.com/promptdeck/agentgate/pkg/policy"
)

// LocalBridge serves the primary window: it talks to the approvals
// service and event bus directly, no HTTP hop.
type LocalBridge struct {
	svc   *approvals.Service
	bus   *events.Bus
	prefs policy.PreferenceStore
}

// NewLocalBridge wires the in-process bridge.
func NewLocalBridge(svc *approvals.Service, bus *events.Bus, prefs policy.PreferenceStore) *LocalBridge {
	return &LocalBridge{svc: svc, bus: bus, prefs: prefs}
}

func (b *LocalBridge) List(ctx context.Context, sessionID string) ([]approvals.Pair, error) {
	return b.svc.ListApprovals(ctx, sessionID)
}

func (b *LocalBridge) Apply(ctx context.Context, approvalID string) (*approvals.ApplyOutcome, error) {
	return b.svc.ApplyApproval(ctx, approvalID, nil)
}

func (b *LocalBridge) ApplyWithContent(ctx context.Context, approvalID string, content map[string]interface{}) (*approvals.ApplyOutcome, error) {
	return b.svc.ApplyApproval(ctx, approvalID, content)
}

func (b *LocalBridge) Reject(ctx context.Context, approvalID string, opts RejectOptions) (*approvals.Approval, error) {
	return b.svc.RejectApproval(ctx, approvalID, opts.FeedbackText, opts.FeedbackMeta)
}

func (b *LocalBridge) Cancel(ctx context.Context, previewID string) (*approvals.Approval, error) {
	return b.svc.CancelPreview(ctx, previewID)
}

// GetRules reads the global rule list. Rules live under the empty
// session scope so every session shares them unless one overrides.
func (b *LocalBridge) GetRules(ctx context.Context) ([]policy.Rule, error) {
	raw, ok, err := b.prefs.GetPreference(ctx, "", policy.KeyAutoRules)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return policy.DecodeRules(raw), nil
}

func (b *LocalBridge) SetRules(ctx context.Context, rules []policy.Rule) error {
	raw, err := policy.EncodeRules(rules)
	if err != nil {
		return err
	}
	return b.prefs.SetPreference(ctx, "", policy.KeyAutoRules, raw)
}

// Watch relays bus events into the hooks until the context ends or the
// returned stop function runs. OnReady fires synchronously before the
// first event can be delivered.
func (b *LocalBridge) Watch(ctx context.Context, hooks WatchHooks) (func(), error) {
	if b.bus == nil {
		return nil, errNoBridge()
	}

	ch, cancel := b.bus.Subscribe(approvals.TopicNew, approvals.TopicUpdate)
	if hooks.OnReady != nil {
		hooks.OnReady()
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				deliver(hooks, ev)
			}
		}
	}()

	return cancel, nil
}

func deliver(hooks WatchHooks, ev approvals.Event) {
	if ev.Approval == nil {
		return
	}
	switch ev.Topic {
	case approvals.TopicNew:
		if hooks.OnNew != nil {
			hooks.OnNew(approvals.Pair{Preview: ev.Preview, Approval: ev.Approval})
		}
	case approvals.TopicUpdate:
		if hooks.OnUpdate != nil {
			hooks.OnUpdate(*ev.Approval)
		}
	}
}
