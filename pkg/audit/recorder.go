package audit

import (
	"context"

	"github.com/promptdeck/agentgate/pkg/approvals"
	"github.com/promptdeck/agentgate/pkg/events"
)

// RecordLifecycle mirrors approval lifecycle events from the bus into
// the audit log and returns a stop function. Events are recorded
// best-effort; a failing audit sink never disturbs the approval flow.
func RecordLifecycle(bus *events.Bus, log Logger) func() {
	ch, cancel := bus.Subscribe(approvals.TopicNew, approvals.TopicUpdate)

	go func() {
		for ev := range ch {
			if ev.Approval == nil {
				continue
			}
			recordEvent(log, ev)
		}
	}()

	return cancel
}

func recordEvent(log Logger, ev approvals.Event) {
	a := ev.Approval

	action := "created"
	if ev.Topic == approvals.TopicUpdate {
		action = string(a.Status)
	}

	meta := map[string]interface{}{}
	if a.AutoReason != "" {
		meta["auto_reason"] = a.AutoReason
	}
	if a.FeedbackText != "" {
		meta["has_feedback"] = true
	}
	if ev.Preview != nil {
		meta["tool"] = string(ev.Preview.Tool)
		meta["preview_action"] = ev.Preview.Action
	}

	_ = log.Record(context.Background(), EventDecision, a.SessionID, a.ResolvedBy, action, "approval:"+a.ID, meta)
}
