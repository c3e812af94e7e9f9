package approvals

import (
	"context"
	"time"

	"github.com/promptdeck/agentgate/pkg/preview"
)

// Topic names an approval lifecycle event stream.
type Topic string

const (
	// TopicNew fires once per approval, when it is created.
	TopicNew Topic = "approval.new"
	// TopicUpdate fires on every status or feedback change after creation.
	TopicUpdate Topic = "approval.update"
)

// Event is one lifecycle notification. New events carry the preview so
// subscribers can render without a second lookup; update events carry
// the approval only.
type Event struct {
	Topic    Topic             `json:"topic"`
	Preview  *preview.Envelope `json:"preview,omitempty"`
	Approval *Approval         `json:"approval"`
	At       time.Time         `json:"at"`
}

// Broadcaster delivers lifecycle events to observers. The service always
// publishes after the corresponding state is durably persisted, so a
// subscriber that re-reads on receipt can never observe the event before
// the row.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event)
}

// NopBroadcaster discards events. Used when no surface is attached.
type NopBroadcaster struct{}

// Publish implements Broadcaster.
func (NopBroadcaster) Publish(context.Context, Event) {}
