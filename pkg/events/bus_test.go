package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdeck/agentgate/pkg/approvals"
)

func newEvent(topic approvals.Topic, id string) approvals.Event {
	return approvals.Event{
		Topic:    topic,
		Approval: &approvals.Approval{ID: id, Status: approvals.StatusPending},
		At:       time.Now().UTC(),
	}
}

func recv(t *testing.T, ch <-chan approvals.Event) approvals.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return approvals.Event{}
	}
}

func TestBus_TopicFiltering(t *testing.T) {
	b := NewBus(nil)
	ctx := context.Background()

	newOnly, cancelNew := b.Subscribe(approvals.TopicNew)
	defer cancelNew()
	all, cancelAll := b.Subscribe()
	defer cancelAll()

	b.Publish(ctx, newEvent(approvals.TopicNew, "a"))
	b.Publish(ctx, newEvent(approvals.TopicUpdate, "b"))

	ev := recv(t, newOnly)
	assert.Equal(t, approvals.TopicNew, ev.Topic)
	select {
	case extra := <-newOnly:
		t.Fatalf("filtered subscriber got %v", extra.Topic)
	case <-time.After(50 * time.Millisecond):
	}

	first := recv(t, all)
	second := recv(t, all)
	assert.Equal(t, approvals.TopicNew, first.Topic)
	assert.Equal(t, approvals.TopicUpdate, second.Topic)
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus(nil)

	ch, cancel := b.Subscribe(approvals.TopicUpdate)
	assert.Equal(t, 1, b.SubscriberCount())

	cancel()
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Cancel is idempotent.
	cancel()

	// Publishing after cancel delivers nowhere but must not panic.
	b.Publish(context.Background(), newEvent(approvals.TopicUpdate, "x"))
}

func TestBus_SlowSubscriberNeverBlocksPublish(t *testing.T) {
	b := NewBus(nil).WithBuffer(1)
	ctx := context.Background()

	ch, cancel := b.Subscribe(approvals.TopicNew)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Nobody drains ch; the second publish overflows the buffer and
		// must drop instead of blocking.
		b.Publish(ctx, newEvent(approvals.TopicNew, "first"))
		b.Publish(ctx, newEvent(approvals.TopicNew, "second"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	ev := recv(t, ch)
	assert.Equal(t, "first", ev.Approval.ID, "buffered event survives, overflow drops")
}

func TestBus_EventPayload(t *testing.T) {
	b := NewBus(nil)

	ch, cancel := b.Subscribe()
	defer cancel()

	want := newEvent(approvals.TopicNew, "ap-1")
	b.Publish(context.Background(), want)

	got := recv(t, ch)
	assert.Equal(t, "ap-1", got.Approval.ID)
	assert.Equal(t, approvals.TopicNew, got.Topic)
	assert.False(t, got.At.IsZero())
}
