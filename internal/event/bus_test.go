package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/portward/pkg/plugin"
	"go.uber.org/zap"
)

func TestBus_PublishDeliversToTopicHandlers(t *testing.T) {
	b := NewBus(zap.NewNop())

	var got atomic.Int64
	b.Subscribe("settings.updated", func(_ context.Context, _ plugin.Event) {
		got.Add(1)
	})
	b.Subscribe("other.topic", func(_ context.Context, _ plugin.Event) {
		t.Error("handler for unrelated topic invoked")
	})

	if err := b.Publish(context.Background(), plugin.Event{Topic: "settings.updated"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got.Load() != 1 {
		t.Errorf("handler invocations = %d, want 1", got.Load())
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(zap.NewNop())

	var got atomic.Int64
	unsub := b.Subscribe("settings.updated", func(_ context.Context, _ plugin.Event) {
		got.Add(1)
	})

	_ = b.Publish(context.Background(), plugin.Event{Topic: "settings.updated"})
	unsub()
	_ = b.Publish(context.Background(), plugin.Event{Topic: "settings.updated"})

	if got.Load() != 1 {
		t.Errorf("handler invocations = %d, want 1 (unsubscribe ignored)", got.Load())
	}
}

func TestBus_SubscribeAllSeesEveryTopic(t *testing.T) {
	b := NewBus(zap.NewNop())

	var got atomic.Int64
	b.SubscribeAll(func(_ context.Context, _ plugin.Event) {
		got.Add(1)
	})

	_ = b.Publish(context.Background(), plugin.Event{Topic: "a"})
	_ = b.Publish(context.Background(), plugin.Event{Topic: "b"})

	if got.Load() != 2 {
		t.Errorf("wildcard handler invocations = %d, want 2", got.Load())
	}
}

func TestBus_PanickingHandlerDoesNotAbortOthers(t *testing.T) {
	b := NewBus(zap.NewNop())

	var got atomic.Int64
	b.Subscribe("t", func(_ context.Context, _ plugin.Event) {
		panic("boom")
	})
	b.Subscribe("t", func(_ context.Context, _ plugin.Event) {
		got.Add(1)
	})

	_ = b.Publish(context.Background(), plugin.Event{Topic: "t"})

	if got.Load() != 1 {
		t.Errorf("surviving handler invocations = %d, want 1", got.Load())
	}
}

func TestBus_PublishAsyncEventuallyDelivers(t *testing.T) {
	b := NewBus(zap.NewNop())

	done := make(chan struct{})
	b.Subscribe("t", func(_ context.Context, _ plugin.Event) {
		close(done)
	})

	b.PublishAsync(context.Background(), plugin.Event{Topic: "t"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler not invoked within 2s")
	}
}
