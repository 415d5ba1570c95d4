package stream

import (
	"context"
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	hub := New[string](4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := hub.Subscribe(ctx)
	b := hub.Subscribe(ctx)
	if hub.Subscribers() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.Subscribers())
	}

	hub.Publish("backup_code_failed")
	for _, ch := range []<-chan string{a, b} {
		select {
		case got := <-ch:
			if got != "backup_code_failed" {
				t.Fatalf("unexpected event %q", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = hub.Subscribe(ctx)
	hub.Publish(1)
	hub.Publish(2)
	if hub.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", hub.Dropped())
	}
}

func TestHubClosesOnCancel(t *testing.T) {
	hub := New[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("subscriber not removed")
	}
}
