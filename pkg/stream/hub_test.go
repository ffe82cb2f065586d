package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := NewEvent(TypeGroup, map[string]string{"id": "-100"})
	if evt.Type != TypeGroup || evt.At == "" {
		t.Fatalf("unexpected event %+v", evt)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["id"] != "-100" {
		t.Fatalf("expected id=-100, got %q", payload["id"])
	}
	if NewEvent("x", nil).Data != nil {
		t.Fatal("expected nil data")
	}
}

func TestSubscribePublishAndUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe(1)
	h.Publish(NewEvent(TypeLike, nil))
	select {
	case evt := <-ch:
		if evt.Type != TypeLike {
			t.Fatalf("expected like event, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if h.Subscribers() != 0 {
		t.Fatal("expected no subscribers")
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()

	h := NewHub()
	admissions := h.Subscribe(4, TypeAdmission, "")
	all := h.Subscribe(4)
	h.Publish(NewEvent(TypeLike, nil))
	h.Publish(NewEvent(TypeAdmission, nil))

	if evt := <-admissions; evt.Type != TypeAdmission {
		t.Fatalf("filtered subscriber got %q", evt.Type)
	}
	select {
	case evt := <-admissions:
		t.Fatalf("unexpected extra event %q", evt.Type)
	default:
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered subscriber expected 2 events, got %d", len(all))
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	h := NewHub()
	_ = h.Subscribe(1)
	h.Publish(NewEvent(TypeLimit, nil))
	h.Publish(NewEvent(TypeLimit, nil))
	if h.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", h.Dropped())
	}
}
