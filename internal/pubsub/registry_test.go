package pubsub

import (
	"errors"
	"testing"
)

func TestRegistryOneFilterPerSubject(t *testing.T) {
	r := NewRegistry()
	h1 := func([]byte, *Metadata) error { return nil }
	h2 := func([]byte, *Metadata) error { return nil }

	if err := r.Register("test.app1.users.user.created", h1, SubscribeOptions{}); err != nil {
		t.Fatalf("Register h1: %v", err)
	}
	if err := r.Register("test.app1.users.user.created", h2, SubscribeOptions{}); err != nil {
		t.Fatalf("Register h2: %v", err)
	}

	if r.Len() != 1 {
		t.Fatalf("expected exactly one distinct filter, got %d", r.Len())
	}
	subs := r.HandlersFor("test.app1.users.user.created")
	if len(subs) != 2 {
		t.Fatalf("expected both handlers registered under the one filter, got %d", len(subs))
	}
}

func TestRegistryRejectsEmptyFilter(t *testing.T) {
	r := NewRegistry()
	err := r.Register("", func([]byte, *Metadata) error { return nil }, SubscribeOptions{})
	if !errors.Is(err, ErrSubscriptionError) {
		t.Errorf("expected ErrSubscriptionError, got %v", err)
	}
}

func TestRegistryRejectsNilHandler(t *testing.T) {
	r := NewRegistry()
	err := r.Register("test.app1.x", nil, SubscribeOptions{})
	if !errors.Is(err, ErrSubscriptionError) {
		t.Errorf("expected ErrSubscriptionError, got %v", err)
	}
}

func TestRegistryFiltersPreservesOrder(t *testing.T) {
	r := NewRegistry()
	noop := func([]byte, *Metadata) error { return nil }
	_ = r.Register("a.>", noop, SubscribeOptions{})
	_ = r.Register("b.>", noop, SubscribeOptions{})
	_ = r.Register("a.>", noop, SubscribeOptions{})

	got := r.Filters()
	want := []string{"a.>", "b.>"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
