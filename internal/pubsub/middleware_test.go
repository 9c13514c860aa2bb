package pubsub

import (
	"errors"
	"testing"
)

func TestChainOrderIsInsertionOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(payload []byte, meta *Metadata, next Next) error {
			trace = append(trace, "before:"+name)
			err := next()
			trace = append(trace, "after:"+name)
			return err
		}
	}

	c := NewChain(mw("a"), mw("b"))
	err := c.Run(nil, &Metadata{}, func([]byte, *Metadata) error {
		trace = append(trace, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"before:a", "before:b", "handler", "after:b", "after:a"}
	if len(trace) != len(want) {
		t.Fatalf("got %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, trace[i], want[i])
		}
	}
}

func TestChainShortCircuit(t *testing.T) {
	handlerCalled := false
	shortCircuit := func(payload []byte, meta *Metadata, next Next) error {
		return nil // never calls next
	}

	c := NewChain(shortCircuit)
	err := c.Run(nil, &Metadata{}, func([]byte, *Metadata) error {
		handlerCalled = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if handlerCalled {
		t.Error("handler should not have been called")
	}
}

func TestChainErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	c := NewChain(func(payload []byte, meta *Metadata, next Next) error { return next() })
	err := c.Run(nil, &Metadata{}, func([]byte, *Metadata) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestUseAppendsToChain(t *testing.T) {
	var trace []string
	c := NewChain()
	c.Use(func(payload []byte, meta *Metadata, next Next) error {
		trace = append(trace, "mw")
		return next()
	})
	_ = c.Run(nil, &Metadata{}, func([]byte, *Metadata) error {
		trace = append(trace, "handler")
		return nil
	})
	if len(trace) != 2 || trace[0] != "mw" || trace[1] != "handler" {
		t.Errorf("got %v", trace)
	}
}
