package pubsub

import "fmt"

// Subscription describes one handler's binding to a subject filter (§4.6).
type Subscription struct {
	Filter  string
	Handler Handler
	Options SubscribeOptions
}

// Registry maps a subject filter to an ordered list of Subscriptions.
// Register adds a handler under one filter; calling it once per filter
// registers the same handler under multiple filters. Lookup is O(1) by exact filter
// string — the Consumer creates exactly one durable pull consumer per
// distinct filter, never one per handler (§8 invariant).
//
// Registry is written only before Consumer.Run and is read-only thereafter;
// no synchronization is needed once the engine is running (§5).
type Registry struct {
	byFilter map[string][]Subscription
	order    []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byFilter: make(map[string][]Subscription)}
}

// Register adds handler to the given filter's subscriber list. Filter must
// be a valid subscribe-time subject (wildcards permitted).
func (r *Registry) Register(filter string, handler Handler, opts SubscribeOptions) error {
	if filter == "" {
		return fmt.Errorf("%w: subscribe filter must not be empty", ErrSubscriptionError)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler must not be nil", ErrSubscriptionError)
	}
	if _, exists := r.byFilter[filter]; !exists {
		r.order = append(r.order, filter)
	}
	r.byFilter[filter] = append(r.byFilter[filter], Subscription{Filter: filter, Handler: handler, Options: opts})
	return nil
}

// Filters returns the distinct filter strings in registration order.
func (r *Registry) Filters() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HandlersFor returns the ordered subscriber list for an exact filter.
func (r *Registry) HandlersFor(filter string) []Subscription {
	return r.byFilter[filter]
}

// Len returns the number of distinct filters registered.
func (r *Registry) Len() int {
	return len(r.order)
}
