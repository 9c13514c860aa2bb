package pubsub

import "testing"

type orderPayload struct {
	ID string `json:"id"`
}

func TestStructValidatorAcceptsValidPayload(t *testing.T) {
	v := StructValidator{Target: func() any { return &orderPayload{} }}
	result := v.Validate("orders.order.placed", []byte(`{"id":"o1"}`))
	if !result.Valid {
		t.Errorf("expected valid, got errors: %+v", result.Errors)
	}
}

func TestStructValidatorRejectsInvalidJSON(t *testing.T) {
	v := StructValidator{Target: func() any { return &orderPayload{} }}
	result := v.Validate("orders.order.placed", []byte(`not json`))
	if result.Valid {
		t.Error("expected invalid for malformed JSON")
	}
}

func TestStructValidatorRejectsSchemaMismatch(t *testing.T) {
	v := StructValidator{Target: func() any { return &orderPayload{} }}
	result := v.Validate("orders.order.placed", []byte(`{"id":123}`))
	if result.Valid {
		t.Error("expected invalid for type mismatch")
	}
	if len(result.Errors) == 0 {
		t.Error("expected at least one field error")
	}
}

func TestSchemaRegistryFallsBackToDefault(t *testing.T) {
	r := NewSchemaRegistry(nil)
	result := r.Validate("unregistered.subject", []byte(`{"anything":true}`))
	if !result.Valid {
		t.Error("expected pass-through validation for unregistered subject")
	}
}

func TestSchemaRegistryUsesRegisteredValidator(t *testing.T) {
	r := NewSchemaRegistry(nil)
	r.Register("orders.order.placed", StructValidator{Target: func() any { return &orderPayload{} }})

	result := r.Validate("orders.order.placed", []byte(`{"id":123}`))
	if result.Valid {
		t.Error("expected registered validator to reject type mismatch")
	}
}
