package pubsub

import (
	"encoding/json"
	"fmt"
)

// FieldError describes one field-level validation failure.
type FieldError struct {
	Field   string
	Message string
}

// ValidationResult is the outcome of a Validator run.
type ValidationResult struct {
	Valid  bool
	Errors []FieldError
}

// Validator is "a pluggable structural validator returning a success/
// failure plus a list of field-level error descriptions" (§9, generalizing
// the source's Zod-based schema validator). Callers may supply their own;
// the default here is a minimal JSON-Schema-like validator driven by a
// struct target, grounded on the donor's subject-keyed switch validator.
type Validator interface {
	Validate(subject string, payload []byte) ValidationResult
}

// StructValidator validates that payload unmarshals into a zero value of
// Target without error. It is the pragmatic middle ground between "accept
// any JSON" and a full JSON-Schema engine: most Go services validate
// structurally via their decode target anyway.
type StructValidator struct {
	// Target must be a pointer-producing factory, e.g. func() any { return &Order{} }.
	Target func() any
}

// Validate implements Validator.
func (v StructValidator) Validate(subject string, payload []byte) ValidationResult {
	if !json.Valid(payload) {
		return ValidationResult{Valid: false, Errors: []FieldError{{Field: "", Message: "invalid JSON"}}}
	}
	if v.Target == nil {
		return ValidationResult{Valid: true}
	}
	target := v.Target()
	if err := json.Unmarshal(payload, target); err != nil {
		return ValidationResult{Valid: false, Errors: []FieldError{{
			Field:   subject,
			Message: fmt.Sprintf("schema validation failed: %v", err),
		}}}
	}
	return ValidationResult{Valid: true}
}

// SchemaRegistry maps subjects to Validators, mirroring the donor's
// subject-keyed switch but expressed as a pluggable table so callers can
// register their own validators without editing this package.
type SchemaRegistry struct {
	byExactSubject map[string]Validator
	fallback       Validator
}

// NewSchemaRegistry returns an empty registry. A nil fallback accepts any
// valid JSON for subjects with no registered validator.
func NewSchemaRegistry(fallback Validator) *SchemaRegistry {
	return &SchemaRegistry{byExactSubject: make(map[string]Validator), fallback: fallback}
}

// Register binds a Validator to an exact subject.
func (r *SchemaRegistry) Register(subject string, v Validator) {
	r.byExactSubject[subject] = v
}

// Validate looks up the Validator for subject and runs it, falling back to
// the registry's default (or pass-through if none) when unregistered.
func (r *SchemaRegistry) Validate(subject string, payload []byte) ValidationResult {
	if v, ok := r.byExactSubject[subject]; ok {
		return v.Validate(subject, payload)
	}
	if r.fallback != nil {
		return r.fallback.Validate(subject, payload)
	}
	if !json.Valid(payload) {
		return ValidationResult{Valid: false, Errors: []FieldError{{Field: "", Message: "invalid JSON"}}}
	}
	return ValidationResult{Valid: true}
}
