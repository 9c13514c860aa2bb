// Package pubsub implements the message-plane engine: the envelope and
// subject grammar, the middleware chain, the error taxonomy and error
// handler policy, the subscriber registry, and the pluggable schema
// validator. Broker-specific and storage-specific adapters live under
// internal/adapter; this package has no dependency on NATS, and its only
// Postgres dependency is the pgxpool.Pool that DBScopeMiddleware acquires from.
package pubsub

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Subject is a dot-delimited broker routing key: {env}.{app}.{topic}.
// Topic itself may be further dot-delimited, e.g. "users.user.created".
type Subject string

// wildcard tokens permitted on subscribe, forbidden on publish.
const (
	wildcardOne  = "*"
	wildcardTail = ">"
)

// BuildSubject composes and validates a publish-time subject from its
// parts. Wildcards are rejected — they are only meaningful on subscribe.
func BuildSubject(env, app, topic string) (string, error) {
	if env == "" || app == "" || topic == "" {
		return "", fmt.Errorf("%w: env, app and topic are all required", ErrMalformedMessage)
	}
	subject := Normalize(env + "." + app + "." + topic)
	for _, tok := range strings.Split(subject, ".") {
		if tok == wildcardOne || tok == wildcardTail {
			return "", fmt.Errorf("%w: wildcards are not permitted in a publish subject %q", ErrMalformedMessage, subject)
		}
	}
	return subject, nil
}

// ParsedSubject is the decomposed form of a subject produced by ParseSubject.
type ParsedSubject struct {
	Env   string
	App   string
	Topic string
}

// ParseSubject splits a subject of the form {env}.{app}.{topic...} into its
// parts. Topic retains any remaining dot-delimited segments.
func ParseSubject(s string) (ParsedSubject, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ParsedSubject{}, fmt.Errorf("%w: subject %q does not match {env}.{app}.{topic}", ErrMalformedMessage, s)
	}
	return ParsedSubject{Env: parts[0], App: parts[1], Topic: parts[2]}, nil
}

// Normalize lowercases a subject and replaces any character outside
// [a-z0-9_.>*-] with an underscore. Normalization is idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if isAllowedSubjectRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func isAllowedSubjectRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '>' || r == '*' || r == '-':
		return true
	default:
		return false
	}
}

// DLQSubject returns the dead-letter subject for a given env/app pair,
// {env}.{app}.dlq, matching §6's broker wire contract.
func DLQSubject(env, app string) string {
	return Normalize(env + "." + app + ".dlq")
}

// EventsSubjectFilter returns the wildcard filter an engine's primary
// stream is provisioned with: {env}.>.
func EventsSubjectFilter(env string) string {
	return Normalize(env) + ".>"
}

// sanitizeDurableName turns a filter subject into a JetStream-safe durable
// consumer name by replacing '.', '*' and '>' with '_'. Kept distinct from
// Normalize because durable names additionally collapse repeated underscores
// that would otherwise arise from a trailing ">" or "*" token.
func sanitizeDurableName(filter string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_")
	sanitized := r.Replace(filter)
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	return strings.Trim(sanitized, "_")
}

// DurableName derives the durable pull-consumer name for a registered
// filter: a human-readable sanitized prefix plus a short blake2b hash of
// the full filter string. The hash, not the sanitized text, is what makes
// the name unique — two distinct filters that sanitize to the same prefix
// (e.g. "a.b.*" and "a.b.>") still get distinct durables.
func DurableName(appName, filter string) string {
	prefix := sanitizeDurableName(appName + "_" + filter)
	if len(prefix) > 48 {
		prefix = prefix[:48]
	}
	sum := blake2b.Sum256([]byte(filter))
	return prefix + "_" + hex.EncodeToString(sum[:])[:8]
}
