package pubsub

import (
	"fmt"
	"time"
)

// ParseBackoffSchedule parses a list of human duration strings into an
// ordered per-attempt delay schedule (§3 ConsumerSpec.backoff, §4.5 Outbox
// Relay backoff). Distinct from config's parseDurations: this is exposed
// for engine/consumer code that builds a schedule outside the config
// loading path (e.g. a per-subscriber SubscribeOptions override).
func ParseBackoffSchedule(raw []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff duration %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ScheduleDelay returns the delay for a 1-indexed attempt number, clamping
// to the schedule's final entry once attempts exceed its length (§4.5's
// "then cap" behavior).
func ScheduleDelay(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
