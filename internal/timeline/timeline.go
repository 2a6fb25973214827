// Package timeline normalizes raw Kubernetes events into semantically
// tagged signals and exposes temporal queries over them.
//
// The timeline is immutable after construction. Queries are small
// composable predicates over the ordered event sequence; none of them
// mutate cursors or shared state, so a Timeline is safe to share across
// rules and invocations.
package timeline

import (
	"time"

	dateparser "github.com/markusmobius/go-dateparser"
)

// RawEvent is the lenient decode target for a raw event record. Field
// names mirror the Kubernetes Event shape; timestamps stay strings so
// that legacy snapshots with non-RFC3339 stamps still load.
type RawEvent struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Count   int32  `json:"count"`
	Source  struct {
		Component string `json:"component"`
	} `json:"source"`
	InvolvedObject struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
	} `json:"involvedObject"`
	FirstTimestamp string `json:"firstTimestamp"`
	LastTimestamp  string `json:"lastTimestamp"`
	EventTime      string `json:"eventTime"`
}

// NormalizedEvent is a raw event after classification. Timestamps are unix
// seconds; a missing timestamp is zero.
type NormalizedEvent struct {
	Kind           EventKind  `json:"kind"`
	Phase          EventPhase `json:"phase"`
	Reason         string     `json:"reason"`
	Message        string     `json:"message"`
	Source         string     `json:"source"`
	FirstSeen      int64      `json:"firstSeen"`
	LastSeen       int64      `json:"lastSeen"`
	Count          int32      `json:"count"`
	InvolvedObject string     `json:"involvedObject,omitempty"`
}

// EffectiveCount is the event's occurrence count, never less than one.
func (e NormalizedEvent) EffectiveCount() int {
	if e.Count > 1 {
		return int(e.Count)
	}
	return 1
}

// Timeline is the ordered, semantically tagged view over normalized
// events. Ordering is by LastSeen ascending; ties keep stable input order.
type Timeline struct {
	events []NormalizedEvent
}

// Build normalizes raw events into a Timeline. Events with missing
// timestamps get FirstSeen=LastSeen=0 and keep their input position in
// the stable sort.
func Build(raw []RawEvent) *Timeline {
	events := make([]NormalizedEvent, 0, len(raw))
	for _, r := range raw {
		kind, phase := Classify(r.Reason)
		first := parseTimestamp(r.FirstTimestamp)
		last := parseTimestamp(r.LastTimestamp)
		if last == 0 {
			last = parseTimestamp(r.EventTime)
		}
		if first == 0 {
			first = last
		}
		if last == 0 {
			last = first
		}
		ne := NormalizedEvent{
			Kind:      kind,
			Phase:     phase,
			Reason:    r.Reason,
			Message:   r.Message,
			Source:    r.Source.Component,
			FirstSeen: first,
			LastSeen:  last,
			Count:     r.Count,
		}
		if r.InvolvedObject.Name != "" {
			ne.InvolvedObject = r.InvolvedObject.Kind + "/" + r.InvolvedObject.Name
		}
		events = append(events, ne)
	}
	stableSortByLastSeen(events)
	return &Timeline{events: events}
}

// stableSortByLastSeen sorts ascending by LastSeen without reordering ties.
// Insertion sort keeps the input order stable for equal timestamps.
func stableSortByLastSeen(events []NormalizedEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].LastSeen < events[j-1].LastSeen; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// parseTimestamp parses a raw timestamp string into unix seconds.
// RFC3339 is the fast path; anything else goes through the lenient
// dateparser so legacy snapshots with odd stamps still resolve. Unparsable
// or empty strings yield zero.
func parseTimestamp(s string) int64 {
	if s == "" || s == "null" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Unix()
	}
	// Pin CurrentTime so relative expressions cannot smuggle in wall-clock
	// nondeterminism.
	cfg := &dateparser.Configuration{CurrentTime: time.Unix(0, 0).UTC()}
	if d, err := dateparser.Parse(cfg, s); err == nil && !d.Time.IsZero() {
		return d.Time.Unix()
	}
	return 0
}

// Events returns the normalized events in timeline order. The returned
// slice must not be mutated.
func (t *Timeline) Events() []NormalizedEvent {
	return t.events
}

// Len returns the number of normalized events.
func (t *Timeline) Len() int {
	return len(t.events)
}

// Filter selects events by kind, phase and reason. Zero-valued fields
// match anything.
type Filter struct {
	Kind   EventKind
	Phase  EventPhase
	Reason string
}

func (f Filter) matches(e NormalizedEvent) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.Reason != "" && e.Reason != f.Reason {
		return false
	}
	return true
}

// Has reports whether any event matches the filter.
func (t *Timeline) Has(f Filter) bool {
	for _, e := range t.events {
		if f.matches(e) {
			return true
		}
	}
	return false
}

// Count returns the total effective occurrence count of matching events.
// Duplicate events reported with an incrementing count field contribute
// their count, not one.
func (t *Timeline) Count(f Filter) int {
	n := 0
	for _, e := range t.events {
		if f.matches(e) {
			n += e.EffectiveCount()
		}
	}
	return n
}

// First returns the earliest matching event, or nil.
func (t *Timeline) First(f Filter) *NormalizedEvent {
	for i := range t.events {
		if f.matches(t.events[i]) {
			e := t.events[i]
			return &e
		}
	}
	return nil
}

// Last returns the latest matching event, or nil.
func (t *Timeline) Last(f Filter) *NormalizedEvent {
	for i := len(t.events) - 1; i >= 0; i-- {
		if f.matches(t.events[i]) {
			e := t.events[i]
			return &e
		}
	}
	return nil
}

// DurationBetween returns the interval between the first event matching a
// and the last event matching b. Returns false when either side is absent
// or either timestamp is missing.
func (t *Timeline) DurationBetween(a, b Filter) (time.Duration, bool) {
	first := t.First(a)
	last := t.Last(b)
	if first == nil || last == nil {
		return 0, false
	}
	if first.FirstSeen == 0 || last.LastSeen == 0 {
		return 0, false
	}
	return time.Duration(last.LastSeen-first.FirstSeen) * time.Second, true
}

// Repeated reports whether events with the given reason occurred at least
// minCount times, optionally within a sliding window. A zero window means
// count-only. When any event of that reason is missing a timestamp the
// window constraint is ignored and only the count is enforced; this
// conservative fallback is deliberate.
func (t *Timeline) Repeated(reason string, minCount int, within time.Duration) bool {
	f := Filter{Reason: reason}
	if t.Count(f) < minCount {
		return false
	}
	if within <= 0 {
		return true
	}
	var matching []NormalizedEvent
	for _, e := range t.events {
		if f.matches(e) {
			if e.LastSeen == 0 {
				// Missing timestamp: fall back to count-only.
				return true
			}
			matching = append(matching, e)
		}
	}
	// Sliding window over the ordered matches, weighting by effective count.
	windowSec := int64(within / time.Second)
	for lo := 0; lo < len(matching); lo++ {
		total := 0
		for hi := lo; hi < len(matching); hi++ {
			if matching[hi].LastSeen-matching[lo].LastSeen > windowSec {
				break
			}
			total += matching[hi].EffectiveCount()
			if total >= minCount {
				return true
			}
		}
	}
	return false
}

// Pattern reports whether events satisfying each predicate appear in
// order, not necessarily contiguously.
func (t *Timeline) Pattern(preds ...func(NormalizedEvent) bool) bool {
	if len(preds) == 0 {
		return true
	}
	next := 0
	for _, e := range t.events {
		if preds[next](e) {
			next++
			if next == len(preds) {
				return true
			}
		}
	}
	return false
}

// Reason returns a predicate matching the given raw reason, for use with
// Pattern.
func Reason(reason string) func(NormalizedEvent) bool {
	return func(e NormalizedEvent) bool { return e.Reason == reason }
}

// KindPhase returns a predicate matching kind and phase, for use with
// Pattern.
func KindPhase(kind EventKind, phase EventPhase) func(NormalizedEvent) bool {
	return func(e NormalizedEvent) bool { return e.Kind == kind && e.Phase == phase }
}
