// Package snapshot defines the engine's input record: a point-in-time
// capture of a Pod and the cluster objects related to it.
//
// A snapshot is plain data. Decoding into typed objects happens in the
// graph normalizer; this package only carries raw JSON slots, validates
// the required ones, and computes the deterministic inputs hash stamped
// into explanation metadata.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/moolen/poddiag/internal/timeline"
)

// Snapshot is the input record. Pod is the only slot Validate requires; a
// missing Events slot is accepted and reads as no events, and every other
// slot is optional. A nil slot means the object was not captured, which
// is distinct from a present-but-empty one.
type Snapshot struct {
	Pod            json.RawMessage `json:"pod"`
	Events         json.RawMessage `json:"events"`
	PVC            json.RawMessage `json:"pvc,omitempty"`
	PV             json.RawMessage `json:"pv,omitempty"`
	StorageClass   json.RawMessage `json:"storageclass,omitempty"`
	Node           json.RawMessage `json:"node,omitempty"`
	Owner          json.RawMessage `json:"owner,omitempty"`
	ServiceAccount json.RawMessage `json:"serviceaccount,omitempty"`
	Secrets        json.RawMessage `json:"secrets,omitempty"`
	ConfigMaps     json.RawMessage `json:"configmaps,omitempty"`
}

// InputError marks a structurally invalid snapshot. The engine maps it to
// an InputInvalid explanation instead of failing the invocation.
type InputError struct {
	Detail string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("InputInvalid: %s", e.Detail)
}

// NewInputError creates an InputError with the given detail.
func NewInputError(format string, args ...interface{}) *InputError {
	return &InputError{Detail: fmt.Sprintf(format, args...)}
}

// Validate checks the required slots. Events may be absent or an empty
// collection but the pod must be present and must be a JSON object.
func (s *Snapshot) Validate() error {
	if len(s.Pod) == 0 {
		return NewInputError("required object 'pod' is missing")
	}
	trimmed := bytes.TrimSpace(s.Pod)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return NewInputError("'pod' is not a JSON object")
	}
	return nil
}

// Hash returns the deterministic inputs hash: sha256 over the labeled
// concatenation of every populated slot. Identical inputs always produce
// the identical hash, across invocations and process restarts.
func (s *Snapshot) Hash() string {
	h := sha256.New()
	write := func(label string, raw json.RawMessage) {
		if len(raw) == 0 {
			return
		}
		h.Write([]byte(label))
		h.Write([]byte{0})
		h.Write(raw)
		h.Write([]byte{0})
	}
	write("pod", s.Pod)
	write("events", s.Events)
	write("pvc", s.PVC)
	write("pv", s.PV)
	write("storageclass", s.StorageClass)
	write("node", s.Node)
	write("owner", s.Owner)
	write("serviceaccount", s.ServiceAccount)
	write("secrets", s.Secrets)
	write("configmaps", s.ConfigMaps)
	return hex.EncodeToString(h.Sum(nil))
}

// DecodeEvents unwraps the events slot into raw event records. Accepted
// shapes: a bare array of events, a `kind: List` envelope with items, or
// a single event object. A nil slot yields an empty slice.
func (s *Snapshot) DecodeEvents() ([]timeline.RawEvent, error) {
	if len(s.Events) == 0 {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(s.Events)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var events []timeline.RawEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, NewInputError("events array malformed: %v", err)
		}
		return events, nil
	}

	var envelope struct {
		Kind  string            `json:"kind"`
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, NewInputError("events object malformed: %v", err)
	}
	if envelope.Kind == "List" || envelope.Items != nil {
		events := make([]timeline.RawEvent, 0, len(envelope.Items))
		for i, item := range envelope.Items {
			var ev timeline.RawEvent
			if err := json.Unmarshal(item, &ev); err != nil {
				return nil, NewInputError("events item %d malformed: %v", i, err)
			}
			events = append(events, ev)
		}
		return events, nil
	}

	var single timeline.RawEvent
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, NewInputError("event object malformed: %v", err)
	}
	return []timeline.RawEvent{single}, nil
}
