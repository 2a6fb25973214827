// Package rules holds the diagnostic rule corpus: the rule contract, the
// registry, the programmatic rules across scheduling, storage, image,
// container, probe, networking, admission, node-pressure and owner
// categories, and the declarative YAML rule interpreter.
//
// Rules are pure: Matches and Explain read the object graph and the
// timeline and nothing else. A rule must never mutate its inputs or keep
// state between invocations.
package rules

import (
	"fmt"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

// Rule categories.
const (
	CategoryScheduling   = "Scheduling"
	CategoryStorage      = "Storage"
	CategoryImage        = "Image"
	CategoryContainer    = "Container"
	CategoryProbe        = "Probe"
	CategoryNetworking   = "Networking"
	CategoryAdmission    = "Admission"
	CategoryNodePressure = "NodePressure"
	CategoryOwner        = "Owner"
	CategoryCompound     = "Compound"
)

// Requires declares a rule's object dependencies. A rule whose required
// objects are absent from the graph is skipped entirely; optional objects
// feed the data-completeness factor of the confidence composition.
type Requires struct {
	Objects  []string
	Optional []string
}

// Meta is the rule's static metadata.
type Meta struct {
	// Name is the unique rule identifier.
	Name string
	// Category groups rules for conflict scoring and operator filters.
	Category string
	// Priority breaks ties in resolution ordering; higher wins.
	Priority int
	// Confidence is the rule's declared baseline in [0,1].
	Confidence float64
	// Requires declares required and optional graph objects.
	Requires Requires
	// Blocks names the rules this rule suppresses when it matches.
	Blocks []string
	// ExpectedEvidence is the number of evidences (0..3) the rule expects
	// to attach when it fires; shortfalls count as missing corroboration.
	ExpectedEvidence int
}

// Rule is the capability set every rule implements. Matches is a pure
// predicate; Explain is invoked only after Matches returned true and must
// be deterministic and side-effect free.
type Rule interface {
	Meta() Meta
	Matches(g *graph.Graph, tl *timeline.Timeline) bool
	Explain(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain
}

// funcRule is the programmatic rule variant.
type funcRule struct {
	meta    Meta
	matches func(g *graph.Graph, tl *timeline.Timeline) bool
	explain func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain
}

func (r *funcRule) Meta() Meta { return r.meta }

func (r *funcRule) Matches(g *graph.Graph, tl *timeline.Timeline) bool {
	return r.matches(g, tl)
}

func (r *funcRule) Explain(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
	return r.explain(g, tl)
}

// ValidationError marks a malformed rule discovered at registry
// construction time.
type ValidationError struct {
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %q malformed: %s", e.Rule, e.Reason)
}

func validateMeta(m Meta) error {
	if m.Name == "" {
		return &ValidationError{Rule: "<unnamed>", Reason: "name must not be empty"}
	}
	if m.Category == "" {
		return &ValidationError{Rule: m.Name, Reason: "category must not be empty"}
	}
	if m.Priority < 0 || m.Priority > 1000 {
		return &ValidationError{Rule: m.Name, Reason: "priority must be within [0,1000]"}
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return &ValidationError{Rule: m.Name, Reason: "confidence must be within [0,1]"}
	}
	if m.ExpectedEvidence < 0 || m.ExpectedEvidence > 3 {
		return &ValidationError{Rule: m.Name, Reason: "expectedEvidence must be within [0,3]"}
	}
	for _, blocked := range m.Blocks {
		if blocked == m.Name {
			return &ValidationError{Rule: m.Name, Reason: "rule cannot block itself"}
		}
	}
	return nil
}
