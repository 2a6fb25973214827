package rules

import (
	_ "embed"
	"fmt"
	"time"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

// Declarative rules are data, not code: a rule file declares object
// requirements, a closed set of predicates, and a fixed chain template.
// The interpreter below evaluates them; nothing in a rule file can
// execute arbitrary logic.

//go:embed rules.yaml
var embeddedRules []byte

// Predicate is one condition in a declarative rule. Exactly one field is
// set; all predicates of a rule must hold for the rule to match.
type Predicate struct {
	// HasEvent matches any event with the given kind/phase/reason.
	HasEvent *struct {
		Kind   string `yaml:"kind"`
		Phase  string `yaml:"phase"`
		Reason string `yaml:"reason"`
	} `yaml:"hasEvent,omitempty"`
	// MessageContains matches an event (optionally of one reason) whose
	// message contains all substrings.
	MessageContains *struct {
		Reason     string   `yaml:"reason"`
		Substrings []string `yaml:"substrings"`
	} `yaml:"messageContains,omitempty"`
	// PodPhase matches the pod phase exactly.
	PodPhase string `yaml:"podPhase,omitempty"`
	// Repeated matches when the reason occurred at least minCount times,
	// optionally within a window.
	Repeated *struct {
		Reason        string `yaml:"reason"`
		MinCount      int    `yaml:"minCount"`
		WithinSeconds int64  `yaml:"withinSeconds"`
	} `yaml:"repeated,omitempty"`
	// ContainerWaiting matches a container waiting with the reason.
	ContainerWaiting string `yaml:"containerWaiting,omitempty"`
}

// CauseTemplate is the declarative form of a cause.
type CauseTemplate struct {
	Kind    string `yaml:"kind"`
	Message string `yaml:"message"`
}

// ChainTemplate is the declarative form of a causal chain.
type ChainTemplate struct {
	Causes       []CauseTemplate `yaml:"causes"`
	Symptoms     []CauseTemplate `yaml:"symptoms"`
	Contributing []CauseTemplate `yaml:"contributing"`
}

// DeclarativeSpec is one rule as loaded from YAML.
type DeclarativeSpec struct {
	Name       string      `yaml:"name"`
	Category   string      `yaml:"category"`
	Priority   int         `yaml:"priority"`
	Confidence float64     `yaml:"confidence"`
	Requires   struct {
		Objects  []string `yaml:"objects"`
		Optional []string `yaml:"optional"`
	} `yaml:"requires"`
	Blocks []string      `yaml:"blocks"`
	When   []Predicate   `yaml:"when"`
	Chain  ChainTemplate `yaml:"chain"`
}

type rulesFile struct {
	Rules []DeclarativeSpec `yaml:"rules"`
}

// declRule is the declarative rule variant: a spec plus the interpreter.
type declRule struct {
	spec DeclarativeSpec
}

func (r *declRule) Meta() Meta {
	return Meta{
		Name:       r.spec.Name,
		Category:   r.spec.Category,
		Priority:   r.spec.Priority,
		Confidence: r.spec.Confidence,
		Requires: Requires{
			Objects:  r.spec.Requires.Objects,
			Optional: r.spec.Requires.Optional,
		},
		Blocks:           r.spec.Blocks,
		ExpectedEvidence: min(len(r.spec.When), 3),
	}
}

func (r *declRule) Matches(g *graph.Graph, tl *timeline.Timeline) bool {
	if len(r.spec.When) == 0 {
		return false
	}
	for _, p := range r.spec.When {
		if !evalPredicate(p, g, tl) {
			return false
		}
	}
	return true
}

func (r *declRule) Explain(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
	evidence := r.collectEvidence(g, tl)
	build := func(templates []CauseTemplate, attach bool) []causality.Cause {
		out := make([]causality.Cause, 0, len(templates))
		for i, tmpl := range templates {
			c := causality.NewCause(tmpl.Kind, podRef(g), tmpl.Message, r.spec.Confidence)
			if attach && i == 0 {
				c.Evidence = evidence
			}
			out = append(out, c)
		}
		return out
	}
	return causality.CausalChain{
		Causes:       build(r.spec.Chain.Causes, true),
		Symptoms:     build(r.spec.Chain.Symptoms, false),
		Contributing: build(r.spec.Chain.Contributing, false),
	}
}

// collectEvidence turns each satisfied predicate into an evidence record.
func (r *declRule) collectEvidence(g *graph.Graph, tl *timeline.Timeline) []causality.Evidence {
	var out []causality.Evidence
	for _, p := range r.spec.When {
		switch {
		case p.ContainerWaiting != "":
			if cs := waitingContainer(g, p.ContainerWaiting); cs != nil {
				out = append(out, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
					"waiting reason "+p.ContainerWaiting))
			}
		case p.PodPhase != "":
			out = append(out, objectEvidence("pod.status.phase", p.PodPhase))
		case p.HasEvent != nil:
			f := timeline.Filter{
				Kind:   timeline.EventKind(p.HasEvent.Kind),
				Phase:  timeline.EventPhase(p.HasEvent.Phase),
				Reason: p.HasEvent.Reason,
			}
			if e := tl.First(f); e != nil {
				out = append(out, eventEvidence(e))
			}
		case p.MessageContains != nil:
			if e := eventWithMessage(tl, p.MessageContains.Reason, p.MessageContains.Substrings...); e != nil {
				out = append(out, eventEvidence(e))
			}
		case p.Repeated != nil:
			out = append(out, timelineEvidence(p.Repeated.Reason,
				fmt.Sprintf("at least %d occurrences", p.Repeated.MinCount)))
		}
	}
	return out
}

func evalPredicate(p Predicate, g *graph.Graph, tl *timeline.Timeline) bool {
	switch {
	case p.HasEvent != nil:
		return tl.Has(timeline.Filter{
			Kind:   timeline.EventKind(p.HasEvent.Kind),
			Phase:  timeline.EventPhase(p.HasEvent.Phase),
			Reason: p.HasEvent.Reason,
		})
	case p.MessageContains != nil:
		return eventWithMessage(tl, p.MessageContains.Reason, p.MessageContains.Substrings...) != nil
	case p.PodPhase != "":
		return string(g.Phase()) == p.PodPhase
	case p.Repeated != nil:
		return tl.Repeated(p.Repeated.Reason, p.Repeated.MinCount,
			time.Duration(p.Repeated.WithinSeconds)*time.Second)
	case p.ContainerWaiting != "":
		return waitingContainer(g, p.ContainerWaiting) != nil
	default:
		return false
	}
}

func validateSpec(spec DeclarativeSpec) error {
	if spec.Name == "" {
		return &ValidationError{Rule: "<unnamed>", Reason: "declarative rule needs a name"}
	}
	if len(spec.When) == 0 {
		return &ValidationError{Rule: spec.Name, Reason: "declarative rule needs at least one predicate"}
	}
	if len(spec.Chain.Causes) == 0 {
		return &ValidationError{Rule: spec.Name, Reason: "declarative rule needs at least one cause"}
	}
	for _, p := range spec.When {
		set := 0
		if p.HasEvent != nil {
			set++
		}
		if p.MessageContains != nil {
			set++
		}
		if p.PodPhase != "" {
			set++
		}
		if p.Repeated != nil {
			set++
		}
		if p.ContainerWaiting != "" {
			set++
		}
		if set != 1 {
			return &ValidationError{Rule: spec.Name, Reason: "each predicate must set exactly one condition"}
		}
	}
	return nil
}

func buildDeclarative(specs []DeclarativeSpec) ([]Rule, error) {
	out := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
		if spec.Category == "" {
			spec.Category = CategoryContainer
		}
		out = append(out, &declRule{spec: spec})
	}
	return out, nil
}

// EmbeddedDeclarativeRules parses the declarative corpus shipped with
// the binary.
func EmbeddedDeclarativeRules() ([]Rule, error) {
	var parsed rulesFile
	if err := yaml.Unmarshal(embeddedRules, &parsed); err != nil {
		return nil, fmt.Errorf("embedded rules corrupt: %w", err)
	}
	return buildDeclarative(parsed.Rules)
}

// LoadDeclarativeFile loads an operator-supplied rule file. Same schema
// as the embedded corpus: a top-level `rules:` list.
func LoadDeclarativeFile(path string) ([]Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load rules file %q: %w", path, err)
	}
	var specs []DeclarativeSpec
	if err := k.UnmarshalWithConf("rules", &specs, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return buildDeclarative(specs)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
