// Package engine implements the resolution engine: it evaluates the rule
// registry against a normalized snapshot, resolves conflicts through
// suppression, composes confidence, and assembles the final explanation.
//
// The engine is a single-invocation computation. Explain reads no files,
// spawns nothing, and never mutates its inputs; its only I/O is the
// diagnostic log lines it writes to stderr through the logging package.
// It is safe to call concurrently as long as each call owns its snapshot.
package engine

import (
	"fmt"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/checks"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/logging"
	"github.com/moolen/poddiag/internal/rules"
	"github.com/moolen/poddiag/internal/snapshot"
	"github.com/moolen/poddiag/internal/timeline"
)

// Version is the default engine version stamped into metadata.
const Version = "0.1.0"

// Options are the recognized configuration knobs.
type Options struct {
	// EnableCategories restricts rules to these categories; empty = all.
	EnableCategories []string
	// DisableCategories removes rules in these categories after the
	// enable filter.
	DisableCategories []string
	// Verbose includes the per-rule evaluation trace in metadata.
	Verbose bool
	// EngineVersion overrides the version stamped into metadata.
	EngineVersion string
}

// Engine evaluates the registry against snapshots. It is immutable after
// construction.
type Engine struct {
	registry *rules.Registry
	logger   *logging.Logger
	version  string
}

// New builds an engine over the given registry. A nil registry selects
// the built-in corpus; registry construction failures fail engine
// construction.
func New(registry *rules.Registry) (*Engine, error) {
	if registry == nil {
		var err error
		registry, err = rules.DefaultRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to build default registry: %w", err)
		}
	}
	return &Engine{
		registry: registry,
		logger:   logging.GetLogger("engine"),
		version:  Version,
	}, nil
}

// Registry exposes the engine's rule registry, read-only.
func (e *Engine) Registry() *rules.Registry {
	return e.registry
}

// evaluation carries one rule's outcome through resolution.
type evaluation struct {
	rule       rules.Rule
	meta       rules.Meta
	order      int // position in registry order
	matched    bool
	chain      causality.CausalChain
	suppressed bool
	suppressor string
	composed   float64
}

// Explain runs the full resolution algorithm over one snapshot.
func (e *Engine) Explain(snap *snapshot.Snapshot, opts Options) *causality.Explanation {
	version := opts.EngineVersion
	if version == "" {
		version = e.version
	}

	exp := &causality.Explanation{
		SuppressedRules:     []causality.SuppressedRule{},
		Evidence:            []causality.Evidence{},
		SuggestedNextChecks: []string{},
		Metadata: causality.Metadata{
			EngineVersion: version,
		},
	}
	if snap != nil {
		exp.Metadata.InputsHash = snap.Hash()
	}

	if snap == nil {
		exp.Metadata.Error = "InputInvalid: snapshot is nil"
		return exp
	}

	g, tl, err := graph.Normalize(snap)
	if err != nil {
		e.logger.WarnWithFields("input rejected", logging.Field("error", err.Error()))
		exp.Metadata.Error = err.Error()
		return exp
	}

	log := e.logger.WithField("pod", g.PodName())
	log.Debug("evaluating %d rules", e.registry.Len())

	evals := e.evaluate(g, tl, opts, exp)
	matches := matched(evals)
	exp.Metadata.RulesMatched = len(matches)

	if len(matches) == 0 {
		return e.noMatch(exp, opts, evals)
	}

	applySuppression(matches)
	for _, ev := range matches {
		if ev.suppressed {
			exp.SuppressedRules = append(exp.SuppressedRules, causality.SuppressedRule{
				Name:   ev.meta.Name,
				Reason: fmt.Sprintf("suppressed by %s", ev.suppressor),
			})
		}
	}

	unsuppressed := survivors(matches)
	if len(unsuppressed) == 0 {
		// Every match suppressed each other out; treat as no signal.
		return e.noMatch(exp, opts, evals)
	}

	composeAll(matches, g)

	winner := selectWinner(unsuppressed)
	log.InfoWithFields("resolution complete",
		logging.Field("winner", winner.meta.Name),
		logging.Field("confidence", fmt.Sprintf("%.3f", winner.composed)),
		logging.Field("matched", len(matches)),
	)

	e.assemble(exp, winner, unsuppressed)

	if opts.Verbose {
		exp.Metadata.RulesEvaluated = trace(evals)
	}
	return exp
}

// evaluate runs steps 2-4: requires filter, category filter, and rule
// evaluation in registry order. Rule panics are contained per the
// RuleInternal policy: record and treat as not-matching.
func (e *Engine) evaluate(g *graph.Graph, tl *timeline.Timeline, opts Options, exp *causality.Explanation) []*evaluation {
	var evals []*evaluation
	for i, rule := range e.registry.Rules() {
		meta := rule.Meta()

		if skipByCategory(meta.Category, opts) {
			continue
		}
		if !requirementsMet(meta.Requires.Objects, g) {
			// Skipped, not evaluated: absent requirements say nothing
			// about whether the rule would have matched.
			continue
		}

		ev := &evaluation{rule: rule, meta: meta, order: i}
		evals = append(evals, ev)

		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.ErrorWithFields("rule panicked",
						logging.Field("rule", meta.Name),
						logging.Field("panic", fmt.Sprintf("%v", r)),
					)
					exp.Metadata.RuleErrors = append(exp.Metadata.RuleErrors, causality.RuleError{
						Rule:    meta.Name,
						Message: fmt.Sprintf("%v", r),
					})
					ev.matched = false
				}
			}()
			if rule.Matches(g, tl) {
				ev.matched = true
				ev.chain = rule.Explain(g, tl)
			}
		}()
	}
	return evals
}

func skipByCategory(category string, opts Options) bool {
	if len(opts.EnableCategories) > 0 && !contains(opts.EnableCategories, category) {
		return true
	}
	return contains(opts.DisableCategories, category)
}

func requirementsMet(required []string, g *graph.Graph) bool {
	for _, kind := range required {
		if !g.Present(kind) {
			return false
		}
	}
	return true
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func matched(evals []*evaluation) []*evaluation {
	var out []*evaluation
	for _, ev := range evals {
		if ev.matched {
			out = append(out, ev)
		}
	}
	return out
}

func survivors(matches []*evaluation) []*evaluation {
	var out []*evaluation
	for _, ev := range matches {
		if !ev.suppressed {
			out = append(out, ev)
		}
	}
	return out
}

// selectWinner picks the highest composed confidence; ties break to
// higher priority, then earlier registry order.
func selectWinner(unsuppressed []*evaluation) *evaluation {
	winner := unsuppressed[0]
	for _, ev := range unsuppressed[1:] {
		if ev.composed > winner.composed {
			winner = ev
			continue
		}
		if ev.composed == winner.composed {
			if ev.meta.Priority > winner.meta.Priority {
				winner = ev
				continue
			}
			if ev.meta.Priority == winner.meta.Priority && ev.order < winner.order {
				winner = ev
			}
		}
	}
	return winner
}

// assemble builds the final explanation from the winner and the other
// unsuppressed matches (steps 7-9).
func (e *Engine) assemble(exp *causality.Explanation, winner *evaluation, unsuppressed []*evaluation) {
	chain := winner.chain
	seen := map[string]bool{}
	for _, group := range [][]causality.Cause{chain.Causes, chain.Symptoms, chain.Contributing} {
		for _, c := range group {
			seen[c.Identity()] = true
		}
	}
	// Other unsuppressed matches contribute their causes unless already
	// subsumed by identity.
	for _, ev := range unsuppressed {
		if ev == winner {
			continue
		}
		for _, c := range ev.chain.Causes {
			if seen[c.Identity()] {
				continue
			}
			seen[c.Identity()] = true
			chain.Contributing = append(chain.Contributing, c)
		}
	}
	exp.CausalChain = chain

	if root := chain.Root(); root != nil {
		exp.RootCause = root
		exp.Confidence = causality.Score(winner.composed)
	}

	// Evidence union across winner and contributing matches, deduplicated
	// by (source, locator), insertion order preserved.
	seenEv := map[string]bool{}
	appendEvidence := func(causes []causality.Cause) {
		for _, c := range causes {
			for _, evd := range c.Evidence {
				if seenEv[evd.Key()] {
					continue
				}
				seenEv[evd.Key()] = true
				exp.Evidence = append(exp.Evidence, evd)
			}
		}
	}
	appendEvidence(chain.Causes)
	appendEvidence(chain.Symptoms)
	appendEvidence(chain.Contributing)

	// Suggested checks: root cause first, then contributing causes,
	// first occurrence wins.
	seenCheck := map[string]bool{}
	appendChecks := func(kind, involved string) {
		for _, check := range checks.For(kind, involved) {
			if seenCheck[check] {
				continue
			}
			seenCheck[check] = true
			exp.SuggestedNextChecks = append(exp.SuggestedNextChecks, check)
		}
	}
	if exp.RootCause != nil {
		appendChecks(exp.RootCause.Kind, exp.RootCause.InvolvedObject)
	}
	for _, c := range chain.Contributing {
		appendChecks(c.Kind, c.InvolvedObject)
	}
}

// noMatch returns the default advisory explanation (the NoMatch policy:
// zero matches is not an error).
func (e *Engine) noMatch(exp *causality.Explanation, opts Options, evals []*evaluation) *causality.Explanation {
	exp.RootCause = nil
	exp.Confidence = 0
	exp.CausalChain = causality.CausalChain{Causes: []causality.Cause{}}
	exp.SuggestedNextChecks = append([]string{}, checks.DefaultAdvisory...)
	exp.Metadata.Error = ""
	if opts.Verbose {
		exp.Metadata.RulesEvaluated = trace(evals)
	}
	return exp
}

func trace(evals []*evaluation) []causality.RuleTrace {
	out := make([]causality.RuleTrace, 0, len(evals))
	for _, ev := range evals {
		out = append(out, causality.RuleTrace{
			Name:               ev.meta.Name,
			Matched:            ev.matched,
			Suppressed:         ev.suppressed,
			ComposedConfidence: causality.Score(ev.composed),
		})
	}
	return out
}
