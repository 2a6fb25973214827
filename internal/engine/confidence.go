package engine

import (
	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
)

// Confidence composition coefficients. Named constants so the scoring
// heuristic stays reviewable and adjustable without structural change.
const (
	// corroborationPenaltyStep is deducted from evidence quality per
	// declared-expected evidence that was not found.
	corroborationPenaltyStep = 0.1
	// completenessFloor is the minimum data-completeness factor.
	completenessFloor = 0.5
	// conflictPenaltyStep is deducted per other unsuppressed match in the
	// same category.
	conflictPenaltyStep = 0.1
	// conflictPenaltyFloor is the minimum conflict penalty.
	conflictPenaltyFloor = 0.5
	// defaultEvidenceWeight applies when a match carries no evidence at
	// all: treated as single-event quality rather than zero.
	defaultEvidenceWeight = 0.6
)

// composeAll computes the composed confidence for every matched rule:
//
//	composed = clamp01(ruleConfidence × evidenceQuality × dataCompleteness × conflictPenalty)
//
// Suppressed matches are scored too (the verbose trace reports them) but
// they never contend for the winner.
func composeAll(matches []*evaluation, g *graph.Graph) {
	// Count unsuppressed matches per category for the conflict penalty.
	perCategory := map[string]int{}
	for _, ev := range matches {
		if !ev.suppressed {
			perCategory[ev.meta.Category]++
		}
	}

	for _, ev := range matches {
		quality := evidenceQuality(ev)
		completeness := dataCompleteness(ev, g)
		conflict := conflictPenalty(perCategory[ev.meta.Category], ev.suppressed)
		ev.composed = causality.Clamp01(ev.meta.Confidence * quality * completeness * conflict)
	}
}

// evidenceQuality is the maximum source weight among the match's
// supporting evidences, reduced by the missing-corroboration penalty.
func evidenceQuality(ev *evaluation) float64 {
	maxWeight := 0.0
	found := 0
	for _, group := range [][]causality.Cause{ev.chain.Causes, ev.chain.Symptoms, ev.chain.Contributing} {
		for _, c := range group {
			for _, e := range c.Evidence {
				found++
				if w := e.Source.Weight(); w > maxWeight {
					maxWeight = w
				}
			}
		}
	}
	if maxWeight == 0 {
		maxWeight = defaultEvidenceWeight
	}

	missing := ev.meta.ExpectedEvidence - found
	if missing < 0 {
		missing = 0
	}
	if missing > 3 {
		missing = 3
	}
	return causality.Clamp01(maxWeight * (1.0 - corroborationPenaltyStep*float64(missing)))
}

// dataCompleteness is the fraction of the rule's optional objects that
// were actually captured, clamped to the completeness floor. Rules with
// no optional objects score full completeness.
func dataCompleteness(ev *evaluation, g *graph.Graph) float64 {
	optional := ev.meta.Requires.Optional
	if len(optional) == 0 {
		return 1.0
	}
	present := 0
	for _, kind := range optional {
		if g.Present(kind) {
			present++
		}
	}
	frac := float64(present) / float64(len(optional))
	if frac < completenessFloor {
		return completenessFloor
	}
	return frac
}

// conflictPenalty deducts for other unsuppressed matches in the same
// category, floored.
func conflictPenalty(unsuppressedInCategory int, suppressed bool) float64 {
	others := unsuppressedInCategory
	if !suppressed {
		// Do not count the match itself.
		others--
	}
	if others < 0 {
		others = 0
	}
	penalty := 1.0 - conflictPenaltyStep*float64(others)
	if penalty < conflictPenaltyFloor {
		return conflictPenaltyFloor
	}
	return penalty
}
