package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/rules"
	"github.com/moolen/poddiag/internal/snapshot"
)

func emptyGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, _, err := graph.Normalize(&snapshot.Snapshot{
		Pod: []byte(`{"metadata":{"name":"x"},"status":{"phase":"Running"}}`),
	})
	require.NoError(t, err)
	return g
}

func evalWith(meta rules.Meta, evidence ...causality.Evidence) *evaluation {
	cause := causality.NewCause("X", "pod:x", "x", meta.Confidence, evidence...)
	return &evaluation{
		meta:    meta,
		matched: true,
		chain:   causality.CausalChain{Causes: []causality.Cause{cause}},
	}
}

func TestEvidenceQuality_SourceWeights(t *testing.T) {
	object := evalWith(rules.Meta{Confidence: 1, ExpectedEvidence: 1},
		causality.Evidence{Source: causality.SourceObjectState, Locator: "a"})
	assert.Equal(t, 1.0, evidenceQuality(object))

	condition := evalWith(rules.Meta{Confidence: 1, ExpectedEvidence: 1},
		causality.Evidence{Source: causality.SourceCondition, Locator: "a"})
	assert.Equal(t, 0.9, evidenceQuality(condition))

	event := evalWith(rules.Meta{Confidence: 1, ExpectedEvidence: 1},
		causality.Evidence{Source: causality.SourceEvent, Locator: "a"})
	assert.Equal(t, 0.6, evidenceQuality(event))
}

func TestEvidenceQuality_MissingCorroborationPenalty(t *testing.T) {
	// Expected three, found one: two missing, 0.2 off.
	ev := evalWith(rules.Meta{Confidence: 1, ExpectedEvidence: 3},
		causality.Evidence{Source: causality.SourceObjectState, Locator: "a"})
	assert.InDelta(t, 0.8, evidenceQuality(ev), 1e-9)
}

func TestEvidenceQuality_NoEvidenceUsesEventWeight(t *testing.T) {
	ev := evalWith(rules.Meta{Confidence: 1, ExpectedEvidence: 0})
	assert.Equal(t, defaultEvidenceWeight, evidenceQuality(ev))
}

func TestDataCompleteness(t *testing.T) {
	g := emptyGraph(t)

	// No optional objects: full completeness.
	ev := evalWith(rules.Meta{Confidence: 1})
	assert.Equal(t, 1.0, dataCompleteness(ev, g))

	// Optional objects all absent: clamped to the floor.
	ev = evalWith(rules.Meta{Confidence: 1, Requires: rules.Requires{
		Optional: []string{graph.KindPV, graph.KindStorageClass},
	}})
	assert.Equal(t, completenessFloor, dataCompleteness(ev, g))
}

func TestConflictPenalty(t *testing.T) {
	// Alone in the category: no deduction.
	assert.Equal(t, 1.0, conflictPenalty(1, false))
	// Two others: 0.2 off.
	assert.InDelta(t, 0.8, conflictPenalty(3, false), 1e-9)
	// Floored.
	assert.Equal(t, conflictPenaltyFloor, conflictPenalty(10, false))
}

func TestComposeAll_ClampsToUnitInterval(t *testing.T) {
	g := emptyGraph(t)
	ev := evalWith(rules.Meta{Confidence: 1.0, Category: "X", ExpectedEvidence: 0},
		causality.Evidence{Source: causality.SourceObjectState, Locator: "a"})
	composeAll([]*evaluation{ev}, g)
	assert.GreaterOrEqual(t, ev.composed, 0.0)
	assert.LessOrEqual(t, ev.composed, 1.0)
	assert.Equal(t, 1.0, ev.composed)
}
