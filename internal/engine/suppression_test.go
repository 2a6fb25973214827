package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moolen/poddiag/internal/rules"
)

func matchFor(name string, priority int, blocks ...string) *evaluation {
	return &evaluation{
		meta:    rules.Meta{Name: name, Priority: priority, Blocks: blocks},
		matched: true,
	}
}

func TestApplySuppression_Simple(t *testing.T) {
	compound := matchFor("Compound", 60, "Atomic")
	atomic := matchFor("Atomic", 15)

	applySuppression([]*evaluation{compound, atomic})

	assert.False(t, compound.suppressed)
	assert.True(t, atomic.suppressed)
	assert.Equal(t, "Compound", atomic.suppressor)
}

func TestApplySuppression_MutualBlocksResolveByPriority(t *testing.T) {
	// FailedMount (40) and PVCNotBound (22) block each other in the
	// corpus; the higher priority one wins and the loser's block never
	// takes effect.
	failedMount := matchFor("FailedMount", 40, "PVCNotBound")
	pvcNotBound := matchFor("PVCNotBound", 22, "FailedMount")

	applySuppression([]*evaluation{failedMount, pvcNotBound})

	assert.False(t, failedMount.suppressed)
	assert.True(t, pvcNotBound.suppressed)
}

func TestApplySuppression_SuppressedRuleBlocksDoNotCascade(t *testing.T) {
	// A suppresses B; B's block of C therefore never applies.
	a := matchFor("A", 70, "B")
	b := matchFor("B", 40, "C")
	c := matchFor("C", 10)

	applySuppression([]*evaluation{a, b, c})

	assert.False(t, a.suppressed)
	assert.True(t, b.suppressed)
	assert.False(t, c.suppressed)
}

func TestApplySuppression_LowerPrioritySuppressorDoesNotDisarm(t *testing.T) {
	// B is "suppressed" only by a lower-priority rule, so B's own blocks
	// still take effect.
	low := matchFor("Low", 5, "B")
	b := matchFor("B", 40, "C")
	c := matchFor("C", 10)

	applySuppression([]*evaluation{b, c, low})

	assert.True(t, b.suppressed) // recorded as suppressed for reporting
	assert.True(t, c.suppressed) // but B's blocks still applied
}

func TestApplySuppression_NoMatches(t *testing.T) {
	applySuppression(nil)
}

func TestApplySuppression_BlocksOnUnmatchedRulesAreHarmless(t *testing.T) {
	a := matchFor("A", 50, "NeverMatched")
	applySuppression([]*evaluation{a})
	assert.False(t, a.suppressed)
}
