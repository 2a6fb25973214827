package causality

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_MarshalsWithThreeDecimals(t *testing.T) {
	tests := []struct {
		score Score
		want  string
	}{
		{0, "0.000"},
		{1, "1.000"},
		{0.9, "0.900"},
		{0.8649999, "0.865"},
	}
	for _, tc := range tests {
		data, err := json.Marshal(tc.score)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(data))
	}
}

func TestEvidenceSource_Weights(t *testing.T) {
	assert.Equal(t, 1.0, SourceObjectState.Weight())
	assert.Equal(t, 0.9, SourceCondition.Weight())
	assert.Equal(t, 0.75, SourceTimeline.Weight())
	assert.Equal(t, 0.6, SourceEvent.Weight())
}

func TestCause_Identity(t *testing.T) {
	a := NewCause("PVCNotBound", "pvc:data-0", "claim pending", 0.9)
	b := NewCause("PVCNotBound", "pvc:data-0", "different message", 0.5)
	c := NewCause("PVCNotBound", "pvc:data-1", "claim pending", 0.9)

	assert.Equal(t, a.Identity(), b.Identity())
	assert.NotEqual(t, a.Identity(), c.Identity())
}

func TestConcat_DeduplicatesByIdentity(t *testing.T) {
	weak := NewCause("OOMKilled", "pod:web-0", "oom", 0.9,
		Evidence{Source: SourceEvent, Locator: "OOMKilled"})
	strong := NewCause("OOMKilled", "pod:web-0", "oom", 0.9,
		Evidence{Source: SourceObjectState, Locator: "pod.status.containerStatuses[app].lastState.terminated"})

	merged := Concat(
		CausalChain{Causes: []Cause{weak}},
		CausalChain{Causes: []Cause{strong}},
	)
	require.Len(t, merged.Causes, 1)
	// The higher evidence-quality copy survives.
	assert.Equal(t, SourceObjectState, merged.Causes[0].Evidence[0].Source)
}

func TestConcat_PreservesOrder(t *testing.T) {
	first := NewCause("A", "pod:x", "a", 0.5)
	second := NewCause("B", "pod:x", "b", 0.5)
	third := NewCause("C", "pod:x", "c", 0.5)

	merged := Concat(
		CausalChain{Causes: []Cause{first, second}},
		CausalChain{Causes: []Cause{third, second}},
	)
	require.Len(t, merged.Causes, 3)
	assert.Equal(t, "A", merged.Causes[0].Kind)
	assert.Equal(t, "B", merged.Causes[1].Kind)
	assert.Equal(t, "C", merged.Causes[2].Kind)
}

func TestChainRoot(t *testing.T) {
	assert.Nil(t, CausalChain{}.Root())

	chain := CausalChain{Causes: []Cause{NewCause("X", "pod:p", "x", 1)}}
	root := chain.Root()
	require.NotNil(t, root)
	assert.Equal(t, "X", root.Kind)
}

func TestExplanation_FieldOrderContract(t *testing.T) {
	exp := Explanation{
		SuppressedRules:     []SuppressedRule{},
		Evidence:            []Evidence{},
		SuggestedNextChecks: []string{},
	}
	data, err := json.Marshal(&exp)
	require.NoError(t, err)

	// Serialized key order is part of the contract.
	s := string(data)
	order := []string{"root_cause", "confidence", "causal_chain", "suppressed_rules", "evidence", "suggested_next_checks", "metadata"}
	last := -1
	for _, key := range order {
		idx := indexOf(s, `"`+key+`"`)
		require.GreaterOrEqual(t, idx, 0, "missing key %s", key)
		assert.Greater(t, idx, last, "key %s out of order", key)
		last = idx
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.42, Clamp01(0.42))
}
