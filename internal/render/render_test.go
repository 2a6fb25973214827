package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/poddiag/internal/causality"
)

func sampleExplanation() *causality.Explanation {
	root := causality.NewCause("OOMKilled", "pod:web-0",
		"Container terminated due to out-of-memory", 0.94,
		causality.Evidence{
			Source:  causality.SourceObjectState,
			Locator: "pod.status.containerStatuses[app].lastState.terminated",
			Snippet: "reason=OOMKilled exitCode=137",
		})
	return &causality.Explanation{
		RootCause:  &root,
		Confidence: 0.94,
		CausalChain: causality.CausalChain{
			Causes: []causality.Cause{root},
		},
		SuppressedRules: []causality.SuppressedRule{
			{Name: "CrashLoopBackoff", Reason: "suppressed by CrashLoopOOMKilled"},
		},
		Evidence:            root.Evidence,
		SuggestedNextChecks: []string{"kubectl describe pod web-0"},
		Metadata: causality.Metadata{
			InputsHash:    "abc123def456abc123",
			EngineVersion: "0.1.0",
			RulesMatched:  2,
		},
	}
}

func TestJSONRenderer_ConfidenceThreeDecimals(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, New("json").Render(&buf, sampleExplanation()))

	out := buf.String()
	assert.Contains(t, out, `"confidence": 0.940`)

	// Round-trips as valid JSON.
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "root_cause")
	assert.Contains(t, decoded, "metadata")
}

func TestTextRenderer_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	r := &textRenderer{color: false}
	require.NoError(t, r.Render(&buf, sampleExplanation()))

	out := buf.String()
	assert.Contains(t, out, "Root cause: Container terminated due to out-of-memory")
	assert.Contains(t, out, "Confidence: 0.940")
	assert.Contains(t, out, "CrashLoopBackoff (suppressed by CrashLoopOOMKilled)")
	assert.Contains(t, out, "kubectl describe pod web-0")
	// No ANSI escapes without a terminal.
	assert.NotContains(t, out, "\x1b[")
}

func TestTextRenderer_NoRootCause(t *testing.T) {
	var buf bytes.Buffer
	r := &textRenderer{color: false}
	exp := &causality.Explanation{Confidence: 0}
	require.NoError(t, r.Render(&buf, exp))
	assert.Contains(t, buf.String(), "No root cause identified")
	assert.Contains(t, buf.String(), "Confidence: 0.000")
}

func TestTextRenderer_InputError(t *testing.T) {
	var buf bytes.Buffer
	r := &textRenderer{color: false}
	exp := &causality.Explanation{
		Metadata: causality.Metadata{Error: "InputInvalid: required object 'pod' is missing"},
	}
	require.NoError(t, r.Render(&buf, exp))
	assert.Contains(t, buf.String(), "InputInvalid")
}

func TestMarkdownRenderer_RawMarkdown(t *testing.T) {
	var buf bytes.Buffer
	r := &markdownRenderer{color: false}
	require.NoError(t, r.Render(&buf, sampleExplanation()))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Container terminated due to out-of-memory"))
	assert.Contains(t, out, "**Confidence**: 0.940")
	assert.Contains(t, out, "## Suggested next checks")
}

func TestRenderer_PreservesArrayOrder(t *testing.T) {
	exp := sampleExplanation()
	exp.SuggestedNextChecks = []string{"z-last-check", "a-first-check"}

	var buf bytes.Buffer
	r := &textRenderer{color: false}
	require.NoError(t, r.Render(&buf, exp))

	out := buf.String()
	// Renderers must not reorder engine arrays.
	assert.Less(t, strings.Index(out, "z-last-check"), strings.Index(out, "a-first-check"))
}

func TestNew_FormatSelection(t *testing.T) {
	assert.IsType(t, &jsonRenderer{}, New("json"))
	assert.IsType(t, &markdownRenderer{}, New("markdown"))
	assert.IsType(t, &textRenderer{}, New("text"))
	assert.IsType(t, &textRenderer{}, New("anything-else"))
}
