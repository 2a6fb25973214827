package checks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_KnownKindInterpolatesName(t *testing.T) {
	out := For("PVCNotBound", "pvc:data-web-0")
	assert.NotEmpty(t, out)
	assert.Equal(t, "kubectl describe pvc data-web-0", out[0])
}

func TestFor_UnknownKindYieldsEmpty(t *testing.T) {
	assert.Empty(t, For("SomethingNobodyKnows", "pod:x"))
}

func TestFor_StaticEntriesUntouched(t *testing.T) {
	out := For("UnschedulableTaint", "pod:web-0")
	assert.Contains(t, out, "Verify pod tolerations match node taints")
}

func TestFor_Deterministic(t *testing.T) {
	a := For("OOMKilled", "pod:web-0")
	b := For("OOMKilled", "pod:web-0")
	assert.Equal(t, a, b)
}

func TestInvolvedName(t *testing.T) {
	assert.Equal(t, "web-0", involvedName("pod:web-0"))
	assert.Equal(t, "bare", involvedName("bare"))
	assert.Equal(t, "<name>", involvedName(""))
}

func TestDefaultAdvisoryNonEmpty(t *testing.T) {
	assert.NotEmpty(t, DefaultAdvisory)
}
