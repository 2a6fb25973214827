package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/snapshot"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(nil)
	require.NoError(t, err)
	return eng
}

func snap(t *testing.T, pod, events string, extra map[string]string) *snapshot.Snapshot {
	t.Helper()
	s := &snapshot.Snapshot{
		Pod:    json.RawMessage(pod),
		Events: json.RawMessage(events),
	}
	for slot, raw := range extra {
		switch slot {
		case "pvc":
			s.PVC = json.RawMessage(raw)
		case "pv":
			s.PV = json.RawMessage(raw)
		case "storageclass":
			s.StorageClass = json.RawMessage(raw)
		case "node":
			s.Node = json.RawMessage(raw)
		case "owner":
			s.Owner = json.RawMessage(raw)
		case "serviceaccount":
			s.ServiceAccount = json.RawMessage(raw)
		default:
			t.Fatalf("unknown slot %s", slot)
		}
	}
	return s
}

func suppressedNames(exp *causality.Explanation) []string {
	names := make([]string, 0, len(exp.SuppressedRules))
	for _, s := range exp.SuppressedRules {
		names = append(names, s.Name)
	}
	return names
}

// Scenario 1: Pending + FailedScheduling naming an untolerated taint.
func TestScenario_UnschedulableTaint(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{"metadata":{"name":"web-0"},"status":{"phase":"Pending"}}`,
		`[{"reason":"FailedScheduling","message":"0/3 nodes are available: 1 node(s) had untolerated taint {node-role.kubernetes.io/control-plane}"}]`,
		nil,
	), Options{})

	require.NotNil(t, exp.RootCause)
	assert.Equal(t, "UnschedulableTaint", exp.RootCause.Kind)
	assert.GreaterOrEqual(t, float64(exp.Confidence), 0.7)

	checks := exp.SuggestedNextChecks
	require.NotEmpty(t, checks)
	joined := ""
	for _, c := range checks {
		joined += c + "\n"
	}
	assert.Contains(t, joined, "Taints")
	assert.Contains(t, joined, "tolerations")
}

// Scenario 2: ImagePullBackOff with no imagePullSecrets: the compound
// wins and suppresses the atomic pull rule.
func TestScenario_ImagePullSecretMissingCompound(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{
			"metadata":{"name":"web-0"},
			"spec":{},
			"status":{
				"phase":"Pending",
				"containerStatuses":[{
					"name":"app",
					"state":{"waiting":{"reason":"ImagePullBackOff","message":"Back-off pulling image"}}
				}]
			}
		}`,
		`[
			{"reason":"Failed","message":"Failed to pull image \"registry.internal/app:v2\""},
			{"reason":"ImagePullBackOff","message":"Back-off pulling image \"registry.internal/app:v2\""}
		]`,
		nil,
	), Options{})

	require.NotNil(t, exp.RootCause)
	assert.Equal(t, "ImagePullSecretMissingCompound", exp.RootCause.Kind)
	assert.Contains(t, suppressedNames(exp), "ImagePullBackOff")
}

// Scenario 3: PVC pending then crashloop: the temporal compound wins,
// both atomic signals are suppressed and appear as contributing causes.
func TestScenario_PVCPendingThenCrashloop(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{
			"metadata":{"name":"db-0"},
			"spec":{"volumes":[{"name":"data","persistentVolumeClaim":{"claimName":"data-db-0"}}]},
			"status":{
				"phase":"Running",
				"containerStatuses":[{
					"name":"db",
					"restartCount":6,
					"state":{"waiting":{"reason":"CrashLoopBackOff"}}
				}]
			}
		}`,
		`[
			{"reason":"PersistentVolumeClaimPending","message":"waiting for first consumer","lastTimestamp":"2024-05-01T10:00:00Z","firstTimestamp":"2024-05-01T10:00:00Z"},
			{"reason":"BackOff","message":"Back-off restarting failed container","lastTimestamp":"2024-05-01T10:03:00Z","firstTimestamp":"2024-05-01T10:02:00Z"}
		]`,
		map[string]string{
			"pvc": `{"metadata":{"name":"data-db-0"},"status":{"phase":"Pending"}}`,
		},
	), Options{})

	require.NotNil(t, exp.RootCause)
	assert.Equal(t, "PVCPendingThenCrashloop", exp.RootCause.Kind)

	suppressed := suppressedNames(exp)
	assert.Contains(t, suppressed, "CrashLoopBackoff")
	assert.Contains(t, suppressed, "PVCNotBound")

	kinds := map[string]bool{}
	for _, c := range exp.CausalChain.Contributing {
		kinds[c.Kind] = true
	}
	assert.True(t, kinds["PVCNotBound"], "contributing must list the claim signal")
	assert.True(t, kinds["CrashLoopBackoff"], "contributing must list the crashloop signal")
}

// Scenario 4: OOMKilled with a memory limit: object-state evidence,
// confidence at least 0.85.
func TestScenario_OOMKilled(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{
			"metadata":{"name":"worker-1"},
			"spec":{"containers":[{"name":"app","resources":{"limits":{"memory":"512Mi"}}}]},
			"status":{
				"phase":"Running",
				"containerStatuses":[{
					"name":"app",
					"restartCount":3,
					"lastState":{"terminated":{"reason":"OOMKilled","exitCode":137}}
				}]
			}
		}`,
		`[]`,
		nil,
	), Options{})

	require.NotNil(t, exp.RootCause)
	assert.Equal(t, "OOMKilled", exp.RootCause.Kind)
	assert.GreaterOrEqual(t, float64(exp.Confidence), 0.85)

	require.NotEmpty(t, exp.Evidence)
	assert.Equal(t, causality.SourceObjectState, exp.Evidence[0].Source)
}

// Scenario 5: node disk pressure + eviction: the compound wins with a
// contributing cause referencing the node condition.
func TestScenario_NodeDiskPressureEvicted(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{"metadata":{"name":"web-0"},"spec":{"nodeName":"node-a"},"status":{"phase":"Failed"}}`,
		`[{"reason":"Evicted","message":"The node was low on resource: ephemeral resources"}]`,
		map[string]string{
			"node": `{
				"metadata":{"name":"node-a"},
				"status":{"conditions":[
					{"type":"Ready","status":"True"},
					{"type":"DiskPressure","status":"True","reason":"KubeletHasDiskPressure"}
				]}
			}`,
		},
	), Options{})

	require.NotNil(t, exp.RootCause)
	assert.Equal(t, "NodeNotReadyEvicted", exp.RootCause.Kind)
	assert.Contains(t, suppressedNames(exp), "Evicted")

	var nodeCond bool
	for _, c := range exp.CausalChain.Contributing {
		if c.Kind == "NodeCondition" || c.Kind == "NodeDiskPressure" {
			nodeCond = true
		}
	}
	assert.True(t, nodeCond, "contributing cause must reference the node condition")
}

// Scenario 6: healthy pod, no signal: advisory with confidence zero.
func TestScenario_NoSignal(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{
			"metadata":{"name":"healthy-0"},
			"status":{
				"phase":"Running",
				"conditions":[{"type":"Ready","status":"True"}]
			}
		}`,
		`[]`,
		nil,
	), Options{})

	assert.Nil(t, exp.RootCause)
	assert.Equal(t, 0.0, float64(exp.Confidence))
	assert.Empty(t, exp.CausalChain.Causes)
	assert.NotEmpty(t, exp.SuggestedNextChecks)
	assert.Empty(t, exp.Metadata.Error)
}

// Property 1: determinism, byte-for-byte.
func TestDeterminism(t *testing.T) {
	eng := newEngine(t)
	input := func() *snapshot.Snapshot {
		return snap(t,
			`{"metadata":{"name":"web-0"},"status":{"phase":"Pending"}}`,
			`[
				{"reason":"FailedScheduling","message":"1 node(s) had untolerated taint"},
				{"reason":"BackOff","message":"restarting"},
				{"reason":"Unhealthy","message":"Liveness probe failed: connection refused"}
			]`,
			map[string]string{
				"pvc": `{"metadata":{"name":"data"},"status":{"phase":"Pending"}}`,
			})
	}

	first, err := json.Marshal(eng.Explain(input(), Options{Verbose: true}))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(eng.Explain(input(), Options{Verbose: true}))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

// Property 2: confidence bounds on a sampling of inputs.
func TestConfidenceBounds(t *testing.T) {
	eng := newEngine(t)
	inputs := []*snapshot.Snapshot{
		snap(t, `{"metadata":{"name":"a"},"status":{"phase":"Pending"}}`, `[]`, nil),
		snap(t, `{"metadata":{"name":"b"},"status":{"phase":"Failed"}}`,
			`[{"reason":"Evicted"},{"reason":"BackOff"},{"reason":"FailedMount"}]`, nil),
		snap(t, `{"metadata":{"name":"c"},"status":{"phase":"Running"}}`,
			`[{"reason":"Unhealthy","message":"Readiness probe failed"}]`, nil),
	}
	for _, s := range inputs {
		exp := eng.Explain(s, Options{})
		assert.GreaterOrEqual(t, float64(exp.Confidence), 0.0)
		assert.LessOrEqual(t, float64(exp.Confidence), 1.0)
	}
}

// Property 4: suppressed rules never provide the root cause or causes.
func TestSuppressionSoundness(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{"metadata":{"name":"db-0"},"status":{"phase":"Running"}}`,
		`[
			{"reason":"FailedScheduling","message":"persistentvolumeclaim not bound"},
			{"reason":"FailedMount","message":"Unable to attach or mount volumes"},
			{"reason":"BackOff","message":"restarting"}
		]`,
		map[string]string{
			"pvc": `{"metadata":{"name":"data"},"status":{"phase":"Pending"}}`,
		},
	), Options{})

	require.NotNil(t, exp.RootCause)
	suppressed := map[string]bool{}
	for _, s := range exp.SuppressedRules {
		suppressed[s.Name] = true
		assert.NotEqual(t, exp.RootCause.Kind, s.Name,
			"suppressed rule surfaced as root cause")
	}
	// The winner itself is not suppressed.
	assert.False(t, suppressed[exp.RootCause.Kind])
}

// Property 6: adding a declared optional object never decreases the
// winner's confidence.
func TestMonotoneData(t *testing.T) {
	eng := newEngine(t)
	base := map[string]string{
		"pvc": `{"metadata":{"name":"data"},"spec":{"storageClassName":"fast","volumeName":"pv-1"},"status":{"phase":"Pending"}}`,
	}
	withPV := map[string]string{
		"pvc": base["pvc"],
		"pv":  `{"metadata":{"name":"pv-1"},"status":{"phase":"Available"}}`,
	}
	pod := `{"metadata":{"name":"db-0"},"status":{"phase":"Pending"}}`

	expBase := eng.Explain(snap(t, pod, `[]`, base), Options{})
	expMore := eng.Explain(snap(t, pod, `[]`, withPV), Options{})

	require.NotNil(t, expBase.RootCause)
	require.NotNil(t, expMore.RootCause)
	require.Equal(t, expBase.RootCause.Kind, expMore.RootCause.Kind)
	assert.GreaterOrEqual(t, float64(expMore.Confidence), float64(expBase.Confidence))
}

func TestInputInvalid(t *testing.T) {
	eng := newEngine(t)

	exp := eng.Explain(&snapshot.Snapshot{}, Options{})
	assert.Nil(t, exp.RootCause)
	assert.Equal(t, 0.0, float64(exp.Confidence))
	assert.Contains(t, exp.Metadata.Error, "InputInvalid")

	exp = eng.Explain(nil, Options{})
	assert.Contains(t, exp.Metadata.Error, "InputInvalid")
}

func TestCategoryFilters(t *testing.T) {
	eng := newEngine(t)
	pod := `{"metadata":{"name":"web-0"},"status":{"phase":"Pending"}}`
	events := `[{"reason":"FailedScheduling","message":"1 node(s) had untolerated taint"}]`

	// Disabling Scheduling removes the taint diagnosis entirely.
	exp := eng.Explain(snap(t, pod, events, nil),
		Options{DisableCategories: []string{"Scheduling"}})
	if exp.RootCause != nil {
		assert.NotEqual(t, "UnschedulableTaint", exp.RootCause.Kind)
	}

	// Enabling only Storage on a scheduling problem yields no match.
	exp = eng.Explain(snap(t, pod, events, nil),
		Options{EnableCategories: []string{"Storage"}})
	assert.Nil(t, exp.RootCause)
}

func TestVerboseTrace(t *testing.T) {
	eng := newEngine(t)
	pod := `{"metadata":{"name":"web-0"},"status":{"phase":"Pending"}}`
	events := `[{"reason":"FailedScheduling","message":"1 node(s) had untolerated taint"}]`

	exp := eng.Explain(snap(t, pod, events, nil), Options{Verbose: true})
	require.NotEmpty(t, exp.Metadata.RulesEvaluated)

	var sawWinner bool
	for _, tr := range exp.Metadata.RulesEvaluated {
		if tr.Name == "UnschedulableTaint" {
			sawWinner = true
			assert.True(t, tr.Matched)
			assert.False(t, tr.Suppressed)
			assert.Greater(t, float64(tr.ComposedConfidence), 0.0)
		}
	}
	assert.True(t, sawWinner)

	// Without verbose the trace stays out of the metadata.
	exp = eng.Explain(snap(t, pod, events, nil), Options{})
	assert.Empty(t, exp.Metadata.RulesEvaluated)
}

func TestEngineVersionStamped(t *testing.T) {
	eng := newEngine(t)
	pod := `{"metadata":{"name":"web-0"},"status":{"phase":"Running"}}`

	exp := eng.Explain(snap(t, pod, `[]`, nil), Options{})
	assert.Equal(t, Version, exp.Metadata.EngineVersion)

	exp = eng.Explain(snap(t, pod, `[]`, nil), Options{EngineVersion: "9.9.9"})
	assert.Equal(t, "9.9.9", exp.Metadata.EngineVersion)
	assert.NotEmpty(t, exp.Metadata.InputsHash)
}

// Boundary: a duplicate event with an incrementing count aggregates into
// the repeated-restart rules rather than staying a one-off backoff.
func TestDuplicateEventCounts(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{"metadata":{"name":"web-0"},"status":{"phase":"Running"}}`,
		`[{"reason":"BackOff","message":"restarting","count":7}]`,
		nil,
	), Options{})
	require.NotNil(t, exp.RootCause)
	// CrashLoopBackoff, RepeatedCrashLoop and RapidRestartEscalation all
	// see the aggregated count; the escalation compound suppresses the
	// plain backoff signal and wins the priority tie.
	assert.Equal(t, 3, exp.Metadata.RulesMatched)
	assert.Equal(t, "RapidRestartEscalation", exp.RootCause.Kind)
	assert.Contains(t, suppressedNames(exp), "CrashLoopBackoff")
}

// Boundary: pod with no containers still diagnoses on events alone.
func TestPodWithNoContainers(t *testing.T) {
	eng := newEngine(t)
	exp := eng.Explain(snap(t,
		`{"metadata":{"name":"bare-0"},"status":{"phase":"Pending"}}`,
		`[{"reason":"FailedCreatePodSandBox","message":"failed to set up sandbox container network"}]`,
		nil,
	), Options{})
	require.NotNil(t, exp.RootCause)
	assert.Equal(t, "CNIPluginFailure", exp.RootCause.Kind)
}
