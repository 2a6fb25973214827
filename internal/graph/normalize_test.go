package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/snapshot"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func basicPod(t *testing.T) json.RawMessage {
	return mustJSON(t, map[string]interface{}{
		"metadata": map[string]interface{}{"name": "web-0", "namespace": "prod"},
		"spec": map[string]interface{}{
			"nodeName": "node-a",
			"volumes": []map[string]interface{}{
				{"name": "data", "persistentVolumeClaim": map[string]interface{}{"claimName": "data-web-0"}},
			},
		},
		"status": map[string]interface{}{"phase": "Pending"},
	})
}

func TestNormalize_MissingPodIsInputError(t *testing.T) {
	var inputErr *snapshot.InputError
	_, _, err := Normalize(&snapshot.Snapshot{})
	require.ErrorAs(t, err, &inputErr)
}

func TestNormalize_MalformedPodIsInputError(t *testing.T) {
	var inputErr *snapshot.InputError
	_, _, err := Normalize(&snapshot.Snapshot{
		Pod: json.RawMessage(`{"metadata": 42}`),
	})
	require.ErrorAs(t, err, &inputErr)
}

func TestNormalize_BasicPodAndEvents(t *testing.T) {
	g, tl, err := Normalize(&snapshot.Snapshot{
		Pod:    basicPod(t),
		Events: json.RawMessage(`[{"reason":"FailedScheduling","message":"0/3 nodes available"}]`),
	})
	require.NoError(t, err)

	assert.Equal(t, "web-0", g.PodName())
	assert.Equal(t, "prod", g.Namespace())
	assert.Equal(t, corev1.PodPending, g.Phase())
	assert.True(t, g.Present(KindPod))
	assert.True(t, g.Present(KindEvents))
	assert.False(t, g.Present(KindPVC))
	assert.Equal(t, 1, tl.Len())
}

func TestNormalize_PresentButEmptyIsDistinguishable(t *testing.T) {
	g, _, err := Normalize(&snapshot.Snapshot{
		Pod:    basicPod(t),
		Events: json.RawMessage(`[]`),
		PVC:    json.RawMessage(`[]`),
	})
	require.NoError(t, err)
	// Captured-but-empty still counts as present.
	assert.True(t, g.Present(KindPVC))
	assert.Empty(t, g.PVCs)
}

func TestNormalize_CollectionShapes(t *testing.T) {
	single := mustJSON(t, map[string]interface{}{
		"metadata": map[string]interface{}{"name": "data-web-0"},
		"status":   map[string]interface{}{"phase": "Pending"},
	})
	array := json.RawMessage(`[
		{"metadata":{"name":"a"},"status":{"phase":"Bound"}},
		{"metadata":{"name":"b"},"status":{"phase":"Pending"}}
	]`)
	keyed := json.RawMessage(`{
		"a": {"metadata":{"name":"a"},"status":{"phase":"Bound"}},
		"b": {"metadata":{"name":"b"},"status":{"phase":"Pending"}}
	}`)

	for name, raw := range map[string]json.RawMessage{"single": single, "array": array, "keyed": keyed} {
		g, _, err := Normalize(&snapshot.Snapshot{Pod: basicPod(t), PVC: raw})
		require.NoError(t, err, name)
		assert.NotEmpty(t, g.PVCs, name)
	}
}

func TestNormalize_CrossLinks(t *testing.T) {
	snap := &snapshot.Snapshot{
		Pod: basicPod(t),
		PVC: mustJSON(t, map[string]interface{}{
			"metadata": map[string]interface{}{"name": "data-web-0"},
			"spec":     map[string]interface{}{"volumeName": "pv-1", "storageClassName": "fast"},
			"status":   map[string]interface{}{"phase": "Bound"},
		}),
		PV: mustJSON(t, map[string]interface{}{
			"metadata": map[string]interface{}{"name": "pv-1"},
			"spec":     map[string]interface{}{"storageClassName": "fast"},
			"status":   map[string]interface{}{"phase": "Bound"},
		}),
		StorageClass: mustJSON(t, map[string]interface{}{
			"metadata":    map[string]interface{}{"name": "fast"},
			"provisioner": "ebs.csi.aws.com",
		}),
	}
	g, _, err := Normalize(snap)
	require.NoError(t, err)

	claims := g.ClaimedPVCs()
	require.Len(t, claims, 1)
	pv := g.PVForClaim(claims[0])
	require.NotNil(t, pv)
	assert.Equal(t, "pv-1", pv.Name)

	sc := g.StorageClassForClaim(claims[0])
	require.NotNil(t, sc)
	assert.Equal(t, "ebs.csi.aws.com", sc.Provisioner)
}

func TestNormalize_NodeConditionsDerived(t *testing.T) {
	snap := &snapshot.Snapshot{
		Pod: basicPod(t),
		Node: mustJSON(t, map[string]interface{}{
			"metadata": map[string]interface{}{"name": "node-a"},
			"status": map[string]interface{}{
				"conditions": []map[string]interface{}{
					{"type": "Ready", "status": "True"},
					{"type": "DiskPressure", "status": "True", "reason": "KubeletHasDiskPressure"},
				},
			},
		}),
	}
	g, _, err := Normalize(snap)
	require.NoError(t, err)

	require.True(t, g.Present(KindNodeConditions))
	name, ok := g.NodeConditionTrue("DiskPressure")
	assert.True(t, ok)
	assert.Equal(t, "node-a", name)
	_, ok = g.NodeConditionTrue("MemoryPressure")
	assert.False(t, ok)
}

func TestNormalize_OwnerKindResolution(t *testing.T) {
	deployment := mustJSON(t, map[string]interface{}{
		"kind":     "Deployment",
		"metadata": map[string]interface{}{"name": "web"},
		"status": map[string]interface{}{
			"conditions": []map[string]interface{}{
				{"type": "Progressing", "status": "False", "reason": "ProgressDeadlineExceeded"},
			},
		},
	})
	g, _, err := Normalize(&snapshot.Snapshot{Pod: basicPod(t), Owner: deployment})
	require.NoError(t, err)
	require.NotNil(t, g.Owner)
	assert.Equal(t, "Deployment", g.Owner.Kind)
	require.NotNil(t, g.Owner.Deployment)
	assert.Nil(t, g.Owner.ReplicaSet)

	// Without a kind field the owner defaults to ReplicaSet.
	rs := mustJSON(t, map[string]interface{}{
		"metadata": map[string]interface{}{"name": "web-abc123"},
	})
	g, _, err = Normalize(&snapshot.Snapshot{Pod: basicPod(t), Owner: rs})
	require.NoError(t, err)
	assert.Equal(t, "ReplicaSet", g.Owner.Kind)
	assert.NotNil(t, g.Owner.ReplicaSet)
}

func TestNormalize_Idempotent(t *testing.T) {
	snap := &snapshot.Snapshot{
		Pod:    basicPod(t),
		Events: json.RawMessage(`[{"reason":"BackOff","lastTimestamp":"2024-05-01T10:00:00Z"}]`),
	}
	g1, tl1, err := Normalize(snap)
	require.NoError(t, err)
	g2, tl2, err := Normalize(snap)
	require.NoError(t, err)

	assert.Equal(t, g1.PodName(), g2.PodName())
	assert.Equal(t, g1.NodeConditions, g2.NodeConditions)
	assert.Equal(t, tl1.Events(), tl2.Events())
}

func TestUnboundPVC(t *testing.T) {
	snap := &snapshot.Snapshot{
		Pod: basicPod(t),
		PVC: json.RawMessage(`[
			{"metadata":{"name":"bound"},"status":{"phase":"Bound"}},
			{"metadata":{"name":"pending"},"status":{"phase":"Pending"}}
		]`),
	}
	g, _, err := Normalize(snap)
	require.NoError(t, err)

	pvc := g.UnboundPVC()
	require.NotNil(t, pvc)
	assert.Equal(t, "pending", pvc.Name)
}
