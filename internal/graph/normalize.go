package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"

	"github.com/moolen/poddiag/internal/snapshot"
	"github.com/moolen/poddiag/internal/timeline"
)

// Normalize converts a raw snapshot into the object graph and the event
// timeline. The snapshot is never mutated. A missing or malformed pod
// yields an InputError; optional slots that fail to decode do too, since
// a captured-but-broken object is a structural input problem, not an
// absence.
func Normalize(snap *snapshot.Snapshot) (*Graph, *timeline.Timeline, error) {
	if err := snap.Validate(); err != nil {
		return nil, nil, err
	}

	g := &Graph{present: map[string]bool{}}

	var pod corev1.Pod
	if err := json.Unmarshal(snap.Pod, &pod); err != nil {
		return nil, nil, snapshot.NewInputError("pod malformed: %v", err)
	}
	g.Pod = &pod
	g.present[KindPod] = true

	rawEvents, err := snap.DecodeEvents()
	if err != nil {
		return nil, nil, err
	}
	if len(snap.Events) > 0 {
		g.present[KindEvents] = true
	}
	tl := timeline.Build(rawEvents)

	if g.PVCs, err = decodeCollection[corev1.PersistentVolumeClaim](snap.PVC, KindPVC); err != nil {
		return nil, nil, err
	}
	setPresent(g, KindPVC, snap.PVC)

	if g.PVs, err = decodeCollection[corev1.PersistentVolume](snap.PV, KindPV); err != nil {
		return nil, nil, err
	}
	setPresent(g, KindPV, snap.PV)

	if g.StorageClasses, err = decodeCollection[storagev1.StorageClass](snap.StorageClass, KindStorageClass); err != nil {
		return nil, nil, err
	}
	setPresent(g, KindStorageClass, snap.StorageClass)

	if g.Nodes, err = decodeCollection[corev1.Node](snap.Node, KindNode); err != nil {
		return nil, nil, err
	}
	setPresent(g, KindNode, snap.Node)

	if g.ServiceAccounts, err = decodeCollection[corev1.ServiceAccount](snap.ServiceAccount, KindServiceAccount); err != nil {
		return nil, nil, err
	}
	setPresent(g, KindServiceAccount, snap.ServiceAccount)

	if g.Secrets, err = decodeCollection[corev1.Secret](snap.Secrets, KindSecrets); err != nil {
		return nil, nil, err
	}
	setPresent(g, KindSecrets, snap.Secrets)

	if g.ConfigMaps, err = decodeCollection[corev1.ConfigMap](snap.ConfigMaps, KindConfigMaps); err != nil {
		return nil, nil, err
	}
	setPresent(g, KindConfigMaps, snap.ConfigMaps)

	if len(snap.Owner) > 0 {
		owner, err := decodeOwner(snap.Owner, &pod)
		if err != nil {
			return nil, nil, err
		}
		g.Owner = owner
		g.present[KindOwner] = true
	}

	g.NodeConditions = deriveNodeConditions(g.Nodes)
	if len(g.NodeConditions) > 0 {
		g.present[KindNodeConditions] = true
	}

	return g, tl, nil
}

func setPresent(g *Graph, kind string, raw json.RawMessage) {
	if len(raw) > 0 {
		g.present[kind] = true
	}
}

// decodeCollection accepts the three shapes a slot may take: a single
// object, an array of objects, or a name-keyed map of objects. The result
// is always keyed by metadata name.
func decodeCollection[T any](raw json.RawMessage, kind string) (map[string]*T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	out := map[string]*T{}

	decodeOne := func(item json.RawMessage, fallbackName string) error {
		var obj T
		if err := json.Unmarshal(item, &obj); err != nil {
			return snapshot.NewInputError("%s malformed: %v", kind, err)
		}
		name := metaName(item)
		if name == "" {
			name = fallbackName
		}
		out[name] = &obj
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, snapshot.NewInputError("%s array malformed: %v", kind, err)
		}
		for i, item := range items {
			if err := decodeOne(item, indexedName(kind, i)); err != nil {
				return nil, err
			}
		}
	case '{':
		if isSingleObject(trimmed) {
			if err := decodeOne(trimmed, indexedName(kind, 0)); err != nil {
				return nil, err
			}
			break
		}
		var keyed map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return nil, snapshot.NewInputError("%s map malformed: %v", kind, err)
		}
		names := make([]string, 0, len(keyed))
		for name := range keyed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := decodeOne(keyed[name], name); err != nil {
				return nil, err
			}
		}
	default:
		return nil, snapshot.NewInputError("%s is neither object nor array", kind)
	}
	return out, nil
}

// isSingleObject distinguishes a Kubernetes object from a name-keyed map
// by looking for the object envelope keys.
func isSingleObject(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	for _, key := range []string{"metadata", "kind", "spec", "status", "apiVersion"} {
		if _, ok := probe[key]; ok {
			return true
		}
	}
	return false
}

func metaName(raw json.RawMessage) string {
	var probe struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Metadata.Name
}

func indexedName(kind string, i int) string {
	return fmt.Sprintf("%s%d", kind, i)
}

// decodeOwner resolves the owner slot into its concrete controller type.
// Kind resolution order: the object's own kind field, the pod's
// ownerReferences, then ReplicaSet as the default.
func decodeOwner(raw json.RawMessage, pod *corev1.Pod) (*Owner, error) {
	var probe struct {
		Kind     string `json:"kind"`
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, snapshot.NewInputError("owner malformed: %v", err)
	}

	kind := probe.Kind
	if kind == "" && pod != nil {
		for _, ref := range pod.OwnerReferences {
			if ref.Controller != nil && *ref.Controller {
				kind = ref.Kind
				break
			}
		}
		if kind == "" && len(pod.OwnerReferences) > 0 {
			kind = pod.OwnerReferences[0].Kind
		}
	}
	if kind == "" {
		kind = "ReplicaSet"
	}

	owner := &Owner{Kind: kind, Name: probe.Metadata.Name}
	switch kind {
	case "Deployment":
		var dep appsv1.Deployment
		if err := json.Unmarshal(raw, &dep); err != nil {
			return nil, snapshot.NewInputError("owner deployment malformed: %v", err)
		}
		owner.Deployment = &dep
	case "StatefulSet":
		var sts appsv1.StatefulSet
		if err := json.Unmarshal(raw, &sts); err != nil {
			return nil, snapshot.NewInputError("owner statefulset malformed: %v", err)
		}
		owner.StatefulSet = &sts
	default:
		var rs appsv1.ReplicaSet
		if err := json.Unmarshal(raw, &rs); err != nil {
			return nil, snapshot.NewInputError("owner replicaset malformed: %v", err)
		}
		owner.Kind = "ReplicaSet"
		owner.ReplicaSet = &rs
	}
	return owner, nil
}

// deriveNodeConditions flattens node status conditions across captured
// nodes in node-name order.
func deriveNodeConditions(nodes map[string]*corev1.Node) []NodeCondition {
	if len(nodes) == 0 {
		return nil
	}
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []NodeCondition
	for _, name := range names {
		for _, cond := range nodes[name].Status.Conditions {
			nc := NodeCondition{
				Node:   name,
				Type:   string(cond.Type),
				Status: string(cond.Status),
				Reason: cond.Reason,
			}
			if !cond.LastTransitionTime.IsZero() {
				nc.LastTransitionTime = cond.LastTransitionTime.Unix()
			}
			out = append(out, nc)
		}
	}
	return out
}
