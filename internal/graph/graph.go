// Package graph holds the normalized object graph: the subject pod plus
// the cluster objects related to it, cross-linked by name.
//
// The graph is a per-invocation value. References form a DAG
// (pod → owner, pod → node, pod volumes → pvc → pv → storageclass);
// lookups resolve by name rather than through shared pointers, and
// nothing mutates the graph after normalization.
package graph

import (
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
)

// Object kind labels used for rule requirements and presence checks.
const (
	KindPod            = "pod"
	KindEvents         = "events"
	KindPVC            = "pvc"
	KindPV             = "pv"
	KindStorageClass   = "storageclass"
	KindNode           = "node"
	KindOwner          = "owner"
	KindServiceAccount = "serviceaccount"
	KindSecrets        = "secrets"
	KindConfigMaps     = "configmaps"
	KindNodeConditions = "nodeConditions"
)

// Owner is the pod's controller. Exactly one of the typed fields is set,
// matching Kind.
type Owner struct {
	Kind        string
	Name        string
	ReplicaSet  *appsv1.ReplicaSet
	Deployment  *appsv1.Deployment
	StatefulSet *appsv1.StatefulSet
}

// NodeCondition is the flattened view over node status conditions used by
// node-pressure rules.
type NodeCondition struct {
	Node               string `json:"node"`
	Type               string `json:"type"`
	Status             string `json:"status"`
	Reason             string `json:"reason,omitempty"`
	LastTransitionTime int64  `json:"lastTransitionTime"`
}

// Graph is the normalized object graph.
type Graph struct {
	Pod             *corev1.Pod
	PVCs            map[string]*corev1.PersistentVolumeClaim
	PVs             map[string]*corev1.PersistentVolume
	StorageClasses  map[string]*storagev1.StorageClass
	Nodes           map[string]*corev1.Node
	Owner           *Owner
	ServiceAccounts map[string]*corev1.ServiceAccount
	Secrets         map[string]*corev1.Secret
	ConfigMaps      map[string]*corev1.ConfigMap
	NodeConditions  []NodeCondition

	present map[string]bool
}

// Present reports whether the named object kind was captured in the
// snapshot. A present-but-empty collection still counts as present; this
// is how the graph distinguishes "not captured" from "captured, empty".
func (g *Graph) Present(kind string) bool {
	return g.present[kind]
}

// PodName returns the subject pod's name.
func (g *Graph) PodName() string {
	if g.Pod == nil {
		return "<unknown>"
	}
	return g.Pod.Name
}

// Namespace returns the subject pod's namespace, defaulting to "default".
func (g *Graph) Namespace() string {
	if g.Pod == nil || g.Pod.Namespace == "" {
		return "default"
	}
	return g.Pod.Namespace
}

// Phase returns the pod phase, "Unknown" when absent.
func (g *Graph) Phase() corev1.PodPhase {
	if g.Pod == nil || g.Pod.Status.Phase == "" {
		return corev1.PodUnknown
	}
	return g.Pod.Status.Phase
}

// PodCondition returns the pod condition of the given type, or nil.
func (g *Graph) PodCondition(condType corev1.PodConditionType) *corev1.PodCondition {
	if g.Pod == nil {
		return nil
	}
	for i := range g.Pod.Status.Conditions {
		if g.Pod.Status.Conditions[i].Type == condType {
			return &g.Pod.Status.Conditions[i]
		}
	}
	return nil
}

// ContainerStatuses returns init and regular container statuses, init
// first, matching pod status order.
func (g *Graph) ContainerStatuses() []corev1.ContainerStatus {
	if g.Pod == nil {
		return nil
	}
	out := make([]corev1.ContainerStatus, 0,
		len(g.Pod.Status.InitContainerStatuses)+len(g.Pod.Status.ContainerStatuses))
	out = append(out, g.Pod.Status.InitContainerStatuses...)
	out = append(out, g.Pod.Status.ContainerStatuses...)
	return out
}

// PVCNames returns the captured claim names in sorted order.
func (g *Graph) PVCNames() []string {
	return sortedKeys(g.PVCs)
}

// NodeNames returns the captured node names in sorted order.
func (g *Graph) NodeNames() []string {
	return sortedKeys(g.Nodes)
}

// ClaimedPVCs returns the claims referenced by the pod's volumes, in
// volume order, restricted to claims actually captured. When the pod
// references no claims every captured claim is returned in name order,
// which keeps legacy pvc-only snapshots working.
func (g *Graph) ClaimedPVCs() []*corev1.PersistentVolumeClaim {
	var out []*corev1.PersistentVolumeClaim
	if g.Pod != nil {
		for _, vol := range g.Pod.Spec.Volumes {
			if vol.PersistentVolumeClaim == nil {
				continue
			}
			if pvc, ok := g.PVCs[vol.PersistentVolumeClaim.ClaimName]; ok {
				out = append(out, pvc)
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, name := range g.PVCNames() {
		out = append(out, g.PVCs[name])
	}
	return out
}

// UnboundPVC returns the first claim (in claim order) that exists but is
// not Bound, or nil when every captured claim is bound.
func (g *Graph) UnboundPVC() *corev1.PersistentVolumeClaim {
	for _, pvc := range g.ClaimedPVCs() {
		if pvc.Status.Phase != corev1.ClaimBound {
			return pvc
		}
	}
	return nil
}

// PVForClaim resolves a claim's volumeName to the captured PV, or nil.
func (g *Graph) PVForClaim(pvc *corev1.PersistentVolumeClaim) *corev1.PersistentVolume {
	if pvc == nil || pvc.Spec.VolumeName == "" {
		return nil
	}
	return g.PVs[pvc.Spec.VolumeName]
}

// StorageClassForClaim resolves a claim's storage class, preferring the
// class recorded on its bound PV.
func (g *Graph) StorageClassForClaim(pvc *corev1.PersistentVolumeClaim) *storagev1.StorageClass {
	if pvc == nil {
		return nil
	}
	if pv := g.PVForClaim(pvc); pv != nil && pv.Spec.StorageClassName != "" {
		if sc, ok := g.StorageClasses[pv.Spec.StorageClassName]; ok {
			return sc
		}
	}
	if pvc.Spec.StorageClassName != nil {
		return g.StorageClasses[*pvc.Spec.StorageClassName]
	}
	return nil
}

// NodeForPod resolves the pod's assigned node, or nil.
func (g *Graph) NodeForPod() *corev1.Node {
	if g.Pod == nil || g.Pod.Spec.NodeName == "" {
		return nil
	}
	return g.Nodes[g.Pod.Spec.NodeName]
}

// NodeConditionTrue reports whether any captured node has the given
// condition type with status True, returning the first matching node name.
func (g *Graph) NodeConditionTrue(condType string) (string, bool) {
	for _, c := range g.NodeConditions {
		if c.Type == condType && c.Status == "True" {
			return c.Node, true
		}
	}
	return "", false
}

func sortedKeys[T any](m map[string]*T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
