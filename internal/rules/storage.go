package rules

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func storageRules() []Rule {
	return []Rule{
		pvcNotBoundRule(),
		failedMountRule(),
		pvcMountFailedRule(),
		storageClassProvisionerMissingRule(),
		pvReleasedOrFailedRule(),
		configMapNotFoundRule(),
		provisioningFailedRule(),
	}
}

// pvcNotBoundRule is object-state based: a claim the pod references is
// not Bound. A pending claim is a hard scheduling blocker, hence the
// blocks on the scheduler-noise rules.
func pvcNotBoundRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCNotBound",
			Category:   CategoryStorage,
			Priority:   22,
			Confidence: 0.97,
			Requires: Requires{
				Objects:  []string{graph.KindPVC},
				Optional: []string{graph.KindPV, graph.KindStorageClass},
			},
			Blocks:           []string{"FailedScheduling", "FailedMount"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return g.UnboundPVC() != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			pvc := g.UnboundPVC()
			cause := causality.NewCause("PVCNotBound", pvcRef(pvc),
				"Pod is blocked by unbound PersistentVolumeClaim", 0.97,
				objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name),
					string(pvc.Status.Phase)))
			chain := singleCause(cause)
			if sc := g.StorageClassForClaim(pvc); sc != nil {
				chain.Contributing = append(chain.Contributing, causality.NewCause(
					"StorageClassPendingProvision", causality.ObjectRef("storageclass", sc.Name),
					fmt.Sprintf("StorageClass %s provisioner %s has not provisioned a volume", sc.Name, sc.Provisioner),
					0.97,
					objectEvidence(fmt.Sprintf("storageclass[%s].provisioner", sc.Name), sc.Provisioner)))
			}
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodPending", podRef(g),
				"Pod cannot start until the claim binds", 0.97))
			return chain
		},
	}
}

// failedMountRule fires on FailedMount events. It outranks the plain
// unbound-claim signal: a mount failure is the more specific fact.
func failedMountRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "FailedMount",
			Category:         CategoryStorage,
			Priority:         40,
			Confidence:       0.95,
			Blocks:           []string{"PVCNotBound"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Has(timeline.Filter{Reason: "FailedMount"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("FailedMount", podRef(g),
				"Volume could not be mounted", 0.95)
			if e := tl.Last(timeline.Filter{Reason: "FailedMount"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			if pvc := g.UnboundPVC(); pvc != nil {
				chain.Contributing = append(chain.Contributing, causality.NewCause(
					"PVCNotBound", pvcRef(pvc),
					"Referenced claim is not Bound", 0.95,
					objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name),
						string(pvc.Status.Phase))))
			}
			return chain
		},
	}
}

// pvcMountFailedRule correlates a FailedMount event with a captured
// claim.
func pvcMountFailedRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCMountFailed",
			Category:   CategoryStorage,
			Priority:   44,
			Confidence: 0.93,
			Requires: Requires{
				Objects:  []string{graph.KindPVC},
				Optional: []string{graph.KindPV, graph.KindNode},
			},
			Blocks:           []string{"FailedScheduling"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return len(g.PVCs) > 0 && tl.Has(timeline.Filter{Reason: "FailedMount"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			claims := g.ClaimedPVCs()
			var pvc *corev1.PersistentVolumeClaim
			if len(claims) > 0 {
				pvc = claims[0]
			}
			cause := causality.NewCause("PVCMountFailed", pvcRef(pvc),
				"Volume mount failed for PersistentVolumeClaim", 0.93)
			if pvc != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pvc[%s].status.phase", pvc.Name), string(pvc.Status.Phase)))
			}
			if e := tl.Last(timeline.Filter{Reason: "FailedMount"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// storageClassProvisionerMissingRule fires when the claim names a storage
// class that was not captured or has no provisioner.
func storageClassProvisionerMissingRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "StorageClassProvisionerMissing",
			Category:   CategoryStorage,
			Priority:   23,
			Confidence: 0.95,
			Requires: Requires{
				Objects:  []string{graph.KindPVC, graph.KindStorageClass},
				Optional: []string{graph.KindPV},
			},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			for _, pvc := range g.ClaimedPVCs() {
				if pvc.Status.Phase == corev1.ClaimBound {
					continue
				}
				scName := ""
				if pvc.Spec.StorageClassName != nil {
					scName = *pvc.Spec.StorageClassName
				}
				if scName == "" {
					continue
				}
				sc, ok := g.StorageClasses[scName]
				if !ok || sc.Provisioner == "" {
					return true
				}
			}
			return false
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			for _, pvc := range g.ClaimedPVCs() {
				if pvc.Status.Phase == corev1.ClaimBound || pvc.Spec.StorageClassName == nil {
					continue
				}
				scName := *pvc.Spec.StorageClassName
				if sc, ok := g.StorageClasses[scName]; ok && sc.Provisioner != "" {
					continue
				}
				cause := causality.NewCause("StorageClassProvisionerMissing", pvcRef(pvc),
					fmt.Sprintf("Claim cannot be provisioned: storage class %q has no working provisioner", scName),
					0.95,
					objectEvidence(fmt.Sprintf("pvc[%s].spec.storageClassName", pvc.Name), scName),
					objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name), string(pvc.Status.Phase)))
				return singleCause(cause)
			}
			return causality.CausalChain{}
		},
	}
}

// pvReleasedOrFailedRule fires when the volume backing a claim is in
// Released or Failed phase.
func pvReleasedOrFailedRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVReleasedOrFailed",
			Category:   CategoryStorage,
			Priority:   46,
			Confidence: 0.94,
			Requires: Requires{
				Objects:  []string{graph.KindPVC, graph.KindPV},
				Optional: []string{graph.KindStorageClass},
			},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			for _, pvc := range g.ClaimedPVCs() {
				pv := g.PVForClaim(pvc)
				if pv != nil && (pv.Status.Phase == corev1.VolumeReleased || pv.Status.Phase == corev1.VolumeFailed) {
					return true
				}
			}
			return false
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			for _, pvc := range g.ClaimedPVCs() {
				pv := g.PVForClaim(pvc)
				if pv == nil || (pv.Status.Phase != corev1.VolumeReleased && pv.Status.Phase != corev1.VolumeFailed) {
					continue
				}
				cause := causality.NewCause("PVReleasedOrFailed", causality.ObjectRef("pv", pv.Name),
					"PersistentVolume backing claim is Released or Failed", 0.94,
					objectEvidence(fmt.Sprintf("pv[%s].status.phase", pv.Name), string(pv.Status.Phase)))
				chain := singleCause(cause)
				chain.Symptoms = append(chain.Symptoms, causality.NewCause("PVCUnusable", pvcRef(pvc),
					"Claim cannot bind to the released volume", 0.94))
				return chain
			}
			return causality.CausalChain{}
		},
	}
}

// configMapNotFoundRule fires when container config creation names a
// missing ConfigMap.
func configMapNotFoundRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ConfigMapNotFound",
			Category:         CategoryStorage,
			Priority:         50,
			Confidence:       0.96,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "", "configmap", "not found") != nil ||
				eventWithMessage(tl, "FailedMount", "configmap") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			e := eventWithMessage(tl, "", "configmap", "not found")
			if e == nil {
				e = eventWithMessage(tl, "FailedMount", "configmap")
			}
			cause := causality.NewCause("ConfigMapNotFound", podRef(g),
				"Referenced ConfigMap does not exist", 0.96)
			if e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// provisioningFailedRule fires on explicit provisioner failures.
func provisioningFailedRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "ProvisioningFailed",
			Category:   CategoryStorage,
			Priority:   24,
			Confidence: 0.93,
			Requires: Requires{
				Objects:  []string{graph.KindPVC},
				Optional: []string{graph.KindStorageClass},
			},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Has(timeline.Filter{Reason: "ProvisioningFailed"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			claims := g.ClaimedPVCs()
			var pvc *corev1.PersistentVolumeClaim
			if len(claims) > 0 {
				pvc = claims[0]
			}
			cause := causality.NewCause("ProvisioningFailed", pvcRef(pvc),
				"Dynamic volume provisioning failed", 0.93)
			if pvc != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pvc[%s].status.phase", pvc.Name), string(pvc.Status.Phase)))
			}
			if e := tl.Last(timeline.Filter{Reason: "ProvisioningFailed"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}
