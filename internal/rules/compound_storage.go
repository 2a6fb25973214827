package rules

import (
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

const (
	// pvcCrashloopMinPending is how long a claim must have been pending
	// before a concurrent crash loop is attributed to it.
	pvcCrashloopMinPending = 60 * time.Second
	// pvcPendingTooLong is the stall threshold for provisioning.
	pvcPendingTooLong = 30 * time.Minute
	// provisioningTimeout is the dynamic provisioning deadline.
	provisioningTimeout = 120 * time.Second
)

func compoundStorageRules() []Rule {
	return []Rule{
		pvcPendingThenCrashloopRule(),
		pvcThenCrashloopRule(),
		pvcBoundThenCrashLoopRule(),
		pvcRecoveredButAppStillFailingRule(),
		pvcPendingTooLongRule(),
		dynamicProvisioningTimeoutRule(),
		pvcBoundNodeDiskPressureMountRule(),
		pvcBoundThenNodePressureRule(),
		nodeNotReadyEvictedRule(),
	}
}

func crashLooping(g *graph.Graph, tl *timeline.Timeline) bool {
	return waitingContainer(g, "CrashLoopBackOff") != nil ||
		tl.Has(timeline.Filter{Reason: "BackOff"}) ||
		tl.Has(timeline.Filter{Reason: "CrashLoopBackOff"})
}

// pvcPendingThenCrashloopRule: the claim has been pending long enough
// that the workload started crash looping on the missing volume.
func pvcPendingThenCrashloopRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCPendingThenCrashloopRule",
			Category:   CategoryCompound,
			Priority:   63,
			Confidence: 0.98,
			Requires:         Requires{Objects: []string{graph.KindPVC}},
			Blocks:           []string{"CrashLoopBackoff", "RepeatedCrashLoop", "PVCNotBound", "FailedMount"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			pvc := g.UnboundPVC()
			if pvc == nil || pvc.Status.Phase != corev1.ClaimPending {
				return false
			}
			if !crashLooping(g, tl) {
				return false
			}
			if dur, ok := tl.PVCPendingDuration(); ok {
				return dur >= pvcCrashloopMinPending
			}
			// No usable timestamps: pending claim plus crash loop is the
			// conservative match.
			return true
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			pvc := g.UnboundPVC()
			cause := causality.NewCause("PVCPendingThenCrashloop", pvcRef(pvc),
				"Pending PersistentVolumeClaim caused mount failures and crash looping", 0.98,
				objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name), "Pending"))
			if dur, ok := tl.PVCPendingDuration(); ok {
				cause.Evidence = append(cause.Evidence, timelineEvidence(
					"PVCPendingDuration", fmt.Sprintf("claim pending for %s", dur)))
			}
			if e := tl.Last(timeline.Filter{Reason: "BackOff"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("CrashLoopBackoff", podRef(g),
				"Containers crash looping without the volume", 0.98))
			chain.Contributing = append(chain.Contributing,
				causality.NewCause("PVCNotBound", pvcRef(pvc),
					"Claim is not Bound", 0.98),
				causality.NewCause("CrashLoopBackoff", podRef(g),
					"Container restart backoff observed", 0.98),
			)
			return chain
		},
	}
}

// pvcThenCrashloopRule: the event record shows the claim going
// Pending → Bound with crash looping after, pointing at delayed storage.
func pvcThenCrashloopRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCThenCrashloop",
			Category:   CategoryCompound,
			Priority:   62,
			Confidence: 0.95,
			Requires:   Requires{Objects: []string{graph.KindPVC}},
			Blocks:     []string{"CrashLoopBackoff"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Pattern(
				timeline.Reason("PersistentVolumeClaimPending"),
				timeline.Reason("PersistentVolumeClaimBound"),
				timeline.Reason("BackOff"),
			)
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			claims := g.ClaimedPVCs()
			var pvc *corev1.PersistentVolumeClaim
			if len(claims) > 0 {
				pvc = claims[0]
			}
			cause := causality.NewCause("PVCThenCrashloop", pvcRef(pvc),
				"Crash loop caused by missing or delayed volume", 0.95,
				timelineEvidence("PersistentVolumeClaimPending,PersistentVolumeClaimBound,BackOff",
					"claim bound late; containers crashed in the interim"))
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("CrashLoopBackoff", podRef(g),
				"Container restart backoff observed", 0.95))
			return chain
		},
	}
}

// pvcBoundThenCrashLoopRule: storage recovered (claim now Bound after a
// pending spell) but the application keeps failing.
func pvcBoundThenCrashLoopRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCBoundThenCrashLoop",
			Category:   CategoryCompound,
			Priority:   64,
			Confidence: 0.92,
			Requires:   Requires{Objects: []string{graph.KindPVC}},
			Blocks:     []string{"PVCNotBound", "CrashLoopBackoff"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			bound := false
			for _, pvc := range g.ClaimedPVCs() {
				if pvc.Status.Phase == corev1.ClaimBound {
					bound = true
					break
				}
			}
			if !bound {
				return false
			}
			return tl.Pattern(
				timeline.Reason("PersistentVolumeClaimPending"),
				timeline.Reason("PersistentVolumeClaimBound"),
			) && crashLooping(g, tl)
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			var pvc *corev1.PersistentVolumeClaim
			for _, candidate := range g.ClaimedPVCs() {
				if candidate.Status.Phase == corev1.ClaimBound {
					pvc = candidate
					break
				}
			}
			cause := causality.NewCause("PVCBoundThenCrashLoop", pvcRef(pvc),
				"Application failing after storage recovery", 0.92,
				objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name), "Bound"),
				timelineEvidence("PersistentVolumeClaimPending,PersistentVolumeClaimBound",
					"claim transitioned Pending to Bound"))
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("CrashLoopBackoff", podRef(g),
				"Containers still crash looping after the claim bound", 0.92))
			return chain
		},
	}
}

// pvcRecoveredButAppStillFailingRule: like PVCBoundThenCrashLoop but
// keyed on a failure seen no earlier than the claim's bound event, which
// rules out backoff noise from before the claim bound.
func pvcRecoveredButAppStillFailingRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCRecoveredButAppStillFailing",
			Category:   CategoryCompound,
			Priority:   65,
			Confidence: 0.93,
			Requires:   Requires{Objects: []string{graph.KindPVC}},
			Blocks:     []string{"CrashLoopBackoff", "PVCNotBound"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			bound := false
			for _, pvc := range g.ClaimedPVCs() {
				if pvc.Status.Phase == corev1.ClaimBound {
					bound = true
					break
				}
			}
			if !bound {
				return false
			}
			if !tl.Has(timeline.Filter{Reason: "PersistentVolumeClaimPending"}) {
				return false
			}
			// Failures must continue after the claim bound.
			boundEvent := tl.First(timeline.Filter{Reason: "PersistentVolumeClaimBound"})
			failure := tl.Last(timeline.Filter{Reason: "BackOff"})
			if failure == nil {
				failure = tl.Last(timeline.Filter{Reason: "CrashLoopBackOff"})
			}
			if failure == nil {
				return false
			}
			if boundEvent == nil || boundEvent.LastSeen == 0 || failure.LastSeen == 0 {
				return true
			}
			return failure.LastSeen >= boundEvent.LastSeen
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			var pvc *corev1.PersistentVolumeClaim
			for _, candidate := range g.ClaimedPVCs() {
				if candidate.Status.Phase == corev1.ClaimBound {
					pvc = candidate
					break
				}
			}
			cause := causality.NewCause("PVCRecoveredButAppStillFailing", podRef(g),
				"Application failure persists after PVC recovery", 0.93,
				objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name), "Bound"),
				timelineEvidence("BackOff", "failures continued after the claim bound"))
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"ApplicationFault", podRef(g),
				"Failure is in the application, not the storage layer", 0.93))
			return chain
		},
	}
}

// pvcPendingTooLongRule: provisioning stalled well past any reasonable
// deadline.
func pvcPendingTooLongRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCPendingTooLong",
			Category:   CategoryCompound,
			Priority:   57,
			Confidence: 0.97,
			Requires: Requires{
				Objects:  []string{graph.KindPVC},
				Optional: []string{graph.KindStorageClass},
			},
			Blocks:           []string{"PVCNotBound", "FailedScheduling"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			pvc := g.UnboundPVC()
			if pvc == nil || pvc.Status.Phase != corev1.ClaimPending {
				return false
			}
			dur, ok := tl.PVCPendingDuration()
			return ok && dur >= pvcPendingTooLong
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			pvc := g.UnboundPVC()
			dur, _ := tl.PVCPendingDuration()
			cause := causality.NewCause("PVCPendingTooLong", pvcRef(pvc),
				"PersistentVolumeClaim provisioning is stalled", 0.97,
				objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name), "Pending"),
				timelineEvidence("PVCPendingDuration", fmt.Sprintf("pending for %s", dur)))
			return singleCause(cause)
		},
	}
}

// dynamicProvisioningTimeoutRule: the provisioner reported failure and
// the claim stayed pending past the provisioning deadline.
func dynamicProvisioningTimeoutRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "DynamicProvisioningTimeout",
			Category:   CategoryCompound,
			Priority:   58,
			Confidence: 0.97,
			Requires: Requires{
				Objects:  []string{graph.KindPVC},
				Optional: []string{graph.KindStorageClass},
			},
			Blocks:           []string{"PVReleasedOrFailed", "ProvisioningFailed"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			pvc := g.UnboundPVC()
			if pvc == nil || pvc.Status.Phase != corev1.ClaimPending {
				return false
			}
			if !tl.Has(timeline.Filter{Reason: "ProvisioningFailed"}) {
				return false
			}
			if dur, ok := tl.PVCPendingDuration(); ok {
				return dur >= provisioningTimeout
			}
			return true
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			pvc := g.UnboundPVC()
			cause := causality.NewCause("DynamicProvisioningTimeout", pvcRef(pvc),
				"Dynamic provisioning did not complete in time", 0.97,
				objectEvidence(fmt.Sprintf("pvc[%s].status.phase", pvc.Name), "Pending"))
			if e := tl.Last(timeline.Filter{Reason: "ProvisioningFailed"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			if sc := g.StorageClassForClaim(pvc); sc != nil {
				chain.Contributing = append(chain.Contributing, causality.NewCause(
					"ProvisionerUnhealthy", causality.ObjectRef("storageclass", sc.Name),
					fmt.Sprintf("Provisioner %s not completing requests", sc.Provisioner), 0.97))
			}
			return chain
		},
	}
}

// pvcBoundNodeDiskPressureMountRule: the claim is fine; the mount fails
// because the node is out of disk.
func pvcBoundNodeDiskPressureMountRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCBoundNodeDiskPressureMount",
			Category:   CategoryCompound,
			Priority:   66,
			Confidence: 0.98,
			Requires:   Requires{Objects: []string{graph.KindPVC, graph.KindNode}},
			Blocks:     []string{"FailedMount", "NodeDiskPressure"},
			ExpectedEvidence: 3,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			claims := g.ClaimedPVCs()
			if len(claims) == 0 {
				return false
			}
			for _, pvc := range claims {
				if pvc.Status.Phase != corev1.ClaimBound {
					return false
				}
			}
			if _, ok := g.NodeConditionTrue("DiskPressure"); !ok {
				return false
			}
			return tl.Has(timeline.Filter{Reason: "FailedMount"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			nodeName, _ := g.NodeConditionTrue("DiskPressure")
			claims := g.ClaimedPVCs()
			cause := causality.NewCause("PVCBoundNodeDiskPressureMount",
				causality.ObjectRef("node", nodeName),
				"Claim bound but mount failing due to node disk pressure", 0.98,
				conditionEvidence(fmt.Sprintf("node[%s].status.conditions[DiskPressure]", nodeName),
					"DiskPressure=True"))
			if len(claims) > 0 {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pvc[%s].status.phase", claims[0].Name), "Bound"))
			}
			if e := tl.Last(timeline.Filter{Reason: "FailedMount"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("FailedMount", podRef(g),
				"Kubelet cannot mount the volume on the pressured node", 0.98))
			return chain
		},
	}
}

// pvcBoundThenNodePressureRule: storage is healthy but node pressure
// keeps the pod Pending.
func pvcBoundThenNodePressureRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "PVCBoundThenNodePressure",
			Category:   CategoryCompound,
			Priority:   53,
			Confidence: 0.94,
			Requires:   Requires{Objects: []string{graph.KindPVC, graph.KindNode}},
			Blocks:     []string{"FailedScheduling"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if g.Phase() != corev1.PodPending {
				return false
			}
			claims := g.ClaimedPVCs()
			if len(claims) == 0 {
				return false
			}
			for _, pvc := range claims {
				if pvc.Status.Phase != corev1.ClaimBound {
					return false
				}
			}
			_, disk := g.NodeConditionTrue("DiskPressure")
			_, mem := g.NodeConditionTrue("MemoryPressure")
			return disk || mem
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			nodeName, ok := g.NodeConditionTrue("DiskPressure")
			condType := "DiskPressure"
			if !ok {
				nodeName, _ = g.NodeConditionTrue("MemoryPressure")
				condType = "MemoryPressure"
			}
			claims := g.ClaimedPVCs()
			cause := causality.NewCause("PVCBoundThenNodePressure",
				causality.ObjectRef("node", nodeName),
				"Pod Pending despite bound claim: node under pressure", 0.94,
				conditionEvidence(fmt.Sprintf("node[%s].status.conditions[%s]", nodeName, condType),
					condType+"=True"))
			if len(claims) > 0 {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pvc[%s].status.phase", claims[0].Name), "Bound"))
			}
			return singleCause(cause)
		},
	}
}

// nodeNotReadyEvictedRule: an unhealthy node evicted the pod.
func nodeNotReadyEvictedRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "NodeNotReadyEvictedRule",
			Category:   CategoryCompound,
			Priority:   59,
			Confidence: 0.96,
			Requires:   Requires{Objects: []string{graph.KindNode}},
			Blocks:     []string{"Evicted", "NodeNotReady"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if !tl.Has(timeline.Filter{Reason: "Evicted"}) {
				return false
			}
			for _, c := range g.NodeConditions {
				if c.Type == "Ready" && c.Status != "True" {
					return true
				}
				if c.Status == "True" && (c.Type == "DiskPressure" || c.Type == "MemoryPressure" || c.Type == "PIDPressure") {
					return true
				}
			}
			return false
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			var nodeCond *graph.NodeCondition
			for i, c := range g.NodeConditions {
				if (c.Type == "Ready" && c.Status != "True") ||
					(c.Status == "True" && (c.Type == "DiskPressure" || c.Type == "MemoryPressure" || c.Type == "PIDPressure")) {
					nodeCond = &g.NodeConditions[i]
					break
				}
			}
			cause := causality.NewCause("NodeNotReadyEvicted", podRef(g),
				"Pod evicted from an unhealthy node", 0.96)
			if nodeCond != nil {
				cause.InvolvedObject = causality.ObjectRef("node", nodeCond.Node)
				cause.Evidence = append(cause.Evidence, conditionEvidence(
					fmt.Sprintf("node[%s].status.conditions[%s]", nodeCond.Node, nodeCond.Type),
					fmt.Sprintf("%s=%s", nodeCond.Type, nodeCond.Status)))
			}
			if e := tl.First(timeline.Filter{Reason: "Evicted"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			if nodeCond != nil {
				chain.Contributing = append(chain.Contributing, causality.NewCause(
					"NodeCondition", causality.ObjectRef("node", nodeCond.Node),
					fmt.Sprintf("Node condition %s=%s", nodeCond.Type, nodeCond.Status), 0.96,
					conditionEvidence(fmt.Sprintf("node[%s].status.conditions[%s]", nodeCond.Node, nodeCond.Type),
						fmt.Sprintf("%s=%s", nodeCond.Type, nodeCond.Status))))
			}
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("Evicted", podRef(g),
				"Kubelet evicted the pod", 0.96))
			return chain
		},
	}
}
