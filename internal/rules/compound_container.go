package rules

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

// Compound rules span multiple signals, across objects or across time.
// Each one blocks the atomic rules whose signals it subsumes, so the
// compound's explanation surfaces when both atomic signals would
// otherwise fire concurrently.

func compoundContainerRules() []Rule {
	return []Rule{
		imagePullSecretMissingCompoundRule(),
		crashLoopOOMKilledRule(),
		crashLoopLivenessProbeRule(),
		crashLoopAfterConfigChangeRule(),
		imageUpdatedThenCrashloopRule(),
		rapidRestartEscalationRule(),
		repeatedProbeFailureEscalationRule(),
		initContainerBlocksMainRule(),
		pendingUnschedulableRule(),
		schedulingFlappingRule(),
		priorityPreemptionChainRule(),
		ownerBlockedPodRule(),
		serviceAccountRBACCompoundRule(),
	}
}

// imagePullSecretMissingCompoundRule correlates a pull backoff with the
// pod declaring no imagePullSecrets: the pull fails because nothing can
// authenticate it.
func imagePullSecretMissingCompoundRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ImagePullSecretMissingCompound",
			Category:         CategoryCompound,
			Priority:         60,
			Confidence:       0.97,
			Blocks:           []string{"ImagePullBackOff", "ImagePullError", "ImagePullSecretMissing"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if g.Pod == nil || len(g.Pod.Spec.ImagePullSecrets) > 0 {
				return false
			}
			pullFailing := waitingContainer(g, "ImagePullBackOff") != nil ||
				tl.Has(timeline.Filter{Reason: "ImagePullBackOff"}) ||
				tl.Has(timeline.Filter{Reason: "ErrImagePull"})
			return pullFailing
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("ImagePullSecretMissingCompound", podRef(g),
				"Image pull failing and pod declares no imagePullSecrets", 0.97,
				objectEvidence("pod.spec.imagePullSecrets", "none declared"))
			if cs := waitingContainer(g, "ImagePullBackOff"); cs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
					"waiting reason ImagePullBackOff"))
			}
			if e := tl.Last(timeline.Filter{Reason: "ImagePullBackOff"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("ImagePullBackOff", podRef(g),
				"Kubelet backing off further pull attempts", 0.97))
			return chain
		},
	}
}

// crashLoopOOMKilledRule: the crash loop is driven by the OOM killer.
func crashLoopOOMKilledRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "CrashLoopOOMKilled",
			Category:         CategoryCompound,
			Priority:         55,
			Confidence:       0.98,
			Blocks:           []string{"CrashLoopBackoff", "OOMKilled"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if lastTerminatedContainer(g, "OOMKilled") == nil {
				return false
			}
			return waitingContainer(g, "CrashLoopBackOff") != nil ||
				tl.Has(timeline.Filter{Reason: "BackOff"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cs := lastTerminatedContainer(g, "OOMKilled")
			cause := causality.NewCause("CrashLoopOOMKilled", podRef(g),
				"CrashLoopBackOff caused by container OOMKilled", 0.98)
			if cs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].lastState.terminated", cs.Name),
					fmt.Sprintf("reason=OOMKilled exitCode=%d", cs.LastTerminationState.Terminated.ExitCode)))
			}
			if e := tl.Last(timeline.Filter{Reason: "BackOff"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("CrashLoopBackoff", podRef(g),
				"Container restarts with increasing backoff", 0.98))
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"MemoryLimitTooLow", podRef(g),
				"Memory limit too low for the workload", 0.98))
			return chain
		},
	}
}

// crashLoopLivenessProbeRule: the kubelet keeps killing the container on
// liveness failures, which presents as a crash loop.
func crashLoopLivenessProbeRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "CrashLoopLivenessProbe",
			Category:         CategoryCompound,
			Priority:         59,
			Confidence:       0.95,
			Blocks:           []string{"CrashLoopBackoff", "LivenessProbeFailure"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if eventWithMessage(tl, "Unhealthy", "liveness probe") == nil {
				return false
			}
			return tl.Has(timeline.Filter{Reason: "BackOff"}) ||
				waitingContainer(g, "CrashLoopBackOff") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("CrashLoopLivenessProbe", podRef(g),
				"CrashLoopBackOff caused by failing liveness probe", 0.95)
			if cs := waitingContainer(g, "CrashLoopBackOff"); cs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
					"waiting reason CrashLoopBackOff"))
			}
			if e := eventWithMessage(tl, "Unhealthy", "liveness probe"); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// crashLoopAfterConfigChangeRule: a config/sandbox change closely
// followed by crash looping.
func crashLoopAfterConfigChangeRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "CrashLoopAfterConfigChange",
			Category:         CategoryCompound,
			Priority:         60,
			Confidence:       0.93,
			Blocks:           []string{"CrashLoopBackoff", "RepeatedCrashLoop"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.CrashloopAfterConfigChange()
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("CrashLoopAfterConfigChange", podRef(g),
				"Crash loop started shortly after a configuration change", 0.93,
				timelineEvidence("SandboxChanged,BackOff",
					"config change followed by backoff within the correlation window"))
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("CrashLoopBackoff", podRef(g),
				"Container restarts with increasing backoff", 0.93))
			return chain
		},
	}
}

// imageUpdatedThenCrashloopRule: a fresh image pull closely followed by
// crash looping points at the new image.
func imageUpdatedThenCrashloopRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ImageUpdatedThenCrashloop",
			Category:         CategoryCompound,
			Priority:         61,
			Confidence:       0.95,
			Blocks:           []string{"CrashLoopBackoff", "RepeatedCrashLoop"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.ImageUpdatedThenCrashloop()
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("ImageUpdatedThenCrashloop", podRef(g),
				"Crash loop started shortly after an image update", 0.95,
				timelineEvidence("Pulled,BackOff",
					"image pull followed by backoff within the correlation window"))
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"NewImageRegression", podRef(g),
				"Newly pulled image likely carries the regression", 0.95))
			return chain
		},
	}
}

// rapidRestartEscalationRule: restart backoff density inside the
// escalation window.
func rapidRestartEscalationRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "RapidRestartEscalation",
			Category:         CategoryCompound,
			Priority:         52,
			Confidence:       0.90,
			Blocks:           []string{"CrashLoopBackoff"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.RapidRestartEscalation()
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			count := tl.Count(timeline.Filter{Reason: "BackOff"})
			cause := causality.NewCause("RapidRestartEscalation", podRef(g),
				"Rapid container restart escalation detected", 0.90,
				timelineEvidence("BackOff",
					fmt.Sprintf("%d backoff occurrences within the escalation window", count)))
			return singleCause(cause)
		},
	}
}

// repeatedProbeFailureEscalationRule: sustained probe failures inside
// the probe window.
func repeatedProbeFailureEscalationRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "RepeatedProbeFailureEscalation",
			Category:         CategoryCompound,
			Priority:         58,
			Confidence:       0.94,
			Blocks:           []string{"ReadinessProbeFailure", "LivenessProbeFailure"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.RepeatedProbeFailure()
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			count := tl.Count(timeline.Filter{Reason: "Unhealthy"})
			cause := causality.NewCause("RepeatedProbeFailureEscalation", podRef(g),
				"Repeated probe failures escalating into restarts", 0.94,
				timelineEvidence("Unhealthy",
					fmt.Sprintf("%d probe failures within the sustained window", count)))
			return singleCause(cause)
		},
	}
}

// initContainerBlocksMainRule: a failing init container while the main
// containers wait on initialization.
func initContainerBlocksMainRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "InitContainerBlocksMain",
			Category:         CategoryCompound,
			Priority:         70,
			Confidence:       0.98,
			Blocks:           []string{"InitContainerFailure", "CrashLoopBackoff"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if failingInitContainer(g) == nil || g.Pod == nil {
				return false
			}
			for _, cs := range g.Pod.Status.ContainerStatuses {
				if cs.State.Waiting != nil && cs.State.Waiting.Reason == "PodInitializing" {
					return true
				}
			}
			return false
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			init := failingInitContainer(g)
			cause := causality.NewCause("InitContainerBlocksMain", podRef(g),
				"Failing init container blocks all main containers", 0.98)
			if init != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.initContainerStatuses[%s]", init.Name),
					"init container failing"))
			}
			for _, cs := range g.Pod.Status.ContainerStatuses {
				if cs.State.Waiting != nil && cs.State.Waiting.Reason == "PodInitializing" {
					cause.Evidence = append(cause.Evidence, objectEvidence(
						fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
						"waiting reason PodInitializing"))
					break
				}
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("MainContainersBlocked", podRef(g),
				"Main containers stuck in PodInitializing", 0.98))
			return chain
		},
	}
}

// pendingUnschedulableRule: the pod sits Pending with repeated scheduler
// rejections.
func pendingUnschedulableRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "PendingUnschedulable",
			Category:         CategoryCompound,
			Priority:         51,
			Confidence:       0.90,
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return g.Phase() == corev1.PodPending && tl.Repeated("FailedScheduling", 2, 0)
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("PendingUnschedulable", podRef(g),
				"Pod persistently unschedulable", 0.90,
				objectEvidence("pod.status.phase", "Pending"),
				timelineEvidence("FailedScheduling",
					fmt.Sprintf("%d scheduler rejections", tl.Count(timeline.Filter{Reason: "FailedScheduling"}))))
			return singleCause(cause)
		},
	}
}

// schedulingFlappingRule: placement oscillates between Scheduled and
// FailedScheduling.
func schedulingFlappingRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "SchedulingFlapping",
			Category:         CategoryCompound,
			Priority:         57,
			Confidence:       0.91,
			Blocks:           []string{"FailedScheduling"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.SchedulingFlapping()
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("SchedulingFlapping", podRef(g),
				"Cluster scheduling instability: placement flapping", 0.91,
				timelineEvidence("Scheduled,FailedScheduling",
					"Scheduled and FailedScheduling interleaved within the flap window"))
			return singleCause(cause)
		},
	}
}

// priorityPreemptionChainRule: the pod lost its place to a
// higher-priority workload and cannot reschedule.
func priorityPreemptionChainRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "PriorityPreemptionChain",
			Category:         CategoryCompound,
			Priority:         67,
			Confidence:       0.96,
			Blocks:           []string{"PreemptedByHigherPriority", "Evicted"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			preempted := tl.Has(timeline.Filter{Reason: "Preempted"}) ||
				(g.Pod != nil && g.Pod.Status.Reason == "Preempted")
			if !preempted {
				return false
			}
			return tl.Has(timeline.Filter{Reason: "FailedScheduling"}) ||
				tl.Has(timeline.Filter{Reason: "Evicted"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("PriorityPreemptionChain", podRef(g),
				"Pod evicted by preemption and unable to reschedule", 0.96)
			if g.Pod != nil && g.Pod.Status.Reason == "Preempted" {
				cause.Evidence = append(cause.Evidence,
					objectEvidence("pod.status.reason", "Preempted"))
			}
			if e := tl.First(timeline.Filter{Reason: "Preempted"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			if e := tl.Last(timeline.Filter{Reason: "FailedScheduling"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"ClusterResourcePressure", podRef(g),
				"Higher-priority workloads consuming cluster capacity", 0.96))
			return chain
		},
	}
}

// ownerBlockedPodRule: the owning controller's rollout is stalled and
// the pod is a casualty of it.
func ownerBlockedPodRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "OwnerBlockedPod",
			Category:   CategoryCompound,
			Priority:   56,
			Confidence: 0.97,
			Requires:   Requires{Objects: []string{graph.KindOwner}},
			Blocks: []string{
				"ReplicaSetUnavailable", "ReplicaSetCreateFailure",
				"DeploymentProgressDeadlineExceeded",
			},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if g.Phase() != corev1.PodPending && g.Phase() != corev1.PodFailed {
				return false
			}
			if dep := ownerDeployment(g); dep != nil && progressDeadlineExceeded(dep) != nil {
				return true
			}
			if rs := ownerReplicaSet(g); rs != nil && rs.Status.Replicas > 0 && rs.Status.AvailableReplicas == 0 {
				return true
			}
			return false
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("OwnerBlockedPod", ownerRef(g.Owner),
				"Owner rollout stalled, degrading its pods", 0.97)
			if dep := ownerDeployment(g); dep != nil {
				if cond := progressDeadlineExceeded(dep); cond != nil {
					cause.Evidence = append(cause.Evidence, conditionEvidence(
						fmt.Sprintf("deployment[%s].status.conditions[Progressing]", dep.Name),
						"reason=ProgressDeadlineExceeded"))
				}
			}
			if rs := ownerReplicaSet(g); rs != nil && rs.Status.AvailableReplicas == 0 && rs.Status.Replicas > 0 {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("replicaset[%s].status", rs.Name),
					fmt.Sprintf("replicas=%d available=0", rs.Status.Replicas)))
			}
			cause.Evidence = append(cause.Evidence,
				objectEvidence("pod.status.phase", string(g.Phase())))
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodPending", podRef(g),
				"Pod blocked behind the stalled rollout", 0.97))
			return chain
		},
	}
}

// serviceAccountRBACCompoundRule: the pod's service account exists in the
// snapshot but the API rejects its permissions.
func serviceAccountRBACCompoundRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "ServiceAccountRBACCompound",
			Category:   CategoryCompound,
			Priority:   57,
			Confidence: 0.95,
			Requires:   Requires{Objects: []string{graph.KindServiceAccount}},
			Blocks:     []string{"RBACForbidden", "ServiceAccountMissing"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "", "forbidden") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			saName := "<unknown>"
			for _, name := range sortedServiceAccountNames(g) {
				saName = name
				break
			}
			cause := causality.NewCause("ServiceAccountRBACCompound",
				causality.ObjectRef("serviceaccount", saName),
				"Service account lacks the RBAC permissions the workload needs", 0.95,
				objectEvidence(fmt.Sprintf("serviceaccount[%s]", saName), "captured in snapshot"))
			if e := eventWithMessage(tl, "", "forbidden"); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

func sortedServiceAccountNames(g *graph.Graph) []string {
	names := make([]string, 0, len(g.ServiceAccounts))
	for name := range g.ServiceAccounts {
		names = append(names, name)
	}
	// Small fixed-size set; insertion sort keeps it dependency-free.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}
