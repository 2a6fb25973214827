package rules

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

// specificSchedulingHints are message fragments that indicate a more
// specific scheduling rule applies; the generic FailedScheduling rule
// stands down when any of them appears.
var specificSchedulingHints = []string{
	"insufficient", "affinity", "topology", "hostport", "taint", "tolerate",
}

func schedulingRules() []Rule {
	return []Rule{
		failedSchedulingRule(),
		unschedulableTaintRule(),
		insufficientResourcesRule(),
		nodeSelectorMismatchRule(),
		affinityUnsatisfiableRule(),
		topologySpreadUnsatisfiableRule(),
		hostPortConflictRule(),
		preemptedByHigherPriorityRule(),
	}
}

// failedSchedulingRule is the generic scheduler rejection: the pod has a
// FailedScheduling event and no more specific cause is visible in the
// messages.
func failedSchedulingRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "FailedScheduling",
			Category:         CategoryScheduling,
			Priority:         16,
			Confidence:       0.92,
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if !tl.Has(timeline.Filter{Reason: "FailedScheduling"}) {
				cond := g.PodCondition(corev1.PodScheduled)
				return cond != nil && cond.Status == corev1.ConditionFalse
			}
			return anyEventMessageContains(tl, specificSchedulingHints...) == nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("FailedScheduling", podRef(g),
				"Scheduler could not place pod on any node", 0.92)
			if cond := g.PodCondition(corev1.PodScheduled); cond != nil && cond.Status == corev1.ConditionFalse {
				cause.Evidence = append(cause.Evidence,
					conditionEvidence("pod.status.conditions[PodScheduled]",
						fmt.Sprintf("PodScheduled=False reason=%s", cond.Reason)))
			}
			if e := tl.First(timeline.Filter{Reason: "FailedScheduling"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodPending", podRef(g),
				"Pod remains in Pending phase", 0.92))
			return chain
		},
	}
}

// unschedulableTaintRule fires when the scheduler rejection names node
// taints the pod does not tolerate.
func unschedulableTaintRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "UnschedulableTaint",
			Category:         CategoryScheduling,
			Priority:         85,
			Confidence:       0.94,
			Blocks:           []string{"FailedScheduling"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "FailedScheduling", "taint") != nil ||
				eventWithMessage(tl, "FailedScheduling", "tolerate") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("UnschedulableTaint", podRef(g),
				"Pod does not tolerate node taints", 0.94)
			if g.Phase() == corev1.PodPending {
				cause.Evidence = append(cause.Evidence,
					objectEvidence("pod.status.phase", "Pending"))
			}
			e := eventWithMessage(tl, "FailedScheduling", "taint")
			if e == nil {
				e = eventWithMessage(tl, "FailedScheduling", "tolerate")
			}
			if e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodPending", podRef(g),
				"Scheduler cannot place pod; pod remains Pending", 0.94))
			return chain
		},
	}
}

// insufficientResourcesRule fires when the scheduler reports no node with
// sufficient allocatable resources.
func insufficientResourcesRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "InsufficientResources",
			Category:   CategoryScheduling,
			Priority:   18,
			Confidence: 0.95,
			Requires:   Requires{Objects: []string{graph.KindNode}},
			Blocks:     []string{"FailedScheduling"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "FailedScheduling", "insufficient") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			e := eventWithMessage(tl, "FailedScheduling", "insufficient")
			cause := causality.NewCause("InsufficientResources", podRef(g),
				fmt.Sprintf("No node out of %d has sufficient allocatable resources", len(g.Nodes)), 0.95)
			if e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"PodResourceRequests", podRef(g),
				"Pod declares CPU/memory resource requests", 0.95))
			return chain
		},
	}
}

// nodeSelectorMismatchRule is object-state based: the pod's nodeSelector
// matches no captured node's labels.
func nodeSelectorMismatchRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "NodeSelectorMismatch",
			Category:   CategoryScheduling,
			Priority:   16,
			Confidence: 0.92,
			Requires:   Requires{Objects: []string{graph.KindNode}},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if g.Pod == nil || len(g.Pod.Spec.NodeSelector) == 0 || len(g.Nodes) == 0 {
				return false
			}
			for _, name := range g.NodeNames() {
				if nodeMatchesSelector(g.Nodes[name].Labels, g.Pod.Spec.NodeSelector) {
					return false
				}
			}
			return true
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("NodeSelectorMismatch", podRef(g),
				"Pod nodeSelector does not match any node labels", 0.92,
				objectEvidence("pod.spec.nodeSelector",
					fmt.Sprintf("nodeSelector %v satisfied by none of %d nodes",
						g.Pod.Spec.NodeSelector, len(g.Nodes))))
			return singleCause(cause)
		},
	}
}

func nodeMatchesSelector(labels, selector map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// affinityUnsatisfiableRule fires when the pod declares affinity rules
// and the scheduler rejects placement.
func affinityUnsatisfiableRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "AffinityUnsatisfiable",
			Category:   CategoryScheduling,
			Priority:   17,
			Confidence: 0.95,
			Requires:   Requires{Objects: []string{graph.KindNode}},
			Blocks:     []string{"FailedScheduling"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if g.Pod == nil || g.Pod.Spec.Affinity == nil {
				return false
			}
			return tl.Has(timeline.Filter{Reason: "FailedScheduling"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("AffinityUnsatisfiable", podRef(g),
				fmt.Sprintf("No available node (out of %d) satisfies affinity constraints", len(g.Nodes)), 0.95,
				objectEvidence("pod.spec.affinity", "Pod defines affinity/anti-affinity constraints"))
			if e := tl.First(timeline.Filter{Reason: "FailedScheduling"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodPending", podRef(g),
				"Scheduler cannot place pod; pod remains Pending", 0.95))
			return chain
		},
	}
}

// topologySpreadUnsatisfiableRule fires when topologySpreadConstraints
// exist and scheduling failed.
func topologySpreadUnsatisfiableRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "TopologySpreadUnsatisfiable",
			Category:   CategoryScheduling,
			Priority:   21,
			Confidence: 0.94,
			Requires:   Requires{Objects: []string{graph.KindNode}},
			Blocks:     []string{"FailedScheduling"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if g.Pod == nil || len(g.Pod.Spec.TopologySpreadConstraints) == 0 {
				return false
			}
			return tl.Has(timeline.Filter{Reason: "FailedScheduling"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("TopologySpreadUnsatisfiable", podRef(g),
				"Pod topologySpreadConstraints cannot be satisfied on available nodes", 0.94,
				objectEvidence("pod.spec.topologySpreadConstraints",
					fmt.Sprintf("%d constraints declared", len(g.Pod.Spec.TopologySpreadConstraints))))
			if e := tl.First(timeline.Filter{Reason: "FailedScheduling"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// hostPortConflictRule fires when the rejection message references a
// hostPort conflict.
func hostPortConflictRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "HostPortConflict",
			Category:         CategoryScheduling,
			Priority:         65,
			Confidence:       0.95,
			Blocks:           []string{"FailedScheduling"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "FailedScheduling", "hostport") != nil ||
				anyEventMessageContains(tl, "port is already allocated") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			e := eventWithMessage(tl, "FailedScheduling", "hostport")
			if e == nil {
				e = anyEventMessageContains(tl, "port is already allocated")
			}
			cause := causality.NewCause("HostPortConflict", podRef(g),
				"Requested hostPort already allocated on candidate nodes", 0.95)
			if e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodPending", podRef(g),
				"Scheduler cannot place pod due to hostPort conflict", 0.95))
			return chain
		},
	}
}

// preemptedByHigherPriorityRule is status-based: the pod was selected as
// a preemption victim.
func preemptedByHigherPriorityRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "PreemptedByHigherPriority",
			Category:         CategoryScheduling,
			Priority:         66,
			Confidence:       0.97,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if g.Pod != nil && g.Pod.Status.Reason == "Preempted" {
				return true
			}
			return tl.Has(timeline.Filter{Reason: "Preempted"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("PreemptedByHigherPriority", podRef(g),
				"Pod was preempted by a higher-priority workload", 0.97)
			if g.Pod != nil && g.Pod.Status.Reason == "Preempted" {
				cause.Evidence = append(cause.Evidence,
					objectEvidence("pod.status.reason", "Preempted"))
			}
			if e := tl.First(timeline.Filter{Reason: "Preempted"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"ClusterResourcePressure", podRef(g),
				"Target node lacked free resources for both workloads", 0.97))
			return chain
		},
	}
}
