package rules

import (
	"fmt"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func nodeRules() []Rule {
	return []Rule{
		evictedRule(),
		nodePressureRule("NodeDiskPressure", 20, 0.92, "DiskPressure",
			[]string{"FailedScheduling"},
			"Node has disk pressure"),
		nodePressureRule("NodeMemoryPressure", 23, 0.90, "MemoryPressure",
			nil,
			"Node has memory pressure"),
		nodePressureRule("NodePIDPressure", 19, 0.90, "PIDPressure",
			nil,
			"Node has PID pressure"),
		nodeNotReadyRule(),
	}
}

// evictedRule fires when the pod was evicted from its node.
func evictedRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "Evicted",
			Category:         CategoryNodePressure,
			Priority:         21,
			Confidence:       0.96,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if tl.Has(timeline.Filter{Reason: "Evicted"}) {
				return true
			}
			return g.Pod != nil && g.Pod.Status.Reason == "Evicted"
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("Evicted", podRef(g),
				"Pod was evicted from node", 0.96)
			if g.Pod != nil && g.Pod.Status.Reason == "Evicted" {
				cause.Evidence = append(cause.Evidence,
					objectEvidence("pod.status.reason", "Evicted"))
			}
			if e := tl.First(timeline.Filter{Reason: "Evicted"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"NodeResourceExhaustion", podRef(g),
				"Node memory, disk or PID exhaustion triggered kubelet eviction", 0.96))
			return chain
		},
	}
}

// nodePressureRule builds one node-condition rule; the three pressure
// kinds share this shape and differ in name, priority, confidence,
// condition type, blocks and message.
func nodePressureRule(name string, priority int, confidence float64, condType string, blocks []string, message string) Rule {
	return &funcRule{
		meta: Meta{
			Name:       name,
			Category:   CategoryNodePressure,
			Priority:   priority,
			Confidence: confidence,
			Requires:   Requires{Objects: []string{graph.KindNode}},
			Blocks:     blocks,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			_, ok := g.NodeConditionTrue(condType)
			return ok
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			nodeName, _ := g.NodeConditionTrue(condType)
			cause := causality.NewCause(name, causality.ObjectRef("node", nodeName),
				message, confidence,
				conditionEvidence(fmt.Sprintf("node[%s].status.conditions[%s]", nodeName, condType),
					condType+"=True"))
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodAffectedByNodePressure", podRef(g),
				fmt.Sprintf("Pod scheduled on node reporting %s", condType), confidence))
			return chain
		},
	}
}

// nodeNotReadyRule fires when the node is not Ready or emits NodeNotReady
// events.
func nodeNotReadyRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "NodeNotReady",
			Category:   CategoryNodePressure,
			Priority:   25,
			Confidence: 0.91,
			Requires:   Requires{Objects: []string{graph.KindNode}},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			for _, c := range g.NodeConditions {
				if c.Type == "Ready" && c.Status != "True" {
					return true
				}
			}
			return tl.Has(timeline.Filter{Reason: "NodeNotReady"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("NodeNotReady", podRef(g),
				"Node hosting the pod is not Ready", 0.91)
			for _, c := range g.NodeConditions {
				if c.Type == "Ready" && c.Status != "True" {
					cause.InvolvedObject = causality.ObjectRef("node", c.Node)
					cause.Evidence = append(cause.Evidence, conditionEvidence(
						fmt.Sprintf("node[%s].status.conditions[Ready]", c.Node),
						fmt.Sprintf("Ready=%s reason=%s", c.Status, c.Reason)))
					break
				}
			}
			if e := tl.First(timeline.Filter{Reason: "NodeNotReady"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}
