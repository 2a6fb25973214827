package rules

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func probeRules() []Rule {
	return []Rule{
		probeFailureRule("StartupProbeFailure", 28, 0.93,
			[]string{"CrashLoopBackoff", "RepeatedCrashLoop"},
			"startup probe", "Container failed startup probe checks"),
		probeFailureRule("ReadinessProbeFailure", 20, 0.88,
			nil,
			"readiness probe", "Container failing readiness probe; pod not Ready"),
		probeFailureRule("LivenessProbeFailure", 19, 0.90,
			nil,
			"liveness probe", "Container failing liveness probe; kubelet restarts it"),
	}
}

// probeFailureRule builds one probe rule. The three probe kinds share
// shape: an Unhealthy event whose message names the probe, with the pod
// Ready condition as corroboration for readiness.
func probeFailureRule(name string, priority int, confidence float64, blocks []string, probe, message string) Rule {
	return &funcRule{
		meta: Meta{
			Name:             name,
			Category:         CategoryProbe,
			Priority:         priority,
			Confidence:       confidence,
			Blocks:           blocks,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "Unhealthy", probe) != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause(name, podRef(g), message, confidence)
			if name == "ReadinessProbeFailure" {
				if cond := g.PodCondition(corev1.PodReady); cond != nil && cond.Status == corev1.ConditionFalse {
					cause.Evidence = append(cause.Evidence,
						conditionEvidence("pod.status.conditions[Ready]", "Ready=False"))
				}
			}
			if e := eventWithMessage(tl, "Unhealthy", probe); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			if count := tl.Count(timeline.Filter{Reason: "Unhealthy"}); count > 1 {
				chain.Contributing = append(chain.Contributing, causality.NewCause(
					"RepeatedProbeFailures", podRef(g),
					"Probe failures recurring in the event record", confidence,
					timelineEvidence("Unhealthy", "repeated Unhealthy events")))
			}
			return chain
		},
	}
}
