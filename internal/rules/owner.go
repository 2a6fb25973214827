package rules

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func ownerRules() []Rule {
	return []Rule{
		failedCreateRule(),
		replicaSetCreateFailureRule(),
		replicaSetUnavailableRule(),
		deploymentProgressDeadlineRule(),
		statefulSetUpdateBlockedRule(),
	}
}

func ownerRef(o *graph.Owner) string {
	if o == nil {
		return "owner:<unknown>"
	}
	return causality.ObjectRef(o.Kind, o.Name)
}

// failedCreateRule fires when the owning controller cannot create pods.
func failedCreateRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "FailedCreate",
			Category:         CategoryOwner,
			Priority:         42,
			Confidence:       0.90,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Has(timeline.Filter{Reason: "FailedCreate"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("FailedCreate", ownerRef(g.Owner),
				"Owner controller failed to create pods", 0.90)
			if e := tl.Last(timeline.Filter{Reason: "FailedCreate"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// replicaSetCreateFailureRule is object-state based: the ReplicaSet
// reports a ReplicaFailure condition.
func replicaSetCreateFailureRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "ReplicaSetCreateFailure",
			Category:   CategoryOwner,
			Priority:   43,
			Confidence: 0.95,
			Requires:   Requires{Objects: []string{graph.KindOwner}},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			rs := ownerReplicaSet(g)
			if rs == nil {
				return false
			}
			for _, cond := range rs.Status.Conditions {
				if cond.Type == appsv1.ReplicaSetReplicaFailure && cond.Status == corev1.ConditionTrue {
					return true
				}
			}
			return false
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			rs := ownerReplicaSet(g)
			cause := causality.NewCause("ReplicaSetCreateFailure", ownerRef(g.Owner),
				"ReplicaSet cannot create replicas (ReplicaFailure)", 0.95)
			if rs != nil {
				for _, cond := range rs.Status.Conditions {
					if cond.Type == appsv1.ReplicaSetReplicaFailure && cond.Status == corev1.ConditionTrue {
						cause.Evidence = append(cause.Evidence, conditionEvidence(
							fmt.Sprintf("replicaset[%s].status.conditions[ReplicaFailure]", rs.Name),
							fmt.Sprintf("ReplicaFailure=True reason=%s", cond.Reason)))
						break
					}
				}
			}
			return singleCause(cause)
		},
	}
}

// replicaSetUnavailableRule fires when the ReplicaSet wants replicas but
// has none available.
func replicaSetUnavailableRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "ReplicaSetUnavailable",
			Category:   CategoryOwner,
			Priority:   41,
			Confidence: 0.92,
			Requires:   Requires{Objects: []string{graph.KindOwner}},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			rs := ownerReplicaSet(g)
			return rs != nil && rs.Status.Replicas > 0 && rs.Status.AvailableReplicas == 0
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			rs := ownerReplicaSet(g)
			cause := causality.NewCause("ReplicaSetUnavailable", ownerRef(g.Owner),
				"ReplicaSet has zero available replicas", 0.92)
			if rs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("replicaset[%s].status", rs.Name),
					fmt.Sprintf("replicas=%d available=0", rs.Status.Replicas)))
			}
			return singleCause(cause)
		},
	}
}

// deploymentProgressDeadlineRule fires when the Deployment rollout hit
// its progress deadline.
func deploymentProgressDeadlineRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "DeploymentProgressDeadlineExceeded",
			Category:   CategoryOwner,
			Priority:   47,
			Confidence: 0.96,
			Requires:   Requires{Objects: []string{graph.KindOwner}},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			dep := ownerDeployment(g)
			if dep == nil {
				return false
			}
			return progressDeadlineExceeded(dep) != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			dep := ownerDeployment(g)
			cause := causality.NewCause("DeploymentProgressDeadlineExceeded", ownerRef(g.Owner),
				"Deployment rollout failed: progress deadline exceeded", 0.96)
			if dep != nil {
				if cond := progressDeadlineExceeded(dep); cond != nil {
					cause.Evidence = append(cause.Evidence, conditionEvidence(
						fmt.Sprintf("deployment[%s].status.conditions[Progressing]", dep.Name),
						fmt.Sprintf("Progressing=%s reason=ProgressDeadlineExceeded", cond.Status)))
				}
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodStuckInRollout", podRef(g),
				"Pod belongs to a rollout that stopped progressing", 0.96))
			return chain
		},
	}
}

func progressDeadlineExceeded(dep *appsv1.Deployment) *appsv1.DeploymentCondition {
	for i := range dep.Status.Conditions {
		cond := dep.Status.Conditions[i]
		if cond.Type == appsv1.DeploymentProgressing && cond.Reason == "ProgressDeadlineExceeded" {
			return &cond
		}
	}
	return nil
}

// statefulSetUpdateBlockedRule fires when a partitioned rolling update
// pins replicas on the old revision.
func statefulSetUpdateBlockedRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:       "StatefulSetUpdateBlocked",
			Category:   CategoryOwner,
			Priority:   39,
			Confidence: 0.95,
			Requires:   Requires{Objects: []string{graph.KindOwner}},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			sts := ownerStatefulSet(g)
			if sts == nil || sts.Spec.UpdateStrategy.RollingUpdate == nil {
				return false
			}
			partition := sts.Spec.UpdateStrategy.RollingUpdate.Partition
			return partition != nil && *partition > 0 &&
				sts.Status.UpdatedReplicas < sts.Status.Replicas
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			sts := ownerStatefulSet(g)
			cause := causality.NewCause("StatefulSetUpdateBlocked", ownerRef(g.Owner),
				"StatefulSet rollout blocked by updateStrategy partition", 0.95)
			if sts != nil && sts.Spec.UpdateStrategy.RollingUpdate != nil && sts.Spec.UpdateStrategy.RollingUpdate.Partition != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("statefulset[%s].spec.updateStrategy.rollingUpdate.partition", sts.Name),
					fmt.Sprintf("partition=%d updated=%d/%d",
						*sts.Spec.UpdateStrategy.RollingUpdate.Partition,
						sts.Status.UpdatedReplicas, sts.Status.Replicas)))
			}
			return singleCause(cause)
		},
	}
}

func ownerReplicaSet(g *graph.Graph) *appsv1.ReplicaSet {
	if g.Owner == nil {
		return nil
	}
	return g.Owner.ReplicaSet
}

func ownerDeployment(g *graph.Graph) *appsv1.Deployment {
	if g.Owner == nil {
		return nil
	}
	return g.Owner.Deployment
}

func ownerStatefulSet(g *graph.Graph) *appsv1.StatefulSet {
	if g.Owner == nil {
		return nil
	}
	return g.Owner.StatefulSet
}
