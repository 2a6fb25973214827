package rules

import (
	"fmt"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func containerRules() []Rule {
	return []Rule{
		crashLoopBackoffRule(),
		repeatedCrashLoopRule(),
		oomKilledRule(),
		containerCreateConfigErrorRule(),
		invalidEntrypointRule(),
		initContainerFailureRule(),
	}
}

// crashLoopBackoffRule fires when the container is in restart backoff,
// from either the container status or BackOff events.
func crashLoopBackoffRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "CrashLoopBackoff",
			Category:         CategoryContainer,
			Priority:         15,
			Confidence:       0.92,
			Blocks:           []string{"RepeatedCrashLoop"},
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return waitingContainer(g, "CrashLoopBackOff") != nil ||
				tl.Has(timeline.Filter{Reason: "BackOff"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("CrashLoopBackoff", podRef(g),
				"Container repeatedly crashing and restarting", 0.92)
			if cs := waitingContainer(g, "CrashLoopBackOff"); cs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
					fmt.Sprintf("CrashLoopBackOff, restartCount=%d", cs.RestartCount)))
			}
			if e := tl.Last(timeline.Filter{Reason: "BackOff"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("ContainerRestarting", podRef(g),
				"Container restarts with increasing backoff", 0.92))
			return chain
		},
	}
}

// repeatedCrashLoopRule fires on a sustained BackOff pattern over time.
func repeatedCrashLoopRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "RepeatedCrashLoop",
			Category:         CategoryContainer,
			Priority:         14,
			Confidence:       0.90,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Repeated("BackOff", 2, 0)
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("RepeatedCrashLoop", podRef(g),
				"Container is repeatedly crashing over time", 0.90,
				timelineEvidence("BackOff",
					fmt.Sprintf("%d backoff occurrences in the event record",
						tl.Count(timeline.Filter{Reason: "BackOff"}))))
			return singleCause(cause)
		},
	}
}

// oomKilledRule is object-state based: the container's last termination
// was the kernel OOM killer.
func oomKilledRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "OOMKilled",
			Category:         CategoryContainer,
			Priority:         26,
			Confidence:       0.94,
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return lastTerminatedContainer(g, "OOMKilled") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cs := lastTerminatedContainer(g, "OOMKilled")
			cause := causality.NewCause("OOMKilled", podRef(g),
				"Container terminated due to out-of-memory", 0.94)
			if cs != nil {
				term := cs.LastTerminationState.Terminated
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].lastState.terminated", cs.Name),
					fmt.Sprintf("reason=OOMKilled exitCode=%d", term.ExitCode)))
				if limit, ok := memoryLimitFor(g, cs.Name); ok {
					cause.Evidence = append(cause.Evidence, objectEvidence(
						fmt.Sprintf("pod.spec.containers[%s].resources.limits.memory", cs.Name),
						limit))
				}
			}
			if e := tl.First(timeline.Filter{Reason: "OOMKilled"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"MemoryLimitTooLow", podRef(g),
				"Memory limit too low or workload leaking memory", 0.94))
			return chain
		},
	}
}

func memoryLimitFor(g *graph.Graph, containerName string) (string, bool) {
	if g.Pod == nil {
		return "", false
	}
	for _, c := range g.Pod.Spec.Containers {
		if c.Name != containerName {
			continue
		}
		if limit, ok := c.Resources.Limits["memory"]; ok {
			return limit.String(), true
		}
	}
	return "", false
}

// containerCreateConfigErrorRule fires when container creation fails on
// missing configuration references.
func containerCreateConfigErrorRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ContainerCreateConfigError",
			Category:         CategoryContainer,
			Priority:         25,
			Confidence:       0.95,
			Blocks:           []string{"CrashLoopBackoff"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return waitingContainer(g, "CreateContainerConfigError") != nil ||
				tl.Has(timeline.Filter{Reason: "CreateContainerConfigError"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("ContainerCreateConfigError", podRef(g),
				"Container failed due to CreateContainerConfigError", 0.95)
			if cs := waitingContainer(g, "CreateContainerConfigError"); cs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
					cs.State.Waiting.Message))
			}
			if e := tl.First(timeline.Filter{Reason: "CreateContainerConfigError"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// invalidEntrypointRule fires when the runtime cannot exec the configured
// command.
func invalidEntrypointRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "InvalidEntrypoint",
			Category:         CategoryContainer,
			Priority:         22,
			Confidence:       0.93,
			Blocks:           []string{"CrashLoopBackoff"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if anyEventMessageContains(tl,
				"executable file not found", "no such file or directory") != nil {
				return true
			}
			for _, cs := range g.ContainerStatuses() {
				term := cs.LastTerminationState.Terminated
				if term != nil && term.Reason == "StartError" {
					return true
				}
			}
			return false
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("InvalidEntrypoint", podRef(g),
				"Container failed due to invalid entrypoint or command", 0.93)
			for _, cs := range g.ContainerStatuses() {
				term := cs.LastTerminationState.Terminated
				if term != nil && term.Reason == "StartError" {
					cause.Evidence = append(cause.Evidence, objectEvidence(
						fmt.Sprintf("pod.status.containerStatuses[%s].lastState.terminated", cs.Name),
						term.Message))
					break
				}
			}
			if e := anyEventMessageContains(tl,
				"executable file not found", "no such file or directory"); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// initContainerFailureRule fires when an init container fails, which
// blocks every regular container from starting.
func initContainerFailureRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "InitContainerFailure",
			Category:         CategoryContainer,
			Priority:         61,
			Confidence:       0.99,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return failingInitContainer(g) != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cs := failingInitContainer(g)
			cause := causality.NewCause("InitContainerFailure", podRef(g),
				"Pod blocked by failing init container", 0.99)
			if cs != nil {
				snippet := "init container failing"
				if cs.State.Terminated != nil {
					snippet = fmt.Sprintf("terminated exitCode=%d", cs.State.Terminated.ExitCode)
				} else if cs.State.Waiting != nil {
					snippet = fmt.Sprintf("waiting reason=%s", cs.State.Waiting.Reason)
				}
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.initContainerStatuses[%s]", cs.Name), snippet))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("MainContainersBlocked", podRef(g),
				"Regular containers cannot start until init completes", 0.99))
			return chain
		},
	}
}
