package rules

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

// Shared evidence constructors. Evidence source ordering matters: the
// engine lists ObjectState before Event when both support a cause, so
// rules append object-state evidence first.

func objectEvidence(locator, snippet string) causality.Evidence {
	return causality.Evidence{Source: causality.SourceObjectState, Locator: locator, Snippet: snippet}
}

func conditionEvidence(locator, snippet string) causality.Evidence {
	return causality.Evidence{Source: causality.SourceCondition, Locator: locator, Snippet: snippet}
}

func timelineEvidence(locator, snippet string) causality.Evidence {
	return causality.Evidence{Source: causality.SourceTimeline, Locator: locator, Snippet: snippet}
}

func eventEvidence(e *timeline.NormalizedEvent) causality.Evidence {
	snippet := e.Message
	if snippet == "" {
		snippet = fmt.Sprintf("event %s observed", e.Reason)
	}
	return causality.Evidence{Source: causality.SourceEvent, Locator: e.Reason, Snippet: snippet}
}

// waitingContainer returns the first container status waiting with the
// given reason.
func waitingContainer(g *graph.Graph, reason string) *corev1.ContainerStatus {
	for _, cs := range g.ContainerStatuses() {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason == reason {
			c := cs
			return &c
		}
	}
	return nil
}

// lastTerminatedContainer returns the first container status whose last
// termination carries the given reason.
func lastTerminatedContainer(g *graph.Graph, reason string) *corev1.ContainerStatus {
	for _, cs := range g.ContainerStatuses() {
		if cs.LastTerminationState.Terminated != nil && cs.LastTerminationState.Terminated.Reason == reason {
			c := cs
			return &c
		}
	}
	return nil
}

// failingInitContainer returns the first init container that terminated
// nonzero or is waiting with a failure-class reason.
func failingInitContainer(g *graph.Graph) *corev1.ContainerStatus {
	if g.Pod == nil {
		return nil
	}
	for _, cs := range g.Pod.Status.InitContainerStatuses {
		if cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0 {
			c := cs
			return &c
		}
		if cs.LastTerminationState.Terminated != nil && cs.LastTerminationState.Terminated.ExitCode != 0 {
			c := cs
			return &c
		}
		if cs.State.Waiting != nil {
			switch cs.State.Waiting.Reason {
			case "CrashLoopBackOff", "Error", "CreateContainerConfigError", "ImagePullBackOff", "ErrImagePull":
				c := cs
				return &c
			}
		}
	}
	return nil
}

// eventWithMessage returns the first event matching the reason (empty
// matches any) whose message contains every given substring,
// case-insensitively.
func eventWithMessage(tl *timeline.Timeline, reason string, substrs ...string) *timeline.NormalizedEvent {
	for _, e := range tl.Events() {
		if reason != "" && e.Reason != reason {
			continue
		}
		msg := strings.ToLower(e.Message)
		ok := true
		for _, sub := range substrs {
			if !strings.Contains(msg, strings.ToLower(sub)) {
				ok = false
				break
			}
		}
		if ok {
			return &e
		}
	}
	return nil
}

// anyEventMessageContains returns the first event whose message contains
// one of the substrings, case-insensitively, or nil when none does.
func anyEventMessageContains(tl *timeline.Timeline, substrs ...string) *timeline.NormalizedEvent {
	for _, e := range tl.Events() {
		msg := strings.ToLower(e.Message)
		for _, sub := range substrs {
			if strings.Contains(msg, strings.ToLower(sub)) {
				ev := e
				return &ev
			}
		}
	}
	return nil
}

func podRef(g *graph.Graph) string {
	return causality.ObjectRef("pod", g.PodName())
}

func pvcRef(pvc *corev1.PersistentVolumeClaim) string {
	if pvc == nil {
		return "pvc:<unknown>"
	}
	return causality.ObjectRef("pvc", pvc.Name)
}

// singleCause wraps one root cause into a chain.
func singleCause(c causality.Cause) causality.CausalChain {
	return causality.CausalChain{Causes: []causality.Cause{c}}
}
