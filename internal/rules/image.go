package rules

import (
	"fmt"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func imageRules() []Rule {
	return []Rule{
		imagePullErrorRule(),
		imagePullBackOffRule(),
		imagePullSecretMissingRule(),
	}
}

// imagePullErrorRule is the generic pull failure signal.
func imagePullErrorRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ImagePullError",
			Category:         CategoryImage,
			Priority:         30,
			Confidence:       0.85,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Has(timeline.Filter{Reason: "ErrImagePull"}) ||
				waitingContainer(g, "ErrImagePull") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("ImagePullError", podRef(g),
				"Container image could not be pulled", 0.85)
			if cs := waitingContainer(g, "ErrImagePull"); cs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
					"waiting reason ErrImagePull"))
			}
			if e := tl.First(timeline.Filter{Reason: "ErrImagePull"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// imagePullBackOffRule fires on repeated pull failures with backoff.
func imagePullBackOffRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ImagePullBackOff",
			Category:         CategoryImage,
			Priority:         45,
			Confidence:       0.88,
			ExpectedEvidence: 2,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Has(timeline.Filter{Reason: "ImagePullBackOff"}) ||
				waitingContainer(g, "ImagePullBackOff") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			retries := tl.Count(timeline.Filter{Reason: "ImagePullBackOff"})
			cause := causality.NewCause("ImagePullBackOff", podRef(g),
				"Image pull repeatedly failing (ImagePullBackOff)", 0.88)
			if cs := waitingContainer(g, "ImagePullBackOff"); cs != nil {
				cause.Evidence = append(cause.Evidence, objectEvidence(
					fmt.Sprintf("pod.status.containerStatuses[%s].state.waiting", cs.Name),
					"waiting reason ImagePullBackOff"))
			}
			if e := tl.Last(timeline.Filter{Reason: "ImagePullBackOff"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			if retries > 1 {
				cause.Evidence = append(cause.Evidence, timelineEvidence("ImagePullBackOff",
					fmt.Sprintf("%d pull retries observed", retries)))
			}
			chain := singleCause(cause)
			chain.Contributing = append(chain.Contributing, causality.NewCause(
				"RegistryOrReference", podRef(g),
				"Image reference wrong or registry unreachable", 0.88))
			return chain
		},
	}
}

// imagePullSecretMissingRule fires on registry authentication failures
// surfaced in event messages.
func imagePullSecretMissingRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ImagePullSecretMissing",
			Category:         CategoryImage,
			Priority:         58,
			Confidence:       0.97,
			Blocks:           []string{"ImagePullError"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return anyEventMessageContains(tl,
				"pull access denied", "unauthorized", "authentication required") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			e := anyEventMessageContains(tl,
				"pull access denied", "unauthorized", "authentication required")
			cause := causality.NewCause("ImagePullSecretMissing", podRef(g),
				"Image pull secret missing or invalid", 0.97)
			if e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}
