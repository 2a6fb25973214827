package rules

import (
	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func networkingRules() []Rule {
	return []Rule{
		cniPluginFailureRule(),
		dnsResolutionFailureRule(),
	}
}

// cniPluginFailureRule fires when pod sandbox creation fails, which is
// almost always the CNI plugin.
func cniPluginFailureRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "CNIPluginFailure",
			Category:         CategoryNetworking,
			Priority:         32,
			Confidence:       0.92,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return tl.Has(timeline.Filter{Reason: "FailedCreatePodSandBox"}) ||
				tl.Has(timeline.Filter{Reason: "NetworkNotReady"})
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("CNIPluginFailure", podRef(g),
				"Pod sandbox creation failed; CNI plugin not functioning", 0.92)
			if e := tl.Last(timeline.Filter{Reason: "FailedCreatePodSandBox"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			} else if e := tl.Last(timeline.Filter{Reason: "NetworkNotReady"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			chain := singleCause(cause)
			chain.Symptoms = append(chain.Symptoms, causality.NewCause("PodSandboxMissing", podRef(g),
				"Containers cannot start without a pod sandbox", 0.92))
			return chain
		},
	}
}

// dnsResolutionFailureRule fires on in-cluster DNS problems surfaced in
// events.
func dnsResolutionFailureRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "DNSResolutionFailure",
			Category:         CategoryNetworking,
			Priority:         33,
			Confidence:       0.88,
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			if tl.Has(timeline.Filter{Reason: "DNSConfigForming"}) {
				return true
			}
			return anyEventMessageContains(tl, "dns resolution", "no such host", "name resolution") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause("DNSResolutionFailure", podRef(g),
				"Pod cannot resolve in-cluster or external names", 0.88)
			if e := tl.Last(timeline.Filter{Reason: "DNSConfigForming"}); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			} else if e := anyEventMessageContains(tl, "dns resolution", "no such host", "name resolution"); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}
