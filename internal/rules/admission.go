package rules

import (
	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/graph"
	"github.com/moolen/poddiag/internal/timeline"
)

func admissionRules() []Rule {
	return []Rule{
		messageRule("AdmissionWebhookDenied", CategoryAdmission, 29, 0.95, nil, 1,
			[]string{"admission webhook", "denied"},
			"Admission webhook denied the pod"),
		messageRule("ResourceQuotaExceeded", CategoryAdmission, 26, 0.96, nil, 1,
			[]string{"exceeded quota"},
			"Namespace resource quota exceeded"),
		messageRule("LimitRangeViolation", CategoryAdmission, 27, 0.94, nil, 1,
			[]string{"limitrange"},
			"Pod violates namespace LimitRange constraints"),
		messageRule("RBACForbidden", CategoryAdmission, 28, 0.93, nil, 1,
			[]string{"forbidden"},
			"RBAC denies the operation"),
		messageRule("PrivilegedNotAllowed", CategoryAdmission, 31, 0.94, nil, 1,
			[]string{"privileged"},
			"Privileged containers are not allowed"),
		messageRule("SecurityContextViolation", CategoryAdmission, 34, 0.95,
			[]string{"PrivilegedNotAllowed"}, 1,
			[]string{"violates podsecurity"},
			"Pod security policy rejects the security context"),
		serviceAccountMissingRule(),
	}
}

// messageRule builds a rule that matches on all of the given substrings
// appearing in one event message. The admission corpus is almost entirely
// message-shaped: the API server encodes the verdict in event text.
func messageRule(name, category string, priority int, confidence float64, blocks []string, expected int, substrs []string, message string) Rule {
	return &funcRule{
		meta: Meta{
			Name:             name,
			Category:         category,
			Priority:         priority,
			Confidence:       confidence,
			Blocks:           blocks,
			ExpectedEvidence: expected,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "", substrs...) != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			cause := causality.NewCause(name, podRef(g), message, confidence)
			if e := eventWithMessage(tl, "", substrs...); e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}

// serviceAccountMissingRule fires when pod creation names a missing
// service account.
func serviceAccountMissingRule() Rule {
	return &funcRule{
		meta: Meta{
			Name:             "ServiceAccountMissing",
			Category:         CategoryAdmission,
			Priority:         56,
			Confidence:       0.96,
			Blocks:           []string{"FailedCreate"},
			ExpectedEvidence: 1,
		},
		matches: func(g *graph.Graph, tl *timeline.Timeline) bool {
			return eventWithMessage(tl, "", "serviceaccount", "not found") != nil
		},
		explain: func(g *graph.Graph, tl *timeline.Timeline) causality.CausalChain {
			e := eventWithMessage(tl, "", "serviceaccount", "not found")
			saName := ""
			if g.Pod != nil {
				saName = g.Pod.Spec.ServiceAccountName
			}
			involved := podRef(g)
			if saName != "" {
				involved = causality.ObjectRef("serviceaccount", saName)
			}
			cause := causality.NewCause("ServiceAccountMissing", involved,
				"Pod references a service account that does not exist", 0.96)
			if saName != "" {
				cause.Evidence = append(cause.Evidence,
					objectEvidence("pod.spec.serviceAccountName", saName))
			}
			if e != nil {
				cause.Evidence = append(cause.Evidence, eventEvidence(e))
			}
			return singleCause(cause)
		},
	}
}
