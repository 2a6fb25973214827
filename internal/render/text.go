package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/moolen/poddiag/internal/causality"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("75"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	causeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

type textRenderer struct {
	color bool
}

func (r *textRenderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

func (r *textRenderer) Render(w io.Writer, exp *causality.Explanation) error {
	var b strings.Builder

	if exp.Metadata.Error != "" {
		fmt.Fprintf(&b, "%s\n", r.style(causeStyle, exp.Metadata.Error))
		fmt.Fprintf(&b, "Confidence: %.3f\n", float64(exp.Confidence))
		_, err := io.WriteString(w, b.String())
		return err
	}

	if exp.RootCause == nil {
		fmt.Fprintf(&b, "%s\n", r.style(titleStyle, "No root cause identified"))
		fmt.Fprintf(&b, "%s\n", "Insufficient signal: no diagnostic rule matched this snapshot.")
		fmt.Fprintf(&b, "Confidence: %.3f\n", float64(exp.Confidence))
	} else {
		fmt.Fprintf(&b, "%s %s\n", r.style(titleStyle, "Root cause:"), exp.RootCause.Message)
		fmt.Fprintf(&b, "%s %s  %s %s\n",
			r.style(dimStyle, "kind:"), exp.RootCause.Kind,
			r.style(dimStyle, "object:"), exp.RootCause.InvolvedObject)
		fmt.Fprintf(&b, "Confidence: %.3f\n", float64(exp.Confidence))
	}

	writeCauses := func(heading string, causes []causality.Cause) {
		if len(causes) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s\n", r.style(headingStyle, heading))
		for _, c := range causes {
			fmt.Fprintf(&b, "  - [%s] %s\n", c.Kind, c.Message)
		}
	}
	writeCauses("Causes:", exp.CausalChain.Causes)
	writeCauses("Symptoms:", exp.CausalChain.Symptoms)
	writeCauses("Contributing:", exp.CausalChain.Contributing)

	if len(exp.Evidence) > 0 {
		fmt.Fprintf(&b, "\n%s\n", r.style(headingStyle, "Evidence:"))
		for _, e := range exp.Evidence {
			fmt.Fprintf(&b, "  - [%s] %s: %s\n", e.Source, e.Locator, e.Snippet)
		}
	}

	if len(exp.SuppressedRules) > 0 {
		fmt.Fprintf(&b, "\n%s\n", r.style(headingStyle, "Suppressed rules:"))
		for _, s := range exp.SuppressedRules {
			fmt.Fprintf(&b, "  - %s (%s)\n", s.Name, s.Reason)
		}
	}

	if len(exp.SuggestedNextChecks) > 0 {
		fmt.Fprintf(&b, "\n%s\n", r.style(headingStyle, "Suggested next checks:"))
		for _, check := range exp.SuggestedNextChecks {
			fmt.Fprintf(&b, "  - %s\n", check)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", r.style(dimStyle, fmt.Sprintf("engine %s  rules matched: %d  inputs: %s",
		exp.Metadata.EngineVersion, exp.Metadata.RulesMatched, shortHash(exp.Metadata.InputsHash))))

	_, err := io.WriteString(w, b.String())
	return err
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
