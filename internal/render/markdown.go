package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/moolen/poddiag/internal/causality"
)

type markdownRenderer struct {
	color bool
}

func (r *markdownRenderer) Render(w io.Writer, exp *causality.Explanation) error {
	md := buildMarkdown(exp)

	if !r.color {
		_, err := io.WriteString(w, md)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Fall back to raw markdown when the terminal renderer cannot
		// initialize.
		_, werr := io.WriteString(w, md)
		return werr
	}
	out, err := renderer.Render(md)
	if err != nil {
		_, werr := io.WriteString(w, md)
		return werr
	}
	_, err = io.WriteString(w, out)
	return err
}

func buildMarkdown(exp *causality.Explanation) string {
	var b strings.Builder

	if exp.Metadata.Error != "" {
		fmt.Fprintf(&b, "# Diagnosis failed\n\n%s\n", exp.Metadata.Error)
		return b.String()
	}

	if exp.RootCause == nil {
		b.WriteString("# No root cause identified\n\n")
		b.WriteString("Insufficient signal: no diagnostic rule matched this snapshot.\n\n")
	} else {
		fmt.Fprintf(&b, "# %s\n\n", exp.RootCause.Message)
		fmt.Fprintf(&b, "- **Kind**: `%s`\n", exp.RootCause.Kind)
		fmt.Fprintf(&b, "- **Object**: `%s`\n", exp.RootCause.InvolvedObject)
	}
	fmt.Fprintf(&b, "- **Confidence**: %.3f\n\n", float64(exp.Confidence))

	section := func(heading string, causes []causality.Cause) {
		if len(causes) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n", heading)
		for _, c := range causes {
			fmt.Fprintf(&b, "- `%s` %s\n", c.Kind, c.Message)
		}
		b.WriteString("\n")
	}
	section("Causes", exp.CausalChain.Causes)
	section("Symptoms", exp.CausalChain.Symptoms)
	section("Contributing", exp.CausalChain.Contributing)

	if len(exp.Evidence) > 0 {
		b.WriteString("## Evidence\n\n")
		for _, e := range exp.Evidence {
			fmt.Fprintf(&b, "- **%s** `%s` %s\n", e.Source, e.Locator, e.Snippet)
		}
		b.WriteString("\n")
	}

	if len(exp.SuppressedRules) > 0 {
		b.WriteString("## Suppressed rules\n\n")
		for _, s := range exp.SuppressedRules {
			fmt.Fprintf(&b, "- `%s` %s\n", s.Name, s.Reason)
		}
		b.WriteString("\n")
	}

	if len(exp.SuggestedNextChecks) > 0 {
		b.WriteString("## Suggested next checks\n\n")
		for i, check := range exp.SuggestedNextChecks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, check)
		}
		b.WriteString("\n")
	}

	return b.String()
}
