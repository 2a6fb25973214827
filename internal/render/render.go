// Package render turns an Explanation into text, JSON or markdown.
//
// Renderers are presentation only: they never reorder the engine's
// arrays and never recompute confidence.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/moolen/poddiag/internal/causality"
)

// Renderer writes one explanation to an output stream.
type Renderer interface {
	Render(w io.Writer, exp *causality.Explanation) error
}

// New returns the renderer for the given format. Unknown formats fall
// back to text.
func New(format string) Renderer {
	switch format {
	case "json":
		return &jsonRenderer{}
	case "markdown":
		return &markdownRenderer{color: stdoutIsTerminal()}
	default:
		return &textRenderer{color: stdoutIsTerminal()}
	}
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type jsonRenderer struct{}

func (r *jsonRenderer) Render(w io.Writer, exp *causality.Explanation) error {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode explanation: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
