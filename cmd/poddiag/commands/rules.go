package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moolen/poddiag/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the rule registry",
	Long:  `List every registered rule in evaluation order: name, category, priority and the rules it suppresses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLog()

		registry, err := rules.DefaultRegistry()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCATEGORY\tPRIORITY\tBLOCKS")
		for _, rule := range registry.Rules() {
			m := rule.Meta()
			blocks := "-"
			if len(m.Blocks) > 0 {
				blocks = strings.Join(m.Blocks, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.Name, m.Category, m.Priority, blocks)
		}
		return w.Flush()
	},
}
