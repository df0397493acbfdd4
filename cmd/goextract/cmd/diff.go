package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/schema"
)

var diffNoColor bool

var diffCmd = &cobra.Command{
	Use:   "diff OLD NEW",
	Short: "Compare two schema documents",
	Long: `Diff reports what changed between two schema documents, typically
dumped from two host builds.

Offset changes, struct size changes and renumbered enum values are CRIT:
records extracted with the old schema would read the wrong bytes. The
command exits with status 2 when any critical change is found.

Example:
  goextract diff schema-1.4.yaml schema-1.5.yaml`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().BoolVar(&diffNoColor, "no-color", false, "Disable colored output")
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	oldDoc, err := schema.LoadDocument(args[0])
	if err != nil {
		return err
	}
	newDoc, err := schema.LoadDocument(args[1])
	if err != nil {
		return err
	}

	d := schema.Compare(oldDoc, newDoc)
	printDiff(cmd.OutOrStdout(), d, diffNoColor)
	if n := d.Critical(); n > 0 {
		return &exitError{code: 2, msg: fmt.Sprintf("%d critical schema change(s)", n)}
	}
	return nil
}

func printDiff(w io.Writer, d *schema.Diff, noColor bool) {
	fmt.Fprintf(w, "=== Schema Diff ===\n")
	fmt.Fprintf(w, "Old: %s\n", orUnknown(d.OldHash))
	fmt.Fprintf(w, "New: %s\n", orUnknown(d.NewHash))
	for _, s := range d.Sections {
		if len(s.Changes) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", s.Title)
		for _, c := range s.Changes {
			fmt.Fprintf(w, "  [%s] %s\n", paintLevel(string(c.Level), noColor), c.Message)
		}
	}
	if d.Count() == 0 {
		fmt.Fprintln(w, "\nNo changes")
		return
	}
	fmt.Fprintf(w, "\n%d change(s), %d critical\n", d.Count(), d.Critical())
}

func orUnknown(s string) string {
	if s == "" {
		return "(no dump hash)"
	}
	return s
}
