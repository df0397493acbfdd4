package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/graph"
	"github.com/dbsmedya/goextract/internal/schema"
)

var kindsShowAll bool

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List schema kinds in extraction order",
	Long: `Kinds lists the kinds of the configured schema in the order they are
extracted: pass 1 holds root kinds, pass 2 the loose kinds that only
become visible once an owning kind has been loaded.

Example:
  goextract kinds --config goextract.yaml
  goextract kinds --all`,
	RunE: runKinds,
}

func init() {
	kindsCmd.Flags().BoolVar(&kindsShowAll, "all", false,
		"Also list abstract templates that are never extracted")
	rootCmd.AddCommand(kindsCmd)
}

func runKinds(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	return printKinds(cmd.OutOrStdout(), reg, kindsShowAll)
}

func printKinds(w io.Writer, reg *schema.Registry, all bool) error {
	g, err := graph.BuildFromRegistry(reg, reg.Kinds()...)
	if err != nil {
		return err
	}
	plan, err := g.Plan()
	if err != nil {
		return err
	}

	t := newTable(w, true, "PASS", "KIND", "FIELDS", "EMBEDDED IN", "RESOURCE PATH")
	addRows := func(pass int, kinds []string) {
		for _, name := range kinds {
			k, _ := reg.Kind(name)
			t.AddRow(fmt.Sprint(pass), name, fmt.Sprint(len(k.Fields)), strings.Join(k.EmbeddedIn, ","), k.ResourcePath)
		}
	}
	addRows(1, plan.Pass1)
	addRows(2, plan.Pass2)
	if all {
		for _, name := range reg.AllKinds() {
			if k, _ := reg.Kind(name); k.Abstract {
				t.AddRow("-", name, fmt.Sprint(len(k.Fields)), "", "(abstract)")
			}
		}
	}
	t.Render()
	fmt.Fprintf(w, "\n%d kinds: %d in pass 1, %d in pass 2\n", len(plan.Kinds()), len(plan.Pass1), len(plan.Pass2))
	return nil
}
