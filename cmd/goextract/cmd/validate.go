package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/config"
	"github.com/dbsmedya/goextract/internal/database"
	"github.com/dbsmedya/goextract/internal/extractor"
	"github.com/dbsmedya/goextract/internal/graph"
	"github.com/dbsmedya/goextract/internal/heap/sim"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration, schema and sink connectivity",
	Long: `Validate checks the configuration file and everything an extraction
run depends on, without touching the host heap.

Checks performed:
  - Configuration syntax and required fields
  - Schema compilation and kind embedding cycles
  - Kind include/exclude patterns select at least one kind
  - Heap snapshot parses, when one is configured
  - Database connectivity for SQL sinks

Example:
  goextract validate --config goextract.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Configuration Validation ===\n")
	fmt.Fprintf(out, "Config file: %s\n\n", GetConfigFile())

	if !validateAll(cmd.Context(), out, cfg) {
		return fmt.Errorf("validation failed")
	}
	fmt.Fprintln(out, "\n=== Validation Complete ===")
	return nil
}

// validateAll prints one line per check and reports whether all passed.
func validateAll(ctx context.Context, w io.Writer, cfg *config.Config) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	ok := true
	check := func(name string, err error) bool {
		if err != nil {
			fmt.Fprintf(w, "FAIL  %s: %v\n", name, err)
			ok = false
			return false
		}
		fmt.Fprintf(w, "OK    %s\n", name)
		return true
	}

	check("configuration", cfg.Validate())

	reg, err := loadRegistry(cfg)
	if check("schema", err) {
		g, err := graph.BuildFromRegistry(reg, reg.Kinds()...)
		if err == nil {
			err = g.Validate()
		}
		check("kind graph", err)

		filter, err := extractor.NewKindFilter(cfg.Extraction.Include, cfg.Extraction.Exclude)
		if err == nil && len(filter.Select(reg.Kinds())) == 0 {
			err = fmt.Errorf("no kinds selected")
		}
		check("kind filters", err)
	}

	if cfg.Source.Snapshot != "" {
		_, err := sim.LoadSnapshot(cfg.Source.Snapshot)
		check("heap snapshot", err)
	}

	if cfg.Sink.Type == "sql" {
		m := database.NewManager(&cfg.Sink)
		err := m.Connect(ctx)
		if err == nil {
			err = m.Ping(ctx)
			m.Close()
		}
		check("sink database", err)
	}
	return ok
}
