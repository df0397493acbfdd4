package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/database"
	"github.com/dbsmedya/goextract/internal/extractor"
	"github.com/dbsmedya/goextract/internal/logger"
)

var (
	extractForce bool
	extractKinds []string
	extractQuiet bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract game data records from the host heap",
	Long: `Extract attaches to the host heap and writes one record set per kind.

The run follows these steps:
  1. Wait until the host has finished loading (readiness probe)
  2. Pass 1: extract root kinds, which are locatable on their own
  3. Pass 2: extract loose kinds revealed by loading the root kinds
  4. Record the run; it is current only if few objects died mid-read

A run is refused while the last one is still current for the host build.
Use --force to extract anyway and replace every kind in full.

Example:
  goextract extract --config goextract.yaml
  goextract extract --kind 'Item*' --force`,
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractForce, "force", false,
		"Extract even if the last run is current, replacing all output")
	extractCmd.Flags().StringSliceVarP(&extractKinds, "kind", "k", nil,
		"Only extract kinds matching these glob patterns")
	extractCmd.Flags().BoolVarP(&extractQuiet, "quiet", "q", false,
		"Hide progress bars")

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(extractKinds) > 0 {
		cfg.Extraction.Include = extractKinds
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Infow("Starting extraction",
		"config", GetConfigFile(),
		"snapshot", cfg.Source.Snapshot,
		"force", extractForce,
	)

	ctx, cancel := database.ShutdownContext(context.Background(), func(sig os.Signal) {
		log.Warnw("Received shutdown signal, aborting after the current step", "signal", sig.String())
	})
	defer cancel()

	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	progress := newProgressReporter(out, extractQuiet)
	engine, err := a.engine(progress.OnEvent)
	if err != nil {
		return err
	}

	var report *extractor.RunReport
	run := func() error {
		var runErr error
		report, runErr = engine.StartRun(ctx, extractForce)
		progress.Done()
		return runErr
	}

	err = a.exclusive(ctx, run)

	switch {
	case errors.Is(err, extractor.ErrAlreadyCurrent):
		fmt.Fprintln(out, "Extraction is current for this host build (use --force to extract anyway)")
		return nil
	case report == nil && err != nil:
		if errors.Is(err, context.Canceled) {
			log.Warn("Extraction cancelled by user")
			return nil
		}
		return fmt.Errorf("extraction failed: %w", err)
	}

	printReport(out, report)
	if err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("extraction completed with %d failed kind(s)", len(failed))
	}
	return nil
}

func printReport(w io.Writer, r *extractor.RunReport) {
	fmt.Fprintf(w, "\n=== Extraction %s ===\n", r.State)
	fmt.Fprintf(w, "Run ID: %s\n", r.RunID)
	fmt.Fprintf(w, "Duration: %s\n", r.CompletedAt.Sub(r.StartedAt))
	fmt.Fprintf(w, "Kinds: %d\n", len(r.Kinds))
	fmt.Fprintf(w, "Attempted: %d\n", r.Attempted)
	fmt.Fprintf(w, "Skipped: %d (%.2f%%)\n", r.Skipped, r.Ratio*100)
	fmt.Fprintf(w, "Stable: %v\n", r.Stable)
	fmt.Fprintf(w, "Current: %v\n\n", r.Current)

	t := newTable(w, true, "PASS", "KIND", "STRATEGY", "RECORDS", "DROPPED", "SKIPPED", "MODE", "ERROR")
	for _, k := range r.Kinds {
		mode := ""
		if k.Err == nil {
			mode = k.Pass.Mode(r.Force).String()
		}
		errText := ""
		if k.Err != nil {
			errText = k.Err.Error()
		}
		t.AddRow(
			fmt.Sprint(int(k.Pass)),
			k.Kind,
			k.Stats.Strategy,
			fmt.Sprint(k.Records),
			fmt.Sprint(k.Stats.Dropped),
			fmt.Sprint(k.Stats.Skipped),
			mode,
			errText,
		)
	}
	t.Render()

	if !r.Stable {
		fmt.Fprintln(w, "\nToo many objects died during the run; output was kept but the run is not current.")
		fmt.Fprintln(w, "Retry from a quieter moment in the host (for example, a menu screen).")
	}
}
