package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/extractor"
	"github.com/dbsmedya/goextract/internal/lock"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/manifest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the extracted data is current",
	Long: `Status reports whether the last recorded run still matches the host
build, and summarizes what that run wrote.

States:
  idle         no run has been recorded
  in-progress  another instance holds the run lock
  current      the last run was stable and matches the host build
  needs-run    the host changed, or the last run was unstable

Example:
  goextract status --config goextract.yaml`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine(nil)
	if err != nil {
		return err
	}
	status, err := engine.QueryStatus(ctx)
	if err != nil {
		return err
	}
	if a.usesMySQL() {
		active, err := lock.IsRunActive(ctx, a.db.DB, cfg.Sink.Database.Database)
		if err != nil {
			log.Warnw("Could not check run lock", "error", err)
		} else if active {
			status = extractor.StatusInProgress
		}
	}

	rec, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load run record: %w", err)
	}
	printStatus(cmd.OutOrStdout(), status, rec)
	return nil
}

func printStatus(w io.Writer, status extractor.Status, rec *manifest.RunRecord) {
	fmt.Fprintf(w, "Status: %s\n", status)
	if rec == nil {
		return
	}
	fmt.Fprintf(w, "Last run: %s\n", rec.RunID)
	fmt.Fprintf(w, "Completed: %s\n", rec.CompletedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Fingerprint: %s\n", rec.Fingerprint)
	fmt.Fprintf(w, "Skipped: %d of %d (%.2f%%)\n", rec.Skipped, rec.Attempted, rec.SkipRatio()*100)
	fmt.Fprintf(w, "Marked current: %v\n\n", rec.Current)

	kinds := make([]string, 0, len(rec.Kinds))
	for k := range rec.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	t := newTable(w, true, "KIND", "RECORDS")
	for _, k := range kinds {
		t.AddRow(k, fmt.Sprint(rec.Kinds[k]))
	}
	t.Render()
}
