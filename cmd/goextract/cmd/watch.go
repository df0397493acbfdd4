package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/config"
	"github.com/dbsmedya/goextract/internal/database"
	"github.com/dbsmedya/goextract/internal/extractor"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/watch"
)

var watchSkipInitial bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-extract whenever the host build or schema changes",
	Long: `Watch runs an extraction, then waits for the host binary, the schema
or the heap snapshot to change and extracts again. Bursts of changes are
coalesced into one run.

A run is skipped while the recorded one is still current for the host
build. A schema change forces a full re-extraction.

Example:
  goextract watch --config goextract.yaml`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchSkipInitial, "skip-initial", false,
		"Do not extract before the first change")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := database.ShutdownContext(context.Background(), nil)
	defer cancel()

	w, err := watch.New([]string{cfg.Source.Binary, cfg.Schema.Path, cfg.Source.Snapshot}, cfg.Watch.Debounce, log)
	if err != nil {
		return err
	}
	defer w.Close()
	log.Infow("Watching for changes", "files", w.Files(), "debounce", cfg.Watch.Debounce)

	if !watchSkipInitial {
		watchExtract(ctx, cmd, cfg, log, false)
	}

	err = w.Run(ctx, func(ctx context.Context, changed []string) {
		log.Infow("Change detected", "files", changed)
		watchExtract(ctx, cmd, cfg, log, schemaChanged(cfg, changed))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchExtract performs one run. Failures are logged; the watch goes on.
func watchExtract(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logger.Logger, force bool) {
	// The registry is reopened every time so schema edits take effect.
	a, err := openApp(ctx, cfg, log)
	if err != nil {
		log.Errorw("Failed to open sink", "error", err)
		return
	}
	defer a.Close()

	engine, err := a.engine(nil)
	if err != nil {
		log.Errorw("Failed to create engine", "error", err)
		return
	}
	var report *extractor.RunReport
	err = a.exclusive(ctx, func() error {
		var runErr error
		report, runErr = engine.StartRun(ctx, force)
		return runErr
	})
	switch {
	case errors.Is(err, extractor.ErrAlreadyCurrent):
		log.Info("Extraction is current; nothing to do")
	case report == nil && err != nil:
		log.Errorw("Extraction failed", "error", err)
	default:
		printReport(cmd.OutOrStdout(), report)
		if err != nil {
			log.Errorw("Extraction aborted", "error", err)
		}
	}
}

func schemaChanged(cfg *config.Config, changed []string) bool {
	if cfg.Schema.Path == "" {
		return false
	}
	abs, err := filepath.Abs(cfg.Schema.Path)
	if err != nil {
		return false
	}
	for _, c := range changed {
		if c == abs {
			return true
		}
	}
	return false
}
