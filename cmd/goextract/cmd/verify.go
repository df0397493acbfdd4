package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/verifier"
)

var (
	verifySample  int
	verifyKinds   []string
	verifyNoColor bool
	verifyDetails bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate extracted output against the schema",
	Long: `Verify reads back what the sink holds and grades it.

Checks performed:
  - Kind coverage: every schema kind has output
  - Instance names: records carry real names, not placeholders
  - Field coverage: schema fields appear in the records
  - Type validation: values have the shape their schema type promises

Exit codes: 0 when everything passes, 1 on warnings, 2 on failures.

Example:
  goextract verify --config goextract.yaml
  goextract verify --kind Item --sample 200`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().IntVar(&verifySample, "sample", verifier.DefaultSampleSize,
		"Records per kind checked by type validation")
	verifyCmd.Flags().StringSliceVarP(&verifyKinds, "kind", "k", nil,
		"Only verify these kinds")
	verifyCmd.Flags().BoolVar(&verifyNoColor, "no-color", false,
		"Disable colored output")
	verifyCmd.Flags().BoolVar(&verifyDetails, "details", false,
		"Show the details of each finding")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	v, err := verifier.NewVerifier(a.reg, a.sink, log)
	if err != nil {
		return err
	}
	v.SetSampleSize(verifySample)

	report, err := v.Verify(ctx, verifyKinds...)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	printVerifyReport(cmd.OutOrStdout(), report, verifyNoColor, verifyDetails)
	if code := report.ExitCode(); code != 0 {
		return &exitError{code: code, msg: fmt.Sprintf("verification finished with %s", report.Worst())}
	}
	return nil
}

func printVerifyReport(w io.Writer, r *verifier.Report, noColor, details bool) {
	fmt.Fprintf(w, "=== Verification ===\n")
	for _, c := range r.Checks {
		scope := c.Kind
		if scope == "" {
			scope = "*"
		}
		fmt.Fprintf(w, "[%s] %s %s: %s\n", paintLevel(string(c.Level), noColor), scope, c.Name, c.Message)
		if details {
			for _, d := range c.Details {
				fmt.Fprintf(w, "       %s\n", d)
			}
		}
	}

	fmt.Fprintln(w)
	t := newTable(w, noColor, "KIND", "RECORDS", "NAMED", "DIGEST")
	for _, k := range r.Kinds {
		digest := k.Digest
		if len(digest) > 16 {
			digest = digest[:16]
		}
		t.AddRow(k.Kind, fmt.Sprint(k.Records), fmt.Sprint(k.Named), digest)
	}
	t.Render()

	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failures\n",
		r.Count(verifier.LevelPass), r.Count(verifier.LevelWarn), r.Count(verifier.LevelFail))
}
