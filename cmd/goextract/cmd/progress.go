package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/dbsmedya/goextract/internal/extractor"
)

// progressReporter draws one bar per kind and phase from pipeline events.
type progressReporter struct {
	w     io.Writer
	quiet bool
	kind  string
	state extractor.State
	bar   *progressbar.ProgressBar
}

func newProgressReporter(w io.Writer, quiet bool) *progressReporter {
	return &progressReporter{w: w, quiet: quiet}
}

// OnEvent implements extractor.ProgressFunc.
func (r *progressReporter) OnEvent(e extractor.Event) {
	if r.quiet {
		return
	}
	switch e.State {
	case extractor.StatePhase1, extractor.StatePhase2, extractor.StatePhase3:
		if e.Total == 0 {
			return
		}
		if r.bar == nil || e.Kind != r.kind || e.State != r.state {
			r.finish()
			r.kind, r.state = e.Kind, e.State
			r.bar = progressbar.NewOptions(e.Total,
				progressbar.OptionSetWriter(r.w),
				progressbar.OptionSetDescription(fmt.Sprintf("[pass %d] %-24s %s", e.Pass, e.Kind, e.State)),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(65*time.Millisecond),
				progressbar.OptionSetPredictTime(false),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(r.w)
				}),
			)
		}
		_ = r.bar.Set(e.Done)
	case extractor.StatePersist:
		r.finish()
		fmt.Fprintln(r.w, e.String())
	}
}

// Done closes the bar of an interrupted kind.
func (r *progressReporter) Done() {
	r.finish()
}

func (r *progressReporter) finish() {
	if r.bar != nil {
		if !r.bar.IsFinished() {
			_ = r.bar.Finish()
		}
		r.bar = nil
	}
}
