package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dbsmedya/goextract/internal/config"
	"github.com/dbsmedya/goextract/internal/graph"
	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/manifest"
	"github.com/dbsmedya/goextract/internal/metadata"
	"github.com/dbsmedya/goextract/internal/reader"
	"github.com/dbsmedya/goextract/internal/resolver"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/sink"
)

// EngineVersion is folded into the run fingerprint when the configuration
// does not name a version, so upgrading the extractor invalidates old runs.
const EngineVersion = "1.0.0"

var (
	// ErrRunInProgress rejects a trigger while another run is active.
	ErrRunInProgress = errors.New("extraction run already in progress")
	// ErrAlreadyCurrent rejects a non-forced trigger when the last run is current.
	ErrAlreadyCurrent = errors.New("extraction is already current")
)

// Status is the answer to a currency query.
type Status int

const (
	StatusIdle       Status = iota // no run has been recorded
	StatusInProgress               // a run is active
	StatusCurrent                  // the last run was stable and matches the host build
	StatusNeedsRun                 // the last run is stale or was unstable
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInProgress:
		return "in-progress"
	case StatusCurrent:
		return "current"
	case StatusNeedsRun:
		return "needs-run"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Source is a foreign heap that can also enumerate kind instances.
type Source interface {
	heap.Runtime
	heap.Loader
}

// SourceFunc attaches to the foreign heap for one run.
type SourceFunc func(ctx context.Context) (Source, error)

// EngineOptions are the collaborators of an Engine.
type EngineOptions struct {
	Config      *config.Config
	Open        SourceFunc
	Registry    *schema.Registry
	Sink        sink.Sink
	Store       manifest.Store
	Logger      *logger.Logger
	Progress    ProgressFunc
	Fingerprint func() (string, error) // defaults to the configured binary
	Now         func() time.Time
	Yield       func()
}

// RunReport is the outcome of one triggered run.
type RunReport struct {
	*Result
	RunID       string
	Fingerprint string
	Force       bool
	StartedAt   time.Time
	CompletedAt time.Time
	Ratio       float64
	Stable      bool
	Current     bool
}

// Engine is the trigger surface: it starts runs, refuses overlapping ones and
// answers currency queries from the run ledger.
type Engine struct {
	cfg         *config.Config
	open        SourceFunc
	reg         *schema.Registry
	sink        sink.Sink
	store       manifest.Store
	log         *logger.Logger
	progress    ProgressFunc
	fingerprint func() (string, error)
	now         func() time.Time
	yield       func()

	running atomic.Bool
	mu      sync.Mutex
	last    *RunReport
}

// NewEngine validates the options and creates an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if opts.Open == nil {
		return nil, fmt.Errorf("source opener is nil")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("schema registry is nil")
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("run store is nil")
	}
	e := &Engine{
		cfg:         opts.Config,
		open:        opts.Open,
		reg:         opts.Registry,
		sink:        opts.Sink,
		store:       opts.Store,
		log:         opts.Logger,
		progress:    opts.Progress,
		fingerprint: opts.Fingerprint,
		now:         opts.Now,
		yield:       opts.Yield,
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.fingerprint == nil {
		e.fingerprint = e.defaultFingerprint
	}
	return e, nil
}

func (e *Engine) defaultFingerprint() (string, error) {
	binary := e.cfg.Source.Binary
	if binary == "" {
		binary = e.cfg.Source.Snapshot
	}
	version := e.cfg.Source.Version
	if version == "" {
		version = EngineVersion
	}
	return manifest.Fingerprint(binary, version)
}

// Running reports whether a run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// LastReport returns the report of the most recent run, nil if none.
func (e *Engine) LastReport() *RunReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// QueryStatus reports whether a run is active, and otherwise whether the
// recorded run is still current for the host build.
func (e *Engine) QueryStatus(ctx context.Context) (Status, error) {
	if e.running.Load() {
		return StatusInProgress, nil
	}
	rec, err := e.store.Load(ctx)
	if err != nil {
		return StatusNeedsRun, fmt.Errorf("failed to load run record: %w", err)
	}
	if rec == nil {
		return StatusIdle, nil
	}
	fp, err := e.fingerprint()
	if err != nil {
		return StatusNeedsRun, fmt.Errorf("failed to fingerprint host: %w", err)
	}
	if manifest.IsCurrent(rec, fp) {
		return StatusCurrent, nil
	}
	return StatusNeedsRun, nil
}

// StartRun performs one extraction run synchronously. Concurrent triggers are
// rejected with ErrRunInProgress; unless force is set, a run whose recorded
// fingerprint still matches is refused with ErrAlreadyCurrent.
//
// Per-kind failures do not fail the call: they are reported in the returned
// RunReport. The error is non-nil only when the run could not start, or was
// aborted.
func (e *Engine) StartRun(ctx context.Context, force bool) (*RunReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	fp, err := e.fingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint host: %w", err)
	}
	if !force {
		rec, err := e.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load run record: %w", err)
		}
		if manifest.IsCurrent(rec, fp) {
			return nil, ErrAlreadyCurrent
		}
	}

	runID := uuid.New().String()
	log := e.log.WithRun(runID)
	started := e.now()

	kinds, err := e.selectKinds()
	if err != nil {
		return nil, err
	}

	src, err := e.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open heap source: %w", err)
	}
	c := e.components(src, log)

	probe, err := e.readinessProbe(c, kinds, log)
	if err != nil {
		return nil, err
	}
	if err := probe.Wait(ctx); err != nil {
		log.Warnw("Run abandoned before start", "error", err)
		return nil, err
	}

	opts := PipelineOptions{
		Kinds:      kinds,
		Force:      force,
		YieldEvery: e.cfg.Extraction.YieldEvery,
		Limits: func(kind string) (int, int) {
			l := e.cfg.GetKindLimits(kind)
			return l.MaxDepth, l.MaxElements
		},
		Progress: e.progress,
		Yield:    e.yield,
		Now:      e.now,
	}
	if e.cfg.Extraction.RunTimeout > 0 {
		opts.Deadline = started.Add(e.cfg.Extraction.RunTimeout)
	}
	p, err := NewPipeline(c, opts, log)
	if err != nil {
		return nil, err
	}

	log.Infow("Extraction run started", "force", force, "kinds", len(kinds), "fingerprint", fp)
	res := p.Run(ctx)

	report := &RunReport{
		Result:      res,
		RunID:       runID,
		Fingerprint: fp,
		Force:       force,
		StartedAt:   started,
		CompletedAt: e.now(),
		Ratio:       p.Tracker().Ratio(),
		Stable:      p.Tracker().Stable(e.cfg.Extraction.StabilityThreshold),
	}
	report.Current = report.Stable && res.State == StateComplete && res.Err == nil

	if !report.Stable {
		log.Warnw("Skip ratio above stability threshold; output kept but run not marked current. Retry from a quieter moment.",
			"ratio", report.Ratio,
			"threshold", e.cfg.Extraction.StabilityThreshold,
			"attempted", res.Attempted,
			"skipped", res.Skipped,
		)
	}

	rec := &manifest.RunRecord{
		RunID:       runID,
		Fingerprint: fp,
		StartedAt:   report.StartedAt,
		CompletedAt: report.CompletedAt,
		Attempted:   res.Attempted,
		Skipped:     res.Skipped,
		Current:     report.Current,
		Kinds:       make(map[string]int, len(res.Kinds)),
	}
	for _, k := range res.Kinds {
		if k.Err == nil {
			rec.Kinds[k.Kind] = k.Records
		}
	}
	if err := e.store.Save(ctx, rec); err != nil {
		log.Errorw("Failed to save run record", "error", err)
		report.Current = false
		report.Result.Err = multierr.Append(report.Result.Err, fmt.Errorf("failed to save run record: %w", err))
	}

	e.mu.Lock()
	e.last = report
	e.mu.Unlock()

	log.Infow("Extraction run finished",
		"state", res.State.String(),
		"kinds", len(res.Kinds),
		"failed", res.Failed(),
		"attempted", res.Attempted,
		"skipped", res.Skipped,
		"current", report.Current,
		"duration", report.CompletedAt.Sub(report.StartedAt),
	)

	if res.State == StateAborted {
		return report, fmt.Errorf("extraction aborted (%s): %w", res.Reason, res.Err)
	}
	return report, nil
}

func (e *Engine) selectKinds() ([]string, error) {
	filter, err := NewKindFilter(e.cfg.Extraction.Include, e.cfg.Extraction.Exclude)
	if err != nil {
		return nil, err
	}
	kinds := filter.Select(e.reg.Kinds())
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no kinds selected")
	}
	return kinds, nil
}

// components builds the per-run collaborators. Caches live inside them, so
// nothing is shared with earlier runs.
func (e *Engine) components(src Source, log *logger.Logger) Components {
	cc := e.cfg.Classifier
	cls := metadata.NewClassifier(src, metadata.Options{
		ObjectBases:    cc.ObjectBases,
		LocalizedBases: cc.LocalizedBases,
		VariantBases:   cc.VariantBases,
		ListTypes:      cc.ListTypes,
		CountField:     cc.CountField,
		ItemsField:     cc.ItemsField,
		EnumValueField: cc.EnumValueField,
	})
	res := resolver.New(src)
	naming := e.cfg.Naming
	guard := reader.NewGuard(src, res, naming.NativeHandleField, e.cfg.Extraction.FailClosedKinds)
	rd := reader.New(src, cls, res, guard, e.reg, reader.Options{
		MaxDepth:    e.cfg.Extraction.MaxDepth,
		MaxElements: e.cfg.Extraction.MaxElements,
		Naming: reader.Naming{
			IDFields:           naming.IDFields,
			PathFields:         naming.PathFields,
			DisplayNameField:   naming.DisplayNameField,
			LocalizedTextField: naming.LocalizedTextField,
		},
	})
	return Components{
		Runtime:    src,
		Loader:     NewCandidateLoader(src, e.cfg.Extraction.UncachedKinds, log),
		Classifier: cls,
		Resolver:   res,
		Reader:     rd,
		Registry:   e.reg,
		Sink:       e.sink,
	}
}

// readinessProbe probes the configured kind, or the first root kind selected.
func (e *Engine) readinessProbe(c Components, kinds []string, log *logger.Logger) (*ReadinessProbe, error) {
	rc := e.cfg.Extraction.Readiness
	probeKind := rc.ProbeKind
	if probeKind == "" {
		g, err := graph.BuildFromRegistry(e.reg, kinds...)
		if err != nil {
			return nil, err
		}
		plan, err := g.Plan()
		if err != nil {
			return nil, err
		}
		if len(plan.Pass1) > 0 {
			probeKind = plan.Pass1[0]
		}
	}
	path := ""
	if ks, ok := e.reg.Kind(probeKind); ok {
		path = ks.ResourcePath
	}
	return NewReadinessProbe(c.Runtime, c.Loader, c.Resolver, c.Reader, probeKind, path, rc.Retries, rc.Delay, log), nil
}
