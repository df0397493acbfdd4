// Package extractor drives the per-kind extraction state machine and the
// run-level trigger around it.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/dbsmedya/goextract/internal/graph"
	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/metadata"
	"github.com/dbsmedya/goextract/internal/reader"
	"github.com/dbsmedya/goextract/internal/resolver"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/sink"
	"github.com/dbsmedya/goextract/internal/types"
)

// State is one step of the extraction state machine.
type State int

const (
	StateDiscover State = iota
	StateLoad
	StatePhase1
	StatePhase2
	StatePhase3
	StatePersist
	StateRelease
	StateComplete
	StateAborted
)

var stateNames = [...]string{
	StateDiscover: "discover",
	StateLoad:     "load",
	StatePhase1:   "phase1",
	StatePhase2:   "phase2",
	StatePhase3:   "phase3",
	StatePersist:  "persist",
	StateRelease:  "release",
	StateComplete: "complete",
	StateAborted:  "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAborted
}

// Pass is the extraction pass a kind belongs to.
type Pass int

const (
	PassRoot  Pass = 1 // independently locatable kinds
	PassLoose Pass = 2 // kinds revealed by loading a root kind
)

// Mode returns the sink mode a kind of this pass is persisted with. A forced
// run replaces everything; otherwise loose kinds, which may be revealed only
// partially, merge into what earlier runs found.
func (p Pass) Mode(force bool) sink.Mode {
	if force || p == PassRoot {
		return sink.Full
	}
	return sink.Additive
}

// Abort reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonPlan      = "plan"
)

var (
	// ErrTimeout is recorded when the run outlives its deadline.
	ErrTimeout = errors.New("extraction run timed out")
	// ErrKindNotFound is recorded for kinds the foreign metadata does not know.
	ErrKindNotFound = errors.New("kind not found in metadata")
)

// Components are the collaborators owned by one pipeline. None of them is
// shared between runs.
type Components struct {
	Runtime    heap.Runtime
	Loader     *CandidateLoader
	Classifier *metadata.Classifier
	Resolver   *resolver.Resolver
	Reader     *reader.Reader
	Registry   *schema.Registry
	Sink       sink.Sink
}

// PipelineOptions tune one pipeline run.
type PipelineOptions struct {
	Kinds      []string // kinds to extract, every schema kind when empty
	Force      bool     // persist every kind in full mode
	YieldEvery int      // instances processed per step inside a phase
	Deadline   time.Time
	Limits     func(kind string) (maxDepth, maxElements int)
	Progress   ProgressFunc
	Yield      func() // called between steps by Run
	Now        func() time.Time
}

// Event is one progress notification.
type Event struct {
	Kind    string
	Pass    Pass
	State   State
	Done    int
	Total   int
	Message string
}

// String renders the event as one plain progress line.
func (e Event) String() string {
	var b strings.Builder
	if e.Kind != "" {
		fmt.Fprintf(&b, "[pass %d] %s: ", e.Pass, e.Kind)
	}
	b.WriteString(e.State.String())
	if e.Total > 0 {
		fmt.Fprintf(&b, " %d/%d", e.Done, e.Total)
	}
	if e.Message != "" {
		b.WriteString(" - ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// ProgressFunc receives progress events.
type ProgressFunc func(Event)

// KindResult is the outcome of one kind.
type KindResult struct {
	Kind    string
	Pass    Pass
	Records int
	Stats   types.ExtractionStats
	Write   sink.WriteResult
	Err     error
}

// Result is the outcome of a pipeline run.
type Result struct {
	State     State
	Reason    string // abort reason, empty on completion
	Kinds     []KindResult
	Attempted int
	Skipped   int
	Err       error // per-kind and run-level failures combined
}

// Failed returns the kinds that ended with an error.
func (r *Result) Failed() []string {
	var out []string
	for _, k := range r.Kinds {
		if k.Err != nil {
			out = append(out, k.Kind)
		}
	}
	return out
}

type kindEntry struct {
	name string
	pass Pass
}

type item struct {
	handle heap.Handle
	rec    *types.Record
}

// kindRun is the working set of the kind being extracted. It is dropped in
// Release.
type kindRun struct {
	kindEntry
	schema   *schema.KindSchema
	class    heap.Class
	inline   []reader.FieldSpec
	deferred []reader.FieldSpec
	declared []reader.FieldSpec

	handles []heap.Handle
	items   []*item
	cursor  int

	stats   types.ExtractionStats
	write   sink.WriteResult
	err     error
	started time.Time
	log     *logger.Logger
}

// Pipeline is the per-kind extraction state machine:
// Discover, Load, Phase1, Phase2, Phase3, Persist and Release for every kind,
// ending in Complete or Aborted. Each Step performs one bounded unit of work
// and returns, so the host decides when the next one runs.
type Pipeline struct {
	c       Components
	opts    PipelineOptions
	log     *logger.Logger
	tracker *Tracker

	plan   *graph.Plan
	graph  *graph.Graph
	queue  []kindEntry
	next   int
	cur    *kindRun
	state  State
	reason string

	results []KindResult
	errs    error

	baseDepth, baseElements int
}

// NewPipeline creates a pipeline in the Discover state.
func NewPipeline(c Components, opts PipelineOptions, log *logger.Logger) (*Pipeline, error) {
	if c.Runtime == nil || c.Loader == nil || c.Classifier == nil || c.Resolver == nil || c.Reader == nil {
		return nil, fmt.Errorf("pipeline components are incomplete")
	}
	if c.Registry == nil {
		return nil, fmt.Errorf("schema registry is nil")
	}
	if c.Sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if opts.YieldEvery <= 0 {
		opts.YieldEvery = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Yield == nil {
		opts.Yield = runtime.Gosched
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &Pipeline{
		c:       c,
		opts:    opts,
		log:     log,
		tracker: &Tracker{},
		state:   StateDiscover,
	}
	p.baseDepth, p.baseElements = c.Reader.Limits()
	return p, nil
}

// State returns the current state.
func (p *Pipeline) State() State {
	return p.state
}

// Current returns the kind being extracted, empty between kinds.
func (p *Pipeline) Current() string {
	if p.cur == nil {
		return ""
	}
	return p.cur.name
}

// Tracker returns the run's stability counters.
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// Plan returns the pass partition, nil before the first Discover.
func (p *Pipeline) Plan() *graph.Plan {
	return p.plan
}

// Run steps the pipeline to a terminal state, yielding between steps.
func (p *Pipeline) Run(ctx context.Context) *Result {
	for !p.Step(ctx).Terminal() {
		p.opts.Yield()
	}
	return p.Result()
}

// Result summarizes the run so far.
func (p *Pipeline) Result() *Result {
	return &Result{
		State:     p.state,
		Reason:    p.reason,
		Kinds:     append([]KindResult(nil), p.results...),
		Attempted: p.tracker.Attempted(),
		Skipped:   p.tracker.Skipped(),
		Err:       p.errs,
	}
}

// Step performs one unit of work and returns the resulting state.
func (p *Pipeline) Step(ctx context.Context) State {
	if p.state.Terminal() {
		return p.state
	}
	if err := ctx.Err(); err != nil {
		p.abort(ReasonCancelled, err)
		return p.state
	}
	if !p.opts.Deadline.IsZero() && !p.opts.Now().Before(p.opts.Deadline) {
		p.abort(ReasonTimeout, ErrTimeout)
		return p.state
	}

	if p.plan == nil {
		if err := p.discoverPlan(); err != nil {
			p.abort(ReasonPlan, err)
		}
		return p.state
	}

	p.stepKind(ctx)
	return p.state
}

// stepKind runs one state of the current kind. A panic aborts the kind, not
// the run.
func (p *Pipeline) stepKind(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.failKind(fmt.Errorf("panic in %s: %v", p.state, rec))
		}
	}()

	switch p.state {
	case StateDiscover:
		p.discover()
	case StateLoad:
		p.load()
	case StatePhase1:
		p.phase1()
	case StatePhase2:
		p.phase2()
	case StatePhase3:
		p.phase3()
	case StatePersist:
		p.persist(ctx)
	case StateRelease:
		p.release()
	}
}

func (p *Pipeline) discoverPlan() error {
	g, err := graph.BuildFromRegistry(p.c.Registry, p.opts.Kinds...)
	if err != nil {
		return err
	}
	plan, err := g.Plan()
	if err != nil {
		return err
	}
	p.graph = g
	p.plan = plan
	for _, k := range plan.Pass1 {
		p.queue = append(p.queue, kindEntry{name: k, pass: PassRoot})
	}
	for _, k := range plan.Pass2 {
		p.queue = append(p.queue, kindEntry{name: k, pass: PassLoose})
	}
	p.log.Infow("Extraction plan", "pass1", plan.Pass1, "pass2", plan.Pass2)
	p.emit(Event{State: StateDiscover, Message: fmt.Sprintf("%d root kinds, %d loose kinds", len(plan.Pass1), len(plan.Pass2))})
	if len(p.queue) == 0 {
		p.state = StateComplete
	}
	return nil
}

func (p *Pipeline) abort(reason string, err error) {
	if p.cur != nil {
		p.log.Warnw("Dropping unfinished kind", "kind", p.cur.name, "state", p.state.String(), "reason", reason)
		p.cur = nil
	}
	p.reason = reason
	p.errs = multierr.Append(p.errs, err)
	p.state = StateAborted
	p.log.Errorw("Extraction aborted", "reason", reason, "error", err)
	p.emit(Event{State: StateAborted, Message: reason})
}

func (p *Pipeline) failKind(err error) {
	if p.cur == nil {
		p.errs = multierr.Append(p.errs, err)
		return
	}
	p.cur.err = fmt.Errorf("kind %s: %w", p.cur.name, err)
	p.cur.log.Errorw("Kind failed", "state", p.state.String(), "error", err)
	p.state = StateRelease
}

func (p *Pipeline) emit(e Event) {
	if p.opts.Progress == nil {
		return
	}
	if p.cur != nil {
		e.Kind = p.cur.name
		e.Pass = p.cur.pass
	}
	p.opts.Progress(e)
}

// discover resolves the kind's class and splits its fields into those read
// in Phase1 and those deferred to Phase2.
func (p *Pipeline) discover() {
	entry := p.queue[p.next]
	run := &kindRun{
		kindEntry: entry,
		started:   p.opts.Now(),
		log:       p.log.WithKind(entry.name),
	}
	p.cur = run
	if entry.pass == PassLoose && (p.next == 0 || p.queue[p.next-1].pass == PassRoot) {
		p.log.Infow("Starting pass 2", "kinds", len(p.plan.Pass2))
	}

	depth, elements := p.baseDepth, p.baseElements
	if p.opts.Limits != nil {
		if d, e := p.opts.Limits(entry.name); d > 0 || e > 0 {
			if d > 0 {
				depth = d
			}
			if e > 0 {
				elements = e
			}
		}
	}
	p.c.Reader.SetLimits(depth, elements)

	run.schema, _ = p.c.Registry.Kind(entry.name)
	cls, ok := p.c.Resolver.Class(entry.name)
	if !ok {
		p.failKind(ErrKindNotFound)
		return
	}
	run.class = cls
	p.layout(run)
	run.log.Debugw("Kind discovered", "inline", len(run.inline), "deferred", len(run.deferred), "declared", len(run.declared))
	p.emit(Event{State: StateDiscover})
	p.state = StateLoad
}

func (p *Pipeline) layout(run *kindRun) {
	cls := p.c.Classifier
	if run.schema != nil {
		run.declared = reader.SpecsFromSchema(cls, run.schema.Fields, 0)
	}
	skip := append([]string{"System.Object"}, cls.Options().ObjectBases...)
	for _, spec := range reader.SpecsFromMetadata(cls, cls.InstanceFields(run.class, skip...), 0) {
		if d, ok := matchDeclared(run.declared, spec.Name); ok {
			spec.Name = d.Name
		}
		switch {
		case p.c.Reader.NeedsReference(spec):
			run.deferred = append(run.deferred, spec)
		case spec.Category.Inline():
			run.inline = append(run.inline, spec)
		}
	}
}

// matchDeclared finds the declared field a metadata field corresponds to, so
// both sources write under the declared name.
func matchDeclared(declared []reader.FieldSpec, name string) (reader.FieldSpec, bool) {
	logical := resolver.LogicalName(name)
	for _, d := range declared {
		if strings.EqualFold(resolver.LogicalName(d.Name), logical) {
			return d, true
		}
	}
	return reader.FieldSpec{}, false
}

func (p *Pipeline) load() {
	run := p.cur
	path := ""
	if run.schema != nil {
		path = run.schema.ResourcePath
	}
	addrs, strategy, err := p.c.Loader.Load(run.name, run.class, path)
	if err != nil {
		p.failKind(fmt.Errorf("load: %w", err))
		return
	}
	run.stats.Candidates = len(addrs)
	run.stats.Strategy = strategy
	run.handles = make([]heap.Handle, 0, len(addrs))
	for _, a := range addrs {
		// The class is captured once here and never re-derived later.
		h := heap.Handle{Addr: a, Class: run.class}
		if c, err := p.c.Runtime.ClassOf(a); err == nil {
			h.Class = c
		}
		run.handles = append(run.handles, h)
	}
	run.log.Infow("Candidates loaded", "strategy", strategy, "candidates", len(addrs))
	p.emit(Event{State: StateLoad, Total: len(addrs), Message: strategy})
	if len(addrs) == 0 {
		p.state = StateRelease
		return
	}
	p.state = StatePhase1
}

// batch returns the next slice bounds for the current phase and reports
// whether the phase finishes with it.
func (p *Pipeline) batch(total int) (lo, hi int, last bool) {
	lo = p.cur.cursor
	hi = lo + p.opts.YieldEvery
	if hi >= total {
		hi = total
		last = true
	}
	p.cur.cursor = hi
	return lo, hi, last
}

func (p *Pipeline) advance(next State) {
	p.cur.cursor = 0
	p.state = next
}

func (p *Pipeline) phase1() {
	run := p.cur
	rd := p.c.Reader
	lo, hi, last := p.batch(len(run.handles))
	for _, h := range run.handles[lo:hi] {
		p.tracker.Attempt()
		run.stats.Attempted++
		if !rd.Guard().IsAlive(h) {
			p.tracker.Skip()
			run.stats.Dropped++
			continue
		}
		rec := types.NewRecord(types.PlaceholderName(len(run.items)))
		for _, spec := range run.inline {
			rec.Set(spec.Name, rd.Read(h.Addr, spec, 0))
		}
		provisionalName(rd, h, rec)
		run.items = append(run.items, &item{handle: h, rec: rec})
	}
	p.emit(Event{State: StatePhase1, Done: hi, Total: len(run.handles)})
	if last {
		run.handles = nil
		p.advance(StatePhase2)
	}
}

func (p *Pipeline) phase2() {
	run := p.cur
	rd := p.c.Reader
	lo, hi, last := p.batch(len(run.items))
	for _, it := range run.items[lo:hi] {
		// The host may have collected the object since Phase1.
		if !rd.Guard().IsAlive(it.handle) {
			p.tracker.Skip()
			run.stats.Skipped++
			continue
		}
		for _, spec := range run.deferred {
			it.rec.Set(spec.Name, rd.Read(it.handle.Addr, spec, 0))
		}
		for _, spec := range run.declared {
			if it.rec.Fields.Has(spec.Name) {
				continue
			}
			it.rec.Set(spec.Name, rd.Read(it.handle.Addr, spec, 0))
		}
	}
	p.emit(Event{State: StatePhase2, Done: hi, Total: len(run.items)})
	if last {
		p.advance(StatePhase3)
	}
}

func (p *Pipeline) phase3() {
	run := p.cur
	rd := p.c.Reader
	lo, hi, last := p.batch(len(run.items))
	for _, it := range run.items[lo:hi] {
		if !it.rec.HasPlaceholderName() || !rd.Guard().IsAlive(it.handle) {
			continue
		}
		if backfillName(rd, it.handle, it.rec) {
			run.stats.Backfilled++
		}
	}
	p.emit(Event{State: StatePhase3, Done: hi, Total: len(run.items)})
	if last {
		p.advance(StatePersist)
	}
}

func (p *Pipeline) persist(ctx context.Context) {
	run := p.cur
	records := make([]*types.Record, 0, len(run.items))
	for _, it := range run.items {
		records = append(records, it.rec)
	}
	mode := run.pass.Mode(p.opts.Force)
	res, err := p.c.Sink.Write(ctx, run.name, records, mode)
	if err != nil {
		p.failKind(fmt.Errorf("persist: %w", err))
		return
	}
	run.write = res
	run.log.Infow("Kind persisted",
		"mode", mode.String(),
		"records", len(records),
		"added", res.Added,
		"skipped", res.Skipped,
		"total", res.Total,
	)
	p.emit(Event{State: StatePersist, Done: res.Added, Total: res.Total, Message: mode.String()})
	p.state = StateRelease
}

// release records the kind's outcome and drops its working set.
func (p *Pipeline) release() {
	run := p.cur
	run.stats.Duration = p.opts.Now().Sub(run.started)
	result := KindResult{
		Kind:    run.name,
		Pass:    run.pass,
		Records: len(run.items),
		Stats:   run.stats,
		Write:   run.write,
		Err:     run.err,
	}
	if run.err != nil {
		result.Records = 0
		p.errs = multierr.Append(p.errs, run.err)
	}
	p.results = append(p.results, result)
	p.emit(Event{State: StateRelease, Message: fmt.Sprintf("%d records", result.Records)})

	p.cur = nil
	p.next++
	if p.next < len(p.queue) {
		p.state = StateDiscover
		return
	}
	p.c.Reader.SetLimits(p.baseDepth, p.baseElements)
	p.state = StateComplete
	p.log.Infow("Extraction complete",
		"kinds", len(p.results),
		"attempted", p.tracker.Attempted(),
		"skipped", p.tracker.Skipped(),
	)
	p.emit(Event{State: StateComplete})
}
