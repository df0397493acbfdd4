package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/heap/sim"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/sink"
	"github.com/dbsmedya/goextract/internal/types"
)

func newTestPipeline(t *testing.T, c Components, opts PipelineOptions) *Pipeline {
	t.Helper()
	p, err := NewPipeline(c, opts, logger.NewNop())
	require.NoError(t, err)
	return p
}

func fieldKeys(rec *types.Record) []string {
	return rec.Fields.Keys()
}

func TestNewPipeline_Validation(t *testing.T) {
	w := newWorld(t)
	c := w.components(t, newMemSink())

	broken := c
	broken.Reader = nil
	_, err := NewPipeline(broken, PipelineOptions{}, nil)
	assert.Error(t, err)

	broken = c
	broken.Registry = nil
	_, err = NewPipeline(broken, PipelineOptions{}, nil)
	assert.EqualError(t, err, "schema registry is nil")

	broken = c
	broken.Sink = nil
	_, err = NewPipeline(broken, PipelineOptions{}, nil)
	assert.EqualError(t, err, "sink is nil")

	p, err := NewPipeline(c, PipelineOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, StateDiscover, p.State())
	assert.Nil(t, p.Plan())
	assert.Empty(t, p.Current())
}

func TestPipeline_EndToEnd(t *testing.T) {
	w := newWorld(t)
	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Reason)

	plan := p.Plan()
	require.NotNil(t, plan)
	assert.Equal(t, []string{"Crate", "Widget"}, plan.Pass1)
	assert.Equal(t, []string{"Gadget"}, plan.Pass2)

	require.Len(t, res.Kinds, 3)
	assert.Equal(t, "Crate", res.Kinds[0].Kind)
	assert.Equal(t, "Widget", res.Kinds[1].Kind)
	assert.Equal(t, "Gadget", res.Kinds[2].Kind)
	assert.Equal(t, PassLoose, res.Kinds[2].Pass)

	widgets := ms.records["Widget"]
	assert.Equal(t, []string{"W1", "W2", "W3"}, recordNames(widgets))
	w1 := findRecord(widgets, "W1")
	require.NotNil(t, w1)
	assert.Equal(t, types.NameID, w1.Source)
	power, _ := w1.Fields.Get("Power")
	assert.Equal(t, int64(10), types.ToInt64(power))
	partner, _ := w1.Fields.Get("Partner")
	assert.Equal(t, "W2", partner)
	gadgets, _ := w1.Fields.Get("Gadgets")
	assert.Equal(t, []interface{}{"G1", "G2", "G3", "G4", "G5"}, gadgets, "list order is preserved")

	// Gadgets are only discoverable after widgets were loaded.
	gk := findKind(res, "Gadget")
	require.NotNil(t, gk)
	assert.Equal(t, StrategyLoaded, gk.Stats.Strategy)
	assert.Equal(t, []string{"G1", "G2", "G3", "G4", "G5"}, recordNames(ms.records["Gadget"]))

	assert.Equal(t, []sink.Mode{sink.Full}, ms.modes["Crate"])
	assert.Equal(t, []sink.Mode{sink.Full}, ms.modes["Widget"])
	assert.Equal(t, []sink.Mode{sink.Additive}, ms.modes["Gadget"])

	assert.Equal(t, 9, res.Attempted)
	assert.Equal(t, 0, res.Skipped)
	assert.Nil(t, res.Failed())
}

func TestPipeline_ForceWritesFull(t *testing.T) {
	w := newWorld(t)
	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{Force: true})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	assert.Equal(t, []sink.Mode{sink.Full}, ms.modes["Gadget"])
}

func TestPipeline_DeadCandidateDropped(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.heap.Kill(w.widgets[2]))
	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{Kinds: []string{"Widget"}})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)

	assert.Equal(t, []string{"W1", "W2"}, recordNames(ms.records["Widget"]))
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 1, res.Skipped)
	assert.False(t, p.Tracker().Stable(0.01))

	wk := findKind(res, "Widget")
	require.NotNil(t, wk)
	assert.Equal(t, 3, wk.Stats.Candidates)
	assert.Equal(t, 1, wk.Stats.Dropped)
	assert.Equal(t, 2, wk.Records)
}

// linkWorld holds one Holder whose Link struct points at another object and
// whose Pos struct is plain data.
func linkWorld(t *testing.T) *world {
	t.Helper()
	h := sim.New()
	h.DefineObjectBase("UnityEngine.Object")
	for _, s := range []sim.ClassSpec{
		{Name: "Target", Parent: "UnityEngine.Object", Fields: []sim.FieldSpec{
			{Name: "ID", Type: "string", Offset: 0x18},
		}},
		{Name: "Link", Shape: sim.ShapeStruct, Fields: []sim.FieldSpec{
			{Name: "Target", Type: "Target", Offset: 0},
			{Name: "Weight", Type: "int", Offset: 8},
		}},
		{Name: "Pos", Shape: sim.ShapeStruct, Fields: []sim.FieldSpec{
			{Name: "X", Type: "int", Offset: 0},
			{Name: "Y", Type: "int", Offset: 4},
		}},
		{Name: "Holder", Parent: "UnityEngine.Object", Fields: []sim.FieldSpec{
			{Name: "ID", Type: "string", Offset: 0x18},
			{Name: "Link", Type: "Link", Offset: 0x20},
			{Name: "Pos", Type: "Pos", Offset: 0x30},
		}},
	} {
		h.MustDefine(s)
	}
	reg, err := schema.Parse([]byte(`
version: "test"
templates:
  Holder:
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
  Target:
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
`))
	require.NoError(t, err)

	target := h.MustNewObject("Target")
	h.MustSetField(target, "ID", "T1")
	h.Bind("T1", target)
	holder := h.MustNewObject("Holder")
	h.MustSetField(holder, "ID", "H1")
	h.MustSetField(holder, "Link", map[string]interface{}{"Target": "@T1", "Weight": 4})
	h.MustSetField(holder, "Pos", map[string]interface{}{"X": 1, "Y": 2})
	require.NoError(t, h.Register(sim.Authoritative, "Holder", holder))
	require.NoError(t, h.Register(sim.Authoritative, "Target", target))
	return &world{heap: h, reg: reg}
}

func TestPipeline_StructHoldingReferenceReadInPhase2(t *testing.T) {
	w := linkWorld(t)
	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{Kinds: []string{"Holder"}})
	ctx := context.Background()

	for p.State() != StatePhase2 {
		require.False(t, p.Step(ctx).Terminal())
	}
	assert.ElementsMatch(t, []string{"ID", "Pos"}, fieldKeys(p.cur.items[0].rec))

	res := p.Run(ctx)
	require.Equal(t, StateComplete, res.State)
	h1 := findRecord(ms.records["Holder"], "H1")
	require.NotNil(t, h1)
	v, ok := h1.Fields.Get("Link")
	require.True(t, ok)
	link, ok := v.(*types.Object)
	require.True(t, ok)
	assert.True(t, link.Has("Target"))
	weight, _ := link.Get("Weight")
	assert.Equal(t, int64(4), weight)
}

func TestPipeline_DeathBetweenPhasesKeepsPhase1Data(t *testing.T) {
	w := newWorld(t)
	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{Kinds: []string{"Widget"}})
	ctx := context.Background()

	for p.State() != StatePhase2 {
		require.False(t, p.Step(ctx).Terminal())
	}
	// Phase1 only read inline fields.
	assert.ElementsMatch(t, []string{"ID", "Power"}, fieldKeys(p.cur.items[0].rec))
	require.NoError(t, w.heap.Kill(w.widgets[0]))

	res := p.Run(ctx)
	require.Equal(t, StateComplete, res.State)

	recs := ms.records["Widget"]
	require.Len(t, recs, 3)
	w1 := findRecord(recs, "W1")
	require.NotNil(t, w1)
	assert.ElementsMatch(t, []string{"ID", "Power"}, fieldKeys(w1))

	w2 := findRecord(recs, "W2")
	require.NotNil(t, w2)
	assert.True(t, w2.Fields.Has("Partner"))
	assert.True(t, w2.Fields.Has("Gadgets"))

	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, findKind(res, "Widget").Stats.Skipped)
}

func TestPipeline_KindFailureIsIsolated(t *testing.T) {
	w := newWorld(t)
	w.heap.PanicOnLoad("Crate")
	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	assert.Equal(t, []string{"Crate"}, res.Failed())
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panic in load")

	assert.NotContains(t, ms.records, "Crate")
	assert.Len(t, ms.records["Widget"], 3)
	assert.Len(t, ms.records["Gadget"], 5)
	assert.Equal(t, 0, findKind(res, "Crate").Records)
}

func TestPipeline_LoadErrorFailsKind(t *testing.T) {
	w := newWorld(t)
	boom := errors.New("asset bundle locked")
	w.heap.FailLoad("Crate", boom)
	p := newTestPipeline(t, w.components(t, newMemSink()), PipelineOptions{})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	ck := findKind(res, "Crate")
	require.NotNil(t, ck)
	assert.ErrorIs(t, ck.Err, boom)
}

func TestPipeline_PersistErrorFailsKind(t *testing.T) {
	w := newWorld(t)
	ms := newMemSink()
	ms.fail["Widget"] = errors.New("disk full")
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	assert.Equal(t, []string{"Widget"}, res.Failed())
	assert.Contains(t, findKind(res, "Widget").Err.Error(), "persist: disk full")
	assert.Len(t, ms.records["Gadget"], 5)
}

func TestPipeline_UnknownKind(t *testing.T) {
	w := newWorld(t)
	reg, err := schema.Parse([]byte(widgetSchema + "  Ghost:\n    resource_path: Data/Ghosts\n"))
	require.NoError(t, err)
	w.reg = reg
	p := newTestPipeline(t, w.components(t, newMemSink()), PipelineOptions{Kinds: []string{"Ghost", "Crate"}})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	assert.Equal(t, []string{"Ghost"}, res.Failed())
	assert.ErrorIs(t, findKind(res, "Ghost").Err, ErrKindNotFound)
	assert.NoError(t, findKind(res, "Crate").Err)
}

func TestPipeline_PlanError(t *testing.T) {
	w := newWorld(t)
	p := newTestPipeline(t, w.components(t, newMemSink()), PipelineOptions{Kinds: []string{"Nope"}})

	res := p.Run(context.Background())
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, ReasonPlan, res.Reason)
	assert.Contains(t, res.Err.Error(), `unknown kind "Nope"`)
}

func TestPipeline_Timeout(t *testing.T) {
	w := newWorld(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{
		Deadline: start.Add(time.Minute),
		Now:      func() time.Time { return now },
	})
	ctx := context.Background()

	for p.Current() != "Widget" {
		require.False(t, p.Step(ctx).Terminal())
	}
	now = start.Add(2 * time.Minute)

	assert.Equal(t, StateAborted, p.Step(ctx))
	res := p.Result()
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Empty(t, p.Current())
	assert.Contains(t, ms.records, "Crate")
	assert.NotContains(t, ms.records, "Widget")

	// Terminal states are sticky.
	assert.Equal(t, StateAborted, p.Step(ctx))
}

func TestPipeline_Cancelled(t *testing.T) {
	w := newWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestPipeline(t, w.components(t, newMemSink()), PipelineOptions{})

	res := p.Run(ctx)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestPipeline_YieldsBetweenBatches(t *testing.T) {
	w := newWorld(t)
	var done []int
	yields := 0
	p := newTestPipeline(t, w.components(t, newMemSink()), PipelineOptions{
		Kinds:      []string{"Widget", "Gadget"},
		YieldEvery: 2,
		Yield:      func() { yields++ },
		Progress: func(e Event) {
			if e.Kind == "Gadget" && e.State == StatePhase1 {
				done = append(done, e.Done)
			}
		},
	})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	assert.Equal(t, []int{2, 4, 5}, done)
	assert.Greater(t, yields, 20)
}

func TestPipeline_NameBackfill(t *testing.T) {
	w := newWorld(t)
	named := w.heap.MustNewObject("Crate")
	w.heap.SetName(named, "crate_from_name")
	anonymous := w.heap.MustNewObject("Crate")
	require.NoError(t, w.heap.Register(sim.Authoritative, "Crate", named, anonymous))

	ms := newMemSink()
	p := newTestPipeline(t, w.components(t, ms), PipelineOptions{Kinds: []string{"Crate"}})
	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)

	recs := ms.records["Crate"]
	assert.Equal(t, []string{"C1", "crate_from_name", types.PlaceholderName(2)}, recordNames(recs))
	assert.Equal(t, types.NameBackfill, recs[1].Source)
	assert.True(t, recs[2].HasPlaceholderName())
	assert.Equal(t, 1, findKind(res, "Crate").Stats.Backfilled)
}

func TestPipeline_PerKindLimits(t *testing.T) {
	w := newWorld(t)
	c := w.components(t, newMemSink())
	ms := c.Sink.(*memSink)
	p := newTestPipeline(t, c, PipelineOptions{
		Kinds: []string{"Widget"},
		Limits: func(kind string) (int, int) {
			if kind == "Widget" {
				return 0, 2
			}
			return 0, 0
		},
	})

	res := p.Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	gadgets, _ := findRecord(ms.records["Widget"], "W1").Fields.Get("Gadgets")
	assert.Equal(t, []interface{}{"G1", "G2"}, gadgets)

	depth, elements := c.Reader.Limits()
	assert.Equal(t, 8, depth)
	assert.Equal(t, 4096, elements)
}

func TestPipeline_AdditiveKeepsEarlierLooseRecords(t *testing.T) {
	w := newWorld(t)
	fs := newFileSink(t)
	ctx := context.Background()

	first := newTestPipeline(t, w.components(t, fs), PipelineOptions{}).Run(ctx)
	require.Equal(t, StateComplete, first.State)
	require.Len(t, loadRecords(t, fs, "Gadget"), 5)

	w.heap.Free(w.gadgets[4])
	second := newTestPipeline(t, w.components(t, fs), PipelineOptions{}).Run(ctx)
	require.Equal(t, StateComplete, second.State)

	gk := findKind(second, "Gadget")
	require.NotNil(t, gk)
	assert.Equal(t, 4, gk.Records)
	assert.True(t, gk.Write.Skipped)
	assert.Len(t, loadRecords(t, fs, "Gadget"), 5)

	w1 := findRecord(loadRecords(t, fs, "Widget"), "W1")
	require.NotNil(t, w1)
	gadgets, _ := w1.Fields.Get("Gadgets")
	assert.Equal(t, []interface{}{"G1", "G2", "G3", "G4"}, gadgets, "collected elements are omitted")

	forced := newTestPipeline(t, w.components(t, fs), PipelineOptions{Force: true}).Run(ctx)
	require.Equal(t, StateComplete, forced.State)
	assert.Len(t, loadRecords(t, fs, "Gadget"), 4)
}

func TestPass_Mode(t *testing.T) {
	assert.Equal(t, sink.Full, PassRoot.Mode(false))
	assert.Equal(t, sink.Additive, PassLoose.Mode(false))
	assert.Equal(t, sink.Full, PassLoose.Mode(true))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "phase2", StatePhase2.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, StateAborted.Terminal())
	assert.False(t, StateRelease.Terminal())
}

func TestEvent_String(t *testing.T) {
	e := Event{Kind: "Widget", Pass: PassRoot, State: StatePhase1, Done: 2, Total: 3, Message: "batch"}
	assert.Equal(t, "[pass 1] Widget: phase1 2/3 - batch", e.String())
	assert.Equal(t, "complete", Event{State: StateComplete}.String())
}

var _ heap.Loader = (*countingLoader)(nil)

// countingLoader counts authoritative loads.
type countingLoader struct {
	heap.Loader
	calls int
}

func (c *countingLoader) LoadAuthoritative(kind heap.Class) ([]heap.Addr, error) {
	c.calls++
	return c.Loader.LoadAuthoritative(kind)
}

func TestPipeline_LoadsEachKindOnce(t *testing.T) {
	w := newWorld(t)
	c := w.components(t, newMemSink())
	cl := &countingLoader{Loader: w.heap}
	c.Loader = NewCandidateLoader(cl, nil, nil)

	res := newTestPipeline(t, c, PipelineOptions{}).Run(context.Background())
	require.Equal(t, StateComplete, res.State)
	assert.Equal(t, 3, cl.calls)
}
