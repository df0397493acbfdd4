package extractor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goextract/internal/config"
	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/heap/sim"
	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/metadata"
	"github.com/dbsmedya/goextract/internal/reader"
	"github.com/dbsmedya/goextract/internal/resolver"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/sink"
	"github.com/dbsmedya/goextract/internal/types"
)

const widgetSchema = `
version: "test"
templates:
  Widget:
    resource_path: Data/Widgets
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
      - {name: Power, type: int, offset: "0x20", category: scalar}
      - {name: Partner, type: Widget, offset: "0x28", category: reference}
      - {name: Gadgets, type: "List<Gadget>", offset: "0x30", category: list, element_type: Gadget}
  Gadget:
    loose: true
    embedded_in: [Widget]
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
      - {name: Weight, type: int, offset: "0x20", category: scalar}
  Crate:
    fields:
      - {name: ID, type: string, offset: "0x18", category: string}
`

// world is a small simulated heap with one root kind (Widget), one loose
// kind (Gadget) revealed by loading widgets, and one extra root kind (Crate).
type world struct {
	heap    *sim.Heap
	reg     *schema.Registry
	widgets []heap.Addr
	gadgets []heap.Addr
	crates  []heap.Addr
}

func newWorld(t *testing.T) *world {
	t.Helper()
	h := sim.New()
	h.DefineObjectBase("UnityEngine.Object")
	for _, s := range []sim.ClassSpec{
		{Name: "Template", Parent: "UnityEngine.Object", Fields: []sim.FieldSpec{
			{Name: "ID", Type: "string", Offset: 0x18},
		}},
		{Name: "Gadget", Parent: "Template", Fields: []sim.FieldSpec{
			{Name: "Weight", Type: "int", Offset: 0x20},
		}},
		{Name: "Widget", Parent: "Template", Fields: []sim.FieldSpec{
			{Name: "Power", Type: "int", Offset: 0x20},
			{Name: "Partner", Type: "Widget", Offset: 0x28},
			{Name: "Gadgets", Type: "List<Gadget>", Offset: 0x30},
		}},
		{Name: "Crate", Parent: "Template"},
	} {
		h.MustDefine(s)
	}

	reg, err := schema.Parse([]byte(widgetSchema))
	require.NoError(t, err)

	w := &world{heap: h, reg: reg}
	for i, id := range []string{"G1", "G2", "G3", "G4", "G5"} {
		g := h.MustNewObject("Gadget")
		h.MustSetField(g, "ID", id)
		h.MustSetField(g, "Weight", i+1)
		h.Bind(id, g)
		w.gadgets = append(w.gadgets, g)
	}
	for i, id := range []string{"W1", "W2", "W3"} {
		obj := h.MustNewObject("Widget")
		h.MustSetField(obj, "ID", id)
		h.MustSetField(obj, "Power", (i+1)*10)
		h.Bind(id, obj)
		w.widgets = append(w.widgets, obj)
	}
	h.MustSetField(w.widgets[0], "Partner", "@W2")
	h.MustSetField(w.widgets[0], "Gadgets", []interface{}{"@G1", "@G2", "@G3", "@G4", "@G5"})

	c := h.MustNewObject("Crate")
	h.MustSetField(c, "ID", "C1")
	w.crates = append(w.crates, c)

	require.NoError(t, h.Register(sim.Authoritative, "Widget", w.widgets...))
	require.NoError(t, h.Register(sim.Authoritative, "Crate", w.crates...))
	require.NoError(t, h.Reveal("Widget", "Gadget", w.gadgets...))
	return w
}

func (w *world) components(t *testing.T, s sink.Sink) Components {
	t.Helper()
	cls := metadata.NewClassifier(w.heap, metadata.DefaultOptions())
	res := resolver.New(w.heap)
	guard := reader.NewGuard(w.heap, res, sim.NativeHandleField, nil)
	rd := reader.New(w.heap, cls, res, guard, w.reg, reader.DefaultOptions())
	return Components{
		Runtime:    w.heap,
		Loader:     NewCandidateLoader(w.heap, nil, logger.NewNop()),
		Classifier: cls,
		Resolver:   res,
		Reader:     rd,
		Registry:   w.reg,
		Sink:       s,
	}
}

func newFileSink(t *testing.T) *sink.FileSink {
	t.Helper()
	s, err := sink.NewFileSink(t.TempDir(), logger.NewNop())
	require.NoError(t, err)
	return s
}

// memSink keeps every write in memory.
type memSink struct {
	records map[string][]*types.Record
	modes   map[string][]sink.Mode
	fail    map[string]error
}

func newMemSink() *memSink {
	return &memSink{
		records: make(map[string][]*types.Record),
		modes:   make(map[string][]sink.Mode),
		fail:    make(map[string]error),
	}
}

func (m *memSink) Write(_ context.Context, kind string, records []*types.Record, mode sink.Mode) (sink.WriteResult, error) {
	if err := m.fail[kind]; err != nil {
		return sink.WriteResult{}, err
	}
	m.modes[kind] = append(m.modes[kind], mode)
	m.records[kind] = records
	return sink.WriteResult{Kind: kind, Mode: mode, Total: len(records), Added: len(records)}, nil
}

func (m *memSink) Close() error { return nil }

func loadRecords(t *testing.T, s sink.Source, kind string) []*types.Record {
	t.Helper()
	recs, err := s.Load(context.Background(), kind)
	require.NoError(t, err)
	return recs
}

func recordNames(recs []*types.Record) []string {
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.Name)
	}
	return names
}

func findRecord(recs []*types.Record, name string) *types.Record {
	for _, r := range recs {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func findKind(res *Result, kind string) *KindResult {
	for i := range res.Kinds {
		if res.Kinds[i].Kind == kind {
			return &res.Kinds[i]
		}
	}
	return nil
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Source.Snapshot = dir + "/snapshot.yaml"
	cfg.Output.Directory = dir
	cfg.Manifest.Path = dir + "/.manifest.json"
	cfg.Extraction.Readiness.Retries = 1
	cfg.Extraction.Readiness.Delay = time.Millisecond
	return cfg
}
