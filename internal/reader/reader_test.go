package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/heap/sim"
	"github.com/dbsmedya/goextract/internal/metadata"
	"github.com/dbsmedya/goextract/internal/resolver"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/types"
)

// weaponHeap lays out the sample schema's classes. Spread is declared double
// in the schema but stored as a float.
func weaponHeap(t *testing.T) *sim.Heap {
	t.Helper()
	h := sim.New()
	h.DefineObjectBase("UnityEngine.Object")
	specs := []sim.ClassSpec{
		{Name: "ScriptableObject", Parent: "UnityEngine.Object"},
		{Name: "DataTemplate", Parent: "ScriptableObject", Fields: []sim.FieldSpec{
			{Name: "ID", Type: "string", Offset: 0x18},
		}},
		{Name: "ItemRarity", Shape: sim.ShapeEnum, Underlying: "int"},
		{Name: "RangeF", Shape: sim.ShapeStruct, Fields: []sim.FieldSpec{
			{Name: "Min", Type: "float", Offset: 0},
			{Name: "Max", Type: "float", Offset: 4},
		}},
		{Name: "LocalizedLine", Fields: []sim.FieldSpec{{Name: "defaultText", Type: "string", Offset: 0x10}}},
		{Name: "Handler"},
		{Name: "DamageEffectHandler", Parent: "Handler", Fields: []sim.FieldSpec{
			{Name: "Amount", Type: "int", Offset: 0x10},
			{Name: "Element", Type: "string", Offset: 0x18},
		}},
		{Name: "PoisonHandler", Parent: "Handler", Fields: []sim.FieldSpec{
			{Name: "Ticks", Type: "int", Offset: 0x10},
		}},
		{Name: "AmmoTemplate", Parent: "DataTemplate", Fields: []sim.FieldSpec{
			{Name: "Caliber", Type: "float", Offset: 0x20},
		}},
		{Name: "PerkTemplate", Parent: "DataTemplate", Fields: []sim.FieldSpec{
			{Name: "Bonus", Type: "int", Offset: 0x20},
		}},
		{Name: "WeaponTemplate", Parent: "DataTemplate", Fields: []sim.FieldSpec{
			{Name: "Title", Type: "LocalizedLine", Offset: 0x20},
			{Name: "Damage", Type: "int", Offset: 0x28},
			{Name: "FireRate", Type: "float", Offset: 0x2C},
			{Name: "Spread", Type: "float", Offset: 0x30},
			{Name: "Rarity", Type: "ItemRarity", Offset: 0x34},
			{Name: "Range", Type: "RangeF", Offset: 0x38},
			{Name: "Perks", Type: "List<PerkTemplate>", Offset: 0x40},
			{Name: "Ammo", Type: "AmmoTemplate", Offset: 0x48},
			{Name: "OnHit", Type: "Handler", Offset: 0x50},
			{Name: "Tags", Type: "string[]", Offset: 0x58},
		}},
	}
	for _, s := range specs {
		h.MustDefine(s)
	}
	return h
}

type fixture struct {
	heap   *sim.Heap
	reg    *schema.Registry
	cls    *metadata.Classifier
	reader *Reader
	weapon heap.Addr
	perks  []heap.Addr
	ammo   heap.Addr
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	h := weaponHeap(t)
	reg, err := schema.Default()
	require.NoError(t, err)

	ammo := h.MustNewObject("AmmoTemplate")
	h.MustSetField(ammo, "ID", "AMMO_9MM")
	h.MustSetField(ammo, "Caliber", 9.0)
	h.Bind("ammo", ammo)

	var perks []heap.Addr
	var perkRefs []interface{}
	for i, id := range []string{"P1", "P2", "P3", "P4", "P5"} {
		p := h.MustNewObject("PerkTemplate")
		h.MustSetField(p, "ID", id)
		h.MustSetField(p, "Bonus", i)
		h.Bind(id, p)
		perks = append(perks, p)
		perkRefs = append(perkRefs, sim.RefPrefix+id)
	}

	title := h.MustNewObject("LocalizedLine")
	h.MustSetField(title, "defaultText", "Pulse Rifle")
	hit := h.MustNewObject("DamageEffectHandler")
	h.MustSetField(hit, "Amount", 7)
	h.MustSetField(hit, "Element", "fire")

	w := h.MustNewObject("WeaponTemplate")
	h.MustSetField(w, "ID", "W_PULSE")
	h.MustSetField(w, "Title", title)
	h.MustSetField(w, "Damage", 50)
	h.MustSetField(w, "FireRate", 2.5)
	h.MustSetField(w, "Spread", 0.25)
	h.MustSetField(w, "Rarity", 2)
	h.MustSetField(w, "Range", map[string]interface{}{"Min": 1.5, "Max": 9.0})
	h.MustSetField(w, "Perks", perkRefs)
	h.MustSetField(w, "Ammo", "@ammo")
	h.MustSetField(w, "OnHit", hit)
	h.MustSetField(w, "Tags", []interface{}{"energy", "rifle"})

	cls := metadata.NewClassifier(h, metadata.DefaultOptions())
	res := resolver.New(h)
	guard := NewGuard(h, res, sim.NativeHandleField, nil)
	return &fixture{
		heap:   h,
		reg:    reg,
		cls:    cls,
		reader: New(h, cls, res, guard, reg, opts),
		weapon: w,
		perks:  perks,
		ammo:   ammo,
	}
}

func (f *fixture) spec(t *testing.T, kind, field string) FieldSpec {
	t.Helper()
	k, ok := f.reg.Kind(kind)
	require.True(t, ok)
	for _, s := range SpecsFromSchema(f.cls, k.Fields, 0) {
		if s.Name == field {
			return s
		}
	}
	t.Fatalf("no field %s.%s", kind, field)
	return FieldSpec{}
}

func (f *fixture) read(t *testing.T, field string) interface{} {
	t.Helper()
	return f.reader.Read(f.weapon, f.spec(t, "WeaponTemplate", field), 0)
}

func TestReader_InlineValues(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	assert.Equal(t, "W_PULSE", f.read(t, "ID"))
	assert.Equal(t, int64(50), f.read(t, "Damage"))
	assert.Equal(t, float32(2.5), f.read(t, "FireRate"))
	assert.Equal(t, int64(2), f.read(t, "Rarity"))

	rng, ok := f.read(t, "Range").(*types.Object)
	require.True(t, ok)
	assert.Equal(t, []string{"Min", "Max"}, rng.Keys())
	min, _ := rng.Get("Min")
	max, _ := rng.Get("Max")
	assert.Equal(t, float32(1.5), min)
	assert.Equal(t, float32(9.0), max)
}

func TestReader_DoubleCorrectedToFloat(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	spread := f.spec(t, "WeaponTemplate", "Spread")
	require.Equal(t, 4, spread.Gap())

	assert.Equal(t, float32(0.25), f.reader.Read(f.weapon, spread, 0))
	assert.Equal(t, 1, f.reader.Stats().Corrected)

	// With room for eight bytes the declared double is trusted.
	spread.NextOffset = 0
	_, isDouble := f.reader.Read(f.weapon, spread, 0).(float64)
	assert.True(t, isDouble)
}

// samplerFixture stores floats where the schema declares doubles, once in a
// struct and once as array elements.
func samplerFixture(t *testing.T) (*Reader, heap.Addr) {
	t.Helper()
	h := sim.New()
	h.MustDefine(sim.ClassSpec{Name: "Pair", Shape: sim.ShapeStruct, Fields: []sim.FieldSpec{
		{Name: "A", Type: "float", Offset: 0},
		{Name: "B", Type: "int", Offset: 4},
	}})
	h.MustDefine(sim.ClassSpec{Name: "Sampler", Fields: []sim.FieldSpec{
		{Name: "P", Type: "Pair", Offset: 0x10},
		{Name: "Weights", Type: "float[]", Offset: 0x18},
	}})
	reg, err := schema.Parse([]byte(`
version: "1"
structs:
  Pair:
    size_bytes: 8
    fields:
      - {name: A, type: double, offset: "0x0", category: scalar}
      - {name: B, type: int, offset: "0x4", category: scalar}
`))
	require.NoError(t, err)

	s := h.MustNewObject("Sampler")
	h.MustSetField(s, "P", map[string]interface{}{"A": 1.5, "B": 3})
	h.MustSetField(s, "Weights", []interface{}{0.5, 1.25, 2.0})

	cls := metadata.NewClassifier(h, metadata.DefaultOptions())
	res := resolver.New(h)
	guard := NewGuard(h, res, sim.NativeHandleField, nil)
	return New(h, cls, res, guard, reg, DefaultOptions()), s
}

func TestReader_DoubleCorrectedInsideStruct(t *testing.T) {
	r, s := samplerFixture(t)

	v := r.Read(s, FieldSpec{Name: "P", Offset: 0x10, Category: metadata.Struct, TypeName: "Pair"}, 0)
	obj, ok := v.(*types.Object)
	require.True(t, ok)
	a, _ := obj.Get("A")
	b, _ := obj.Get("B")
	assert.Equal(t, float32(1.5), a)
	assert.Equal(t, int64(3), b)
	assert.Equal(t, 1, r.Stats().Corrected)
}

func TestReader_DoubleCorrectedInsideArray(t *testing.T) {
	r, s := samplerFixture(t)

	spec := FieldSpec{Name: "Weights", Offset: 0x18, Category: metadata.Array, TypeName: "double[]", ElementType: "double"}
	assert.Equal(t, []interface{}{float32(0.5), float32(1.25), float32(2.0)}, r.Read(s, spec, 0))
	assert.Equal(t, 3, r.Stats().Corrected)
}

func TestReader_ListOfReferences(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	assert.Equal(t, []interface{}{"P1", "P2", "P3", "P4", "P5"}, f.read(t, "Perks"))

	require.NoError(t, f.heap.Kill(f.perks[2]))
	assert.Equal(t, []interface{}{"P1", "P2", "P4", "P5"}, f.read(t, "Perks"))
	assert.Equal(t, 1, f.reader.Stats().Dead)
}

func TestReader_ListElementCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxElements = 3
	f := newFixture(t, opts)

	assert.Equal(t, []interface{}{"P1", "P2", "P3"}, f.read(t, "Perks"))
}

func TestReader_Array(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	assert.Equal(t, []interface{}{"energy", "rifle"}, f.read(t, "Tags"))

	f.heap.MustSetField(f.weapon, "Tags", nil)
	assert.Nil(t, f.read(t, "Tags"))
}

func TestReader_References(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	assert.Equal(t, "AMMO_9MM", f.read(t, "Ammo"))

	t.Run("killed", func(t *testing.T) {
		require.NoError(t, f.heap.Kill(f.ammo))
		assert.Nil(t, f.read(t, "Ammo"))
	})

	t.Run("freed", func(t *testing.T) {
		g := newFixture(t, DefaultOptions())
		g.heap.Free(g.ammo)
		assert.Nil(t, g.read(t, "Ammo"))
		assert.Equal(t, 1, g.reader.Stats().Dead)
	})

	t.Run("null", func(t *testing.T) {
		g := newFixture(t, DefaultOptions())
		g.heap.MustSetField(g.weapon, "Ammo", nil)
		assert.Nil(t, g.read(t, "Ammo"))
	})
}

func TestReader_ReferenceNameFallbacks(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	cls, ok := f.heap.FindClass("AmmoTemplate")
	require.True(t, ok)

	anon := f.heap.MustNewObject("AmmoTemplate")
	h := heap.Handle{Addr: anon, Class: cls}
	assert.Equal(t, types.Placeholder("<unnamed AmmoTemplate>"), f.reader.ReferenceName(h))

	f.heap.SetName(anon, "ammo_shell")
	assert.Equal(t, "ammo_shell", f.reader.ReferenceName(h))

	f.heap.MustSetField(anon, "ID", "AMMO_SHELL")
	assert.Equal(t, "AMMO_SHELL", f.reader.ReferenceName(h))
}

func TestReader_Localized(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	assert.Equal(t, "Pulse Rifle", f.read(t, "Title"))

	f.heap.MustSetField(f.weapon, "Title", nil)
	assert.Nil(t, f.read(t, "Title"))
}

func TestReader_Variant(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	v, ok := f.read(t, "OnHit").(*types.Object)
	require.True(t, ok)
	assert.Equal(t, []string{VariantTypeKey, "Amount", "Element"}, v.Keys())
	typ, _ := v.Get(VariantTypeKey)
	amount, _ := v.Get("Amount")
	elem, _ := v.Get("Element")
	assert.Equal(t, "DamageHandler", typ)
	assert.Equal(t, int64(7), amount)
	assert.Equal(t, "fire", elem)

	poison := f.heap.MustNewObject("PoisonHandler")
	f.heap.MustSetField(f.weapon, "OnHit", poison)
	v, ok = f.read(t, "OnHit").(*types.Object)
	require.True(t, ok)
	typ, _ = v.Get(VariantTypeKey)
	unresolved, _ := v.Get(VariantUnresolvedKey)
	assert.Equal(t, "PoisonHandler", typ)
	assert.Equal(t, true, unresolved)
}

func TestReader_DepthLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDepth = 1
	f := newFixture(t, opts)

	rng := f.spec(t, "WeaponTemplate", "Range")
	assert.Equal(t, types.Placeholder("<depth limit: RangeF>"), f.reader.Read(f.weapon, rng, 1))
	assert.Equal(t, 1, f.reader.Stats().Truncated)

	// Scalars are never cut.
	assert.Equal(t, int64(50), f.reader.Read(f.weapon, f.spec(t, "WeaponTemplate", "Damage"), 5))
}

func TestReader_MetadataOnlyObject(t *testing.T) {
	h := sim.New()
	h.MustDefine(sim.ClassSpec{Name: "Stats", Fields: []sim.FieldSpec{
		{Name: "<Power>k__BackingField", Type: "int", Offset: 0x10},
		{Name: "m_Weight", Type: "float", Offset: 0x14},
	}})
	h.MustDefine(sim.ClassSpec{Name: "Holder", Fields: []sim.FieldSpec{
		{Name: "stats", Type: "Stats", Offset: 0x10},
	}})
	stats := h.MustNewObject("Stats")
	h.MustSetField(stats, "<Power>k__BackingField", 12)
	h.MustSetField(stats, "m_Weight", 0.5)
	holder := h.MustNewObject("Holder")
	h.MustSetField(holder, "stats", stats)

	cls := metadata.NewClassifier(h, metadata.DefaultOptions())
	res := resolver.New(h)
	r := New(h, cls, res, NewGuard(h, res, sim.NativeHandleField, nil), nil, DefaultOptions())

	hc, _ := h.FindClass("Holder")
	spec := FromMetadata(cls, h.Fields(hc)[0])
	assert.Equal(t, metadata.Object, spec.Category)

	obj, ok := r.Read(holder, spec, 0).(*types.Object)
	require.True(t, ok)
	assert.Equal(t, []string{"power", "weight"}, obj.Keys())
	power, _ := obj.Get("power")
	weight, _ := obj.Get("weight")
	assert.Equal(t, int64(12), power)
	assert.Equal(t, float32(0.5), weight)
}

func TestReader_UnreadableIsUnsupported(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	bogus := FieldSpec{Name: "x", Offset: 1 << 30, Category: metadata.Scalar, TypeName: "int"}
	assert.True(t, types.IsUnsupported(f.reader.Read(f.weapon, bogus, 0)))

	unknown := FieldSpec{Name: "y", Offset: 0x18, Category: metadata.Unsupported}
	assert.True(t, types.IsUnsupported(f.reader.Read(f.weapon, unknown, 0)))
	assert.Equal(t, 2, f.reader.Stats().Unsupported)

	f.reader.ResetStats()
	assert.Zero(t, f.reader.Stats())
}

func TestGuard(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ammoClass, _ := f.heap.FindClass("AmmoTemplate")
	handler, _ := f.heap.FindClass("Handler")
	res := resolver.New(f.heap)

	g := NewGuard(f.heap, res, sim.NativeHandleField, nil)
	assert.True(t, g.IsAlive(heap.Handle{Addr: f.ammo, Class: ammoClass}))
	assert.False(t, g.IsAlive(heap.Handle{Addr: heap.Null, Class: ammoClass}))

	hit := f.heap.MustNewObject("DamageEffectHandler")
	assert.True(t, g.IsAlive(heap.Handle{Addr: hit, Class: handler}), "no native handle fails open")

	closed := NewGuard(f.heap, res, sim.NativeHandleField, []string{"Handler"})
	assert.False(t, closed.IsAlive(heap.Handle{Addr: hit, Class: handler}))

	require.NoError(t, f.heap.Kill(f.ammo))
	assert.False(t, g.IsAlive(heap.Handle{Addr: f.ammo, Class: ammoClass}))
}
