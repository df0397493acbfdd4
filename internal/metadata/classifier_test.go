package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/heap/sim"
)

func newTestHeap(t *testing.T) *sim.Heap {
	t.Helper()
	h := sim.New()
	h.DefineObjectBase("UnityEngine.Object")
	specs := []sim.ClassSpec{
		{Name: "Rarity", Shape: sim.ShapeEnum, Underlying: "short"},
		{Name: "Range", Shape: sim.ShapeStruct, Fields: []sim.FieldSpec{
			{Name: "min", Type: "float", Offset: 0},
			{Name: "max", Type: "float", Offset: 4},
		}},
		{Name: "LocalizedLine", Fields: []sim.FieldSpec{{Name: "defaultText", Type: "string", Offset: 16}}},
		{Name: "Handler"},
		{Name: "DamageHandler", Parent: "Handler", Fields: []sim.FieldSpec{{Name: "amount", Type: "int", Offset: 16}}},
		{Name: "Bag", Fields: []sim.FieldSpec{
			{Name: "_items", Type: "int[]", Offset: 16},
			{Name: "_size", Type: "int", Offset: 24},
		}},
		{Name: "Loose", Fields: []sim.FieldSpec{{Name: "x", Type: "int", Offset: 16}}},
		{Name: "Weapon", Parent: "UnityEngine.Object", Fields: []sim.FieldSpec{
			{Name: "id", Type: "string", Offset: 24},
			{Name: "counter", Type: "int", Offset: 32, Static: true},
		}},
	}
	for _, s := range specs {
		h.MustDefine(s)
	}
	return h
}

func TestClassifier_Categories(t *testing.T) {
	h := newTestHeap(t)
	c := NewClassifier(h, DefaultOptions())

	tests := []struct {
		typeName string
		category Category
	}{
		{"int", Scalar},
		{"System.Double", Scalar},
		{"bool", Scalar},
		{"string", String},
		{"Rarity", Enum},
		{"Range", Struct},
		{"Range[]", Array},
		{"List`1<Weapon>", List},
		{"Bag", List},
		{"Weapon", Reference},
		{"LocalizedLine", Localized},
		{"DamageHandler", Variant},
		{"Handler", Variant},
		{"Loose", Object},
		{"System.Object", Object},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			info := c.ClassifyName(tt.typeName)
			assert.Equal(t, tt.category, info.Category, "category of %s", tt.typeName)
		})
	}
}

func TestClassifier_Details(t *testing.T) {
	h := newTestHeap(t)
	c := NewClassifier(h, DefaultOptions())

	enum := c.ClassifyName("Rarity")
	assert.Equal(t, heap.TagI2, enum.Underlying)
	assert.Equal(t, 2, enum.Size)

	st := c.ClassifyName("Range")
	assert.Equal(t, 8, st.Size)

	arr := c.ClassifyName("Range[]")
	require.NotNil(t, arr.Elem)
	assert.Equal(t, Struct, arr.Elem.Category)

	list := c.ClassifyName("List`1<Weapon>")
	require.NotNil(t, list.Elem)
	assert.Equal(t, Reference, list.Elem.Category)
	assert.Equal(t, 24, list.CountOffset)
	assert.Equal(t, 16, list.ItemsOffset)

	scalar := c.ClassifyName("float")
	assert.Equal(t, 4, scalar.Size)

	assert.Equal(t, Unsupported, c.ClassifyName("NoSuchType").Category)
	assert.Equal(t, Unsupported, c.Classify(0).Category)
}

func TestClassifier_Memoized(t *testing.T) {
	h := newTestHeap(t)
	c := NewClassifier(h, DefaultOptions())

	cls, ok := h.FindClass("Weapon")
	require.True(t, ok)
	first := c.Classify(cls)
	second := c.Classify(cls)
	assert.Same(t, first, second)
}

func TestClassifier_EnumWithoutValueField(t *testing.T) {
	h := newTestHeap(t)
	opts := DefaultOptions()
	opts.EnumValueField = "missing__"
	c := NewClassifier(h, opts)

	info := c.ClassifyName("Rarity")
	assert.Equal(t, Enum, info.Category)
	assert.Equal(t, heap.TagI4, info.Underlying)
	assert.Equal(t, 4, info.Size, "unresolvable enums default to four bytes")
}

func TestClassifier_InstanceFields(t *testing.T) {
	h := newTestHeap(t)
	c := NewClassifier(h, DefaultOptions())
	cls, _ := h.FindClass("Weapon")

	var names []string
	for _, f := range c.InstanceFields(cls) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{sim.NativeHandleField, "id"}, names, "root first, statics skipped")

	names = nil
	for _, f := range c.InstanceFields(cls, "UnityEngine.Object") {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id"}, names)

	assert.True(t, c.Derives(cls, []string{"UnityEngine.Object"}))
	assert.False(t, c.Derives(cls, []string{"Handler"}))
	assert.Len(t, c.Ancestors(cls), 3)
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in       string
		expected Category
		wantErr  bool
	}{
		{"scalar", Scalar, false},
		{"primitive", Scalar, false},
		{"localization", Localized, false},
		{"unity_asset", Reference, false},
		{"collection", List, false},
		{"unknown", Unsupported, false},
		{" Variant ", Variant, false},
		{"bogus", Unsupported, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCategory_Phases(t *testing.T) {
	for _, c := range []Category{Scalar, String, Enum, Struct} {
		assert.True(t, c.Inline(), c.String())
		assert.False(t, c.NeedsReference(), c.String())
	}
	for _, c := range []Category{Array, List, Reference, Localized, Variant, Object} {
		assert.False(t, c.Inline(), c.String())
		assert.True(t, c.NeedsReference(), c.String())
	}
	assert.False(t, Unsupported.Inline())
	assert.False(t, Unsupported.NeedsReference())
	assert.Equal(t, "category(99)", Category(99).String())
}
