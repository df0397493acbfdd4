// Package reader decodes foreign values from raw memory given their
// classified category. All pointer arithmetic on foreign addresses happens
// here and in the liveness guard.
package reader

import (
	"fmt"
	"unicode/utf16"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/metadata"
	"github.com/dbsmedya/goextract/internal/resolver"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/types"
)

// Keys written on variant values.
const (
	VariantTypeKey       = "_type"
	VariantUnresolvedKey = "_unresolved"
)

// Naming lists the fields consulted to name foreign objects.
type Naming struct {
	IDFields           []string
	PathFields         []string
	DisplayNameField   string
	LocalizedTextField string
}

// Options bound the reader.
type Options struct {
	MaxDepth    int
	MaxElements int
	Naming      Naming
}

// DefaultOptions returns the reader limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxDepth:    8,
		MaxElements: 4096,
		Naming: Naming{
			IDFields:           []string{"id", "ID"},
			PathFields:         []string{"path", "resourcePath"},
			DisplayNameField:   "displayName",
			LocalizedTextField: "defaultText",
		},
	}
}

// Stats counts notable events since the last reset.
type Stats struct {
	Unsupported int // values that could not be read
	Truncated   int // subtrees cut at the depth limit
	Dead        int // referenced objects found reclaimed
	Corrected   int // doubles re-read as floats
	Recovered   int // panics caught while reading a field
}

// Reader decodes values from a foreign heap.
type Reader struct {
	rt    heap.Runtime
	cls   *metadata.Classifier
	res   *resolver.Resolver
	guard *Guard
	reg   *schema.Registry
	opts  Options
	stats Stats

	layouts map[string][]FieldSpec
}

// New creates a Reader. reg may be nil when no schema is available.
func New(rt heap.Runtime, cls *metadata.Classifier, res *resolver.Resolver, guard *Guard, reg *schema.Registry, opts Options) *Reader {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 8
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = 4096
	}
	return &Reader{
		rt:      rt,
		cls:     cls,
		res:     res,
		guard:   guard,
		reg:     reg,
		opts:    opts,
		layouts: make(map[string][]FieldSpec),
	}
}

// Stats returns the counters accumulated since the last ResetStats.
func (r *Reader) Stats() Stats {
	return r.stats
}

// ResetStats clears the counters.
func (r *Reader) ResetStats() {
	r.stats = Stats{}
}

// SetLimits replaces the depth and element caps. Non-positive values keep
// the current cap.
func (r *Reader) SetLimits(maxDepth, maxElements int) {
	if maxDepth > 0 {
		r.opts.MaxDepth = maxDepth
	}
	if maxElements > 0 {
		r.opts.MaxElements = maxElements
	}
}

// Naming returns the fields consulted to name foreign objects.
func (r *Reader) Naming() Naming {
	return r.opts.Naming
}

// Limits returns the current depth and element caps.
func (r *Reader) Limits() (maxDepth, maxElements int) {
	return r.opts.MaxDepth, r.opts.MaxElements
}

// Guard returns the liveness guard the reader checks references with.
func (r *Reader) Guard() *Guard {
	return r.guard
}

// Read decodes the field described by spec inside the layout starting at
// base. It never panics: unreadable values come back as types.Unsupported,
// null pointers and reclaimed objects as nil.
func (r *Reader) Read(base heap.Addr, spec FieldSpec, depth int) (v interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.stats.Recovered++
			r.stats.Unsupported++
			v = types.Unsupported
		}
	}()
	v, _ = r.value(base.Offset(spec.Offset), spec, depth)
	if types.IsUnsupported(v) {
		r.stats.Unsupported++
	}
	return v
}

// value reads the value stored at addr. dead is true when the value is a
// pointer to an object the guard reports reclaimed.
func (r *Reader) value(addr heap.Addr, spec FieldSpec, depth int) (v interface{}, dead bool) {
	if spec.Category.Composite() && depth >= r.opts.MaxDepth {
		r.stats.Truncated++
		return types.Placeholder(fmt.Sprintf("<depth limit: %s>", spec.TypeName)), false
	}
	switch spec.Category {
	case metadata.Scalar:
		return r.readScalar(addr, spec), false
	case metadata.String:
		return r.readStringAt(addr), false
	case metadata.Enum:
		return r.readEnum(addr, spec), false
	case metadata.Struct:
		return r.readStruct(addr, spec, depth), false
	case metadata.Array:
		return r.readArray(addr, spec, depth), false
	case metadata.List:
		return r.readList(addr, spec, depth), false
	case metadata.Reference:
		return r.readReference(addr, spec)
	case metadata.Localized:
		return r.readLocalized(addr, spec)
	case metadata.Variant:
		return r.readVariant(addr, spec, depth)
	case metadata.Object:
		return r.readObject(addr, spec, depth)
	default:
		return types.Unsupported, false
	}
}

func (r *Reader) scalarTag(spec FieldSpec) (heap.TypeTag, bool) {
	if spec.Info != nil && spec.Info.Tag.IsPrimitive() {
		return spec.Info.Tag, true
	}
	tag, ok := heap.TagForName(spec.TypeName)
	if !ok || !tag.IsPrimitive() {
		return heap.TagUnknown, false
	}
	return tag, true
}

func (r *Reader) readScalar(addr heap.Addr, spec FieldSpec) interface{} {
	tag, ok := r.scalarTag(spec)
	if !ok {
		return types.Unsupported
	}
	v, err := r.decodeScalar(addr, tag, spec.Gap())
	if err != nil {
		return types.Unsupported
	}
	return v
}

// decodeScalar reads a primitive of the given tag. A declared double whose
// layout gap is smaller than eight bytes is really a float and is read as one.
func (r *Reader) decodeScalar(addr heap.Addr, tag heap.TypeTag, gap int) (interface{}, error) {
	switch {
	case tag == heap.TagR8 && gap > 0 && gap < 8:
		r.stats.Corrected++
		return heap.ReadFloat32(r.rt, addr)
	case tag == heap.TagR8:
		return heap.ReadFloat64(r.rt, addr)
	case tag == heap.TagR4:
		return heap.ReadFloat32(r.rt, addr)
	case tag == heap.TagBool:
		u, err := heap.ReadUint(r.rt, addr, 1)
		return u != 0, err
	case tag == heap.TagChar:
		u, err := heap.ReadUint(r.rt, addr, 2)
		if err != nil {
			return nil, err
		}
		return string(utf16.Decode([]uint16{uint16(u)})), nil
	case tag.IsSigned():
		return heap.ReadInt(r.rt, addr, tag.Size())
	case tag.IsPrimitive():
		return heap.ReadUint(r.rt, addr, tag.Size())
	default:
		return nil, fmt.Errorf("tag %s is not a scalar", tag)
	}
}

// readStringAt follows the string pointer stored at addr. Null is absence.
func (r *Reader) readStringAt(addr heap.Addr) interface{} {
	ptr, err := heap.ReadPtr(r.rt, addr)
	if err != nil {
		return types.Unsupported
	}
	if ptr == heap.Null {
		return nil
	}
	s, err := heap.ReadString(r.rt, ptr)
	if err != nil {
		return types.Unsupported
	}
	return s
}

func (r *Reader) readEnum(addr heap.Addr, spec FieldSpec) interface{} {
	underlying := heap.TagI4
	valueOffset := 0
	switch {
	case spec.Info != nil && spec.Info.Category == metadata.Enum:
		underlying = spec.Info.Underlying
		valueOffset = spec.Info.ValueOffset
	case r.reg != nil:
		if e, ok := r.reg.Enum(spec.TypeName); ok {
			if tag, ok := heap.TagForName(e.Underlying); ok && tag.IsPrimitive() && !tag.IsFloat() {
				underlying = tag
			}
		}
	}
	width := underlying.Size()
	if width == 0 {
		width = 4
	}
	addr = addr.Offset(valueOffset)
	if underlying.IsSigned() {
		v, err := heap.ReadInt(r.rt, addr, width)
		if err != nil {
			return types.Unsupported
		}
		return v
	}
	u, err := heap.ReadUint(r.rt, addr, width)
	if err != nil {
		return types.Unsupported
	}
	return int64(u)
}

// structLayout returns the field specs of a value type. A schema entry wins
// over metadata because it can describe fields metadata does not expose.
func (r *Reader) structLayout(spec FieldSpec) []FieldSpec {
	key := "struct:" + spec.TypeName
	if specs, ok := r.layouts[key]; ok {
		return specs
	}
	var specs []FieldSpec
	if r.reg != nil {
		if s, ok := r.reg.Struct(spec.TypeName); ok {
			specs = SpecsFromSchema(r.cls, s.Fields, s.Size)
		}
	}
	if specs == nil && spec.Info != nil && spec.Info.Category == metadata.Struct && spec.Info.Class != 0 {
		specs = SpecsFromMetadata(r.cls, r.cls.InstanceFields(spec.Info.Class), spec.Info.Size)
	}
	if specs != nil {
		r.layouts[key] = specs
	}
	return specs
}

// NeedsReference reports whether reading spec dereferences a second foreign
// object. A struct does when any field of its layout does, at any depth.
func (r *Reader) NeedsReference(spec FieldSpec) bool {
	return r.needsReference(spec, map[string]bool{})
}

func (r *Reader) needsReference(spec FieldSpec, seen map[string]bool) bool {
	if spec.Category.NeedsReference() {
		return true
	}
	if spec.Category != metadata.Struct || seen[spec.TypeName] {
		return false
	}
	seen[spec.TypeName] = true
	for _, fs := range r.structLayout(spec) {
		if r.needsReference(fs, seen) {
			return true
		}
	}
	return false
}

func (r *Reader) readStruct(addr heap.Addr, spec FieldSpec, depth int) interface{} {
	layout := r.structLayout(spec)
	if layout == nil {
		return types.Unsupported
	}
	return r.readLayout(addr, layout, depth)
}

// readLayout reads every spec relative to base into a new object, omitting
// unsupported values.
func (r *Reader) readLayout(base heap.Addr, layout []FieldSpec, depth int) *types.Object {
	obj := types.NewObject()
	for _, fs := range layout {
		v := r.Read(base, fs, depth+1)
		if !types.IsUnsupported(v) {
			obj.Set(fs.Name, v)
		}
	}
	return obj
}

// elementSpec describes one element of an array or list field.
func (r *Reader) elementSpec(spec FieldSpec) FieldSpec {
	if spec.Info != nil && spec.Info.Elem != nil && spec.Info.Elem.Category != metadata.Unsupported {
		e := spec.Info.Elem
		return FieldSpec{Name: spec.Name, Category: e.Category, TypeName: e.Name, Info: e}
	}
	name := spec.ElementType
	cat, info := r.categoryFor(name)
	return FieldSpec{Name: spec.Name, Category: cat, TypeName: name, Info: info}
}

// categoryFor classifies a type by name, consulting metadata first and the
// schema tables second.
func (r *Reader) categoryFor(name string) (metadata.Category, *metadata.TypeInfo) {
	if name == "" {
		return metadata.Unsupported, nil
	}
	if info := r.cls.ClassifyName(name); info.Category != metadata.Unsupported {
		return info.Category, info
	}
	if r.reg == nil {
		return metadata.Unsupported, nil
	}
	if _, ok := r.reg.Struct(name); ok {
		return metadata.Struct, nil
	}
	if _, ok := r.reg.Enum(name); ok {
		return metadata.Enum, nil
	}
	if _, ok := r.reg.Kind(name); ok {
		return metadata.Reference, nil
	}
	if _, ok := r.reg.Embedded(name); ok {
		return metadata.Object, nil
	}
	return metadata.Unsupported, nil
}

// elementStride is the distance between consecutive elements.
func (r *Reader) elementStride(elem FieldSpec) int {
	switch elem.Category {
	case metadata.Scalar, metadata.Enum, metadata.Struct:
		if elem.Info != nil && elem.Info.Size > 0 {
			return elem.Info.Size
		}
		if tag, ok := heap.TagForName(elem.TypeName); ok && tag.Size() > 0 {
			return tag.Size()
		}
		if r.reg != nil {
			if s, ok := r.reg.Struct(elem.TypeName); ok && s.Size > 0 {
				return s.Size
			}
		}
		if elem.Category == metadata.Enum {
			return 4
		}
		return 0
	default:
		return heap.PointerSize
	}
}

// arrayStride takes the element size of value elements from the live array's
// own class, falling back to the declared element type.
func (r *Reader) arrayStride(arr heap.Addr, elem FieldSpec) int {
	declared := r.elementStride(elem)
	switch elem.Category {
	case metadata.Scalar, metadata.Enum, metadata.Struct:
	default:
		return declared
	}
	ac, err := r.rt.ClassOf(arr)
	if err != nil {
		return declared
	}
	ec := r.rt.ElementClass(ac)
	if ec == 0 {
		return declared
	}
	if size := r.rt.ValueSize(ec); size > 0 {
		return size
	}
	return declared
}

func (r *Reader) readArray(addr heap.Addr, spec FieldSpec, depth int) interface{} {
	arr, err := heap.ReadPtr(r.rt, addr)
	if err != nil {
		return types.Unsupported
	}
	if arr == heap.Null {
		return nil
	}
	n, err := heap.ReadArrayLength(r.rt, arr)
	if err != nil {
		return types.Unsupported
	}
	return r.readElements(arr, n, r.elementSpec(spec), depth)
}

func (r *Reader) readList(addr heap.Addr, spec FieldSpec, depth int) interface{} {
	list, err := heap.ReadPtr(r.rt, addr)
	if err != nil {
		return types.Unsupported
	}
	if list == heap.Null {
		return nil
	}
	countOff, itemsOff := heap.ListCountOffset, heap.ListItemsOffset
	if spec.Info != nil && spec.Info.Category == metadata.List {
		countOff, itemsOff = spec.Info.CountOffset, spec.Info.ItemsOffset
	}
	count, err := heap.ReadInt(r.rt, list.Offset(countOff), 4)
	if err != nil || count < 0 {
		return types.Unsupported
	}
	items, err := heap.ReadPtr(r.rt, list.Offset(itemsOff))
	if err != nil {
		return types.Unsupported
	}
	if items == heap.Null || count == 0 {
		return []interface{}{}
	}
	capacity, err := heap.ReadArrayLength(r.rt, items)
	if err != nil {
		return types.Unsupported
	}
	n := int(count)
	if n > capacity {
		n = capacity
	}
	return r.readElements(items, n, r.elementSpec(spec), depth)
}

// readElements reads n elements from a foreign array. Reclaimed referenced
// elements are dropped like dead top-level instances.
func (r *Reader) readElements(arr heap.Addr, n int, elem FieldSpec, depth int) interface{} {
	if elem.Category == metadata.Unsupported {
		return types.Unsupported
	}
	stride := r.arrayStride(arr, elem)
	if stride <= 0 {
		return types.Unsupported
	}
	if n > r.opts.MaxElements {
		n = r.opts.MaxElements
	}
	elem.Offset = 0
	elem.NextOffset = stride
	data := arr.Offset(heap.ArrayDataOffset)

	out := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		v, dead := r.element(data.Offset(i*stride), elem, depth+1)
		if dead || types.IsUnsupported(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (r *Reader) element(addr heap.Addr, elem FieldSpec, depth int) (v interface{}, dead bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.stats.Recovered++
			v, dead = types.Unsupported, false
		}
	}()
	return r.value(addr, elem, depth)
}

// declaredClass returns the metadata class of the field's declared type.
func (r *Reader) declaredClass(spec FieldSpec) heap.Class {
	if spec.Info != nil && spec.Info.Class != 0 {
		return spec.Info.Class
	}
	if c, ok := r.res.Class(spec.TypeName); ok {
		return c
	}
	return 0
}

// pointee reads the pointer at addr and checks the target's liveness using
// the declared class. ok is false for null pointers.
func (r *Reader) pointee(addr heap.Addr, spec FieldSpec) (h heap.Handle, ok, dead bool, err error) {
	ptr, err := heap.ReadPtr(r.rt, addr)
	if err != nil {
		return heap.Handle{}, false, false, err
	}
	if ptr == heap.Null {
		return heap.Handle{}, false, false, nil
	}
	h = heap.Handle{Addr: ptr, Class: r.declaredClass(spec)}
	if !r.guard.IsAlive(h) {
		r.stats.Dead++
		return h, false, true, nil
	}
	return h, true, false, nil
}

func (r *Reader) readReference(addr heap.Addr, spec FieldSpec) (interface{}, bool) {
	h, ok, dead, err := r.pointee(addr, spec)
	if err != nil {
		return types.Unsupported, false
	}
	if !ok {
		return nil, dead
	}
	return r.ReferenceName(h), false
}

// ReferenceName names a live foreign object: its ID field, then its display
// name field, then the object's own name accessor. An object none of these
// name yields a placeholder carrying its class name.
func (r *Reader) ReferenceName(h heap.Handle) interface{} {
	for _, f := range r.opts.Naming.IDFields {
		if s, ok := r.StringField(h, f); ok {
			return s
		}
	}
	if f := r.opts.Naming.DisplayNameField; f != "" {
		if s, ok := r.StringField(h, f); ok {
			return s
		}
	}
	if s, ok := r.ObjectName(h); ok {
		return s
	}
	return types.Placeholder(fmt.Sprintf("<unnamed %s>", r.rt.ClassName(h.Class)))
}

// ObjectName calls the foreign name accessor, swallowing its failures.
func (r *Reader) ObjectName(h heap.Handle) (name string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			name, ok = "", false
		}
	}()
	s, err := r.rt.ObjectName(h.Addr)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// StringField reads a non-empty string field of h resolved by logical name.
func (r *Reader) StringField(h heap.Handle, field string) (string, bool) {
	res, err := r.res.ResolveClass(h.Class, field)
	if err != nil {
		return "", false
	}
	s, ok := r.readStringAt(h.Addr.Offset(res.Offset)).(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func (r *Reader) readLocalized(addr heap.Addr, spec FieldSpec) (interface{}, bool) {
	h, ok, dead, err := r.pointee(addr, spec)
	if err != nil {
		return types.Unsupported, false
	}
	if !ok {
		return nil, dead
	}
	field := r.opts.Naming.LocalizedTextField
	if res, err := r.res.ResolveClass(h.Class, field); err == nil {
		return r.readStringAt(h.Addr.Offset(res.Offset)), false
	}
	if r.reg != nil {
		if c, ok := r.reg.Embedded(spec.TypeName); ok {
			for _, f := range c.Fields {
				if f.Name == field {
					return r.readStringAt(h.Addr.Offset(f.Offset)), false
				}
			}
		}
	}
	return types.Unsupported, false
}

// readVariant resolves a polymorphic field by the instance's concrete class.
// The declared type is an abstract base with no usable layout, so this is the
// one place a class is derived from a data pointer.
func (r *Reader) readVariant(addr heap.Addr, spec FieldSpec, depth int) (interface{}, bool) {
	h, ok, dead, err := r.pointee(addr, spec)
	if err != nil {
		return types.Unsupported, false
	}
	if !ok {
		return nil, dead
	}
	concrete, err := r.rt.ClassOf(h.Addr)
	if err != nil {
		return types.Unsupported, false
	}
	name := r.rt.ClassName(concrete)

	obj := types.NewObject()
	var vs *schema.VariantSchema
	if r.reg != nil {
		vs, ok = r.reg.Variant(name)
	}
	if vs == nil || !ok {
		obj.Set(VariantTypeKey, name)
		obj.Set(VariantUnresolvedKey, true)
		return obj, false
	}
	obj.Set(VariantTypeKey, vs.Name)

	key := "variant:" + vs.Name
	layout, cached := r.layouts[key]
	if !cached {
		layout = SpecsFromSchema(r.cls, vs.Fields, 0)
		r.layouts[key] = layout
	}
	r.readLayout(h.Addr, layout, depth).Each(func(k string, v interface{}) {
		obj.Set(k, v)
	})
	return obj, false
}

// objectLayout returns the walkable fields of a plain nested object: the
// embedded-class schema if one exists, otherwise every instance field from
// metadata below the host object bases.
func (r *Reader) objectLayout(h heap.Handle, spec FieldSpec) []FieldSpec {
	key := "object:" + spec.TypeName
	if specs, ok := r.layouts[key]; ok {
		return specs
	}
	var specs []FieldSpec
	if r.reg != nil {
		if c, ok := r.reg.Embedded(spec.TypeName); ok {
			specs = SpecsFromSchema(r.cls, c.Fields, 0)
		}
	}
	if specs == nil && h.Class != 0 {
		skip := append([]string{"System.Object"}, r.cls.Options().ObjectBases...)
		specs = SpecsFromMetadata(r.cls, r.cls.InstanceFields(h.Class, skip...), 0)
	}
	if specs != nil {
		r.layouts[key] = specs
	}
	return specs
}

func (r *Reader) readObject(addr heap.Addr, spec FieldSpec, depth int) (interface{}, bool) {
	h, ok, dead, err := r.pointee(addr, spec)
	if err != nil {
		return types.Unsupported, false
	}
	if !ok {
		return nil, dead
	}
	layout := r.objectLayout(h, spec)
	if layout == nil {
		return types.Unsupported, false
	}
	return r.readLayout(h.Addr, layout, depth), false
}
