// Package sim provides an in-memory foreign heap. It implements heap.Runtime
// and heap.Loader and is used by tests and by the snapshot source of the CLI.
// A Heap is not safe for concurrent use.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dbsmedya/goextract/internal/heap"
)

// NativeHandleField is the field the object base carries to link a managed
// object to its native counterpart.
const NativeHandleField = "m_CachedPtr"

const (
	listItemsField = "_items"
	listSizeField  = "_size"
	enumValueField = "value__"
	baseAddress    = heap.Addr(0x10000)
	allocAlign     = 16
)

// ErrFreed is returned for reads of reclaimed memory.
var ErrFreed = errors.New("address not mapped")

// Declaration shapes accepted by Define.
const (
	ShapeClass  = "class"
	ShapeStruct = "struct"
	ShapeEnum   = "enum"
)

// ClassSpec declares one class.
type ClassSpec struct {
	Name       string      `yaml:"name"`
	Parent     string      `yaml:"parent"`
	Shape      string      `yaml:"shape"`      // class (default), struct or enum
	Underlying string      `yaml:"underlying"` // enum underlying type, default int
	Size       int         `yaml:"size"`       // struct size, computed when zero
	Fields     []FieldSpec `yaml:"fields"`
}

// FieldSpec declares one field of a ClassSpec.
type FieldSpec struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Offset int    `yaml:"offset"`
	Static bool   `yaml:"static"`
}

type classInfo struct {
	name   string
	parent string
	tag    heap.TypeTag
	enum   bool
	rank   int
	elem   string
	size   int
	fields []FieldSpec
}

var (
	_ heap.Runtime  = (*Heap)(nil)
	_ heap.Loader   = (*Heap)(nil)
	_ heap.Quiescer = (*Heap)(nil)
)

// Strategy names one of the loader entry points.
type Strategy int

const (
	Authoritative Strategy = iota
	Uncached
	Loaded
)

// Heap is a simulated foreign heap.
type Heap struct {
	classes []*classInfo
	byName  map[string]heap.Class

	blocks map[heap.Addr][]byte
	bases  []heap.Addr
	next   heap.Addr

	names   map[heap.Addr]string
	refs    map[string]heap.Addr
	loaders map[Strategy]map[heap.Class][]heap.Addr
	paths   map[string][]heap.Addr
	reveals map[heap.Class]map[heap.Class][]heap.Addr
	failing map[heap.Class]error
	panics  map[heap.Class]bool

	quietAfter int
	quietCalls int
}

// New creates an empty heap with the System primitives defined.
func New() *Heap {
	h := &Heap{
		byName:  make(map[string]heap.Class),
		blocks:  make(map[heap.Addr][]byte),
		next:    baseAddress,
		names:   make(map[heap.Addr]string),
		refs:    make(map[string]heap.Addr),
		loaders: make(map[Strategy]map[heap.Class][]heap.Addr),
		paths:   make(map[string][]heap.Addr),
		reveals: make(map[heap.Class]map[heap.Class][]heap.Addr),
		failing: make(map[heap.Class]error),
		panics:  make(map[heap.Class]bool),
	}
	h.defineBuiltins()
	return h
}

func (h *Heap) defineBuiltins() {
	builtins := []struct {
		name string
		tag  heap.TypeTag
	}{
		{"System.Boolean", heap.TagBool},
		{"System.Char", heap.TagChar},
		{"System.SByte", heap.TagI1},
		{"System.Byte", heap.TagU1},
		{"System.Int16", heap.TagI2},
		{"System.UInt16", heap.TagU2},
		{"System.Int32", heap.TagI4},
		{"System.UInt32", heap.TagU4},
		{"System.Int64", heap.TagI8},
		{"System.UInt64", heap.TagU8},
		{"System.IntPtr", heap.TagI8},
		{"System.Single", heap.TagR4},
		{"System.Double", heap.TagR8},
		{"System.String", heap.TagString},
		{"System.Object", heap.TagObject},
	}
	for _, b := range builtins {
		h.add(&classInfo{name: b.name, tag: b.tag, size: b.tag.Size()})
	}
}

func (h *Heap) add(ci *classInfo) heap.Class {
	h.classes = append(h.classes, ci)
	c := heap.Class(len(h.classes))
	h.byName[ci.name] = c
	return c
}

// alias adds ci and also registers it under the name it was looked up by.
func (h *Heap) alias(name string, ci *classInfo) heap.Class {
	c := h.add(ci)
	h.byName[name] = c
	return c
}

func (h *Heap) info(c heap.Class) *classInfo {
	if c == 0 || int(c) > len(h.classes) {
		return nil
	}
	return h.classes[c-1]
}

// Define registers a class. Field and parent types are resolved by name on
// use, so declarations may appear in any order.
func (h *Heap) Define(spec ClassSpec) (heap.Class, error) {
	if spec.Name == "" {
		return 0, fmt.Errorf("class name is required")
	}
	if _, exists := h.byName[spec.Name]; exists {
		return 0, fmt.Errorf("class %s already defined", spec.Name)
	}
	ci := &classInfo{name: spec.Name, parent: spec.Parent, fields: spec.Fields}

	switch spec.Shape {
	case "", ShapeClass:
		ci.tag = heap.TagClass
		if ci.parent == "" {
			ci.parent = "System.Object"
		}
	case ShapeStruct:
		ci.tag = heap.TagValueType
		ci.size = spec.Size
		if ci.size == 0 {
			for _, f := range spec.Fields {
				if end := f.Offset + h.fieldWidth(f.Type); !f.Static && end > ci.size {
					ci.size = end
				}
			}
		}
	case ShapeEnum:
		underlying := spec.Underlying
		if underlying == "" {
			underlying = "System.Int32"
		}
		tag, ok := heap.TagForName(underlying)
		if !ok || !tag.IsPrimitive() {
			return 0, fmt.Errorf("enum %s: invalid underlying type %q", spec.Name, underlying)
		}
		ci.tag = heap.TagValueType
		ci.enum = true
		ci.size = tag.Size()
		ci.fields = []FieldSpec{{Name: enumValueField, Type: underlying, Offset: 0}}
	default:
		return 0, fmt.Errorf("class %s: unknown shape %q", spec.Name, spec.Shape)
	}
	return h.add(ci), nil
}

// MustDefine is Define that panics on error. Intended for tests.
func (h *Heap) MustDefine(spec ClassSpec) heap.Class {
	c, err := h.Define(spec)
	if err != nil {
		panic(err)
	}
	return c
}

// DefineObjectBase declares the host's common object base carrying the
// native handle field right after the object header.
func (h *Heap) DefineObjectBase(name string) heap.Class {
	return h.MustDefine(ClassSpec{
		Name: name,
		Fields: []FieldSpec{
			{Name: NativeHandleField, Type: "System.IntPtr", Offset: heap.ObjectHeaderSize},
		},
	})
}

func (h *Heap) fieldWidth(typeName string) int {
	c, ok := h.FindClass(typeName)
	if !ok {
		return heap.PointerSize
	}
	return h.ValueSize(c)
}

// FindClass implements heap.Metadata. Array ("T[]") and list ("List`1<T>")
// classes are created on first lookup; primitive aliases such as "float"
// resolve to their System class.
func (h *Heap) FindClass(name string) (heap.Class, bool) {
	if c, ok := h.byName[name]; ok {
		return c, true
	}
	if elem, ok := strings.CutSuffix(name, "[]"); ok {
		ec, ok := h.FindClass(elem)
		if !ok {
			return 0, false
		}
		canonical := h.ClassName(ec) + "[]"
		if c, ok := h.byName[canonical]; ok {
			h.byName[name] = c
			return c, true
		}
		return h.alias(name, &classInfo{
			name:   canonical,
			parent: "System.Object",
			tag:    heap.TagArray,
			rank:   1,
			elem:   h.ClassName(ec),
		}), true
	}
	if inner, ok := listElement(name); ok {
		ec, ok := h.FindClass(inner)
		if !ok {
			return 0, false
		}
		elemName := h.ClassName(ec)
		canonical := "List`1<" + elemName + ">"
		if c, ok := h.byName[canonical]; ok {
			h.byName[name] = c
			return c, true
		}
		return h.alias(name, &classInfo{
			name:   canonical,
			parent: "System.Object",
			tag:    heap.TagGenericInst,
			fields: []FieldSpec{
				{Name: listItemsField, Type: elemName + "[]", Offset: 16},
				{Name: listSizeField, Type: "System.Int32", Offset: 24},
				{Name: "_version", Type: "System.Int32", Offset: 28},
			},
		}), true
	}
	if tag, ok := heap.TagForName(name); ok {
		for _, c := range h.byName {
			if ci := h.info(c); strings.HasPrefix(ci.name, "System.") && ci.tag == tag && ci.name != "System.IntPtr" {
				return c, true
			}
		}
	}
	return 0, false
}

func listElement(name string) (string, bool) {
	for _, prefix := range []string{"List`1<", "List<"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			if inner, ok := strings.CutSuffix(rest, ">"); ok {
				return inner, true
			}
		}
	}
	return "", false
}

// ClassName implements heap.Metadata.
func (h *Heap) ClassName(c heap.Class) string {
	if ci := h.info(c); ci != nil {
		return ci.name
	}
	return ""
}

// Parent implements heap.Metadata.
func (h *Heap) Parent(c heap.Class) heap.Class {
	ci := h.info(c)
	if ci == nil || ci.parent == "" {
		return 0
	}
	p, _ := h.FindClass(ci.parent)
	return p
}

// Tag implements heap.Metadata.
func (h *Heap) Tag(c heap.Class) heap.TypeTag {
	if ci := h.info(c); ci != nil {
		return ci.tag
	}
	return heap.TagUnknown
}

// IsEnum implements heap.Metadata.
func (h *Heap) IsEnum(c heap.Class) bool {
	ci := h.info(c)
	return ci != nil && ci.enum
}

// ArrayRank implements heap.Metadata.
func (h *Heap) ArrayRank(c heap.Class) int {
	if ci := h.info(c); ci != nil {
		return ci.rank
	}
	return 0
}

// ElementClass implements heap.Metadata.
func (h *Heap) ElementClass(c heap.Class) heap.Class {
	ci := h.info(c)
	if ci == nil || ci.elem == "" {
		return 0
	}
	e, _ := h.FindClass(ci.elem)
	return e
}

// Fields implements heap.Metadata.
func (h *Heap) Fields(c heap.Class) []heap.Field {
	ci := h.info(c)
	if ci == nil {
		return nil
	}
	out := make([]heap.Field, 0, len(ci.fields))
	for _, f := range ci.fields {
		t, _ := h.FindClass(f.Type)
		out = append(out, heap.Field{Name: f.Name, Type: t, Offset: f.Offset, Static: f.Static, Owner: c})
	}
	return out
}

// ValueSize implements heap.Metadata.
func (h *Heap) ValueSize(c heap.Class) int {
	ci := h.info(c)
	if ci == nil {
		return heap.PointerSize
	}
	if ci.tag.IsPrimitive() || ci.tag == heap.TagValueType {
		return ci.size
	}
	return heap.PointerSize
}

// instanceSize is the allocation size of a reference-type instance.
func (h *Heap) instanceSize(c heap.Class) int {
	size := heap.ObjectHeaderSize
	for cur := c; cur != 0; cur = h.Parent(cur) {
		for _, f := range h.Fields(cur) {
			if f.Static {
				continue
			}
			if end := f.Offset + h.ValueSize(f.Type); end > size {
				size = end
			}
		}
	}
	return size
}

// findField walks c and its ancestors for a field by exact name.
func (h *Heap) findField(c heap.Class, name string) (heap.Field, bool) {
	for cur := c; cur != 0; cur = h.Parent(cur) {
		for _, f := range h.Fields(cur) {
			if f.Name == name && !f.Static {
				return f, true
			}
		}
	}
	return heap.Field{}, false
}

// alloc reserves n zeroed bytes.
func (h *Heap) alloc(n int) heap.Addr {
	addr := h.next
	h.blocks[addr] = make([]byte, n)
	h.bases = append(h.bases, addr)
	step := (n + allocAlign - 1) / allocAlign * allocAlign
	h.next = addr.Offset(step + allocAlign)
	return addr
}

func (h *Heap) locate(addr heap.Addr, n int) ([]byte, error) {
	i := sort.Search(len(h.bases), func(i int) bool { return h.bases[i] > addr }) - 1
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrFreed, addr)
	}
	base := h.bases[i]
	block, ok := h.blocks[base]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFreed, addr)
	}
	start := int(addr - base)
	if start+n > len(block) {
		return nil, fmt.Errorf("%w: %s+%d", ErrFreed, addr, n)
	}
	return block[start : start+n], nil
}

// ReadAt implements heap.Memory.
func (h *Heap) ReadAt(p []byte, addr heap.Addr) error {
	src, err := h.locate(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

// WriteAt copies p into the heap at addr.
func (h *Heap) WriteAt(p []byte, addr heap.Addr) error {
	dst, err := h.locate(addr, len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// WriteUint writes a little-endian unsigned integer of the given width.
func (h *Heap) WriteUint(addr heap.Addr, width int, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return h.WriteAt(buf[:width], addr)
}

// WritePtr writes a pointer at addr.
func (h *Heap) WritePtr(addr heap.Addr, v heap.Addr) error {
	return h.WriteUint(addr, heap.PointerSize, uint64(v))
}

// ClassOf implements heap.Runtime.
func (h *Heap) ClassOf(obj heap.Addr) (heap.Class, error) {
	klass, err := heap.ReadPtr(h, obj)
	if err != nil {
		return 0, err
	}
	c := heap.Class(klass)
	if h.info(c) == nil {
		return 0, fmt.Errorf("object %s has invalid class pointer %#x", obj, uint64(klass))
	}
	return c, nil
}

// ObjectName implements heap.Runtime.
func (h *Heap) ObjectName(obj heap.Addr) (string, error) {
	if _, err := h.locate(obj, heap.ObjectHeaderSize); err != nil {
		return "", err
	}
	name, ok := h.names[obj]
	if !ok {
		return "", fmt.Errorf("object %s has no native name", obj)
	}
	return name, nil
}

// Quiescent implements heap.Quiescer.
func (h *Heap) Quiescent() bool {
	h.quietCalls++
	return h.quietCalls > h.quietAfter
}

// QuietAfter makes the first n Quiescent calls report a busy host.
func (h *Heap) QuietAfter(n int) {
	h.quietAfter = n
	h.quietCalls = 0
}
