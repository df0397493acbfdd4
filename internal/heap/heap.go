// Package heap defines the narrow boundary between the extractor and a foreign
// managed heap. Everything that touches raw foreign memory goes through the
// interfaces declared here.
package heap

import (
	"fmt"
)

// Addr is an address inside the foreign heap. Zero is the null pointer.
type Addr uint64

// Class is an opaque handle to a foreign type-metadata record. Zero means "no class".
type Class uint64

// Object layout of the foreign runtime.
const (
	PointerSize      = 8
	ObjectHeaderSize = 16

	StringLengthOffset = 16
	StringCharsOffset  = 20

	ArrayLengthOffset = 24
	ArrayDataOffset   = 32

	// Generic list layout, used when metadata cannot describe the list type.
	ListItemsOffset = 16
	ListCountOffset = 24
)

// Null is the zero address.
const Null Addr = 0

// Offset returns the address n bytes past a.
func (a Addr) Offset(n int) Addr {
	return Addr(int64(a) + int64(n))
}

// String renders the address in hex.
func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Field is one declared field of a class, as reported by metadata.
// Offsets of reference-type owners include the object header; offsets of
// value-type owners are relative to the unboxed value.
type Field struct {
	Name   string
	Type   Class
	Offset int
	Static bool
	Owner  Class
}

// Metadata exposes the foreign type tables. Implementations must not read
// instance memory to answer any of these calls.
type Metadata interface {
	FindClass(name string) (Class, bool)
	ClassName(c Class) string
	Parent(c Class) Class
	Tag(c Class) TypeTag
	IsEnum(c Class) bool
	ArrayRank(c Class) int
	ElementClass(c Class) Class
	// Fields returns the fields declared directly on c, not its ancestors.
	Fields(c Class) []Field
	// ValueSize is the unboxed size of a value type, or PointerSize for references.
	ValueSize(c Class) int
}

// Memory reads raw bytes from the foreign heap.
type Memory interface {
	ReadAt(p []byte, addr Addr) error
}

// Runtime is the complete view of a foreign heap.
type Runtime interface {
	Metadata
	Memory

	// ClassOf derives the concrete class of a live object from its header.
	ClassOf(obj Addr) (Class, error)
	// ObjectName calls the foreign object's own name accessor. It may fail.
	ObjectName(obj Addr) (string, error)
}

// Loader enumerates candidate instances of a kind using the strategies the
// foreign environment offers.
type Loader interface {
	LoadAuthoritative(kind Class) ([]Addr, error)
	LoadUncached(kind Class) ([]Addr, error)
	LoadByPath(kind Class, path string) ([]Addr, error)
	FindLoaded(kind Class) ([]Addr, error)
}

// Quiescer is implemented by runtimes that can report whether the host is
// currently in a collection-free moment.
type Quiescer interface {
	Quiescent() bool
}

// Handle is a foreign object address paired with the class captured when it
// was first classified. The class is never re-derived from the address.
type Handle struct {
	Addr  Addr
	Class Class
}

// IsNull reports whether the handle points nowhere.
func (h Handle) IsNull() bool {
	return h.Addr == Null
}
