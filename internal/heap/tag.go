package heap

import "strings"

// TypeTag is the element-type tag the foreign metadata assigns to a class.
type TypeTag int

const (
	TagUnknown TypeTag = iota
	TagBool
	TagChar
	TagI1
	TagU1
	TagI2
	TagU2
	TagI4
	TagU4
	TagI8
	TagU8
	TagR4
	TagR8
	TagString
	TagValueType
	TagClass
	TagArray
	TagGenericInst
	TagObject
)

var tagNames = map[TypeTag]string{
	TagUnknown:     "unknown",
	TagBool:        "bool",
	TagChar:        "char",
	TagI1:          "i1",
	TagU1:          "u1",
	TagI2:          "i2",
	TagU2:          "u2",
	TagI4:          "i4",
	TagU4:          "u4",
	TagI8:          "i8",
	TagU8:          "u8",
	TagR4:          "r4",
	TagR8:          "r8",
	TagString:      "string",
	TagValueType:   "valuetype",
	TagClass:       "class",
	TagArray:       "array",
	TagGenericInst: "genericinst",
	TagObject:      "object",
}

func (t TypeTag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "unknown"
}

// Size returns the storage width of a primitive tag in bytes, PointerSize for
// reference tags, and 0 for value types whose size depends on their layout.
func (t TypeTag) Size() int {
	switch t {
	case TagBool, TagI1, TagU1:
		return 1
	case TagChar, TagI2, TagU2:
		return 2
	case TagI4, TagU4, TagR4:
		return 4
	case TagI8, TagU8, TagR8:
		return 8
	case TagString, TagClass, TagArray, TagGenericInst, TagObject:
		return PointerSize
	default:
		return 0
	}
}

// IsPrimitive reports whether t is a scalar tag.
func (t TypeTag) IsPrimitive() bool {
	return t >= TagBool && t <= TagR8
}

// IsFloat reports whether t is a floating-point tag.
func (t TypeTag) IsFloat() bool {
	return t == TagR4 || t == TagR8
}

// IsSigned reports whether t is a signed integer tag.
func (t TypeTag) IsSigned() bool {
	switch t {
	case TagI1, TagI2, TagI4, TagI8:
		return true
	}
	return false
}

// IsReference reports whether values of t are stored as pointers.
func (t TypeTag) IsReference() bool {
	switch t {
	case TagString, TagClass, TagArray, TagGenericInst, TagObject:
		return true
	}
	return false
}

var primitiveNames = map[string]TypeTag{
	"bool": TagBool, "boolean": TagBool,
	"char":  TagChar,
	"sbyte": TagI1, "byte": TagU1,
	"short": TagI2, "int16": TagI2, "ushort": TagU2, "uint16": TagU2,
	"int": TagI4, "int32": TagI4, "uint": TagU4, "uint32": TagU4,
	"long": TagI8, "int64": TagI8, "ulong": TagU8, "uint64": TagU8,
	"float": TagR4, "single": TagR4,
	"double": TagR8,
	"string": TagString,
	"object": TagObject,
}

// TagForName maps a declared type name such as "float", "System.Int32" or
// "Boolean" to its primitive tag.
func TagForName(name string) (TypeTag, bool) {
	n := strings.ToLower(strings.TrimPrefix(name, "System."))
	tag, ok := primitiveNames[n]
	return tag, ok
}
