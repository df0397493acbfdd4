// Package metadata classifies foreign types into storage categories using
// type metadata only. No instance memory is read.
package metadata

import (
	"fmt"
	"strings"
)

// Category is the storage category of a foreign type.
type Category int

const (
	Unsupported Category = iota
	Scalar
	String
	Enum
	Struct
	Array
	List
	Reference
	Localized
	Variant
	Object
)

var categoryNames = [...]string{
	Unsupported: "unsupported",
	Scalar:      "scalar",
	String:      "string",
	Enum:        "enum",
	Struct:      "struct",
	Array:       "array",
	List:        "list",
	Reference:   "reference",
	Localized:   "localized",
	Variant:     "variant",
	Object:      "object",
}

// Aliases accepted when parsing schema documents produced by other tooling.
var categoryAliases = map[string]Category{
	"primitive":    Scalar,
	"localization": Localized,
	"unity_asset":  Reference,
	"asset":        Reference,
	"collection":   List,
	"polymorphic":  Variant,
	"unknown":      Unsupported,
	"class":        Object,
}

func (c Category) String() string {
	if int(c) >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory maps a category name to its Category.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	if c, ok := categoryAliases[name]; ok {
		return c, nil
	}
	return Unsupported, fmt.Errorf("unknown category %q", s)
}

// Inline reports whether values of this category live inside their owner's
// layout and can be read without following a second object pointer.
func (c Category) Inline() bool {
	switch c {
	case Scalar, String, Enum, Struct:
		return true
	}
	return false
}

// NeedsReference reports whether reading this category dereferences another
// foreign object. Such fields are read in the second phase.
func (c Category) NeedsReference() bool {
	switch c {
	case Array, List, Reference, Localized, Variant, Object:
		return true
	}
	return false
}

// Composite reports whether the category has element or nested field metadata.
func (c Category) Composite() bool {
	switch c {
	case Struct, Array, List, Variant, Object:
		return true
	}
	return false
}
