package metadata

import (
	"strings"

	"github.com/dbsmedya/goextract/internal/heap"
)

// Options name the well-known types and fields the classifier looks for.
type Options struct {
	ObjectBases    []string // host base-object types; descendants are references
	LocalizedBases []string // localized-text wrapper bases
	VariantBases   []string // abstract bases of polymorphic variants
	ListTypes      []string // generic collection names, without type arguments
	CountField     string   // list element count
	ItemsField     string   // list backing array
	EnumValueField string   // enum underlying value
}

// DefaultOptions returns the names used by the host runtime.
func DefaultOptions() Options {
	return Options{
		ObjectBases:    []string{"UnityEngine.Object"},
		LocalizedBases: []string{"LocalizedLine", "LocalizedMultiLine"},
		VariantBases:   []string{"Handler"},
		ListTypes:      []string{"List`1", "System.Collections.Generic.List`1"},
		CountField:     "_size",
		ItemsField:     "_items",
		EnumValueField: "value__",
	}
}

// TypeInfo is the classification of one foreign type.
type TypeInfo struct {
	Category Category
	Class    heap.Class
	Name     string
	Tag      heap.TypeTag
	Size     int // inline width: scalar width, struct size or pointer size

	Elem        *TypeInfo // Array and List elements
	CountOffset int       // List count field, relative to the list object
	ItemsOffset int       // List items array pointer, relative to the list object

	Underlying  heap.TypeTag // Enum underlying integer tag
	ValueOffset int          // Enum underlying field offset
}

var unsupportedInfo = &TypeInfo{Category: Unsupported}

// Classifier maps metadata handles to TypeInfo. Results are memoized per
// classifier; a classifier belongs to one pipeline and is not shared.
type Classifier struct {
	meta  heap.Metadata
	opts  Options
	cache map[heap.Class]*TypeInfo
}

// NewClassifier creates a Classifier over meta.
func NewClassifier(meta heap.Metadata, opts Options) *Classifier {
	if opts.CountField == "" {
		opts.CountField = "_size"
	}
	if opts.ItemsField == "" {
		opts.ItemsField = "_items"
	}
	if opts.EnumValueField == "" {
		opts.EnumValueField = "value__"
	}
	return &Classifier{
		meta:  meta,
		opts:  opts,
		cache: make(map[heap.Class]*TypeInfo),
	}
}

// Metadata returns the metadata source the classifier reads.
func (c *Classifier) Metadata() heap.Metadata {
	return c.meta
}

// Options returns the classifier configuration.
func (c *Classifier) Options() Options {
	return c.opts
}

// ClassifyName classifies a type by declared name. Names unknown to metadata
// fall back to primitive type names; anything else is Unsupported.
func (c *Classifier) ClassifyName(name string) *TypeInfo {
	if cls, ok := c.meta.FindClass(name); ok {
		return c.Classify(cls)
	}
	if tag, ok := heap.TagForName(name); ok {
		switch {
		case tag.IsPrimitive():
			return &TypeInfo{Category: Scalar, Name: name, Tag: tag, Size: tag.Size()}
		case tag == heap.TagString:
			return &TypeInfo{Category: String, Name: name, Tag: tag, Size: heap.PointerSize}
		}
	}
	return &TypeInfo{Category: Unsupported, Name: name}
}

// Classify returns the storage category of cls.
func (c *Classifier) Classify(cls heap.Class) *TypeInfo {
	if cls == 0 {
		return unsupportedInfo
	}
	if info, ok := c.cache[cls]; ok {
		return info
	}

	tag := c.meta.Tag(cls)
	info := &TypeInfo{
		Class: cls,
		Name:  c.meta.ClassName(cls),
		Tag:   tag,
		Size:  c.meta.ValueSize(cls),
	}
	// Cached before recursing so self-referential element types terminate.
	c.cache[cls] = info

	switch {
	case tag.IsPrimitive():
		info.Category = Scalar
		info.Size = tag.Size()
	case tag == heap.TagString:
		info.Category = String
	case tag == heap.TagArray || c.meta.ArrayRank(cls) > 0:
		info.Category = Array
		info.Elem = c.Classify(c.meta.ElementClass(cls))
	case tag == heap.TagValueType && c.meta.IsEnum(cls):
		c.classifyEnum(info)
	case tag == heap.TagValueType:
		info.Category = Struct
	case tag == heap.TagClass || tag == heap.TagGenericInst || tag == heap.TagObject:
		c.classifyReference(info)
	default:
		info.Category = Unsupported
	}
	return info
}

func (c *Classifier) classifyEnum(info *TypeInfo) {
	info.Category = Enum
	info.Underlying = heap.TagI4
	info.ValueOffset = 0
	if f, ok := c.FindField(info.Class, c.opts.EnumValueField); ok {
		if t := c.meta.Tag(f.Type); t.IsPrimitive() {
			info.Underlying = t
		}
		info.ValueOffset = f.Offset
	}
	info.Size = info.Underlying.Size()
}

func (c *Classifier) classifyReference(info *TypeInfo) {
	info.Size = heap.PointerSize
	switch {
	case c.Derives(info.Class, c.opts.LocalizedBases):
		info.Category = Localized
	case c.Derives(info.Class, c.opts.VariantBases):
		info.Category = Variant
	case c.classifyList(info):
		info.Category = List
	case c.Derives(info.Class, c.opts.ObjectBases):
		info.Category = Reference
	default:
		info.Category = Object
	}
}

// classifyList recognizes list-like collections either by generic type name
// or by the presence of both the count and items fields.
func (c *Classifier) classifyList(info *TypeInfo) bool {
	count, okCount := c.FindField(info.Class, c.opts.CountField)
	items, okItems := c.FindField(info.Class, c.opts.ItemsField)
	if !okCount || !okItems {
		return false
	}
	itemsInfo := c.Classify(items.Type)
	if itemsInfo.Category != Array && !c.isListName(info.Name) {
		return false
	}
	info.CountOffset = count.Offset
	info.ItemsOffset = items.Offset
	if itemsInfo.Elem != nil {
		info.Elem = itemsInfo.Elem
	} else {
		info.Elem = unsupportedInfo
	}
	return true
}

func (c *Classifier) isListName(name string) bool {
	base := name
	if i := strings.IndexAny(base, "<["); i >= 0 {
		base = base[:i]
	}
	for _, lt := range c.opts.ListTypes {
		if base == lt {
			return true
		}
	}
	return false
}

// Derives reports whether cls or any ancestor is named in bases.
func (c *Classifier) Derives(cls heap.Class, bases []string) bool {
	if len(bases) == 0 {
		return false
	}
	seen := make(map[heap.Class]bool)
	for cur := cls; cur != 0 && !seen[cur]; cur = c.meta.Parent(cur) {
		seen[cur] = true
		name := c.meta.ClassName(cur)
		for _, b := range bases {
			if name == b {
				return true
			}
		}
	}
	return false
}

// Ancestors returns cls followed by its parents, nearest first.
func (c *Classifier) Ancestors(cls heap.Class) []heap.Class {
	var chain []heap.Class
	seen := make(map[heap.Class]bool)
	for cur := cls; cur != 0 && !seen[cur]; cur = c.meta.Parent(cur) {
		seen[cur] = true
		chain = append(chain, cur)
	}
	return chain
}

// FindField looks up a non-static field by exact name on cls and its ancestors.
func (c *Classifier) FindField(cls heap.Class, name string) (heap.Field, bool) {
	for _, cur := range c.Ancestors(cls) {
		for _, f := range c.meta.Fields(cur) {
			if f.Name == name && !f.Static {
				return f, true
			}
		}
	}
	return heap.Field{}, false
}

// InstanceFields returns every non-static field of cls including inherited
// ones, root ancestor first. Fields declared on types in skip are left out.
func (c *Classifier) InstanceFields(cls heap.Class, skip ...string) []heap.Field {
	chain := c.Ancestors(cls)
	var out []heap.Field
	for i := len(chain) - 1; i >= 0; i-- {
		name := c.meta.ClassName(chain[i])
		if contains(skip, name) {
			continue
		}
		for _, f := range c.meta.Fields(chain[i]) {
			if !f.Static {
				out = append(out, f)
			}
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
