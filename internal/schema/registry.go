package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dbsmedya/goextract/internal/metadata"
)

//go:embed default.yaml
var defaultDocument []byte

// FieldSchema is a category-tagged field descriptor.
type FieldSchema struct {
	Name        string
	Type        string
	Offset      int
	Category    metadata.Category
	ElementType string
}

// KindSchema describes one kind.
type KindSchema struct {
	Name         string
	Base         string
	Abstract     bool
	ResourcePath string
	Loose        bool
	EmbeddedIn   []string
	Fields       []FieldSchema
}

// Root reports whether the kind can be located without loading another kind first.
func (k *KindSchema) Root() bool {
	return !k.Loose && len(k.EmbeddedIn) == 0
}

// Field returns the named field descriptor.
func (k *KindSchema) Field(name string) (FieldSchema, bool) {
	return findField(k.Fields, name)
}

// StructSchema describes a value type.
type StructSchema struct {
	Name   string
	Size   int
	Fields []FieldSchema
}

// ClassSchema describes an embedded reference type.
type ClassSchema struct {
	Name   string
	Base   string
	Fields []FieldSchema
}

// VariantSchema describes one concrete polymorphic subtype.
type VariantSchema struct {
	Name    string
	Base    string
	Aliases []string
	Fields  []FieldSchema
}

// EnumSchema lists the named values of an enum.
type EnumSchema struct {
	Name       string
	Underlying string
	Values     map[string]int64
}

// Has reports whether v is one of the enum's declared values.
func (e *EnumSchema) Has(v int64) bool {
	for _, ev := range e.Values {
		if ev == v {
			return true
		}
	}
	return false
}

// UnknownCategoryError reports a field whose category is not recognized.
type UnknownCategoryError struct {
	Owner    string
	Field    string
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("schema: %s.%s has unknown category %q", e.Owner, e.Field, e.Category)
}

// Registry is the read-only lookup table built from a Document.
type Registry struct {
	Version  string
	DumpHash string

	kinds       map[string]*KindSchema
	structs     map[string]*StructSchema
	embedded    map[string]*ClassSchema
	variants    map[string]*VariantSchema
	aliases     map[string]string
	enums       map[string]*EnumSchema
	inheritance map[string][]string
}

// Load reads and compiles a schema file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	return reg, nil
}

// LoadDocument reads a schema file without compiling it.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return ParseDocument(data)
}

// Parse decodes and compiles schema data.
func Parse(data []byte) (*Registry, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return Compile(doc)
}

// Default returns the embedded schema.
func Default() (*Registry, error) {
	return Parse(defaultDocument)
}

// DefaultDocument returns the embedded schema document.
func DefaultDocument() (*Document, error) {
	return ParseDocument(defaultDocument)
}

// Compile validates a document and builds its lookup tables.
func Compile(doc *Document) (*Registry, error) {
	r := &Registry{
		Version:     doc.Version,
		DumpHash:    doc.DumpHash,
		kinds:       make(map[string]*KindSchema, len(doc.Templates)),
		structs:     make(map[string]*StructSchema, len(doc.Structs)),
		embedded:    make(map[string]*ClassSchema, len(doc.EmbeddedClasses)),
		variants:    make(map[string]*VariantSchema, len(doc.Variants)),
		aliases:     make(map[string]string),
		enums:       make(map[string]*EnumSchema, len(doc.Enums)),
		inheritance: doc.Inheritance,
	}

	for name, def := range doc.Enums {
		r.enums[name] = &EnumSchema{Name: name, Underlying: def.UnderlyingType, Values: def.Values}
	}
	for name, def := range doc.Structs {
		fields, err := compileFields(name, def.Fields)
		if err != nil {
			return nil, err
		}
		r.structs[name] = &StructSchema{Name: name, Size: def.SizeBytes, Fields: fields}
	}
	for name, def := range doc.EmbeddedClasses {
		fields, err := compileFields(name, def.Fields)
		if err != nil {
			return nil, err
		}
		r.embedded[name] = &ClassSchema{Name: name, Base: def.BaseClass, Fields: fields}
	}
	for name, def := range doc.Templates {
		fields, err := compileFields(name, def.Fields)
		if err != nil {
			return nil, err
		}
		r.kinds[name] = &KindSchema{
			Name:         name,
			Base:         def.BaseClass,
			Abstract:     def.IsAbstract,
			ResourcePath: def.ResourcePath,
			Loose:        def.Loose,
			EmbeddedIn:   def.EmbeddedIn,
			Fields:       fields,
		}
	}
	for name, def := range doc.Variants {
		fields, err := compileFields(name, def.Fields)
		if err != nil {
			return nil, err
		}
		r.variants[name] = &VariantSchema{Name: name, Base: def.Base, Aliases: def.Aliases, Fields: fields}
	}
	// Aliases are indexed after every canonical name is known.
	for _, name := range sortedKeys(r.variants) {
		for _, alias := range r.variants[name].Aliases {
			if _, clash := r.variants[alias]; clash {
				return nil, fmt.Errorf("schema: variant alias %s of %s shadows a variant", alias, name)
			}
			if prev, dup := r.aliases[alias]; dup {
				return nil, fmt.Errorf("schema: variant alias %s claimed by %s and %s", alias, prev, name)
			}
			r.aliases[alias] = name
		}
	}
	for _, k := range r.kinds {
		for _, owner := range k.EmbeddedIn {
			if _, ok := r.kinds[owner]; !ok {
				return nil, fmt.Errorf("schema: kind %s is embedded in unknown kind %s", k.Name, owner)
			}
		}
	}
	return r, nil
}

func compileFields(owner string, defs []FieldDef) ([]FieldSchema, error) {
	out := make([]FieldSchema, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("schema: %s has a field without a name", owner)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("schema: %s declares field %s twice", owner, d.Name)
		}
		seen[d.Name] = true
		cat := metadata.Unsupported
		if d.Category != "" {
			c, err := metadata.ParseCategory(d.Category)
			if err != nil {
				return nil, &UnknownCategoryError{Owner: owner, Field: d.Name, Category: d.Category}
			}
			cat = c
		}
		out = append(out, FieldSchema{
			Name:        d.Name,
			Type:        d.Type,
			Offset:      int(d.Offset),
			Category:    cat,
			ElementType: elementType(d),
		})
	}
	return out, nil
}

// elementType derives the element type of collection fields that omit it.
func elementType(d FieldDef) string {
	if d.ElementType != "" {
		return d.ElementType
	}
	if base, ok := strings.CutSuffix(d.Type, "[]"); ok {
		return base
	}
	if i := strings.Index(d.Type, "<"); i >= 0 && strings.HasSuffix(d.Type, ">") {
		return d.Type[i+1 : len(d.Type)-1]
	}
	return ""
}

func findField(fields []FieldSchema, name string) (FieldSchema, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Kind returns the schema for a kind.
func (r *Registry) Kind(name string) (*KindSchema, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// Kinds returns every non-abstract kind name in sorted order.
func (r *Registry) Kinds() []string {
	names := make([]string, 0, len(r.kinds))
	for name, k := range r.kinds {
		if !k.Abstract {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AllKinds returns every kind name including abstract ones.
func (r *Registry) AllKinds() []string {
	return sortedKeys(r.kinds)
}

// Struct returns the schema for a value type.
func (r *Registry) Struct(name string) (*StructSchema, bool) {
	s, ok := r.structs[name]
	return s, ok
}

// Embedded returns the schema for an embedded reference type.
func (r *Registry) Embedded(name string) (*ClassSchema, bool) {
	c, ok := r.embedded[name]
	return c, ok
}

// Variant looks up a concrete variant type by exact name, then by alias.
func (r *Registry) Variant(concrete string) (*VariantSchema, bool) {
	if v, ok := r.variants[concrete]; ok {
		return v, true
	}
	if canonical, ok := r.aliases[concrete]; ok {
		return r.variants[canonical], true
	}
	return nil, false
}

// Variants returns the canonical variant names in sorted order.
func (r *Registry) Variants() []string {
	return sortedKeys(r.variants)
}

// Enum returns the schema for an enum.
func (r *Registry) Enum(name string) (*EnumSchema, bool) {
	e, ok := r.enums[name]
	return e, ok
}

// Inheritance returns the recorded ancestor chain of a type, root first.
func (r *Registry) Inheritance(name string) []string {
	return r.inheritance[name]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
