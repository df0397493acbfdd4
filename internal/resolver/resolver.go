// Package resolver finds native fields by logical name across naming
// conventions and class hierarchies, and caches the resolved offsets.
package resolver

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dbsmedya/goextract/internal/heap"
)

// ErrNotFound is returned when no naming variant matches on the class or any ancestor.
var ErrNotFound = errors.New("field not found")

// Resolution is a resolved field and its byte offset within the owner layout.
type Resolution struct {
	Field  heap.Field
	Offset int
}

type key struct {
	owner heap.Class
	field string
}

// Resolver resolves (kind, field) pairs and memoizes successful lookups.
// Failed lookups are not cached so that a later probe can still succeed.
// A Resolver belongs to one pipeline and is not safe for concurrent use.
type Resolver struct {
	meta    heap.Metadata
	offsets map[key]Resolution
	classes map[string]heap.Class
	probes  int
}

// New creates a Resolver over meta.
func New(meta heap.Metadata) *Resolver {
	return &Resolver{
		meta:    meta,
		offsets: make(map[key]Resolution),
		classes: make(map[string]heap.Class),
	}
}

// Class returns the metadata handle for a kind name, cached on success.
func (r *Resolver) Class(kind string) (heap.Class, bool) {
	if c, ok := r.classes[kind]; ok {
		return c, true
	}
	c, ok := r.meta.FindClass(kind)
	if ok {
		r.classes[kind] = c
	}
	return c, ok
}

// Resolve finds field on the class named kind.
func (r *Resolver) Resolve(kind, field string) (Resolution, error) {
	c, ok := r.Class(kind)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: kind %s is not in metadata", ErrNotFound, kind)
	}
	return r.ResolveClass(c, field)
}

// ResolveClass finds field on cls, trying every naming variant against cls
// and then each ancestor in turn. The first match wins.
func (r *Resolver) ResolveClass(cls heap.Class, field string) (Resolution, error) {
	k := key{owner: cls, field: field}
	if res, ok := r.offsets[k]; ok {
		return res, nil
	}
	if cls == 0 {
		return Resolution{}, fmt.Errorf("%w: %s on null class", ErrNotFound, field)
	}

	valueOwner := r.meta.Tag(cls) == heap.TagValueType
	variants := NameVariants(field)
	seen := make(map[heap.Class]bool)
	for cur := cls; cur != 0 && !seen[cur]; cur = r.meta.Parent(cur) {
		seen[cur] = true
		r.probes++
		fields := r.meta.Fields(cur)
		for _, name := range variants {
			for _, f := range fields {
				if f.Static || f.Name != name {
					continue
				}
				// Offset 0 of a reference type is the object header, never a field.
				if f.Offset == 0 && !valueOwner {
					continue
				}
				res := Resolution{Field: f, Offset: f.Offset}
				r.offsets[k] = res
				return res, nil
			}
		}
	}
	return Resolution{}, fmt.Errorf("%w: %s.%s", ErrNotFound, r.meta.ClassName(cls), field)
}

// Probes returns how many class field tables have been scanned. Cached
// lookups do not probe.
func (r *Resolver) Probes() int {
	return r.probes
}

// Cached returns the number of memoized resolutions.
func (r *Resolver) Cached() int {
	return len(r.offsets)
}

// NameVariants lists the native spellings tried for a logical field name:
// exact, lowerCamel, _lowerCamel, m_UpperCamel and the compiler backing
// field <UpperCamel>k__BackingField.
func NameVariants(name string) []string {
	if name == "" {
		return nil
	}
	lower := lowerFirst(name)
	upper := upperFirst(name)
	candidates := []string{
		name,
		lower,
		"_" + lower,
		"m_" + upper,
		"<" + upper + ">k__BackingField",
	}
	out := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// LogicalName strips native decorations from a field name, the inverse of
// NameVariants: "m_MaxHealth", "_maxHealth" and
// "<MaxHealth>k__BackingField" all become "maxHealth".
func LogicalName(native string) string {
	name := native
	if inner, ok := strings.CutPrefix(name, "<"); ok {
		if i := strings.Index(inner, ">k__BackingField"); i > 0 {
			name = inner[:i]
		}
	}
	switch {
	case strings.HasPrefix(name, "m_") && len(name) > 2:
		name = name[2:]
	case strings.HasPrefix(name, "_") && len(name) > 1:
		name = name[1:]
	}
	return lowerFirst(name)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsLower(r) {
		return s
	}
	// Keep acronyms like "ID" intact.
	if len(s) > size {
		next, _ := utf8.DecodeRuneInString(s[size:])
		if unicode.IsUpper(next) {
			return s
		}
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
