package reader

import (
	"sort"

	"github.com/dbsmedya/goextract/internal/heap"
	"github.com/dbsmedya/goextract/internal/metadata"
	"github.com/dbsmedya/goextract/internal/resolver"
	"github.com/dbsmedya/goextract/internal/schema"
)

// FieldSpec tells the reader where a value lives and how to decode it.
// Schema-sourced and metadata-sourced fields share this shape.
type FieldSpec struct {
	Name        string
	Offset      int
	NextOffset  int // offset of the next field in the same layout, 0 when unknown
	Category    metadata.Category
	TypeName    string
	ElementType string
	Info        *metadata.TypeInfo // nil when metadata does not know the type
}

// Gap returns the distance to the next field, or 0 when unknown.
func (s FieldSpec) Gap() int {
	if s.NextOffset > s.Offset {
		return s.NextOffset - s.Offset
	}
	return 0
}

// FromMetadata builds a spec for a metadata field, keyed by its logical name.
func FromMetadata(cls *metadata.Classifier, f heap.Field) FieldSpec {
	info := cls.Classify(f.Type)
	return FieldSpec{
		Name:     resolver.LogicalName(f.Name),
		Offset:   f.Offset,
		Category: info.Category,
		TypeName: info.Name,
		Info:     info,
	}
}

// FromSchema builds a spec for a schema field. The schema category is kept;
// metadata, when it knows the type, contributes layout details.
func FromSchema(cls *metadata.Classifier, f schema.FieldSchema) FieldSpec {
	spec := FieldSpec{
		Name:        f.Name,
		Offset:      f.Offset,
		Category:    f.Category,
		TypeName:    f.Type,
		ElementType: f.ElementType,
	}
	if cls != nil && f.Type != "" {
		if info := cls.ClassifyName(f.Type); info.Category != metadata.Unsupported {
			spec.Info = info
			if spec.Category == metadata.Unsupported {
				spec.Category = info.Category
			}
		}
	}
	return spec
}

// SpecsFromSchema converts a schema field list and fills in next offsets.
func SpecsFromSchema(cls *metadata.Classifier, fields []schema.FieldSchema, end int) []FieldSpec {
	specs := make([]FieldSpec, 0, len(fields))
	for _, f := range fields {
		specs = append(specs, FromSchema(cls, f))
	}
	return WithNextOffsets(specs, end)
}

// SpecsFromMetadata converts metadata fields and fills in next offsets.
func SpecsFromMetadata(cls *metadata.Classifier, fields []heap.Field, end int) []FieldSpec {
	specs := make([]FieldSpec, 0, len(fields))
	for _, f := range fields {
		specs = append(specs, FromMetadata(cls, f))
	}
	return WithNextOffsets(specs, end)
}

// WithNextOffsets sets NextOffset on every spec to the smallest larger offset
// in the same layout, or end (if non-zero) for the last field.
func WithNextOffsets(specs []FieldSpec, end int) []FieldSpec {
	offsets := make([]int, 0, len(specs))
	for _, s := range specs {
		offsets = append(offsets, s.Offset)
	}
	sort.Ints(offsets)
	for i := range specs {
		j := sort.SearchInts(offsets, specs[i].Offset+1)
		switch {
		case j < len(offsets):
			specs[i].NextOffset = offsets[j]
		case end > specs[i].Offset:
			specs[i].NextOffset = end
		default:
			specs[i].NextOffset = 0
		}
	}
	return specs
}
