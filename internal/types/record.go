package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NameKey is the record key holding the canonical name.
const NameKey = "name"

// PlaceholderPrefix starts every generated record name.
const PlaceholderPrefix = "unknown_"

// NameSource ranks where a record name came from. Higher wins.
type NameSource int

const (
	NameNone NameSource = iota
	NamePlaceholder
	NameBackfill
	NamePath
	NameID
)

func (s NameSource) String() string {
	switch s {
	case NamePlaceholder:
		return "placeholder"
	case NameBackfill:
		return "backfill"
	case NamePath:
		return "path"
	case NameID:
		return "id"
	default:
		return "none"
	}
}

// PlaceholderName returns the generated name for the n-th unnamed instance.
func PlaceholderName(n int) string {
	return fmt.Sprintf("%s%d", PlaceholderPrefix, n)
}

// IsPlaceholderName reports whether name was generated rather than read.
func IsPlaceholderName(name string) bool {
	return name == "" || strings.HasPrefix(name, PlaceholderPrefix)
}

// Record accumulates the extracted fields of one foreign instance.
type Record struct {
	Name   string
	Source NameSource
	Fields *Object
}

// NewRecord creates a record carrying a placeholder name.
func NewRecord(placeholder string) *Record {
	return &Record{
		Name:   placeholder,
		Source: NamePlaceholder,
		Fields: NewObject(),
	}
}

// SetName adopts name if src outranks the current source. Empty names are ignored.
func (r *Record) SetName(name string, src NameSource) bool {
	if name == "" || src <= r.Source {
		return false
	}
	r.Name = name
	r.Source = src
	return true
}

// HasPlaceholderName reports whether the record still carries a generated name.
func (r *Record) HasPlaceholderName() bool {
	return r.Source <= NamePlaceholder
}

// Set stores a field value. Unsupported values are dropped.
func (r *Record) Set(field string, v interface{}) bool {
	if IsUnsupported(v) || field == NameKey {
		return false
	}
	r.Fields.Set(field, v)
	return true
}

// MarshalJSON writes the record as one flat object with the name first.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := NewObject()
	out.Set(NameKey, r.Name)
	r.Fields.Each(func(k string, v interface{}) {
		if k != NameKey {
			out.Set(k, v)
		}
	})
	return out.MarshalJSON()
}

// UnmarshalJSON reads a record previously written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	obj := NewObject()
	if err := json.Unmarshal(data, obj); err != nil {
		return err
	}
	r.Fields = NewObject()
	r.Name = ""
	r.Source = NameNone
	obj.Each(func(k string, v interface{}) {
		if k == NameKey {
			if s, ok := v.(string); ok {
				r.Name = s
			}
			return
		}
		r.Fields.Set(k, v)
	})
	if IsPlaceholderName(r.Name) {
		r.Source = NamePlaceholder
	} else {
		r.Source = NameID
	}
	return nil
}

type unsupported struct{}

func (unsupported) String() string { return "<unsupported>" }

func (unsupported) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Unsupported marks a value that could not be read. It is distinct from nil,
// which means the foreign field legitimately held null.
var Unsupported interface{} = unsupported{}

// IsUnsupported reports whether v is the Unsupported marker.
func IsUnsupported(v interface{}) bool {
	_, ok := v.(unsupported)
	return ok
}

// Placeholder is a named stand-in for a value that was deliberately not read,
// such as a subtree beyond the depth limit.
type Placeholder string
