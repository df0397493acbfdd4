// Package schema holds the declarative kind, struct and variant definitions
// used where metadata alone cannot describe a type.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk schema table. JSON documents are accepted too,
// since they parse as YAML.
type Document struct {
	Version         string                 `yaml:"version"`
	DumpHash        string                 `yaml:"dump_hash"`
	Enums           map[string]EnumDef     `yaml:"enums"`
	Structs         map[string]StructDef   `yaml:"structs"`
	EmbeddedClasses map[string]ClassDef    `yaml:"embedded_classes"`
	Templates       map[string]TemplateDef `yaml:"templates"`
	Variants        map[string]VariantDef  `yaml:"variants"`
	Inheritance     map[string][]string    `yaml:"inheritance"`
}

// EnumDef is an enum with its named values.
type EnumDef struct {
	UnderlyingType string           `yaml:"underlying_type"`
	Values         map[string]int64 `yaml:"values"`
}

// StructDef is a value type layout.
type StructDef struct {
	SizeBytes int        `yaml:"size_bytes"`
	Fields    []FieldDef `yaml:"fields"`
}

// ClassDef is a reference type embedded inside kinds.
type ClassDef struct {
	BaseClass string     `yaml:"base_class"`
	Fields    []FieldDef `yaml:"fields"`
}

// TemplateDef is one kind.
type TemplateDef struct {
	BaseClass    string     `yaml:"base_class"`
	IsAbstract   bool       `yaml:"is_abstract"`
	ResourcePath string     `yaml:"resource_path"`
	Loose        bool       `yaml:"loose"`
	EmbeddedIn   []string   `yaml:"embedded_in"`
	Fields       []FieldDef `yaml:"fields"`
}

// VariantDef is one concrete subtype of a polymorphic base.
type VariantDef struct {
	Base    string     `yaml:"base"`
	Aliases []string   `yaml:"aliases"`
	Fields  []FieldDef `yaml:"fields"`
}

// FieldDef is one field descriptor.
type FieldDef struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Offset      Offset `yaml:"offset"`
	Category    string `yaml:"category"`
	ElementType string `yaml:"element_type"`
}

// Offset is a byte offset written either as an integer or a hex string.
type Offset int

// UnmarshalYAML accepts 24, "24", "0x18" and 0x18.
func (o *Offset) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: offset must be a scalar", node.Line)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(node.Value), 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid offset %q", node.Line, node.Value)
	}
	if v < 0 {
		return fmt.Errorf("line %d: negative offset %d", node.Line, v)
	}
	*o = Offset(v)
	return nil
}

// MarshalYAML writes the offset in hex.
func (o Offset) MarshalYAML() (interface{}, error) {
	return o.String(), nil
}

func (o Offset) String() string {
	return fmt.Sprintf("0x%X", int(o))
}

// ParseDocument decodes a schema document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return &doc, nil
}
