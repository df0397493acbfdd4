// Package config provides configuration structures and loading for GoExtract.
package config

import (
	"strings"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Schema     SchemaConfig     `yaml:"schema" mapstructure:"schema"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Sink       SinkConfig       `yaml:"sink" mapstructure:"sink"`
	Manifest   ManifestConfig   `yaml:"manifest" mapstructure:"manifest"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Naming     NamingConfig     `yaml:"naming" mapstructure:"naming"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Watch      WatchConfig      `yaml:"watch" mapstructure:"watch"`
}

// SourceConfig identifies the foreign heap and the binary whose identity
// decides whether a previous run is still current.
type SourceConfig struct {
	Snapshot string `yaml:"snapshot" mapstructure:"snapshot"` // heap snapshot file
	Binary   string `yaml:"binary" mapstructure:"binary"`     // fingerprinted host binary
	Version  string `yaml:"version" mapstructure:"version"`   // host version tag
}

// SchemaConfig locates the extraction schema.
type SchemaConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // empty uses the built-in schema
}

// OutputConfig represents the file sink output location.
type OutputConfig struct {
	Directory string `yaml:"directory" mapstructure:"directory"`
}

// SinkConfig selects where extracted records are written.
type SinkConfig struct {
	Type     string         `yaml:"type" mapstructure:"type"`     // file or sql
	Driver   string         `yaml:"driver" mapstructure:"driver"` // mysql or sqlite3
	Table    string         `yaml:"table" mapstructure:"table"`   // record table, extract_record when empty
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig represents a SQL database connection configuration.
type DatabaseConfig struct {
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	Path               string `yaml:"path" mapstructure:"path"` // sqlite3 database file
	TLS                string `yaml:"tls" mapstructure:"tls"`   // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`
}

// ManifestConfig selects where run records are kept.
type ManifestConfig struct {
	Type string `yaml:"type" mapstructure:"type"` // file or sql
	Path string `yaml:"path" mapstructure:"path"` // file store location
}

// ExtractionConfig represents pipeline limits and behavior.
type ExtractionConfig struct {
	StabilityThreshold float64               `yaml:"stability_threshold" mapstructure:"stability_threshold"`
	MaxDepth           int                   `yaml:"max_depth" mapstructure:"max_depth"`
	MaxElements        int                   `yaml:"max_elements" mapstructure:"max_elements"`
	YieldEvery         int                   `yaml:"yield_every" mapstructure:"yield_every"`
	RunTimeout         time.Duration         `yaml:"run_timeout" mapstructure:"run_timeout"`
	Readiness          ReadinessConfig       `yaml:"readiness" mapstructure:"readiness"`
	FailClosedKinds    []string              `yaml:"fail_closed_kinds" mapstructure:"fail_closed_kinds"`
	UncachedKinds      []string              `yaml:"uncached_kinds" mapstructure:"uncached_kinds"`
	Include            []string              `yaml:"include" mapstructure:"include"`
	Exclude            []string              `yaml:"exclude" mapstructure:"exclude"`
	Kinds              map[string]KindConfig `yaml:"kinds" mapstructure:"kinds"`
}

// KindConfig overrides the global extraction limits for one kind.
type KindConfig struct {
	MaxDepth    int `yaml:"max_depth" mapstructure:"max_depth"`
	MaxElements int `yaml:"max_elements" mapstructure:"max_elements"`
}

// ReadinessConfig bounds the wait for the host to finish loading.
type ReadinessConfig struct {
	ProbeKind string        `yaml:"probe_kind" mapstructure:"probe_kind"`
	Retries   int           `yaml:"retries" mapstructure:"retries"`
	Delay     time.Duration `yaml:"delay" mapstructure:"delay"`
}

// NamingConfig lists the fields used to name instances and references.
type NamingConfig struct {
	IDFields           []string `yaml:"id_fields" mapstructure:"id_fields"`
	PathFields         []string `yaml:"path_fields" mapstructure:"path_fields"`
	DisplayNameField   string   `yaml:"display_name_field" mapstructure:"display_name_field"`
	LocalizedTextField string   `yaml:"localized_text_field" mapstructure:"localized_text_field"`
	NativeHandleField  string   `yaml:"native_handle_field" mapstructure:"native_handle_field"`
}

// ClassifierConfig names the host types that drive category decisions.
type ClassifierConfig struct {
	ObjectBases    []string `yaml:"object_bases" mapstructure:"object_bases"`
	LocalizedBases []string `yaml:"localized_bases" mapstructure:"localized_bases"`
	VariantBases   []string `yaml:"variant_bases" mapstructure:"variant_bases"`
	ListTypes      []string `yaml:"list_types" mapstructure:"list_types"`
	CountField     string   `yaml:"count_field" mapstructure:"count_field"`
	ItemsField     string   `yaml:"items_field" mapstructure:"items_field"`
	EnumValueField string   `yaml:"enum_value_field" mapstructure:"enum_value_field"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// WatchConfig represents the watch command settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			Directory: "output",
		},
		Sink: SinkConfig{
			Type:   "file",
			Driver: "sqlite3",
			Table:  "extract_record",
			Database: DatabaseConfig{
				Port:               3306,
				TLS:                "preferred",
				MaxConnections:     10,
				MaxIdleConnections: 5,
			},
		},
		Manifest: ManifestConfig{
			Type: "file",
			Path: "output/.manifest.json",
		},
		Extraction: ExtractionConfig{
			StabilityThreshold: 0.01,
			MaxDepth:           8,
			MaxElements:        4096,
			YieldEvery:         64,
			RunTimeout:         10 * time.Minute,
			Readiness: ReadinessConfig{
				Retries: 10,
				Delay:   2 * time.Second,
			},
		},
		Naming: NamingConfig{
			IDFields:           []string{"id", "ID"},
			PathFields:         []string{"path", "resourcePath"},
			DisplayNameField:   "displayName",
			LocalizedTextField: "defaultText",
			NativeHandleField:  "m_CachedPtr",
		},
		Classifier: ClassifierConfig{
			ObjectBases:    []string{"UnityEngine.Object"},
			LocalizedBases: []string{"LocalizedLine", "LocalizedMultiLine"},
			VariantBases:   []string{"Handler"},
			ListTypes:      []string{"List`1", "System.Collections.Generic.List`1"},
			CountField:     "_size",
			ItemsField:     "_items",
			EnumValueField: "value__",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// GetKindLimits returns the depth and element limits for a kind, falling
// back to the global extraction settings.
func (c *Config) GetKindLimits(kind string) KindConfig {
	result := KindConfig{
		MaxDepth:    c.Extraction.MaxDepth,
		MaxElements: c.Extraction.MaxElements,
	}
	kc, ok := c.Extraction.Kinds[kind]
	if !ok {
		// viper lowercases map keys
		for name, v := range c.Extraction.Kinds {
			if strings.EqualFold(name, kind) {
				kc, ok = v, true
				break
			}
		}
	}
	if !ok {
		return result
	}
	if kc.MaxDepth > 0 {
		result.MaxDepth = kc.MaxDepth
	}
	if kc.MaxElements > 0 {
		result.MaxElements = kc.MaxElements
	}
	return result
}
