package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/dbsmedya/goextract/internal/sqlutil"
)

// ValidationError is one rejected setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every rejected setting so they can be reported
// together.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "validation failed:\n  - " + strings.Join(msgs, "\n  - ")
}

// check records message against field when bad is true.
func (e *ValidationErrors) check(bad bool, field, message string) {
	if bad {
		*e = append(*e, ValidationError{Field: field, Message: message})
	}
}

// oneOf reports whether v is one of the allowed values. The empty string is
// always allowed so unset fields fall back to their defaults.
func oneOf(v string, allowed ...string) bool {
	if v == "" {
		return true
	}
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs.check(c.Source.Snapshot == "", "source.snapshot", "snapshot is required")
	c.validateSink(&errs)
	c.validateManifest(&errs)
	c.validateExtraction(&errs)
	c.validateNaming(&errs)
	errs.check(!oneOf(c.Logging.Level, "debug", "info", "warn", "error"),
		"logging.level", "level must be 'debug', 'info', 'warn', or 'error'")
	errs.check(!oneOf(c.Logging.Format, "json", "text"),
		"logging.format", "format must be 'json' or 'text'")
	errs.check(c.Watch.Debounce < 0, "watch.debounce", "debounce cannot be negative")

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateSink(errs *ValidationErrors) {
	switch c.Sink.Type {
	case "file", "":
		errs.check(c.Output.Directory == "", "output.directory", "directory is required for the file sink")
	case "sql":
		validateDatabase(errs, "sink", c.Sink.Driver, &c.Sink.Database)
		if c.Sink.Table != "" && !sqlutil.IsValidIdentifier(c.Sink.Table) {
			errs.check(true, "sink.table", (&sqlutil.InvalidIdentifierError{Name: c.Sink.Table}).Error())
		}
	default:
		errs.check(true, "sink.type", "type must be 'file' or 'sql'")
	}
}

func (c *Config) validateManifest(errs *ValidationErrors) {
	switch c.Manifest.Type {
	case "file", "":
		errs.check(c.Manifest.Path == "", "manifest.path", "path is required for the file manifest")
	case "sql":
		errs.check(c.Sink.Type != "sql", "manifest.type",
			"the sql manifest shares the sink database and requires sink.type 'sql'")
	default:
		errs.check(true, "manifest.type", "type must be 'file' or 'sql'")
	}
}

func validateDatabase(errs *ValidationErrors, section, driver string, db *DatabaseConfig) {
	field := section + ".database."
	switch driver {
	case "sqlite3":
		errs.check(db.Path == "", field+"path", "path is required for sqlite3")
	case "mysql":
		errs.check(db.Host == "", field+"host", "host is required")
		errs.check(db.Port <= 0 || db.Port > 65535, field+"port", "port must be between 1 and 65535")
		errs.check(db.User == "", field+"user", "user is required")
		errs.check(db.Database == "", field+"database", "database name is required")
		errs.check(!oneOf(db.TLS, "disable", "preferred", "required"),
			field+"tls", "tls must be 'disable', 'preferred', or 'required'")
	default:
		errs.check(true, section+".driver", "driver must be 'mysql' or 'sqlite3'")
	}
	errs.check(db.MaxConnections < 0, field+"max_connections", "max_connections cannot be negative")
	errs.check(db.MaxIdleConnections < 0, field+"max_idle_connections", "max_idle_connections cannot be negative")
}

func (c *Config) validateExtraction(errs *ValidationErrors) {
	ex := &c.Extraction

	errs.check(ex.StabilityThreshold < 0 || ex.StabilityThreshold >= 1,
		"extraction.stability_threshold", "stability_threshold must be in [0, 1)")
	errs.check(ex.MaxDepth <= 0, "extraction.max_depth", "max_depth must be positive")
	errs.check(ex.MaxElements <= 0, "extraction.max_elements", "max_elements must be positive")
	errs.check(ex.YieldEvery <= 0, "extraction.yield_every", "yield_every must be positive")
	errs.check(ex.RunTimeout < 0, "extraction.run_timeout", "run_timeout cannot be negative")
	errs.check(ex.Readiness.Retries < 0, "extraction.readiness.retries", "retries cannot be negative")
	errs.check(ex.Readiness.Delay < 0, "extraction.readiness.delay", "delay cannot be negative")

	for _, set := range []struct {
		name     string
		patterns []string
	}{{"include", ex.Include}, {"exclude", ex.Exclude}} {
		for i, p := range set.patterns {
			if _, err := CompilePattern(p); err != nil {
				errs.check(true, fmt.Sprintf("extraction.%s[%d]", set.name, i),
					fmt.Sprintf("invalid pattern %q: %v", p, err))
			}
		}
	}

	kinds := make([]string, 0, len(ex.Kinds))
	for kind := range ex.Kinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		kc := ex.Kinds[kind]
		errs.check(kc.MaxDepth < 0 || kc.MaxElements < 0, "extraction.kinds."+kind, "limits cannot be negative")
	}
}

func (c *Config) validateNaming(errs *ValidationErrors) {
	errs.check(len(c.Naming.IDFields) == 0, "naming.id_fields", "at least one id field is required")
	errs.check(c.Naming.NativeHandleField == "", "naming.native_handle_field", "native_handle_field is required")
}

// CompilePattern compiles a kind glob. Unbalanced braces are rejected here
// because glob.Compile reads an unclosed '{' as a literal.
func CompilePattern(p string) (glob.Glob, error) {
	depth := 0
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return nil, fmt.Errorf("unexpected '}' at %d", i)
			}
			depth--
		}
	}
	if depth > 0 {
		return nil, fmt.Errorf("unclosed '{'")
	}
	return glob.Compile(p)
}
