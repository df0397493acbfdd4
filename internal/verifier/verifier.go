// Package verifier checks extracted output against the schema it was read with.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/metadata"
	"github.com/dbsmedya/goextract/internal/schema"
	"github.com/dbsmedya/goextract/internal/sink"
	"github.com/dbsmedya/goextract/internal/types"
)

// Level grades one check.
type Level string

const (
	LevelPass Level = "PASS"
	LevelWarn Level = "WARN"
	LevelFail Level = "FAIL"
	LevelInfo Level = "INFO"
)

// severity orders levels for Report.Worst. INFO never affects the outcome.
func (l Level) severity() int {
	switch l {
	case LevelWarn:
		return 1
	case LevelFail:
		return 2
	default:
		return 0
	}
}

// Thresholds used to grade the checks, as fractions.
const (
	KindCoverageWarn  = 0.70
	NamedWarn         = 0.50
	FieldCoveragePass = 0.90
	FieldCoverageWarn = 0.60

	// GarbageFloat is the magnitude above which a float is treated as a
	// misread rather than a real value.
	GarbageFloat = 1e10

	// DefaultSampleSize bounds the records type-checked per kind.
	DefaultSampleSize = 50
)

// Check is one graded finding.
type Check struct {
	Kind    string // empty for run-wide checks
	Name    string
	Level   Level
	Message string
	Details []string
}

// KindSummary describes the stored output of one kind.
type KindSummary struct {
	Kind    string
	Records int
	Named   int
	Digest  string // SHA-256 over the stored records, in order
}

// Report is the outcome of one verification.
type Report struct {
	Checks []Check
	Kinds  []KindSummary
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
}

// Count returns the number of checks graded at level.
func (r *Report) Count(level Level) int {
	n := 0
	for _, c := range r.Checks {
		if c.Level == level {
			n++
		}
	}
	return n
}

// Worst returns the most severe grade in the report.
func (r *Report) Worst() Level {
	worst := LevelPass
	for _, c := range r.Checks {
		if c.Level.severity() > worst.severity() {
			worst = c.Level
		}
	}
	return worst
}

// ExitCode maps the report to a process exit status: 0 clean, 1 warnings,
// 2 failures.
func (r *Report) ExitCode() int {
	return r.Worst().severity()
}

// Verifier grades the records a sink holds.
type Verifier struct {
	reg        *schema.Registry
	source     sink.Source
	sampleSize int
	logger     *logger.Logger
}

// NewVerifier creates a verifier reading from source.
func NewVerifier(reg *schema.Registry, source sink.Source, log *logger.Logger) (*Verifier, error) {
	if reg == nil {
		return nil, fmt.Errorf("schema registry is nil")
	}
	if source == nil {
		return nil, fmt.Errorf("record source is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Verifier{
		reg:        reg,
		source:     source,
		sampleSize: DefaultSampleSize,
		logger:     log,
	}, nil
}

// SetSampleSize sets how many records per kind are type-checked.
func (v *Verifier) SetSampleSize(n int) {
	if n > 0 {
		v.sampleSize = n
	}
}

// GetSampleSize returns the number of records type-checked per kind.
func (v *Verifier) GetSampleSize() int {
	return v.sampleSize
}

// Verify loads every kind the schema declares and grades the output. Only
// failures to read the source are returned as errors; everything else is a
// finding in the report.
func (v *Verifier) Verify(ctx context.Context, kinds ...string) (*Report, error) {
	if len(kinds) == 0 {
		kinds = v.reg.Kinds()
	}
	report := &Report{}

	v.logger.Infof("Verifying output for %d kinds", len(kinds))

	var sets []*types.RecordSet
	var missing []string
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("verification interrupted: %w", err)
		}
		recs, err := v.source.Load(ctx, kind)
		if err != nil {
			return report, fmt.Errorf("failed to load %s: %w", kind, err)
		}
		if len(recs) == 0 {
			missing = append(missing, kind)
			continue
		}
		sets = append(sets, &types.RecordSet{Kind: kind, Records: recs})
	}

	report.add(gradeCoverage(len(kinds), missing))
	v.extraKinds(ctx, report, kinds)

	for _, rs := range sets {
		ks, err := summarize(rs)
		if err != nil {
			return report, err
		}
		report.Kinds = append(report.Kinds, ks)
		report.add(Check{
			Kind:    rs.Kind,
			Name:    "digest",
			Level:   LevelInfo,
			Message: fmt.Sprintf("%d records, sha256 %s", ks.Records, ks.Digest[:16]),
		})
		report.add(gradeNames(rs.Kind, ks))

		k, _ := v.reg.Kind(rs.Kind)
		report.add(v.gradeFields(k, rs))
		report.add(v.gradeTypes(k, rs))
	}

	v.logger.Infof("Verification complete: %d passed, %d warnings, %d failed",
		report.Count(LevelPass), report.Count(LevelWarn), report.Count(LevelFail))
	return report, nil
}

// extraKinds notes stored kinds the schema does not declare.
func (v *Verifier) extraKinds(ctx context.Context, report *Report, kinds []string) {
	stored, err := v.source.Kinds(ctx)
	if err != nil {
		v.logger.Debugf("Cannot list stored kinds: %v", err)
		return
	}
	known := make(map[string]bool, len(kinds))
	for _, k := range v.reg.AllKinds() {
		known[k] = true
	}
	var extra []string
	for _, k := range stored {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		report.add(Check{
			Name:    "unknown-kinds",
			Level:   LevelInfo,
			Message: fmt.Sprintf("%d stored kinds are not in the schema", len(extra)),
			Details: extra,
		})
	}
}

func gradeCoverage(total int, missing []string) Check {
	c := Check{Name: "kind-coverage", Details: missing}
	if total == 0 {
		c.Level = LevelWarn
		c.Message = "schema declares no kinds"
		return c
	}
	found := total - len(missing)
	ratio := float64(found) / float64(total)
	c.Message = fmt.Sprintf("%d/%d kinds have output (%.0f%%)", found, total, ratio*100)
	switch {
	case ratio == 1:
		c.Level = LevelPass
	case ratio >= KindCoverageWarn:
		c.Level = LevelWarn
	default:
		c.Level = LevelFail
	}
	return c
}

// summarize counts named records and hashes the kind's records in stored
// order.
func summarize(rs *types.RecordSet) (KindSummary, error) {
	ks := KindSummary{Kind: rs.Kind, Records: len(rs.Records)}
	hasher := sha256.New()
	for _, r := range rs.Records {
		if !types.IsPlaceholderName(r.Name) {
			ks.Named++
		}
		data, err := json.Marshal(r)
		if err != nil {
			return ks, fmt.Errorf("failed to encode %s record %s: %w", rs.Kind, r.Name, err)
		}
		hasher.Write(data)
		hasher.Write([]byte("\n"))
	}
	ks.Digest = hex.EncodeToString(hasher.Sum(nil))
	return ks, nil
}

func gradeNames(kind string, ks KindSummary) Check {
	ratio := float64(ks.Named) / float64(ks.Records)
	c := Check{
		Kind:    kind,
		Name:    "names",
		Message: fmt.Sprintf("%d/%d records named (%.0f%%)", ks.Named, ks.Records, ratio*100),
	}
	switch {
	case ks.Named == ks.Records:
		c.Level = LevelPass
	case ratio >= NamedWarn:
		c.Level = LevelWarn
	default:
		c.Level = LevelFail
	}
	return c
}

// checkedField reports whether a field's stored value can be compared
// against the schema. Collections, references and localized text are read
// through other objects and may legitimately be absent.
func checkedField(f schema.FieldSchema) bool {
	switch f.Category {
	case metadata.List, metadata.Array, metadata.Reference, metadata.Localized, metadata.Unsupported:
		return false
	}
	return true
}

// gradeFields checks that the first named record carries the schema's
// directly stored fields.
func (v *Verifier) gradeFields(k *schema.KindSchema, rs *types.RecordSet) Check {
	c := Check{Kind: rs.Kind, Name: "fields"}
	if k == nil {
		c.Level = LevelInfo
		c.Message = "kind has no schema entry"
		return c
	}
	var sample *types.Record
	for _, r := range rs.Records {
		if !types.IsPlaceholderName(r.Name) {
			sample = r
			break
		}
	}
	if sample == nil {
		c.Level = LevelWarn
		c.Message = "no named record to sample"
		return c
	}

	expected, present := 0, 0
	for _, f := range k.Fields {
		if !checkedField(f) {
			continue
		}
		expected++
		if sample.Fields.Has(f.Name) {
			present++
		} else {
			c.Details = append(c.Details, f.Name)
		}
	}
	if expected == 0 {
		c.Level = LevelInfo
		c.Message = "no directly stored fields declared"
		return c
	}
	ratio := float64(present) / float64(expected)
	c.Message = fmt.Sprintf("%d/%d declared fields present in %s (%.0f%%)", present, expected, sample.Name, ratio*100)
	switch {
	case ratio >= FieldCoveragePass:
		c.Level = LevelPass
	case ratio >= FieldCoverageWarn:
		c.Level = LevelWarn
	default:
		c.Level = LevelFail
	}
	return c
}

// gradeTypes checks the shape of scalar and enum values in the first
// sampleSize records.
func (v *Verifier) gradeTypes(k *schema.KindSchema, rs *types.RecordSet) Check {
	c := Check{Kind: rs.Kind, Name: "types", Level: LevelPass}
	if k == nil {
		c.Level = LevelInfo
		c.Message = "kind has no schema entry"
		return c
	}
	sample := rs.Records
	if len(sample) > v.sampleSize {
		sample = sample[:v.sampleSize]
	}

	checked := 0
	for _, r := range sample {
		for _, f := range k.Fields {
			if f.Category != metadata.Scalar && f.Category != metadata.Enum {
				continue
			}
			val, ok := r.Fields.Get(f.Name)
			if !ok || val == nil {
				continue
			}
			checked++
			if problem := v.checkValue(f, val); problem != "" {
				c.Details = append(c.Details, fmt.Sprintf("%s.%s: %s", r.Name, f.Name, problem))
			}
		}
	}
	sort.Strings(c.Details)
	if len(c.Details) > 0 {
		c.Level = LevelFail
		c.Message = fmt.Sprintf("%d of %d values malformed in %d records", len(c.Details), checked, len(sample))
		return c
	}
	c.Message = fmt.Sprintf("%d values well-formed in %d records", checked, len(sample))
	return c
}

// checkValue returns a description of what is wrong with val, or "".
func (v *Verifier) checkValue(f schema.FieldSchema, val interface{}) string {
	if f.Category == metadata.Enum {
		n, ok := types.AsInt64(val)
		if !ok || !types.IsIntegral(val) {
			return fmt.Sprintf("enum value %v is not an integer", val)
		}
		if e, ok := v.reg.Enum(f.Type); ok && !e.Has(n) {
			return fmt.Sprintf("%d is not a %s value", n, f.Type)
		}
		return ""
	}

	switch scalarKind(f.Type) {
	case "bool":
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("expected bool, got %v", val)
		}
	case "float":
		x, ok := types.AsFloat64(val)
		if !ok {
			return fmt.Sprintf("expected number, got %v", val)
		}
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > GarbageFloat {
			return fmt.Sprintf("implausible float %g", x)
		}
	case "byte":
		n, ok := types.AsInt64(val)
		if !ok || !types.IsIntegral(val) {
			return fmt.Sprintf("expected integer, got %v", val)
		}
		if n < 0 || n > math.MaxUint8 {
			return fmt.Sprintf("%d out of byte range", n)
		}
	case "sbyte":
		n, ok := types.AsInt64(val)
		if !ok || !types.IsIntegral(val) {
			return fmt.Sprintf("expected integer, got %v", val)
		}
		if n < math.MinInt8 || n > math.MaxInt8 {
			return fmt.Sprintf("%d out of sbyte range", n)
		}
	case "int":
		if !types.IsIntegral(val) {
			return fmt.Sprintf("expected integer, got %v", val)
		}
	}
	return ""
}

// scalarKind buckets a declared scalar type name.
func scalarKind(typeName string) string {
	name := strings.ToLower(strings.TrimPrefix(typeName, "System."))
	switch name {
	case "bool", "boolean":
		return "bool"
	case "float", "single", "double":
		return "float"
	case "byte":
		return "byte"
	case "sbyte":
		return "sbyte"
	case "int", "int16", "int32", "int64", "short", "long", "uint", "uint16", "uint32", "uint64", "ushort", "ulong":
		return "int"
	}
	return ""
}
