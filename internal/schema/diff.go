package schema

import (
	"fmt"
	"sort"
)

// Level grades a schema change.
type Level string

const (
	LevelAdd      Level = "ADD"
	LevelDel      Level = "DEL"
	LevelChange   Level = "CHG"
	LevelCritical Level = "CRIT"
	LevelWarn     Level = "WARN"
	LevelInfo     Level = "INFO"
)

// Change is one line of a schema diff.
type Change struct {
	Level   Level
	Message string
}

// Section groups the changes of one schema table.
type Section struct {
	Title   string
	Changes []Change
}

// Diff is the comparison of two schema documents.
type Diff struct {
	OldHash  string
	NewHash  string
	Sections []Section
}

// Compare reports what changed from old to new. Offset changes, struct size
// changes and renumbered enum values are critical because extraction would
// read the wrong bytes.
func Compare(old, new *Document) *Diff {
	return &Diff{
		OldHash: old.DumpHash,
		NewHash: new.DumpHash,
		Sections: []Section{
			{Title: "Enums", Changes: diffEnums(old.Enums, new.Enums)},
			{Title: "Structs", Changes: diffStructs(old.Structs, new.Structs)},
			{Title: "Templates", Changes: diffTemplates(old.Templates, new.Templates)},
			{Title: "Variants", Changes: diffVariants(old.Variants, new.Variants)},
		},
	}
}

// Count returns the number of non-informational changes.
func (d *Diff) Count() int {
	n := 0
	for _, s := range d.Sections {
		for _, c := range s.Changes {
			if c.Level != LevelInfo {
				n++
			}
		}
	}
	return n
}

// Critical returns the number of critical changes.
func (d *Diff) Critical() int {
	n := 0
	for _, s := range d.Sections {
		for _, c := range s.Changes {
			if c.Level == LevelCritical {
				n++
			}
		}
	}
	return n
}

func add(out []Change, level Level, format string, args ...interface{}) []Change {
	return append(out, Change{Level: level, Message: fmt.Sprintf(format, args...)})
}

// setDiff splits the keys of two maps into added, removed and common, sorted.
func setDiff[A, B any](old map[string]A, new map[string]B) (added, removed, common []string) {
	for k := range new {
		if _, ok := old[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range old {
		if _, ok := new[k]; ok {
			common = append(common, k)
		} else {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(common)
	return added, removed, common
}

func diffEnums(old, new map[string]EnumDef) []Change {
	var out []Change
	added, removed, common := setDiff(old, new)
	if len(added) > 0 {
		out = add(out, LevelAdd, "%d new enums", len(added))
		for _, name := range added {
			out = add(out, LevelInfo, "  + %s (%d values)", name, len(new[name].Values))
		}
	}
	if len(removed) > 0 {
		out = add(out, LevelDel, "%d removed enums", len(removed))
		for _, name := range removed {
			out = add(out, LevelInfo, "  - %s", name)
		}
	}
	for _, name := range common {
		ov, nv := old[name].Values, new[name].Values
		addV, delV, bothV := setDiff(ov, nv)
		var changed []string
		for _, v := range bothV {
			if ov[v] != nv[v] {
				changed = append(changed, v)
			}
		}
		if len(addV)+len(delV)+len(changed) == 0 {
			continue
		}
		out = add(out, LevelChange, "%s: +%d -%d ~%d values", name, len(addV), len(delV), len(changed))
		for _, v := range addV {
			out = add(out, LevelInfo, "  + %s = %d", v, nv[v])
		}
		for _, v := range delV {
			out = add(out, LevelInfo, "  - %s = %d", v, ov[v])
		}
		for _, v := range changed {
			out = add(out, LevelCritical, "  ~ %s: %d -> %d", v, ov[v], nv[v])
		}
	}
	return out
}

func diffStructs(old, new map[string]StructDef) []Change {
	var out []Change
	added, removed, common := setDiff(old, new)
	if len(added) > 0 {
		out = add(out, LevelAdd, "%d new structs", len(added))
		for _, name := range added {
			out = add(out, LevelInfo, "  + %s", name)
		}
	}
	if len(removed) > 0 {
		out = add(out, LevelDel, "%d removed structs", len(removed))
		for _, name := range removed {
			out = add(out, LevelInfo, "  - %s", name)
		}
	}
	for _, name := range common {
		if old[name].SizeBytes != new[name].SizeBytes {
			out = add(out, LevelCritical, "%s: size changed %d -> %d", name, old[name].SizeBytes, new[name].SizeBytes)
		}
		out = append(out, diffFields(name, old[name].Fields, new[name].Fields, false)...)
	}
	return out
}

func diffTemplates(old, new map[string]TemplateDef) []Change {
	var out []Change
	added, removed, common := setDiff(old, new)
	if len(added) > 0 {
		out = add(out, LevelAdd, "%d new templates", len(added))
		for _, name := range added {
			out = add(out, LevelInfo, "  + %s (%d fields)", name, len(new[name].Fields))
		}
	}
	if len(removed) > 0 {
		out = add(out, LevelDel, "%d removed templates", len(removed))
		for _, name := range removed {
			out = add(out, LevelInfo, "  - %s", name)
		}
	}
	offsetChanges := 0
	for _, name := range common {
		changes := diffFields(name, old[name].Fields, new[name].Fields, true)
		for _, c := range changes {
			if c.Level == LevelCritical {
				offsetChanges++
			}
		}
		out = append(out, changes...)
	}
	if offsetChanges > 0 {
		banner := Change{
			Level:   LevelCritical,
			Message: fmt.Sprintf("*** %d OFFSET CHANGES - extraction schema must be regenerated ***", offsetChanges),
		}
		out = append([]Change{banner}, out...)
	}
	return out
}

func diffVariants(old, new map[string]VariantDef) []Change {
	var out []Change
	added, removed, common := setDiff(old, new)
	for _, name := range added {
		out = add(out, LevelAdd, "%s (%d fields)", name, len(new[name].Fields))
	}
	for _, name := range removed {
		out = add(out, LevelDel, "%s", name)
	}
	for _, name := range common {
		if fmt.Sprint(old[name].Aliases) != fmt.Sprint(new[name].Aliases) {
			out = add(out, LevelChange, "%s: aliases %v -> %v", name, old[name].Aliases, new[name].Aliases)
		}
		out = append(out, diffFields(name, old[name].Fields, new[name].Fields, true)...)
	}
	return out
}

// diffFields compares field lists by name. withHeader prefixes the owner
// as a CHG line when anything differs.
func diffFields(owner string, old, new []FieldDef, withHeader bool) []Change {
	om := make(map[string]FieldDef, len(old))
	for _, f := range old {
		om[f.Name] = f
	}
	nm := make(map[string]FieldDef, len(new))
	for _, f := range new {
		nm[f.Name] = f
	}
	added, removed, common := setDiff(om, nm)

	var out []Change
	for _, f := range added {
		out = add(out, LevelInfo, "  + %s: %s @ %s", f, nm[f].Type, nm[f].Offset)
	}
	for _, f := range removed {
		out = add(out, LevelInfo, "  - %s: %s @ %s", f, om[f].Type, om[f].Offset)
	}
	for _, f := range common {
		if om[f].Offset != nm[f].Offset {
			out = add(out, LevelCritical, "  OFFSET %s.%s: %s -> %s", owner, f, om[f].Offset, nm[f].Offset)
		}
	}
	for _, f := range common {
		if om[f].Type != nm[f].Type {
			out = add(out, LevelWarn, "  TYPE %s.%s: %s -> %s", owner, f, om[f].Type, nm[f].Type)
		}
	}
	if len(out) > 0 && withHeader {
		out = append([]Change{{Level: LevelChange, Message: owner + ":"}}, out...)
	}
	return out
}
