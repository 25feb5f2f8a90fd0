package xlsxreport

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Characters stripped around headers and comparison keys after removing a
// tag or type label from a column name.
const trimChars = " ."

// log2MaxTransformedValue is the threshold for detecting columns that are
// already log2 transformed. Raw intensities reported by quantitative mass
// spectrometry range from about 1e3 to 1e12; a log2 value above 64 would
// require raw values beyond 1e19. The check is a heuristic and can misfire
// on columns that hold small raw values.
const log2MaxTransformedValue = 64

// CompiledColumn is one report column of a compiled section.
type CompiledColumn struct {
	Name              string // column name in the input table
	Header            string // column header written to the report
	Format            string // format reference, empty for the template default
	ConditionalFormat string // conditional format reference, empty for none
	Log2              bool   // write log2 transformed values
}

// TableSection is one contiguous block of report columns produced by
// resolving a template section against a table. The slice of TableSections
// returned by Compile is the complete layout of the report.
type TableSection struct {
	Columns           []CompiledColumn
	Supheader         string
	SupheaderFormat   Format  // overlay on the template "supheader" format
	HeaderFormat      Format  // overlay on the template "header" format
	ConditionalFormat string  // conditional format applied across the whole section
	Width             float64 // column width in pixels, 0 for the settings default
	Border            bool
	Hidden            bool
}

// Compile resolves the template sections against the columns of a table and
// returns the compiled layout. Sections are resolved in template order over a
// shrinking set of available columns: a column consumed by one section is not
// offered to later sections unless the remove_duplicate_columns setting is
// disabled. Sections that match no columns are dropped. When the
// append_remaining_columns setting is enabled, a trailing hidden section
// collects every column no other section consumed, in table order.
//
// Compilation is a pure function of the template and the table: it never
// modifies either, and on error no partial layout is returned.
func Compile(t *Template, table *Table) ([]TableSection, error) {
	sections, err := compileSections(t, table.Columns())
	if err != nil {
		return nil, err
	}
	for si := range sections {
		for ci := range sections[si].Columns {
			col := &sections[si].Columns[ci]
			if col.Log2 {
				col.Log2 = ShouldLog2(table.Values(col.Name), t.Settings.EvaluateLog2Transformation)
			}
		}
	}
	return sections, nil
}

func compileSections(t *Template, columns []string) ([]TableSection, error) {
	available := make([]string, len(columns))
	copy(available, columns)
	consumed := make(map[string]bool, len(columns))

	var compiled []TableSection
	for _, sec := range t.Sections {
		resolved, err := resolveSection(sec, available, t.Settings)
		if err != nil {
			return nil, err
		}
		for _, ts := range resolved {
			if len(ts.Columns) == 0 {
				continue
			}
			compiled = append(compiled, ts)
			for _, col := range ts.Columns {
				consumed[col.Name] = true
			}
			if t.Settings.RemoveDuplicateColumns {
				available = withoutColumns(available, ts.Columns)
			}
		}
	}

	if t.Settings.AppendRemainingColumns {
		var rest []CompiledColumn
		for _, name := range columns {
			if !consumed[name] {
				rest = append(rest, CompiledColumn{Name: name, Header: name})
			}
		}
		if len(rest) > 0 {
			compiled = append(compiled, TableSection{Columns: rest, Hidden: true})
		}
	}
	return compiled, nil
}

// resolveSection turns one template section into zero or more table sections.
// Column and tag sections yield at most one section; a comparison section
// yields one per comparison found among the available columns.
func resolveSection(sec Section, available []string, settings Settings) ([]TableSection, error) {
	switch s := sec.(type) {
	case *ColumnSection:
		return []TableSection{resolveColumnSection(s, available)}, nil
	case *TagSection:
		ts, err := resolveTagSection(s, available, settings)
		if err != nil {
			return nil, err
		}
		return []TableSection{ts}, nil
	case *ComparisonSection:
		return resolveComparisonSection(s, available)
	}
	// Section is a closed sum type; the template loader only produces the
	// three kinds above.
	panic("xlsxreport: unknown section kind")
}

func resolveColumnSection(s *ColumnSection, available []string) TableSection {
	matched := matchDirect(s.Columns, available)
	cols := make([]CompiledColumn, 0, len(matched))
	for _, name := range matched {
		cols = append(cols, CompiledColumn{
			Name:              name,
			Header:            name,
			Format:            columnFormat(s.Meta, name),
			ConditionalFormat: columnConditional(s.Meta, name),
		})
	}
	return sectionFromMeta(s.Meta, cols, s.Meta.Supheader)
}

func resolveTagSection(s *TagSection, available []string, settings Settings) (TableSection, error) {
	re, err := s.regex()
	if err != nil {
		return TableSection{}, err
	}
	matched := matchTag(re, s.Labels, available)
	cols := make([]CompiledColumn, 0, len(matched))
	for _, name := range matched {
		header := name
		if s.RemoveTag {
			if loc := re.FindStringIndex(name); loc != nil {
				header = strings.Trim(name[:loc[0]]+name[loc[1]:], trimChars)
			}
		} else if s.Log2 && settings.Log2Tag != "" {
			header = header + " " + settings.Log2Tag
		}
		cols = append(cols, CompiledColumn{
			Name:              name,
			Header:            header,
			Format:            columnFormat(s.Meta, name),
			ConditionalFormat: columnConditional(s.Meta, name),
			Log2:              s.Log2,
		})
	}
	supheader := s.Meta.Supheader
	if supheader != "" && s.Log2 && settings.Log2Tag != "" {
		supheader = supheader + " " + settings.Log2Tag
	}
	return sectionFromMeta(s.Meta, cols, supheader), nil
}

// resolveComparisonSection groups the available comparison columns by their
// comparison key and emits one section per key. The key of a column is what
// remains after stripping its type label prefix; keys are grouped by exact
// equality so that one comparison being a substring of another (for example
// "exp1 vs exp2" inside "exp3exp1 vs exp2") can never merge two comparisons.
func resolveComparisonSection(s *ComparisonSection, available []string) ([]TableSection, error) {
	type member struct {
		name  string
		label string
	}
	var keyOrder []string
	groups := map[string][]member{}

	for _, name := range available {
		if !strings.Contains(name, s.Separator) {
			continue
		}
		var labels []string
		for _, label := range s.TypeLabels {
			if strings.HasPrefix(name, label) {
				labels = append(labels, label)
			}
		}
		if len(labels) == 0 {
			continue // not part of any comparison
		}
		if len(labels) > 1 {
			return nil, &AmbiguousTypeLabelError{Section: s.Meta.Name, Column: name, Labels: labels}
		}
		label := labels[0]
		key := name[len(label):]
		// The label is usually followed by a single separator character
		// that is not part of the comparison key.
		if key != "" && strings.ContainsRune(trimChars, rune(key[0])) {
			key = key[1:]
		}
		if _, seen := groups[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		groups[key] = append(groups[key], member{name: name, label: label})
	}

	sections := make([]TableSection, 0, len(keyOrder))
	for _, key := range keyOrder {
		members := groups[key]
		var cols []CompiledColumn
		// Columns are ordered by their type label, not by table order.
		for _, label := range s.TypeLabels {
			for _, m := range members {
				if m.label != label {
					continue
				}
				cols = append(cols, CompiledColumn{
					Name:              m.name,
					Header:            strings.Trim(label, trimChars),
					Format:            columnFormat(s.Meta, label),
					ConditionalFormat: columnConditional(s.Meta, label),
				})
			}
		}
		sections = append(sections, sectionFromMeta(s.Meta, cols, comparisonSupheader(s, key)))
	}
	return sections, nil
}

// comparisonSupheader renders the supheader of a comparison section from the
// comparison key. The section's own supheader field is never used here.
func comparisonSupheader(s *ComparisonSection, key string) string {
	switch {
	case s.ReplaceSeparator != "":
		return strings.ReplaceAll(key, s.Separator, s.ReplaceSeparator)
	case s.RemoveSeparator:
		collapsed := strings.ReplaceAll(key, s.Separator, " ")
		return strings.Trim(strings.Join(strings.Fields(collapsed), " "), trimChars)
	}
	return key
}

func sectionFromMeta(meta SectionMeta, cols []CompiledColumn, supheader string) TableSection {
	return TableSection{
		Columns:           cols,
		Supheader:         supheader,
		SupheaderFormat:   meta.SupheaderFormat,
		HeaderFormat:      meta.HeaderFormat,
		ConditionalFormat: meta.ConditionalFormat,
		Width:             meta.Width,
		Border:            meta.Border,
		Hidden:            meta.Hidden,
	}
}

// -----------------------------
// Column matching
// -----------------------------

// matchDirect returns the listed names that are present among the available
// columns, in the order they are listed.
func matchDirect(names []string, available []string) []string {
	present := make(map[string]bool, len(available))
	for _, col := range available {
		present[col] = true
	}
	var matched []string
	for _, name := range names {
		if present[name] {
			matched = append(matched, name)
		}
	}
	return matched
}

// matchTag returns the available columns matching the pattern, in table
// order. With labels, a column must additionally contain one of the labels.
func matchTag(re *regexp.Regexp, labels []string, available []string) []string {
	var matched []string
	for _, col := range available {
		if !re.MatchString(col) {
			continue
		}
		if len(labels) > 0 && !containsAny(col, labels) {
			continue
		}
		matched = append(matched, col)
	}
	return matched
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func columnFormat(meta SectionMeta, key string) string {
	if name, ok := meta.ColumnFormats[key]; ok {
		return name
	}
	return meta.Format
}

func columnConditional(meta SectionMeta, key string) string {
	if name, ok := meta.ColumnConditionalFormats[key]; ok {
		return name
	}
	return ""
}

func withoutColumns(available []string, used []CompiledColumn) []string {
	drop := make(map[string]bool, len(used))
	for _, col := range used {
		drop[col.Name] = true
	}
	kept := available[:0:0]
	for _, col := range available {
		if !drop[col] {
			kept = append(kept, col)
		}
	}
	return kept
}

// -----------------------------
// Log2 evaluation
// -----------------------------

// ShouldLog2 reports whether a column flagged for log2 transformation should
// actually be transformed. Without the heuristic the answer is always true.
// With the heuristic, a column whose numeric values all lie at or below 64 is
// assumed to be log2 transformed already and is left alone; values that do
// not parse as numbers and empty cells are ignored.
func ShouldLog2(values []string, evaluateHeuristic bool) bool {
	if !evaluateHeuristic {
		return true
	}
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		if f > log2MaxTransformedValue {
			return true
		}
	}
	return false
}
