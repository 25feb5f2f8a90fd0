// Package xlsxreport generates formatted Excel reports from tabular data.
// A YAML template describes which columns of a table to include, how to
// group them into visual sections, and how each section is formatted. The
// template is compiled against the columns actually present in a table,
// and the resulting sections are written to an xlsx file.
package xlsxreport

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Format is an opaque bag of cell format properties. The keys follow the
// xlsxwriter property names (bold, align, num_format, bg_color, ...) and are
// translated by the SectionWriter; the compiler passes them through untouched.
type Format map[string]any

// Settings holds the template-wide defaults and flags.
type Settings struct {
	SupheaderHeight            float64 // supheader row height in pixels
	HeaderHeight               float64 // header row height in pixels
	ColumnWidth                float64 // default column width in pixels
	Log2Tag                    string  // appended to headers of log2 transformed columns
	AppendRemainingColumns     bool    // add a trailing hidden section with unmatched columns
	WriteSupheader             bool    // write a merged supheader row above the headers
	EvaluateLog2Transformation bool    // skip log2 for columns that already look transformed
	RemoveDuplicateColumns     bool    // a column consumed by one section is unavailable to later ones
	AddAutofilter              bool    // add an autofilter to the header row
	FreezeCols                 int     // number of leftmost columns to freeze
}

// DefaultSettings returns the settings used when a template defines none.
func DefaultSettings() Settings {
	return Settings{
		SupheaderHeight:        20,
		HeaderHeight:           20,
		ColumnWidth:            64,
		RemoveDuplicateColumns: true,
		AddAutofilter:          true,
		FreezeCols:             1,
	}
}

// SectionMeta carries the display metadata common to all section kinds.
type SectionMeta struct {
	Name                     string            // section name, used in error messages
	Format                   string            // default format reference for all columns
	ColumnFormats            map[string]string // per-column format reference overrides
	ConditionalFormat        string            // conditional format applied to the whole section
	ColumnConditionalFormats map[string]string // per-column conditional format references
	HeaderFormat             Format            // overlay on the template "header" format
	Supheader                string
	SupheaderFormat          Format // overlay on the template "supheader" format
	Width                    float64
	Border                   bool
	Hidden                   bool
}

// Section is one template rule describing a block of report columns. It is a
// closed sum type: the concrete kinds are ColumnSection, TagSection and
// ComparisonSection, and the compiler matches them exhaustively.
type Section interface {
	meta() SectionMeta
}

// ColumnSection selects columns by listing their names. Listed names absent
// from the table are silently dropped.
type ColumnSection struct {
	Meta    SectionMeta
	Columns []string
}

// TagSection selects columns whose name matches a regular expression. If
// Labels is non-empty, a matching name must additionally contain one of the
// labels as an exact substring.
type TagSection struct {
	Meta      SectionMeta
	Tag       string // regular expression, anchoring is up to the template author
	Labels    []string
	RemoveTag bool // strip the first pattern match from the column header
	Log2      bool // flag the section columns for log2 transformation

	re *regexp.Regexp // compiled during template validation
}

// ComparisonSection selects columns that hold pairwise comparisons between
// conditions, such as "Ratio exp1 vs exp2" and "P-value exp1 vs exp2".
// Column names must be built as "{type label}{condition string}" where the
// condition string contains the separator. Columns sharing the same condition
// string end up in one compiled section per comparison.
type ComparisonSection struct {
	Meta             SectionMeta
	Separator        string   // substring identifying comparison columns, e.g. " vs "
	TypeLabels       []string // value kinds in display order, e.g. "Ratio", "P-value"
	ReplaceSeparator string   // replaces the separator in the supheader
	RemoveSeparator  bool     // drop the separator from the supheader
}

func (s *ColumnSection) meta() SectionMeta     { return s.Meta }
func (s *TagSection) meta() SectionMeta        { return s.Meta }
func (s *ComparisonSection) meta() SectionMeta { return s.Meta }

// regex returns the compiled tag pattern, compiling it on the fly for
// sections that were constructed programmatically and never validated.
func (s *TagSection) regex() (*regexp.Regexp, error) {
	if s.re != nil {
		return s.re, nil
	}
	re, err := regexp.Compile(s.Tag)
	if err != nil {
		return nil, &InvalidPatternError{Section: s.Meta.Name, Pattern: s.Tag, Err: err}
	}
	return re, nil
}

// Template is the in-memory representation of a report template document.
// It is immutable after loading; one template can compile any number of
// tables, also concurrently.
type Template struct {
	Sections           []Section
	Formats            map[string]Format
	ConditionalFormats map[string]Format
	Settings           Settings
}

// -----------------------------
// Errors
// -----------------------------

// InvalidPatternError reports a tag section whose pattern does not compile.
type InvalidPatternError struct {
	Section string
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("section %q: invalid tag pattern %q: %v", e.Section, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// UnresolvedFormatError reports a section referencing a format or conditional
// format name that the template does not define.
type UnresolvedFormatError struct {
	Section     string
	Format      string
	Conditional bool
}

func (e *UnresolvedFormatError) Error() string {
	kind := "format"
	if e.Conditional {
		kind = "conditional format"
	}
	return fmt.Sprintf("section %q: %s %q is not defined in the template", e.Section, kind, e.Format)
}

// AmbiguousTypeLabelError reports a comparison column that matches more than
// one type label prefix, making the comparison key non-deterministic.
type AmbiguousTypeLabelError struct {
	Section string
	Column  string
	Labels  []string
}

func (e *AmbiguousTypeLabelError) Error() string {
	return fmt.Sprintf("section %q: column %q matches multiple type labels %q", e.Section, e.Column, e.Labels)
}

// -----------------------------
// YAML loading
// -----------------------------

// rawSection mirrors the YAML section schema. The concrete section kind is
// identified from the keys that are present.
type rawSection struct {
	Columns                 []string          `yaml:"columns"`
	Tag                     string            `yaml:"tag"`
	Labels                  []string          `yaml:"labels"`
	RemoveTag               bool              `yaml:"remove_tag"`
	Log2                    bool              `yaml:"log2"`
	ComparisonGroup         bool              `yaml:"comparison_group"`
	ReplaceComparisonTag    string            `yaml:"replace_comparison_tag"`
	Format                  string            `yaml:"format"`
	ColumnFormat            map[string]string `yaml:"column_format"`
	ConditionalFormat       string            `yaml:"conditional_format"`
	ColumnConditionalFormat map[string]string `yaml:"column_conditional_format"`
	HeaderFormat            Format            `yaml:"header_format"`
	Supheader               string            `yaml:"supheader"`
	SupheaderFormat         Format            `yaml:"supheader_format"`
	Width                   float64           `yaml:"width"`
	Border                  bool              `yaml:"border"`
	Hidden                  bool              `yaml:"hidden"`
}

type rawSettings struct {
	SupheaderHeight            *float64 `yaml:"supheader_height"`
	HeaderHeight               *float64 `yaml:"header_height"`
	ColumnWidth                *float64 `yaml:"column_width"`
	Log2Tag                    *string  `yaml:"log2_tag"`
	AppendRemainingColumns     *bool    `yaml:"append_remaining_columns"`
	WriteSupheader             *bool    `yaml:"write_supheader"`
	EvaluateLog2Transformation *bool    `yaml:"evaluate_log2_transformation"`
	RemoveDuplicateColumns     *bool    `yaml:"remove_duplicate_columns"`
	AddAutofilter              *bool    `yaml:"add_autofilter"`
	FreezeCols                 *int     `yaml:"freeze_cols"`
}

type rawTemplate struct {
	Sections           yaml.Node         `yaml:"sections"` // parsed manually to keep document order
	Formats            map[string]Format `yaml:"formats"`
	ConditionalFormats map[string]Format `yaml:"conditional_formats"`
	Settings           rawSettings       `yaml:"settings"`
}

// LoadTemplate reads and validates a YAML template file. All structural
// problems of the document are collected and reported as one joined error.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := ParseTemplate(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return t, nil
}

// ParseTemplate parses and validates a YAML template document.
func ParseTemplate(data []byte) (*Template, error) {
	var raw rawTemplate
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	t := &Template{
		Formats:            raw.Formats,
		ConditionalFormats: raw.ConditionalFormats,
		Settings:           applySettings(raw.Settings),
	}
	if t.Formats == nil {
		t.Formats = map[string]Format{}
	}
	if t.ConditionalFormats == nil {
		t.ConditionalFormats = map[string]Format{}
	}

	var errs []error
	sections, sectionErrs := parseSections(&raw.Sections)
	t.Sections = sections
	errs = append(errs, sectionErrs...)
	errs = append(errs, t.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// Validate checks rule semantics of a programmatically built template:
// tag patterns must compile and all format references must resolve.
// Templates returned by LoadTemplate and ParseTemplate are already validated.
func (t *Template) Validate() error {
	if errs := t.validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (t *Template) validate() []error {
	var errs []error
	for _, sec := range t.Sections {
		if ts, ok := sec.(*TagSection); ok {
			re, err := regexp.Compile(ts.Tag)
			if err != nil {
				errs = append(errs, &InvalidPatternError{Section: ts.Meta.Name, Pattern: ts.Tag, Err: err})
				continue
			}
			ts.re = re
		}
		errs = append(errs, t.checkFormatRefs(sec.meta())...)
	}
	return errs
}

func (t *Template) checkFormatRefs(meta SectionMeta) []error {
	var errs []error
	check := func(name string, conditional bool) {
		if name == "" {
			return
		}
		pool := t.Formats
		if conditional {
			pool = t.ConditionalFormats
		}
		if _, ok := pool[name]; !ok {
			errs = append(errs, &UnresolvedFormatError{Section: meta.Name, Format: name, Conditional: conditional})
		}
	}
	check(meta.Format, false)
	for _, name := range sortedValues(meta.ColumnFormats) {
		check(name, false)
	}
	check(meta.ConditionalFormat, true)
	for _, name := range sortedValues(meta.ColumnConditionalFormats) {
		check(name, true)
	}
	return errs
}

// sortedValues returns the map values ordered by key, so that repeated
// validation of the same template reports errors in a stable order.
func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return values
}

func parseSections(node *yaml.Node) ([]Section, []error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, []error{errors.New("sections: must be a mapping of section names to section definitions")}
	}

	var sections []Section
	var errs []error
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var raw rawSection
		if err := node.Content[i+1].Decode(&raw); err != nil {
			errs = append(errs, fmt.Errorf("section %q: %w", name, err))
			continue
		}
		sec, err := buildSection(name, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sections = append(sections, sec)
	}
	return sections, errs
}

// buildSection identifies the section kind from the keys present in the
// document. The three kinds are mutually exclusive; a definition fitting
// none of them is a structural error.
func buildSection(name string, raw rawSection) (Section, error) {
	meta := SectionMeta{
		Name:                     name,
		Format:                   raw.Format,
		ColumnFormats:            raw.ColumnFormat,
		ConditionalFormat:        raw.ConditionalFormat,
		ColumnConditionalFormats: raw.ColumnConditionalFormat,
		HeaderFormat:             raw.HeaderFormat,
		Supheader:                raw.Supheader,
		SupheaderFormat:          raw.SupheaderFormat,
		Width:                    raw.Width,
		Border:                   raw.Border,
		Hidden:                   raw.Hidden,
	}
	hasColumns := raw.Columns != nil
	hasTag := raw.Tag != ""

	switch {
	case raw.ComparisonGroup && hasTag && hasColumns:
		return &ComparisonSection{
			Meta:             meta,
			Separator:        raw.Tag,
			TypeLabels:       raw.Columns,
			ReplaceSeparator: raw.ReplaceComparisonTag,
			RemoveSeparator:  raw.RemoveTag,
		}, nil
	case hasTag && !hasColumns && !raw.ComparisonGroup:
		return &TagSection{
			Meta:      meta,
			Tag:       raw.Tag,
			Labels:    raw.Labels,
			RemoveTag: raw.RemoveTag,
			Log2:      raw.Log2,
		}, nil
	case hasColumns && !hasTag && !raw.ComparisonGroup:
		if raw.Labels != nil {
			return nil, fmt.Errorf("section %q: \"labels\" is only valid together with \"tag\"", name)
		}
		return &ColumnSection{Meta: meta, Columns: raw.Columns}, nil
	}
	return nil, fmt.Errorf("section %q: does not match any section kind, define either \"columns\", \"tag\", or a comparison group", name)
}

func applySettings(raw rawSettings) Settings {
	s := DefaultSettings()
	if raw.SupheaderHeight != nil {
		s.SupheaderHeight = *raw.SupheaderHeight
	}
	if raw.HeaderHeight != nil {
		s.HeaderHeight = *raw.HeaderHeight
	}
	if raw.ColumnWidth != nil {
		s.ColumnWidth = *raw.ColumnWidth
	}
	if raw.Log2Tag != nil {
		s.Log2Tag = *raw.Log2Tag
	}
	if raw.AppendRemainingColumns != nil {
		s.AppendRemainingColumns = *raw.AppendRemainingColumns
	}
	if raw.WriteSupheader != nil {
		s.WriteSupheader = *raw.WriteSupheader
	}
	if raw.EvaluateLog2Transformation != nil {
		s.EvaluateLog2Transformation = *raw.EvaluateLog2Transformation
	}
	if raw.RemoveDuplicateColumns != nil {
		s.RemoveDuplicateColumns = *raw.RemoveDuplicateColumns
	}
	if raw.AddAutofilter != nil {
		s.AddAutofilter = *raw.AddAutofilter
	}
	if raw.FreezeCols != nil {
		s.FreezeCols = *raw.FreezeCols
	}
	return s
}
