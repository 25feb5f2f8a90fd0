package xlsxreport_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"github.com/msreport/xlsxreport"
)

// CompileSuite covers the template compilation engine: column matching,
// section resolution, deduplication and the log2 evaluation.
type CompileSuite struct {
	suite.Suite
}

func TestCompileSuite(t *testing.T) {
	suite.Run(t, new(CompileSuite))
}

// table builds a table where every listed column has one empty cell.
func (s *CompileSuite) table(columns ...string) *xlsxreport.Table {
	cells := map[string][]string{}
	for _, col := range columns {
		cells[col] = []string{""}
	}
	table, err := xlsxreport.NewTable(columns, cells)
	s.Require().NoError(err)
	return table
}

func (s *CompileSuite) template(sections ...xlsxreport.Section) *xlsxreport.Template {
	return &xlsxreport.Template{
		Sections: sections,
		Formats: map[string]xlsxreport.Format{
			"str":   {"align": "left"},
			"float": {"num_format": "0.00"},
		},
		ConditionalFormats: map[string]xlsxreport.Format{
			"intensity": {"type": "2_color_scale"},
			"pvalue":    {"type": "2_color_scale"},
		},
		Settings: xlsxreport.DefaultSettings(),
	}
}

func columnNames(section xlsxreport.TableSection) []string {
	names := make([]string, len(section.Columns))
	for i, col := range section.Columns {
		names[i] = col.Name
	}
	return names
}

// -----------------------------
// Column sections
// -----------------------------

func (s *CompileSuite) TestColumnSectionKeepsListOrderAndDropsAbsent() {
	tmpl := s.template(&xlsxreport.ColumnSection{
		Columns: []string{"C", "Missing", "A"},
	})
	sections, err := xlsxreport.Compile(tmpl, s.table("A", "B", "C"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal([]string{"C", "A"}, columnNames(sections[0]))
}

func (s *CompileSuite) TestColumnSectionFormatsAndOverrides() {
	tmpl := s.template(&xlsxreport.ColumnSection{
		Meta: xlsxreport.SectionMeta{
			Format:        "str",
			ColumnFormats: map[string]string{"B": "float"},
		},
		Columns: []string{"A", "B"},
	})
	sections, err := xlsxreport.Compile(tmpl, s.table("A", "B"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal("str", sections[0].Columns[0].Format)
	s.Assert().Equal("float", sections[0].Columns[1].Format)
}

func (s *CompileSuite) TestSectionMatchingNothingIsDropped() {
	tmpl := s.template(
		&xlsxreport.ColumnSection{Columns: []string{"Missing"}},
		&xlsxreport.ColumnSection{Columns: []string{"A"}},
	)
	sections, err := xlsxreport.Compile(tmpl, s.table("A"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal([]string{"A"}, columnNames(sections[0]))
}

// -----------------------------
// Tag sections
// -----------------------------

func (s *CompileSuite) TestTagSectionMatchesInTableOrder() {
	tmpl := s.template(&xlsxreport.TagSection{Tag: "^Intensity"})
	table := s.table("Intensity B", "Gene names", "Intensity A")
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal([]string{"Intensity B", "Intensity A"}, columnNames(sections[0]))
}

func (s *CompileSuite) TestTagSectionLabelFilter() {
	tmpl := s.template(&xlsxreport.TagSection{
		Tag:    "^Intensity",
		Labels: []string{"ctrl", "treat"},
	})
	table := s.table("Intensity ctrl", "Intensity pool", "Intensity treat")
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal([]string{"Intensity ctrl", "Intensity treat"}, columnNames(sections[0]))
}

func (s *CompileSuite) TestTagSectionRemoveTagStripsFirstMatch() {
	tmpl := s.template(&xlsxreport.TagSection{Tag: "Intensity", RemoveTag: true})
	sections, err := xlsxreport.Compile(tmpl, s.table("Intensity sample Intensity"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal("sample Intensity", sections[0].Columns[0].Header)
}

func (s *CompileSuite) TestTagSectionLog2TagAppendedToHeaders() {
	tmpl := s.template(&xlsxreport.TagSection{
		Meta: xlsxreport.SectionMeta{Supheader: "Intensity"},
		Tag:  "^Intensity",
		Log2: true,
	})
	tmpl.Settings.Log2Tag = "[log2]"
	sections, err := xlsxreport.Compile(tmpl, s.table("Intensity A"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal("Intensity A [log2]", sections[0].Columns[0].Header)
	s.Assert().Equal("Intensity [log2]", sections[0].Supheader)
}

func (s *CompileSuite) TestSingleColumnSectionKeepsSupheader() {
	tmpl := s.template(&xlsxreport.TagSection{
		Meta: xlsxreport.SectionMeta{Supheader: "Quantified"},
		Tag:  "^Intensity",
	})
	sections, err := xlsxreport.Compile(tmpl, s.table("Intensity A", "Gene names"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Require().Len(sections[0].Columns, 1)
	s.Assert().Equal("Quantified", sections[0].Supheader)
}

func (s *CompileSuite) TestInvalidTagPatternFailsCompilation() {
	tmpl := s.template(&xlsxreport.TagSection{Tag: "[invalid"})
	_, err := xlsxreport.Compile(tmpl, s.table("A"))
	var patternErr *xlsxreport.InvalidPatternError
	s.Require().ErrorAs(err, &patternErr)
	s.Assert().Equal("[invalid", patternErr.Pattern)
}

// -----------------------------
// Comparison sections
// -----------------------------

func comparisonSection() *xlsxreport.ComparisonSection {
	return &xlsxreport.ComparisonSection{
		Meta:       xlsxreport.SectionMeta{Name: "comparisons"},
		Separator:  " vs. ",
		TypeLabels: []string{"Ratio", "P-value"},
	}
}

func (s *CompileSuite) TestComparisonGroupsByExactKey() {
	tmpl := s.template(comparisonSection())
	table := s.table(
		"Ratio Control vs. Condition",
		"P-value Control vs. Condition",
		"Ratio Control vs. Another condition",
	)
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 2)
	s.Assert().Equal(
		[]string{"Ratio Control vs. Condition", "P-value Control vs. Condition"},
		columnNames(sections[0]),
	)
	s.Assert().Equal([]string{"Ratio Control vs. Another condition"}, columnNames(sections[1]))
	s.Assert().Equal("Control vs. Condition", sections[0].Supheader)
	s.Assert().Equal("Control vs. Another condition", sections[1].Supheader)
}

func (s *CompileSuite) TestComparisonKeysAreNeverMergedBySubstring() {
	section := comparisonSection()
	section.Separator = " vs "
	tmpl := s.template(section)
	// One comparison key is a textual substring of the other; they still
	// form two distinct sections.
	table := s.table("Ratio X vs Y", "Ratio ZX vs Y")
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 2)
	s.Assert().Equal([]string{"Ratio X vs Y"}, columnNames(sections[0]))
	s.Assert().Equal([]string{"Ratio ZX vs Y"}, columnNames(sections[1]))
}

func (s *CompileSuite) TestComparisonColumnsOrderedByTypeLabel() {
	tmpl := s.template(comparisonSection())
	table := s.table("P-value A vs. B", "Gene names", "Ratio A vs. B")
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal([]string{"Ratio A vs. B", "P-value A vs. B"}, columnNames(sections[0]))
	s.Assert().Equal("Ratio", sections[0].Columns[0].Header)
	s.Assert().Equal("P-value", sections[0].Columns[1].Header)
}

func (s *CompileSuite) TestComparisonColumnWithoutTypeLabelIsIgnored() {
	tmpl := s.template(comparisonSection())
	table := s.table("Ratio A vs. B", "Significant A vs. B")
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal([]string{"Ratio A vs. B"}, columnNames(sections[0]))
}

func (s *CompileSuite) TestComparisonSupheaderSeparatorRendering() {
	replace := comparisonSection()
	replace.ReplaceSeparator = " / "
	tmpl := s.template(replace)
	sections, err := xlsxreport.Compile(tmpl, s.table("Ratio A vs. B"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal("A / B", sections[0].Supheader)

	remove := comparisonSection()
	remove.RemoveSeparator = true
	tmpl = s.template(remove)
	sections, err = xlsxreport.Compile(tmpl, s.table("Ratio A vs. B"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal("A B", sections[0].Supheader)
}

func (s *CompileSuite) TestComparisonFormatsKeyedByTypeLabel() {
	section := comparisonSection()
	section.Meta.Format = "str"
	section.Meta.ColumnFormats = map[string]string{"Ratio": "float"}
	section.Meta.ColumnConditionalFormats = map[string]string{"P-value": "pvalue"}
	tmpl := s.template(section)
	sections, err := xlsxreport.Compile(tmpl, s.table("Ratio A vs. B", "P-value A vs. B"))
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().Equal("float", sections[0].Columns[0].Format)
	s.Assert().Equal("str", sections[0].Columns[1].Format)
	s.Assert().Equal("", sections[0].Columns[0].ConditionalFormat)
	s.Assert().Equal("pvalue", sections[0].Columns[1].ConditionalFormat)
}

func (s *CompileSuite) TestComparisonAmbiguousTypeLabelIsRejected() {
	section := comparisonSection()
	section.TypeLabels = []string{"Ratio", "Ratio normalized"}
	tmpl := s.template(section)
	_, err := xlsxreport.Compile(tmpl, s.table("Ratio normalized A vs. B"))
	var ambiguous *xlsxreport.AmbiguousTypeLabelError
	s.Require().ErrorAs(err, &ambiguous)
	s.Assert().Equal("Ratio normalized A vs. B", ambiguous.Column)
	s.Assert().Equal([]string{"Ratio", "Ratio normalized"}, ambiguous.Labels)
}

// -----------------------------
// Assembly
// -----------------------------

func (s *CompileSuite) TestDeduplicationAcrossSectionKinds() {
	tmpl := s.template(
		&xlsxreport.ColumnSection{Columns: []string{"Intensity A"}},
		&xlsxreport.TagSection{Tag: "^Intensity"},
	)
	table := s.table("Intensity A", "Intensity B")
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 2)
	s.Assert().Equal([]string{"Intensity A"}, columnNames(sections[0]))
	s.Assert().Equal([]string{"Intensity B"}, columnNames(sections[1]))
}

func (s *CompileSuite) TestDeduplicationDisabledAllowsReuse() {
	tmpl := s.template(
		&xlsxreport.ColumnSection{Columns: []string{"Intensity A"}},
		&xlsxreport.TagSection{Tag: "^Intensity"},
	)
	tmpl.Settings.RemoveDuplicateColumns = false
	table := s.table("Intensity A", "Intensity B")
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 2)
	s.Assert().Equal([]string{"Intensity A"}, columnNames(sections[0]))
	s.Assert().Equal([]string{"Intensity A", "Intensity B"}, columnNames(sections[1]))
}

func (s *CompileSuite) TestRemainderSectionCollectsUnmatchedColumns() {
	tmpl := s.template(&xlsxreport.ColumnSection{Columns: []string{"B"}})
	tmpl.Settings.AppendRemainingColumns = true
	sections, err := xlsxreport.Compile(tmpl, s.table("A", "B", "C"))
	s.Require().NoError(err)
	s.Require().Len(sections, 2)
	remainder := sections[1]
	s.Assert().Equal([]string{"A", "C"}, columnNames(remainder))
	s.Assert().True(remainder.Hidden)
	s.Assert().Equal("", remainder.Supheader)
	s.Assert().Equal("", remainder.Columns[0].Format)
}

func (s *CompileSuite) TestCoverageInvariant() {
	tmpl := s.template(
		&xlsxreport.ColumnSection{Columns: []string{"Gene names"}},
		&xlsxreport.TagSection{Tag: "^Intensity"},
	)
	tmpl.Settings.AppendRemainingColumns = true
	columns := []string{"Gene names", "Intensity A", "Score", "Intensity B", "Peptides"}
	sections, err := xlsxreport.Compile(tmpl, s.table(columns...))
	s.Require().NoError(err)

	seen := map[string]int{}
	for _, section := range sections {
		for _, col := range section.Columns {
			seen[col.Name]++
		}
	}
	for _, col := range columns {
		s.Assert().Equal(1, seen[col], "column %q must appear in exactly one section", col)
	}
}

func (s *CompileSuite) TestCompileIsDeterministic() {
	tmpl := s.template(
		&xlsxreport.TagSection{Tag: "^Intensity", RemoveTag: true},
		comparisonSection(),
		&xlsxreport.ColumnSection{Columns: []string{"Gene names"}},
	)
	tmpl.Settings.AppendRemainingColumns = true
	table := s.table(
		"Gene names", "Intensity A", "Ratio A vs. B", "P-value A vs. B", "Score",
	)
	first, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	second, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Assert().Empty(cmp.Diff(first, second))
}

func (s *CompileSuite) TestEmptyTemplateYieldsEmptyLayout() {
	tmpl := s.template()
	sections, err := xlsxreport.Compile(tmpl, s.table("A", "B"))
	s.Require().NoError(err)
	s.Assert().Empty(sections)
}

// -----------------------------
// Log2 evaluation
// -----------------------------

func (s *CompileSuite) TestShouldLog2Boundary() {
	s.Assert().False(xlsxreport.ShouldLog2([]string{"12.5", "64", "3"}, true))
	s.Assert().True(xlsxreport.ShouldLog2([]string{"12.5", "64.1"}, true))
	s.Assert().True(xlsxreport.ShouldLog2([]string{"1e9", "2e6"}, true))
	s.Assert().True(xlsxreport.ShouldLog2([]string{"12.5", "64"}, false))
}

func (s *CompileSuite) TestShouldLog2IgnoresNonNumericValues() {
	s.Assert().False(xlsxreport.ShouldLog2([]string{"n.a.", "", "32"}, true))
	s.Assert().True(xlsxreport.ShouldLog2([]string{"n.a.", "", "128"}, true))
	s.Assert().False(xlsxreport.ShouldLog2(nil, true))
}

func (s *CompileSuite) TestCompileAppliesLog2Heuristic() {
	tmpl := s.template(&xlsxreport.TagSection{Tag: "^Intensity", Log2: true})
	tmpl.Settings.EvaluateLog2Transformation = true
	table, err := xlsxreport.NewTable(
		[]string{"Intensity raw", "Intensity logged"},
		map[string][]string{
			"Intensity raw":    {"1200000", "54000"},
			"Intensity logged": {"20.4", "15.7"},
		},
	)
	s.Require().NoError(err)
	sections, err := xlsxreport.Compile(tmpl, table)
	s.Require().NoError(err)
	s.Require().Len(sections, 1)
	s.Assert().True(sections[0].Columns[0].Log2)
	s.Assert().False(sections[0].Columns[1].Log2)
}

func (s *CompileSuite) TestCompileErrorsLeaveNoPartialResult() {
	tmpl := s.template(
		&xlsxreport.ColumnSection{Columns: []string{"A"}},
		&xlsxreport.TagSection{Tag: "[invalid"},
	)
	sections, err := xlsxreport.Compile(tmpl, s.table("A"))
	s.Require().Error(err)
	s.Assert().Nil(sections)
	s.Assert().True(errors.As(err, new(*xlsxreport.InvalidPatternError)))
}
