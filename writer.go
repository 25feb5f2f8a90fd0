package xlsxreport

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	// Border weight added to the outer columns of sections with border: true.
	sectionBorderWeight = 2
	// Replacement for empty and non-positive cells of log2 columns.
	blankCell = ""
)

// defaultCellFormat is used for columns without a format reference.
var defaultCellFormat = Format{"num_format": "@"}

// SectionWriter renders compiled table sections to an Excel worksheet. It
// performs no column selection or grouping itself; the layout is taken
// verbatim from the compiled sections.
type SectionWriter struct {
	file   *excelize.File
	styles map[string]int // style cache keyed by the serialized property bag
}

// NewSectionWriter returns a writer that renders into the given workbook.
func NewSectionWriter(f *excelize.File) *SectionWriter {
	return &SectionWriter{file: f, styles: map[string]int{}}
}

// WriteReport compiles the template against the table and writes the report
// to an xlsx file with a single "Report" worksheet.
func WriteReport(path string, tmpl *Template, table *Table) error {
	sections, err := Compile(tmpl, table)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Report"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := NewSectionWriter(f).WriteSections(sheet, tmpl, sections, table); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// WriteSections writes the compiled sections, their headers and the table
// values to the worksheet, applying formats, widths, merges, autofilter and
// frozen panes according to the template settings.
func (w *SectionWriter) WriteSections(sheet string, tmpl *Template, sections []TableSection, table *Table) error {
	settings := tmpl.Settings
	headerRow := 1
	if settings.WriteSupheader {
		headerRow = 2
	}
	dataStart := headerRow + 1
	dataEnd := headerRow + table.Rows()

	startCol := 1
	for _, section := range sections {
		if err := w.writeSection(sheet, tmpl, section, table, startCol, headerRow); err != nil {
			return err
		}
		startCol += len(section.Columns)
	}
	lastCol := startCol - 1
	if lastCol == 0 {
		return nil // empty layout, leave the sheet blank
	}

	if settings.WriteSupheader {
		if err := w.file.SetRowHeight(sheet, 1, pixelsToPoints(settings.SupheaderHeight)); err != nil {
			return err
		}
	}
	if err := w.file.SetRowHeight(sheet, headerRow, pixelsToPoints(settings.HeaderHeight)); err != nil {
		return err
	}
	if settings.AddAutofilter {
		area, err := rangeRef(1, headerRow, lastCol, dataEnd)
		if err != nil {
			return err
		}
		if err := w.file.AutoFilter(sheet, area, nil); err != nil {
			return err
		}
	}
	if settings.FreezeCols > 0 || headerRow > 0 {
		topLeft, err := excelize.CoordinatesToCellName(settings.FreezeCols+1, dataStart)
		if err != nil {
			return err
		}
		err = w.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			XSplit:      settings.FreezeCols,
			YSplit:      headerRow,
			TopLeftCell: topLeft,
			ActivePane:  "bottomRight",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *SectionWriter) writeSection(sheet string, tmpl *Template, section TableSection, table *Table, startCol, headerRow int) error {
	if len(section.Columns) == 0 {
		return nil
	}
	settings := tmpl.Settings
	endCol := startCol + len(section.Columns) - 1
	dataStart := headerRow + 1
	dataEnd := headerRow + table.Rows()

	headerBase := mergeFormats(tmpl.Formats["header"], section.HeaderFormat)
	for i, col := range section.Columns {
		colNum := startCol + i
		cellFormat, ok := tmpl.Formats[col.Format]
		if !ok {
			cellFormat = defaultCellFormat
		}
		cellFormat = mergeFormats(cellFormat, sectionBorders(section, i, len(section.Columns)))
		headerFormat := mergeFormats(headerBase, sectionBorders(section, i, len(section.Columns)))

		if err := w.writeHeader(sheet, colNum, headerRow, col.Header, headerFormat); err != nil {
			return err
		}
		if err := w.writeValues(sheet, colNum, dataStart, table.Values(col.Name), col.Log2, cellFormat); err != nil {
			return err
		}
		if col.ConditionalFormat != "" && table.Rows() > 0 {
			if err := w.applyConditional(sheet, tmpl, col.ConditionalFormat, colNum, colNum, dataStart, dataEnd); err != nil {
				return err
			}
		}
	}

	if section.ConditionalFormat != "" && table.Rows() > 0 {
		if err := w.applyConditional(sheet, tmpl, section.ConditionalFormat, startCol, endCol, dataStart, dataEnd); err != nil {
			return err
		}
	}
	if settings.WriteSupheader && section.Supheader != "" {
		supFormat := mergeFormats(tmpl.Formats["supheader"], section.SupheaderFormat)
		if section.Border {
			supFormat = mergeFormats(supFormat, Format{"left": sectionBorderWeight, "right": sectionBorderWeight})
		}
		if err := w.writeSupheader(sheet, startCol, endCol, section.Supheader, supFormat); err != nil {
			return err
		}
	}

	width := section.Width
	if width == 0 {
		width = settings.ColumnWidth
	}
	startName, err := excelize.ColumnNumberToName(startCol)
	if err != nil {
		return err
	}
	endName, err := excelize.ColumnNumberToName(endCol)
	if err != nil {
		return err
	}
	if err := w.file.SetColWidth(sheet, startName, endName, pixelsToColWidth(width)); err != nil {
		return err
	}
	if section.Hidden {
		if err := w.file.SetColVisible(sheet, startName+":"+endName, false); err != nil {
			return err
		}
	}
	return nil
}

func (w *SectionWriter) writeHeader(sheet string, col, row int, text string, format Format) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := w.file.SetCellValue(sheet, cell, text); err != nil {
		return err
	}
	styleID, err := w.style(format)
	if err != nil {
		return err
	}
	return w.file.SetCellStyle(sheet, cell, cell, styleID)
}

func (w *SectionWriter) writeValues(sheet string, col, startRow int, values []string, log2 bool, format Format) error {
	styleID, err := w.style(format)
	if err != nil {
		return err
	}
	if len(values) > 0 {
		top, err := excelize.CoordinatesToCellName(col, startRow)
		if err != nil {
			return err
		}
		bottom, err := excelize.CoordinatesToCellName(col, startRow+len(values)-1)
		if err != nil {
			return err
		}
		if err := w.file.SetCellStyle(sheet, top, bottom, styleID); err != nil {
			return err
		}
	}
	for i, value := range values {
		cell, err := excelize.CoordinatesToCellName(col, startRow+i)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(sheet, cell, cellValue(value, log2)); err != nil {
			return err
		}
	}
	return nil
}

// cellValue converts a table cell to its spreadsheet value. Numeric strings
// become numbers; on log2 columns positive numbers are transformed and
// everything else becomes a blank cell.
func cellValue(value string, log2 bool) any {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		if log2 {
			return blankCell
		}
		return value
	}
	if log2 {
		if f <= 0 {
			return blankCell
		}
		return math.Log2(f)
	}
	return f
}

func (w *SectionWriter) writeSupheader(sheet string, startCol, endCol int, text string, format Format) error {
	top, err := excelize.CoordinatesToCellName(startCol, 1)
	if err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(endCol, 1)
	if err != nil {
		return err
	}
	if startCol < endCol {
		if err := w.file.MergeCell(sheet, top, end); err != nil {
			return err
		}
	}
	if err := w.file.SetCellValue(sheet, top, text); err != nil {
		return err
	}
	styleID, err := w.style(format)
	if err != nil {
		return err
	}
	return w.file.SetCellStyle(sheet, top, end, styleID)
}

func (w *SectionWriter) applyConditional(sheet string, tmpl *Template, name string, startCol, endCol, startRow, endRow int) error {
	props, ok := tmpl.ConditionalFormats[name]
	if !ok {
		return &UnresolvedFormatError{Format: name, Conditional: true}
	}
	area, err := rangeRef(startCol, startRow, endCol, endRow)
	if err != nil {
		return err
	}
	opts, err := conditionalOptions(props)
	if err != nil {
		return err
	}
	return w.file.SetConditionalFormat(sheet, area, opts)
}

// conditionalOptions translates an opaque conditional format description to
// excelize options. Supported types are 2_color_scale, 3_color_scale and
// cell; the property names follow the xlsxwriter conventions.
func conditionalOptions(props Format) ([]excelize.ConditionalFormatOptions, error) {
	opt := excelize.ConditionalFormatOptions{
		Type:     asString(props["type"]),
		Criteria: asString(props["criteria"]),
		Value:    asString(props["value"]),
		MinType:  asString(props["min_type"]),
		MidType:  asString(props["mid_type"]),
		MaxType:  asString(props["max_type"]),
		MinValue: asString(props["min_value"]),
		MidValue: asString(props["mid_value"]),
		MaxValue: asString(props["max_value"]),
		MinColor: asString(props["min_color"]),
		MidColor: asString(props["mid_color"]),
		MaxColor: asString(props["max_color"]),
	}
	switch opt.Type {
	case "2_color_scale":
		if opt.MinType == "" {
			opt.MinType = "min"
		}
		if opt.MaxType == "" {
			opt.MaxType = "max"
		}
	case "3_color_scale":
		if opt.MinType == "" {
			opt.MinType = "min"
		}
		if opt.MidType == "" {
			opt.MidType = "percentile"
		}
		if opt.MaxType == "" {
			opt.MaxType = "max"
		}
	case "cell":
	case "":
		return nil, fmt.Errorf("conditional format: missing \"type\" property")
	default:
		return nil, fmt.Errorf("conditional format: unsupported type %q", opt.Type)
	}
	return []excelize.ConditionalFormatOptions{opt}, nil
}

// mergeFormats overlays format property bags left to right; later properties
// win. The inputs are never modified and nil bags are skipped.
func mergeFormats(formats ...Format) Format {
	merged := Format{}
	for _, props := range formats {
		for k, v := range props {
			merged[k] = v
		}
	}
	return merged
}

// sectionBorders returns the border overlay for the i-th of n columns of a
// bordered section: the outer columns get a left or right border.
func sectionBorders(section TableSection, i, n int) Format {
	if !section.Border {
		return nil
	}
	borders := Format{}
	if i == 0 {
		borders["left"] = sectionBorderWeight
	}
	if i == n-1 {
		borders["right"] = sectionBorderWeight
	}
	return borders
}

// -----------------------------
// Style translation
// -----------------------------

// style returns a cached workbook style for the format property bag.
func (w *SectionWriter) style(props Format) (int, error) {
	key := formatKey(props)
	if id, ok := w.styles[key]; ok {
		return id, nil
	}
	style, err := styleFromFormat(props)
	if err != nil {
		return 0, err
	}
	id, err := w.file.NewStyle(style)
	if err != nil {
		return 0, err
	}
	w.styles[key] = id
	return id, nil
}

func formatKey(props Format) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, props[k])
	}
	return b.String()
}

// styleFromFormat translates an xlsxwriter style property bag into an
// excelize style. Unknown properties are rejected so that template typos
// surface instead of silently producing unformatted cells.
func styleFromFormat(props Format) (*excelize.Style, error) {
	style := &excelize.Style{}
	font := excelize.Font{}
	alignment := excelize.Alignment{}
	hasFont, hasAlignment := false, false

	for key, value := range props {
		switch key {
		case "bold":
			font.Bold = asBool(value)
			hasFont = true
		case "italic":
			font.Italic = asBool(value)
			hasFont = true
		case "font_size":
			font.Size = asFloat(value)
			hasFont = true
		case "font_color":
			font.Color = asString(value)
			hasFont = true
		case "align":
			alignment.Horizontal = asString(value)
			hasAlignment = true
		case "valign":
			vertical := asString(value)
			if vertical == "vcenter" {
				vertical = "center"
			}
			alignment.Vertical = vertical
			hasAlignment = true
		case "text_wrap":
			alignment.WrapText = asBool(value)
			hasAlignment = true
		case "rotation":
			alignment.TextRotation = int(asFloat(value))
			hasAlignment = true
		case "num_format":
			numFmt := asString(value)
			style.CustomNumFmt = &numFmt
		case "bg_color":
			style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{asString(value)}}
		case "left", "right", "top", "bottom":
			style.Border = append(style.Border, excelize.Border{
				Type:  key,
				Style: int(asFloat(value)),
				Color: "000000",
			})
		default:
			return nil, fmt.Errorf("format property %q is not supported", key)
		}
	}
	if hasFont {
		style.Font = &font
	}
	if hasAlignment {
		style.Alignment = &alignment
	}
	return style, nil
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

// pixelsToColWidth converts a pixel width to Excel column width units.
func pixelsToColWidth(px float64) float64 {
	if px <= 5 {
		return 1
	}
	return (px - 5) / 7.0
}

// pixelsToPoints converts a pixel row height to points.
func pixelsToPoints(px float64) float64 {
	return px * 0.75
}

func rangeRef(startCol, startRow, endCol, endRow int) (string, error) {
	top, err := excelize.CoordinatesToCellName(startCol, startRow)
	if err != nil {
		return "", err
	}
	bottom, err := excelize.CoordinatesToCellName(endCol, endRow)
	if err != nil {
		return "", err
	}
	return top + ":" + bottom, nil
}
