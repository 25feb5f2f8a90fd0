package xlsxreport

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Table is a column-oriented view of a delimited text file. The first record
// provides the column names; all cells are kept as strings and interpreted
// as numbers only when a value parses as one.
type Table struct {
	columns []string
	cells   map[string][]string
	rows    int
}

// NewTable builds a table from ordered column names and their values.
// Columns shorter than the longest one are padded with empty cells.
func NewTable(columns []string, cells map[string][]string) (*Table, error) {
	t := &Table{columns: columns, cells: make(map[string][]string, len(columns))}
	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		if seen[name] {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
		values := cells[name]
		t.cells[name] = values
		if len(values) > t.rows {
			t.rows = len(values)
		}
	}
	for _, name := range columns {
		for len(t.cells[name]) < t.rows {
			t.cells[name] = append(t.cells[name], "")
		}
	}
	return t, nil
}

// ReadCSV reads a delimited file into a Table. Short records are padded with
// empty cells, overlong records are an error.
func ReadCSV(r io.Reader, sep rune) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = sep
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty input, expected a header record")
	}
	if err != nil {
		return nil, err
	}

	cells := make(map[string][]string, len(header))
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("record %d has %d fields, header has %d", row+1, len(record), len(header))
		}
		for i, name := range header {
			value := ""
			if i < len(record) {
				value = record[i]
			}
			cells[name] = append(cells[name], value)
		}
		row++
	}
	return NewTable(header, cells)
}

// OpenCSV reads a delimited file from disk, see ReadCSV.
func OpenCSV(path string, sep rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCSV(f, sep)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Columns returns the column names in file order.
func (t *Table) Columns() []string {
	columns := make([]string, len(t.columns))
	copy(columns, t.columns)
	return columns
}

// Values returns the cells of a column, or nil for an unknown column.
func (t *Table) Values(column string) []string {
	return t.cells[column]
}

// Rows returns the number of data rows.
func (t *Table) Rows() int { return t.rows }
