package ingest

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX turns every non-empty sheet of a workbook into a Table named after
// the sheet. The first row of each sheet is the header.
func ReadXLSX(path string) ([]*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	var tables []*Table
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			cells := rowToStrings(row)
			if isBlank(cells) {
				continue
			}
			rows = append(rows, cells)
		}
		if len(rows) == 0 {
			continue
		}
		tables = append(tables, NewTable(sheet.Name, rows[0], rows[1:]))
	}
	return tables, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
