package boq

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads BoQ lines from the first sheet of an XLSX workbook, one
// item per row. A header row is recognised when its first cell is "name",
// "product" or "product name"; columns past the third then become
// "header: value" specifications.
func ReadXLSX(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets in XLSX")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}

	var header []string
	if len(rows) > 0 && isHeader(rows[0]) {
		header = trimCells(rows[0])
		rows = rows[1:]
	}

	var lines []string
	for _, row := range rows {
		cells := trimCells(row)
		if len(cells) == 0 {
			continue
		}
		parts := make([]string, 0, len(cells))
		for i, c := range cells {
			if i >= 3 && c != "" && !strings.Contains(c, ":") && i < len(header) && header[i] != "" {
				c = header[i] + ": " + c
			}
			if i >= 3 && c == "" {
				continue
			}
			parts = append(parts, strings.ReplaceAll(c, ",", " "))
		}
		lines = append(lines, strings.Join(parts, ", "))
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return lines, nil
}

func isHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	switch Normalize(row[0]) {
	case "name", "product", "product name":
		return true
	}
	return false
}

// trimCells trims every cell and drops trailing empty cells.
func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}
