// Package report renders priced BoQ results as a PDF quote.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/pricing"
)

// ErrNoResults is returned when there is nothing to render.
var ErrNoResults = errors.New("report: no boq results")

const (
	pageMargin = 15.0
	rowHeight  = 6.0
)

// WriteQuote writes a PDF with one section per BoQ line. Each price table
// is drawn as a grid of its attribute columns followed by the price.
func WriteQuote(w io.Writer, title string, results []boq.Result) error {
	if len(results) == 0 {
		return ErrNoResults
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	for i, r := range results {
		writeSection(pdf, tr, i+1, r)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("rendering quote: %w", err)
	}
	return pdf.Output(w)
}

func writeSection(pdf *gofpdf.Fpdf, tr func(string) string, n int, r boq.Result) {
	pdf.SetFont("Helvetica", "B", 12)
	heading := r.Line
	if r.Product != nil {
		heading = r.Product.Name
		if r.Product.Brand != "" {
			heading += " - " + r.Product.Brand
		}
	}
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("%d. %s", n, heading)), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	if r.Product != nil {
		pdf.CellFormat(0, 5, tr(fmt.Sprintf("Type: %s   Page: %d", r.Product.Type, r.Product.PageNumber)), "", 1, "L", false, 0, "")
	}
	for _, k := range sortedKeys(r.Specifications) {
		pdf.CellFormat(0, 5, tr(k+": "+r.Specifications[k]), "", 1, "L", false, 0, "")
	}

	switch {
	case r.Status != boq.StatusFound:
		msg := r.Message
		if msg == "" {
			msg = string(r.Status)
		}
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, tr(msg), "", "L", false)
	case r.PriceData.Empty():
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 5, "No price tables found.", "", 1, "L", false, 0, "")
	default:
		for _, t := range r.PriceData.Tables {
			writeTable(pdf, tr, t)
		}
	}
	pdf.Ln(4)
}

func writeTable(pdf *gofpdf.Fpdf, tr func(string) string, t pricing.PriceTable) {
	cols := columns(t.Rows)
	pageW, _ := pdf.GetPageSize()
	width := (pageW - 2*pageMargin) / float64(len(cols)+1)

	pdf.Ln(1)
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(0, 4, fmt.Sprintf("Catalog page %d", t.Page), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, c := range cols {
		pdf.CellFormat(width, rowHeight, tr(c), "1", 0, "L", true, 0, "")
	}
	pdf.CellFormat(width, rowHeight, "Price", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range t.Rows {
		for _, c := range cols {
			v, _ := row.Get(c)
			pdf.CellFormat(width, rowHeight, tr(v), "1", 0, "L", false, 0, "")
		}
		pdf.CellFormat(width, rowHeight, tr(row.Price), "1", 1, "R", false, 0, "")
	}
}

// columns returns the attribute keys of rows in first-seen order, compared
// case-insensitively.
func columns(rows []pricing.Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		for _, a := range r.Attributes {
			k := strings.ToLower(a.Key)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, a.Key)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
