package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/ingest"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/store"
)

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(header)
	return t
}

func renderImport(w io.Writer, res *ingest.Result) {
	t := newTable(w, table.Row{"ID", "Catalog", "Document", "Products", "Located"})
	for _, c := range res.Catalogs {
		t.AppendRow(table.Row{c.ID, c.Name, c.DocumentRef, c.Products, c.Located})
	}
	t.Render()

	if len(res.Skipped) == 0 {
		return
	}
	s := newTable(w, table.Row{"#", "Skipped product", "Reason"})
	for _, sk := range res.Skipped {
		s.AppendRow(table.Row{sk.Index, sk.Name, sk.Reason})
	}
	s.Render()
}

func renderCatalogs(w io.Writer, cats []store.Catalog) {
	t := newTable(w, table.Row{"ID", "Name", "Document", "Pages", "Updated"})
	for _, c := range cats {
		t.AppendRow(table.Row{c.ID, c.Name, c.DocumentRef, c.PageCount, c.UpdatedAt})
	}
	t.Render()
}

func renderProducts(w io.Writer, products []store.Product) {
	t := newTable(w, table.Row{"ID", "Catalog", "Name", "Brand", "Type", "Page", "Y", "Prices"})
	for _, p := range products {
		t.AppendRow(table.Row{p.ID, p.CatalogID, p.Name, p.Brand, p.Type, p.PageNumber, fmt.Sprintf("%.1f", p.Y), p.PriceState})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(products)})
	t.Render()
}

func renderPriceData(w io.Writer, data *pricing.PriceData) {
	if data.Empty() {
		fmt.Fprintln(w, "no price tables found")
		return
	}
	for _, pt := range data.Tables {
		fmt.Fprintf(w, "page %d, bbox %s\n", pt.Page, pt.BBox)
		renderRows(w, pt.Rows)
	}
}

func renderRows(w io.Writer, rows []pricing.Row) {
	var cols []string
	seen := make(map[string]bool)
	for _, r := range rows {
		for _, a := range r.Attributes {
			if k := strings.ToLower(a.Key); !seen[k] {
				seen[k] = true
				cols = append(cols, a.Key)
			}
		}
	}

	header := make(table.Row, 0, len(cols)+1)
	for _, c := range cols {
		header = append(header, c)
	}
	t := newTable(w, append(header, "Price"))
	t.SetColumnConfigs([]table.ColumnConfig{{Number: len(cols) + 1, Align: text.AlignRight}})
	for _, r := range rows {
		row := make(table.Row, 0, len(cols)+1)
		for _, c := range cols {
			v, _ := r.Get(c)
			row = append(row, v)
		}
		t.AppendRow(append(row, r.Price))
	}
	t.Render()
}

func renderBoQ(w io.Writer, results []boq.Result) {
	t := newTable(w, table.Row{"Line", "Status", "Product", "Tables", "Rows", "Message"})
	for _, r := range results {
		product := ""
		if r.Product != nil {
			product = fmt.Sprintf("#%d %s", r.Product.ID, r.Product.Name)
		}
		tables, rows := 0, 0
		if r.PriceData != nil {
			tables, rows = len(r.PriceData.Tables), r.PriceData.RowCount()
		}
		t.AppendRow(table.Row{r.Line, r.Status, product, tables, rows, r.Message})
	}
	t.Render()
}

func renderStats(w io.Writer, s *store.Stats) {
	t := newTable(w, table.Row{"Catalogs", "Products", "Resolved", "Empty", "Unresolved"})
	t.AppendRow(table.Row{s.Catalogs, s.Products, s.Resolved, s.Empty, s.Unresolved})
	t.Render()
}
