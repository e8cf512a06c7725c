package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/store"
)

func TestWriteQuote(t *testing.T) {
	results := []boq.Result{
		{
			Line:           "Bergère, Frau, Chair, finish: Oak",
			Status:         boq.StatusFound,
			Product:        &store.Product{ID: 1, Name: "Bergère", Brand: "Frau", Type: "Chair", PageNumber: 12},
			Specifications: map[string]string{"finish": "Oak"},
			PriceData: &pricing.PriceData{Tables: []pricing.PriceTable{{
				Page: 12,
				Rows: []pricing.Row{
					{Attributes: []pricing.Attribute{{Key: "Finish", Value: "Oak"}}, Price: "1.200"},
					{Attributes: []pricing.Attribute{{Key: "finish", Value: "Walnut"}, {Key: "Size", Value: "L"}}, Price: "1.450"},
				},
			}}},
		},
		{Line: "Fred, Frau, Sofa", Status: boq.StatusFound, Product: &store.Product{ID: 2, Name: "Fred"}},
		{Line: "Ghost, Frau, Chair", Status: boq.StatusNotFound, Message: "product Ghost by Frau not found"},
	}

	var buf bytes.Buffer
	if err := WriteQuote(&buf, "Quote for Hotel Lobby", results); err != nil {
		t.Fatalf("WriteQuote: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("output does not start with a PDF header: %q", buf.Bytes()[:min(8, buf.Len())])
	}
}

func TestWriteQuoteEmpty(t *testing.T) {
	if err := WriteQuote(&bytes.Buffer{}, "x", nil); !errors.Is(err, ErrNoResults) {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}

func TestColumns(t *testing.T) {
	got := columns([]pricing.Row{
		{Attributes: []pricing.Attribute{{Key: "Finish"}, {Key: "Size"}}},
		{Attributes: []pricing.Attribute{{Key: "finish"}, {Key: "Fabric"}}},
	})
	want := []string{"Finish", "Size", "Fabric"}
	if len(got) != len(want) {
		t.Fatalf("columns = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("columns[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
