package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/store"
)

func TestRenderPriceData(t *testing.T) {
	var buf bytes.Buffer
	renderPriceData(&buf, &pricing.PriceData{Tables: []pricing.PriceTable{{
		Page: 4,
		Rows: []pricing.Row{
			{Attributes: []pricing.Attribute{{Key: "Finish", Value: "Oak"}}, Price: "900"},
			{Attributes: []pricing.Attribute{{Key: "finish", Value: "Walnut"}, {Key: "Size", Value: "XL"}}, Price: "1100"},
		},
	}}})
	out := buf.String()
	for _, want := range []string{"page 4", "Finish", "Size", "Walnut", "XL", "1100"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Finish") != 1 {
		t.Errorf("duplicate column header:\n%s", out)
	}

	buf.Reset()
	renderPriceData(&buf, nil)
	if !strings.Contains(buf.String(), "no price tables") {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestRenderBoQ(t *testing.T) {
	var buf bytes.Buffer
	renderBoQ(&buf, []boq.Result{
		{Line: "Archibald, Frau, Armchair", Status: boq.StatusFound, Product: &store.Product{ID: 3, Name: "Archibald"},
			PriceData: &pricing.PriceData{Tables: []pricing.PriceTable{{Rows: []pricing.Row{{Price: "1"}, {Price: "2"}}}}}},
		{Line: "Ghost, Frau, Chair", Status: boq.StatusNotFound, Message: "not found"},
	})
	out := buf.String()
	for _, want := range []string{"#3 Archibald", "found", "not_found", "not found"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
