package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brunobiangulo/smartcatalog"
	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/ingest"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/store"
)

type fakeEngine struct {
	imported   string
	importOpts ingest.Options
	filter     store.ProductFilter
	lines      []string
	boqOpts    boq.Options
	prices     map[int64]*pricing.PriceData
	err        error
}

func (f *fakeEngine) Import(_ context.Context, r io.Reader, opts ingest.Options) (*ingest.Result, error) {
	b, _ := io.ReadAll(r)
	f.imported, f.importOpts = string(b), opts
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Result{Catalogs: []ingest.CatalogResult{{ID: 1, Name: "frau", Products: 2}}}, nil
}

func (f *fakeEngine) Catalogs(context.Context) ([]store.Catalog, error) {
	return []store.Catalog{{ID: 1, Name: "frau"}}, nil
}

func (f *fakeEngine) DeleteCatalog(_ context.Context, id int64) error {
	if id != 1 {
		return fmt.Errorf("%w: %d", smartcatalog.ErrCatalogNotFound, id)
	}
	return nil
}

func (f *fakeEngine) Products(_ context.Context, filter store.ProductFilter) ([]store.Product, error) {
	f.filter = filter
	return []store.Product{{ID: 7, Name: "Archibald"}}, nil
}

func (f *fakeEngine) Product(_ context.Context, id int64) (*store.Product, error) {
	if id != 7 {
		return nil, fmt.Errorf("%w: %d", smartcatalog.ErrProductNotFound, id)
	}
	return &store.Product{ID: 7, Name: "Archibald"}, nil
}

func (f *fakeEngine) EnsurePriceData(_ context.Context, id int64) (*pricing.PriceData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.prices[id], nil
}

func (f *fakeEngine) ProcessBoQ(_ context.Context, lines []string, opts boq.Options) ([]boq.Result, error) {
	f.lines, f.boqOpts = lines, opts
	out := make([]boq.Result, len(lines))
	for i, l := range lines {
		out[i] = boq.Result{Line: l, Status: boq.StatusNotFound}
	}
	return out, nil
}

func (f *fakeEngine) Quote(_ context.Context, w io.Writer, title string, lines []string, _ boq.Options) ([]boq.Result, error) {
	f.lines = lines
	if f.err != nil {
		return nil, f.err
	}
	io.WriteString(w, "%PDF-1.3 "+title)
	return nil, nil
}

func (f *fakeEngine) Stats(context.Context) (*store.Stats, error) {
	return &store.Stats{Catalogs: 1, Products: 2}, nil
}

func do(t *testing.T, srv http.Handler, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestRoutesStatusCodes(t *testing.T) {
	eng := &fakeEngine{prices: map[int64]*pricing.PriceData{
		7: {Tables: []pricing.PriceTable{{Page: 3, Rows: []pricing.Row{{Price: "900"}}}}},
	}}
	srv := newServer(eng, "", "")

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"health", "GET", "/health", "", http.StatusOK},
		{"catalogs", "GET", "/catalogs", "", http.StatusOK},
		{"delete", "DELETE", "/catalogs/1", "", http.StatusOK},
		{"delete unknown", "DELETE", "/catalogs/5", "", http.StatusNotFound},
		{"delete bad id", "DELETE", "/catalogs/abc", "", http.StatusBadRequest},
		{"product", "GET", "/products/7", "", http.StatusOK},
		{"product unknown", "GET", "/products/8", "", http.StatusNotFound},
		{"products bad state", "GET", "/products?state=done", "", http.StatusBadRequest},
		{"products bad limit", "GET", "/products?limit=-1", "", http.StatusBadRequest},
		{"prices", "POST", "/products/7/prices", "", http.StatusOK},
		{"boq empty", "POST", "/boq", `{"lines":[]}`, http.StatusBadRequest},
		{"boq bad json", "POST", "/boq", `{`, http.StatusBadRequest},
		{"stats", "GET", "/stats", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, "", strings.NewReader(tt.body))
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.target, rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestProductsFilter(t *testing.T) {
	eng := &fakeEngine{}
	rec := do(t, newServer(eng, "", ""), "GET", "/products?catalog_id=3&brand=Frau&state=resolved&limit=10", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := store.ProductFilter{CatalogID: 3, Brand: "Frau", State: pricing.StateResolved, Limit: 10}
	if eng.filter != want {
		t.Errorf("filter = %+v, want %+v", eng.filter, want)
	}
}

func TestPricesResponse(t *testing.T) {
	eng := &fakeEngine{prices: map[int64]*pricing.PriceData{
		7: {Tables: []pricing.PriceTable{{Page: 3, Rows: []pricing.Row{{Price: "900"}}}}},
	}}
	srv := newServer(eng, "", "")

	var got struct {
		Status    string          `json:"status"`
		PriceData json.RawMessage `json:"price_data"`
	}
	rec := do(t, srv, "POST", "/products/7/prices", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "found" || !strings.Contains(string(got.PriceData), `"page_num":3`) {
		t.Errorf("body = %s", rec.Body)
	}

	rec = do(t, srv, "POST", "/products/9/prices", "", nil)
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != "no_price_data" {
		t.Errorf("body = %s", rec.Body)
	}

	eng.err = fmt.Errorf("%w: 9", smartcatalog.ErrProductNotFound)
	if rec := do(t, srv, "POST", "/products/9/prices", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	eng.err = errors.New("disk on fire")
	if rec := do(t, srv, "POST", "/products/9/prices", "", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestImport(t *testing.T) {
	eng := &fakeEngine{}
	srv := newServer(eng, "", "")

	rec := do(t, srv, "POST", "/import?catalog=frau&document=frau.pdf", "application/json", strings.NewReader(`[{"product_name":"A"}]`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if eng.importOpts.Catalog != "frau" || eng.importOpts.DocumentRef != "frau.pdf" || !strings.Contains(eng.imported, "product_name") {
		t.Errorf("import = %+v %q", eng.importOpts, eng.imported)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "products.json")
	io.WriteString(fw, `[{"product_name":"B"}]`)
	mw.Close()
	rec = do(t, srv, "POST", "/import", mw.FormDataContentType(), &buf)
	if rec.Code != http.StatusOK || !strings.Contains(eng.imported, `"B"`) {
		t.Errorf("multipart import = %d, %q", rec.Code, eng.imported)
	}

	eng.err = fmt.Errorf("%w: bad", ingest.ErrInvalidRecords)
	if rec := do(t, srv, "POST", "/import", "application/json", strings.NewReader(`x`)); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBoQ(t *testing.T) {
	eng := &fakeEngine{}
	srv := newServer(eng, "", "")

	rec := do(t, srv, "POST", "/boq", "application/json",
		strings.NewReader(`{"lines":["A, B, C"],"text":"# note\nD, E, F\n","catalog_id":4}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if len(eng.lines) != 2 || eng.lines[1] != "D, E, F" || eng.boqOpts.CatalogID != 4 {
		t.Errorf("lines = %q opts = %+v", eng.lines, eng.boqOpts)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("catalog_id", "2")
	fw, _ := mw.CreateFormFile("file", "boq.txt")
	io.WriteString(fw, "X, Y, Z\n")
	mw.Close()
	rec = do(t, srv, "POST", "/boq", mw.FormDataContentType(), &buf)
	if rec.Code != http.StatusOK || len(eng.lines) != 1 || eng.boqOpts.CatalogID != 2 {
		t.Errorf("multipart boq = %d, %q, %+v", rec.Code, eng.lines, eng.boqOpts)
	}
}

func TestQuote(t *testing.T) {
	eng := &fakeEngine{}
	srv := newServer(eng, "", "")

	rec := do(t, srv, "POST", "/boq/quote", "application/json", strings.NewReader(`{"lines":["A, B, C"],"title":"Lobby"}`))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("quote = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF-") || !strings.Contains(rec.Body.String(), "Lobby") {
		t.Errorf("body = %q", rec.Body)
	}

	eng.err = smartcatalog.ErrNoMatch
	if rec := do(t, srv, "POST", "/boq/quote", "application/json", strings.NewReader(`{"lines":["A, B, C"]}`)); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := newServer(&fakeEngine{}, "secret", "")

	if rec := do(t, srv, "GET", "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200 without key", rec.Code)
	}
	if rec := do(t, srv, "GET", "/catalogs", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key = %d, want 401", rec.Code)
	}
	for _, hdr := range []struct{ name, value string }{
		{"Authorization", "Bearer secret"},
		{"X-API-Key", "secret"},
	} {
		req := httptest.NewRequest("GET", "/catalogs", nil)
		req.Header.Set(hdr.name, hdr.value)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", hdr.name, rec.Code)
		}
	}
}

func TestCORSAndRecovery(t *testing.T) {
	srv := newServer(&fakeEngine{}, "", "https://shop.example")
	req := httptest.NewRequest(http.MethodOptions, "/boq", nil)
	req.Header.Set("Origin", "https://shop.example")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://shop.example" {
		t.Errorf("preflight = %d %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}

	panicky := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec = httptest.NewRecorder()
	panicky.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("recovered status = %d, want 500", rec.Code)
	}
}
