package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/smartcatalog"
	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/ingest"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/store"
)

// catalogEngine is the part of *smartcatalog.Engine the server uses.
type catalogEngine interface {
	Import(ctx context.Context, r io.Reader, opts ingest.Options) (*ingest.Result, error)
	Catalogs(ctx context.Context) ([]store.Catalog, error)
	DeleteCatalog(ctx context.Context, id int64) error
	Products(ctx context.Context, filter store.ProductFilter) ([]store.Product, error)
	Product(ctx context.Context, id int64) (*store.Product, error)
	EnsurePriceData(ctx context.Context, id int64) (*pricing.PriceData, error)
	ProcessBoQ(ctx context.Context, lines []string, opts boq.Options) ([]boq.Result, error)
	Quote(ctx context.Context, w io.Writer, title string, lines []string, opts boq.Options) ([]boq.Result, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

type handler struct {
	engine catalogEngine
}

func newHandler(e catalogEngine) *handler {
	return &handler{engine: e}
}

// POST /import?catalog=&document=
// Accepts a multipart "file" upload or a JSON body of product records.
func (h *handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	body := io.Reader(r.Body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		body = file
	}

	res, err := h.engine.Import(ctx, body, ingest.Options{
		Catalog:     r.URL.Query().Get("catalog"),
		DocumentRef: r.URL.Query().Get("document"),
	})
	if err != nil {
		writeEngineError(w, err, "import failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /catalogs
func (h *handler) handleListCatalogs(w http.ResponseWriter, r *http.Request) {
	cats, err := h.engine.Catalogs(r.Context())
	if err != nil {
		writeEngineError(w, err, "failed to list catalogs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"catalogs": cats})
}

// DELETE /catalogs/{id}
func (h *handler) handleDeleteCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "catalog")
	if !ok {
		return
	}
	if err := h.engine.DeleteCatalog(r.Context(), id); err != nil {
		writeEngineError(w, err, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /products?catalog_id=&brand=&state=&limit=&offset=
func (h *handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.ProductFilter
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+name)
				return
			}
			*dst = n
		}
	}
	if v := q.Get("catalog_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid catalog_id")
			return
		}
		filter.CatalogID = id
	}
	filter.Brand = q.Get("brand")
	if v := q.Get("state"); v != "" {
		filter.State = pricing.State(v)
		if !filter.State.Valid() {
			writeError(w, http.StatusBadRequest, "invalid state")
			return
		}
	}

	products, err := h.engine.Products(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

// GET /products/{id}
func (h *handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "product")
	if !ok {
		return
	}
	p, err := h.engine.Product(r.Context(), id)
	if err != nil {
		writeEngineError(w, err, "failed to get product")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /products/{id}/prices
// Resolves the product's price data on first use.
func (h *handler) handlePrices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	id, ok := pathID(w, r, "product")
	if !ok {
		return
	}
	data, err := h.engine.EnsurePriceData(ctx, id)
	if err != nil {
		writeEngineError(w, err, "price resolution failed")
		return
	}
	status := "found"
	if data == nil {
		status = "no_price_data"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id": id,
		"status":     status,
		"price_data": data,
	})
}

type boqRequest struct {
	Lines     []string `json:"lines"`
	Text      string   `json:"text,omitempty"`
	CatalogID int64    `json:"catalog_id,omitempty"`
	Title     string   `json:"title,omitempty"`
}

// readBoQ accepts JSON {lines|text, catalog_id, title} or a multipart
// "file" holding an XLSX or plain-text BoQ.
func readBoQ(r *http.Request) (*boqRequest, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		var req boqRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errors.New("invalid JSON")
		}
		if req.Text != "" {
			more, err := boq.ReadLines(strings.NewReader(req.Text))
			if err != nil {
				return nil, err
			}
			req.Lines = append(req.Lines, more...)
		}
		return &req, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, errors.New("invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("file is required")
	}
	defer file.Close()

	req := &boqRequest{Title: r.FormValue("title")}
	if v := r.FormValue("catalog_id"); v != "" {
		if req.CatalogID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, errors.New("invalid catalog_id")
		}
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" {
		req.Lines, err = boq.ReadLines(file)
		return req, err
	}

	tmp, err := os.CreateTemp("", "boq-*.xlsx")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()
	req.Lines, err = boq.ReadXLSX(tmp.Name())
	return req, err
}

// POST /boq
func (h *handler) handleBoQ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	req, err := readBoQ(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "lines are required")
		return
	}

	results, err := h.engine.ProcessBoQ(ctx, req.Lines, boq.Options{CatalogID: req.CatalogID})
	if err != nil {
		writeEngineError(w, err, "boq processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// POST /boq/quote
// Responds with the priced quote as a PDF.
func (h *handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	req, err := readBoQ(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "lines are required")
		return
	}
	if req.Title == "" {
		req.Title = "Quote"
	}

	var buf bytes.Buffer
	if _, err := h.engine.Quote(ctx, &buf, req.Title, req.Lines, boq.Options{CatalogID: req.CatalogID}); err != nil {
		writeEngineError(w, err, "quote failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="quote.pdf"`)
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, err, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func pathID(w http.ResponseWriter, r *http.Request, kind string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+kind+" id")
		return 0, false
	}
	return id, true
}

// writeEngineError maps engine errors to status codes. Input errors carry
// their message; anything else is logged and reported as msg.
func writeEngineError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, smartcatalog.ErrProductNotFound),
		errors.Is(err, smartcatalog.ErrCatalogNotFound),
		errors.Is(err, smartcatalog.ErrNoMatch):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrNoRecords),
		errors.Is(err, ingest.ErrInvalidRecords),
		errors.Is(err, ingest.ErrNoDocument),
		errors.Is(err, boq.ErrMalformedLine),
		errors.Is(err, smartcatalog.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, msg)
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
