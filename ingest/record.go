// Package ingest imports product anchors produced by the upstream catalog
// extractor.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrNoRecords is returned when the input holds no product records.
	ErrNoRecords = errors.New("ingest: no product records")
	// ErrInvalidRecords is returned for input that cannot be decoded or
	// grouped into catalogs.
	ErrInvalidRecords = errors.New("ingest: invalid product records")
)

// Record is one product as emitted by the upstream extractor.
type Record struct {
	Name          string        `json:"product_name"`
	Brand         string        `json:"brand_name"`
	Designer      string        `json:"designer"`
	Year          flexString    `json:"year"`
	Type          string        `json:"type_of_product"`
	Colors        []string      `json:"all_colors"`
	PageReference PageReference `json:"page_reference"`
}

// PageReference locates a record in its catalog document.
type PageReference struct {
	FilePath    string   `json:"file_path"`
	PageNumbers []int    `json:"page_numbers"`
	Y           *float64 `json:"y_coord,omitempty"`
}

// FirstPage returns the page the product starts on, or 0 if unknown.
func (p PageReference) FirstPage() int {
	if len(p.PageNumbers) == 0 {
		return 0
	}
	return p.PageNumbers[0]
}

// UnmarshalJSON accepts the full object form as well as a bare page number
// or an array of page numbers, both of which the upstream extractor emits.
func (p *PageReference) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '{':
		var v struct {
			FilePath    string          `json:"file_path"`
			PageNumbers json.RawMessage `json:"page_numbers"`
			Y           *float64        `json:"y_coord"`
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		pages, err := pageList(v.PageNumbers)
		if err != nil {
			return err
		}
		*p = PageReference{FilePath: v.FilePath, PageNumbers: pages, Y: v.Y}
		return nil
	default:
		pages, err := pageList(data)
		if err != nil {
			return err
		}
		*p = PageReference{PageNumbers: pages}
		return nil
	}
}

// pageList decodes a page number, a numeric string, or an array of either.
func pageList(raw json.RawMessage) ([]int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []flexString
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("page numbers: %w", err)
		}
		out := make([]int, 0, len(items))
		for _, it := range items {
			n, err := strconv.Atoi(string(it))
			if err != nil {
				return nil, fmt.Errorf("page number %q: %w", it, err)
			}
			out = append(out, n)
		}
		return out, nil
	}
	var one flexString
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("page number: %w", err)
	}
	n, err := strconv.Atoi(string(one))
	if err != nil {
		return nil, fmt.Errorf("page number %q: %w", one, err)
	}
	return []int{n}, nil
}

// flexString decodes a JSON string or number into its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// Decode reads records from r. The input is either a JSON array of records
// or an object with a "products" array.
func Decode(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var wrapped struct {
			Products json.RawMessage `json:"products"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecords, err)
		}
		raw = wrapped.Products
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecords, err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}
