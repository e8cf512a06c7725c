package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/smartcatalog/document"
)

// State is the memoization state of a product's pricing.
type State string

const (
	// StateUnresolved means no resolution has been attempted.
	StateUnresolved State = "unresolved"
	// StateEmpty means the last attempt found no tables or extracted none.
	// It may be retried.
	StateEmpty State = "empty"
	// StateResolved means price data has been attached. It is terminal.
	StateResolved State = "resolved"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateUnresolved, StateEmpty, StateResolved:
		return true
	}
	return false
}

// Attribute is one column of a price row, e.g. "Seduta" → "Pelle".
type Attribute struct {
	Key   string
	Value string
}

// Row is one attribute combination and its price. Attributes keep the order
// in which the extractor produced them.
type Row struct {
	Attributes []Attribute
	Price      string
}

// Get returns the value for key, matched case-insensitively.
func (r Row) Get(key string) (string, bool) {
	for _, a := range r.Attributes {
		if strings.EqualFold(a.Key, key) {
			return a.Value, true
		}
	}
	return "", false
}

// MarshalJSON writes the row as a flat object: attributes in order, then
// "price".
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, a := range r.Attributes {
		if err := writeMember(&buf, a.Key, a.Value); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if err := writeMember(&buf, "price", r.Price); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key, value string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// UnmarshalJSON reads a flat object, keeping member order. The "price" key
// or a currency code key (see IsPriceKey) becomes Price; everything else is
// an attribute. Non-string values are kept in their JSON text form.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("pricing: row must be a JSON object, got %v", tok)
	}

	var out Row
	priceSet := false
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("pricing: unexpected row key %v", kt)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("pricing: row value for %q: %w", key, err)
		}
		value := scalarText(raw)

		if !priceSet && IsPriceKey(key) {
			out.Price = value
			priceSet = true
			continue
		}
		out.Attributes = append(out.Attributes, Attribute{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

func scalarText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

var currencyKeys = map[string]bool{
	"price": true, "prezzo": true, "preis": true, "prix": true, "precio": true,
	"eur": true, "usd": true, "gbp": true, "chf": true,
}

// IsPriceKey reports whether a row key carries the price.
func IsPriceKey(key string) bool {
	return currencyKeys[strings.ToLower(strings.TrimSpace(key))]
}

// PriceTable is the extracted content of one table region.
type PriceTable struct {
	Page int           `json:"page_num"`
	BBox document.BBox `json:"-"`
	Rows []Row         `json:"price_data"`
}

type priceTableJSON struct {
	Page int        `json:"page_num"`
	BBox [4]float64 `json:"bbox"`
	Rows []Row      `json:"price_data"`
}

// MarshalJSON encodes the bbox as [x0, y0, x1, y1].
func (t PriceTable) MarshalJSON() ([]byte, error) {
	rows := t.Rows
	if rows == nil {
		rows = []Row{}
	}
	return json.Marshal(priceTableJSON{Page: t.Page, BBox: t.BBox.Array(), Rows: rows})
}

// UnmarshalJSON decodes the [x0, y0, x1, y1] bbox form.
func (t *PriceTable) UnmarshalJSON(data []byte) error {
	var v priceTableJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	t.Page = v.Page
	t.BBox = document.BBox{X0: v.BBox[0], Y0: v.BBox[1], X1: v.BBox[2], Y1: v.BBox[3]}
	t.Rows = v.Rows
	return nil
}

// PriceData is the ordered set of price tables attached to one product.
type PriceData struct {
	Tables []PriceTable `json:"tables"`
}

// Empty reports whether d carries no tables.
func (d *PriceData) Empty() bool { return d == nil || len(d.Tables) == 0 }

// RowCount returns the number of rows across all tables.
func (d *PriceData) RowCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, t := range d.Tables {
		n += len(t.Rows)
	}
	return n
}
