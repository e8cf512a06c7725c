package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/brunobiangulo/smartcatalog/pricing"
)

var (
	// ErrNoJSONArray is returned when the model output holds no JSON array.
	ErrNoJSONArray = errors.New("extract: no JSON array in model output")
	// ErrEmptyTable is returned when the array parses but has no priced rows.
	ErrEmptyTable = errors.New("extract: table has no rows")
)

// ParseRows decodes model output into rows. It tolerates markdown code
// fences, leading prose, and output that continues an assistant prefill of
// "[" (starting directly with "{"). Rows without any value are dropped.
func ParseRows(content string) ([]pricing.Row, error) {
	text := stripFences(strings.TrimSpace(content))
	if strings.HasPrefix(text, "{") {
		text = "[" + text
	}

	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, ErrNoJSONArray
	}

	var rows []pricing.Row
	if err := json.Unmarshal([]byte(text[start:end+1]), &rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoJSONArray, err)
	}

	kept := rows[:0]
	for _, r := range rows {
		if r.Price == "" && !hasValue(r) {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return nil, ErrEmptyTable
	}
	return kept, nil
}

func hasValue(r pricing.Row) bool {
	for _, a := range r.Attributes {
		if strings.TrimSpace(a.Value) != "" {
			return true
		}
	}
	return false
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
