// Package boq processes Bill-of-Quantities lines against the imported
// catalogs.
package boq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// ErrMalformedLine is returned for lines without name, brand and type.
var ErrMalformedLine = errors.New("boq: line must include product name, brand name and product type")

// Line is one parsed BoQ item.
type Line struct {
	Raw            string            `json:"raw"`
	Name           string            `json:"product_name"`
	Brand          string            `json:"brand_name"`
	Type           string            `json:"product_type"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

// ParseLine parses "name, brand, type[, key: value]...". Specification keys
// are lower-cased; trailing parts without a colon are ignored.
func ParseLine(raw string) (Line, error) {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return Line{}, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
	}

	l := Line{Raw: strings.TrimSpace(raw), Name: parts[0], Brand: parts[1], Type: parts[2]}
	for _, p := range parts[3:] {
		key, value, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if l.Specifications == nil {
			l.Specifications = make(map[string]string)
		}
		l.Specifications[key] = strings.TrimSpace(value)
	}
	return l, nil
}

// ReadLines returns the non-blank lines of r. Lines starting with '#' are
// comments.
func ReadLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading boq lines: %w", err)
	}
	return out, nil
}

// Normalize folds s for matching: accents are stripped, case and width are
// folded, and runs of whitespace collapse to one space.
func Normalize(s string) string {
	// Transformers carry state, so each call builds its own chain.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = width.Fold.String(folded)
	folded = cases.Fold().String(folded)
	return strings.Join(strings.Fields(folded), " ")
}
