package document

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

// defaultPageHeight is US Letter, used when a page carries no MediaBox.
const defaultPageHeight = 792.0

// TextReader locates text on catalog pages. It is used when an upstream
// anchor arrives without a vertical offset.
type TextReader struct {
	mu     sync.Mutex
	file   *os.File
	reader *pdf.Reader
}

// OpenText opens path for text lookup.
func OpenText(path string) (*TextReader, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	return &TextReader{file: f, reader: r}, nil
}

// PageCount returns the number of pages.
func (t *TextReader) PageCount() int { return t.reader.NumPage() }

// Close releases the underlying file.
func (t *TextReader) Close() error { return t.file.Close() }

// Find returns the top-down y of the topmost text row on page that contains
// needle, compared case-insensitively with whitespace removed (glyph runs
// often carry no explicit spaces).
func (t *TextReader) Find(page int, needle string) (float64, bool, error) {
	if err := checkPage(page, t.reader.NumPage()); err != nil {
		return 0, false, err
	}
	want := foldSpace(needle)
	if want == "" {
		return 0, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.reader.Page(page)
	if p.V.IsNull() {
		return 0, false, nil
	}
	rows, err := p.GetTextByRow()
	if err != nil {
		return 0, false, fmt.Errorf("page %d: reading text rows: %w", page, err)
	}

	top := pageTop(p)
	best, found := 0.0, false
	for _, row := range rows {
		var b strings.Builder
		size := 0.0
		for _, txt := range row.Content {
			b.WriteString(txt.S)
			if txt.FontSize > size {
				size = txt.FontSize
			}
		}
		if !strings.Contains(foldSpace(b.String()), want) {
			continue
		}
		y := top - (float64(row.Position) + size)
		if y < 0 {
			y = 0
		}
		if !found || y < best {
			best, found = y, true
		}
	}
	return best, found, nil
}

// pageTop returns the upper edge of the page's MediaBox, following
// inheritance through the page tree.
func pageTop(p pdf.Page) float64 {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			return box.Index(3).Float64()
		}
	}
	return defaultPageHeight
}

func foldSpace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}
