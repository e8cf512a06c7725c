package extract

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Example is one few-shot pair: a table image and the JSON array expected
// for it.
type Example struct {
	Name    string
	DataURL string
	Output  string
}

// LoadExamples reads few-shot examples from dir. Every "<name>.png" with a
// sibling "<name>.json" forms one example; images without output are
// ignored. Examples are returned in name order. An empty dir yields none.
func LoadExamples(dir string) ([]Example, error) {
	if dir == "" {
		return nil, nil
	}
	images, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("listing examples: %w", err)
	}
	sort.Strings(images)

	var out []Example
	for _, img := range images {
		name := strings.TrimSuffix(filepath.Base(img), ".png")
		raw, err := os.ReadFile(filepath.Join(dir, name+".json"))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading example %s: %w", name, err)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("example %s: output is not valid JSON", name)
		}
		data, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("reading example %s: %w", name, err)
		}
		out = append(out, Example{
			Name:    name,
			DataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
			Output:  strings.TrimSpace(string(raw)),
		})
	}
	return out, nil
}
