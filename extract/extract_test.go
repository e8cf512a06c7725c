package extract

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/smartcatalog/document"
	"github.com/brunobiangulo/smartcatalog/llm"
	"github.com/brunobiangulo/smartcatalog/raster"
)

func TestParseRows(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantRows  int
		wantPrice string
		wantErr   error
	}{
		{
			name:      "plain array",
			content:   `[{"Finitura":"Noce","EUR":"705"},{"Finitura":"Rovere","EUR":"738"}]`,
			wantRows:  2,
			wantPrice: "705",
		},
		{
			name:      "continuation of prefill",
			content:   `{"Finitura":"Noce","EUR":"705"}]`,
			wantRows:  1,
			wantPrice: "705",
		},
		{
			name:      "fenced",
			content:   "```json\n[{\"Size\":\"L\",\"price\":\"1.023\"}]\n```",
			wantRows:  1,
			wantPrice: "1.023",
		},
		{
			name:      "leading prose",
			content:   "Here is the table:\n[{\"Size\":\"L\",\"USD\":99}]",
			wantRows:  1,
			wantPrice: "99",
		},
		{
			name:      "empty rows dropped",
			content:   `[{"Size":""},{"Size":"M","price":"10"}]`,
			wantRows:  1,
			wantPrice: "10",
		},
		{name: "prose only", content: "I cannot read this table.", wantErr: ErrNoJSONArray},
		{name: "broken json", content: `[{"Size":"L",}]`, wantErr: ErrNoJSONArray},
		{name: "empty array", content: `[]`, wantErr: ErrEmptyTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ParseRows(tt.content)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRows: %v", err)
			}
			if len(rows) != tt.wantRows {
				t.Fatalf("rows = %d, want %d", len(rows), tt.wantRows)
			}
			if rows[0].Price != tt.wantPrice {
				t.Errorf("price = %q, want %q", rows[0].Price, tt.wantPrice)
			}
		})
	}
}

func TestParseRowsKeepsColumnOrder(t *testing.T) {
	rows, err := ParseRows(`[{"Telaio":"frN","Seduta":"Pelle","Dimensions_CM":"53,5x59x86h","M3":"0,48","EUR":"818"}]`)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, a := range rows[0].Attributes {
		keys = append(keys, a.Key)
	}
	if got := strings.Join(keys, ","); got != "Telaio,Seduta,Dimensions_CM,M3" {
		t.Errorf("keys = %s", got)
	}
}

type blankRenderer struct{}

func (blankRenderer) Render(_ context.Context, _ int, clip document.BBox, zoom float64) (image.Image, error) {
	return image.NewNRGBA(image.Rect(0, 0, int(clip.Width()*zoom), int(clip.Height()*zoom))), nil
}

type fakeVision struct {
	req  llm.VisionChatRequest
	resp *llm.ChatResponse
	err  error
}

func (f *fakeVision) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

func (f *fakeVision) ChatWithImages(_ context.Context, req llm.VisionChatRequest) (*llm.ChatResponse, error) {
	f.req = req
	return f.resp, f.err
}

func artifact(t *testing.T) *raster.Artifact {
	t.Helper()
	art, err := raster.Default().Rasterize(context.Background(), blankRenderer{}, 2, document.BBox{X0: 10, Y0: 10, X1: 60, Y1: 40})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(art.Release)
	return art
}

func TestExtractTable(t *testing.T) {
	fv := &fakeVision{resp: &llm.ChatResponse{Content: `{"Finitura":"Noce","EUR":"705"}]`, FinishReason: "stop"}}
	ex, err := NewVisionExtractor(fv, Config{Model: "vision-test", Temperature: 0.5})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := ex.ExtractTable(context.Background(), artifact(t))
	if err != nil {
		t.Fatalf("ExtractTable: %v", err)
	}
	if len(rows) != 1 || rows[0].Price != "705" {
		t.Errorf("rows = %+v", rows)
	}

	if fv.req.Model != "vision-test" || fv.req.MaxTokens != 8192 || fv.req.Temperature != 0.5 {
		t.Errorf("request settings = %+v", fv.req)
	}
	msgs := fv.req.Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want system, user, prefill", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content[0].Text != DefaultSystemPrompt {
		t.Errorf("system message = %+v", msgs[0])
	}
	first := msgs[1].Content[0]
	if first.Type != "image_url" || !strings.HasPrefix(first.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("first user part = %+v, want the table image", first)
	}
	if msgs[2].Role != "assistant" || msgs[2].Content[0].Text != "[" {
		t.Errorf("prefill = %+v", msgs[2])
	}
}

func TestExtractTableErrors(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		providerErr := errors.New("503 overloaded")
		ex, _ := NewVisionExtractor(&fakeVision{err: providerErr}, Config{})
		_, err := ex.ExtractTable(context.Background(), artifact(t))
		if !errors.Is(err, providerErr) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("truncated output", func(t *testing.T) {
		fv := &fakeVision{resp: &llm.ChatResponse{Content: `{"Size":"L","EUR":"1`, FinishReason: "length", CompletionTokens: 8192}}
		ex, _ := NewVisionExtractor(fv, Config{})
		_, err := ex.ExtractTable(context.Background(), artifact(t))
		if !errors.Is(err, ErrNoJSONArray) || !strings.Contains(err.Error(), "truncated") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("released artifact", func(t *testing.T) {
		ex, _ := NewVisionExtractor(&fakeVision{}, Config{})
		art := artifact(t)
		art.Release()
		if _, err := ex.ExtractTable(context.Background(), art); !errors.Is(err, ErrNoImage) {
			t.Errorf("err = %v, want ErrNoImage", err)
		}
	})
}

func TestLoadExamples(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b-chair.png", "PNGDATA")
	write("b-chair.json", `[{"Seduta":"Pelle","EUR":"818"}]`)
	write("a-desk.png", "PNGDATA")
	write("a-desk.json", `[{"Top":"NC","EUR":"3.570"}]`)
	write("c-orphan.png", "PNGDATA")

	examples, err := LoadExamples(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(examples) != 2 || examples[0].Name != "a-desk" || examples[1].Name != "b-chair" {
		t.Fatalf("examples = %+v", examples)
	}

	fv := &fakeVision{resp: &llm.ChatResponse{Content: `[{"price":"1"}]`}}
	ex, err := NewVisionExtractor(fv, Config{FewShotDir: dir, DisablePrefill: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ex.ExtractTable(context.Background(), artifact(t)); err != nil {
		t.Fatal(err)
	}
	if len(fv.req.Messages) != 2 {
		t.Errorf("messages = %d, want no prefill", len(fv.req.Messages))
	}
	// image + task + intro + 3 parts per example
	if n := len(fv.req.Messages[1].Content); n != 3+3*2 {
		t.Errorf("user parts = %d, want 9", n)
	}

	write("d-bad.png", "PNGDATA")
	write("d-bad.json", `not json`)
	if _, err := LoadExamples(dir); err == nil {
		t.Error("expected error for invalid example output")
	}
}
