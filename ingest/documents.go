package ingest

import "github.com/brunobiangulo/smartcatalog/document"

// PDFDocuments adapts a *document.PDFOpener to Documents.
type PDFDocuments struct {
	Opener *document.PDFOpener
}

// OpenText implements Documents.
func (d PDFDocuments) OpenText(ref string) (TextSearcher, error) {
	r, err := d.Opener.OpenText(ref)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve implements Documents.
func (d PDFDocuments) Resolve(ref string) (string, error) {
	return d.Opener.Resolve(ref)
}
