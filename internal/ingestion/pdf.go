package ingestion

import (
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// Page is the plain text of one PDF page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// ExtractPages reads the text layer page by page. Pages without text are skipped;
// a PDF without any text layer yields an error so scanned books fail visibly.
func ExtractPages(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", i, path, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf %s has no extractable text", path)
	}
	return pages, nil
}
