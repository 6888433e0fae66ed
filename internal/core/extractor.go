package core

import (
	"context"
)

// PageSpan maps a byte range of ExtractedDocument.Text back to a page number.
type PageSpan struct {
	Page  int
	Start int
	End   int
}

// ExtractedDocument is the text of a document together with its page layout.
type ExtractedDocument struct {
	Text      string
	PageCount int
	Pages     []PageSpan
	Metadata  map[string]string
}

// PageAt returns the page of the last span starting at or before offset, or 0 when
// offset precedes every span.
func (d *ExtractedDocument) PageAt(offset int) int {
	page := 0
	for _, p := range d.Pages {
		if p.Start > offset {
			break
		}
		page = p.Page
	}
	return page
}

// DocumentExtractor defines the interface for extracting text from various document types.
type DocumentExtractor interface {
	// CanExtract reports whether the extractor handles the given content type.
	CanExtract(contentType string) bool
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractedDocument, error)
}
