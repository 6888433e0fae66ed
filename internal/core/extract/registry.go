package extract

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/documind/internal/core"
)

var _ core.DocumentExtractor = (*Registry)(nil)

// Registry dispatches to the first extractor that accepts the content type.
type Registry struct {
	extractors []core.DocumentExtractor
}

func NewRegistry(extractors ...core.DocumentExtractor) *Registry {
	return &Registry{extractors: extractors}
}

// Default returns the registry used by the service: PDF first, docconv for the rest.
func Default() *Registry {
	return NewRegistry(NewPDFExtractor(), NewDocconvExtractor(false))
}

func (r *Registry) CanExtract(contentType string) bool {
	return r.pick(contentType) != nil
}

func (r *Registry) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedDocument, error) {
	ex := r.pick(contentType)
	if ex == nil {
		return nil, &core.ExtractionError{
			Reason: fmt.Sprintf("no extractor for %q", contentType),
			Err:    core.ErrUnsupportedType,
		}
	}
	return ex.Extract(ctx, data, contentType)
}

func (r *Registry) pick(contentType string) core.DocumentExtractor {
	for _, ex := range r.extractors {
		if ex.CanExtract(contentType) {
			return ex
		}
	}
	return nil
}

// DetectContentType resolves the content type of an upload from its extension,
// falling back to sniffing the bytes.
func DetectContentType(filename string, data []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return pdfContentType
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".odt":
		return "application/vnd.oasis.opendocument.text"
	case ".rtf":
		return "application/rtf"
	case ".html", ".htm":
		return "text/html"
	case ".txt", ".md":
		return "text/plain"
	case ".xml":
		return "application/xml"
	}
	return http.DetectContentType(data)
}
