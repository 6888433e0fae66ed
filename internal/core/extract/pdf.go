package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/markdave123-py/documind/internal/core"
)

const pdfContentType = "application/pdf"

var _ core.DocumentExtractor = (*PDFExtractor)(nil)

// PDFExtractor reads PDF files page by page and marks every page in the output text.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) CanExtract(contentType string) bool {
	return mediaType(contentType) == pdfContentType
}

type loadResult struct {
	pages []schema.Document
	meta  map[string]string
	err   error
}

// Extract parses data off the calling goroutine so a slow or hung parser never
// outlives ctx. Parser panics on malformed input surface as ExtractionError.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte, _ string) (*core.ExtractedDocument, error) {
	if len(data) == 0 {
		return nil, &core.ExtractionError{Reason: "empty file"}
	}
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return nil, &core.ExtractionError{Reason: "missing PDF header"}
	}

	done := make(chan loadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- loadResult{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		loader := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data)))
		pages, err := loader.Load(ctx)
		if err != nil {
			done <- loadResult{err: err}
			return
		}
		done <- loadResult{pages: pages, meta: infoMetadata(data)}
	}()

	var res loadResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, &core.ExtractionError{Reason: "unreadable PDF", Err: res.err}
	}

	doc := assemblePages(res.pages)
	for k, v := range res.meta {
		doc.Metadata[k] = v
	}
	slog.Debug("extracted pdf", "pages", doc.PageCount, "text_length", len(doc.Text))
	return doc, nil
}

// assemblePages joins non-empty pages, each preceded by a "[Page N]" marker, and records
// where every page starts in the combined text.
func assemblePages(pages []schema.Document) *core.ExtractedDocument {
	var b strings.Builder
	spans := make([]core.PageSpan, 0, len(pages))
	total := len(pages)

	for i, p := range pages {
		num := i + 1
		if v, ok := p.Metadata["page"].(int); ok && v > 0 {
			num = v
		}
		if v, ok := p.Metadata["total_pages"].(int); ok && v > total {
			total = v
		}

		text := strings.TrimSpace(p.PageContent)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		start := b.Len()
		fmt.Fprintf(&b, "[Page %d]\n%s\n", num, text)
		spans = append(spans, core.PageSpan{Page: num, Start: start, End: b.Len()})
	}

	text := b.String()
	return &core.ExtractedDocument{
		Text:      text,
		PageCount: total,
		Pages:     spans,
		Metadata: map[string]string{
			"page_count":  strconv.Itoa(total),
			"text_length": strconv.Itoa(len([]rune(text))),
		},
	}
}

// infoMetadata reads the document information dictionary. It is best effort:
// any failure yields an empty map.
func infoMetadata(data []byte) (out map[string]string) {
	out = map[string]string{}
	defer func() {
		if recover() != nil {
			out = map[string]string{}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return out
	}
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return out
	}
	for key, name := range map[string]string{"Title": "title", "Author": "author", "Subject": "subject", "Creator": "creator"} {
		if v := strings.TrimSpace(info.Key(key).Text()); v != "" {
			out[name] = v
		}
	}
	return out
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
