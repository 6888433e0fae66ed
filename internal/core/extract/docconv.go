package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/documind/internal/core"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// docconvTypes are the formats handled by docconv without external binaries beyond
// what the library itself shells out to.
var docconvTypes = map[string]bool{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.text":                                   true,
	"application/rtf":                                                           true,
	"text/html":                                                                 true,
	"text/plain":                                                                true,
	"application/xml":                                                           true,
	"text/xml":                                                                  true,
}

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
// The whole body is reported as a single page.
type DocconvExtractor struct {
	useReadability bool
	convert        func(r io.Reader, mimeType string, readability bool) (*docconv.Response, error)
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability, convert: docconv.Convert}
}

func (e *DocconvExtractor) CanExtract(contentType string) bool {
	return docconvTypes[mediaType(contentType)]
}

// Extract converts data with docconv, using contentType to pick the parser.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedDocument, error) {
	type result struct {
		res *docconv.Response
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		res, err := e.convert(bytes.NewReader(data), mediaType(contentType), e.useReadability)
		done <- result{res: res, err: err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, &core.ExtractionError{Reason: "docconv conversion failed for " + contentType, Err: r.err}
	}

	body := strings.TrimSpace(r.res.Body)
	doc := &core.ExtractedDocument{PageCount: 1, Metadata: map[string]string{}}
	if body != "" {
		doc.Text = "[Page 1]\n" + body + "\n"
		doc.Pages = []core.PageSpan{{Page: 1, Start: 0, End: len(doc.Text)}}
	}
	for k, v := range r.res.Meta {
		doc.Metadata[strings.ToLower(k)] = v
	}
	doc.Metadata["page_count"] = "1"
	doc.Metadata["text_length"] = strconv.Itoa(len([]rune(doc.Text)))
	return doc, nil
}
