package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

// Separators are tried in order: paragraph, line, word, then raw characters.
var Separators = []string{"\n\n", "\n", " ", ""}

// chunkNamespace seeds deterministic chunk ids so reprocessing a document overwrites
// its previous points instead of duplicating them.
var chunkNamespace = uuid.MustParse("6f1c5e0a-8a43-4b8e-9a55-3b8f3f3c2d10")

// Chunker splits extracted text into overlapping pieces of bounded size.
// Sizes are measured in characters (runes).
type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithSeparators(Separators),
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Split returns the ordered chunks of text. Blank input yields no chunks.
// Every returned chunk is at most size characters long.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		// The recursive splitter only fails on invalid options, which New rejects.
		parts = []string{text}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, c.enforceLimit(p)...)
	}
	return out
}

// enforceLimit hard-splits a piece that still exceeds the size bound.
func (c *Chunker) enforceLimit(s string) []string {
	if utf8.RuneCountInString(s) <= c.size {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += c.size {
		end := min(start+c.size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// Build splits an extracted document into index-ready chunks with contiguous ordinals
// and resolved page numbers. Embeddings are filled in later.
func (c *Chunker) Build(documentID, fileName string, doc *core.ExtractedDocument) []models.Chunk {
	if doc == nil {
		return nil
	}
	parts := c.Split(doc.Text)
	chunks := make([]models.Chunk, 0, len(parts))

	cursor, lastPage := 0, 0
	for i, text := range parts {
		page := lastPage
		if off := locate(doc.Text, text, cursor); off >= 0 {
			page = doc.PageAt(off)
			// overlapping chunks may start before the end of the previous one
			cursor = off + 1
		}
		if page == 0 && len(doc.Pages) > 0 {
			page = doc.Pages[0].Page
		}
		lastPage = page

		chunks = append(chunks, models.Chunk{
			ID:         ChunkID(documentID, i),
			DocumentID: documentID,
			FileName:   fileName,
			Index:      i,
			Text:       text,
			Page:       page,
			CharCount:  utf8.RuneCountInString(text),
			TokenCount: approxTokens(text),
		})
	}
	return chunks
}

// ChunkID is the stable id of the ordinal-th chunk of a document.
func ChunkID(documentID string, ordinal int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", documentID, ordinal))).String()
}

// locate finds chunk in text at or after cursor. Chunks are substrings of the source
// apart from trimmed whitespace, so a prefix match is tried when the full text is not found.
func locate(text, chunk string, cursor int) int {
	if cursor > len(text) {
		cursor = len(text)
	}
	if i := strings.Index(text[cursor:], chunk); i >= 0 {
		return cursor + i
	}
	prefix := chunk
	if len(prefix) > 64 {
		prefix = prefix[:64]
		for !utf8.ValidString(prefix) && len(prefix) > 0 {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if i := strings.Index(text[cursor:], prefix); i >= 0 {
		return cursor + i
	}
	return -1
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// ApproxTokens exposes the estimator to the prompt budget.
func ApproxTokens(s string) int { return approxTokens(s) }
