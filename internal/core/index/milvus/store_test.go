package milvus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/stretchr/testify/assert"
)

func TestDocumentFilterEscapes(t *testing.T) {
	assert.Equal(t, `document_id == "abc"`, documentFilter("abc"))
	assert.Equal(t, `document_id == "a\"b\\c"`, documentFilter(`a"b\c`))
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("é", 10) // 20 bytes
	out := truncate(s, 7)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), 7)
	assert.Equal(t, "abc", truncate("abc", 10))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Collection: "c", Dimension: 3})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Endpoint: "localhost:19530", Dimension: 3})
	assert.Error(t, err)
}

func TestFieldIndexesCoverDocumentFilter(t *testing.T) {
	types := map[string]index.IndexType{}
	for _, fi := range fieldIndexes() {
		types[fi.field] = fi.index.IndexType()
	}
	assert.Equal(t, index.HNSW, types[fieldVector])
	assert.Equal(t, index.Inverted, types[fieldDocumentID])
}

func TestIsIndexExists(t *testing.T) {
	assert.False(t, isIndexExists(nil))
	assert.False(t, isIndexExists(errors.New("collection not found")))
	assert.True(t, isIndexExists(errors.New("index already exist[field=document_id]")))
	assert.True(t, isIndexExists(fmt.Errorf("create index: %w", errors.New("Index Already Exists"))))
}
