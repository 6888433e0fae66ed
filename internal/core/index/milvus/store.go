// Package milvus stores chunk vectors in a Milvus collection.
package milvus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

const (
	fieldID         = "id"
	fieldVector     = "vector"
	fieldDocumentID = "document_id"
	fieldFileName   = "filename"
	fieldContent    = "content"
	fieldChunkIndex = "chunk_index"
	fieldPage       = "page_number"
	fieldCharCount  = "chunk_size"
	fieldSeq        = "seq"

	maxContentLength = 65535
)

var outputFields = []string{fieldDocumentID, fieldFileName, fieldContent, fieldChunkIndex, fieldPage, fieldCharCount, fieldSeq}

var _ core.IndexStore = (*Store)(nil)

type Config struct {
	Endpoint   string
	APIKey     string
	Collection string
	Dimension  int
}

// Store implements core.IndexStore on Milvus with a COSINE HNSW vector index and an
// INVERTED scalar index on document_id.
type Store struct {
	client *client.Client
	cfg    Config
	// seq orders inserts for score tie-breaking; seeded from the clock so restarts keep increasing.
	seq atomic.Int64
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("milvus endpoint is empty")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("milvus collection name is empty")
	}
	c, err := client.New(ctx, &client.ClientConfig{
		Address: cfg.Endpoint,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	s := &Store{client: c, cfg: cfg}
	s.seq.Store(time.Now().UnixNano())
	return s, nil
}

// EnsureIndex creates and loads the collection when missing. An existing collection
// must have the configured vector dimension.
func (s *Store) EnsureIndex(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, client.NewHasCollectionOption(s.cfg.Collection))
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if has {
		if err := s.checkDimension(ctx); err != nil {
			return err
		}
		// collections created by older releases may lack the scalar index
		if err := s.ensureFieldIndexes(ctx); err != nil {
			return err
		}
	} else {
		if err := s.createCollection(ctx); err != nil {
			return err
		}
		slog.Info("created milvus collection", "collection", s.cfg.Collection, "dim", s.cfg.Dimension)
	}

	task, err := s.client.LoadCollection(ctx, client.NewLoadCollectionOption(s.cfg.Collection))
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return task.Await(ctx)
}

func (s *Store) createCollection(ctx context.Context) error {
	schema := entity.NewSchema().
		WithName(s.cfg.Collection).
		WithDynamicFieldEnabled(false).
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.cfg.Dimension))).
		WithField(entity.NewField().WithName(fieldDocumentID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldFileName).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
		WithField(entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxContentLength)).
		WithField(entity.NewField().WithName(fieldChunkIndex).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldPage).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldCharCount).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldSeq).WithDataType(entity.FieldTypeInt64))

	var indexOpts []client.CreateIndexOption
	for _, fi := range fieldIndexes() {
		indexOpts = append(indexOpts, client.NewCreateIndexOption(s.cfg.Collection, fi.field, fi.index))
	}
	opt := client.NewCreateCollectionOption(s.cfg.Collection, schema).WithIndexOptions(indexOpts...)
	if err := s.client.CreateCollection(ctx, opt); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

type fieldIndex struct {
	field string
	index index.Index
}

// fieldIndexes are the indexes every collection carries.
func fieldIndexes() []fieldIndex {
	return []fieldIndex{
		{field: fieldVector, index: index.NewHNSWIndex(entity.COSINE, 16, 200)},
		{field: fieldDocumentID, index: index.NewInvertedIndex()},
	}
}

// ensureFieldIndexes builds any index missing from an existing collection.
func (s *Store) ensureFieldIndexes(ctx context.Context) error {
	for _, fi := range fieldIndexes() {
		names, err := s.client.ListIndexes(ctx, client.NewListIndexOption(s.cfg.Collection).WithFieldName(fi.field))
		if err != nil {
			return fmt.Errorf("list indexes on %s: %w", fi.field, err)
		}
		if len(names) > 0 {
			continue
		}
		task, err := s.client.CreateIndex(ctx, client.NewCreateIndexOption(s.cfg.Collection, fi.field, fi.index))
		if isIndexExists(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create index on %s: %w", fi.field, err)
		}
		if err := task.Await(ctx); err != nil && !isIndexExists(err) {
			return fmt.Errorf("build index on %s: %w", fi.field, err)
		}
		slog.Info("created milvus index", "collection", s.cfg.Collection, "field", fi.field, "type", fi.index.IndexType())
	}
	return nil
}

// isIndexExists reports whether err is Milvus refusing to build an index that
// another caller already created.
func isIndexExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exist")
}

func (s *Store) checkDimension(ctx context.Context) error {
	coll, err := s.client.DescribeCollection(ctx, client.NewDescribeCollectionOption(s.cfg.Collection))
	if err != nil {
		return fmt.Errorf("describe collection: %w", err)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != fieldVector {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams[entity.TypeParamDim])
		if err != nil {
			return fmt.Errorf("read vector dimension: %w", err)
		}
		if dim != s.cfg.Dimension {
			return &core.DimensionMismatchError{Expected: s.cfg.Dimension, Got: dim}
		}
		return nil
	}
	return fmt.Errorf("collection %s has no %q field", s.cfg.Collection, fieldVector)
}

func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	n := len(chunks)
	var (
		ids      = make([]string, n)
		vectors  = make([][]float32, n)
		docIDs   = make([]string, n)
		names    = make([]string, n)
		contents = make([]string, n)
		ordinals = make([]int64, n)
		pages    = make([]int64, n)
		sizes    = make([]int64, n)
		seqs     = make([]int64, n)
	)
	for i, ch := range chunks {
		ids[i] = ch.ID
		vectors[i] = ch.Embedding
		docIDs[i] = ch.DocumentID
		names[i] = ch.FileName
		contents[i] = truncate(ch.Text, maxContentLength)
		ordinals[i] = int64(ch.Index)
		pages[i] = int64(ch.Page)
		sizes[i] = int64(ch.CharCount)
		seqs[i] = s.seq.Add(1)
	}

	columns := []column.Column{
		column.NewColumnVarChar(fieldID, ids),
		column.NewColumnFloatVector(fieldVector, s.cfg.Dimension, vectors),
		column.NewColumnVarChar(fieldDocumentID, docIDs),
		column.NewColumnVarChar(fieldFileName, names),
		column.NewColumnVarChar(fieldContent, contents),
		column.NewColumnInt64(fieldChunkIndex, ordinals),
		column.NewColumnInt64(fieldPage, pages),
		column.NewColumnInt64(fieldCharCount, sizes),
		column.NewColumnInt64(fieldSeq, seqs),
	}
	_, err := s.client.Upsert(ctx, client.NewColumnBasedInsertOption(s.cfg.Collection).WithColumns(columns...))
	if err != nil {
		return fmt.Errorf("error upserting chunks: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, vector []float32, documentID string, limit int) ([]models.SearchHit, error) {
	opt := client.NewSearchOption(s.cfg.Collection, limit, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(fieldVector).
		WithOutputFields(outputFields...)
	if documentID != "" {
		opt = opt.WithFilter(documentFilter(documentID))
	}

	results, err := s.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var hits []models.SearchHit
	for _, rs := range results {
		for i := 0; i < rs.ResultCount; i++ {
			hit, err := readHit(rs, i)
			if err != nil {
				return nil, err
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

func readHit(rs client.ResultSet, i int) (models.SearchHit, error) {
	var (
		h   models.SearchHit
		err error
	)
	if h.Chunk.ID, err = rs.IDs.GetAsString(i); err != nil {
		return h, fmt.Errorf("read id: %w", err)
	}
	str := func(name string) string {
		if col := rs.GetColumn(name); col != nil {
			v, _ := col.GetAsString(i)
			return v
		}
		return ""
	}
	num := func(name string) int64 {
		if col := rs.GetColumn(name); col != nil {
			v, _ := col.GetAsInt64(i)
			return v
		}
		return 0
	}
	h.Chunk.DocumentID = str(fieldDocumentID)
	h.Chunk.FileName = str(fieldFileName)
	h.Chunk.Text = str(fieldContent)
	h.Chunk.Index = int(num(fieldChunkIndex))
	h.Chunk.Page = int(num(fieldPage))
	h.Chunk.CharCount = int(num(fieldCharCount))
	h.Seq = num(fieldSeq)
	h.Score = float64(rs.Scores[i])
	return h, nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	res, err := s.client.Delete(ctx, client.NewDeleteOption(s.cfg.Collection).WithExpr(documentFilter(documentID)))
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return int(res.DeleteCount), nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HasCollection(ctx, client.NewHasCollectionOption(s.cfg.Collection))
	return err
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Close(ctx)
}

// documentFilter renders a boolean expression matching one document id.
func documentFilter(documentID string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(documentID)
	return fmt.Sprintf(`%s == "%s"`, fieldDocumentID, escaped)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
