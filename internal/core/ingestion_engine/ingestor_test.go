package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/chunker"
	"github.com/markdave123-py/documind/internal/core/docstore"
	"github.com/markdave123-py/documind/internal/core/embedding"
	"github.com/markdave123-py/documind/internal/core/extract"
	"github.com/markdave123-py/documind/internal/core/fakes"
	"github.com/markdave123-py/documind/internal/core/index"
	"github.com/markdave123-py/documind/internal/core/index/memory"
	objectclient "github.com/markdave123-py/documind/internal/core/object-client"
	"github.com/markdave123-py/documind/internal/core/queue"
	"github.com/markdave123-py/documind/internal/models"
)

const testDim = 16

type failingIndex struct {
	*memory.Store
}

func (f *failingIndex) Upsert(context.Context, []models.Chunk) error {
	return errors.New("index unavailable")
}

type harness struct {
	docs  *docstore.MemoryStore
	obj   *objectclient.DiskClient
	queue *queue.MemoryQueue
	store *memory.Store
	emb   *fakes.Embedder
	ing   *DocumentIngestor
}

type option func(*harnessConfig)

type harnessConfig struct {
	extractor  core.DocumentExtractor
	indexStore core.IndexStore
	maxRetries int
}

func withExtractor(x core.DocumentExtractor) option {
	return func(c *harnessConfig) { c.extractor = x }
}

func withMaxRetries(n int) option {
	return func(c *harnessConfig) { c.maxRetries = n }
}

func withFailingIndex() option {
	return func(c *harnessConfig) { c.indexStore = &failingIndex{Store: memory.New(testDim)} }
}

func pageText(page, n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "Page %d sentence %d covers the ingestion pipeline. ", page, i)
	}
	return strings.TrimSpace(b.String()[:n])
}

func threePageDocument() *core.ExtractedDocument {
	var b strings.Builder
	doc := &core.ExtractedDocument{PageCount: 3, Metadata: map[string]string{"page_count": "3"}}
	for p := 1; p <= 3; p++ {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		start := b.Len()
		fmt.Fprintf(&b, "[Page %d]\n%s\n", p, pageText(p, 800))
		doc.Pages = append(doc.Pages, core.PageSpan{Page: p, Start: start, End: b.Len()})
	}
	doc.Text = b.String()
	return doc
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	hc := harnessConfig{
		extractor:  &fakes.Extractor{Doc: threePageDocument()},
		maxRetries: 3,
	}
	for _, o := range opts {
		o(&hc)
	}

	h := &harness{
		docs:  docstore.NewMemoryStore(),
		queue: queue.NewMemoryQueue(16, 2),
		store: memory.New(testDim),
		emb:   fakes.NewEmbedder(testDim),
	}
	if hc.indexStore == nil {
		hc.indexStore = h.store
	}

	var err error
	h.obj, err = objectclient.NewDiskClient(t.TempDir())
	require.NoError(t, err)

	ch, err := chunker.New(1000, 200)
	require.NoError(t, err)
	emb, err := embedding.NewGateway(h.emb, embedding.Options{Dimension: testDim, BatchSize: 2})
	require.NoError(t, err)
	idx, err := index.NewGateway(hc.indexStore, index.Options{Dimension: testDim, BatchSize: 2})
	require.NoError(t, err)
	require.NoError(t, idx.EnsureIndex(context.Background()))

	h.ing, err = NewDocumentIngestor(Deps{
		Docs:      h.docs,
		Objects:   h.obj,
		Queue:     h.queue,
		Extractor: hc.extractor,
		Chunker:   ch,
		Embedder:  emb,
		Index:     idx,
	}, IngestConfig{MaxRetries: hc.maxRetries, RetryBaseDelay: time.Millisecond, JobTimeout: 10 * time.Second})
	require.NoError(t, err)
	return h
}

func (h *harness) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h.ing.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.ing.Wait()
	})
}

func (h *harness) upload(t *testing.T, id string, data []byte) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc := &models.Document{
		ID:          id,
		FileName:    "report.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(data)),
		StorageKey:  "documents/" + id + "/report.pdf",
		Status:      models.StateUploading,
	}
	require.NoError(t, h.docs.Create(ctx, doc))
	_, err := h.obj.UploadFile(ctx, doc.StorageKey, data, doc.ContentType)
	require.NoError(t, err)
	return doc
}

func (h *harness) waitFor(t *testing.T, id string, state models.ProcessingState) *models.Document {
	t.Helper()
	var got *models.Document
	require.Eventually(t, func() bool {
		d, err := h.docs.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = d
		return d.Status == state
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestIngestThreePageDocument(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.upload(t, "doc-1", []byte("%PDF-1.4 stub"))

	require.NoError(t, h.ing.Submit(context.Background(), "doc-1"))
	doc := h.waitFor(t, "doc-1", models.StateCompleted)

	assert.Equal(t, 3, doc.PageCount)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Empty(t, doc.Error)
	assert.Equal(t, "3", doc.Metadata["page_count"])
	require.NotNil(t, doc.Job)
	assert.Equal(t, 100, doc.Job.Progress)
	assert.Zero(t, doc.Job.RetryCount)
	assert.Equal(t, 3, h.store.Count("doc-1"))

	hits, err := h.store.Search(context.Background(), fakes.HashVector("Page 2 sentence", testDim), "doc-1", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, hit := range hits {
		assert.True(t, strings.HasPrefix(hit.Chunk.Text, fmt.Sprintf("[Page %d]", hit.Chunk.Page)))
	}
}

func TestCorruptedBytesFailWithoutRetry(t *testing.T) {
	h := newHarness(t, withExtractor(extract.Default()))
	h.start(t)
	doc := h.upload(t, "doc-bad", []byte("this is not a pdf at all"))

	require.NoError(t, h.ing.Submit(context.Background(), "doc-bad"))
	got := h.waitFor(t, "doc-bad", models.StateFailed)

	assert.NotEmpty(t, got.Error)
	assert.Zero(t, got.Job.RetryCount)
	assert.Equal(t, 0, h.emb.DocumentCalls())
	assert.Equal(t, 0, h.store.Count("doc-bad"))

	_, err := h.obj.GetFile(context.Background(), doc.StorageKey)
	assert.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestTransientFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.emb.FailFirst = 2
	h.start(t)
	h.upload(t, "doc-2", []byte("%PDF-1.4 stub"))

	require.NoError(t, h.ing.Submit(context.Background(), "doc-2"))
	doc := h.waitFor(t, "doc-2", models.StateCompleted)

	assert.Equal(t, 2, doc.Job.RetryCount)
	assert.Contains(t, doc.Job.LastError, "fake transient failure")
	assert.Equal(t, 3, h.store.Count("doc-2"))
}

func TestRetriesAreBounded(t *testing.T) {
	h := newHarness(t, withMaxRetries(3))
	h.emb.Err = fakes.ErrTransient
	h.start(t)
	doc := h.upload(t, "doc-3", []byte("%PDF-1.4 stub"))

	require.NoError(t, h.ing.Submit(context.Background(), "doc-3"))
	got := h.waitFor(t, "doc-3", models.StateFailed)

	assert.NotEmpty(t, got.Error)
	assert.LessOrEqual(t, got.Job.RetryCount, 3)
	assert.Equal(t, 3, got.Job.RetryCount)
	assert.Equal(t, 4, h.emb.DocumentCalls())
	assert.Equal(t, 0, h.store.Count("doc-3"))

	_, err := h.obj.GetFile(context.Background(), doc.StorageKey)
	assert.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestResubmitFailedDocumentWithoutUpload(t *testing.T) {
	h := newHarness(t, withMaxRetries(1))
	h.emb.Err = fakes.ErrTransient
	h.start(t)
	h.upload(t, "doc-3b", []byte("%PDF-1.4 stub"))
	ctx := context.Background()

	require.NoError(t, h.ing.Submit(ctx, "doc-3b"))
	failed := h.waitFor(t, "doc-3b", models.StateFailed)

	err := h.ing.Resubmit(ctx, "doc-3b")
	require.ErrorIs(t, err, core.ErrFileGone)

	got, err := h.docs.Get(ctx, "doc-3b")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.Status)
	assert.Equal(t, failed.Job.ID, got.Job.ID)
	assert.Equal(t, 0, h.queue.Len())
}

func TestUpsertFailureNeverCompletes(t *testing.T) {
	h := newHarness(t, withFailingIndex(), withMaxRetries(1))
	h.start(t)
	h.upload(t, "doc-4", []byte("%PDF-1.4 stub"))

	require.NoError(t, h.ing.Submit(context.Background(), "doc-4"))
	got := h.waitFor(t, "doc-4", models.StateFailed)
	assert.Contains(t, got.Error, "index")
	assert.Equal(t, 1, got.Job.RetryCount)
}

func TestSubmitRejectsDocumentInProgress(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "doc-5", []byte("%PDF-1.4 stub"))
	ctx := context.Background()

	require.NoError(t, h.ing.Submit(ctx, "doc-5"))
	assert.ErrorIs(t, h.ing.Submit(ctx, "doc-5"), core.ErrJobInProgress)
	assert.ErrorIs(t, h.ing.Resubmit(ctx, "doc-5"), core.ErrJobInProgress)
	assert.Equal(t, 1, h.queue.Len())

	assert.ErrorIs(t, h.ing.Submit(ctx, "missing"), core.ErrDocumentNotFound)
}

func TestResubmitCompletedDocument(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.upload(t, "doc-6", []byte("%PDF-1.4 stub"))
	ctx := context.Background()

	require.NoError(t, h.ing.Submit(ctx, "doc-6"))
	first := h.waitFor(t, "doc-6", models.StateCompleted)

	require.NoError(t, h.ing.Resubmit(ctx, "doc-6"))
	var second *models.Document
	require.Eventually(t, func() bool {
		d, err := h.docs.Get(ctx, "doc-6")
		if err != nil {
			return false
		}
		second = d
		return d.Status == models.StateCompleted && d.Job.ID != first.Job.ID
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, second.ChunkCount)
	assert.Equal(t, 3, h.store.Count("doc-6"))
}

func TestDeleteDuringJobLeavesNoChunks(t *testing.T) {
	gate := make(chan struct{})
	x := &fakes.Extractor{Doc: threePageDocument(), Gate: gate}
	h := newHarness(t, withExtractor(x))
	h.start(t)
	h.upload(t, "doc-7", []byte("%PDF-1.4 stub"))
	ctx := context.Background()

	require.NoError(t, h.ing.Submit(ctx, "doc-7"))
	require.Eventually(t, func() bool { return x.Calls() == 1 }, 5*time.Second, 5*time.Millisecond)

	// the job notices the missing record at its next checkpoint
	require.NoError(t, h.docs.Delete(ctx, "doc-7"))
	close(gate)

	require.Eventually(t, func() bool {
		_, loaded := h.ing.inflight.Load("doc-7")
		return !loaded
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.store.Count("doc-7"))
	_, err := h.docs.Get(ctx, "doc-7")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestCancelStopsRunningJob(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	x := &fakes.Extractor{Doc: threePageDocument(), Gate: gate}
	h := newHarness(t, withExtractor(x))
	h.start(t)
	h.upload(t, "doc-8", []byte("%PDF-1.4 stub"))
	ctx := context.Background()

	require.NoError(t, h.ing.Submit(ctx, "doc-8"))
	require.Eventually(t, func() bool { return x.Calls() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.docs.Delete(ctx, "doc-8"))
	h.ing.Cancel("doc-8")

	require.Eventually(t, func() bool {
		_, loaded := h.ing.inflight.Load("doc-8")
		return !loaded
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.emb.DocumentCalls())
	assert.Equal(t, 0, h.store.Count("doc-8"))
}

func TestPublishFailureMarksDocumentFailed(t *testing.T) {
	h := newHarness(t)
	uploaded := h.upload(t, "doc-9", []byte("%PDF-1.4 stub"))
	require.NoError(t, h.queue.Close())

	err := h.ing.Submit(context.Background(), "doc-9")
	assert.ErrorIs(t, err, queue.ErrClosed)

	doc, err := h.docs.Get(context.Background(), "doc-9")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, doc.Status)
	assert.Contains(t, doc.Error, "enqueue")

	_, err = h.obj.GetFile(context.Background(), uploaded.StorageKey)
	assert.ErrorIs(t, err, core.ErrObjectNotFound)
	assert.ErrorIs(t, h.ing.Resubmit(context.Background(), "doc-9"), core.ErrFileGone)
}

func TestNewDocumentIngestorValidates(t *testing.T) {
	_, err := NewDocumentIngestor(Deps{}, IngestConfig{})
	assert.Error(t, err)
}
