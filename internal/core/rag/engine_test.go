package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/core/docstore"
	"github.com/markdave123-py/documind/internal/core/embedding"
	"github.com/markdave123-py/documind/internal/core/fakes"
	"github.com/markdave123-py/documind/internal/core/generation"
	"github.com/markdave123-py/documind/internal/core/index"
	"github.com/markdave123-py/documind/internal/core/index/memory"
	"github.com/markdave123-py/documind/internal/models"
)

const dim = 256

// countingStore records whether the index was queried.
type countingStore struct {
	*memory.Store
	searches int
}

func (c *countingStore) Search(ctx context.Context, v []float32, doc string, limit int) ([]models.SearchHit, error) {
	c.searches++
	return c.Store.Search(ctx, v, doc, limit)
}

type fixture struct {
	docs  *docstore.MemoryStore
	store *countingStore
	emb   *fakes.Embedder
	llm   *fakes.LLM
	idx   *index.Gateway
	eng   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		docs:  docstore.NewMemoryStore(),
		store: &countingStore{Store: memory.New(dim)},
		emb:   fakes.NewEmbedder(dim),
		llm:   fakes.NewLLM("Refunds are issued within 30 days (Page 2)."),
	}
	emb, err := embedding.NewGateway(f.emb, embedding.Options{Dimension: dim})
	require.NoError(t, err)
	f.idx, err = index.NewGateway(f.store, index.Options{Dimension: dim, BatchSize: 10})
	require.NoError(t, err)
	gen, err := generation.NewGateway(f.llm, generation.Options{HistoryWindow: 10})
	require.NoError(t, err)
	f.eng, err = NewEngine(f.docs, emb, f.idx, gen, Options{ChatLimit: 5, ChatMinScore: 0.5, SearchLimit: 10, SearchMinScore: 0.3})
	require.NoError(t, err)
	return f
}

func (f *fixture) addDocument(t *testing.T, id string, state models.ProcessingState, texts ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.docs.Create(ctx, &models.Document{ID: id, FileName: id + ".pdf", Status: state}))
	var chunks []models.Chunk
	for i, txt := range texts {
		chunks = append(chunks, models.Chunk{
			ID:         id + "-" + string(rune('a'+i)),
			DocumentID: id,
			FileName:   id + ".pdf",
			Index:      i,
			Text:       txt,
			Page:       i + 1,
			Embedding:  fakes.HashVector(txt, dim),
		})
	}
	if len(chunks) > 0 {
		require.NoError(t, f.idx.Upsert(ctx, id, chunks))
	}
}

func TestChatReturnsGroundedAnswer(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "policy", models.StateCompleted,
		"Shipping takes five business days.",
		"Refunds are issued within 30 days of purchase.",
	)

	ans, err := f.eng.Chat(context.Background(), ChatRequest{
		DocumentID: "policy",
		Message:    "refunds are issued within how many days of purchase",
		History:    []models.ChatTurn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "policy", ans.DocumentID)
	assert.Equal(t, "Refunds are issued within 30 days (Page 2).", ans.Text)
	require.NotEmpty(t, ans.Citations)
	assert.Equal(t, 2, ans.Citations[0].Page)
	for i := 1; i < len(ans.Citations); i++ {
		assert.GreaterOrEqual(t, ans.Citations[i-1].Score, ans.Citations[i].Score)
	}
	for _, c := range ans.Citations {
		assert.GreaterOrEqual(t, c.Score, 0.5)
	}
	assert.Positive(t, ans.Latency)

	req := f.llm.LastRequest()
	assert.Contains(t, req.Prompt, "Document: policy.pdf")
	assert.Len(t, req.History, 2)
	assert.Equal(t, 1, f.emb.QueryCalls())
}

func TestChatOnUnfinishedDocumentNeverTouchesIndex(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "pending", models.StateProcessing)

	_, err := f.eng.Chat(context.Background(), ChatRequest{DocumentID: "pending", Message: "anything"})
	var notReady *core.DocumentNotReadyError
	require.True(t, errors.As(err, &notReady))
	assert.Equal(t, models.StateProcessing, notReady.State)

	assert.Equal(t, 0, f.store.searches)
	assert.Equal(t, 0, f.emb.QueryCalls())
	assert.Equal(t, 0, f.llm.Calls())
}

func TestChatUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Chat(context.Background(), ChatRequest{DocumentID: "nope", Message: "q"})
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)

	_, err = f.eng.Chat(context.Background(), ChatRequest{DocumentID: "nope", Message: "  "})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestUnanswerableQuestionStillCallsGeneration(t *testing.T) {
	f := newFixture(t)
	f.llm.Reply = "The document does not cover that."
	f.addDocument(t, "policy", models.StateCompleted, "Shipping takes five business days.")

	ans, err := f.eng.Chat(context.Background(), ChatRequest{DocumentID: "policy", Message: "who won the 1998 world cup"})
	require.NoError(t, err)
	assert.Empty(t, ans.Citations)
	assert.Equal(t, 1, f.llm.Calls())
	assert.Contains(t, f.llm.LastRequest().Prompt, generation.NoContext)
}

func TestProviderErrorsPassThrough(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "policy", models.StateCompleted, "Shipping takes five business days.")
	f.llm.Err = errors.New("quota")

	_, err := f.eng.Chat(context.Background(), ChatRequest{DocumentID: "policy", Message: "shipping days"})
	assert.ErrorIs(t, err, core.ErrGenerationProvider)
}

func TestSearchScopesAndClamps(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "a", models.StateCompleted, "solar panels convert sunlight", "solar power storage batteries")
	f.addDocument(t, "b", models.StateCompleted, "solar panels on the roof")

	res, err := f.eng.Search(context.Background(), SearchRequest{Query: "solar panels", DocumentID: "a", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, "solar panels", res.Query)
	require.NotEmpty(t, res.Items)
	for _, it := range res.Items {
		assert.Equal(t, "a", it.DocumentID)
		assert.Equal(t, "a.pdf", it.FileName)
	}

	all, err := f.eng.Search(context.Background(), SearchRequest{Query: "solar panels"})
	require.NoError(t, err)
	docs := map[string]bool{}
	for _, it := range all.Items {
		docs[it.DocumentID] = true
	}
	assert.True(t, docs["a"])
	assert.True(t, docs["b"])

	_, err = f.eng.Search(context.Background(), SearchRequest{Query: "solar", DocumentID: "missing"})
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	_, err = f.eng.Search(context.Background(), SearchRequest{Query: ""})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestSearchAfterDeleteReturnsNothing(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "a", models.StateCompleted, "solar panels convert sunlight")
	f.addDocument(t, "b", models.StateCompleted, "solar panels on the roof")

	n, err := f.idx.DeleteByDocument(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := f.eng.Search(context.Background(), SearchRequest{Query: "solar panels"})
	require.NoError(t, err)
	for _, it := range res.Items {
		assert.NotEqual(t, "a", it.DocumentID)
	}
}
