package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/api/handlers"
	"github.com/markdave123-py/documind/internal/config"
	"github.com/markdave123-py/documind/internal/models"
)

const notes = `The lighthouse keeper logs the weather every morning at six.
Storm warnings are raised when the barometer falls below 990 hectopascals.
The lamp is cleaned on Sundays and the lens is polished once a month.`

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.UploadDir = t.TempDir()
	cfg.EmbedProvider = "fake"
	cfg.GenProvider = "fake"
	cfg.EmbedDim = 64
	cfg.AllowedExtensions = []string{".pdf", ".txt"}
	cfg.RetryBaseDelay = time.Millisecond
	cfg.ChatMinScore = 0
	cfg.SearchMinScore = 0
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := NewApp(ctx, cfg)
	require.NoError(t, err)
	a.StartWorkers(ctx)

	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		assert.NoError(t, a.Close())
	})
	return srv
}

func upload(t *testing.T, base, name string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(base+"/api/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func statusOf(base, id string) (models.ProcessingState, int) {
	resp, err := http.Get(base + "/api/documents/" + id + "/status")
	if err != nil {
		return "", 0
	}
	defer resp.Body.Close()
	var doc handlers.DocumentResponse
	_ = json.NewDecoder(resp.Body).Decode(&doc)
	return doc.Status, resp.StatusCode
}

// searchTotal returns -1 on any failure so it can run inside Eventually.
func searchTotal(base, query string) int {
	b, _ := json.Marshal(handlers.SearchRequest{Query: query})
	resp, err := http.Post(base+"/api/search", "application/json", bytes.NewReader(b))
	if err != nil {
		return -1
	}
	defer resp.Body.Close()
	var res handlers.SearchResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&res) != nil {
		return -1
	}
	return res.TotalResults
}

func TestNewAppRejectsUnknownBackend(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.QueueBackend = "carrier-pigeon"
	_, err := NewApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	cfg := offlineConfig(t)
	srv := startApp(t, cfg)

	resp := upload(t, srv.URL, "keeper.txt", []byte(notes))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	doc := decode[handlers.DocumentResponse](t, resp)
	require.NotEmpty(t, doc.ID)
	assert.Equal(t, "keeper.txt", doc.FileName)

	require.Eventually(t, func() bool {
		state, _ := statusOf(srv.URL, doc.ID)
		return state == models.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	resp = postJSON(t, srv.URL+"/api/chat", handlers.ChatRequest{Message: "When are storm warnings raised?", DocumentID: doc.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chat := decode[handlers.ChatResponse](t, resp)
	assert.Equal(t, offlineReply, chat.Response)
	assert.Equal(t, doc.ID, chat.DocumentID)
	require.NotEmpty(t, chat.Sources)

	resp = postJSON(t, srv.URL+"/api/search", handlers.SearchRequest{Query: "barometer storm warnings"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	found := decode[handlers.SearchResponse](t, resp)
	require.NotZero(t, found.TotalResults)
	for _, item := range found.Results {
		assert.Equal(t, doc.ID, item.DocumentID)
		assert.Equal(t, "keeper.txt", item.FileName)
	}

	file, err := http.Get(srv.URL + "/api/files/" + doc.ID)
	require.NoError(t, err)
	defer file.Body.Close()
	assert.Equal(t, http.StatusOK, file.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/documents/"+doc.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, code := statusOf(srv.URL, doc.ID)
	assert.Equal(t, http.StatusNotFound, code)

	require.Eventually(t, func() bool {
		return searchTotal(srv.URL, "barometer storm warnings") == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cfg.UploadDir, "documents", doc.ID))
		return errors.Is(err, fs.ErrNotExist)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestChatOnUnknownDocument(t *testing.T) {
	srv := startApp(t, offlineConfig(t))

	resp := postJSON(t, srv.URL+"/api/chat", handlers.ChatRequest{Message: "anything?", DocumentID: "missing"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadRejectsDisallowedExtension(t *testing.T) {
	srv := startApp(t, offlineConfig(t))

	resp := upload(t, srv.URL, "photo.png", []byte("not really a png"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHealthReportsEveryService(t *testing.T) {
	srv := startApp(t, offlineConfig(t))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[handlers.HealthResponse](t, resp)

	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, Version, health.Version)
	for _, name := range []string{"document_processor", "storage", "vector_store", "embeddings", "llm"} {
		assert.Equal(t, "healthy", health.Services[name].Status, name)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := offlineConfig(t)
	srv := startApp(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/documents", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", cfg.CORSOrigins[0])
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, cfg.CORSOrigins[0], resp.Header.Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), http.MethodDelete))
}
