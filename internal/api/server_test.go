package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"medrag/internal/bootstrap"
	"medrag/internal/config"
	"medrag/internal/domain"
)

const testKey = "test-key"

const guideline = "Hypertension guidelines recommend measuring blood pressure at every routine visit for adults."

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newApp(t *testing.T) *bootstrap.App {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Translator.Type = "none"
	app, err := bootstrap.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	app := newApp(t)
	srv := NewServer(Deps{
		Ingester:  app.Ingestion,
		Retriever: app.Retrieval,
		Generator: app.Generation,
		Stats:     app.Index,
		History:   app.Ledger,
	}, testKey, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, req *http.Request, key string) (int, envelope) {
	t.Helper()
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func uploadRequest(t *testing.T, url, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, url+"/ingest", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthNeedsNoKey(t *testing.T) {
	ts := newTestServer(t)
	status, env := do(t, jsonRequest(t, http.MethodGet, ts.URL+"/health", nil), "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Status)
}

func TestAPIKeyRequired(t *testing.T) {
	ts := newTestServer(t)
	for _, key := range []string{"", "wrong"} {
		status, env := do(t, jsonRequest(t, http.MethodGet, ts.URL+"/stats", nil), key)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.False(t, env.Status)
		assert.Equal(t, "Invalid API key", env.Message)
	}
}

func TestIngestRetrieveGenerateFlow(t *testing.T) {
	ts := newTestServer(t)

	status, env := do(t, uploadRequest(t, ts.URL, "bp.txt", []byte(guideline)), testKey)
	require.Equal(t, http.StatusOK, status)
	require.True(t, env.Status)
	assert.Equal(t, "success", env.Message)
	var ingest map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &ingest))
	assert.Equal(t, "Document ingested successfully", ingest["message"])
	assert.Equal(t, "en", ingest["language"])
	assert.Equal(t, float64(1), ingest["chunks_processed"])
	assert.NotEmpty(t, ingest["document_id"])
	assert.NotContains(t, ingest, "persisted")

	_, env = do(t, uploadRequest(t, ts.URL, "bp.txt", []byte(guideline)), testKey)
	require.NoError(t, json.Unmarshal(env.Data, &ingest))
	assert.Equal(t, "Document bp.txt already exists", ingest["message"])
	assert.Equal(t, float64(0), ingest["chunks_processed"])

	status, env = do(t, jsonRequest(t, http.MethodPost, ts.URL+"/retrieve", RetrieveRequest{Query: "blood pressure visits"}), testKey)
	require.Equal(t, http.StatusOK, status)
	var retrieved struct {
		Documents []retrievedDocument `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &retrieved))
	require.Len(t, retrieved.Documents, 1)
	assert.Equal(t, guideline, retrieved.Documents[0].Content)

	status, env = do(t, jsonRequest(t, http.MethodPost, ts.URL+"/generate", GenerateRequest{
		Query:     "blood pressure visits",
		Documents: []ProvidedDocument{{Content: guideline, SimilarityScore: 0.8}},
	}), testKey)
	require.Equal(t, http.StatusOK, status)
	var gen domain.GenerationResult
	require.NoError(t, json.Unmarshal(env.Data, &gen))
	assert.Equal(t, "blood pressure visits", gen.Query)
	assert.Contains(t, gen.ResponseEN, guideline)

	status, env = do(t, jsonRequest(t, http.MethodGet, ts.URL+"/stats", nil), testKey)
	require.Equal(t, http.StatusOK, status)
	var st domain.IndexStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.TotalDocuments)
	assert.Equal(t, 384, st.Dimension)

	status, env = do(t, jsonRequest(t, http.MethodGet, ts.URL+"/documents?limit=1", nil), testKey)
	require.Equal(t, http.StatusOK, status)
	var docs struct {
		Documents []map[string]any `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &docs))
	require.Len(t, docs.Documents, 1)
	assert.Contains(t, docs.Documents[0]["message"], "already exists")
}

func TestIngestRejectsBadUploads(t *testing.T) {
	ts := newTestServer(t)

	status, env := do(t, uploadRequest(t, ts.URL, "notes.pdf", []byte(guideline)), testKey)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Status)
	assert.Equal(t, "Only .txt files are supported", env.Message)
	assert.Equal(t, "null", string(env.Data))

	status, env = do(t, uploadRequest(t, ts.URL, "notes.txt", []byte{0xff, 0xfe}), testKey)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "File must be valid UTF-8 encoded text", env.Message)

	req := jsonRequest(t, http.MethodPost, ts.URL+"/ingest", map[string]string{"file": "x"})
	status, env = do(t, req, testKey)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "fail", env.Message)
}

func TestRetrieveValidatesBody(t *testing.T) {
	ts := newTestServer(t)

	status, env := do(t, jsonRequest(t, http.MethodPost, ts.URL+"/retrieve", map[string]string{}), testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "fail", env.Message)
	assert.Contains(t, string(env.Data), "Query")

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/retrieve", strings.NewReader("{not json"))
	require.NoError(t, err)
	status, env = do(t, req, testKey)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, env.Status)

	status, _ = do(t, jsonRequest(t, http.MethodPost, ts.URL+"/generate", map[string]any{
		"documents": []ProvidedDocument{{Content: guideline}},
	}), testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestGenerateAcceptsEmptyProvidedContent(t *testing.T) {
	ts := newTestServer(t)

	status, env := do(t, jsonRequest(t, http.MethodPost, ts.URL+"/generate", GenerateRequest{
		Query:     "q",
		Documents: []ProvidedDocument{{Content: ""}},
	}), testKey)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Status)
	var gen domain.GenerationResult
	require.NoError(t, json.Unmarshal(env.Data, &gen))
	assert.Equal(t, "q", gen.Query)
	assert.NotEmpty(t, gen.ResponseEN)
}

func TestDocumentsLimitValidation(t *testing.T) {
	ts := newTestServer(t)
	status, _ := do(t, jsonRequest(t, http.MethodGet, ts.URL+"/documents?limit=abc", nil), testKey)
	assert.Equal(t, http.StatusBadRequest, status)
}

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string) ([]domain.DocumentResult, error) {
	args := m.Called(ctx, query)
	docs, _ := args.Get(0).([]domain.DocumentResult)
	return docs, args.Error(1)
}

func TestFailuresAndPanicsBecomeEnvelopes(t *testing.T) {
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "boom").Return(nil, errors.New("index unavailable"))
	r.On("Retrieve", mock.Anything, "panic").Run(func(mock.Arguments) { panic("bad state") })
	ts := httptest.NewServer(NewServer(Deps{Retriever: r}, testKey, nil).Router())
	defer ts.Close()

	status, env := do(t, jsonRequest(t, http.MethodPost, ts.URL+"/retrieve", RetrieveRequest{Query: "boom"}), testKey)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"index unavailable"}`, string(env.Data))

	status, env = do(t, jsonRequest(t, http.MethodPost, ts.URL+"/retrieve", RetrieveRequest{Query: "panic"}), testKey)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, env.Status)
	assert.JSONEq(t, `{"error":"internal server error"}`, string(env.Data))

	status, env = do(t, jsonRequest(t, http.MethodGet, ts.URL+"/documents", nil), testKey)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Status)
}
