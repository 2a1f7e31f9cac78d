package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cogni-rag-go/internal/model"
	"cogni-rag-go/internal/pipeline"
	"cogni-rag-go/internal/service"
	"cogni-rag-go/pkg/storage"
	"cogni-rag-go/pkg/tasks"
	"cogni-rag-go/pkg/token"
	"cogni-rag-go/pkg/vectorindex"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuery struct {
	res *service.QueryResult
	err error

	question string
	topK     int
}

func (f *fakeQuery) Query(_ context.Context, question string, topK int) (*service.QueryResult, error) {
	f.question, f.topK = question, topK
	return f.res, f.err
}

type fakeIngest struct {
	run    *model.IngestRun
	runErr error
	runs   []model.IngestRun
}

func (f *fakeIngest) Run(context.Context, string) (*model.IngestRun, error) { return f.run, f.runErr }
func (f *fakeIngest) Enqueue(context.Context, string) (*model.IngestRun, error) {
	return f.run, f.runErr
}
func (f *fakeIngest) Process(context.Context, tasks.IngestTask) error { return nil }
func (f *fakeIngest) GetRun(_ context.Context, id string) (*model.IngestRun, error) {
	if f.run != nil && f.run.ID == id {
		return f.run, nil
	}
	return nil, service.ErrRunNotFound
}
func (f *fakeIngest) ListRuns(context.Context, int) ([]model.IngestRun, error) { return f.runs, nil }

type testEnv struct {
	router *gin.Engine
	query  *fakeQuery
	ingest *fakeIngest
	store  *storage.MemoryStore
	user   string
	admin  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwt := token.NewJWTManager("test-secret", 1)
	user, err := jwt.GenerateToken("reader", "USER")
	require.NoError(t, err)
	admin, err := jwt.GenerateToken("ops", token.RoleAdmin)
	require.NoError(t, err)

	env := &testEnv{
		query:  &fakeQuery{},
		ingest: &fakeIngest{},
		store:  storage.NewMemoryStore(),
		user:   user,
		admin:  admin,
	}
	idx := vectorindex.NewMemory(1)
	rag := NewRAGHandler(env.ingest, env.query, service.NewIndexService(idx, "memory"))
	docs := NewDocumentHandler(service.NewDocumentService(env.store, nil, []string{".txt", ".md"}))
	env.router = NewRouter("", jwt, rag, docs)
	return env
}

func (e *testEnv) do(method, path, bearer string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthzIsOpen(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQuery_Answered(t *testing.T) {
	env := newTestEnv(t)
	env.query.res = &service.QueryResult{Outcome: service.OutcomeAnswered, Answer: "X is a widget.", Sources: []string{"X is a widget"}}

	w := env.do(http.MethodPost, "/api/v1/rag/query", env.user, strings.NewReader(`{"question":"What is X?","topK":3}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "What is X?", env.query.question)
	assert.Equal(t, 3, env.query.topK)

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "answered", data["outcome"])
	assert.Equal(t, []any{"X is a widget"}, data["sources"])
}

func TestQuery_DegradedStill200(t *testing.T) {
	env := newTestEnv(t)
	env.query.res = &service.QueryResult{Outcome: service.OutcomeDegraded, Answer: "error", Sources: []string{"boom"}}

	w := env.do(http.MethodPost, "/api/v1/rag/query", env.user, strings.NewReader(`{"question":"q"}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["data"].(map[string]any)["outcome"])
}

func TestQuery_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/rag/query", env.user, strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.query.err = service.ErrEmptyQuestion
	w = env.do(http.MethodPost, "/api/v1/rag/query", env.user, strings.NewReader(`{"question":"  "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.query.err = service.ErrQuestionRejected
	w = env.do(http.MethodPost, "/api/v1/rag/query", env.user, strings.NewReader(`{"question":"bad"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/rag/query", "", strings.NewReader(`{"question":"q"}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngest_RequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.ingest.run = &model.IngestRun{ID: "r1", Status: model.RunStatusSucceeded, ChunkCount: 4}

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/v1/rag/ingest", env.user, nil, "").Code)

	w := env.do(http.MethodPost, "/api/v1/rag/ingest", env.admin, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(4), decode(t, w)["data"].(map[string]any)["chunkCount"])
}

func TestIngest_StatusMapping(t *testing.T) {
	env := newTestEnv(t)

	env.ingest.runErr = pipeline.ErrNoDocuments
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/rag/ingest", env.admin, nil, "").Code)

	env.ingest.run = &model.IngestRun{ID: "r2", Status: model.RunStatusFailed}
	env.ingest.runErr = errors.New("embedding provider unavailable")
	w := env.do(http.MethodPost, "/api/v1/rag/ingest", env.admin, nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "embedding provider unavailable", body["error"])
	assert.Equal(t, "r2", body["data"].(map[string]any)["id"])

	env.ingest.runErr = service.ErrAsyncDisabled
	assert.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodPost, "/api/v1/rag/ingest?async=true", env.admin, nil, "").Code)

	env.ingest.runErr = nil
	env.ingest.run = &model.IngestRun{ID: "r3", Status: model.RunStatusQueued}
	assert.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/api/v1/rag/ingest?async=true", env.admin, nil, "").Code)
}

func TestRuns(t *testing.T) {
	env := newTestEnv(t)
	env.ingest.run = &model.IngestRun{ID: "r1"}

	w := env.do(http.MethodGet, "/api/v1/rag/ingest/runs", env.user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decode(t, w)["data"])

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/rag/ingest/runs/r1", env.user, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/rag/ingest/runs/nope", env.user, nil, "").Code)
}

func TestIndexStatsAndReset(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/v1/rag/index/stats", env.user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "memory", decode(t, w)["data"].(map[string]any)["backend"])

	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, "/api/v1/rag/index", env.user, nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/v1/rag/index", env.admin, nil, "").Code)
}

func multipartBody(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestDocuments_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "faq.txt", "Q: what?\n\nA: that.")
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/v1/documents", env.user, body, ct).Code)

	body, ct = multipartBody(t, "faq.txt", "Q: what?\n\nA: that.")
	w := env.do(http.MethodPost, "/api/v1/documents", env.admin, body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "/api/v1/documents", env.user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	docs := decode(t, w)["data"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "faq.txt", docs[0].(map[string]any)["name"])

	w = env.do(http.MethodGet, "/api/v1/documents/preview?name=faq.txt", env.user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Q: what?\n\nA: that.", decode(t, w)["data"].(map[string]any)["content"])

	w = env.do(http.MethodGet, "/api/v1/documents/download?name=faq.txt", env.user, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "memory://faq.txt", decode(t, w)["data"].(map[string]any)["downloadUrl"])

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/v1/documents/faq.txt", env.admin, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/api/v1/documents/faq.txt", env.admin, nil, "").Code)
}

func TestDocuments_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Put(context.Background(), "scan.pdf", strings.NewReader("%PDF"), 4, "application/pdf"))

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/documents/download", env.user, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/documents/preview?name=none.txt", env.user, nil, "").Code)
	assert.Equal(t, http.StatusUnsupportedMediaType, env.do(http.MethodGet, "/api/v1/documents/preview?name=scan.pdf", env.user, nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/documents", env.admin, strings.NewReader("x"), "text/plain").Code)
}
