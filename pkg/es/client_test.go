package es

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cogni-rag-go/internal/config"
	"cogni-rag-go/internal/model"
	"cogni-rag-go/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeES 模拟 Elasticsearch 的最小接口集合。
type fakeES struct {
	mu        sync.Mutex
	exists    bool
	created   string
	bulkLines []string
	search    map[string]any
	bulkResp  string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/docs":
		if f.exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/docs":
		var body strings.Builder
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			body.WriteString(sc.Text())
		}
		f.created = body.String()
		f.exists = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.Method == http.MethodDelete && r.URL.Path == "/docs":
		f.exists = false
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		for sc.Scan() {
			f.bulkLines = append(f.bulkLines, sc.Text())
		}
		if f.bulkResp != "" {
			_, _ = w.Write([]byte(f.bulkResp))
			return
		}
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	case strings.HasSuffix(r.URL.Path, "/_search"):
		f.search = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&f.search)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"1","_score":0.9,"_source":{"content":"X is a widget","source":"a.txt"}},
			{"_id":"2","_score":0.5,"_source":{"content":"Y is a gadget","source":"b.txt"}}
		]}}`))
	case strings.HasSuffix(r.URL.Path, "/_count"):
		_, _ = w.Write([]byte(`{"count":42}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{}`))
	}
}

func newTestIndex(t *testing.T, fake *fakeES) *Index {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	idx, err := NewIndex(context.Background(), config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "docs"}, 3)
	require.NoError(t, err)
	return idx
}

func TestNewIndex_CreatesMappingWithDimension(t *testing.T) {
	fake := &fakeES{}
	newTestIndex(t, fake)
	assert.Contains(t, fake.created, `"dims": 3`)
	assert.Contains(t, fake.created, `"content_vector"`)
}

func TestUpsert_WritesNDJSONPairs(t *testing.T) {
	fake := &fakeES{exists: true}
	idx := newTestIndex(t, fake)

	err := idx.Upsert(context.Background(), []model.IndexedEntry{
		{ID: "a", Content: "first", Vector: []float32{1, 2, 3}, Category: model.DefaultCategory},
		{ID: "b", Content: "second", Vector: []float32{4, 5, 6}, Category: model.DefaultCategory},
	})
	require.NoError(t, err)
	require.Len(t, fake.bulkLines, 4)
	assert.Contains(t, fake.bulkLines[0], `"_id":"a"`)
	assert.Contains(t, fake.bulkLines[1], `"content":"first"`)
	assert.Contains(t, fake.bulkLines[3], `"content_vector":[4,5,6]`)
}

func TestUpsert_RejectsWrongDimension(t *testing.T) {
	idx := newTestIndex(t, &fakeES{exists: true})
	err := idx.Upsert(context.Background(), []model.IndexedEntry{{ID: "a", Vector: []float32{1}}})
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)
}

func TestUpsert_ItemError(t *testing.T) {
	fake := &fakeES{exists: true, bulkResp: `{"errors":true,"items":[{"index":{"_id":"a","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad vector"}}}]}`}
	idx := newTestIndex(t, fake)
	err := idx.Upsert(context.Background(), []model.IndexedEntry{{ID: "a", Vector: []float32{1, 2, 3}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad vector")
}

func TestSearch_KNNQueryAndDecode(t *testing.T) {
	fake := &fakeES{exists: true}
	idx := newTestIndex(t, fake)

	hits, err := idx.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "X is a widget", hits[0].Content)
	assert.Equal(t, "a.txt", hits[0].Source)
	assert.Equal(t, 0.9, hits[0].Score)

	knn, ok := fake.search["knn"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "content_vector", knn["field"])
	assert.Equal(t, float64(5), knn["k"])
	assert.Equal(t, []any{"content", "source"}, fake.search["_source"])
}

func TestCountAndReset(t *testing.T) {
	fake := &fakeES{exists: true}
	idx := newTestIndex(t, fake)

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	fake.created = ""
	require.NoError(t, idx.Reset(context.Background()))
	assert.True(t, fake.exists)
	assert.NotEmpty(t, fake.created)
}

func TestNewTransport_VerifiesCertificatesByDefault(t *testing.T) {
	tr := newTransport(config.ElasticsearchConfig{})
	if tr.TLSClientConfig != nil {
		assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
	}

	tr = newTransport(config.ElasticsearchConfig{InsecureSkipVerify: true})
	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}
