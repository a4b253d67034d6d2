package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundscribe/cvasr/internal/manifest"
)

func loadManifest(t *testing.T, csv string) *manifest.Manifest {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	m, err := manifest.Load(path)
	require.NoError(t, err)
	return m
}

func TestDocumentsFromManifest(t *testing.T) {
	csv := `filename,text,up_votes,down_votes,age,gender,accent,duration,transcription,duration
a.mp3,ground truth a,1,0,twenties,female,us,,hello there,2.50
b.mp3,ground truth b,2,0,,,,,,
`
	m := loadManifest(t, csv)
	docs := DocumentsFromManifest(m)
	require.Len(t, docs, 2)

	assert.Equal(t, Document{
		Filename:      "a.mp3",
		Transcription: "hello there",
		Duration:      2.5,
		Age:           "twenties",
		Gender:        "female",
		Accent:        "us",
	}, docs[0])

	// sparse row gets the documented fallbacks, and the ground-truth text
	// never leaks into the document
	assert.Equal(t, missingTranscription, docs[1].Transcription)
	assert.Equal(t, 0.0, docs[1].Duration)
	assert.Equal(t, missingDemographic, docs[1].Age)
	assert.Equal(t, missingDemographic, docs[1].Gender)
	assert.Equal(t, missingAccent, docs[1].Accent)
	for _, d := range docs {
		assert.NotContains(t, d.Transcription, "ground truth")
	}
}

func TestDocumentsFromManifestErrorSentinel(t *testing.T) {
	csv := `filename,text,age,gender,accent,transcription,duration
a.mp3,x,,,,Error: 500,Error: 500
`
	m := loadManifest(t, csv)
	docs := DocumentsFromManifest(m)
	require.Len(t, docs, 1)
	// a sentinel duration is not a float; it indexes as 0
	assert.Equal(t, "Error: 500", docs[0].Transcription)
	assert.Equal(t, 0.0, docs[0].Duration)
}

// fakeES emulates just enough of the cluster API for the indexer: product
// header, exists/delete/create, _bulk, refresh, count.
type fakeES struct {
	mu         sync.Mutex
	hasIndex   bool
	bulkDocs   int
	createBody string
}

func (f *fakeES) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodHead:
			if f.hasIndex {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodDelete:
			f.hasIndex = false
			fmt.Fprint(w, `{"acknowledged":true}`)
		case r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			f.createBody = string(body)
			f.hasIndex = true
			fmt.Fprint(w, `{"acknowledged":true}`)
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			body, _ := io.ReadAll(r.Body)
			lines := strings.Split(strings.TrimSpace(string(body)), "\n")
			n := len(lines) / 2 // action line + source line per doc
			f.bulkDocs += n
			items := make([]map[string]any, 0, n)
			for i := 0; i < n; i++ {
				items = append(items, map[string]any{"index": map[string]any{"status": 201}})
			}
			json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})
		case strings.HasSuffix(r.URL.Path, "/_refresh"):
			fmt.Fprint(w, `{}`)
		case strings.HasSuffix(r.URL.Path, "/_count"):
			json.NewEncoder(w).Encode(map[string]any{"count": f.bulkDocs})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newFakeIndexer(t *testing.T, f *fakeES) *Indexer {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	ix, err := New(Config{EndpointURL: srv.URL, Index: "cv-transcriptions"})
	require.NoError(t, err)
	return ix
}

func TestEnsureIndex(t *testing.T) {
	t.Run("creates with mapping", func(t *testing.T) {
		f := &fakeES{}
		ix := newFakeIndexer(t, f)
		require.NoError(t, ix.EnsureIndex(context.Background(), false))
		assert.True(t, f.hasIndex)
		assert.Contains(t, f.createBody, `"transcription"`)
		assert.Contains(t, f.createBody, `"float"`)
	})

	t.Run("refuses existing without recreate", func(t *testing.T) {
		f := &fakeES{hasIndex: true}
		ix := newFakeIndexer(t, f)
		err := ix.EnsureIndex(context.Background(), false)
		assert.ErrorIs(t, err, ErrIndexExists)
	})

	t.Run("recreates on demand", func(t *testing.T) {
		f := &fakeES{hasIndex: true}
		ix := newFakeIndexer(t, f)
		require.NoError(t, ix.EnsureIndex(context.Background(), true))
		assert.True(t, f.hasIndex)
		assert.NotEmpty(t, f.createBody)
	})
}

func TestBulkAndRefresh(t *testing.T) {
	f := &fakeES{}
	ix := newFakeIndexer(t, f)
	require.NoError(t, ix.EnsureIndex(context.Background(), false))

	docs := []Document{
		{Filename: "a.mp3", Transcription: "one", Duration: 1},
		{Filename: "b.mp3", Transcription: "two", Duration: 2},
		{Filename: "c.mp3", Transcription: "three", Duration: 3},
	}
	stats, err := ix.Bulk(context.Background(), docs)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.NumAdded)
	assert.EqualValues(t, 0, stats.NumFailed)

	count, err := ix.Refresh(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}
