// Package search loads a decoded manifest into an Elasticsearch index so the
// generated search UI can query it. Only the documented client API is used;
// query semantics belong to the search backend.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/rs/zerolog/log"

	"github.com/soundscribe/cvasr/internal/manifest"
)

// ErrIndexExists is returned by EnsureIndex when the index is already
// present and recreation was not requested.
var ErrIndexExists = errors.New("index already exists")

// Fallback values for sparse Common Voice metadata.
const (
	missingTranscription = "no transcription due to .mp3 file issue"
	missingDemographic   = "undisclosed"
	missingAccent        = "to be advised"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "filename":      {"type": "keyword"},
      "transcription": {"type": "text"},
      "duration":      {"type": "float"},
      "age":           {"type": "keyword"},
      "gender":        {"type": "keyword"},
      "accent":        {"type": "keyword"}
    }
  }
}`

// Config holds the connection settings for the cluster.
type Config struct {
	EndpointURL     string
	Username        string
	Password        string
	CACertPath      string
	CertFingerprint string
	Index           string
}

// Document is one indexed manifest row. The ground-truth text and vote
// columns are deliberately not indexed.
type Document struct {
	Filename      string  `json:"filename"`
	Transcription string  `json:"transcription"`
	Duration      float64 `json:"duration"`
	Age           string  `json:"age"`
	Gender        string  `json:"gender"`
	Accent        string  `json:"accent"`
}

// Indexer wraps an Elasticsearch client bound to one index.
type Indexer struct {
	es    *elasticsearch.Client
	index string
}

// New connects to the cluster described by cfg.
func New(cfg Config) (*Indexer, error) {
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("endpoint URL cannot be empty")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("index name cannot be empty")
	}

	esCfg := elasticsearch.Config{
		Addresses:              []string{cfg.EndpointURL},
		Username:               cfg.Username,
		Password:               cfg.Password,
		CertificateFingerprint: cfg.CertFingerprint,
	}
	if cfg.CACertPath != "" {
		ca, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		esCfg.CACert = ca
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Indexer{es: es, index: cfg.Index}, nil
}

// DocumentsFromManifest converts manifest rows into indexable documents,
// filling the sparse metadata fields the way the search UI expects.
func DocumentsFromManifest(m *manifest.Manifest) []Document {
	docs := make([]Document, m.Len())
	for i := 0; i < m.Len(); i++ {
		transcription, durationCell := m.Result(i)
		if transcription == "" {
			transcription = missingTranscription
		}
		duration := 0.0
		if v, err := strconv.ParseFloat(strings.TrimSpace(durationCell), 64); err == nil {
			duration = v
		}
		doc := Document{
			Filename:      m.FileRef(i),
			Transcription: transcription,
			Duration:      duration,
			Age:           m.Value(i, "age"),
			Gender:        m.Value(i, "gender"),
			Accent:        m.Value(i, "accent"),
		}
		if doc.Age == "" {
			doc.Age = missingDemographic
		}
		if doc.Gender == "" {
			doc.Gender = missingDemographic
		}
		if doc.Accent == "" {
			doc.Accent = missingAccent
		}
		docs[i] = doc
	}
	return docs
}

// EnsureIndex creates the index with its mapping. When the index already
// exists it fails with ErrIndexExists unless recreate is set, in which case
// the old index is deleted first.
func (ix *Indexer) EnsureIndex(ctx context.Context, recreate bool) error {
	res, err := ix.es.Indices.Exists([]string{ix.index}, ix.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	if res.StatusCode == 200 {
		if !recreate {
			return fmt.Errorf("%w: %s", ErrIndexExists, ix.index)
		}
		del, err := ix.es.Indices.Delete([]string{ix.index}, ix.es.Indices.Delete.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("delete index: %w", err)
		}
		del.Body.Close()
		if del.IsError() {
			return fmt.Errorf("delete index: status %d", del.StatusCode)
		}
		log.Info().Str("index", ix.index).Msg("deleted existing index")
	}

	create, err := ix.es.Indices.Create(
		ix.index,
		ix.es.Indices.Create.WithContext(ctx),
		ix.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer create.Body.Close()
	if create.IsError() {
		body, _ := io.ReadAll(create.Body)
		return fmt.Errorf("create index: status %d: %s", create.StatusCode, body)
	}
	log.Info().Str("index", ix.index).Msg("index created")
	return nil
}

// Bulk loads every document, one action per manifest row. Individual item
// failures are logged and counted, not fatal.
func (ix *Indexer) Bulk(ctx context.Context, docs []Document) (esutil.BulkIndexerStats, error) {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client: ix.es,
		Index:  ix.index,
	})
	if err != nil {
		return esutil.BulkIndexerStats{}, fmt.Errorf("create bulk indexer: %w", err)
	}

	for i, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return bi.Stats(), fmt.Errorf("marshal document %d: %w", i, err)
		}
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: strconv.Itoa(i),
			Body:       bytes.NewReader(payload),
			OnFailure: func(_ context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					log.Error().Str("id", item.DocumentID).Err(err).Msg("bulk item failed")
				} else {
					log.Error().Str("id", item.DocumentID).Str("reason", res.Error.Reason).Msg("bulk item rejected")
				}
			},
		})
		if err != nil {
			return bi.Stats(), fmt.Errorf("enqueue document %d: %w", i, err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return bi.Stats(), fmt.Errorf("flush bulk indexer: %w", err)
	}
	return bi.Stats(), nil
}

// Refresh makes the loaded documents searchable and returns the index's
// document count.
func (ix *Indexer) Refresh(ctx context.Context) (int64, error) {
	res, err := ix.es.Indices.Refresh(
		ix.es.Indices.Refresh.WithContext(ctx),
		ix.es.Indices.Refresh.WithIndex(ix.index),
	)
	if err != nil {
		return 0, fmt.Errorf("refresh index: %w", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	cnt, err := ix.es.Count(
		ix.es.Count.WithContext(ctx),
		ix.es.Count.WithIndex(ix.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	defer cnt.Body.Close()

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(cnt.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("parse count response: %w", err)
	}
	return out.Count, nil
}
