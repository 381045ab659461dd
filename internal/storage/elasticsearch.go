// Package storage implements the full-text document store on Elasticsearch.
// Documents are keyed by canonical URL hash, so re-indexing the same page is
// an overwrite, not a duplicate.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
)

// DefaultIndexName is the web document index.
const DefaultIndexName = "web_documents"

// webDocumentMapping declares the index settings: an English snowball
// analyzer on the content fields so stemming happens at index time.
const webDocumentMapping = `{
  "settings": {
    "analysis": {
      "analyzer": {
        "web_english": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "stop", "snowball"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "url":             {"type": "keyword"},
      "title":           {"type": "text", "analyzer": "web_english"},
      "metaDescription": {"type": "text", "analyzer": "web_english"},
      "content":         {"type": "text", "analyzer": "web_english"},
      "tokens":          {"type": "keyword"},
      "outboundLinks":   {"type": "keyword"},
      "language":        {"type": "keyword"},
      "contentHash":     {"type": "keyword"},
      "pagerank":        {"type": "double"},
      "crawledAt":       {"type": "date"},
      "sizeBytes":       {"type": "long"}
    }
  }
}`

// Config holds Elasticsearch connection settings.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	IndexName string
}

// Store wraps the Elasticsearch client for web document operations.
type Store struct {
	client *es.Client
	index  string
}

// NewStore creates a document store and verifies connectivity.
func NewStore(cfg Config) (*Store, error) {
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to reach elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch info error: %s", res.String())
	}

	index := cfg.IndexName
	if index == "" {
		index = DefaultIndexName
	}

	return &Store{client: client, index: index}, nil
}

// NewStoreWithClient creates a store over an existing client.
func NewStoreWithClient(client *es.Client, index string) *Store {
	if index == "" {
		index = DefaultIndexName
	}
	return &Store{client: client, index: index}
}

// EnsureIndex creates the web document index with its analyzer mapping if it
// does not exist yet.
func (s *Store) EnsureIndex(ctx context.Context) error {
	exists, err := s.client.Indices.Exists(
		[]string{s.index},
		s.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer exists.Body.Close()

	if exists.StatusCode == 200 {
		return nil
	}

	res, err := s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(webDocumentMapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	return nil
}

// IndexDocument writes a document under the URL hash. Writing the same hash
// again overwrites the previous version.
func (s *Store) IndexDocument(ctx context.Context, urlHash string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(urlHash),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing document: %s", res.String())
	}

	return nil
}

// UpdateRank writes a new PageRank score onto an existing document. Missing
// documents are skipped silently; the page may not be indexed yet.
func (s *Store) UpdateRank(ctx context.Context, urlHash string, score float64) error {
	update := map[string]any{
		"doc": map[string]any{"pagerank": score},
	}

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal rank update: %w", err)
	}

	res, err := s.client.Update(
		s.index,
		urlHash,
		bytes.NewReader(body),
		s.client.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to update rank: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("error updating rank: %s", res.String())
	}

	return nil
}

// Ping reports whether the cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch unreachable: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.String())
	}

	return nil
}
