// Package search maintains the full-text index of documents and executes
// ranked queries against it.
package search

import (
	"fmt"
	"net/http"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
)

// ClientConfig selects the Elasticsearch cluster.
type ClientConfig struct {
	Addresses []string
	// Transport overrides the HTTP transport, primarily for testing.
	Transport http.RoundTripper
}

// NewClient builds an Elasticsearch client.
func NewClient(cfg ClientConfig) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("build elasticsearch client: %w", err)
	}
	return es, nil
}
