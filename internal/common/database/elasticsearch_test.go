package database

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"cleaner-dispatch/internal/common/config"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esRoundTripper struct {
	existsStatus int
	createStatus int
	requests     []string
	createBody   string
}

func (rt *esRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.requests = append(rt.requests, req.Method+" "+req.URL.Path)

	status := rt.existsStatus
	if req.Method == http.MethodPut {
		status = rt.createStatus
		if req.Body != nil {
			b, _ := io.ReadAll(req.Body)
			rt.createBody = string(b)
		}
	}

	h := http.Header{}
	h.Set("X-Elastic-Product", "Elasticsearch")
	h.Set("Content-Type", "application/json")
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(`{}`))}, nil
}

func newTestES(t *testing.T, rt http.RoundTripper) *ElasticsearchClient {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{"http://es.test:9200"},
		Transport: rt,
	})
	require.NoError(t, err)
	return &ElasticsearchClient{Client: es}
}

func TestEnsureIndex(t *testing.T) {
	tests := []struct {
		name         string
		existsStatus int
		createStatus int
		wantCreate   bool
		wantErr      bool
	}{
		{"already exists", http.StatusOK, 0, false, false},
		{"created when missing", http.StatusNotFound, http.StatusOK, true, false},
		{"create rejected", http.StatusNotFound, http.StatusBadRequest, true, true},
		{"exists check fails", http.StatusInternalServerError, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &esRoundTripper{existsStatus: tt.existsStatus, createStatus: tt.createStatus}
			err := newTestES(t, rt).EnsureIndex(context.Background(), "payout-batches")

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, "HEAD /payout-batches", rt.requests[0])
			if tt.wantCreate {
				require.Len(t, rt.requests, 2)
				assert.Equal(t, "PUT /payout-batches", rt.requests[1])
				assert.Contains(t, rt.createBody, `"totalCents"`)
			} else {
				assert.Len(t, rt.requests, 1)
			}
		})
	}
}

func TestNewElasticsearch_RequiresAddress(t *testing.T) {
	_, err := NewElasticsearch(config.ElasticsearchConfig{})
	assert.Error(t, err)
}
