package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dune-rag/backend/internal/adapter"
)

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := NewCollector("test")
	c.RecordHTTPRequest("POST", "/neo4j-advanced-rag/invoke", 200, 100*time.Millisecond)
	c.RecordHTTPRequest("POST", "/neo4j-advanced-rag/invoke", 200, 50*time.Millisecond)
	c.RecordHTTPRequest("POST", "/neo4j-advanced-rag/invoke", 502, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/neo4j-advanced-rag/invoke", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "/neo4j-advanced-rag/invoke", "502")))
}

func TestCollector_RecordTurn(t *testing.T) {
	c := NewCollector("test")
	c.RecordTurn("", nil, time.Second)
	c.RecordTurn("graph_tool", errors.New("boom"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("none", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("graph_tool", "error")))
}

type stubModel struct {
	err error
}

func (s stubModel) Complete(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &adapter.Response{Content: "ok"}, nil
}

func TestInstrumentChatModel(t *testing.T) {
	c := NewCollector("test")

	ok := InstrumentChatModel(stubModel{}, "gpt-3.5-turbo", c)
	resp, err := ok.Complete(context.Background(), adapter.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	failing := InstrumentChatModel(stubModel{err: errors.New("down")}, "gpt-3.5-turbo", c)
	_, err = failing.Complete(context.Background(), adapter.Request{Model: "gpt-4"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("gpt-3.5-turbo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("gpt-4", "error")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("dune_rag")
	c.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dune_rag_http_requests_total"))
}
