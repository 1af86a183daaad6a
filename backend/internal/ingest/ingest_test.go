package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"dune-rag/backend/internal/adapter"
)

// wordTokenizer treats every whitespace-separated word as one token
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: map[string]int{}}
}

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []int
	for _, word := range strings.Fields(text) {
		id, ok := w.ids[word]
		if !ok {
			id = len(w.words)
			w.ids[word] = id
			w.words = append(w.words, word)
		}
		out = append(out, id)
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	words := make([]string, len(tokens))
	for i, id := range tokens {
		words[i] = w.words[id]
	}
	return strings.Join(words, " ")
}

func words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(out, " ")
}

func TestSplitter_Windows(t *testing.T) {
	s, err := NewSplitter(newWordTokenizer(), 4, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"w0 w1 w2 w3", "w3 w4 w5 w6", "w6 w7 w8 w9"}, s.Split(words(10)))
	assert.Equal(t, []string{"w0 w1"}, s.Split(words(2)))
	assert.Empty(t, s.Split("   "))
}

func TestSplitter_InvalidParameters(t *testing.T) {
	tok := newWordTokenizer()

	_, err := NewSplitter(tok, 0, 0)
	assert.Error(t, err)
	_, err = NewSplitter(tok, 4, 4)
	assert.Error(t, err)
	_, err = NewSplitter(tok, 4, -1)
	assert.Error(t, err)
}

func TestSplitter_ChunksReassemble(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 12).Draw(t, "size")
		overlap := rapid.IntRange(0, size-1).Draw(t, "overlap")
		n := rapid.IntRange(0, 80).Draw(t, "words")

		s, err := NewSplitter(newWordTokenizer(), size, overlap)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var rebuilt []string
		for i, chunk := range s.Split(words(n)) {
			fields := strings.Fields(chunk)
			if len(fields) > size {
				t.Fatalf("chunk %d has %d tokens, limit %d", i, len(fields), size)
			}
			if i > 0 {
				fields = fields[overlap:]
			}
			rebuilt = append(rebuilt, fields...)
		}
		if got := strings.Join(rebuilt, " "); got != words(n) {
			t.Fatalf("rebuilt %q, want %q", got, words(n))
		}
	})
}

const dunePage = `<html><head><title>Dune</title><style>p { color: red }</style></head>
<body>
<nav>Main menu</nav>
<p>Paul Atreides is the son of Duke Leto.</p>
<script>var x = 1;</script>
<p>Arrakis is   the only source of the spice.</p>
</body></html>`

func TestLoad_HTMLURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, dunePage)
	}))
	defer srv.Close()

	doc, err := Load(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, srv.URL, doc.Source)
	assert.Equal(t, "Paul Atreides is the son of Duke Leto.\nArrakis is the only source of the spice.", doc.Text)
}

func TestLoad_PlainURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "The spice must flow.")
	}))
	defer srv.Close()

	doc, err := Load(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "The spice must flow.", doc.Text)
}

func TestLoad_URLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Load(context.Background(), srv.Client(), srv.URL)
	assert.ErrorContains(t, err, "404")
}

func TestLoad_Files(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "dune.txt")
	html := filepath.Join(dir, "dune.html")
	require.NoError(t, os.WriteFile(txt, []byte("Fear is the mind-killer."), 0o644))
	require.NoError(t, os.WriteFile(html, []byte(dunePage), 0o644))

	doc, err := Load(context.Background(), nil, txt)
	require.NoError(t, err)
	assert.Equal(t, "Fear is the mind-killer.", doc.Text)

	doc, err = Load(context.Background(), nil, html)
	require.NoError(t, err)
	assert.NotContains(t, doc.Text, "var x")
	assert.Contains(t, doc.Text, "Duke Leto")

	_, err = Load(context.Background(), nil, filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

type write struct {
	cypher string
	params map[string]interface{}
}

type index struct {
	name, label, property string
	dims                  int
}

type fakeWriter struct {
	mu      sync.Mutex
	writes  []write
	indexes []index
	failOn  string
}

func (f *fakeWriter) Write(ctx context.Context, cypher string, params map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return errors.New("write refused")
	}
	f.writes = append(f.writes, write{cypher: cypher, params: params})
	return nil
}

func (f *fakeWriter) EnsureVectorIndex(ctx context.Context, name, label, property string, dims int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes = append(f.indexes, index{name, label, property, dims})
	return nil
}

func (f *fakeWriter) byQuery(query string) []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []write
	for _, w := range f.writes {
		if w.cypher == query {
			out = append(out, w)
		}
	}
	return out
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	return []float64{float64(len(text)), 1, 0}, nil
}

func (e fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i], _ = e.EmbedQuery(ctx, text)
	}
	return out, nil
}

type fakeLLM struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if len(req.Tools) > 0 {
		return &adapter.Response{ToolCalls: []adapter.ToolCall{{
			ID:        "call_1",
			Name:      "hypothetical_questions",
			Arguments: map[string]interface{}{"questions": []interface{}{"Who is Paul?", " ", "What is spice?"}},
		}}}, nil
	}
	return &adapter.Response{Content: "A summary."}, nil
}

func testOptions() Options {
	return Options{Concurrency: 2, ParentSize: 10, ParentOverlap: 2, ChildSize: 4, ChildOverlap: 1}
}

func TestPipeline_Run(t *testing.T) {
	w := &fakeWriter{}
	p, err := NewPipeline(w, fakeEmbedder{}, &fakeLLM{}, newWordTokenizer(), testOptions())
	require.NoError(t, err)

	stats, err := p.Run(context.Background(), []Document{{Source: "dune.txt", Text: words(20)}})
	require.NoError(t, err)

	assert.Equal(t, Stats{Parents: 3, Children: 7, Questions: 6, Summaries: 3}, stats)

	parents := w.byQuery(parentChildQuery)
	require.Len(t, parents, 3)
	for _, pw := range parents {
		assert.Equal(t, "dune.txt", pw.params["source"])
		assert.Len(t, pw.params["parent_embedding"], 3)
	}
	assert.Len(t, w.byQuery(questionsQuery), 3)
	assert.Len(t, w.byQuery(summaryQuery), 3)

	assert.ElementsMatch(t, []index{
		{"typical_rag", "Parent", "embedding", 3},
		{"parent_document", "Child", "embedding", 3},
		{"hypothetical_questions", "Question", "embedding", 3},
		{"summary", "Summary", "embedding", 3},
	}, w.indexes)
}

func TestPipeline_IDsAreStableAcrossRuns(t *testing.T) {
	ids := func() []string {
		w := &fakeWriter{}
		p, err := NewPipeline(w, fakeEmbedder{}, nil, newWordTokenizer(), Options{
			Concurrency: 1, ParentSize: 10, ParentOverlap: 2, ChildSize: 4, ChildOverlap: 1,
			SkipQuestions: true, SkipSummaries: true,
		})
		require.NoError(t, err)
		_, err = p.Run(context.Background(), []Document{{Source: "dune.txt", Text: words(20)}})
		require.NoError(t, err)

		var out []string
		for _, pw := range w.byQuery(parentChildQuery) {
			out = append(out, pw.params["parent_id"].(string))
		}
		return out
	}

	assert.Equal(t, ids(), ids())
}

func TestPipeline_SkipFlags(t *testing.T) {
	w := &fakeWriter{}
	opts := testOptions()
	opts.SkipQuestions = true
	opts.SkipSummaries = true

	p, err := NewPipeline(w, fakeEmbedder{}, nil, newWordTokenizer(), opts)
	require.NoError(t, err)

	stats, err := p.Run(context.Background(), []Document{{Source: "dune.txt", Text: words(20)}})
	require.NoError(t, err)

	assert.Zero(t, stats.Questions)
	assert.Zero(t, stats.Summaries)
	assert.Empty(t, w.byQuery(questionsQuery))
	assert.Len(t, w.indexes, 2)
}

func TestPipeline_RequiresModelForGeneration(t *testing.T) {
	_, err := NewPipeline(&fakeWriter{}, fakeEmbedder{}, nil, newWordTokenizer(), testOptions())
	assert.Error(t, err)
}

func TestPipeline_WriteFailureStopsRun(t *testing.T) {
	w := &fakeWriter{failOn: "HAS_SUMMARY"}
	p, err := NewPipeline(w, fakeEmbedder{}, &fakeLLM{}, newWordTokenizer(), testOptions())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), []Document{{Source: "dune.txt", Text: words(20)}})
	assert.ErrorContains(t, err, "write summary")
	assert.Empty(t, w.indexes)
}

func TestPipeline_EmptyInput(t *testing.T) {
	p, err := NewPipeline(&fakeWriter{}, fakeEmbedder{}, &fakeLLM{}, newWordTokenizer(), testOptions())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), []Document{{Source: "empty.txt", Text: "  \n "}})
	assert.Error(t, err)
}

func TestGenerateQuestions_PlainTextFallback(t *testing.T) {
	llm := adapterFunc(func(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
		return &adapter.Response{Content: "1. Who rules Arrakis?\n- What is the Bene Gesserit?\n\n"}, nil
	})
	p, err := NewPipeline(&fakeWriter{}, fakeEmbedder{}, llm, newWordTokenizer(), testOptions())
	require.NoError(t, err)

	questions, err := p.generateQuestions(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []string{"Who rules Arrakis?", "What is the Bene Gesserit?"}, questions)
}

type adapterFunc func(ctx context.Context, req adapter.Request) (*adapter.Response, error)

func (f adapterFunc) Complete(ctx context.Context, req adapter.Request) (*adapter.Response, error) {
	return f(ctx, req)
}

func TestPipeline_EnsureConstraints(t *testing.T) {
	w := &fakeWriter{failOn: "(s:Summary)"}
	p, err := NewPipeline(w, fakeEmbedder{}, &fakeLLM{}, newWordTokenizer(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, p.EnsureConstraints(context.Background()))
	assert.Len(t, w.writes, 3)
}
