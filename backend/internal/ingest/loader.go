package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document is a loaded source text
type Document struct {
	Source string
	Text   string
}

// Load reads a local file or fetches an http(s) URL. HTML is reduced to its
// visible text.
func Load(ctx context.Context, client *http.Client, source string) (Document, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return fetch(ctx, client, source)
	}

	raw, err := os.ReadFile(source)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", source, err)
	}

	text := string(raw)
	switch strings.ToLower(filepath.Ext(source)) {
	case ".html", ".htm":
		text, err = htmlText(strings.NewReader(text))
		if err != nil {
			return Document{}, fmt.Errorf("failed to parse %s: %w", source, err)
		}
	}
	return Document{Source: source, Text: text}, nil
}

func fetch(ctx context.Context, client *http.Client, url string) (Document, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "dune-rag-ingest/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetch %s returned status %d", url, resp.StatusCode)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text, err := htmlText(resp.Body)
		if err != nil {
			return Document{}, fmt.Errorf("failed to parse %s: %w", url, err)
		}
		return Document{Source: url, Text: text}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return Document{Source: url, Text: string(raw)}, nil
}

// htmlText drops scripts and styles and keeps the non-empty text lines of the body
func htmlText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	var lines []string
	for _, line := range strings.Split(sel.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
