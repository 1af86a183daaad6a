package graph

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"
)

// VectorHit is one row of a vector index search after the retrieval query ran
type VectorHit struct {
	Text     string
	Score    float64
	Metadata map[string]interface{}
}

// VectorSearch queries a vector index for the k nearest nodes and pipes them
// through retrievalQuery, which sees `node` and `score` and must return
// `text`, `score` and optionally `metadata` columns.
func (c *Client) VectorSearch(ctx context.Context, index string, k int, embedding []float64, retrievalQuery string) ([]VectorHit, error) {
	query := "CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score\n" + retrievalQuery

	rows, err := c.Query(ctx, query, map[string]interface{}{
		"index":     index,
		"k":         k,
		"embedding": embedding,
	}, 0)
	if err != nil {
		return nil, err
	}

	hits := make([]VectorHit, 0, len(rows))
	for _, row := range rows {
		hit := VectorHit{
			Text:     getStringFromMap(row, "text", ""),
			Score:    getFloat64FromMap(row, "score", 0),
			Metadata: map[string]interface{}{},
		}
		if md, ok := row["metadata"].(map[string]interface{}); ok {
			for key, v := range md {
				if v != nil {
					hit.Metadata[key] = v
				}
			}
		}
		hits = append(hits, hit)
	}

	c.logger.Debug("Vector search completed",
		zap.String("index", index),
		zap.Int("k", k),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnsureVectorIndex creates a cosine vector index on label.property unless an
// index with that name already exists
func (c *Client) EnsureVectorIndex(ctx context.Context, name, label, property string, dimensions int) error {
	for _, ident := range []string{name, label, property} {
		if !identifierPattern.MatchString(ident) {
			return fmt.Errorf("invalid identifier for vector index: %q", ident)
		}
	}

	rows, err := c.Query(ctx, "SHOW INDEXES YIELD name WHERE name = $name RETURN name", map[string]interface{}{
		"name": name,
	}, 1)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}
	if len(rows) > 0 {
		c.logger.Debug("Vector index already exists", zap.String("index", name))
		return nil
	}

	err = c.Write(ctx,
		"CALL db.index.vector.createNodeIndex($name, $label, $property, toInteger($dimensions), 'cosine')",
		map[string]interface{}{
			"name":       name,
			"label":      label,
			"property":   property,
			"dimensions": dimensions,
		})
	if err != nil {
		return fmt.Errorf("failed to create vector index %s: %w", name, err)
	}

	c.logger.Info("Vector index created",
		zap.String("index", name),
		zap.String("label", label),
		zap.Int("dimensions", dimensions),
	)
	return nil
}
