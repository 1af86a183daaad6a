package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Property is one property key with its type as reported by apoc.meta.data
type Property struct {
	Name string `json:"property"`
	Type string `json:"type"`
}

// NodeProperties lists the properties seen on nodes with a label
type NodeProperties struct {
	Label      string     `json:"labels"`
	Properties []Property `json:"properties"`
}

// RelProperties lists the properties seen on relationships of a type
type RelProperties struct {
	Type       string     `json:"type"`
	Properties []Property `json:"properties"`
}

// Relationship is a (start label)-[type]->(end label) triple present in the data
type Relationship struct {
	Start string `json:"start"`
	Type  string `json:"type"`
	End   string `json:"end"`
}

// Schema is the structured description of the graph used for prompting and
// relationship direction correction
type Schema struct {
	NodeProperties []NodeProperties
	RelProperties  []RelProperties
	Relationships  []Relationship
}

const nodePropertiesQuery = `
CALL apoc.meta.data()
YIELD label, other, elementType, type, property
WHERE NOT type = "RELATIONSHIP" AND elementType = "node"
WITH label AS nodeLabels, collect({property: property, type: type}) AS properties
RETURN {labels: nodeLabels, properties: properties} AS output
`

const relPropertiesQuery = `
CALL apoc.meta.data()
YIELD label, other, elementType, type, property
WHERE NOT type = "RELATIONSHIP" AND elementType = "relationship"
WITH label AS relType, collect({property: property, type: type}) AS properties
RETURN {type: relType, properties: properties} AS output
`

const relationshipsQuery = `
CALL apoc.meta.data()
YIELD label, other, elementType, type, property
WHERE type = "RELATIONSHIP" AND elementType = "node"
UNWIND other AS otherNode
RETURN {start: label, type: property, end: toString(otherNode)} AS output
`

// Schema returns the cached graph schema. The cache is re-read once its TTL
// passes, and on every call while it holds no relationships, so a server
// started before ingest picks up the data without a restart. When a refresh
// fails and an older schema exists, the older one is served.
func (c *Client) Schema(ctx context.Context) (*Schema, error) {
	c.mu.RLock()
	cached, loadedAt, ttl := c.schema, c.loadedAt, c.schemaTTL
	c.mu.RUnlock()

	if cached != nil && len(cached.Relationships) > 0 && ttl > 0 && c.now().Sub(loadedAt) < ttl {
		return cached, nil
	}

	schema, err := c.RefreshSchema(ctx)
	if err != nil {
		if cached != nil {
			c.logger.Warn("Schema refresh failed, serving cached schema", zap.Error(err))
			return cached, nil
		}
		return nil, err
	}
	return schema, nil
}

// RefreshSchema re-reads the schema from the database and replaces the cache
func (c *Client) RefreshSchema(ctx context.Context) (*Schema, error) {
	schema, err := c.introspect(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.schema = schema
	c.loadedAt = c.now()
	c.mu.Unlock()

	c.logger.Info("Graph schema refreshed",
		zap.Int("labels", len(schema.NodeProperties)),
		zap.Int("relationship_types", len(schema.RelProperties)),
		zap.Int("relationships", len(schema.Relationships)),
	)
	return schema, nil
}

func (c *Client) readSchema(ctx context.Context) (*Schema, error) {
	nodeRows, err := c.Query(ctx, nodePropertiesQuery, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read node properties: %w", err)
	}
	relRows, err := c.Query(ctx, relPropertiesQuery, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read relationship properties: %w", err)
	}
	tripleRows, err := c.Query(ctx, relationshipsQuery, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}
	return parseSchema(nodeRows, relRows, tripleRows), nil
}

func parseSchema(nodeRows, relRows, tripleRows []map[string]interface{}) *Schema {
	schema := &Schema{
		NodeProperties: []NodeProperties{},
		RelProperties:  []RelProperties{},
		Relationships:  []Relationship{},
	}

	for _, row := range nodeRows {
		out, ok := row["output"].(map[string]interface{})
		if !ok {
			continue
		}
		schema.NodeProperties = append(schema.NodeProperties, NodeProperties{
			Label:      getStringFromMap(out, "labels", ""),
			Properties: parseProperties(out["properties"]),
		})
	}
	for _, row := range relRows {
		out, ok := row["output"].(map[string]interface{})
		if !ok {
			continue
		}
		schema.RelProperties = append(schema.RelProperties, RelProperties{
			Type:       getStringFromMap(out, "type", ""),
			Properties: parseProperties(out["properties"]),
		})
	}
	for _, row := range tripleRows {
		out, ok := row["output"].(map[string]interface{})
		if !ok {
			continue
		}
		rel := Relationship{
			Start: getStringFromMap(out, "start", ""),
			Type:  getStringFromMap(out, "type", ""),
			End:   getStringFromMap(out, "end", ""),
		}
		if rel.Start != "" && rel.Type != "" && rel.End != "" {
			schema.Relationships = append(schema.Relationships, rel)
		}
	}

	sort.Slice(schema.NodeProperties, func(i, j int) bool {
		return schema.NodeProperties[i].Label < schema.NodeProperties[j].Label
	})
	sort.Slice(schema.RelProperties, func(i, j int) bool {
		return schema.RelProperties[i].Type < schema.RelProperties[j].Type
	})
	return schema
}

func parseProperties(v interface{}) []Property {
	items, ok := v.([]interface{})
	if !ok {
		return []Property{}
	}
	props := make([]Property, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name := getStringFromMap(m, "property", "")
		if name == "" {
			continue
		}
		props = append(props, Property{Name: name, Type: getStringFromMap(m, "type", "")})
	}
	return props
}

// String renders the schema as the text block given to the Cypher generator
func (s *Schema) String() string {
	var b strings.Builder

	b.WriteString("Node properties are the following:\n")
	for _, n := range s.NodeProperties {
		fmt.Fprintf(&b, "%s {%s}\n", n.Label, formatProperties(n.Properties))
	}

	b.WriteString("Relationship properties are the following:\n")
	for _, r := range s.RelProperties {
		fmt.Fprintf(&b, "%s {%s}\n", r.Type, formatProperties(r.Properties))
	}

	b.WriteString("The relationships are the following:\n")
	for _, r := range s.Relationships {
		fmt.Fprintf(&b, "(:%s)-[:%s]->(:%s)\n", r.Start, r.Type, r.End)
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatProperties(props []Property) string {
	parts := make([]string, 0, len(props))
	for _, p := range props {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Name, p.Type))
	}
	return strings.Join(parts, ", ")
}
