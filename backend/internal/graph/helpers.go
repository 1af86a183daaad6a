package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Helper Functions
// ============================================================================

func recordToMap(record *neo4j.Record) map[string]interface{} {
	row := make(map[string]interface{}, len(record.Keys))
	for i, key := range record.Keys {
		row[key] = ToPlain(record.Values[i])
	}
	return row
}

// ToPlain converts driver values into JSON-friendly maps, slices and scalars.
// Nodes and relationships become their property maps; temporal values become
// time.Time.
func ToPlain(v interface{}) interface{} {
	switch val := v.(type) {
	case neo4j.Node:
		return propsToPlain(val.Props)
	case neo4j.Relationship:
		props := propsToPlain(val.Props)
		props["_type"] = val.Type
		return props
	case neo4j.Path:
		nodes := make([]interface{}, 0, len(val.Nodes))
		for _, n := range val.Nodes {
			nodes = append(nodes, propsToPlain(n.Props))
		}
		return nodes
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = ToPlain(item)
		}
		return out
	case map[string]interface{}:
		return propsToPlain(val)
	case interface{ Time() time.Time }:
		return val.Time()
	default:
		return v
	}
}

func propsToPlain(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = ToPlain(v)
	}
	return out
}

func getStringFromMap(m map[string]interface{}, key, defaultValue string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	return defaultValue
}

func getFloat64FromMap(m map[string]interface{}, key string, defaultValue float64) float64 {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}
	if f, ok := val.(float64); ok {
		return f
	}
	if i, ok := val.(int64); ok {
		return float64(i)
	}
	return defaultValue
}
