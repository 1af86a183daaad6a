// Package cypher post-processes generated Cypher: it strips model formatting
// and rewrites relationship directions that contradict the graph schema.
package cypher

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoValidDirection is returned when a relationship segment matches the
// schema in neither direction.
var ErrNoValidDirection = errors.New("relationship matches the schema in neither direction")

// Schema is one (start label, relationship type, end label) triple
type Schema struct {
	Start string
	Rel   string
	End   string
}

type direction int

const (
	bidirectional direction = iota
	incoming
	outgoing
)

var (
	propertyPattern = regexp.MustCompile(`\{.+?\}`)
	nodePattern     = regexp.MustCompile(`\(.+?\)`)
	pathPattern     = regexp.MustCompile(
		`(\([^,()]*?(\{.+\})?[^,()]*?\))(<?-)(\[.*?\])?(->?)(\([^,()]*?(\{.+\})?[^,()]*?\))`,
	)
	nodeRelationNodePattern = regexp.MustCompile(
		`^(\()+(?P<left>[^()]*?)\)(?P<relation>.*?)\((?P<right>[^()]*?)(\))+`,
	)
	relationTypePattern = regexp.MustCompile(`:(?P<types>.+?)?(\{.+\})?\]`)
)

// Corrector validates relationship directions against a fixed set of schema triples
type Corrector struct {
	schemas []Schema
}

// NewCorrector creates a corrector for the given schema triples
func NewCorrector(schemas []Schema) *Corrector {
	cp := make([]Schema, len(schemas))
	copy(cp, schemas)
	return &Corrector{schemas: cp}
}

// Correct returns the query with every single-hop relationship pointing in a
// direction the schema allows. Segments that are already valid, untyped
// bidirectional matches, and variable-length relationships are left alone.
// With an empty schema there is nothing to validate against and the query is
// returned unchanged.
func (c *Corrector) Correct(query string) (string, error) {
	if len(c.schemas) == 0 {
		return query, nil
	}

	variables := detectNodeVariables(query)

	for _, path := range extractPaths(query) {
		start := 0
		for start < len(path) {
			m := nodeRelationNodePattern.FindStringSubmatch(path[start:])
			if m == nil {
				break
			}
			left := m[nodeRelationNodePattern.SubexpIndex("left")]
			relation := m[nodeRelationNodePattern.SubexpIndex("relation")]
			right := m[nodeRelationNodePattern.SubexpIndex("right")]

			segmentLen := 4 + len(left) + len(relation) + len(right)
			end := start + segmentLen
			if end > len(path) {
				end = len(path)
			}
			segment := path[start:end]

			leftLabels := detectLabels(left, variables)
			rightLabels := detectLabels(right, variables)
			dir, relTypes := detectRelationTypes(relation)

			if strings.Contains(strings.Join(relTypes, ""), "*") {
				start += len(left) + len(relation) + 2
				continue
			}

			switch dir {
			case outgoing:
				if !c.verify(leftLabels, relTypes, rightLabels) {
					if !c.verify(rightLabels, relTypes, leftLabels) {
						return "", fmt.Errorf("%w: %s", ErrNoValidDirection, segment)
					}
					corrected := "<" + relation[:len(relation)-1]
					query = strings.ReplaceAll(query, segment, strings.Replace(segment, relation, corrected, 1))
				}
			case incoming:
				if !c.verify(rightLabels, relTypes, leftLabels) {
					if !c.verify(leftLabels, relTypes, rightLabels) {
						return "", fmt.Errorf("%w: %s", ErrNoValidDirection, segment)
					}
					corrected := relation[1:] + ">"
					query = strings.ReplaceAll(query, segment, strings.Replace(segment, relation, corrected, 1))
				}
			default:
				if !c.verify(leftLabels, relTypes, rightLabels) && !c.verify(rightLabels, relTypes, leftLabels) {
					return "", fmt.Errorf("%w: %s", ErrNoValidDirection, segment)
				}
			}

			start += len(left) + len(relation) + 2
		}
	}

	return query, nil
}

// verify reports whether any schema triple satisfies the given constraints;
// an empty constraint list matches anything
func (c *Corrector) verify(from, relTypes, to []string) bool {
	for _, s := range c.schemas {
		if len(from) > 0 && !contains(from, s.Start) {
			continue
		}
		if len(to) > 0 && !contains(to, s.End) {
			continue
		}
		if len(relTypes) > 0 && !contains(relTypes, s.Rel) {
			continue
		}
		return true
	}
	return false
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if strings.Trim(v, "`") == want {
			return true
		}
	}
	return false
}

func cleanNode(node string) string {
	node = propertyPattern.ReplaceAllString(node, "")
	node = strings.ReplaceAll(node, "(", "")
	node = strings.ReplaceAll(node, ")", "")
	return strings.TrimSpace(node)
}

// detectNodeVariables maps each node variable to every label it is given
// anywhere in the query
func detectNodeVariables(query string) map[string][]string {
	res := make(map[string][]string)
	for _, node := range nodePattern.FindAllString(query, -1) {
		parts := strings.Split(cleanNode(node), ":")
		variable := strings.TrimSpace(parts[0])
		for _, label := range parts[1:] {
			if label = strings.TrimSpace(label); label != "" {
				res[variable] = append(res[variable], label)
			}
		}
		if _, ok := res[variable]; !ok {
			res[variable] = nil
		}
	}
	return res
}

// extractPaths returns every single-hop (node)-[rel]-(node) path. Consecutive
// hops share their middle node so chained patterns yield one path per hop.
func extractPaths(query string) []string {
	var paths []string
	idx := 0
	for idx < len(query) {
		loc := pathPattern.FindStringSubmatchIndex(query[idx:])
		if loc == nil {
			break
		}
		path := query[idx+loc[0] : idx+loc[1]]
		rightNodeLen := loc[13] - loc[12]
		paths = append(paths, path)
		idx += loc[1] - rightNodeLen
	}
	return paths
}

// detectLabels resolves the labels of a node: its variable's labels from the
// whole query, or its own labels when anonymous
func detectLabels(node string, variables map[string][]string) []string {
	parts := strings.Split(cleanNode(node), ":")
	variable := strings.TrimSpace(parts[0])
	if variable != "" {
		return variables[variable]
	}
	var labels []string
	for _, label := range parts[1:] {
		if label = strings.TrimSpace(label); label != "" {
			labels = append(labels, label)
		}
	}
	return labels
}

func judgeDirection(relation string) direction {
	dir := bidirectional
	if strings.HasPrefix(relation, "<") {
		dir = incoming
	}
	if strings.HasSuffix(relation, ">") {
		dir = outgoing
	}
	return dir
}

func detectRelationTypes(relation string) (direction, []string) {
	dir := judgeDirection(relation)
	m := relationTypePattern.FindStringSubmatch(relation)
	if m == nil {
		return dir, nil
	}
	raw := m[relationTypePattern.SubexpIndex("types")]
	if raw == "" {
		return dir, nil
	}
	var types []string
	for _, t := range strings.Split(raw, "|") {
		t = strings.TrimLeft(strings.TrimSpace(t), ":")
		t = strings.Trim(t, "!`")
		if t != "" {
			types = append(types, t)
		}
	}
	return dir, types
}
