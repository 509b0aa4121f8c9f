package graph

import (
	"context"
	"sort"

	"github.com/bimgraph/bimgraph/pkg/fn"
)

// Schema is a snapshot of what the database actually contains, used to
// ground query generation in real labels instead of assumptions.
type Schema struct {
	Labels       []string `json:"labels"`
	RelTypes     []string `json:"relTypes"`
	PropertyKeys []string `json:"propertyKeys"`
}

// DiscoverSchema queries the live label, relationship-type, and
// property-key catalogs. The three queries are independent and run
// concurrently, each on its own session.
func (s *Store) DiscoverSchema(ctx context.Context) (*Schema, error) {
	cols, err := fn.FanOutResult(
		func() fn.Result[[]string] {
			return fn.FromPair(s.stringColumn(ctx, `CALL db.labels() YIELD label RETURN label AS v`))
		},
		func() fn.Result[[]string] {
			return fn.FromPair(s.stringColumn(ctx, `CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType AS v`))
		},
		func() fn.Result[[]string] {
			return fn.FromPair(s.stringColumn(ctx, `CALL db.propertyKeys() YIELD propertyKey RETURN propertyKey AS v`))
		},
	).Unwrap()
	if err != nil {
		return nil, err
	}
	return &Schema{Labels: cols[0], RelTypes: cols[1], PropertyKeys: cols[2]}, nil
}

func (s *Store) stringColumn(ctx context.Context, cypher string) ([]string, error) {
	rows, err := s.ReadRows(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, row := range rows {
		if v, ok := row["v"].(string); ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ElementRow is the flat projection of an element node returned to the
// query agent. Properties holds the JSON-encoded property sets as
// stored on the node.
type ElementRow struct {
	GlobalID   string `json:"globalId"`
	Name       string `json:"name"`
	IfcClass   string `json:"ifcClass"`
	Properties string `json:"properties,omitempty"`
}

const elementProjection = `RETURN n.globalId AS globalId, n.name AS name,
	n.ifcClass AS ifcClass, n.properties AS properties`

// ElementsByName finds elements whose name matches case-insensitively,
// by equality first and containment as a fallback.
func (s *Store) ElementsByName(ctx context.Context, name string, limit int) ([]ElementRow, error) {
	if limit <= 0 {
		limit = 25
	}
	cypher := `MATCH (n:Element)
	           WHERE toLower(n.name) = toLower($name)
	              OR toLower(n.name) CONTAINS toLower($name)
	           ` + elementProjection + `
	           ORDER BY toLower(n.name) = toLower($name) DESC
	           LIMIT $limit`
	return s.elementRows(ctx, cypher, map[string]any{"name": name, "limit": int64(limit)})
}

// ElementsByClass returns elements of one IFC class.
func (s *Store) ElementsByClass(ctx context.Context, class string, limit int) ([]ElementRow, error) {
	if limit <= 0 {
		limit = 100
	}
	cypher := `MATCH (n:Element {ifcClass: $class}) ` + elementProjection + ` LIMIT $limit`
	return s.elementRows(ctx, cypher, map[string]any{"class": class, "limit": int64(limit)})
}

func (s *Store) elementRows(ctx context.Context, cypher string, params map[string]any) ([]ElementRow, error) {
	rows, err := s.ReadRows(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]ElementRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, ElementRow{
			GlobalID:   strVal(row, "globalId"),
			Name:       strVal(row, "name"),
			IfcClass:   strVal(row, "ifcClass"),
			Properties: strVal(row, "properties"),
		})
	}
	return out, nil
}

func strVal(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}
