// Package model turns extracted elements and relationships into an
// ordered list of graph write operations. The builder is pure: it
// produces Cypher text and parameters without touching a database, so
// the mapping is testable on its own.
package model

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bimgraph/bimgraph/engine/domain"
)

// WriteOp is one parameterized Cypher statement. Ops from Build are
// ordered so that every statement only refers to nodes created by
// earlier statements.
type WriteOp struct {
	Cypher string
	Params map[string]any
}

// Build maps one file's extraction output to write operations: the file
// node first, then element nodes with their file edge, then element
// relationships.
func Build(info domain.FileInfo, elements map[string]domain.Element, rels []domain.Relationship) ([]WriteOp, error) {
	ops := make([]WriteOp, 0, 1+len(elements)+len(rels))
	ops = append(ops, fileOp(info))

	ids := make([]string, 0, len(elements))
	for id := range elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		el := elements[id]
		if err := domain.ValidateElement(el); err != nil {
			return nil, fmt.Errorf("element %s: %w", id, err)
		}
		op, err := elementOp(el)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", id, err)
		}
		ops = append(ops, op)
	}

	for _, r := range rels {
		if err := domain.ValidateRelationship(r); err != nil {
			return nil, fmt.Errorf("relationship %s: %w", r.GlobalID, err)
		}
		ops = append(ops, relationshipOp(r))
	}
	return ops, nil
}

func fileOp(info domain.FileInfo) WriteOp {
	return WriteOp{
		Cypher: `MERGE (f:File {fileId: $fileId}) SET f += $props`,
		Params: map[string]any{
			"fileId": info.FileID,
			"props": map[string]any{
				"fileName":     info.FileName,
				"filePath":     info.FilePath,
				"fileSize":     info.FileSize,
				"createdDate":  info.CreatedDate,
				"modifiedDate": info.ModifiedDate,
				"importDate":   info.ImportDate,
				"schema":       info.Schema,
			},
		},
	}
}

// elementOp merges the element by global id, stamps both the generic
// Element label and its IFC class label, and links it to its file. The
// nested property sets go in as a single JSON string since Neo4j
// properties cannot hold nested maps.
func elementOp(el domain.Element) (WriteOp, error) {
	props := map[string]any{
		"name":         el.Name,
		"description":  el.Description,
		"objectType":   el.ObjectType,
		"tag":          el.Tag,
		"ifcClass":     el.IfcClass,
		"sourceFileId": el.SourceFileID,
	}
	if el.Synthetic {
		props["synthetic"] = true
	}
	if len(el.Properties) > 0 {
		raw, err := json.Marshal(el.Properties)
		if err != nil {
			return WriteOp{}, fmt.Errorf("marshal properties: %w", err)
		}
		props["properties"] = string(raw)
	}

	cypher := fmt.Sprintf(
		`MERGE (n:Element {globalId: $globalId})
		 SET n:%s, n += $props
		 WITH n
		 MATCH (f:File {fileId: $fileId})
		 MERGE (n)-[:BELONGS_TO_FILE]->(f)`,
		SanitizeLabel(el.IfcClass),
	)
	return WriteOp{
		Cypher: cypher,
		Params: map[string]any{
			"globalId": el.GlobalID,
			"fileId":   el.SourceFileID,
			"props":    props,
		},
	}, nil
}

// relationshipOp merges the edge keyed on its endpoints and type, so
// re-imports do not duplicate relationships.
func relationshipOp(r domain.Relationship) WriteOp {
	cypher := fmt.Sprintf(
		`MATCH (a:Element {globalId: $from}), (b:Element {globalId: $to})
		 MERGE (a)-[r:%s]->(b)
		 SET r.globalId = $relId`,
		SanitizeRelType(string(r.Kind)),
	)
	return WriteOp{
		Cypher: cypher,
		Params: map[string]any{
			"from":  r.FromID,
			"to":    r.ToID,
			"relId": r.GlobalID,
		},
	}
}

// SanitizeLabel strips everything that is not a letter, digit, or
// underscore so a label can be spliced into Cypher safely. Labels
// cannot be parameterized in Cypher, hence the allowlist.
func SanitizeLabel(l string) string {
	safe := make([]byte, 0, len(l))
	for i := range l {
		c := l[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "Element"
	}
	return string(safe)
}

// SanitizeRelType applies the same allowlist as SanitizeLabel plus the
// upper-casing convention for relationship types.
func SanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		switch {
		case c >= 'a' && c <= 'z':
			safe = append(safe, c-32)
		case (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_':
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	return string(safe)
}
