package graph

import (
	"context"
	"fmt"

	"github.com/bimgraph/bimgraph/engine/domain"
)

// constraintStatements are idempotent; IF NOT EXISTS makes re-runs safe.
var constraintStatements = []string{
	`CREATE CONSTRAINT element_global_id IF NOT EXISTS
	 FOR (n:Element) REQUIRE n.globalId IS UNIQUE`,
	`CREATE CONSTRAINT file_id IF NOT EXISTS
	 FOR (f:File) REQUIRE f.fileId IS UNIQUE`,
	`CREATE INDEX element_name IF NOT EXISTS
	 FOR (n:Element) ON (n.name)`,
	`CREATE INDEX element_ifc_class IF NOT EXISTS
	 FOR (n:Element) ON (n.ifcClass)`,
}

// EnsureConstraints creates the uniqueness constraints and indexes the
// import path relies on.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, stmt := range constraintStatements {
		if _, err := sess.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure constraints: %w", err)
		}
	}
	return nil
}

// ClearAll removes every node and relationship in the database.
func (s *Store) ClearAll(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, `MATCH (n) DETACH DELETE n`, nil)
	return err
}

// ClearFile removes one file node and all elements that belong to it.
func (s *Store) ClearFile(ctx context.Context, fileID string) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (f:File {fileId: $fileId})
	           OPTIONAL MATCH (n:Element)-[:BELONGS_TO_FILE]->(f)
	           DETACH DELETE n, f`
	_, err := sess.Run(ctx, cypher, map[string]any{"fileId": fileID})
	return err
}

// HasFile reports whether a file with this id was already imported.
func (s *Store) HasFile(ctx context.Context, fileID string) (bool, error) {
	rows, err := s.ReadRows(ctx,
		`MATCH (f:File {fileId: $fileId}) RETURN count(f) AS c`,
		map[string]any{"fileId": fileID})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	c, _ := rows[0]["c"].(int64)
	return c > 0, nil
}

// NodeCounts returns node counts grouped by label.
func (s *Store) NodeCounts(ctx context.Context) (map[string]int64, error) {
	return s.countRows(ctx,
		`MATCH (n) UNWIND labels(n) AS label RETURN label AS type, count(*) AS count`)
}

// RelationshipCounts returns relationship counts grouped by type.
func (s *Store) RelationshipCounts(ctx context.Context) (map[string]int64, error) {
	return s.countRows(ctx,
		`MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`)
}

// ClassCounts returns element counts grouped by IFC class, for the
// post-import distribution report.
func (s *Store) ClassCounts(ctx context.Context) (map[string]int64, error) {
	return s.countRows(ctx,
		`MATCH (n:Element) RETURN n.ifcClass AS type, count(*) AS count`)
}

func (s *Store) countRows(ctx context.Context, cypher string) (map[string]int64, error) {
	rows, err := s.ReadRows(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, row := range rows {
		t, ok := row["type"].(string)
		if !ok {
			continue
		}
		if c, ok := row["count"].(int64); ok {
			counts[t] = c
		}
	}
	return counts, nil
}

// Validate compares what the database holds for a file against the
// counts the extractor produced. Mismatches are reported, not fatal:
// merges against pre-existing data legitimately change counts.
func (s *Store) Validate(ctx context.Context, fileID string, wantElements, wantRels int) ([]domain.ValidationMismatch, error) {
	var mismatches []domain.ValidationMismatch

	rows, err := s.ReadRows(ctx,
		`MATCH (n:Element {sourceFileId: $fileId}) RETURN count(n) AS c`,
		map[string]any{"fileId": fileID})
	if err != nil {
		return nil, err
	}
	if got := countVal(rows); got != int64(wantElements) {
		mismatches = append(mismatches, domain.ValidationMismatch{
			File: fileID, Kind: "node", Label: "Element",
			Expected: int64(wantElements), Actual: got,
		})
	}

	rows, err = s.ReadRows(ctx,
		`MATCH (a:Element {sourceFileId: $fileId})-[r]->(b:Element) RETURN count(r) AS c`,
		map[string]any{"fileId": fileID})
	if err != nil {
		return nil, err
	}
	if got := countVal(rows); got != int64(wantRels) {
		mismatches = append(mismatches, domain.ValidationMismatch{
			File: fileID, Kind: "relationship", Label: "all",
			Expected: int64(wantRels), Actual: got,
		})
	}
	return mismatches, nil
}

func countVal(rows []map[string]any) int64 {
	if len(rows) == 0 {
		return 0
	}
	c, _ := rows[0]["c"].(int64)
	return c
}
