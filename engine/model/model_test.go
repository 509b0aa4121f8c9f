package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bimgraph/bimgraph/engine/domain"
)

func testFileInfo() domain.FileInfo {
	return domain.FileInfo{
		FileID:     "FILE_model_1700000000",
		FileName:   "model.ifc",
		FilePath:   "/data/model.ifc",
		FileSize:   1234,
		ImportDate: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Schema:     "IFC4",
	}
}

func TestBuildOrdersOps(t *testing.T) {
	elements := map[string]domain.Element{
		"b-guid": {GlobalID: "b-guid", IfcClass: "IfcWall", SourceFileID: "FILE_model_1700000000"},
		"a-guid": {GlobalID: "a-guid", IfcClass: "IfcDoor", SourceFileID: "FILE_model_1700000000"},
	}
	rels := []domain.Relationship{
		{Kind: domain.RelConnects, GlobalID: "r1", FromID: "b-guid", ToID: "a-guid"},
	}

	ops, err := Build(testFileInfo(), elements, rels)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(ops) != 4 {
		t.Fatalf("got %d ops, want 4", len(ops))
	}

	if !strings.Contains(ops[0].Cypher, "MERGE (f:File") {
		t.Errorf("op 0 should create the file node: %s", ops[0].Cypher)
	}
	// Elements come in sorted id order for deterministic batches.
	if ops[1].Params["globalId"] != "a-guid" || ops[2].Params["globalId"] != "b-guid" {
		t.Errorf("element order: %v, %v", ops[1].Params["globalId"], ops[2].Params["globalId"])
	}
	if !strings.Contains(ops[3].Cypher, "MERGE (a)-[r:CONNECTS_TO]->(b)") {
		t.Errorf("relationship op: %s", ops[3].Cypher)
	}
}

func TestBuildElementOp(t *testing.T) {
	el := domain.Element{
		GlobalID:     "2O2Fr$t4X7Zf8NOew3FLOH",
		IfcClass:     "IfcWall",
		Name:         "South Wall",
		Tag:          "W-01",
		SourceFileID: "FILE_model_1700000000",
		Properties: map[string]map[string]any{
			"Pset_WallCommon": {"IsExternal": "T", "FireRating": "REI60"},
		},
	}

	ops, err := Build(testFileInfo(), map[string]domain.Element{el.GlobalID: el}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	op := ops[1]

	if !strings.Contains(op.Cypher, "SET n:IfcWall") {
		t.Errorf("missing class label: %s", op.Cypher)
	}
	if !strings.Contains(op.Cypher, "MERGE (n)-[:BELONGS_TO_FILE]->(f)") {
		t.Errorf("missing file edge: %s", op.Cypher)
	}

	props := op.Params["props"].(map[string]any)
	raw, ok := props["properties"].(string)
	if !ok {
		t.Fatalf("properties should be a JSON string, got %T", props["properties"])
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("properties not valid JSON: %v", err)
	}
	if decoded["Pset_WallCommon"]["FireRating"] != "REI60" {
		t.Errorf("round-tripped properties = %v", decoded)
	}
}

func TestBuildReimportUpdatesElementInPlace(t *testing.T) {
	el := domain.Element{
		GlobalID:     "2O2Fr$t4X7Zf8NOew3FLOH",
		IfcClass:     "IfcWall",
		Name:         "South Wall",
		SourceFileID: "FILE_model_1700000000",
	}
	first, err := Build(testFileInfo(), map[string]domain.Element{el.GlobalID: el}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	el.Name = "South Wall (renovated)"
	second, err := Build(testFileInfo(), map[string]domain.Element{el.GlobalID: el}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Same statement and merge key both times, so re-running ingestion
	// after a rename updates the node rather than duplicating it.
	if first[1].Cypher != second[1].Cypher {
		t.Errorf("cypher changed between imports:\n%s\n%s", first[1].Cypher, second[1].Cypher)
	}
	if !strings.Contains(second[1].Cypher, "MERGE (n:Element {globalId: $globalId})") {
		t.Errorf("element write must merge on globalId: %s", second[1].Cypher)
	}
	if first[1].Params["globalId"] != second[1].Params["globalId"] {
		t.Errorf("merge keys differ: %v vs %v",
			first[1].Params["globalId"], second[1].Params["globalId"])
	}
	props := second[1].Params["props"].(map[string]any)
	if props["name"] != "South Wall (renovated)" {
		t.Errorf("name = %v", props["name"])
	}
}

func TestBuildSyntheticFlag(t *testing.T) {
	el := domain.Element{
		GlobalID: "0d4c1ff0-0000-5000-8000-000000000000", IfcClass: "IfcWindow",
		SourceFileID: "FILE_model_1700000000", Synthetic: true,
	}
	ops, err := Build(testFileInfo(), map[string]domain.Element{el.GlobalID: el}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	props := ops[1].Params["props"].(map[string]any)
	if props["synthetic"] != true {
		t.Error("synthetic flag not stored")
	}
}

func TestBuildRejectsElementWithoutClass(t *testing.T) {
	el := domain.Element{GlobalID: "x-guid", SourceFileID: "FILE_model_1700000000"}
	if _, err := Build(testFileInfo(), map[string]domain.Element{el.GlobalID: el}, nil); err == nil {
		t.Fatal("expected error for element without ifcClass")
	}
}

func TestBuildRejectsOrphanRelationship(t *testing.T) {
	rels := []domain.Relationship{{Kind: domain.RelAggregates, FromID: "a"}}
	if _, err := Build(testFileInfo(), nil, rels); err == nil {
		t.Fatal("expected error for relationship without target")
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"IfcWall", "IfcWall"},
		{"Ifc Wall) DETACH DELETE", "IfcWallDETACHDELETE"},
		{"", "Element"},
		{"***", "Element"},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeRelType(t *testing.T) {
	tests := []struct{ in, want string }{
		{"CONTAINED_IN", "CONTAINED_IN"},
		{"connects to", "CONNECTSTO"},
		{"", "RELATED_TO"},
	}
	for _, tt := range tests {
		if got := SanitizeRelType(tt.in); got != tt.want {
			t.Errorf("SanitizeRelType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
