package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bimgraph/bimgraph/engine/domain"
	"github.com/bimgraph/bimgraph/engine/step"
)

const modelFile = `ISO-10303-21;
HEADER;
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCBUILDINGSTOREY('0Storey000000000000001',$,'Level 1',$,$,$,$,'L1',.ELEMENT.,0.);
#2=IFCWALL('2O2Fr$t4X7Zf8NOew3FLOH',$,'South Wall','Load bearing',$,$,$,'W-01',.STANDARD.);
#3=IFCDOOR('1aBcDeFgHiJkLmNoPqRsT0',$,'Main Door',$,$,$,$,'D-01',2.1,0.9);
#4=IFCSPACE('3x4wgLe6n0ABVaiXyikbkA',$,'A204',$,$,$,$,'Office room',.ELEMENT.,.INTERNAL.,$);
#5=IFCRELCONTAINEDINSPATIALSTRUCTURE('1relContained00000001',$,$,$,(#2,#3),#1);
#6=IFCRELAGGREGATES('1relAggregates0000001',$,$,$,#1,(#4));
#7=IFCRELCONNECTSELEMENTS('1relConnects000000001',$,$,$,$,#2,#3);
#8=IFCRELCONTAINEDINSPATIALSTRUCTURE('1relContained00000002',$,$,$,(#99),#1);
#10=IFCPROPERTYSET('0u4wgLe6n0ABVaiXyikbkA',$,'Pset_WallCommon',$,(#11,#12));
#11=IFCPROPERTYSINGLEVALUE('IsExternal',$,IFCBOOLEAN(.T.),$);
#12=IFCPROPERTYSINGLEVALUE('FireRating',$,IFCLABEL('REI60'),$);
#13=IFCRELDEFINESBYPROPERTIES('1relDefines0000000001',$,$,$,(#2),#10);
#14=IFCELEMENTQUANTITY('0qqqqLe6n0ABVaiXyikbkA',$,'Qto_WallBaseQuantities',$,$,(#15));
#15=IFCQUANTITYAREA('GrossSideArea',$,$,24.75);
#16=IFCRELDEFINESBYPROPERTIES('1relDefines0000000002',$,$,$,(#2),#14);
#17=IFCWINDOW($,$,'Unnamed Window',$,$,$,$,'WN-01',1.2,0.8);
ENDSEC;
END-ISO-10303-21;
`

func runExtract(t *testing.T, fileID, content string) *Result {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.ifc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := step.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	res, err := New(fileID, nil).Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestExtractElements(t *testing.T) {
	res := runExtract(t, "FILE_model_1", modelFile)

	if res.Stats.Elements != 5 {
		t.Fatalf("elements = %d, want 5", res.Stats.Elements)
	}

	wall, ok := res.Elements["2O2Fr$t4X7Zf8NOew3FLOH"]
	if !ok {
		t.Fatal("wall not extracted")
	}
	if wall.IfcClass != "IfcWall" || wall.Name != "South Wall" || wall.Tag != "W-01" {
		t.Errorf("wall = %+v", wall)
	}
	if wall.Description != "Load bearing" {
		t.Errorf("description = %q", wall.Description)
	}
	if wall.SourceFileID != "FILE_model_1" {
		t.Errorf("sourceFileId = %q", wall.SourceFileID)
	}

	space, ok := res.Elements["3x4wgLe6n0ABVaiXyikbkA"]
	if !ok {
		t.Fatal("space not extracted")
	}
	if space.Tag != "" {
		t.Errorf("spatial element should not carry a tag, got %q", space.Tag)
	}
}

func TestExtractRelationships(t *testing.T) {
	res := runExtract(t, "FILE_model_1", modelFile)

	if res.Stats.Relationships != 4 {
		t.Fatalf("relationships = %d, want 4", res.Stats.Relationships)
	}
	if res.Stats.Orphans != 1 {
		t.Fatalf("orphans = %d, want 1", res.Stats.Orphans)
	}

	byKind := map[domain.RelKind][]domain.Relationship{}
	for _, r := range res.Relationships {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}

	if got := byKind[domain.RelContainedIn]; len(got) != 2 {
		t.Fatalf("contained-in = %d, want 2", len(got))
	} else if got[0].ToID != "0Storey000000000000001" {
		t.Errorf("contained-in target = %q", got[0].ToID)
	}

	if got := byKind[domain.RelAggregates]; len(got) != 1 ||
		got[0].FromID != "0Storey000000000000001" || got[0].ToID != "3x4wgLe6n0ABVaiXyikbkA" {
		t.Errorf("aggregates = %+v", got)
	}

	if got := byKind[domain.RelConnects]; len(got) != 1 ||
		got[0].FromID != "2O2Fr$t4X7Zf8NOew3FLOH" || got[0].ToID != "1aBcDeFgHiJkLmNoPqRsT0" {
		t.Errorf("connects = %+v", got)
	}
}

func TestExtractProperties(t *testing.T) {
	res := runExtract(t, "FILE_model_1", modelFile)

	wall := res.Elements["2O2Fr$t4X7Zf8NOew3FLOH"]
	pset, ok := wall.Properties["Pset_WallCommon"]
	if !ok {
		t.Fatalf("Pset_WallCommon missing, have %v", wall.Properties)
	}
	if pset["IsExternal"] != "T" {
		t.Errorf("IsExternal = %v", pset["IsExternal"])
	}
	if pset["FireRating"] != "REI60" {
		t.Errorf("FireRating = %v", pset["FireRating"])
	}

	qto, ok := wall.Properties["Qto_WallBaseQuantities"]
	if !ok {
		t.Fatal("quantity set missing")
	}
	if qto["GrossSideArea"] != 24.75 {
		t.Errorf("GrossSideArea = %v", qto["GrossSideArea"])
	}
}

func TestExtractSyntheticID(t *testing.T) {
	first := runExtract(t, "FILE_model_1", modelFile)
	second := runExtract(t, "FILE_model_1", modelFile)

	if first.Stats.SyntheticIDs != 1 {
		t.Fatalf("synthetic ids = %d, want 1", first.Stats.SyntheticIDs)
	}

	find := func(res *Result) domain.Element {
		for _, el := range res.Elements {
			if el.Synthetic {
				return el
			}
		}
		t.Fatal("no synthetic element")
		return domain.Element{}
	}

	a, b := find(first), find(second)
	if a.GlobalID == "" || a.GlobalID != b.GlobalID {
		t.Errorf("synthetic id not stable: %q vs %q", a.GlobalID, b.GlobalID)
	}
	if a.IfcClass != "IfcWindow" {
		t.Errorf("synthetic element class = %q", a.IfcClass)
	}
}

func TestExtractMalformedGlobalID(t *testing.T) {
	content := `ISO-10303-21;
HEADER;
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCWALL('not-a-guid',$,'Wall',$,$,$,$,'W-01',.STANDARD.);
ENDSEC;
END-ISO-10303-21;
`
	res := runExtract(t, "FILE_bad_1", content)
	if res.Stats.SyntheticIDs != 1 {
		t.Fatalf("synthetic ids = %d, want 1", res.Stats.SyntheticIDs)
	}
	for _, el := range res.Elements {
		if !el.Synthetic {
			t.Errorf("malformed guid kept: %+v", el)
		}
	}
}

func TestExtractPropertyDepthLimit(t *testing.T) {
	content := `ISO-10303-21;
HEADER;
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCWALL('2O2Fr$t4X7Zf8NOew3FLOH',$,'Wall',$,$,$,$,'W-01',.STANDARD.);
#10=IFCPROPERTYSET('0u4wgLe6n0ABVaiXyikbkA',$,'Pset_Deep',$,(#11));
#11=IFCCOMPLEXPROPERTY('Outer',$,'usage',(#12));
#12=IFCCOMPLEXPROPERTY('Middle',$,'usage',(#13));
#13=IFCPROPERTYSINGLEVALUE('Leaf',$,IFCLABEL('deep'),$);
#14=IFCRELDEFINESBYPROPERTIES('1relDefines0000000001',$,$,$,(#1),#10);
ENDSEC;
END-ISO-10303-21;
`
	path := filepath.Join(t.TempDir(), "deep.ifc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := step.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	x := New("FILE_deep_1", nil)
	x.MaxPropertyDepth(2)
	res, err := x.Run(r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Stats.PropertyWarnings == 0 {
		t.Error("expected a depth warning")
	}
	wall := res.Elements["2O2Fr$t4X7Zf8NOew3FLOH"]
	if pset, ok := wall.Properties["Pset_Deep"]; ok {
		if outer, ok := pset["Outer"].(map[string]any); ok {
			if _, ok := outer["Middle"].(map[string]any); ok {
				t.Errorf("nesting beyond limit was resolved: %v", pset)
			}
		}
	}
}

func TestExtractCyclicProperties(t *testing.T) {
	content := `ISO-10303-21;
HEADER;
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCWALL('2O2Fr$t4X7Zf8NOew3FLOH',$,'Wall',$,$,$,$,'W-01',.STANDARD.);
#10=IFCPROPERTYSET('0u4wgLe6n0ABVaiXyikbkA',$,'Pset_Cycle',$,(#11));
#11=IFCCOMPLEXPROPERTY('A',$,'usage',(#12));
#12=IFCCOMPLEXPROPERTY('B',$,'usage',(#11));
#13=IFCRELDEFINESBYPROPERTIES('1relDefines0000000001',$,$,$,(#1),#10);
ENDSEC;
END-ISO-10303-21;
`
	res := runExtract(t, "FILE_cycle_1", content)
	if res.Stats.PropertyWarnings == 0 {
		t.Error("expected a cycle warning")
	}
}
