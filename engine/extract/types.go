package extract

import "github.com/bimgraph/bimgraph/engine/domain"

// canonicalClasses maps upper-case STEP entity tags to the IFC class names
// used as graph labels. The set covers the product and group types the
// graph schema exposes; records outside it are ignored, not errors.
var canonicalClasses = map[string]string{
	"IFCBEAM":                 "IfcBeam",
	"IFCBUILDING":             "IfcBuilding",
	"IFCBUILDINGELEMENTPROXY": "IfcBuildingElementProxy",
	"IFCBUILDINGSTOREY":       "IfcBuildingStorey",
	"IFCCOLUMN":               "IfcColumn",
	"IFCCOVERING":             "IfcCovering",
	"IFCCURTAINWALL":          "IfcCurtainWall",
	"IFCDISTRIBUTIONELEMENT":  "IfcDistributionElement",
	"IFCDOOR":                 "IfcDoor",
	"IFCFLOWTERMINAL":         "IfcFlowTerminal",
	"IFCFOOTING":              "IfcFooting",
	"IFCFURNISHINGELEMENT":    "IfcFurnishingElement",
	"IFCGROUP":                "IfcGroup",
	"IFCMEMBER":               "IfcMember",
	"IFCOPENINGELEMENT":       "IfcOpeningElement",
	"IFCPILE":                 "IfcPile",
	"IFCPLATE":                "IfcPlate",
	"IFCRAILING":              "IfcRailing",
	"IFCRAMP":                 "IfcRamp",
	"IFCRAMPFLIGHT":           "IfcRampFlight",
	"IFCROOF":                 "IfcRoof",
	"IFCSITE":                 "IfcSite",
	"IFCSLAB":                 "IfcSlab",
	"IFCSPACE":                "IfcSpace",
	"IFCSTAIR":                "IfcStair",
	"IFCSTAIRFLIGHT":          "IfcStairFlight",
	"IFCSYSTEM":               "IfcSystem",
	"IFCWALL":                 "IfcWall",
	"IFCWALLSTANDARDCASE":     "IfcWallStandardCase",
	"IFCWINDOW":               "IfcWindow",
	"IFCZONE":                 "IfcZone",
}

// spatialClasses have a LongName where building elements carry a Tag, so
// argument 7 must not be read as a tag for them.
var spatialClasses = map[string]bool{
	"IFCSPACE":          true,
	"IFCBUILDING":       true,
	"IFCBUILDINGSTOREY": true,
	"IFCSITE":           true,
	"IFCGROUP":          true,
	"IFCZONE":           true,
	"IFCSYSTEM":         true,
}

// Stats accumulates the per-file extraction statistics reported to the
// run summary.
type Stats struct {
	Records          int64 `json:"records"`
	Elements         int   `json:"elements"`
	Relationships    int   `json:"relationships"`
	Orphans          int   `json:"orphans"`
	SyntheticIDs     int   `json:"syntheticIds"`
	PropertyWarnings int   `json:"propertyWarnings"`
	SkippedRecords   int64 `json:"skippedRecords"`
}

// Result is the output of one file's extraction pass.
type Result struct {
	Elements      map[string]domain.Element
	Relationships []domain.Relationship
	Stats         Stats
}
