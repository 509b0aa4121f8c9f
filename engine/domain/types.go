// Package domain defines the core BIM entities shared by the ingestion
// pipeline and the query agent: elements extracted from IFC files, the
// relationships between them, and source-file metadata.
package domain

import "time"

// Element represents one physical or spatial entity from an IFC model.
type Element struct {
	GlobalID    string `json:"globalId"`
	IfcClass    string `json:"ifcClass"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ObjectType  string `json:"objectType"`
	Tag         string `json:"tag"`

	// Properties maps property-set name -> property name -> value. The shape
	// is schema-free; values may themselves be nested (unit-wrapped numbers,
	// lists) depending on the authoring tool.
	Properties map[string]map[string]any `json:"properties,omitempty"`

	// SourceFileID references the File node this element belongs to.
	SourceFileID string `json:"sourceFileId"`

	// Synthetic is true when the source record carried no GlobalId and a
	// generated identifier was assigned. Synthetic ids are stable within a
	// file but carry no cross-import uniqueness guarantee.
	Synthetic bool `json:"synthetic,omitempty"`
}

// RelKind is the type of a relationship edge between two elements.
type RelKind string

// The four relationship kinds extracted from IFC relationship records.
const (
	RelAggregates  RelKind = "AGGREGATES"   // assembly composition
	RelConnects    RelKind = "CONNECTS_TO"  // physical connectivity
	RelContainedIn RelKind = "CONTAINED_IN" // spatial containment
	RelAssignedTo  RelKind = "ASSIGNED_TO"  // group membership
)

// Relationship is a directed typed edge between two element global ids.
type Relationship struct {
	Kind     RelKind `json:"kind"`
	GlobalID string  `json:"globalId"` // id of the IFC relationship record itself
	FromID   string  `json:"fromId"`
	ToID     string  `json:"toId"`
}

// FileInfo is the metadata recorded for one ingested IFC file.
type FileInfo struct {
	FileID       string    `json:"fileId"`
	FileName     string    `json:"fileName"`
	FilePath     string    `json:"filePath"`
	FileSize     int64     `json:"fileSize"`
	CreatedDate  time.Time `json:"createdDate"`
	ModifiedDate time.Time `json:"modifiedDate"`
	ImportDate   time.Time `json:"importDate"`
	Schema       string    `json:"schema"`
}
