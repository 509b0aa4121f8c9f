package domain

// ifcGUIDChars is the base-64 alphabet used by IFC compressed GUIDs.
const ifcGUIDChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz_$"

// IsIfcGUID reports whether s looks like a 22-character IFC compressed GUID.
func IsIfcGUID(s string) bool {
	if len(s) != 22 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := (c >= '0' && c <= '9') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= 'a' && c <= 'z') ||
			c == '_' || c == '$'
		if !ok {
			return false
		}
	}
	// First character encodes the top 2 bits of a 128-bit value; it can
	// only be 0-3 in a well-formed compressed GUID.
	return s[0] >= '0' && s[0] <= '3'
}

// ValidateElement checks the invariants an Element must satisfy before it
// may be handed to the model builder.
func ValidateElement(e Element) error {
	if e.GlobalID == "" {
		return ErrMissingGlobalID
	}
	if e.IfcClass == "" {
		return &ParseError{Msg: "element " + e.GlobalID + " has no ifcClass"}
	}
	return nil
}

// ValidateRelationship checks that a relationship names both endpoints.
func ValidateRelationship(r Relationship) error {
	if r.FromID == "" || r.ToID == "" {
		return ErrOrphanRelationship
	}
	return nil
}
