package domain

import (
	"errors"
	"testing"
)

func TestIsIfcGUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"2O2Fr$t4X7Zf8NOew3FLOH", true},
		{"0u4wgLe6n0ABVaiXyikbkA", true},
		{"", false},
		{"too-short", false},
		{"2O2Fr$t4X7Zf8NOew3FLOHX", false}, // 23 chars
		{"2O2Fr?t4X7Zf8NOew3FLOH", false},  // invalid char
		{"9O2Fr$t4X7Zf8NOew3FLOH", false},  // leading char out of range
	}
	for _, tt := range tests {
		if got := IsIfcGUID(tt.id); got != tt.want {
			t.Errorf("IsIfcGUID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidateElement(t *testing.T) {
	e := Element{GlobalID: "2O2Fr$t4X7Zf8NOew3FLOH", IfcClass: "IfcWall"}
	if err := ValidateElement(e); err != nil {
		t.Fatalf("valid element rejected: %v", err)
	}

	if err := ValidateElement(Element{IfcClass: "IfcWall"}); !errors.Is(err, ErrMissingGlobalID) {
		t.Fatalf("expected ErrMissingGlobalID, got %v", err)
	}

	if err := ValidateElement(Element{GlobalID: "x"}); err == nil {
		t.Fatal("expected error for missing ifcClass")
	}
}

func TestValidateRelationship(t *testing.T) {
	r := Relationship{Kind: RelAggregates, FromID: "a", ToID: "b"}
	if err := ValidateRelationship(r); err != nil {
		t.Fatalf("valid relationship rejected: %v", err)
	}
	if err := ValidateRelationship(Relationship{FromID: "a"}); !errors.Is(err, ErrOrphanRelationship) {
		t.Fatalf("expected ErrOrphanRelationship, got %v", err)
	}
}
