package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("card")
	if !strings.HasPrefix(id, "card_") || len(id) != len("card_")+32 {
		t.Fatalf("NewID() = %q", id)
	}
	if NewID("card") == id {
		t.Fatal("NewID() repeated itself")
	}
	if bare := NewID(""); strings.Contains(bare, "_") || len(bare) != 32 {
		t.Fatalf("NewID(\"\") = %q", bare)
	}
}
