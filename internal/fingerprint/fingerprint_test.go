package fingerprint

import "testing"

func TestComputeIsDeterministic(t *testing.T) {
	a, err := Compute(TagSystemMessages, []string{"hello"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(TagSystemMessages, []string{"hello"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatal("expected identical input to produce identical digests")
	}
}

func TestComputeOrderInsensitiveForObjectKeys(t *testing.T) {
	type pair struct {
		A string `json:"a"`
		B string `json:"b"`
	}

	a, err := Compute(TagToolCatalog, map[string]string{"a": "1", "b": "2"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(TagToolCatalog, map[string]string{"b": "2", "a": "1"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Fatal("expected map key order to not affect the digest")
	}

	// Struct field order is fixed by the type, but reconfirm it matches
	// the equivalent map for sanity.
	c, err := Compute(TagToolCatalog, pair{A: "1", B: "2"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if c != a {
		t.Fatal("expected struct and equivalent map to canonicalize identically")
	}
}

func TestComputeArrayOrderMatters(t *testing.T) {
	a, err := Compute(TagToolCatalog, []string{"x", "y"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(TagToolCatalog, []string{"y", "x"})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a == b {
		t.Fatal("expected array element order to affect the digest")
	}
}

// TestComputeTagPreventsCrossCategoryCollision guards against a system
// message payload and a structurally similar tool catalog payload hashing
// identically just because their canonical JSON bytes coincide.
func TestComputeTagPreventsCrossCategoryCollision(t *testing.T) {
	sys, err := Compute(TagSystemMessages, "S")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	tools, err := Compute(TagToolCatalog, "S")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if sys == tools {
		t.Fatal("expected distinct tags to prevent cross-category collision")
	}
}

func TestComputeDifferentContentDiffers(t *testing.T) {
	a, err := Compute(TagSystemMessages, "one")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(TagSystemMessages, "two")
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a == b {
		t.Fatal("expected different content to produce different digests")
	}
}
