package canonicalize

import (
	"strings"
	"testing"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	// Arrays keep their order, only object keys sort at every level.
	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}

	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	// Standard encoding/json produces < for <; RFC 8785 forbids that.
	input := map[string]string{
		"cmd": "a < b && c > d",
	}

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if strings.Contains(string(b), `<`) {
		t.Errorf("canonical form must not HTML-escape: %s", b)
	}
}

func TestCanonicalHash_Stability(t *testing.T) {
	// Two inputs that are semantically identical but constructed differently.
	v1 := map[string]interface{}{"a": 1, "b": 2}

	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	v2 := S{A: 1, B: 2}

	h1, err := CanonicalHash(v1)
	if err != nil {
		t.Fatal(err)
	}

	h2, err := CanonicalHash(v2)
	if err != nil {
		t.Fatal(err)
	}

	if h1 != h2 {
		t.Errorf("Hash mismatch for semantically identical inputs: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestNormalizeNFC_ComposesStrings(t *testing.T) {
	// "é" as e + combining acute vs the precomposed code point.
	decomposed := "café"
	composed := "café"

	got := NormalizeNFC(map[string]interface{}{
		"path": decomposed,
		"list": []interface{}{decomposed},
	})

	m, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if m["path"] != composed {
		t.Errorf("string value not normalized: %q", m["path"])
	}
	if m["list"].([]interface{})[0] != composed {
		t.Errorf("nested value not normalized")
	}
}

func TestNormalizeNFC_HashConverges(t *testing.T) {
	a := map[string]interface{}{"path": "café"}
	b := map[string]interface{}{"path": "café"}

	ha, err := CanonicalHash(NormalizeNFC(a))
	if err != nil {
		t.Fatal(err)
	}
	hb, err := CanonicalHash(NormalizeNFC(b))
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("NFC forms should hash identically: %s vs %s", ha, hb)
	}
}

func TestJCS_RejectsUnmarshalable(t *testing.T) {
	if _, err := JCS(make(chan int)); err == nil {
		t.Error("expected error for channel value")
	}
}

func TestJCSString_IsReachable(t *testing.T) {
	s, err := JCSString(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if s == "" {
		t.Fatal("expected non-empty string")
	}
}
