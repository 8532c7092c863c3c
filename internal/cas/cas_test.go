package cas

import (
	"strings"
	"testing"
)

func TestNowMs(t *testing.T) {
	// Year 2024 in milliseconds is approximately 1704067200000
	if ts := NowMs(); ts < 1704067200000 {
		t.Errorf("NowMs() returned %d, expected timestamp after 2024", ts)
	}
}

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{"b": 1, "a": 2},
		"a": 3,
	}

	result, err := CanonicalJSON(input)
	if err != nil {
		t.Fatalf("CanonicalJSON failed: %v", err)
	}

	expected := `{"a":3,"z":{"a":2,"b":1}}`
	if string(result) != expected {
		t.Errorf("expected %s, got %s", expected, string(result))
	}
}

func TestCanonicalJSON_StructFieldOrderIgnored(t *testing.T) {
	type ab struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	type ba struct {
		A string `json:"a"`
		B string `json:"b"`
	}

	left, err := CanonicalJSON(ab{B: "x", A: "y"})
	if err != nil {
		t.Fatal(err)
	}
	right, err := CanonicalJSON(ba{A: "y", B: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if string(left) != string(right) {
		t.Errorf("expected identical encodings, got %s and %s", left, right)
	}
}

func TestCanonicalJSON_LargeIntegersPreserved(t *testing.T) {
	result, err := CanonicalJSON(map[string]interface{}{"ts": int64(1734567890123456789)})
	if err != nil {
		t.Fatal(err)
	}
	if string(result) != `{"ts":1734567890123456789}` {
		t.Errorf("integer lost precision: %s", result)
	}
}

func TestCanonicalJSON_Primitives(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"number", 42, "42"},
		{"float", 3.14, "3.14"},
		{"bool", true, "true"},
		{"null", nil, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CanonicalJSON(tt.input)
			if err != nil {
				t.Fatalf("CanonicalJSON failed: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, string(result))
			}
		})
	}
}

func TestSum(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	c := Sum([]byte("world"))

	if len(a) != DigestSize*2 {
		t.Errorf("expected %d hex chars, got %d", DigestSize*2, len(a))
	}
	if a != b {
		t.Error("same input produced different digests")
	}
	if a == c {
		t.Error("different input produced the same digest")
	}
}

func TestNodeID_KindIsPartOfIdentity(t *testing.T) {
	payload := map[string]interface{}{"path": "a.txt"}

	tree, err := NodeID("Tree", payload)
	if err != nil {
		t.Fatal(err)
	}
	commit, err := NodeID("Commit", payload)
	if err != nil {
		t.Fatal(err)
	}
	if tree == commit {
		t.Error("node kind should change the id")
	}
	if !IsHex(tree) {
		t.Errorf("node id %q is not hex", tree)
	}
}

func TestNodeID_MatchesDigestOfEncoding(t *testing.T) {
	payload := map[string]interface{}{"b": []interface{}{1, "two"}, "a": nil}
	id, err := NodeID("Commit", payload)
	if err != nil {
		t.Fatal(err)
	}
	body, err := CanonicalJSON(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"a":null,"b":[1,"two"]}` {
		t.Errorf("unexpected encoding %s", body)
	}
	if want := Sum(append([]byte("Commit\n"), body...)); id != want {
		t.Errorf("NodeID = %s, want %s", id, want)
	}
}

func TestIsHex(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"abc123", true},
		{"ABC", false},
		{"xyz", false},
		{strings.Repeat("f", 64), true},
	}
	for _, tt := range tests {
		if got := IsHex(tt.in); got != tt.want {
			t.Errorf("IsHex(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestShort(t *testing.T) {
	if got := Short("0123456789", 4); got != "0123" {
		t.Errorf("Short = %q", got)
	}
	if got := Short("01", 4); got != "01" {
		t.Errorf("Short = %q", got)
	}
}
