package schemahash

import (
	"encoding/json"
	"strings"
	"testing"
)

const bitcoinAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func TestHashKeyOrderIndependent(t *testing.T) {
	a, err := Hash(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	var decoded any
	dec := json.NewDecoder(strings.NewReader(`{"a": 2, "b": 1}`))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	b, err := Hash(decoded)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if a != b {
		t.Errorf("hash depends on key order: %q != %q", a, b)
	}
}

func TestHashDeterministic(t *testing.T) {
	schema := map[string]any{
		"type":   "SCHEMA",
		"stream": "entry",
		"schema": map[string]any{
			"properties": map[string]any{
				"from":      map[string]any{"type": []any{"string", "null"}, "format": "date-time"},
				"intensity": map[string]any{"type": "object"},
			},
		},
		"key_properties": []any{"from"},
	}

	first, err := Hash(schema)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := Hash(schema)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}
		if got != first {
			t.Fatalf("Hash not deterministic: %q != %q", got, first)
		}
	}

	if len(first) == 0 || len(first) > 11 {
		t.Errorf("hash %q has unexpected length %d", first, len(first))
	}
	for _, c := range first {
		if !strings.ContainsRune(bitcoinAlphabet, c) {
			t.Errorf("hash %q contains %q outside the base58 alphabet", first, c)
		}
	}
}

func TestHashDistinguishesSchemas(t *testing.T) {
	a, _ := Hash(map[string]any{"a": 1})
	b, _ := Hash(map[string]any{"a": 2})
	c, _ := Hash(map[string]any{"a": map[string]any{"b": 1}})
	if a == b || a == c || b == c {
		t.Errorf("distinct schemas share a hash: %q %q %q", a, b, c)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"sorted nested keys", map[string]any{"b": map[string]any{"z": true, "y": nil}, "a": []any{"x", 1}}, `{"a": ["x", 1], "b": {"y": null, "z": true}}`},
		{"non ascii", map[string]any{"k": "café"}, `{"k": "caf\u00e9"}`},
		{"astral plane", "\U0001D11E", `"\ud834\udd1e"`},
		{"escapes", "a\"b\\c\n\x01/", `"a\"b\\c\n\u0001/"`},
		{"integral float", 1.0, `1.0`},
		{"fraction", 0.5, `0.5`},
		{"large float", 1e16, `1e+16`},
		{"small float", 1.5e-5, `1.5e-05`},
		{"fixed float", 1234567.0, `1234567.0`},
		{"number literal int", json.Number("12345678901234567890"), `12345678901234567890`},
		{"number literal float", json.Number("1.50"), `1.5`},
		{"empty object", map[string]any{}, `{}`},
		{"empty array", []any{}, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonical(tt.in)
			if err != nil {
				t.Fatalf("Canonical failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Canonical = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalRejectsUnsupported(t *testing.T) {
	if _, err := Canonical(map[string]any{"f": func() {}}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

// Golden addresses. These are stored as directory names in existing lakes
// and must never change.
func TestHashBytesGolden(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "EFr3erV4hXP"},
		{"a", "f3emnQHm1vr"},
		{"abc", "JisiVDsLojH"},
		// Fingerprint64 0xf091da1303ab7d00: the low byte is written first,
		// so the address starts with the leading-zero digit.
		{"schema-9", "15mDE1pYLKh"},
	}
	for _, tt := range tests {
		if got := HashBytes([]byte(tt.in)); got != tt.want {
			t.Errorf("HashBytes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashGolden(t *testing.T) {
	tests := []struct {
		name      string
		schema    map[string]any
		canonical string
		want      string
	}{
		{
			name: "carbon intensity entry",
			schema: map[string]any{
				"type":   "SCHEMA",
				"stream": "entry",
				"schema": map[string]any{
					"properties": map[string]any{
						"from":      map[string]any{"type": []any{"string", "null"}, "format": "date-time"},
						"intensity": map[string]any{"type": "object"},
					},
				},
				"key_properties": []any{"from"},
			},
			canonical: `{"key_properties": ["from"], "schema": {"properties": {"from": {"format": "date-time", "type": ["string", "null"]}, "intensity": {"type": "object"}}}, "stream": "entry", "type": "SCHEMA"}`,
			want:      "2LDzcNqvmVF",
		},
		{
			name: "id and name",
			schema: map[string]any{
				"type":   "SCHEMA",
				"stream": "entry",
				"schema": map[string]any{
					"properties": map[string]any{
						"id":   map[string]any{"type": "integer"},
						"name": map[string]any{"type": "string"},
					},
				},
				"key_properties": []any{"id"},
			},
			canonical: `{"key_properties": ["id"], "schema": {"properties": {"id": {"type": "integer"}, "name": {"type": "string"}}}, "stream": "entry", "type": "SCHEMA"}`,
			want:      "TUqDeevCV9S",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canonical, err := Canonical(tt.schema)
			if err != nil {
				t.Fatalf("Canonical failed: %v", err)
			}
			if string(canonical) != tt.canonical {
				t.Errorf("Canonical = %s, want %s", canonical, tt.canonical)
			}
			got, err := Hash(tt.schema)
			if err != nil {
				t.Fatalf("Hash failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Hash = %q, want %q", got, tt.want)
			}
		})
	}
}
