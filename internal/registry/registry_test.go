package registry

import (
	"strings"
	"testing"

	"aviary/internal/domain"
)

func TestNewDispatchesByType(t *testing.T) {
	for _, typ := range Types() {
		obj, err := New(typ, map[string]any{"k": "v"})
		if err != nil {
			t.Fatalf("New(%s): %v", typ, err)
		}
		if obj.ObjectType() != typ {
			t.Fatalf("New(%s) produced %s", typ, obj.ObjectType())
		}
	}
}

func TestNewUnknownType(t *testing.T) {
	if _, err := New("mystery", map[string]any{}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestValidateTypes(t *testing.T) {
	if err := ValidateTypes([]domain.ObjectType{domain.ObjectTypeSurvey, domain.ObjectTypeAgent}); err != nil {
		t.Fatalf("valid types rejected: %v", err)
	}
	err := ValidateTypes([]domain.ObjectType{domain.ObjectTypeSurvey, "sandwich"})
	if err == nil {
		t.Fatal("expected error for invalid type")
	}
	if got := err.Error(); !strings.Contains(got, "sandwich") {
		t.Fatalf("error does not name the offender: %q", got)
	}
}

func TestScenarioPlainRoundTrip(t *testing.T) {
	obj, err := New(domain.ObjectTypeScenario, map[string]any{"city": "Paris"})
	if err != nil {
		t.Fatalf("new scenario: %v", err)
	}
	sc, ok := obj.(Scenario)
	if !ok {
		t.Fatalf("got %T, want Scenario", obj)
	}
	if sc.IsFileStore() {
		t.Fatal("plain scenario detected as file store")
	}
	if sc.Dict()["city"] != "Paris" {
		t.Fatalf("dict = %v", sc.Dict())
	}
}

func TestScenarioFileStoreDetection(t *testing.T) {
	dict := map[string]any{
		"path":               "report.json",
		"base64_string":      "eyJhIjogMX0=",
		"binary":             true,
		"suffix":             "json",
		"mime_type":          "application/json",
		"external_locations": map[string]any{},
		"extracted_text":     "",
	}
	obj, err := New(domain.ObjectTypeScenario, dict)
	if err != nil {
		t.Fatalf("new file store scenario: %v", err)
	}
	sc := obj.(Scenario)
	if !sc.IsFileStore() {
		t.Fatal("file store scenario not detected")
	}
	md, ok := sc.Metadata()
	if !ok || md.Suffix != "json" || md.MimeType != "application/json" {
		t.Fatalf("metadata = %+v, %v", md, ok)
	}
	raw, err := sc.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(raw) != `{"a": 1}` {
		t.Fatalf("decoded bytes = %q", raw)
	}
}

func TestScenarioPartialFileKeysStayPlain(t *testing.T) {
	obj, err := New(domain.ObjectTypeScenario, map[string]any{
		"path":   "just-a-field.txt",
		"suffix": "txt",
	})
	if err != nil {
		t.Fatalf("new scenario: %v", err)
	}
	if obj.(Scenario).IsFileStore() {
		t.Fatal("partial key set must not be treated as a file store")
	}
}

func TestNewFileStore(t *testing.T) {
	sc := NewFileStore("main.go", "go", "text/x-go", []byte("package main"))
	if !sc.IsFileStore() {
		t.Fatal("NewFileStore did not produce a file store")
	}
	raw, err := sc.Bytes()
	if err != nil || string(raw) != "package main" {
		t.Fatalf("bytes = %q, %v", raw, err)
	}
	dict := sc.Dict()
	for _, key := range fileStoreKeys {
		if _, ok := dict[key]; !ok {
			t.Fatalf("dict missing file store key %q", key)
		}
	}
}

func TestHashStable(t *testing.T) {
	a, _ := New(domain.ObjectTypeSurvey, map[string]any{"x": 1.0, "y": []any{"a", "b"}})
	b, _ := New(domain.ObjectTypeSurvey, map[string]any{"y": []any{"a", "b"}, "x": 1.0})
	if Hash(a) != Hash(b) {
		t.Fatal("hash depends on key order")
	}
	c, _ := New(domain.ObjectTypeSurvey, map[string]any{"x": 2.0})
	if Hash(a) == Hash(c) {
		t.Fatal("different payloads share a hash")
	}
}
