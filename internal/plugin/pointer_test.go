package plugin

import (
	"reflect"
	"testing"
)

func TestEvaluatePointer_RootProperty(t *testing.T) {
	data := map[string]any{
		"ids": []any{"id1", "id2", "id3"},
	}

	result, err := EvaluatePointer(data, "/ids")
	if err != nil {
		t.Fatalf("EvaluatePointer returned error: %v", err)
	}

	expected := []any{"id1", "id2", "id3"}
	if !reflect.DeepEqual(result, expected) {
		t.Errorf("expected %v, got %v", expected, result)
	}
}

func TestEvaluatePointer_NestedProperty(t *testing.T) {
	data := map[string]any{
		"files": []any{
			map[string]any{"path": "/tmp/a"},
			map[string]any{"path": "/tmp/b"},
		},
	}

	result, err := EvaluatePointer(data, "/files/1/path")
	if err != nil {
		t.Fatalf("EvaluatePointer returned error: %v", err)
	}

	if result != "/tmp/b" {
		t.Errorf("expected '/tmp/b', got '%v'", result)
	}
}

func TestEvaluatePointer_Wildcard(t *testing.T) {
	data := map[string]any{
		"files": []any{
			map[string]any{"name": "a.txt"},
			map[string]any{"name": "b.txt"},
		},
	}

	result, err := EvaluatePointer(data, "/files/*/name")
	if err != nil {
		t.Fatalf("EvaluatePointer returned error: %v", err)
	}

	expected := []any{"a.txt", "b.txt"}
	if !reflect.DeepEqual(result, expected) {
		t.Errorf("expected %v, got %v", expected, result)
	}
}

func TestEvaluatePointer_WildcardFlattening(t *testing.T) {
	data := map[string]any{
		"dirs": []any{
			map[string]any{"entries": []any{"a", "b"}},
			map[string]any{"entries": []any{"c"}},
		},
	}

	result, err := EvaluatePointer(data, "/dirs/*/entries")
	if err != nil {
		t.Fatalf("EvaluatePointer returned error: %v", err)
	}

	expected := []any{"a", "b", "c"}
	if !reflect.DeepEqual(result, expected) {
		t.Errorf("expected %v, got %v", expected, result)
	}
}

func TestEvaluatePointer_RootDocument(t *testing.T) {
	data := map[string]any{"ids": []any{"id1"}}

	result, err := EvaluatePointer(data, "")
	if err != nil {
		t.Fatalf("EvaluatePointer returned error: %v", err)
	}
	if !reflect.DeepEqual(result, data) {
		t.Errorf("expected %v, got %v", data, result)
	}
}

func TestEvaluatePointer_MissingKey_ReturnsError(t *testing.T) {
	data := map[string]any{"ids": []any{"id1"}}

	if _, err := EvaluatePointer(data, "/nonexistent"); err == nil {
		t.Error("expected error for missing key, got nil")
	}
}

func TestEvaluatePointer_WildcardOnNonArray_ReturnsError(t *testing.T) {
	data := map[string]any{"notArray": "string"}

	if _, err := EvaluatePointer(data, "/notArray/*/foo"); err == nil {
		t.Error("expected error for wildcard on non-array, got nil")
	}
}

func TestEvaluatePointer_WildcardEmptyArray(t *testing.T) {
	data := map[string]any{"list": []any{}}

	result, err := EvaluatePointer(data, "/list/*/id")
	if err != nil {
		t.Fatalf("EvaluatePointer returned error: %v", err)
	}
	if !reflect.DeepEqual(result, []any{}) {
		t.Errorf("expected empty array, got %v", result)
	}
}
