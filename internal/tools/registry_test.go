package tools

import (
	"encoding/json"
	"testing"
)

func TestRegistry_StableOrder(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	toolsA, toolsB := a.Tools(), b.Tools()
	if len(toolsA) != len(toolsB) {
		t.Fatal("registry length must be deterministic")
	}
	for i := range toolsA {
		if toolsA[i].Name != toolsB[i].Name {
			t.Errorf("position %d: %s vs %s", i, toolsA[i].Name, toolsB[i].Name)
		}
	}
}

func TestRegistry_LookupEveryTool(t *testing.T) {
	r := NewRegistry()
	for _, tool := range r.Tools() {
		found, ok := r.Lookup(tool.Name)
		if !ok {
			t.Errorf("tool %s not resolvable by name", tool.Name)
			continue
		}
		if found.Handler == nil {
			t.Errorf("tool %s has no handler", tool.Name)
		}
		if found.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
		if found.InputSchema.Type != "object" {
			t.Errorf("tool %s schema type = %q", tool.Name, found.InputSchema.Type)
		}
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("get_everything"); ok {
		t.Error("unknown tool must not resolve")
	}
}

func TestRegistry_SchemasSerialize(t *testing.T) {
	r := NewRegistry()
	for _, tool := range r.Tools() {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			t.Fatalf("tool %s schema does not serialize: %v", tool.Name, err)
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded["type"] != "object" {
			t.Errorf("tool %s serialized type = %v", tool.Name, decoded["type"])
		}
	}
}

func TestRegistry_RequiredArgsAreDeclared(t *testing.T) {
	r := NewRegistry()
	for _, tool := range r.Tools() {
		for _, required := range tool.InputSchema.Required {
			if _, ok := tool.InputSchema.Properties[required]; !ok {
				t.Errorf("tool %s requires undeclared argument %q", tool.Name, required)
			}
		}
	}
}
