package steps

import "testing"

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Len() != len(Factories) {
		t.Errorf("Len = %d, want %d", reg.Len(), len(Factories))
	}
	defs := reg.Definitions()
	if defs[0].ID != "CompletionWordCount" || defs[1].ID != "CompletionScript" {
		t.Errorf("order = %s, %s", defs[0].ID, defs[1].ID)
	}
	for _, d := range defs {
		if d.Expression == "" || d.Name == "" {
			t.Errorf("%s: incomplete definition", d.ID)
		}
	}
}
