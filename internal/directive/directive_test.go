package directive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSetHasFourteenDirectives(t *testing.T) {
	s := DefaultSet()
	if s.Len() != 14 {
		t.Fatalf("default set has %d directives, want 14", s.Len())
	}
	if _, ok := s.Get("Conceptual Blend"); !ok {
		t.Fatalf("expected Conceptual Blend in default set")
	}
}

func TestNewSetValidation(t *testing.T) {
	if _, err := NewSet(nil); err == nil {
		t.Fatalf("empty set should fail")
	}
	dup := []Directive{
		{Name: "A", Instruction: "i"},
		{Name: "A", Instruction: "i"},
	}
	if _, err := NewSet(dup); err == nil {
		t.Fatalf("duplicate names should fail")
	}
	missing := []Directive{{Name: "A"}}
	if _, err := NewSet(missing); err == nil {
		t.Fatalf("missing instruction should fail")
	}
}

func TestUnusedFiltersAndFallsBack(t *testing.T) {
	s, err := NewSet([]Directive{
		{Name: "A", Instruction: "i"},
		{Name: "B", Instruction: "i"},
		{Name: "C", Instruction: "i"},
	})
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	left := s.Unused([]string{"B"})
	if len(left) != 2 || left[0].Name != "A" || left[1].Name != "C" {
		t.Fatalf("unused = %v", left)
	}
	// all used: the full set comes back so expansion can continue
	all := s.Unused([]string{"A", "B", "C"})
	if len(all) != 3 {
		t.Fatalf("fallback returned %d directives, want 3", len(all))
	}
}

func TestRoundRobinPickerCycles(t *testing.T) {
	p, err := NewPicker("round_robin", 0)
	if err != nil {
		t.Fatalf("new picker: %v", err)
	}
	cands := []Directive{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	got := []string{
		p.Pick(cands).Name,
		p.Pick(cands).Name,
		p.Pick(cands).Name,
		p.Pick(cands).Name,
	}
	want := []string{"A", "B", "C", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pick %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRandomPickerIsSeeded(t *testing.T) {
	cands := []Directive{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}}
	p1, _ := NewPicker("random", 42)
	p2, _ := NewPicker("random", 42)
	for i := 0; i < 10; i++ {
		if p1.Pick(cands).Name != p2.Pick(cands).Name {
			t.Fatalf("same seed diverged at pick %d", i)
		}
	}
}

func TestNewPickerUnknownPolicy(t *testing.T) {
	if _, err := NewPicker("fifo", 0); err == nil {
		t.Fatalf("unknown policy should fail")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "directives.yaml")
	doc := `directives:
  - name: Shrink It
    instruction: Make the idea radically smaller.
    explanation: Scope down to the smallest viable kernel.
  - name: Borrow a Business Model
    instruction: Apply a known business model from another industry.
    explanation: Reuse proven economics in a new context.
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("loaded %d directives, want 2", s.Len())
	}
	d, ok := s.Get("Shrink It")
	if !ok || d.Instruction == "" {
		t.Fatalf("directive not loaded: %+v", d)
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("missing file should fail")
	}
}
