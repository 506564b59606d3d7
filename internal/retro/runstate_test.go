package retro

import (
	"context"
	"testing"

	"github.com/storysync/storysync/internal/storage/memory"
	"github.com/storysync/storysync/internal/testutil/teststore"
)

func TestNextIDContinuesFromStoredMax(t *testing.T) {
	env := teststore.WrapEnv(t, memory.New())
	for _, id := range []string{"fw-retro-001", "fw-retro-002", "fw-retro-003", "fw-retro-notes", "fw-retrospective-9"} {
		env.CreateTask(id, "existing")
	}

	s := NewRunState()
	first, err := s.NextID(env.Ctx, env.Store, "fw-retro")
	if err != nil {
		t.Fatal(err)
	}
	if first != "fw-retro-004" {
		t.Errorf("first = %s, want fw-retro-004", first)
	}
	second, _ := s.NextID(env.Ctx, env.Store, "fw-retro")
	if second != "fw-retro-005" {
		t.Errorf("second = %s, want fw-retro-005", second)
	}
	other, _ := s.NextID(env.Ctx, env.Store, "be-retro")
	if other != "be-retro-001" {
		t.Errorf("other = %s, want be-retro-001", other)
	}
}

func TestNextIDWidensPastThreeDigits(t *testing.T) {
	env := teststore.WrapEnv(t, memory.New())
	env.CreateTask("docs-retro-999", "existing")

	id, err := NewRunState().NextID(env.Ctx, env.Store, "docs-retro")
	if err != nil {
		t.Fatal(err)
	}
	if id != "docs-retro-1000" {
		t.Errorf("id = %s, want docs-retro-1000", id)
	}
}

func TestNextIDSkipsMintedIDs(t *testing.T) {
	s := NewRunState()
	s.Remember("framework", "fw-retro-001")
	id, err := s.NextID(context.Background(), memory.New(), "fw-retro")
	if err != nil {
		t.Fatal(err)
	}
	if id != "fw-retro-002" {
		t.Errorf("id = %s, want fw-retro-002", id)
	}
}

func TestRunStatesAreIndependent(t *testing.T) {
	a, b := NewRunState(), NewRunState()
	a.Remember("testing", "test-retro-001")
	if _, ok := b.MintedFor("testing"); ok {
		t.Error("run state leaked between runs")
	}
	if got, ok := a.MintedFor("testing"); !ok || got != "test-retro-001" {
		t.Errorf("MintedFor = %q, %v", got, ok)
	}
}

func TestParseSyntheticID(t *testing.T) {
	tests := []struct {
		id string
		n  int
		ok bool
	}{
		{"fw-retro-007", 7, true},
		{"fw-retro-1234", 1234, true},
		{"fw-retro-", 0, false},
		{"fw-retro-abc", 0, false},
		{"be-retro-001", 0, false},
	}
	for _, tt := range tests {
		n, ok := ParseSyntheticID(tt.id, "fw-retro")
		if n != tt.n || ok != tt.ok {
			t.Errorf("ParseSyntheticID(%q) = %d, %v; want %d, %v", tt.id, n, ok, tt.n, tt.ok)
		}
	}
}
