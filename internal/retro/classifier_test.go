package retro

import (
	"testing"

	"github.com/storysync/storysync/internal/types"
)

func index(tasks ...*types.Task) *Index { return NewIndex(tasks) }

func TestClassifyFloorFallsBackToEpic(t *testing.T) {
	c := NewClassifier(nil)
	idx := index(&types.Task{ID: "T1", Title: "Fix login page"})

	m := c.Classify("update readme", []string{"docs/README.md"}, idx)
	if m.Tier != TierEpic {
		t.Fatalf("Tier = %s, want %s (task %q)", m.Tier, TierEpic, m.TaskID)
	}
	if m.TaskID != "" {
		t.Errorf("TaskID = %q, want empty", m.TaskID)
	}
	if m.Rule == nil || m.Rule.Epic != "documentation" {
		t.Errorf("Rule = %+v, want documentation", m.Rule)
	}
}

func TestClassifySingleKeywordIsNotEnough(t *testing.T) {
	c := NewClassifier(nil)
	idx := index(&types.Task{ID: "T1", Title: "Rework checkout"})

	// One shared keyword scores exactly the floor.
	m := c.Classify("checkout tweaks", []string{"misc/notes.bin"}, idx)
	if m.Tier != TierEpic {
		t.Fatalf("Tier = %s, want %s", m.Tier, TierEpic)
	}

	m = c.Classify("checkout rework tweaks", []string{"misc/notes.bin"}, idx)
	if m.Tier != TierScored || m.TaskID != "T1" {
		t.Fatalf("Match = %+v, want scored T1", m)
	}
	if m.Score != 2*ScoreKeyword {
		t.Errorf("Score = %v, want %d", m.Score, 2*ScoreKeyword)
	}
}

func TestClassifyExact(t *testing.T) {
	c := NewClassifier(nil)
	idx := index(
		&types.Task{ID: "fw-retro-002", Title: "Framework work"},
		&types.Task{ID: "T5", Title: "Linked", RemoteIssueKey: types.StrPtr("PROJ-7")},
	)

	tests := []struct {
		msg    string
		tier   Tier
		taskID string
	}{
		{"continue fw-retro-002 cleanup", TierExact, "fw-retro-002"},
		{"PROJ-7: handle empty cart", TierExact, "T5"},
		{"PROJ-99 unknown key", TierEpic, ""},
	}
	for _, tt := range tests {
		m := c.Classify(tt.msg, nil, idx)
		if m.Tier != tt.tier || m.TaskID != tt.taskID {
			t.Errorf("Classify(%q) = %s/%q, want %s/%q", tt.msg, m.Tier, m.TaskID, tt.tier, tt.taskID)
		}
	}
}

func TestClassifyRelatedFile(t *testing.T) {
	c := NewClassifier(nil)
	idx := index(
		&types.Task{ID: "A", Title: "Auth", RelatedFiles: []string{"internal/auth/login.go"}},
		&types.Task{ID: "B", Title: "Billing", RelatedFiles: []string{"internal/billing/invoice.go"}},
	)
	m := c.Classify("wip", []string{"internal/billing/invoice.go"}, idx)
	if m.Tier != TierScored || m.TaskID != "B" || m.Score != ScoreRelatedFile {
		t.Errorf("Match = %+v, want scored B at %d", m, ScoreRelatedFile)
	}
}

func TestClassifyAffinity(t *testing.T) {
	c := NewClassifier(nil)
	idx := index(&types.Task{ID: "fe-login", Title: "Login screen"})
	m := c.Classify("wip", []string{"web/app.tsx"}, idx)
	if m.Tier != TierScored || m.TaskID != "fe-login" || m.Score != ScoreAffinity {
		t.Errorf("Match = %+v, want scored fe-login at %d", m, ScoreAffinity)
	}
}

func TestClassifyScoredTieGoesToLowestID(t *testing.T) {
	c := NewClassifier(nil)
	idx := index(
		&types.Task{ID: "T2", Title: "cache eviction"},
		&types.Task{ID: "T1", Title: "cache eviction"},
	)
	m := c.Classify("cache eviction fix", nil, idx)
	if m.TaskID != "T1" {
		t.Errorf("TaskID = %q, want T1", m.TaskID)
	}
}

func TestClassifyIDInMessageWholeWord(t *testing.T) {
	c := NewClassifier(&Rules{Epics: DefaultRules().Epics})
	idx := index(&types.Task{ID: "auth", Title: "x"})

	if m := c.Classify("touch oauth flow", nil, idx); m.Tier != TierEpic {
		t.Errorf("substring matched: %+v", m)
	}
	if m := c.Classify("auth: fix", nil, idx); m.TaskID != "auth" || m.Score != ScoreIDInMessage {
		t.Errorf("Match = %+v", m)
	}
}

func TestEpicScoring(t *testing.T) {
	c := NewClassifier(nil)
	idx := index()

	tests := []struct {
		name  string
		msg   string
		files []string
		epic  string
		score float64
	}{
		{"file only", "misc", []string{"Dockerfile"}, "infrastructure", 9},
		{"file and keyword", "deploy pipeline", []string{".github/workflows/ci.yml"}, "infrastructure", 13.5},
		{"keyword only", "fix typo", []string{"misc.bin"}, "documentation", 2.5},
		{"tie goes to earlier rule", "misc", []string{"web/x.tsx", "api/y.go"}, "frontend", 8},
		{"nothing matches", "wip", []string{"random.bin"}, CatchAllEpic, CatchAllPriority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := c.Classify(tt.msg, tt.files, idx)
			if m.Tier != TierEpic || m.Rule == nil {
				t.Fatalf("Match = %+v", m)
			}
			if m.Rule.Epic != tt.epic || m.Score != tt.score {
				t.Errorf("epic = %s (%v), want %s (%v)", m.Rule.Epic, m.Score, tt.epic, tt.score)
			}
		})
	}
}

func TestCatchAllIsLast(t *testing.T) {
	epics := DefaultRules().Epics
	last := epics[len(epics)-1]
	if !last.IsCatchAll() || last.Prefix != CatchAllPrefix {
		t.Fatalf("last rule = %+v", last)
	}
	for _, r := range epics[:len(epics)-1] {
		if r.Priority <= last.Priority {
			t.Errorf("rule %s priority %d not above catch-all", r.Epic, r.Priority)
		}
	}
}

func TestIndexPutReplaces(t *testing.T) {
	idx := index(&types.Task{ID: "B", Title: "b"}, &types.Task{ID: "A", Title: "a", RemoteIssueKey: types.StrPtr("P-1")})
	idx.Put(&types.Task{ID: "A", Title: "a2", RemoteIssueKey: types.StrPtr("P-2")})
	idx.Put(&types.Task{ID: "C", Title: "c"})

	if idx.Len() != 3 {
		t.Fatalf("Len = %d", idx.Len())
	}
	if idx.Resolve("P-1") != nil {
		t.Error("stale remote key still resolves")
	}
	if got := idx.Resolve("P-2"); got == nil || got.Title != "a2" {
		t.Errorf("Resolve(P-2) = %+v", got)
	}
	for i, want := range []string{"A", "B", "C"} {
		if idx.tasks[i].ID != want {
			t.Errorf("tasks[%d] = %s, want %s", i, idx.tasks[i].ID, want)
		}
	}
}

func TestKeywordsFromADFDescription(t *testing.T) {
	c := NewClassifier(nil)
	adf := `{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"refund workflow"}]}]}`
	idx := index(&types.Task{ID: "T1", Title: "Payments", Description: adf})

	m := c.Classify("refund workflow edge case", nil, idx)
	if m.Tier != TierScored || m.TaskID != "T1" {
		t.Errorf("Match = %+v, want scored T1", m)
	}
}
