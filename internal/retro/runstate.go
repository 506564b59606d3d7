package retro

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/storysync/storysync/internal/storage"
)

// RunState carries the per-run dedup state of synthetic task minting. Each
// audit run owns its own value; nothing is shared between runs.
type RunState struct {
	byEpic map[string]string // epic -> task id minted this run
	minted map[string]bool
	next   map[string]int // prefix -> next number to hand out
}

// NewRunState returns empty run state.
func NewRunState() *RunState {
	return &RunState{
		byEpic: make(map[string]string),
		minted: make(map[string]bool),
		next:   make(map[string]int),
	}
}

// MintedFor returns the synthetic task already minted for epic in this run.
func (s *RunState) MintedFor(epic string) (string, bool) {
	id, ok := s.byEpic[epic]
	return id, ok
}

// Remember records id as the synthetic task for epic.
func (s *RunState) Remember(epic, id string) {
	s.byEpic[epic] = id
	s.minted[id] = true
}

// MintedIDs returns every id minted this run, sorted.
func (s *RunState) MintedIDs() []string {
	ids := make([]string, 0, len(s.minted))
	for id := range s.minted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NextID returns the next free id under prefix: {prefix}-{NNN}, zero padded
// to three digits. The first call per prefix scans storage for the current
// maximum; later calls advance the cached counter.
func (s *RunState) NextID(ctx context.Context, store storage.Storage, prefix string) (string, error) {
	n, ok := s.next[prefix]
	if !ok {
		tasks, err := store.ListTasksByPrefix(ctx, prefix)
		if err != nil {
			return "", fmt.Errorf("scan ids with prefix %s: %w", prefix, err)
		}
		max := 0
		for _, t := range tasks {
			if v, ok := ParseSyntheticID(t.ID, prefix); ok && v > max {
				max = v
			}
		}
		n = max + 1
	}
	id := FormatSyntheticID(prefix, n)
	for s.minted[id] {
		n++
		id = FormatSyntheticID(prefix, n)
	}
	s.next[prefix] = n + 1
	return id, nil
}

// FormatSyntheticID renders prefix-NNN.
func FormatSyntheticID(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// ParseSyntheticID extracts the number from prefix-NNN. Ids with a
// non-numeric suffix do not count.
func ParseSyntheticID(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok || rest == "" {
		return 0, false
	}
	v, err := strconv.Atoi(rest)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
