// Package retro attributes historical commits to tasks.
//
// Each commit is classified in tiers: an explicit task id in the message
// wins outright; otherwise every existing task is scored against the commit
// and the best one above a floor wins; otherwise an epic rule picks a
// synthetic task to mint (or reuse within the run). The Auditor drives the
// classifier over a commit source and records one change log row per file.
package retro

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/storysync/storysync/internal/jira"
	"github.com/storysync/storysync/internal/types"
)

// Scoring weights for the scored tier.
const (
	ScoreIDInMessage = 1000
	ScoreRelatedFile = 100
	ScoreKeyword     = 10
	ScoreAffinity    = 50

	// ScoreFloor is exclusive: a task must score above it to be selected.
	ScoreFloor = 10
)

// Tier names how a commit was attributed.
type Tier string

// Classification tiers
const (
	TierExact  Tier = "exact"
	TierScored Tier = "matched"
	TierEpic   Tier = "epic"
)

// Match is the classifier's decision for one commit. For TierEpic TaskID is
// empty and Rule names the epic to mint under.
type Match struct {
	Tier   Tier
	TaskID string
	Score  float64
	Rule   *EpicRule
	Token  string // id token that produced an exact match
}

// Classifier scores commits against an Index. Rules can be swapped at any
// time; a Classify call sees one consistent rule set.
type Classifier struct {
	rules atomic.Pointer[Rules]
}

// NewClassifier creates a classifier. A nil rules value selects DefaultRules.
func NewClassifier(rules *Rules) *Classifier {
	c := &Classifier{}
	c.SetRules(rules)
	return c
}

// SetRules replaces the rule set.
func (c *Classifier) SetRules(rules *Rules) {
	if rules == nil {
		rules = DefaultRules()
	}
	c.rules.Store(rules)
}

// Rules returns the current rule set.
func (c *Classifier) Rules() *Rules { return c.rules.Load() }

// Classify attributes a commit given its message and touched paths.
func (c *Classifier) Classify(message string, files []string, idx *Index) Match {
	rules := c.rules.Load()

	if m, ok := exactMatch(rules, message, idx); ok {
		return m
	}

	lowerMsg := strings.ToLower(message)
	msgWords := keywords(message)
	best, bestScore := "", 0
	for _, task := range idx.tasks {
		s := scoreTask(rules, task, lowerMsg, msgWords, files, idx.words(task))
		if s > bestScore {
			best, bestScore = task.ID, s
		}
	}
	if bestScore > ScoreFloor {
		return Match{Tier: TierScored, TaskID: best, Score: float64(bestScore)}
	}

	rule, score := bestEpic(rules, message, files)
	return Match{Tier: TierEpic, Rule: rule, Score: score}
}

// exactMatch returns the first id token that names an existing task, by id
// or by remote key.
func exactMatch(rules *Rules, message string, idx *Index) (Match, bool) {
	for _, re := range rules.IDPatterns {
		for _, sm := range re.FindAllStringSubmatch(message, -1) {
			token := sm[0]
			if len(sm) > 1 && sm[1] != "" {
				token = sm[1]
			}
			if task := idx.Resolve(token); task != nil {
				return Match{Tier: TierExact, TaskID: task.ID, Score: ScoreIDInMessage, Token: token}, true
			}
		}
	}
	return Match{}, false
}

func scoreTask(rules *Rules, task *types.Task, lowerMsg string, msgWords map[string]bool, files []string, taskWords map[string]bool) int {
	score := 0
	if containsWord(lowerMsg, strings.ToLower(task.ID)) {
		score += ScoreIDInMessage
	}
	for _, f := range files {
		for _, rel := range task.RelatedFiles {
			if rel != "" && (f == rel || strings.Contains(f, rel)) {
				score += ScoreRelatedFile
				break
			}
		}
	}
	for w := range msgWords {
		if taskWords[w] {
			score += ScoreKeyword
		}
	}
	for _, a := range rules.Affinities {
		if a.matches(task.ID, files) {
			score += ScoreAffinity
		}
	}
	return score
}

// bestEpic picks the highest-scoring rule; ties go to the earlier rule.
func bestEpic(rules *Rules, message string, files []string) (*EpicRule, float64) {
	var best *EpicRule
	bestScore := -1.0
	for i := range rules.Epics {
		s := rules.Epics[i].Score(message, files)
		if s > bestScore {
			best, bestScore = &rules.Epics[i], s
		}
	}
	return best, bestScore
}

func containsWord(haystack, word string) bool {
	if word == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(haystack[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isWordRune(rune(haystack[start-1]))) &&
			(end == len(haystack) || !isWordRune(rune(haystack[end]))) {
			return true
		}
		i = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}

var stopWords = map[string]bool{
	"with": true, "that": true, "this": true, "from": true, "into": true,
	"when": true, "were": true, "have": true, "been": true, "some": true,
	"then": true, "than": true, "also": true, "only": true, "over": true,
	"after": true, "before": true, "should": true, "would": true, "could": true,
	"about": true, "which": true, "their": true, "there": true, "these": true,
	"those": true, "merge": true, "branch": true, "pull": true, "request": true,
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// keywords returns the distinct lower-cased words longer than three
// characters, minus common filler.
func keywords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordSplit.Split(strings.ToLower(text), -1) {
		if len([]rune(w)) > 3 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

// Index is the run's view of existing tasks, sorted by id so scoring ties
// resolve deterministically. Tasks minted during the run are added to it.
type Index struct {
	tasks   []*types.Task
	byID    map[string]*types.Task
	byKey   map[string]*types.Task
	wordsOf map[string]map[string]bool
}

// NewIndex builds an index over tasks.
func NewIndex(tasks []*types.Task) *Index {
	idx := &Index{
		byID:    make(map[string]*types.Task, len(tasks)),
		byKey:   make(map[string]*types.Task, len(tasks)),
		wordsOf: make(map[string]map[string]bool, len(tasks)),
	}
	for _, t := range tasks {
		idx.Put(t)
	}
	return idx
}

// Put adds or replaces a task.
func (idx *Index) Put(task *types.Task) {
	t := task.Clone()
	if prev, ok := idx.byID[t.ID]; ok {
		if k := prev.RemoteKey(); k != "" {
			delete(idx.byKey, k)
		}
		for i := range idx.tasks {
			if idx.tasks[i].ID == t.ID {
				idx.tasks[i] = t
				break
			}
		}
	} else {
		i := sort.Search(len(idx.tasks), func(i int) bool { return idx.tasks[i].ID >= t.ID })
		idx.tasks = append(idx.tasks, nil)
		copy(idx.tasks[i+1:], idx.tasks[i:])
		idx.tasks[i] = t
	}
	idx.byID[t.ID] = t
	if k := t.RemoteKey(); k != "" {
		idx.byKey[k] = t
	}
	delete(idx.wordsOf, t.ID)
}

// Get returns the indexed task with id, or nil.
func (idx *Index) Get(id string) *types.Task { return idx.byID[id] }

// Resolve finds a task by id, then by remote key.
func (idx *Index) Resolve(token string) *types.Task {
	if t := idx.byID[token]; t != nil {
		return t
	}
	return idx.byKey[token]
}

// Len returns the number of indexed tasks.
func (idx *Index) Len() int { return len(idx.tasks) }

func (idx *Index) words(t *types.Task) map[string]bool {
	if w, ok := idx.wordsOf[t.ID]; ok {
		return w
	}
	desc := t.Description
	if jira.IsADF([]byte(desc)) {
		desc = jira.ADFPlainText([]byte(desc))
	}
	w := keywords(t.Title + " " + desc)
	idx.wordsOf[t.ID] = w
	return w
}
