package retro

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Catch-all rule identity. It always sorts last and has the lowest priority.
const (
	CatchAllEpic     = "general"
	CatchAllPrefix   = "gen-retro"
	CatchAllPriority = 1
)

// EpicRule routes an unmatched commit to an epic. Its score is Priority when
// any file pattern matches, plus Priority/2 when any keyword pattern matches.
type EpicRule struct {
	Epic            string
	Prefix          string // synthetic task id prefix, e.g. "fe-retro"
	Priority        int
	FilePatterns    []*regexp.Regexp
	KeywordPatterns []*regexp.Regexp
	catchAll        bool
}

// IsCatchAll reports whether the rule matches every commit.
func (r *EpicRule) IsCatchAll() bool { return r.catchAll }

// Score rates the rule for a commit.
func (r *EpicRule) Score(message string, files []string) float64 {
	if r.catchAll {
		return float64(r.Priority)
	}
	var score float64
	if anyFileMatches(r.FilePatterns, files) {
		score += float64(r.Priority)
	}
	for _, re := range r.KeywordPatterns {
		if re.MatchString(message) {
			score += float64(r.Priority) / 2
			break
		}
	}
	return score
}

// Affinity gives tasks whose id starts with TaskPrefix a bonus when a commit
// touches a path matching PathPattern.
type Affinity struct {
	TaskPrefix  string
	PathPattern *regexp.Regexp
}

func (a Affinity) matches(taskID string, files []string) bool {
	if !strings.HasPrefix(taskID, a.TaskPrefix+"-") {
		return false
	}
	for _, f := range files {
		if a.PathPattern.MatchString(f) {
			return true
		}
	}
	return false
}

// Rules is the complete classifier configuration.
type Rules struct {
	// IDPatterns find explicit task ids in commit messages. The first
	// capture group (or the whole match) is the token.
	IDPatterns []*regexp.Regexp
	Epics      []EpicRule
	Affinities []Affinity
}

// Default exact-id patterns: synthetic ids and tracker keys.
var defaultIDPatterns = []string{
	`\b((?:fw|be|fe|infra|docs|test|gen)-retro-\d{3,})\b`,
	`\b([A-Z][A-Z0-9]+-\d+)\b`,
}

type epicSpec struct {
	Epic     string   `toml:"epic" yaml:"epic"`
	Prefix   string   `toml:"prefix" yaml:"prefix"`
	Priority int      `toml:"priority" yaml:"priority"`
	Files    []string `toml:"files" yaml:"files"`
	Keywords []string `toml:"keywords" yaml:"keywords"`
}

type affinitySpec struct {
	TaskPrefix string `toml:"task_prefix" yaml:"task_prefix"`
	Path       string `toml:"path" yaml:"path"`
}

// rulesFile is the on-disk shape of retro.rules_file (TOML or YAML).
type rulesFile struct {
	IDPatterns []string       `toml:"id_patterns" yaml:"id_patterns"`
	Epics      []epicSpec     `toml:"epic" yaml:"epics"`
	Affinities []affinitySpec `toml:"affinity" yaml:"affinities"`
}

var defaultEpics = []epicSpec{
	{
		Epic: "infrastructure", Prefix: "infra-retro", Priority: 9,
		Files:    []string{`^(\.github|deploy|infra|terraform|k8s|helm|scripts)/`, `(^|/)Dockerfile`, `(^|/)docker-compose`, `(^|/)Makefile$`},
		Keywords: []string{`(?i)\b(ci|cd|deploy|deployment|docker|pipeline|terraform|infra|release)\b`},
	},
	{
		Epic: "frontend", Prefix: "fe-retro", Priority: 8,
		Files:    []string{`^(web|frontend|ui|client|src/components|src/pages)/`, `\.(tsx|jsx|vue|svelte|css|scss|less|html)$`},
		Keywords: []string{`(?i)\b(ui|ux|css|style|styles|component|layout|frontend|page|button|modal)\b`},
	},
	{
		Epic: "backend", Prefix: "be-retro", Priority: 8,
		Files:    []string{`^(api|server|backend|internal|cmd|services)/`, `\.(go|py|rb|java|sql)$`},
		Keywords: []string{`(?i)\b(api|endpoint|handler|database|db|migration|backend|server|query)\b`},
	},
	{
		Epic: "framework", Prefix: "fw-retro", Priority: 7,
		Files:    []string{`^(pkg|lib|core|framework)/`, `(^|/)(go\.mod|go\.sum|package\.json|package-lock\.json|pnpm-lock\.yaml)$`},
		Keywords: []string{`(?i)\b(framework|refactor|dependency|dependencies|deps|upgrade|bump)\b`},
	},
	{
		Epic: "testing", Prefix: "test-retro", Priority: 6,
		Files:    []string{`_test\.go$`, `\.(test|spec)\.[jt]sx?$`, `^(tests?|e2e|spec)/`},
		Keywords: []string{`(?i)\b(test|tests|testing|coverage|flaky|e2e)\b`},
	},
	{
		Epic: "documentation", Prefix: "docs-retro", Priority: 5,
		Files:    []string{`\.(md|mdx|rst|txt)$`, `^docs?/`},
		Keywords: []string{`(?i)\b(docs?|readme|documentation|changelog|typo)\b`},
	},
}

var defaultAffinities = []affinitySpec{
	{TaskPrefix: "fe", Path: `^(web|frontend|ui|client)/|\.(tsx|jsx|css|scss)$`},
	{TaskPrefix: "be", Path: `^(api|server|backend|internal)/`},
	{TaskPrefix: "infra", Path: `^(\.github|deploy|infra|terraform)/|(^|/)Dockerfile`},
	{TaskPrefix: "docs", Path: `^docs?/|\.md$`},
	{TaskPrefix: "test", Path: `_test\.go$|^tests?/`},
	{TaskPrefix: "fw", Path: `^(pkg|lib|core|framework)/`},
}

// DefaultRules returns a fresh copy of the built-in rule set.
func DefaultRules() *Rules {
	r, err := compile(rulesFile{IDPatterns: defaultIDPatterns, Epics: defaultEpics, Affinities: defaultAffinities})
	if err != nil {
		panic(fmt.Sprintf("retro: built-in rules do not compile: %v", err))
	}
	return r
}

// LoadRules reads a rules file. The format follows the extension: .toml, or
// .yaml/.yml. Sections left empty in the file keep their defaults; the
// catch-all rule is always appended last.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from config
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f rulesFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported rules file format %q (want .toml, .yaml or .yml)", filepath.Ext(path))
	}
	if len(f.IDPatterns) == 0 {
		f.IDPatterns = defaultIDPatterns
	}
	if len(f.Epics) == 0 {
		f.Epics = defaultEpics
	}
	if len(f.Affinities) == 0 {
		f.Affinities = defaultAffinities
	}
	rules, err := compile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

func compile(f rulesFile) (*Rules, error) {
	r := &Rules{}
	for _, p := range f.IDPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("id pattern %q: %w", p, err)
		}
		r.IDPatterns = append(r.IDPatterns, re)
	}

	for _, spec := range f.Epics {
		if spec.Epic == CatchAllEpic {
			continue
		}
		if spec.Epic == "" || spec.Prefix == "" {
			return nil, fmt.Errorf("epic rule needs both epic and prefix (got %q/%q)", spec.Epic, spec.Prefix)
		}
		if spec.Priority <= CatchAllPriority {
			return nil, fmt.Errorf("epic %q: priority must be greater than %d", spec.Epic, CatchAllPriority)
		}
		rule := EpicRule{Epic: spec.Epic, Prefix: spec.Prefix, Priority: spec.Priority}
		var err error
		if rule.FilePatterns, err = compileAll(spec.Files); err != nil {
			return nil, fmt.Errorf("epic %q: %w", spec.Epic, err)
		}
		if rule.KeywordPatterns, err = compileAll(spec.Keywords); err != nil {
			return nil, fmt.Errorf("epic %q: %w", spec.Epic, err)
		}
		r.Epics = append(r.Epics, rule)
	}
	r.Epics = append(r.Epics, EpicRule{
		Epic:     CatchAllEpic,
		Prefix:   CatchAllPrefix,
		Priority: CatchAllPriority,
		catchAll: true,
	})

	for _, spec := range f.Affinities {
		if spec.TaskPrefix == "" {
			return nil, fmt.Errorf("affinity needs a task_prefix")
		}
		re, err := regexp.Compile(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("affinity %q: %w", spec.TaskPrefix, err)
		}
		r.Affinities = append(r.Affinities, Affinity{TaskPrefix: spec.TaskPrefix, PathPattern: re})
	}
	return r, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func anyFileMatches(patterns []*regexp.Regexp, files []string) bool {
	for _, re := range patterns {
		for _, f := range files {
			if re.MatchString(f) {
				return true
			}
		}
	}
	return false
}
