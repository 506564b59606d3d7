package jira

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/storysync/storysync/internal/types"
)

// DefaultStoryPointsField is the story points custom field on Jira Cloud.
const DefaultStoryPointsField = "customfield_10016"

var defaultStatusNames = map[types.Status]string{
	types.StatusTodo:       "To Do",
	types.StatusInProgress: "In Progress",
	types.StatusInReview:   "In Review",
	types.StatusDone:       "Done",
	types.StatusBlocked:    "Blocked",
}

var statusAliases = map[string]types.Status{
	"open":                     types.StatusTodo,
	"new":                      types.StatusTodo,
	"backlog":                  types.StatusTodo,
	"selected for development": types.StatusTodo,
	"code review":              types.StatusInReview,
	"closed":                   types.StatusDone,
	"resolved":                 types.StatusDone,
	"on hold":                  types.StatusBlocked,
}

var defaultPriorityNames = map[types.Priority]string{
	types.PriorityCritical: "Highest",
	types.PriorityHigh:     "High",
	types.PriorityMedium:   "Medium",
	types.PriorityLow:      "Low",
}

var priorityAliases = map[string]types.Priority{
	"blocker":  types.PriorityCritical,
	"critical": types.PriorityCritical,
	"major":    types.PriorityHigh,
	"minor":    types.PriorityLow,
	"lowest":   types.PriorityLow,
	"trivial":  types.PriorityLow,
}

// enumMap is a closed two-way mapping between a local enumeration and remote
// names. Reverse lookups are case-insensitive and fall back to a default.
type enumMap[T ~string] struct {
	forward  map[T]string
	reverse  map[string]T
	fallback T
}

// newEnumMap builds the maps from defaults, aliases and user overrides
// (remote name -> local value). Overrides naming an unknown local value are
// ignored. The forward map is then normalised so that
// toRemote(fromRemote(toRemote(x))) == toRemote(x) holds for every x.
func newEnumMap[T ~string](defaults map[T]string, aliases map[string]T, overrides map[string]string, valid func(T) bool, fallback T) *enumMap[T] {
	m := &enumMap[T]{
		forward:  make(map[T]string, len(defaults)),
		reverse:  make(map[string]T, len(defaults)+len(aliases)+len(overrides)),
		fallback: fallback,
	}
	for local, name := range defaults {
		m.reverse[strings.ToLower(name)] = local
	}
	for name, local := range aliases {
		m.reverse[name] = local
	}
	overrideNames := make(map[T][]string)
	for name, value := range overrides {
		local := T(strings.ToLower(strings.TrimSpace(value)))
		name = strings.TrimSpace(name)
		if name == "" || !valid(local) {
			continue
		}
		m.reverse[strings.ToLower(name)] = local
		overrideNames[local] = append(overrideNames[local], name)
	}

	// Every local value with a remote name that maps back to it uses that
	// name: its default when still owned, else its smallest override name.
	var orphans []T
	for local, name := range defaults {
		if m.reverse[strings.ToLower(name)] == local {
			m.forward[local] = name
			continue
		}
		if names := overrideNames[local]; len(names) > 0 {
			sort.Strings(names)
			m.forward[local] = names[0]
			continue
		}
		orphans = append(orphans, local)
	}
	// A value whose default name was taken over, with no replacement, follows
	// the value that took it.
	for _, local := range orphans {
		owner := m.reverse[strings.ToLower(defaults[local])]
		m.forward[local] = m.forward[owner]
	}
	return m
}

func (m *enumMap[T]) toRemote(local T) string {
	if name, ok := m.forward[local]; ok {
		return name
	}
	return m.forward[m.fallback]
}

func (m *enumMap[T]) fromRemote(name string) T {
	if local, ok := m.reverse[strings.ToLower(strings.TrimSpace(name))]; ok {
		return local
	}
	return m.fallback
}

// FieldMapper translates between local tasks and Jira fields. All methods
// are total: unknown values map to documented defaults instead of failing.
type FieldMapper struct {
	status           *enumMap[types.Status]
	priority         *enumMap[types.Priority]
	storyPointsField string
}

// NewFieldMapper builds a mapper. statusOverrides and priorityOverrides map
// remote names to local values (jira.status_map / jira.priority_map).
func NewFieldMapper(statusOverrides, priorityOverrides map[string]string, storyPointsField string) *FieldMapper {
	if storyPointsField == "" {
		storyPointsField = DefaultStoryPointsField
	}
	return &FieldMapper{
		status: newEnumMap(defaultStatusNames, statusAliases, statusOverrides,
			func(s types.Status) bool { return s.IsValid() }, types.StatusTodo),
		priority: newEnumMap(defaultPriorityNames, priorityAliases, priorityOverrides,
			func(p types.Priority) bool { return p.IsValid() }, types.PriorityMedium),
		storyPointsField: storyPointsField,
	}
}

// DefaultFieldMapper returns a mapper with no overrides.
func DefaultFieldMapper() *FieldMapper {
	return NewFieldMapper(nil, nil, "")
}

func (m *FieldMapper) StatusToRemote(s types.Status) string { return m.status.toRemote(s) }

func (m *FieldMapper) StatusFromRemote(name string) types.Status { return m.status.fromRemote(name) }

func (m *FieldMapper) PriorityToRemote(p types.Priority) string { return m.priority.toRemote(p) }

func (m *FieldMapper) PriorityFromRemote(name string) types.Priority {
	return m.priority.fromRemote(name)
}

// StoryPointsField returns the custom field id carrying story points.
func (m *FieldMapper) StoryPointsField() string { return m.storyPointsField }

// FormatDescription joins the description with Acceptance Criteria and
// Technical Notes sections. Empty parts are skipped.
func FormatDescription(task *types.Task) string {
	var parts []string
	if s := strings.TrimSpace(task.Description); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(task.AcceptanceCriteria); s != "" {
		parts = append(parts, "## Acceptance Criteria\n"+s)
	}
	if s := strings.TrimSpace(task.TechnicalNotes); s != "" {
		parts = append(parts, "## Technical Notes\n"+s)
	}
	return strings.Join(parts, "\n\n")
}

var sectionHeadings = []string{"## Acceptance Criteria", "## Technical Notes"}

// stripSections cuts text at the first Acceptance Criteria or Technical Notes
// heading, leaving the plain description.
func stripSections(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		for _, h := range sectionHeadings {
			if strings.TrimSpace(line) == h {
				return strings.TrimSpace(strings.Join(lines[:i], "\n"))
			}
		}
	}
	return strings.TrimSpace(text)
}

// DescriptionADF returns the ADF blob to send for task. A description that
// already holds an ADF document (pulled from Jira) is passed through
// untouched when there are no extra sections to append. Otherwise its
// previously pushed sections are dropped before the current ones are added.
func DescriptionADF(task *types.Task) json.RawMessage {
	desc := strings.TrimSpace(task.Description)
	if IsADF([]byte(desc)) {
		if strings.TrimSpace(task.AcceptanceCriteria) == "" && strings.TrimSpace(task.TechnicalNotes) == "" {
			return json.RawMessage(desc)
		}
		flat := task.Clone()
		flat.Description = stripSections(ADFPlainText(json.RawMessage(desc)))
		return PlainTextToADF(FormatDescription(flat))
	}
	return PlainTextToADF(FormatDescription(task))
}

// LabelFromEpic turns an epic name into a Jira label (labels cannot hold
// spaces).
func LabelFromEpic(epic string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(epic)), "-")
}

// TaskFields maps a task onto the Jira fields written by create and update.
// Status is never included; it moves through transitions.
func (m *FieldMapper) TaskFields(task *types.Task) map[string]interface{} {
	fields := map[string]interface{}{
		"summary":  task.Title,
		"priority": map[string]string{"name": m.PriorityToRemote(task.Priority)},
	}
	if desc := DescriptionADF(task); desc != nil {
		fields["description"] = desc
	}
	if label := LabelFromEpic(task.Epic); label != "" {
		fields["labels"] = []string{label}
	}
	if task.StoryPoints != nil {
		fields[m.storyPointsField] = *task.StoryPoints
	}
	return fields
}

// ApplyIssue overwrites the task's mirrored fields with the issue's values.
// The description is stored as the raw ADF blob. The blob already holds any
// Acceptance Criteria and Technical Notes sections, so the local copies are
// cleared.
func (m *FieldMapper) ApplyIssue(task *types.Task, issue *Issue) {
	task.Title = issue.Fields.Summary
	if len(issue.Fields.Description) > 0 && string(issue.Fields.Description) != "null" {
		task.Description = string(issue.Fields.Description)
	} else {
		task.Description = ""
	}
	task.AcceptanceCriteria = ""
	task.TechnicalNotes = ""
	task.Status = m.StatusFromRemote(issue.StatusName())
	task.Priority = m.PriorityFromRemote(issue.PriorityName())
	task.StoryPoints = issue.StoryPoints(m.storyPointsField)
	key := issue.Key
	task.RemoteIssueKey = &key
}
