package jira

import (
	"context"
	"fmt"
	"strings"
)

// TransitionNotFoundError means no transition out of the issue's current
// status leads to the wanted status. The status is left unchanged; callers
// treat this as a warning.
type TransitionNotFoundError struct {
	Key       string
	Status    string
	Available []string
}

func (e *TransitionNotFoundError) Error() string {
	avail := "none"
	if len(e.Available) > 0 {
		avail = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("no transition to %q for %s (available: %s)", e.Status, e.Key, avail)
}

// TransitionTo moves key to the named status: list the transitions, pick the
// one whose target matches statusName case-insensitively, apply it. Returns
// *TransitionNotFoundError when nothing matches.
func (c *Client) TransitionTo(ctx context.Context, key, statusName string) (*Transition, error) {
	transitions, err := c.ListTransitions(ctx, key)
	if err != nil {
		return nil, err
	}
	t, err := FindTransition(key, transitions, statusName)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyTransition(ctx, key, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// FindTransition picks the transition whose target status matches
// statusName, falling back to a transition with that name.
func FindTransition(key string, transitions []Transition, statusName string) (*Transition, error) {
	for i := range transitions {
		if strings.EqualFold(transitions[i].To.Name, statusName) {
			return &transitions[i], nil
		}
	}
	for i := range transitions {
		if strings.EqualFold(transitions[i].Name, statusName) {
			return &transitions[i], nil
		}
	}
	available := make([]string, 0, len(transitions))
	for _, t := range transitions {
		available = append(available, t.To.Name)
	}
	return nil, &TransitionNotFoundError{Key: key, Status: statusName, Available: available}
}
