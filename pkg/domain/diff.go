package domain

import (
	"reflect"
)

// SessionDiff represents the changes between two session snapshots.
// It is serialized to JSON for incremental updates on machine-readable consoles.
type SessionDiff struct {
	// SessionID is always present to identify the target.
	SessionID string `json:"session_id"`

	State *State `json:"state,omitempty"`

	// Questions contains questions that are new or whose answer changed.
	Questions []QA `json:"questions,omitempty"`

	// Stages contains only added or modified stage payloads.
	Stages map[string]map[string]any `json:"stages,omitempty"`

	Summary *string `json:"summary,omitempty"`
	Status  *string `json:"status,omitempty"`
	Err     *string `json:"error,omitempty"`
}

// Diff calculates the difference between old and new.
// If old is nil, it returns a diff representing the entire new snapshot (initial load).
// It returns nil when nothing changed.
func Diff(old, new *Session) *SessionDiff {
	if new == nil {
		return nil
	}

	diff := &SessionDiff{SessionID: new.ID}

	if old == nil || old.State != new.State {
		diff.State = &new.State
	}
	if new.HasSummary && (old == nil || !old.HasSummary || old.Summary != new.Summary) {
		diff.Summary = &new.Summary
	}
	if new.Status != "" && (old == nil || old.Status != new.Status) {
		diff.Status = &new.Status
	}
	if new.Err != "" && (old == nil || old.Err != new.Err) {
		diff.Err = &new.Err
	}

	diff.Questions = diffQuestions(old, new)
	diff.Stages = diffStages(old, new)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// diffQuestions assumes the question list is append-only.
func diffQuestions(old, new *Session) []QA {
	if old == nil {
		return new.Questions
	}
	var delta []QA
	for i, q := range new.Questions {
		if i >= len(old.Questions) || old.Questions[i] != q {
			delta = append(delta, q)
		}
	}
	return delta
}

func diffStages(old, new *Session) map[string]map[string]any {
	delta := make(map[string]map[string]any)
	for name, payload := range new.Stages {
		if old != nil {
			if prev, ok := old.Stages[name]; ok && reflect.DeepEqual(prev, payload) {
				continue
			}
		}
		delta[name] = payload
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *SessionDiff) IsEmpty() bool {
	return d.State == nil &&
		d.Summary == nil &&
		d.Status == nil &&
		d.Err == nil &&
		len(d.Questions) == 0 &&
		len(d.Stages) == 0
}
