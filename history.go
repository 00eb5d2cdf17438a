package playground

import (
	"slices"
	"time"
)

// HistoryEntry is the cross-cutting view unifying all three execution kinds
// for display and export. It is a derived, append-only projection over the
// managers' execution records, not a source of truth.
type HistoryEntry struct {
	ID          string          `json:"id"`
	Kind        CapabilityKind  `json:"kind"`
	Target      string          `json:"target"`
	Status      ExecutionStatus `json:"status"`
	Err         string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt,omitzero"`
	Duration    time.Duration   `json:"duration"`
}

func historyEntry(e Execution) HistoryEntry {
	return HistoryEntry{
		ID:          e.ID,
		Kind:        e.Kind,
		Target:      e.Target,
		Status:      e.Status,
		Err:         e.Err,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		Duration:    e.Duration(),
	}
}

// mergeHistory projects execution slices from any number of managers into one
// timeline ordered by start time.
func mergeHistory(lists ...[]Execution) []HistoryEntry {
	var out []HistoryEntry
	for _, list := range lists {
		for _, e := range list {
			out = append(out, historyEntry(e))
		}
	}
	slices.SortStableFunc(out, func(a, b HistoryEntry) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}
