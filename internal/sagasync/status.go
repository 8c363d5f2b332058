package sagasync

import "strings"

// Status is the progress state of a single book. NotStarted, InProgress and
// Finished form the progress order; Discarded is an absorbing terminal state
// that ranks above everything only so a merge can never undo it.
type Status string

const (
	StatusNotStarted Status = "Not started"
	StatusInProgress Status = "In progress"
	StatusFinished   Status = "Finished"
	StatusDiscarded  Status = "La Poubelle"
)

var statusRanks = map[Status]int{
	StatusNotStarted: 0,
	StatusInProgress: 1,
	StatusFinished:   2,
	StatusDiscarded:  3,
}

// Rank returns the merge precedence of a status. Unknown statuses rank below
// everything so a malformed hint can never advance a record.
func Rank(status Status) int {
	if rank, ok := statusRanks[status]; ok {
		return rank
	}
	return -1
}

// MergeStatus resolves a stored status against an incoming one: the incoming
// status wins only when it is strictly more advanced. An empty current status
// yields the incoming one, and NotStarted when both are empty.
func MergeStatus(current, incoming Status) Status {
	if current == "" {
		if incoming == "" {
			return StatusNotStarted
		}
		return incoming
	}
	if incoming == "" {
		return current
	}
	if Rank(incoming) > Rank(current) {
		return incoming
	}
	return current
}

// SeriesAggregate computes the final status of a series from its relevant
// member statuses. A single Discarded member poisons the whole series; partial
// completion reports as InProgress because progress was made.
func SeriesAggregate(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusNotStarted
	}
	allFinished := true
	anyProgress := false
	for _, status := range statuses {
		if status == StatusDiscarded {
			return StatusDiscarded
		}
		if status != StatusFinished {
			allFinished = false
		}
		if status == StatusInProgress || status == StatusFinished {
			anyProgress = true
		}
	}
	if allFinished {
		return StatusFinished
	}
	if anyProgress {
		return StatusInProgress
	}
	return StatusNotStarted
}

// ParseStatusHint maps raw status strings from imports and webhooks onto the
// lattice. Audible exports use "Listening"/"Completed"; webhook payloads carry
// the canonical names. Unknown values map to the empty status so callers can
// distinguish "no hint" from NotStarted.
func ParseStatusHint(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "listening", "in progress", "started":
		return StatusInProgress
	case "finished", "completed":
		return StatusFinished
	case "not started", "unstarted":
		return StatusNotStarted
	case "la poubelle", "dnf", "discarded":
		return StatusDiscarded
	default:
		return ""
	}
}
