package domain

import "context"

// ResultEntry is one row of an event's finishing order.
type ResultEntry struct {
	Position      int    `json:"position"`
	ParticipantID string `json:"participant_id"`
}

// ResultSheet is what the results feed reports for a finished event: an
// ordered finishing list plus named facts (e.g. "fastest_lap" -> participant
// id). Either part may be absent while results are still being compiled.
type ResultSheet struct {
	EventID        string
	FinishingOrder []ResultEntry
	Facts          map[string]string
}

// Fact returns the named fact and whether it was reported.
func (r ResultSheet) Fact(key string) (string, bool) {
	v, ok := r.Facts[key]
	return v, ok
}

// AtPosition returns every participant reported at the given finishing
// position. More than one entry at the same position means the sheet is
// malformed.
func (r ResultSheet) AtPosition(pos int) []string {
	var ids []string
	for _, e := range r.FinishingOrder {
		if e.Position == pos {
			ids = append(ids, e.ParticipantID)
		}
	}
	return ids
}

// ResultsProvider supplies results for finished events. Implementations
// return ErrResultsUnavailable when the feed has nothing (or nothing
// complete) for the event yet; callers retry on a later sweep.
type ResultsProvider interface {
	GetResults(ctx context.Context, eventID string) (ResultSheet, error)
}
