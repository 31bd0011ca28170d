package discussion

import (
	"time"

	"github.com/go-agora/agora/pkg/participant"
)

// ParticipantSummary describes one participant inside a snapshot window.
type ParticipantSummary struct {
	ID            participant.ID `json:"id"`
	Name          string         `json:"name"`
	Role          string         `json:"role,omitempty"`
	TurnsInWindow int            `json:"turns_in_window"`
}

// Metrics are the rolling figures derived by the Context at append time.
type Metrics struct {
	// Balance is 1 minus the normalized coefficient of variation of
	// per-participant turn counts. 1 means perfectly even participation.
	Balance float64 `json:"balance"`
	// Momentum is a decay function of recent inter-turn gaps in [0,1].
	Momentum float64 `json:"momentum"`
	// LastGlobalStop is the mean stop value of the last scoring cycle,
	// fed back into the next cycle's stop computation.
	LastGlobalStop float64   `json:"last_global_stop"`
	LastComputedAt time.Time `json:"last_computed_at"`
}

// Snapshot is an immutable, consistent point-in-time view of the discussion.
// Snapshots are the only thing handed to concurrent scoring work; no scorer
// ever observes a write made after its snapshot was produced.
type Snapshot struct {
	SessionID    string
	Topic        string
	Phase        Phase
	Round        int
	TurnCount    int
	Elapsed      time.Duration
	TakenAt      time.Time
	RecentTurns  []Turn
	Participants map[participant.ID]ParticipantSummary
	Metrics      Metrics
}

// View is one participant's slice of a snapshot, used by its scorer and by
// identifier-mismatch diagnostics.
type View struct {
	ParticipantID participant.ID
	Snapshot      Snapshot
	OwnTurns      []Turn
	OtherTurns    []Turn
	// MatchedTurns counts historical turns attributed to this id across the
	// whole log, not just the window. Useful when an external id does not
	// line up with the author recorded on turns.
	MatchedTurns int
}

// ParticipantView partitions the snapshot window for one participant. An id
// with no turns yet yields an empty-but-valid view (cold start is normal).
func (s Snapshot) ParticipantView(id participant.ID) View {
	v := View{ParticipantID: id, Snapshot: s}
	for _, t := range s.RecentTurns {
		if t.ParticipantID == id {
			v.OwnTurns = append(v.OwnTurns, t)
		} else {
			v.OtherTurns = append(v.OtherTurns, t)
		}
	}
	v.MatchedTurns = len(v.OwnTurns)
	return v
}

// LastTurn returns the most recent turn in the window, if any.
func (s Snapshot) LastTurn() (Turn, bool) {
	if len(s.RecentTurns) == 0 {
		return Turn{}, false
	}
	return s.RecentTurns[len(s.RecentTurns)-1], true
}
