package discussion

import (
	"time"

	"github.com/go-agora/agora/pkg/participant"
)

// Phase is the coarse lifecycle stage of a session.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseOngoing    Phase = "ongoing"
	PhaseConverging Phase = "converging"
	PhaseEnding     Phase = "ending"
	PhaseCompleted  Phase = "completed"
)

// TurnType classifies a contribution.
type TurnType string

const (
	TurnInitial       TurnType = "initial"
	TurnResponse      TurnType = "response"
	TurnSupplement    TurnType = "supplement"
	TurnChallenge     TurnType = "challenge"
	TurnSummary       TurnType = "summary"
	TurnClarification TurnType = "clarification"
)

// Session identifies one discussion. Mutated only by appending rounds/turns
// through the Context; terminated by a stop decision or a hard limit.
type Session struct {
	ID                  string                      `json:"id"`
	Topic               string                      `json:"topic"`
	Phase               Phase                       `json:"phase"`
	Rounds              []*Round                    `json:"rounds"`
	CurrentParticipants map[participant.ID]struct{} `json:"-"`
	AllParticipants     map[participant.ID]struct{} `json:"-"`
	StartedAt           time.Time                   `json:"started_at"`
	EndedAt             *time.Time                  `json:"ended_at,omitempty"`
}

// Round groups turns sharing a phase. Rounds are a future-facing
// subdivision: the current design closes a round only at session end, so a
// session typically holds one long-running round.
type Round struct {
	Number             int                         `json:"number"`
	TopicOverride      string                      `json:"topic_override,omitempty"`
	ActiveParticipants map[participant.ID]struct{} `json:"-"`
	StartedAt          time.Time                   `json:"started_at"`
	EndedAt            *time.Time                  `json:"ended_at,omitempty"`
}

// SVRSnapshot is the scoring state captured on a turn at append time.
type SVRSnapshot struct {
	Stop       float64 `json:"stop"`
	Value      float64 `json:"value"`
	RepeatRisk float64 `json:"repeat_risk"`
	Confidence float64 `json:"confidence"`
}

// Turn is one contribution. Turns are append-only and immutable once the
// Context has accepted them; Round and Sequence are assigned under the
// Context lock, exactly once.
type Turn struct {
	ID              string         `json:"id"`
	Round           int            `json:"round"`
	Sequence        int            `json:"sequence"`
	ParticipantID   participant.ID `json:"participant_id"`
	ParticipantName string         `json:"participant_name"`
	Type            TurnType       `json:"type"`
	Content         string         `json:"content"`
	RespondingTo    string         `json:"responding_to,omitempty"`
	TriggeredBy     []string       `json:"triggered_by,omitempty"`
	SVR             *SVRSnapshot   `json:"svr,omitempty"`
	Analysis        map[string]any `json:"analysis,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
